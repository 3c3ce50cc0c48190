package domain

import "time"

// JournalEventType tags the variant carried by a JournalEvent.
type JournalEventType string

const (
	EventTickObserved     JournalEventType = "TickObserved"
	EventFeaturesComputed JournalEventType = "FeaturesComputed"
	EventModelScored      JournalEventType = "ModelScored"
	EventIntentFormed     JournalEventType = "IntentFormed"
	EventIntentSuppressed JournalEventType = "IntentSuppressed"
	EventRiskDecided      JournalEventType = "RiskDecided"
	EventOrderSubmitted   JournalEventType = "OrderSubmitted"
	EventOrderUpdated     JournalEventType = "OrderUpdated"
	EventOrderTerminal    JournalEventType = "OrderTerminal"
	EventPositionUpdated  JournalEventType = "PositionUpdated"
	EventCircuitTripped   JournalEventType = "CircuitTripped"
	EventCircuitReset     JournalEventType = "CircuitReset"
	EventModeChanged      JournalEventType = "ModeChanged"
	EventErrorObserved    JournalEventType = "ErrorObserved"
	EventReconciliationDiff JournalEventType = "ReconciliationDiff"
)

// JournalEvent is one append-only record. Sequence is assigned by the
// journal store and is dense and strictly increasing.
// Exactly one of the payload fields below is populated, matching its Type.
type JournalEvent struct {
	Sequence  uint64           `json:"sequence"`
	Type      JournalEventType `json:"type"`
	WallTime  time.Time        `json:"wall_time"`
	Symbol    string           `json:"symbol,omitempty"`

	Candle             *Candle             `json:"candle,omitempty"`
	Features           *FeatureVector      `json:"features,omitempty"`
	ModelScore         *ModelScore         `json:"model_score,omitempty"`
	Intent             *Intent             `json:"intent,omitempty"`
	SuppressReason     SuppressReason      `json:"suppress_reason,omitempty"`
	RiskDecision       *RiskDecisionRecord `json:"risk_decision,omitempty"`
	Order              *Order              `json:"order,omitempty"`
	Position           *Position           `json:"position,omitempty"`
	CircuitReason       string             `json:"circuit_reason,omitempty"`
	CircuitOperator     string             `json:"circuit_operator,omitempty"`
	Mode                Mode               `json:"mode,omitempty"`
	ErrorKind           string             `json:"error_kind,omitempty"`
	ErrorMessage        string             `json:"error_message,omitempty"`
	ReconciliationDiff  *ReconciliationDiff `json:"reconciliation_diff,omitempty"`
}

// RiskDecisionRecord captures the Risk Engine's approve/reject outcome
// for one Intent, journaled regardless of the outcome.
type RiskDecisionRecord struct {
	Approved    bool           `json:"approved"`
	Order       *ApprovedOrder `json:"order,omitempty"`
	RejectKind  string         `json:"reject_kind,omitempty"`
	RejectDetail string        `json:"reject_detail,omitempty"`
}
