package domain

import "time"

// RejectReason explains why the Risk Engine refused to turn an Intent
// into an ApprovedOrder. One value per gate in the checked order.
type RejectReason string

const (
	RejectHaltedByCircuit    RejectReason = "halted_by_circuit"
	RejectPositionCountCap   RejectReason = "position_count_cap"
	RejectSymbolExposureCap  RejectReason = "symbol_exposure_cap"
	RejectPortfolioExposure  RejectReason = "portfolio_exposure_cap"
	RejectDailyDrawdown      RejectReason = "daily_drawdown_limit"
	RejectVaRLimit           RejectReason = "var_limit_exceeded"
	RejectLowConfidence      RejectReason = "confidence_floor"
)

// RiskDecision is the Risk Engine's verdict on one Intent: either an
// ApprovedOrder or a typed rejection. Exactly one of Approved/Reason is
// set. Both outcomes are journaled.
type RiskDecision struct {
	Intent   Intent         `json:"intent"`
	Approved *ApprovedOrder `json:"approved,omitempty"`
	Reason   RejectReason   `json:"reason,omitempty"`
	AsOf     time.Time      `json:"as_of"`
}
