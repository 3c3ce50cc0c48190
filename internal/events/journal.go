package events

import "github.com/aristath/cryptotrader/internal/domain"

// journalEventTypes maps each domain.JournalEventType to the bus topic
// its wrapped event is published under.
var journalEventTypes = map[domain.JournalEventType]EventType{
	domain.EventTickObserved:       TickObserved,
	domain.EventFeaturesComputed:   FeaturesComputed,
	domain.EventModelScored:        ModelScored,
	domain.EventIntentFormed:       IntentFormed,
	domain.EventIntentSuppressed:   IntentSuppressed,
	domain.EventRiskDecided:        RiskDecided,
	domain.EventOrderSubmitted:     OrderSubmitted,
	domain.EventOrderUpdated:       OrderUpdated,
	domain.EventOrderTerminal:      OrderTerminal,
	domain.EventPositionUpdated:    PositionUpdated,
	domain.EventCircuitTripped:     CircuitTripped,
	domain.EventCircuitReset:       CircuitReset,
	domain.EventModeChanged:        ModeChanged,
	domain.EventErrorObserved:      ErrorObserved,
	domain.EventReconciliationDiff: ReconciliationDiff,
}

// JournalEventData wraps a domain.JournalEvent so it can travel over
// the Bus to the operator SSE stream without the bus package needing
// to know the journal's internal shape beyond this one adapter.
type JournalEventData struct {
	Event domain.JournalEvent
}

// EventType resolves the wrapped event's domain type to its bus topic.
func (j JournalEventData) EventType() EventType {
	if t, ok := journalEventTypes[j.Event.Type]; ok {
		return t
	}
	return ErrorObserved
}

// PublishJournalEvent emits ev on bus under its corresponding topic.
func PublishJournalEvent(bus *Bus, source string, ev domain.JournalEvent) {
	bus.Emit(source, JournalEventData{Event: ev})
}
