package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptotrader/internal/events"
)

// EventsStreamHandler streams every bus event to a connected operator
// client as Server-Sent Events — grounded on the teacher's unified
// EventsStreamHandler (type-filtered subscription, 30s heartbeat,
// non-blocking per-connection buffer that drops rather than blocks the
// emitting goroutine), generalized from the teacher's portfolio event
// vocabulary to the journal's tagged-union event types.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler builds a handler for GET /api/events/stream.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{bus: bus, log: log.With().Str("component", "events_stream").Logger()}
}

// allEventTypes is every topic the bus carries, subscribed when the
// client supplies no "types" filter.
var allEventTypes = []events.EventType{
	events.TickObserved,
	events.FeaturesComputed,
	events.ModelScored,
	events.IntentFormed,
	events.IntentSuppressed,
	events.RiskDecided,
	events.OrderSubmitted,
	events.OrderUpdated,
	events.OrderTerminal,
	events.PositionUpdated,
	events.CircuitTripped,
	events.CircuitReset,
	events.ModeChanged,
	events.ErrorObserved,
	events.QuotaWarning,
	events.ReconciliationDiff,
}

// ServeHTTP streams bus events to the client until it disconnects.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var allowed map[events.EventType]bool
	if typesFilter := r.URL.Query().Get("types"); typesFilter != "" {
		allowed = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowed[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	eventCh := make(chan *events.Event, 100)
	handler := func(ev *events.Event) {
		select {
		case eventCh <- ev:
		default:
			h.log.Warn().Str("event_type", string(ev.Type)).Msg("event stream buffer full, dropping event")
		}
	}

	subscribeTo := allEventTypes
	if allowed != nil {
		subscribeTo = make([]events.EventType, 0, len(allowed))
		for t := range allowed {
			subscribeTo = append(subscribeTo, t)
		}
	}
	for _, t := range subscribeTo {
		h.bus.Subscribe(t, handler)
	}

	h.log.Info().Str("remote_addr", r.RemoteAddr).Msg("client connected to event stream")
	fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]interface{}{"type": "connected"}))
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			h.log.Info().Msg("client disconnected from event stream")
			return
		case ev := <-eventCh:
			payload := h.encode(map[string]interface{}{
				"type":      string(ev.Type),
				"source":    ev.Source,
				"timestamp": ev.Timestamp.Format(time.RFC3339Nano),
				"data":      ev.Data,
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]interface{}{"type": "heartbeat", "timestamp": time.Now().Format(time.RFC3339)}))
			flusher.Flush()
		}
	}
}

func (h *EventsStreamHandler) encode(v map[string]interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal sse event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}
