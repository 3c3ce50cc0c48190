// Package orchestrator is the Trading Orchestrator: the control loop
// that drives each subscribed symbol through snapshot → score → decide
// → approve → submit, consumes the Gateway's market event sequence into
// the State Store, and serializes operator commands through a single
// channel — grounded on the teacher's internal/queue/scheduler.go
// ticker-per-job-type loop (one time.Ticker per registered cadence,
// select over stop/ticker.C) generalized from "one ticker per job type"
// to "one ticker per symbol", and on internal/scheduler/event_based_trading.go's
// throttle-lock guard (a last-processed candle timestamp under a mutex
// preventing a tick from re-running against a candle it already handled).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/domain"
	"github.com/aristath/cryptotrader/internal/events"
	"github.com/aristath/cryptotrader/internal/features"
	"github.com/aristath/cryptotrader/internal/journal"
	"github.com/aristath/cryptotrader/internal/models"
	"github.com/aristath/cryptotrader/internal/oms"
	"github.com/aristath/cryptotrader/internal/risk"
	"github.com/aristath/cryptotrader/internal/signal"
)

// Config controls the Orchestrator's cadence and daily maintenance jobs.
type Config struct {
	Symbols                []string
	Timeframe              domain.Timeframe
	ReconcileEvery         time.Duration
	DailyResetSchedule     string // cron expression, default "0 0 0 * * *" (00:00 UTC)
	PruneSchedule          string // cron expression, default "0 0 3 * * *"
	JournalRetentionDays   int
	MaxReturnsWindow       int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeframe:            "1m",
		ReconcileEvery:       30 * time.Second,
		DailyResetSchedule:   "0 0 0 * * *",
		PruneSchedule:        "0 0 3 * * *",
		JournalRetentionDays: 30,
		MaxReturnsWindow:     252,
	}
}

// commandKind tags the variant carried by a command.
type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdHaltAll
	cmdResetCircuit
	cmdSetMode
)

type command struct {
	kind   commandKind
	mode   domain.Mode
	reason string
	done   chan error
}

// Orchestrator owns the per-symbol control loop, the operator command
// channel, and the daily/maintenance cron jobs. All dependencies are
// built and wired by the caller; the Orchestrator never constructs its
// own collaborators.
type Orchestrator struct {
	cfg Config

	features *features.Store
	host     *models.Host
	policy   *signal.Policy
	riskEng  *risk.Engine
	circuit  *risk.CircuitBreaker
	oms      *oms.Manager
	store    *journal.Store
	bus      *events.Bus
	clk      clock.Clock
	log      zerolog.Logger

	cron *cron.Cron

	cmdCh  chan command
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	running   bool
	lastTick  map[string]time.Time
	kelly     map[string]domain.KellyStats
	info      map[string]domain.ExchangeInfo
}

// New builds an Orchestrator. Callers must call Start to begin ticking
// and Stop to drain and shut down cleanly.
func New(
	cfg Config,
	featureStore *features.Store,
	host *models.Host,
	policy *signal.Policy,
	riskEng *risk.Engine,
	circuit *risk.CircuitBreaker,
	omsManager *oms.Manager,
	store *journal.Store,
	bus *events.Bus,
	clk clock.Clock,
	log zerolog.Logger,
) *Orchestrator {
	if cfg.Timeframe == "" {
		cfg.Timeframe = DefaultConfig().Timeframe
	}
	if cfg.MaxReturnsWindow <= 0 {
		cfg.MaxReturnsWindow = DefaultConfig().MaxReturnsWindow
	}
	return &Orchestrator{
		cfg:      cfg,
		features: featureStore,
		host:     host,
		policy:   policy,
		riskEng:  riskEng,
		circuit:  circuit,
		oms:      omsManager,
		store:    store,
		bus:      bus,
		clk:      clk,
		log:      log.With().Str("component", "orchestrator").Logger(),
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		cmdCh:    make(chan command),
		stopCh:   make(chan struct{}),
		lastTick: make(map[string]time.Time),
		kelly:    make(map[string]domain.KellyStats),
		info:     make(map[string]domain.ExchangeInfo),
	}
}

// SetExchangeInfo seeds the tick/lot-size constraints the Risk Engine's
// sizing step needs for symbol. Called once per symbol at boot after the
// Gateway's instrument-info REST call resolves.
func (o *Orchestrator) SetExchangeInfo(symbol string, info domain.ExchangeInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.info[symbol] = info
}

func (o *Orchestrator) infoFor(symbol string) domain.ExchangeInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.info[symbol]
}

// Run starts the command-processing loop and blocks until Stop is
// called or ctx is cancelled. One ticker per symbol drives its control
// task; all command methods below funnel through cmdCh so concurrent
// operator requests apply in arrival order.
func (o *Orchestrator) Run(ctx context.Context) {
	if err := o.registerCronJobs(); err != nil {
		o.log.Error().Err(err).Msg("failed to register maintenance cron jobs")
	}
	o.cron.Start()
	defer o.cron.Stop()

	tickers := make(map[string]*time.Ticker)
	dur, err := o.cfg.Timeframe.Duration()
	if err != nil {
		dur = time.Minute
	}
	for _, symbol := range o.cfg.Symbols {
		tickers[symbol] = time.NewTicker(dur)
	}
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	reconcileEvery := o.cfg.ReconcileEvery
	if reconcileEvery <= 0 {
		reconcileEvery = DefaultConfig().ReconcileEvery
	}
	reconcileTicker := time.NewTicker(reconcileEvery)
	defer reconcileTicker.Stop()

	cases := make(chan string, len(tickers))
	for symbol, t := range tickers {
		go func(symbol string, t *time.Ticker) {
			for {
				select {
				case <-t.C:
					select {
					case cases <- symbol:
					case <-o.stopCh:
						return
					}
				case <-o.stopCh:
					return
				}
			}
		}(symbol, t)
	}

	for {
		select {
		case symbol := <-cases:
			if o.isRunning() {
				o.evaluateSymbol(ctx, symbol)
			}
		case <-reconcileTicker.C:
			if o.isRunning() {
				if err := o.oms.Reconcile(ctx); err != nil {
					o.log.Error().Err(err).Msg("reconciliation failed")
				}
			}
		case cmd := <-o.cmdCh:
			cmd.done <- o.applyCommand(ctx, cmd)
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the control loop cooperatively, draining the OMS queue so
// in-flight submissions complete before returning.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.oms.Stop()
}

func (o *Orchestrator) isRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) send(ctx context.Context, cmd command) error {
	cmd.done = make(chan error, 1)
	select {
	case o.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopCh:
		return fmt.Errorf("orchestrator: stopped")
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start allows the control loop to begin accepting ticks. Journal replay
// must already have completed (Run's caller opens the journal.Store
// before calling Run) so projections are consistent the moment the first
// tick is processed.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.send(ctx, command{kind: cmdStart})
}

// StopTrading halts new ticks without tearing down the control loop
// itself — distinct from Stop, which shuts the Orchestrator down.
func (o *Orchestrator) StopTrading(ctx context.Context) error {
	return o.send(ctx, command{kind: cmdStop})
}

// HaltAll is the operator emergency stop: it trips the circuit, flattens
// every open position, and stops accepting new ticks. It travels through
// the same command channel as every other command, so it runs only after
// the loop has finished whatever tick or command it is processing.
func (o *Orchestrator) HaltAll(ctx context.Context, reason string) error {
	return o.send(ctx, command{kind: cmdHaltAll, reason: reason})
}

// ResetCircuit clears sticky circuit trips and resumes the given mode.
// Always an explicit operator action.
func (o *Orchestrator) ResetCircuit(ctx context.Context, reason string, mode domain.Mode) error {
	return o.send(ctx, command{kind: cmdResetCircuit, reason: reason, mode: mode})
}

// SetMode toggles between live and paper without touching sticky trips.
func (o *Orchestrator) SetMode(ctx context.Context, mode domain.Mode) error {
	return o.send(ctx, command{kind: cmdSetMode, mode: mode})
}

func (o *Orchestrator) applyCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdStart:
		o.mu.Lock()
		o.running = true
		o.mu.Unlock()
		o.log.Info().Msg("orchestrator started")
		return nil

	case cmdStop:
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		o.log.Info().Msg("orchestrator stopped accepting ticks")
		return nil

	case cmdHaltAll:
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		o.circuit.Kill(o.clk.Now(), cmd.reason)
		if _, err := o.store.Append(ctx, domain.JournalEvent{
			Type:          domain.EventCircuitTripped,
			CircuitReason: cmd.reason,
		}); err != nil {
			o.log.Error().Err(err).Msg("failed to journal circuit trip")
		}
		if err := o.oms.FlattenAll(ctx); err != nil {
			o.log.Error().Err(err).Msg("flattenAll encountered errors during haltAll")
			return err
		}
		return nil

	case cmdResetCircuit:
		o.circuit.Reset(cmd.mode)
		o.store.SetCircuitSnapshot(cmd.mode)
		_, err := o.store.Append(ctx, domain.JournalEvent{
			Type:            domain.EventCircuitReset,
			Mode:            cmd.mode,
			CircuitReason:   cmd.reason,
			CircuitOperator: "operator",
		})
		return err

	case cmdSetMode:
		o.circuit.SetMode(cmd.mode)
		_, err := o.store.Append(ctx, domain.JournalEvent{Type: domain.EventModeChanged, Mode: cmd.mode})
		return err

	default:
		return fmt.Errorf("orchestrator: unknown command kind %d", cmd.kind)
	}
}

// evaluateSymbol runs one control-loop pass for symbol: snapshot →
// score → decide → approve → submit. Skips silently (no journal writes
// beyond suppression) when the feature snapshot isn't yet warm or this
// candle has already been processed.
func (o *Orchestrator) evaluateSymbol(ctx context.Context, symbol string) {
	fv, ok := o.features.Snapshot(symbol, o.cfg.Timeframe)
	if !ok || !fv.Complete {
		return
	}

	o.mu.Lock()
	if last, seen := o.lastTick[symbol]; seen && !fv.AsOf.After(last) {
		o.mu.Unlock()
		return
	}
	o.lastTick[symbol] = fv.AsOf
	o.mu.Unlock()

	if o.circuit.IsHalted() {
		return
	}

	scores := o.host.ScoreAll(ctx, fv)
	for i := range scores {
		score := scores[i]
		if _, err := o.store.Append(ctx, domain.JournalEvent{
			Type:       domain.EventModelScored,
			Symbol:     symbol,
			ModelScore: &score,
		}); err != nil {
			o.log.Error().Err(err).Msg("failed to journal model score")
		}
	}

	intent, suppressReason := o.policy.Decide(symbol, scores, fv.AsOf)
	if intent == nil {
		if _, err := o.store.Append(ctx, domain.JournalEvent{
			Type:           domain.EventIntentSuppressed,
			Symbol:         symbol,
			SuppressReason: suppressReason,
		}); err != nil {
			o.log.Error().Err(err).Msg("failed to journal suppressed intent")
		}
		return
	}
	if _, err := o.store.Append(ctx, domain.JournalEvent{
		Type:   domain.EventIntentFormed,
		Symbol: symbol,
		Intent: intent,
	}); err != nil {
		o.log.Error().Err(err).Msg("failed to journal formed intent")
	}

	o.decideAndSubmit(ctx, *intent, fv)
}

// decideAndSubmit runs an already-formed Intent through the Risk Engine
// and, if approved, the OMS. Shared by the reactive tick path and the
// manual operator trade-execute endpoint (which bypasses the Signal
// Engine but never the Risk Engine). A VaR-limit rejection means the
// Engine just tripped the circuit on this call (a prior trip would have
// short-circuited on the mode gate instead), so it additionally
// journals the trip and flattens every open position, the same
// flatten the operator haltAll command runs.
func (o *Orchestrator) decideAndSubmit(ctx context.Context, intent domain.Intent, fv domain.FeatureVector) {
	portfolio := o.store.Snapshot().Portfolio()
	kelly := o.kellyFor(intent.Symbol)
	info := o.infoFor(intent.Symbol)

	atr := 0.0
	if fv.ATR != nil {
		atr = *fv.ATR
	}

	decision := o.riskEng.Evaluate(intent, portfolio, kelly, portfolio.DailyReturns, info, fv.LastClose, atr)

	record := &domain.RiskDecisionRecord{Approved: decision.Approved != nil}
	if decision.Approved != nil {
		record.Order = decision.Approved
	} else {
		record.RejectKind = string(decision.Reason)
	}
	if _, err := o.store.Append(ctx, domain.JournalEvent{
		Type:         domain.EventRiskDecided,
		Symbol:       intent.Symbol,
		RiskDecision: record,
	}); err != nil {
		o.log.Error().Err(err).Msg("failed to journal risk decision")
	}

	if decision.Reason == domain.RejectVaRLimit {
		if _, err := o.store.Append(ctx, domain.JournalEvent{
			Type:          domain.EventCircuitTripped,
			CircuitReason: "var_limit",
		}); err != nil {
			o.log.Error().Err(err).Msg("failed to journal circuit trip")
		}
		if err := o.oms.FlattenAll(ctx); err != nil {
			o.log.Error().Err(err).Str("symbol", intent.Symbol).Msg("flattenAll encountered errors during var trip")
		}
	}

	if decision.Approved == nil {
		return
	}

	if err := o.oms.Submit(ctx, *decision.Approved); err != nil {
		o.log.Error().Err(err).Str("symbol", intent.Symbol).Msg("order submission failed")
		if _, jerr := o.store.Append(ctx, domain.JournalEvent{
			Type:         domain.EventErrorObserved,
			Symbol:       intent.Symbol,
			ErrorMessage: err.Error(),
		}); jerr != nil {
			o.log.Error().Err(jerr).Msg("failed to journal submission error")
		}
	}
}

// ExecuteManualTrade lets the operator HTTP surface force an Intent
// through the Risk Engine and OMS directly, skipping the Signal Engine's
// consensus gate but never the risk checks or journal.
func (o *Orchestrator) ExecuteManualTrade(ctx context.Context, symbol string, side domain.Side, confidence float64) error {
	fv, ok := o.features.Snapshot(symbol, o.cfg.Timeframe)
	if !ok || !fv.Complete {
		return fmt.Errorf("orchestrator: no warm feature snapshot for %s", symbol)
	}
	intent := domain.Intent{Symbol: symbol, Side: side, Confidence: confidence, AsOf: o.clk.Now()}
	if _, err := o.store.Append(ctx, domain.JournalEvent{Type: domain.EventIntentFormed, Symbol: symbol, Intent: &intent}); err != nil {
		o.log.Error().Err(err).Msg("failed to journal manual intent")
	}
	o.decideAndSubmit(ctx, intent, fv)
	return nil
}

func (o *Orchestrator) kellyFor(symbol string) domain.KellyStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.kelly[symbol]
}

func (o *Orchestrator) recordKelly(symbol string, returnPct float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := o.kelly[symbol]
	k.Record(returnPct)
	o.kelly[symbol] = k
}

// HandleMarketEvent folds one event from the Gateway's subscribed
// sequence into feature computation, the State Store, and the OMS's
// view of exchange-observed order state. Runs concurrently with the
// per-symbol tick loop.
func (o *Orchestrator) HandleMarketEvent(ctx context.Context, ev domain.MarketEvent) {
	switch ev.Type {
	case domain.MarketEventKlineClose:
		if ev.Candle == nil {
			return
		}
		candle := *ev.Candle
		if err := candle.Validate(); err != nil {
			o.log.Warn().Err(err).Str("symbol", candle.Symbol).Msg("dropped invalid candle")
			return
		}
		if _, err := o.store.Append(ctx, domain.JournalEvent{
			Type:   domain.EventTickObserved,
			Symbol: candle.Symbol,
			Candle: &candle,
		}); err != nil {
			o.log.Error().Err(err).Msg("failed to journal tick")
		}
		fv, err := o.features.OnCandleClose(candle)
		if err != nil {
			o.log.Error().Err(err).Str("symbol", candle.Symbol).Msg("feature computation failed")
			return
		}
		if _, err := o.store.Append(ctx, domain.JournalEvent{
			Type:     domain.EventFeaturesComputed,
			Symbol:   candle.Symbol,
			Features: &fv,
		}); err != nil {
			o.log.Error().Err(err).Msg("failed to journal features")
		}

	case domain.MarketEventWallet:
		if ev.Wallet != nil {
			o.store.ApplyWallet(ev.Wallet.CoinUSD)
		}

	case domain.MarketEventPosition:
		if ev.Position == nil {
			return
		}
		o.handlePositionUpdate(ctx, *ev.Position)

	case domain.MarketEventOrder:
		if ev.Order != nil {
			o.oms.ApplyExchangeEvent(*ev.Order)
		}
	}
}

// handlePositionUpdate folds an exchange-observed position change into
// the journal and, when it closes a position outright, realizes its PnL
// into today's total and the symbol's Kelly accumulator.
func (o *Orchestrator) handlePositionUpdate(ctx context.Context, pos domain.Position) {
	prev, hadPrev := o.store.Snapshot().Positions[pos.Symbol]
	if hadPrev && prev.Size != 0 && pos.Size == 0 {
		notional := prev.Size * prev.AvgEntryPrice
		if notional != 0 {
			returnPct := prev.UnrealizedPnL / notional
			o.recordKelly(pos.Symbol, returnPct)
			o.store.RecordDailyReturn(returnPct, o.cfg.MaxReturnsWindow)
		}
		o.store.AddRealizedPnL(prev.UnrealizedPnL)
	}
	if _, err := o.store.Append(ctx, domain.JournalEvent{
		Type:     domain.EventPositionUpdated,
		Symbol:   pos.Symbol,
		Position: &pos,
	}); err != nil {
		o.log.Error().Err(err).Msg("failed to journal position update")
	}
}

// EventSink adapts the Orchestrator's journal/bus pipeline to the shape
// oms.Manager expects for order and reconciliation notifications it
// observes outside the reactive tick path (submission results,
// cancel-all, reconciliation diffs).
type EventSink struct {
	store *journal.Store
	bus   *events.Bus
	log   zerolog.Logger
}

// NewEventSink builds the oms.EventSink adapter the Manager is
// constructed with.
func NewEventSink(store *journal.Store, bus *events.Bus, log zerolog.Logger) *EventSink {
	return &EventSink{store: store, bus: bus, log: log.With().Str("component", "oms-sink").Logger()}
}

// RecordOrder journals an order's submission or terminal transition and
// republishes it on the bus for the operator SSE stream.
func (s *EventSink) RecordOrder(order domain.Order) {
	evType := domain.EventOrderUpdated
	if order.Status == domain.OrderSubmitted {
		evType = domain.EventOrderSubmitted
	} else if order.Status.IsTerminal() {
		evType = domain.EventOrderTerminal
	}
	ev, err := s.store.Append(context.Background(), domain.JournalEvent{
		Type:   evType,
		Symbol: order.Symbol,
		Order:  &order,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to journal order event")
		return
	}
	events.PublishJournalEvent(s.bus, "oms", ev)
}

// RecordPosition journals a position change and republishes it. It
// completes the oms.EventSink interface; oms.Manager does not call it
// (its reconciliation compares orders only).
func (s *EventSink) RecordPosition(position domain.Position) {
	ev, err := s.store.Append(context.Background(), domain.JournalEvent{
		Type:     domain.EventPositionUpdated,
		Symbol:   position.Symbol,
		Position: &position,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to journal position event")
		return
	}
	events.PublishJournalEvent(s.bus, "oms", ev)
}

// RecordReconciliationDiff journals a local/exchange state discrepancy
// found during reconciliation.
func (s *EventSink) RecordReconciliationDiff(diff domain.ReconciliationDiff) {
	ev, err := s.store.Append(context.Background(), domain.JournalEvent{
		Type:               domain.EventReconciliationDiff,
		Symbol:             diff.ClientOrderID,
		ReconciliationDiff: &diff,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to journal reconciliation diff")
		return
	}
	events.PublishJournalEvent(s.bus, "oms", ev)
}

var _ oms.EventSink = (*EventSink)(nil)
