package orchestrator

import (
	"context"
	"fmt"
)

// registerCronJobs wires the daily VaR/drawdown window reset and the
// journal retention prune onto the Orchestrator's cron instance —
// grounded on the teacher's scheduler.Job interface (Name/Run), one
// registration per job rather than a single combined callback so each
// job's failure is logged under its own name.
func (o *Orchestrator) registerCronJobs() error {
	if o.cfg.DailyResetSchedule != "" {
		if _, err := o.cron.AddFunc(o.cfg.DailyResetSchedule, o.runDailyReset); err != nil {
			return fmt.Errorf("register daily reset job: %w", err)
		}
	}
	if o.cfg.PruneSchedule != "" {
		if _, err := o.cron.AddFunc(o.cfg.PruneSchedule, o.runJournalPrune); err != nil {
			return fmt.Errorf("register journal prune job: %w", err)
		}
	}
	return nil
}

// runDailyReset fires at 00:00 UTC: it snapshots current equity as the
// new EquityAtOpen baseline and clears today's realized PnL, so the
// Risk Engine's daily-drawdown gate measures against the fresh day
// rather than accumulating across midnight.
func (o *Orchestrator) runDailyReset() {
	equity := o.store.Snapshot().Portfolio().Equity()
	o.store.ResetDailyWindow(equity)
	o.log.Info().Float64("equity_at_open", equity).Msg("daily risk window reset")
}

// runJournalPrune deletes on-disk journal rows older than the
// configured retention window. Projections are unaffected — they
// already hold the full folded history in memory.
func (o *Orchestrator) runJournalPrune() {
	ctx := context.Background()
	n, err := o.store.PruneOlderThan(ctx, o.cfg.JournalRetentionDays)
	if err != nil {
		o.log.Error().Err(err).Msg("journal prune failed")
		return
	}
	if n > 0 {
		o.log.Info().Int64("rows_pruned", n).Msg("journal retention prune complete")
	}
}
