package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/metrics"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	reconcileRunTimeout = 5 * time.Minute
	reconcilerActor     = "reconciler"
)

// ReconcilerConfig controls which entries are looked at.
type ReconcilerConfig struct {
	// MinAge skips entries a live Transfer may still be awaiting.
	MinAge time.Duration
	// MaxAge is how long a hash may stay unknown to the chain before the
	// entry is failed.
	MaxAge time.Duration
	Batch  int
}

// ReconcileStats summarizes one reconciler pass.
type ReconcileStats struct {
	Checked   int
	Completed int
	Failed    int
	Pending   int
	// Landed counts fallida entries whose transaction was found executed
	// after the confirmation wait gave up.
	Landed int
	Errors int
}

// Reconciler resolves en_proceso entries left behind by a crash or a
// cancelled request, and settles fallida entries whose outcome was unknown
// when they were closed.
type Reconciler struct {
	ledger      ports.LedgerRepository
	chain       ports.ChainGateway
	events      ports.LedgerEventPublisher
	withdrawals ports.WithdrawalRepository
	cfg         ReconcilerConfig
	log         zerolog.Logger
	cron        *cron.Cron
}

// NewReconciler creates a new reconciler. withdrawals may be nil, in which
// case linked withdrawal requests are left alone.
func NewReconciler(
	ledger ports.LedgerRepository,
	chain ports.ChainGateway,
	events ports.LedgerEventPublisher,
	withdrawals ports.WithdrawalRepository,
	cfg ReconcilerConfig,
	log zerolog.Logger,
) *Reconciler {
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Reconciler{
		ledger:      ledger,
		chain:       chain,
		events:      events,
		withdrawals: withdrawals,
		cfg:         cfg,
		log:         log,
	}
}

// Start schedules RunOnce. Overlapping runs are skipped.
func (r *Reconciler) Start(schedule string) error {
	logger := cronLogger{log: r.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileRunTimeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error().Err(err).Msg("reconcile run failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	r.log.Info().Str("schedule", schedule).Msg("reconciler started")
	return nil
}

// Stop halts scheduling and returns a context done when a running pass ends.
func (r *Reconciler) Stop() context.Context {
	if r.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return r.cron.Stop()
}

// RunOnce checks one batch of stale en_proceso entries and one batch of
// unresolved fallida entries against the chain.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	now := time.Now().UTC()
	cutoff := now.Add(-r.cfg.MinAge)

	entries, err := r.ledger.ListStale(ctx, domain.EntryStatusProcessing, cutoff, r.cfg.Batch)
	if err != nil {
		return stats, fmt.Errorf("list stale entries: %w", err)
	}
	for i := range entries {
		entry := &entries[i]
		stats.Checked++
		outcome, err := r.reconcile(ctx, entry, now)
		if err != nil {
			stats.Errors++
			r.log.Warn().Err(err).Str("entry_id", entry.ID.String()).Msg("entry not reconciled")
			continue
		}
		switch outcome {
		case domain.EntryStatusCompleted:
			stats.Completed++
		case domain.EntryStatusFailed:
			stats.Failed++
		default:
			stats.Pending++
		}
	}

	unresolved, err := r.ledger.ListUnresolved(ctx, cutoff, r.cfg.Batch)
	if err != nil {
		return stats, fmt.Errorf("list unresolved entries: %w", err)
	}
	for i := range unresolved {
		entry := &unresolved[i]
		stats.Checked++
		outcome, err := r.settleLate(ctx, entry, now)
		if err != nil {
			stats.Errors++
			r.log.Warn().Err(err).Str("entry_id", entry.ID.String()).Msg("entry not reconciled")
			continue
		}
		switch outcome {
		case "":
			stats.Pending++
		case domain.LateOutcomeLanded:
			stats.Landed++
		default:
			stats.Failed++
		}
	}

	if stats.Checked > 0 {
		r.log.Info().
			Int("checked", stats.Checked).
			Int("completed", stats.Completed).
			Int("failed", stats.Failed).
			Int("landed", stats.Landed).
			Int("pending", stats.Pending).
			Int("errors", stats.Errors).
			Msg("reconcile pass finished")
	}
	return stats, nil
}

// reconcile returns the entry's resulting status; en_proceso means it was
// left for a later pass.
func (r *Reconciler) reconcile(ctx context.Context, entry *domain.LedgerEntry, now time.Time) (domain.EntryStatus, error) {
	md := map[string]any{domain.MetaReconciled: true}
	update := domain.EntryUpdate{Status: domain.EntryStatusFailed, Metadata: md}

	switch {
	case entry.Reference == nil || *entry.Reference == "":
		md[domain.MetaError] = "no transaction hash recorded"
	default:
		receipt, found, err := r.chain.LookupTransaction(ctx, submissionOf(entry))
		switch {
		case errors.Is(err, ports.ErrTransactionExpired):
			md[domain.MetaError] = "transaction expired without inclusion"
		case err != nil:
			return entry.Status, fmt.Errorf("lookup %s: %w", *entry.Reference, err)
		case found && receipt.Status == ports.ReceiptStatusSuccess:
			for k, v := range receiptMetadata(receipt) {
				md[k] = v
			}
			completed := now
			update.Status = domain.EntryStatusCompleted
			update.CompletedAt = &completed
		case found:
			for k, v := range receiptMetadata(receipt) {
				md[k] = v
			}
			md[domain.MetaError] = fmt.Sprintf("transaction ended in %s: %s", receipt.VMState, receipt.Exception)
		case now.Sub(entry.UpdatedAt) > r.cfg.MaxAge:
			md[domain.MetaError] = "transaction not found on chain"
		default:
			return entry.Status, nil
		}
	}

	if err := r.ledger.Update(ctx, entry.ID, domain.EntryStatusProcessing, update); err != nil {
		if errors.Is(err, ports.ErrStaleStatus) {
			// Finished by its own Transfer in the meantime.
			return entry.Status, nil
		}
		return entry.Status, err
	}

	entry.Status = update.Status
	entry.CompletedAt = update.CompletedAt
	r.applied(ctx, entry, md, now)
	metrics.RecordReconciled(string(update.Status))
	r.log.Info().Str("entry_id", entry.ID.String()).Str("status", string(update.Status)).Msg("entry reconciled")

	r.syncWithdrawal(ctx, entry, update.Status == domain.EntryStatusCompleted)
	return update.Status, nil
}

// settleLate looks up a fallida entry closed with an unknown outcome. The
// entry stays fallida; the chain's verdict is recorded under late_outcome.
// It returns the recorded verdict, or "" when the chain cannot tell yet.
func (r *Reconciler) settleLate(ctx context.Context, entry *domain.LedgerEntry, now time.Time) (string, error) {
	md := map[string]any{domain.MetaReconciled: true, domain.MetaOutcomeUnknown: false}

	switch {
	case entry.Reference == nil || *entry.Reference == "":
		md[domain.MetaLateOutcome] = domain.LateOutcomeMissing
	default:
		receipt, found, err := r.chain.LookupTransaction(ctx, submissionOf(entry))
		switch {
		case errors.Is(err, ports.ErrTransactionExpired):
			md[domain.MetaLateOutcome] = domain.LateOutcomeExpired
		case err != nil:
			return "", fmt.Errorf("lookup %s: %w", *entry.Reference, err)
		case found && receipt.Status == ports.ReceiptStatusSuccess:
			for k, v := range receiptMetadata(receipt) {
				md[k] = v
			}
			md[domain.MetaLateOutcome] = domain.LateOutcomeLanded
		case found:
			for k, v := range receiptMetadata(receipt) {
				md[k] = v
			}
			md[domain.MetaLateOutcome] = domain.LateOutcomeFaulted
		case now.Sub(entry.UpdatedAt) > r.cfg.MaxAge:
			md[domain.MetaLateOutcome] = domain.LateOutcomeMissing
		default:
			return "", nil
		}
	}

	update := domain.EntryUpdate{Status: domain.EntryStatusFailed, Metadata: md}
	if err := r.ledger.Update(ctx, entry.ID, domain.EntryStatusFailed, update); err != nil {
		if errors.Is(err, ports.ErrStaleStatus) {
			return "", nil
		}
		return "", err
	}

	outcome := md[domain.MetaLateOutcome].(string)
	r.applied(ctx, entry, md, now)
	metrics.RecordReconciled("late_" + outcome)

	log := r.log.With().Str("entry_id", entry.ID.String()).Str("late_outcome", outcome).Logger()
	if outcome == domain.LateOutcomeLanded {
		log.Warn().Str("tx_hash", *entry.Reference).Msg("transfer recorded as fallida landed on chain")
	} else {
		log.Info().Msg("unresolved entry settled")
	}

	r.syncWithdrawal(ctx, entry, outcome == domain.LateOutcomeLanded)
	return outcome, nil
}

// applied mirrors a written update into entry and publishes it.
func (r *Reconciler) applied(ctx context.Context, entry *domain.LedgerEntry, md map[string]any, now time.Time) {
	entry.UpdatedAt = now
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	for k, v := range md {
		entry.Metadata[k] = v
	}
	if err := r.events.PublishEntry(ctx, entry); err != nil {
		r.log.Warn().Err(err).Str("entry_id", entry.ID.String()).Msg("ledger event not published")
	}
}

// syncWithdrawal settles the en_proceso withdrawal a payout entry belongs
// to: completado when the payout landed, back to pendiente when it did not.
func (r *Reconciler) syncWithdrawal(ctx context.Context, entry *domain.LedgerEntry, landed bool) {
	if r.withdrawals == nil || entry.Type != domain.EntryTypeWithdrawal {
		return
	}
	raw, _ := entry.Metadata["withdrawal_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return
	}

	update := ports.WithdrawalUpdate{Status: domain.WithdrawalStatusPending}
	if landed {
		now := time.Now().UTC()
		by := reconcilerActor
		update = ports.WithdrawalUpdate{
			Status:      domain.WithdrawalStatusCompleted,
			ProcessedBy: &by,
			ProcessedAt: &now,
			TxHash:      entry.Reference,
		}
	}

	log := r.log.With().Str("withdrawal_id", id.String()).Str("entry_id", entry.ID.String()).Logger()
	if err := r.withdrawals.Transition(ctx, id, domain.WithdrawalStatusProcessing, update); err != nil {
		if errors.Is(err, ports.ErrStaleStatus) {
			if landed {
				log.Error().Msg("payout landed for a withdrawal that is no longer en_proceso")
			}
			return
		}
		log.Error().Err(err).Msg("failed to sync withdrawal with reconciled entry")
		return
	}
	log.Info().Str("status", string(update.Status)).Msg("withdrawal synced with reconciled entry")
}

// submissionOf rebuilds the chain submission recorded on entry.
func submissionOf(entry *domain.LedgerEntry) ports.Submission {
	return ports.Submission{
		Hash:            *entry.Reference,
		ValidUntilBlock: domain.ValidUntilBlock(entry.Metadata),
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
