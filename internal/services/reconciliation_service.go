package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stateset/stablepay/internal/metrics"
	"github.com/stateset/stablepay/internal/models"
	"github.com/stateset/stablepay/internal/recon"
	"github.com/stateset/stablepay/internal/repository"
)

// ReconciliationService snapshots the ledger for a provider period, runs the
// matcher and persists the immutable run. It never mutates transactions;
// corrections happen through PaymentService.Transition after review.
type ReconciliationService struct {
	trx     repository.Transactions
	recons  repository.Reconciliations
	audit   repository.AuditLogs
	matcher *recon.Matcher
	log     *slog.Logger
}

func NewReconciliationService(trx repository.Transactions, recons repository.Reconciliations, audit repository.AuditLogs, matcher *recon.Matcher, log *slog.Logger) *ReconciliationService {
	if log == nil {
		log = slog.Default()
	}
	return &ReconciliationService{trx: trx, recons: recons, audit: audit, matcher: matcher, log: log}
}

type ReconcileInput struct {
	ProviderID           string
	PeriodStart          time.Time
	PeriodEnd            time.Time
	ExternalTransactions []models.ExternalTransaction
}

// Reconcile runs one reconciliation for the provider period. Batches within
// one run are sequential so fuzzy matching stays deterministic; callers may
// reconcile different providers concurrently.
func (s *ReconciliationService) Reconcile(ctx context.Context, in ReconcileInput) (models.ReconciliationRun, error) {
	if in.ProviderID == "" {
		return models.ReconciliationRun{}, fmt.Errorf("%w: provider_id required", recon.ErrInputInvalid)
	}
	if !in.PeriodEnd.After(in.PeriodStart) {
		return models.ReconciliationRun{}, fmt.Errorf("%w: period_end must be after period_start", recon.ErrInputInvalid)
	}

	snapshot, err := s.trx.ListByProviderAndWindow(ctx, in.ProviderID, in.PeriodStart, in.PeriodEnd)
	if err != nil {
		return models.ReconciliationRun{}, fmt.Errorf("snapshot ledger window: %w", err)
	}

	result, err := s.matcher.Match(snapshot, in.ExternalTransactions, in.PeriodStart, in.PeriodEnd)
	if err != nil {
		return models.ReconciliationRun{}, err
	}

	status := models.ReconCompleted
	if len(result.UnmatchedInternal) > 0 || len(result.UnmatchedExternal) > 0 || len(result.Discrepancies) > 0 {
		status = models.ReconRequiresReview
	}

	now := time.Now().UTC()
	run := models.ReconciliationRun{
		ID:                    uuid.NewString(),
		ReconciliationNumber:  models.ReferenceNumber("REC", now),
		ProviderID:            in.ProviderID,
		PeriodStart:           in.PeriodStart,
		PeriodEnd:             in.PeriodEnd,
		Status:                status,
		TotalTransactions:     len(snapshot),
		MatchedTransactions:   len(result.Matches),
		UnmatchedTransactions: len(result.UnmatchedInternal),
		DiscrepancyCount:      len(result.Discrepancies),
		MatchRate:             result.MatchRate,
		Matches:               result.Matches,
		UnmatchedInternal:     result.UnmatchedInternal,
		UnmatchedExternal:     result.UnmatchedExternal,
		Discrepancies:         result.Discrepancies,
		CreatedAt:             now,
	}

	run, err = s.recons.Create(ctx, run)
	if err != nil {
		return models.ReconciliationRun{}, fmt.Errorf("persist reconciliation run: %w", err)
	}

	entity := run.ID
	if err := s.audit.Create(ctx, models.AuditLog{
		EntityType: "reconciliation",
		EntityID:   &entity,
		Action:     "completed",
		Details: map[string]any{
			"provider_id":   run.ProviderID,
			"matched":       run.MatchedTransactions,
			"unmatched":     run.UnmatchedTransactions,
			"discrepancies": run.DiscrepancyCount,
			"match_rate":    run.MatchRate.String(),
		},
	}); err != nil {
		s.log.Error("audit write", "reconciliation_id", run.ID, "err", err)
	}

	rate, _ := run.MatchRate.Float64()
	metrics.ReconciliationMatchRate.WithLabelValues(run.ProviderID).Set(rate)
	metrics.ReconciliationDiscrepancies.WithLabelValues(run.ProviderID).Add(float64(run.DiscrepancyCount))
	s.log.Info("reconciliation completed",
		"reconciliation_id", run.ID,
		"provider_id", run.ProviderID,
		"total", run.TotalTransactions,
		"matched", run.MatchedTransactions,
		"discrepancies", run.DiscrepancyCount,
		"match_rate", run.MatchRate,
		"status", run.Status,
	)
	return run, nil
}

func (s *ReconciliationService) GetByID(ctx context.Context, id string) (models.ReconciliationRun, error) {
	return s.recons.GetByID(ctx, id)
}

func (s *ReconciliationService) ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]models.ReconciliationRun, error) {
	return s.recons.ListByProvider(ctx, providerID, limit, offset)
}
