// Package recon matches a window of ledger entries against an externally
// supplied provider statement. Matching is a pure computation over its
// inputs: the matcher never mutates the ledger, and discrepancies are data
// for human follow-up, not errors.
package recon

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/models"
)

// ErrInputInvalid is returned for malformed statement lines (missing id,
// amount, currency or date).
var ErrInputInvalid = errors.New("reconciliation input invalid")

// Matcher holds the fuzzy-matching policy. Tolerance is the maximum absolute
// amount difference accepted in the fuzzy pass; the default of zero requires
// exact amounts.
type Matcher struct {
	Tolerance decimal.Decimal
}

func NewMatcher(tolerance decimal.Decimal) *Matcher {
	return &Matcher{Tolerance: tolerance}
}

// Result partitions both inputs: every internal transaction is either in
// Matches or UnmatchedInternal, every statement line in Matches or
// UnmatchedExternal, and no record appears twice.
type Result struct {
	Matches           []models.Match
	UnmatchedInternal []string
	UnmatchedExternal []string
	Discrepancies     []models.Discrepancy
	MatchRate         decimal.Decimal
}

// Match runs the two-pass matching over one provider period.
//
// Pass 1 pairs by stored charge id against the statement's external id.
// Pass 2 greedily pairs the remainder on identical currency, amount within
// Tolerance and statement date inside [periodStart, periodEnd], choosing the
// closest-by-time candidate; ties break to the earliest statement timestamp.
// Both passes are one-to-one.
func (m *Matcher) Match(internal []models.Transaction, external []models.ExternalTransaction, periodStart, periodEnd time.Time) (Result, error) {
	if err := validateExternal(external); err != nil {
		return Result{}, err
	}

	// Deterministic processing order regardless of snapshot order.
	internal = sortedInternal(internal)

	byExternalID := make(map[string]int, len(external))
	for i, ext := range external {
		byExternalID[ext.ExternalID] = i
	}
	usedExternal := make([]bool, len(external))
	matchedInternal := make([]bool, len(internal))

	var res Result

	// Pass 1: exact by provider reference.
	for i, tx := range internal {
		if tx.ChargeID == nil {
			continue
		}
		j, ok := byExternalID[*tx.ChargeID]
		if !ok || usedExternal[j] {
			continue
		}
		usedExternal[j] = true
		matchedInternal[i] = true
		res.Matches = append(res.Matches, models.Match{
			TransactionID: tx.ID,
			ExternalID:    external[j].ExternalID,
			Exact:         true,
			AmountDelta:   tx.Amount.Sub(external[j].Amount).Abs(),
		})
	}

	// Pass 2: greedy fuzzy on the remainder.
	for i, tx := range internal {
		if matchedInternal[i] {
			continue
		}
		j := m.bestCandidate(tx, external, usedExternal, periodStart, periodEnd)
		if j < 0 {
			continue
		}
		usedExternal[j] = true
		matchedInternal[i] = true
		res.Matches = append(res.Matches, models.Match{
			TransactionID: tx.ID,
			ExternalID:    external[j].ExternalID,
			TimeDelta:     absDuration(internalTime(tx).Sub(external[j].Date)),
			AmountDelta:   tx.Amount.Sub(external[j].Amount).Abs(),
		})
	}

	for i, tx := range internal {
		if matchedInternal[i] {
			continue
		}
		res.UnmatchedInternal = append(res.UnmatchedInternal, tx.ID)
		if tx.Status == models.TxnSucceeded {
			res.Discrepancies = append(res.Discrepancies, models.Discrepancy{
				Kind:          models.DiscrepancyMissingExternal,
				TransactionID: tx.ID,
				Amount:        tx.Amount,
				Currency:      tx.Currency,
				Description:   fmt.Sprintf("succeeded transaction %s has no statement counterpart", tx.TransactionNumber),
			})
		}
	}
	for j, ext := range external {
		if usedExternal[j] {
			continue
		}
		res.UnmatchedExternal = append(res.UnmatchedExternal, ext.ExternalID)
		if ext.Status == "succeeded" {
			res.Discrepancies = append(res.Discrepancies, models.Discrepancy{
				Kind:        models.DiscrepancyMissingInternal,
				ExternalID:  ext.ExternalID,
				Amount:      ext.Amount,
				Currency:    ext.Currency,
				Description: fmt.Sprintf("statement line %s has no ledger counterpart", ext.ExternalID),
			})
		}
	}

	res.MatchRate = matchRate(len(res.Matches), len(internal))
	return res, nil
}

// bestCandidate returns the index of the closest viable statement line for
// tx, or -1. Greedy and single-pass: a candidate taken by an earlier
// transaction is gone.
func (m *Matcher) bestCandidate(tx models.Transaction, external []models.ExternalTransaction, used []bool, periodStart, periodEnd time.Time) int {
	ref := internalTime(tx)
	best := -1
	var bestDelta time.Duration
	for j, ext := range external {
		if used[j] {
			continue
		}
		if ext.Currency != tx.Currency {
			continue
		}
		if tx.Amount.Sub(ext.Amount).Abs().GreaterThan(m.Tolerance) {
			continue
		}
		if ext.Date.Before(periodStart) || ext.Date.After(periodEnd) {
			continue
		}
		delta := absDuration(ref.Sub(ext.Date))
		switch {
		case best < 0,
			delta < bestDelta,
			delta == bestDelta && ext.Date.Before(external[best].Date),
			delta == bestDelta && ext.Date.Equal(external[best].Date) && ext.ExternalID < external[best].ExternalID:
			best, bestDelta = j, delta
		}
	}
	return best
}

func validateExternal(external []models.ExternalTransaction) error {
	for i, ext := range external {
		switch {
		case ext.ExternalID == "":
			return fmt.Errorf("%w: record %d missing external_id", ErrInputInvalid, i)
		case ext.Currency == "":
			return fmt.Errorf("%w: record %d missing currency", ErrInputInvalid, i)
		case ext.Date.IsZero():
			return fmt.Errorf("%w: record %d missing date", ErrInputInvalid, i)
		case ext.Amount.Sign() <= 0:
			return fmt.Errorf("%w: record %d missing or non-positive amount", ErrInputInvalid, i)
		}
	}
	return nil
}

func sortedInternal(in []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool {
		ti, tj := internalTime(out[i]), internalTime(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func internalTime(tx models.Transaction) time.Time {
	if tx.ProcessedAt != nil {
		return *tx.ProcessedAt
	}
	return tx.CreatedAt
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func matchRate(matched, total int) decimal.Decimal {
	if total < 1 {
		total = 1
	}
	return decimal.NewFromInt(int64(matched)).DivRound(decimal.NewFromInt(int64(total)), 4)
}
