package recon

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	periodStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
)

func internalTxn(id, amount, currency string, processed time.Time, status models.TransactionStatus, chargeID string) models.Transaction {
	tx := models.Transaction{
		ID:                id,
		TransactionNumber: "PAY-TEST-" + id,
		Amount:            d(amount),
		Currency:          currency,
		Status:            status,
		ProcessedAt:       &processed,
	}
	if chargeID != "" {
		tx.ChargeID = &chargeID
	}
	return tx
}

func external(id, amount, currency string, date time.Time, status string) models.ExternalTransaction {
	return models.ExternalTransaction{ExternalID: id, Amount: d(amount), Currency: currency, Date: date, Status: status}
}

func TestMatchSingleCleanPair(t *testing.T) {
	// $499.99 USD card transaction reconciled against one statement line of
	// the same amount and day: one match, no discrepancies, rate 1.0.
	m := NewMatcher(decimal.Zero)
	day := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	res, err := m.Match(
		[]models.Transaction{internalTxn("t1", "499.99", "USD", day, models.TxnSucceeded, "")},
		[]models.ExternalTransaction{external("ext1", "499.99", "USD", day.Add(3*time.Hour), "succeeded")},
		periodStart, periodEnd,
	)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("matched = %d, want 1", len(res.Matches))
	}
	if len(res.Discrepancies) != 0 {
		t.Errorf("discrepancies = %d, want 0", len(res.Discrepancies))
	}
	if !res.MatchRate.Equal(d("1")) {
		t.Errorf("match rate = %s, want 1", res.MatchRate)
	}
}

func TestMatchExactPassByChargeID(t *testing.T) {
	m := NewMatcher(decimal.Zero)
	day := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	// Amount differs, but the exact pass pairs on provider reference alone.
	res, err := m.Match(
		[]models.Transaction{internalTxn("t1", "100.00", "USD", day, models.TxnSucceeded, "ch_abc")},
		[]models.ExternalTransaction{external("ch_abc", "99.50", "USD", day, "succeeded")},
		periodStart, periodEnd,
	)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Matches) != 1 || !res.Matches[0].Exact {
		t.Fatalf("want one exact match, got %+v", res.Matches)
	}
	if !res.Matches[0].AmountDelta.Equal(d("0.50")) {
		t.Errorf("amount delta = %s, want 0.50", res.Matches[0].AmountDelta)
	}
}

func TestMatchPartitionProperties(t *testing.T) {
	m := NewMatcher(decimal.Zero)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	internal := []models.Transaction{
		internalTxn("t1", "10.00", "USD", base.Add(1*time.Hour), models.TxnSucceeded, "ch_1"),
		internalTxn("t2", "20.00", "USD", base.Add(2*time.Hour), models.TxnSucceeded, ""),
		internalTxn("t3", "30.00", "EUR", base.Add(3*time.Hour), models.TxnSucceeded, ""),
		internalTxn("t4", "40.00", "USD", base.Add(4*time.Hour), models.TxnFailed, ""),
	}
	ext := []models.ExternalTransaction{
		external("ch_1", "10.00", "USD", base.Add(1*time.Hour), "succeeded"),
		external("e2", "20.00", "USD", base.Add(2*time.Hour+30*time.Minute), "succeeded"),
		external("e5", "55.00", "USD", base.Add(5*time.Hour), "succeeded"),
	}
	res, err := m.Match(internal, ext, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	if got := len(res.Matches) + len(res.UnmatchedInternal); got != len(internal) {
		t.Errorf("matched + unmatched_internal = %d, want %d", got, len(internal))
	}
	if got := len(res.Matches) + len(res.UnmatchedExternal); got != len(ext) {
		t.Errorf("matched + unmatched_external = %d, want %d", got, len(ext))
	}

	seenInternal := map[string]bool{}
	seenExternal := map[string]bool{}
	for _, mt := range res.Matches {
		if seenInternal[mt.TransactionID] || seenExternal[mt.ExternalID] {
			t.Fatalf("record consumed twice: %+v", mt)
		}
		seenInternal[mt.TransactionID] = true
		seenExternal[mt.ExternalID] = true
	}

	if res.MatchRate.LessThan(decimal.Zero) || res.MatchRate.GreaterThan(d("1")) {
		t.Errorf("match rate %s outside [0,1]", res.MatchRate)
	}
	// 2 of 4 internal matched.
	if !res.MatchRate.Equal(d("0.5")) {
		t.Errorf("match rate = %s, want 0.5", res.MatchRate)
	}

	// t3 succeeded without counterpart and e5 succeeded without counterpart
	// are discrepancies; failed t4 is unmatched but not a discrepancy.
	if len(res.Discrepancies) != 2 {
		t.Fatalf("discrepancies = %d, want 2", len(res.Discrepancies))
	}
}

func TestMatchAmountTolerance(t *testing.T) {
	day := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
	internal := []models.Transaction{internalTxn("t1", "100.00", "USD", day, models.TxnSucceeded, "")}
	ext := []models.ExternalTransaction{external("e1", "100.25", "USD", day, "succeeded")}

	strict := NewMatcher(decimal.Zero)
	res, err := strict.Match(internal, ext, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Matches) != 0 {
		t.Error("zero tolerance matched differing amounts")
	}

	loose := NewMatcher(d("0.50"))
	res, err = loose.Match(internal, ext, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Error("tolerance 0.50 did not match amounts 0.25 apart")
	}
}

func TestMatchClosestByTimeWithEarliestTieBreak(t *testing.T) {
	m := NewMatcher(decimal.Zero)
	day := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	internal := []models.Transaction{internalTxn("t1", "75.00", "USD", day, models.TxnSucceeded, "")}
	ext := []models.ExternalTransaction{
		external("far", "75.00", "USD", day.Add(10*time.Hour), "succeeded"),
		external("near", "75.00", "USD", day.Add(1*time.Hour), "succeeded"),
	}
	res, err := m.Match(internal, ext, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Matches[0].ExternalID != "near" {
		t.Errorf("matched %s, want near", res.Matches[0].ExternalID)
	}

	// Equidistant candidates: earliest statement timestamp wins.
	ext = []models.ExternalTransaction{
		external("after", "75.00", "USD", day.Add(2*time.Hour), "succeeded"),
		external("before", "75.00", "USD", day.Add(-2*time.Hour), "succeeded"),
	}
	res, err = m.Match(internal, ext, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Matches[0].ExternalID != "before" {
		t.Errorf("matched %s, want before (earliest timestamp)", res.Matches[0].ExternalID)
	}
}

func TestMatchCurrencyAndWindowFilters(t *testing.T) {
	m := NewMatcher(decimal.Zero)
	day := time.Date(2026, 1, 8, 8, 0, 0, 0, time.UTC)
	internal := []models.Transaction{internalTxn("t1", "60.00", "USD", day, models.TxnSucceeded, "")}
	ext := []models.ExternalTransaction{
		external("wrong_ccy", "60.00", "EUR", day, "succeeded"),
		external("out_of_window", "60.00", "USD", periodEnd.Add(48*time.Hour), "succeeded"),
	}
	res, err := m.Match(internal, ext, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Matches) != 0 {
		t.Errorf("matched across currency or window: %+v", res.Matches)
	}
}

func TestMatchGreedyOneToOne(t *testing.T) {
	m := NewMatcher(decimal.Zero)
	base := time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)
	// Two internal entries compete for one statement line; the earlier
	// internal entry wins and the later stays unmatched.
	internal := []models.Transaction{
		internalTxn("early", "42.00", "USD", base.Add(1*time.Hour), models.TxnSucceeded, ""),
		internalTxn("late", "42.00", "USD", base.Add(2*time.Hour), models.TxnSucceeded, ""),
	}
	ext := []models.ExternalTransaction{external("e1", "42.00", "USD", base.Add(90*time.Minute), "succeeded")}
	res, err := m.Match(internal, ext, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].TransactionID != "early" {
		t.Fatalf("want early matched once, got %+v", res.Matches)
	}
	if len(res.UnmatchedInternal) != 1 || res.UnmatchedInternal[0] != "late" {
		t.Errorf("unmatched internal = %v, want [late]", res.UnmatchedInternal)
	}
}

func TestMatchEmptyInternal(t *testing.T) {
	m := NewMatcher(decimal.Zero)
	res, err := m.Match(nil, nil, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !res.MatchRate.Equal(decimal.Zero) {
		t.Errorf("match rate = %s, want 0 for empty run", res.MatchRate)
	}
}

func TestMatchInputValidation(t *testing.T) {
	m := NewMatcher(decimal.Zero)
	day := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	bad := [][]models.ExternalTransaction{
		{{Amount: d("10"), Currency: "USD", Date: day}},                          // missing id
		{{ExternalID: "e1", Amount: d("10"), Date: day}},                         // missing currency
		{{ExternalID: "e1", Amount: d("10"), Currency: "USD"}},                   // missing date
		{{ExternalID: "e1", Currency: "USD", Date: day}},                         // missing amount
	}
	for i, ext := range bad {
		if _, err := m.Match(nil, ext, periodStart, periodEnd); !errors.Is(err, ErrInputInvalid) {
			t.Errorf("case %d: want ErrInputInvalid, got %v", i, err)
		}
	}
}
