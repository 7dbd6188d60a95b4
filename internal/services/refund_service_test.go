package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stateset/stablepay/internal/models"
)

// succeededPayment creates a card payment and drains the pool so the
// transaction is captured before the refund under test runs.
func succeededPayment(t *testing.T, f *fixture, amount string) models.Transaction {
	t.Helper()
	ctx := context.Background()
	res, err := f.payments.Create(ctx, CreatePaymentInput{
		CustomerID: "cus_1",
		Amount:     d(amount),
		Currency:   "USD",
		Rail:       models.RailCard,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	f.settle()
	tx, err := f.payments.GetByID(ctx, res.Transaction.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if tx.Status != models.TxnSucceeded {
		t.Fatalf("payment status = %s, want succeeded", tx.Status)
	}
	return tx
}

func TestRefundPartialThenBoundExceeded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tx := succeededPayment(t, f, "500.00")

	res, err := f.refunds.Create(ctx, CreateRefundInput{
		TransactionID: tx.ID,
		Amount:        d("100.00"),
		Reason:        "customer complaint",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	r := res.Refund
	if !strings.HasPrefix(r.RefundNumber, "REF-") {
		t.Errorf("refund number = %q", r.RefundNumber)
	}
	if r.ProviderRef == nil || !strings.HasPrefix(*r.ProviderRef, "re_") {
		t.Errorf("provider ref = %v", r.ProviderRef)
	}

	got, err := f.payments.GetByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.TxnPartiallyRefunded {
		t.Fatalf("status = %s, want partially_refunded", got.Status)
	}

	// 100 + 450 > 500: rejected, ledger untouched.
	if _, err := f.refunds.Create(ctx, CreateRefundInput{
		TransactionID: tx.ID,
		Amount:        d("450.00"),
	}); !errors.Is(err, ErrAmountExceedsAvailable) {
		t.Fatalf("want ErrAmountExceedsAvailable, got %v", err)
	}
	got, err = f.payments.GetByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.TxnPartiallyRefunded {
		t.Errorf("rejected refund changed status to %s", got.Status)
	}
	list, err := f.stores.Refunds.ListByTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("refund rows = %d, want 1", len(list))
	}

	// The remaining 400 exactly exhausts the balance.
	if _, err := f.refunds.Create(ctx, CreateRefundInput{
		TransactionID: tx.ID,
		Amount:        d("400.00"),
	}); err != nil {
		t.Fatalf("final refund: %v", err)
	}
	got, err = f.payments.GetByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.TxnFullyRefunded {
		t.Errorf("status = %s, want fully_refunded", got.Status)
	}
}

func TestRefundFeesProportional(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tx := succeededPayment(t, f, "499.99")

	// Fees on 499.99 are 7.80; a fifth of the amount returns a fifth of the
	// fees.
	res, err := f.refunds.Create(ctx, CreateRefundInput{
		TransactionID: tx.ID,
		Amount:        d("99.998"),
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !res.Refund.RefundedFees.Equal(d("1.56")) {
		t.Errorf("refunded fees = %s, want 1.56", res.Refund.RefundedFees)
	}
	if !res.Refund.NetRefund.Equal(res.Refund.Amount.Sub(res.Refund.RefundedFees)) {
		t.Errorf("net refund %s != amount - refunded fees", res.Refund.NetRefund)
	}
}

func TestRefundReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tx := succeededPayment(t, f, "200.00")

	in := CreateRefundInput{TransactionID: tx.ID, Amount: d("50.00"), IdempotencyKey: "ref-1"}
	first, err := f.refunds.Create(ctx, in)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	second, err := f.refunds.Create(ctx, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.Refund.ID != first.Refund.ID {
		t.Fatalf("replay = %+v, want original refund %s", second, first.Refund.ID)
	}

	list, err := f.stores.Refunds.ListByTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("refund rows = %d, want 1", len(list))
	}
}

func TestRefundRejectsNonRefundableStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sandbox.CaptureErr = errors.New("declined")
	res, err := f.payments.Create(ctx, cardPayment(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.settle()

	if _, err := f.refunds.Create(ctx, CreateRefundInput{
		TransactionID: res.Transaction.ID,
		Amount:        d("10.00"),
	}); !errors.Is(err, ErrInvalidRefundState) {
		t.Fatalf("want ErrInvalidRefundState, got %v", err)
	}
}

func TestRefundRejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tx := succeededPayment(t, f, "100.00")

	for _, amount := range []string{"0", "-5.00"} {
		if _, err := f.refunds.Create(ctx, CreateRefundInput{
			TransactionID: tx.ID,
			Amount:        d(amount),
		}); !errors.Is(err, ErrInvalidRefundAmount) {
			t.Errorf("amount %s: want ErrInvalidRefundAmount, got %v", amount, err)
		}
	}
}
