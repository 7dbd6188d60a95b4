package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/fees"
	"github.com/stateset/stablepay/internal/idempotency"
	"github.com/stateset/stablepay/internal/models"
	"github.com/stateset/stablepay/internal/provider"
	"github.com/stateset/stablepay/internal/recon"
	"github.com/stateset/stablepay/internal/repository/memory"
	"github.com/stateset/stablepay/internal/worker"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	stores   *memory.Stores
	pool     *worker.Pool
	sandbox  *provider.Sandbox
	payments *PaymentService
	refunds  *RefundService
	recons   *ReconciliationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := memory.NewStores()
	pool := worker.NewPool(2)
	sandbox := &provider.Sandbox{}
	guard := idempotency.NewGuard(stores.Keys, time.Minute)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		stores:   stores,
		pool:     pool,
		sandbox:  sandbox,
		payments: NewPaymentService(stores.Transactions, stores.AuditLogs, guard, fees.NewRouter(0), sandbox, pool, log),
		refunds:  NewRefundService(stores.Transactions, stores.Refunds, stores.AuditLogs, guard, sandbox, log),
		recons:   NewReconciliationService(stores.Transactions, stores.Reconciliations, stores.AuditLogs, recon.NewMatcher(decimal.Zero), log),
	}
}

// settle waits for queued captures by draining the worker pool. The fixture
// cannot accept further payments afterwards.
func (f *fixture) settle() { f.pool.Stop() }

func cardPayment(key string) CreatePaymentInput {
	return CreatePaymentInput{
		CustomerID:     "cus_1",
		Amount:         d("499.99"),
		Currency:       "USD",
		Rail:           models.RailCard,
		IdempotencyKey: key,
	}
}

func TestCreatePaymentCard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.payments.Create(ctx, cardPayment(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tx := res.Transaction
	if res.Replayed {
		t.Error("fresh payment reported replay")
	}
	if tx.Status != models.TxnPending {
		t.Errorf("status = %s, want pending", tx.Status)
	}
	if !tx.Fees.Equal(d("7.80")) || !tx.NetAmount.Equal(d("492.19")) {
		t.Errorf("fees = %s net = %s, want 7.80 / 492.19", tx.Fees, tx.NetAmount)
	}
	if !strings.HasPrefix(tx.TransactionNumber, "PAY-") {
		t.Errorf("transaction number = %q", tx.TransactionNumber)
	}
	if tx.EstimatedSettlementDate == nil {
		t.Error("fiat payment missing estimated settlement date")
	}

	f.settle()
	tx, err = f.payments.GetByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.Status != models.TxnSucceeded {
		t.Fatalf("status after capture = %s, want succeeded", tx.Status)
	}
	if tx.ChargeID == nil || !strings.HasPrefix(*tx.ChargeID, "ch_") {
		t.Errorf("charge id = %v", tx.ChargeID)
	}
	if tx.ProcessedAt == nil {
		t.Error("succeeded payment missing processed_at")
	}
}

func TestCreatePaymentReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.payments.Create(ctx, cardPayment("idem-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := f.payments.Create(ctx, cardPayment("idem-1"))
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if !second.Replayed {
		t.Fatal("duplicate key did not replay")
	}
	if second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay returned %s, original was %s", second.Transaction.ID, first.Transaction.ID)
	}

	// Exactly one ledger entry exists for the customer.
	list, err := f.payments.ListByCustomer(ctx, "cus_1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(list))
	}
	f.settle()
}

func TestCreatePaymentRouteErrorReleasesKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	defer f.settle()

	in := cardPayment("idem-1")
	in.Currency = "XYZ"
	if _, err := f.payments.Create(ctx, in); !errors.Is(err, fees.ErrUnsupportedCurrency) {
		t.Fatalf("want ErrUnsupportedCurrency, got %v", err)
	}

	// The key must be free for the corrected retry.
	in.Currency = "USD"
	res, err := f.payments.Create(ctx, in)
	if err != nil {
		t.Fatalf("retry after error: %v", err)
	}
	if res.Replayed {
		t.Fatal("retry after failed request replayed")
	}
}

func TestCreatePaymentRejectsAmountBelowFees(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	defer f.settle()

	in := cardPayment("idem-tiny")
	in.Amount = d("0.01")
	if _, err := f.payments.Create(ctx, in); !errors.Is(err, fees.ErrAmountBelowFeeMinimum) {
		t.Fatalf("want ErrAmountBelowFeeMinimum, got %v", err)
	}

	// Nothing was written and the key is free for a corrected retry.
	in.Amount = d("20.00")
	res, err := f.payments.Create(ctx, in)
	if err != nil {
		t.Fatalf("retry with viable amount: %v", err)
	}
	if res.Replayed {
		t.Fatal("retry after rejected amount replayed")
	}
}

func TestCaptureFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sandbox.CaptureErr = errors.New("card declined")

	res, err := f.payments.Create(ctx, cardPayment(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.settle()

	tx, err := f.payments.GetByID(ctx, res.Transaction.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.Status != models.TxnFailed {
		t.Fatalf("status = %s, want failed", tx.Status)
	}
	if tx.FailureMessage == nil || *tx.FailureMessage != "card declined" {
		t.Errorf("failure message = %v", tx.FailureMessage)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.payments.Create(ctx, cardPayment(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.settle()

	// succeeded -> pending is not a legal move.
	if _, err := f.payments.Transition(ctx, res.Transaction.ID, models.TxnPending); !errors.Is(err, models.ErrInvalidStateTransition) {
		t.Fatalf("want ErrInvalidStateTransition, got %v", err)
	}

	tx, err := f.payments.GetByID(ctx, res.Transaction.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.Status != models.TxnSucceeded {
		t.Fatalf("rejected transition changed status to %s", tx.Status)
	}
}

func TestCreatePaymentStablecoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	defer f.settle()

	res, err := f.payments.Create(ctx, CreatePaymentInput{
		CustomerID: "cus_1",
		Amount:     d("1000"),
		Currency:   "USDC",
		Rail:       models.RailStablecoin,
		Chain:      fees.ChainEthereum,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tx := res.Transaction
	if tx.ProviderOrChain != "ethereum" {
		t.Errorf("provider = %s, want ethereum", tx.ProviderOrChain)
	}
	if tx.RequiredConfirmations != 12 {
		t.Errorf("confirmations = %d, want 12", tx.RequiredConfirmations)
	}
	if tx.EstimatedSettlementDate != nil {
		t.Error("stablecoin payment should not carry a fiat settlement date")
	}
	if !tx.NetAmount.Equal(tx.Amount.Sub(tx.Fees)) {
		t.Errorf("net %s != amount %s - fees %s", tx.NetAmount, tx.Amount, tx.Fees)
	}
}

func TestCreatePaymentWritesAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.payments.Create(ctx, cardPayment("")); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.settle()

	var actions []string
	for _, e := range f.stores.AuditLogs.Entries() {
		actions = append(actions, e.Action)
	}
	if len(actions) < 2 || actions[0] != "created" {
		t.Fatalf("audit actions = %v, want created followed by status_change", actions)
	}
}
