package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stateset/stablepay/internal/api/httpx"
	"github.com/stateset/stablepay/internal/api/validate"
	"github.com/stateset/stablepay/internal/fees"
	"github.com/stateset/stablepay/internal/idempotency"
	"github.com/stateset/stablepay/internal/models"
	"github.com/stateset/stablepay/internal/recon"
	"github.com/stateset/stablepay/internal/repository"
	"github.com/stateset/stablepay/internal/services"
)

type handlers struct {
	payments *services.PaymentService
	refunds  *services.RefundService
	recons   *services.ReconciliationService
	fees     *fees.Router
}

type createPaymentRequest struct {
	CustomerID string            `json:"customer_id"`
	OrderID    *string           `json:"order_id,omitempty"`
	Amount     string            `json:"amount"`
	Currency   string            `json:"currency"`
	Rail       string            `json:"rail,omitempty"`
	Chain      string            `json:"chain,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (h *handlers) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	var errs validate.Errs
	if ef := validate.Required("customer_id", req.CustomerID); ef != nil {
		errs = append(errs, *ef)
	}
	amount, ef := validate.Amount("amount", req.Amount)
	if ef != nil {
		errs = append(errs, *ef)
	}
	currency, ef := validate.Currency("currency", req.Currency)
	if ef != nil {
		errs = append(errs, *ef)
	}
	if req.Rail != "" && !models.Rail(req.Rail).Valid() {
		errs = append(errs, validate.ErrField{Field: "rail", Msg: "must be card, bank or stablecoin"})
	}
	if len(errs) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "validation", errs.Error(), errs)
		return
	}

	res, err := h.payments.Create(r.Context(), services.CreatePaymentInput{
		CustomerID:     req.CustomerID,
		OrderID:        req.OrderID,
		Amount:         amount,
		Currency:       currency,
		Rail:           models.Rail(req.Rail),
		Chain:          fees.Chain(req.Chain),
		Metadata:       req.Metadata,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set("Idempotency-Replayed", "true")
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, res.Transaction)
}

func (h *handlers) getPayment(w http.ResponseWriter, r *http.Request) {
	tx, err := h.payments.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tx)
}

func (h *handlers) listCustomerPayments(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	txs, err := h.payments.ListByCustomer(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	httpx.WriteJSON(w, http.StatusOK, txs)
}

type createRefundRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Reason        string `json:"reason,omitempty"`
}

func (h *handlers) createRefund(w http.ResponseWriter, r *http.Request) {
	var req createRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	var errs validate.Errs
	if ef := validate.Required("transaction_id", req.TransactionID); ef != nil {
		errs = append(errs, *ef)
	}
	amount, ef := validate.Amount("amount", req.Amount)
	if ef != nil {
		errs = append(errs, *ef)
	}
	if len(errs) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "validation", errs.Error(), errs)
		return
	}

	res, err := h.refunds.Create(r.Context(), services.CreateRefundInput{
		TransactionID:  req.TransactionID,
		Amount:         amount,
		Reason:         req.Reason,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set("Idempotency-Replayed", "true")
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, res.Refund)
}

func (h *handlers) quoteFees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, ef := validate.Amount("amount", q.Get("amount"))
	if ef != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation", ef.Msg, ef)
		return
	}
	currency, ef := validate.Currency("currency", q.Get("currency"))
	if ef != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation", ef.Msg, ef)
		return
	}

	quote, err := h.fees.Route(amount, currency, fees.Hint{
		Rail:  models.Rail(q.Get("rail")),
		Chain: fees.Chain(q.Get("chain")),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, quote)
}

func pagination(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// writeDomainError maps service sentinels onto the HTTP error taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "resource not found", nil)
	case errors.Is(err, idempotency.ErrConcurrentRequestInFlight):
		httpx.WriteError(w, http.StatusConflict, "concurrent_request_in_flight", err.Error(), nil)
	case errors.Is(err, models.ErrInvalidStateTransition), errors.Is(err, services.ErrInvalidRefundState):
		httpx.WriteError(w, http.StatusConflict, "invalid_state_transition", err.Error(), nil)
	case errors.Is(err, services.ErrAmountExceedsAvailable):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "amount_exceeds_available", err.Error(), nil)
	case errors.Is(err, services.ErrInvalidRefundAmount):
		httpx.WriteError(w, http.StatusBadRequest, "validation", err.Error(), nil)
	case errors.Is(err, fees.ErrAmountBelowFeeMinimum):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "amount_below_fee_minimum", err.Error(), nil)
	case errors.Is(err, fees.ErrUnsupportedCurrency):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "unsupported_currency", err.Error(), nil)
	case errors.Is(err, fees.ErrUnsupportedRail), errors.Is(err, fees.ErrUnsupportedChain):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "unsupported_rail", err.Error(), nil)
	case errors.Is(err, recon.ErrInputInvalid):
		httpx.WriteError(w, http.StatusBadRequest, "reconciliation_input_invalid", err.Error(), nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
