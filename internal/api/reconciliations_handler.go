package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/api/httpx"
	"github.com/stateset/stablepay/internal/api/validate"
	"github.com/stateset/stablepay/internal/models"
	"github.com/stateset/stablepay/internal/services"
)

type externalTransactionRequest struct {
	ExternalID string `json:"external_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Date       string `json:"date"`
	Status     string `json:"status"`
}

type createReconciliationRequest struct {
	ProviderID           string                       `json:"provider_id"`
	PeriodStart          string                       `json:"period_start"`
	PeriodEnd            string                       `json:"period_end"`
	ExternalTransactions []externalTransactionRequest `json:"external_transactions"`
}

// reconciliationSummary is the response shape for a run: counts and rate,
// with the full detail available via GET /reconciliations/{id}.
type reconciliationSummary struct {
	ID                    string          `json:"id"`
	ReconciliationNumber  string          `json:"reconciliation_number"`
	ProviderID            string          `json:"provider_id"`
	Status                string          `json:"status"`
	TotalTransactions     int             `json:"total_transactions"`
	MatchedTransactions   int             `json:"matched_transactions"`
	UnmatchedTransactions int             `json:"unmatched_transactions"`
	DiscrepancyCount      int             `json:"discrepancy_count"`
	MatchRate             decimal.Decimal `json:"match_rate"`
}

func (h *handlers) createReconciliation(w http.ResponseWriter, r *http.Request) {
	var req createReconciliationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	var errs validate.Errs
	if ef := validate.Required("provider_id", req.ProviderID); ef != nil {
		errs = append(errs, *ef)
	}
	start, err := parseTimestamp(req.PeriodStart)
	if err != nil {
		errs = append(errs, validate.ErrField{Field: "period_start", Msg: "must be RFC3339 or YYYY-MM-DD"})
	}
	end, err := parseTimestamp(req.PeriodEnd)
	if err != nil {
		errs = append(errs, validate.ErrField{Field: "period_end", Msg: "must be RFC3339 or YYYY-MM-DD"})
	}
	external := make([]models.ExternalTransaction, 0, len(req.ExternalTransactions))
	for i, ext := range req.ExternalTransactions {
		parsed, efs := parseExternal(i, ext)
		errs = append(errs, efs...)
		external = append(external, parsed)
	}
	if len(errs) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "validation", errs.Error(), errs)
		return
	}

	// A date-only period end means "through the end of that day".
	if len(req.PeriodEnd) == len("2006-01-02") {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}

	run, err := h.recons.Reconcile(r.Context(), services.ReconcileInput{
		ProviderID:           req.ProviderID,
		PeriodStart:          start,
		PeriodEnd:            end,
		ExternalTransactions: external,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, summarize(run))
}

func (h *handlers) listProviderReconciliations(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	runs, err := h.recons.ListByProvider(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]reconciliationSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summarize(run))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *handlers) getReconciliation(w http.ResponseWriter, r *http.Request) {
	run, err := h.recons.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, run)
}

func summarize(run models.ReconciliationRun) reconciliationSummary {
	return reconciliationSummary{
		ID:                    run.ID,
		ReconciliationNumber:  run.ReconciliationNumber,
		ProviderID:            run.ProviderID,
		Status:                string(run.Status),
		TotalTransactions:     run.TotalTransactions,
		MatchedTransactions:   run.MatchedTransactions,
		UnmatchedTransactions: run.UnmatchedTransactions,
		DiscrepancyCount:      run.DiscrepancyCount,
		MatchRate:             run.MatchRate,
	}
}

func parseExternal(i int, ext externalTransactionRequest) (models.ExternalTransaction, validate.Errs) {
	var errs validate.Errs
	field := func(name string) string {
		return "external_transactions[" + strconv.Itoa(i) + "]." + name
	}
	out := models.ExternalTransaction{ExternalID: ext.ExternalID, Status: ext.Status}
	if ef := validate.Required(field("external_id"), ext.ExternalID); ef != nil {
		errs = append(errs, *ef)
	}
	amount, ef := validate.Amount(field("amount"), ext.Amount)
	if ef != nil {
		errs = append(errs, *ef)
	}
	out.Amount = amount
	currency, ef := validate.Currency(field("currency"), ext.Currency)
	if ef != nil {
		errs = append(errs, *ef)
	}
	out.Currency = currency
	date, err := parseTimestamp(ext.Date)
	if err != nil {
		errs = append(errs, validate.ErrField{Field: field("date"), Msg: "must be RFC3339 or YYYY-MM-DD"})
	}
	out.Date = date
	return out, errs
}

func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
