package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mtlprog/ctax/internal/domain"
	"github.com/mtlprog/ctax/internal/pipeline"
	"github.com/mtlprog/ctax/internal/report"
	"github.com/mtlprog/ctax/internal/store"
)

// Calculator calculates the tax report and reruns pipeline steps.
type Calculator interface {
	Calculate(ctx context.Context) (report.Report, error)
	Run(ctx context.Context, start int) error
}

// OrderLookup finds stored orders.
type OrderLookup interface {
	Order(ctx context.Context, exchange, sourceID string) (domain.Order, error)
}

// Handler provides HTTP endpoints for the tax report API.
type Handler struct {
	calc   Calculator
	orders OrderLookup
}

// NewHandler creates a new API handler.
func NewHandler(calc Calculator, orders OrderLookup) *Handler {
	return &Handler{calc: calc, orders: orders}
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetReport handles GET /api/v1/report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.calculate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GetSummary handles GET /api/v1/summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.calculate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"taxYear":     rep.TaxYear,
		"taxCurrency": rep.TaxCurrency,
		"ordering":    rep.Ordering,
		"summary":     rep.Summary,
	})
}

// GetBalances handles GET /api/v1/balances.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.calculate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rep.Balances)
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) (report.Report, bool) {
	rep, err := h.calc.Calculate(r.Context())
	if err != nil {
		slog.Error("API: failed to calculate report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to calculate report")
		return report.Report{}, false
	}
	return rep, true
}

// GetOrder handles GET /api/v1/orders/{exchange}/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	exchange, id := r.PathValue("exchange"), r.PathValue("id")
	o, err := h.orders.Order(r.Context(), exchange, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		slog.Error("API: failed to get order", "exchange", exchange, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Run handles POST /api/v1/run?step=N and reruns the pipeline from step N
// (default: rate resolution).
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	step := pipeline.StepRates
	if s := r.URL.Query().Get("step"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < pipeline.StepImport || n > pipeline.StepCalculate {
			writeError(w, http.StatusBadRequest, "invalid step, expected 1, 2 or 3")
			return
		}
		step = n
	}

	if err := h.calc.Run(r.Context(), step); err != nil {
		slog.Error("API: pipeline run failed", "step", step, "error", err)
		writeError(w, http.StatusInternalServerError, "pipeline run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "step": step})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
