package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/crawler"
	"github.com/nalpari/jppc/internal/tariff"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultUsageKWh     = 300
	planQueryTimeout    = 3 * time.Second
)

// PlanHandler serves read-only plan endpoints.
type PlanHandler struct {
	repo    crawler.PlanReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewPlanHandler wires the plan reader and logger.
func NewPlanHandler(repo crawler.PlanReader, logger *zap.Logger) *PlanHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanHandler{repo: repo, timeout: planQueryTimeout, logger: logger}
}

// ListPrices handles GET /v1/prices?source=. It returns {"plans": [...]}.
func (h *PlanHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "plan store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	plans, err := h.repo.ListCurrentPlans(ctx, sourceParam(r))
	if err != nil {
		h.logger.Error("list plans failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}
	if plans == nil {
		plans = []crawler.PersistedPlanRef{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

// Compare handles GET /v1/prices/compare?usage_kwh=&source=. Plans are
// ordered by estimated monthly cost, cheapest first.
func (h *PlanHandler) Compare(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "plan store unavailable")
		return
	}
	usage := float64(defaultUsageKWh)
	if raw := r.URL.Query().Get("usage_kwh"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid usage_kwh")
			return
		}
		usage = v
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	plans, err := h.repo.ListCurrentPlans(ctx, sourceParam(r))
	if err != nil {
		h.logger.Error("list plans for comparison failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usage_kwh":   usage,
		"comparisons": tariff.Compare(plans, usage),
	})
}

// History handles GET /v1/plans/{plan_id}/history?limit=. It returns 404
// when the plan does not exist.
func (h *PlanHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "plan store unavailable")
		return
	}
	planID, err := strconv.ParseInt(chi.URLParam(r, "plan_id"), 10, 64)
	if err != nil || planID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid plan_id")
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	plan, err := h.repo.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, crawler.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		h.logger.Error("get plan failed", zap.Int64("plan_id", planID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load plan")
		return
	}
	history, err := h.repo.ListHistory(ctx, planID, limit)
	if err != nil {
		h.logger.Error("list history failed", zap.Int64("plan_id", planID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if history == nil {
		history = []crawler.PlanHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": plan, "history": history})
}

func sourceParam(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source")))
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
