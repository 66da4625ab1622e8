package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
	"github.com/maltedev/trendyol-metrics-scraper/internal/runner"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

// HistoryStore is implemented by both the postgres and the sqlite store.
type HistoryStore interface {
	GetProduct(ctx context.Context, id int64) (*database.Product, error)
	MetricHistory(ctx context.Context, productID int64, limit int) ([]database.DailyMetric, error)
	Ping(ctx context.Context) error
}

type RelayStats interface {
	Stats(ctx context.Context) (database.RelayStats, error)
}

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 1000

	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type Handlers struct {
	runs   *RunManager
	store  HistoryStore
	relay  RelayStats
	logger *slog.Logger
}

// NewHandlers takes a nil relay when events are not relayed.
func NewHandlers(runs *RunManager, store HistoryStore, relay RelayStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		runs:   runs,
		store:  store,
		relay:  relay,
		logger: logger.With("component", "api"),
	}
}

type CreateRunRequest struct {
	URLs    []string         `json:"urls"`
	Targets []scraper.Target `json:"targets"`
}

type CreateRunResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	targets := req.Targets
	for _, u := range req.URLs {
		targets = append(targets, scraper.Target{URL: u})
	}
	if len(targets) == 0 {
		h.respondError(w, http.StatusBadRequest, "urls or targets is required")
		return
	}

	targets, err := runner.Clean(targets)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.runs.Submit(r.Context(), "api", targets)
	if err != nil {
		h.logger.Error("failed to submit run", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "failed to queue run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{RunID: run.ID, Status: run.Status})
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

type HistoryResponse struct {
	Product *database.Product      `json:"product"`
	Metrics []database.DailyMetric `json:"metrics"`
}

func (h *Handlers) GetProductMetrics(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxHistoryLimit {
			h.respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
	}

	product, err := h.store.GetProduct(r.Context(), productID)
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get product", "product_id", productID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	metrics, err := h.store.MetricHistory(r.Context(), productID, limit)
	if err != nil {
		h.logger.Error("failed to get metric history", "product_id", productID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}
	if metrics == nil {
		metrics = []database.DailyMetric{}
	}

	h.respondJSON(w, http.StatusOK, HistoryResponse{Product: product, Metrics: metrics})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		health["status"] = "error"
		health["message"] = "database unavailable"
		h.respondJSON(w, http.StatusServiceUnavailable, health)
		return
	}

	if h.relay != nil {
		stats, err := h.relay.Stats(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox stats", "error", err)
		} else {
			health["outbox"] = stats
			if stats.Pending > pendingWarnThreshold {
				health["status"] = "warning"
				health["message"] = "high number of pending outbox events"
			}
			if stats.DeadLetter > deadLetterFailThreshold {
				health["status"] = "error"
				health["message"] = "high number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
