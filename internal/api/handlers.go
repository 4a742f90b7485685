package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/events"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/portfolio"
	"github.com/trogers1052/portfolio-tracker/internal/valuation"
)

const (
	defaultTickLimit = 100
	healthTimeout    = 5 * time.Second
)

// Portfolio is the portfolio service as seen by the handlers
type Portfolio interface {
	Holdings() []*models.Holding
	Holding(id int) (*models.Holding, error)
	Totals() valuation.Totals
	Sectors() []valuation.SectorTotals
	AddHolding(ctx context.Context, h *models.Holding) (*models.Holding, error)
	UpdateShares(ctx context.Context, id, shares int, purchasePrice decimal.Decimal) (*models.Holding, error)
	SellShares(ctx context.Context, id, n int) (*portfolio.SaleReceipt, error)
	RemoveHolding(ctx context.Context, id int) error
	RefreshAll(ctx context.Context) (string, error)
	Running() bool
	LastRun() *portfolio.RunResult
}

// TickFeed is the read side of the live tick feed
type TickFeed interface {
	Latest(n int) []models.Tick
	Len() int
	Capacity() int
}

// Subscriber provides the event stream
type Subscriber interface {
	Subscribe(buffer int) <-chan events.Event
	Unsubscribe(ch <-chan events.Event)
}

// Dependencies holds what the handlers need. Health dependencies are optional.
type Dependencies struct {
	Portfolio Portfolio
	Feed      TickFeed
	Events    Subscriber

	DB     interface{ Ping() error }
	Redis  interface{ Ping(ctx context.Context) error }
	Kafka  bool
	Stream interface{ Active() bool }
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	deps Dependencies
	log  zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(deps Dependencies, log zerolog.Logger) *Handler {
	return &Handler{
		deps: deps,
		log:  log.With().Str("component", "api").Logger(),
	}
}

// HoldingResponse is a Holding with its derived values
type HoldingResponse struct {
	*models.Holding
	TotalValue             decimal.Decimal `json:"total_value"`
	ProfitLoss             decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent      decimal.Decimal `json:"profit_loss_percent"`
	ProfitLossFormatted    string          `json:"profit_loss_formatted"`
	LastRefreshedFormatted string          `json:"last_refreshed_formatted"`
}

func newHoldingResponse(h *models.Holding) HoldingResponse {
	return HoldingResponse{
		Holding:                h,
		TotalValue:             h.TotalValue().Round(2),
		ProfitLoss:             h.ProfitLoss().Round(2),
		ProfitLossPercent:      h.ProfitLossPercent().Round(2),
		ProfitLossFormatted:    h.ProfitLossFormatted(),
		LastRefreshedFormatted: h.LastRefreshedFormatted(),
	}
}

type addHoldingRequest struct {
	ID            int             `json:"id"`
	Symbol        string          `json:"symbol"`
	Company       string          `json:"company"`
	Shares        int             `json:"shares"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Sector        string          `json:"sector"`
}

type updateHoldingRequest struct {
	Shares        int             `json:"shares"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
}

type sellRequest struct {
	Shares int `json:"shares"`
}

// GetHoldings handles GET /holdings
func (h *Handler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings := h.deps.Portfolio.Holdings()
	out := make([]HoldingResponse, len(holdings))
	for i, hd := range holdings {
		out[i] = newHoldingResponse(hd)
	}
	respondJSON(w, http.StatusOK, out)
}

// GetHolding handles GET /holdings/{id}
func (h *Handler) GetHolding(w http.ResponseWriter, r *http.Request) {
	id, ok := holdingID(w, r)
	if !ok {
		return
	}

	hd, err := h.deps.Portfolio.Holding(id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newHoldingResponse(hd))
}

// AddHolding handles POST /holdings
func (h *Handler) AddHolding(w http.ResponseWriter, r *http.Request) {
	var req addHoldingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	added, err := h.deps.Portfolio.AddHolding(r.Context(), &models.Holding{
		ID:            req.ID,
		Symbol:        req.Symbol,
		Company:       req.Company,
		Shares:        req.Shares,
		PurchasePrice: req.PurchasePrice,
		CurrentPrice:  req.CurrentPrice,
		Sector:        req.Sector,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, newHoldingResponse(added))
}

// UpdateHolding handles PUT /holdings/{id}
func (h *Handler) UpdateHolding(w http.ResponseWriter, r *http.Request) {
	id, ok := holdingID(w, r)
	if !ok {
		return
	}

	var req updateHoldingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.deps.Portfolio.UpdateShares(r.Context(), id, req.Shares, req.PurchasePrice)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newHoldingResponse(updated))
}

// SellShares handles POST /holdings/{id}/sell
func (h *Handler) SellShares(w http.ResponseWriter, r *http.Request) {
	id, ok := holdingID(w, r)
	if !ok {
		return
	}

	var req sellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := h.deps.Portfolio.SellShares(r.Context(), id, req.Shares)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// RemoveHolding handles DELETE /holdings/{id}
func (h *Handler) RemoveHolding(w http.ResponseWriter, r *http.Request) {
	id, ok := holdingID(w, r)
	if !ok {
		return
	}

	if err := h.deps.Portfolio.RemoveHolding(r.Context(), id); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSummary handles GET /portfolio/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	totals := h.deps.Portfolio.Totals()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"holdings":         totals.Holdings,
		"total_investment": totals.Investment.Round(2),
		"current_value":    totals.CurrentValue.Round(2),
		"profit_loss":      totals.ProfitLoss.Round(2),
		"profit_loss_pct":  totals.ProfitLossPercent.Round(2),
		"roi":              valuation.ROI(totals.Investment, totals.CurrentValue).Round(2),
		"summary":          totals.Summary(),
	})
}

// GetSectors handles GET /portfolio/sectors
func (h *Handler) GetSectors(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Portfolio.Sectors())
}

// StartRefresh handles POST /refresh
func (h *Handler) StartRefresh(w http.ResponseWriter, r *http.Request) {
	// the run outlives the request
	runID, err := h.deps.Portfolio.RefreshAll(context.WithoutCancel(r.Context()))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// GetRefresh handles GET /refresh
func (h *Handler) GetRefresh(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"running":  h.deps.Portfolio.Running(),
		"last_run": h.deps.Portfolio.LastRun(),
	})
}

// GetTicks handles GET /ticks?limit=N
func (h *Handler) GetTicks(w http.ResponseWriter, r *http.Request) {
	limit := defaultTickLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if c := h.deps.Feed.Capacity(); limit > c {
		limit = c
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": h.deps.Feed.Len(),
		"ticks": h.deps.Feed.Latest(limit),
	})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	services := map[string]string{}
	allHealthy := true

	// Check database
	if h.deps.DB != nil {
		if err := h.deps.DB.Ping(); err != nil {
			services["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			services["postgres"] = "healthy"
		}
	} else {
		services["postgres"] = "not configured"
		allHealthy = false
	}

	// Check Redis
	if h.deps.Redis != nil {
		if err := h.deps.Redis.Ping(ctx); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	if h.deps.Kafka {
		services["kafka"] = "configured"
	} else {
		services["kafka"] = "not configured"
	}

	switch {
	case h.deps.Stream == nil:
		services["stream"] = "not configured"
	case h.deps.Stream.Active():
		services["stream"] = "connected"
	default:
		services["stream"] = "inactive"
	}

	status := "healthy"
	if !allHealthy {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}

func holdingID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid holding id")
		return 0, false
	}
	return id, true
}

// respondErr maps service errors onto status codes
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	var ve *portfolio.ValidationError
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, portfolio.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, portfolio.ErrRefreshInProgress):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, portfolio.ErrPriceUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, portfolio.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
