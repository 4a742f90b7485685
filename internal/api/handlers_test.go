package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/portfolio-tracker/internal/events"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/portfolio"
	"github.com/trogers1052/portfolio-tracker/internal/stream"
	"github.com/trogers1052/portfolio-tracker/internal/valuation"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ---------------------------------------------------------------------------
// Mock portfolio
// ---------------------------------------------------------------------------

type mockPortfolio struct {
	mu         sync.Mutex
	holdings   []*models.Holding
	err        error
	running    bool
	lastRun    *portfolio.RunResult
	refreshCtx context.Context
	added      *models.Holding
	sold       int
}

func (m *mockPortfolio) Holdings() []*models.Holding {
	return m.holdings
}

func (m *mockPortfolio) Holding(id int) (*models.Holding, error) {
	for _, h := range m.holdings {
		if h.ID == id {
			return h, nil
		}
	}
	return nil, portfolio.ErrNotFound
}

func (m *mockPortfolio) Totals() valuation.Totals {
	return valuation.Compute(m.holdings)
}

func (m *mockPortfolio) Sectors() []valuation.SectorTotals {
	return valuation.BySector(m.holdings)
}

func (m *mockPortfolio) AddHolding(ctx context.Context, h *models.Holding) (*models.Holding, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.added = h
	return h, nil
}

func (m *mockPortfolio) UpdateShares(ctx context.Context, id, shares int, purchasePrice decimal.Decimal) (*models.Holding, error) {
	if m.err != nil {
		return nil, m.err
	}
	h, err := m.Holding(id)
	if err != nil {
		return nil, err
	}
	h.Shares = shares
	h.PurchasePrice = purchasePrice
	return h, nil
}

func (m *mockPortfolio) SellShares(ctx context.Context, id, n int) (*portfolio.SaleReceipt, error) {
	if m.err != nil {
		return nil, m.err
	}
	h, err := m.Holding(id)
	if err != nil {
		return nil, err
	}
	m.sold = n
	return &portfolio.SaleReceipt{
		HoldingID: id,
		Symbol:    h.Symbol,
		Sold:      n,
		Remaining: h.Shares - n,
		Price:     h.CurrentPrice,
		Proceeds:  h.CurrentPrice.Mul(decimal.NewFromInt(int64(n))),
	}, nil
}

func (m *mockPortfolio) RemoveHolding(ctx context.Context, id int) error {
	if m.err != nil {
		return m.err
	}
	_, err := m.Holding(id)
	return err
}

func (m *mockPortfolio) RefreshAll(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshCtx = ctx
	if m.err != nil {
		return "", m.err
	}
	return "run-1", nil
}

func (m *mockPortfolio) Running() bool {
	return m.running
}

func (m *mockPortfolio) LastRun() *portfolio.RunResult {
	return m.lastRun
}

type mockPinger struct{ err error }

func (m mockPinger) Ping() error { return m.err }

type mockRedisPinger struct{ err error }

func (m mockRedisPinger) Ping(ctx context.Context) error { return m.err }

type mockStream struct{ active bool }

func (m mockStream) Active() bool { return m.active }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testHoldings() []*models.Holding {
	return []*models.Holding{
		{ID: 1, Symbol: "AAPL", Company: "Apple Inc.", Shares: 10,
			PurchasePrice: decimal.RequireFromString("150.00"), CurrentPrice: decimal.RequireFromString("175.50"), Sector: "Technology"},
		{ID: 2, Symbol: "JPM", Company: "JPMorgan Chase", Shares: 5,
			PurchasePrice: decimal.RequireFromString("200.00"), CurrentPrice: decimal.RequireFromString("190.00"), Sector: "Financials"},
	}
}

func newTestRouter(p *mockPortfolio, feed TickFeed, bus Subscriber) http.Handler {
	if feed == nil {
		feed = stream.NewFeed(stream.DefaultFeedCapacity)
	}
	if bus == nil {
		bus = events.NewBus(zerolog.Nop())
	}
	h := NewHandler(Dependencies{Portfolio: p, Feed: feed, Events: bus}, zerolog.Nop())
	return SetupRoutes(h)
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ---------------------------------------------------------------------------
// Holdings
// ---------------------------------------------------------------------------

func TestGetHoldings(t *testing.T) {
	router := newTestRouter(&mockPortfolio{holdings: testHoldings()}, nil, nil)

	rec := do(t, router, "GET", "/api/v1/holdings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "AAPL", out[0]["symbol"])
	assert.Equal(t, "1755", out[0]["total_value"])
	assert.Equal(t, "255", out[0]["profit_loss"])
	assert.Equal(t, "+$255.00", out[0]["profit_loss_formatted"])
	assert.Equal(t, "-", out[0]["last_refreshed_formatted"])
}

func TestGetHolding(t *testing.T) {
	router := newTestRouter(&mockPortfolio{holdings: testHoldings()}, nil, nil)

	rec := do(t, router, "GET", "/api/v1/holdings/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "JPM", decode(t, rec)["symbol"])

	rec = do(t, router, "GET", "/api/v1/holdings/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, "GET", "/api/v1/holdings/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddHolding(t *testing.T) {
	p := &mockPortfolio{}
	router := newTestRouter(p, nil, nil)

	body := `{"id":3,"symbol":"msft","company":"Microsoft","shares":4,"purchase_price":"300.00","current_price":310.5,"sector":"Technology"}`
	rec := do(t, router, "POST", "/api/v1/holdings", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NotNil(t, p.added)
	assert.Equal(t, 3, p.added.ID)
	assert.Equal(t, "msft", p.added.Symbol)
	assert.True(t, p.added.PurchasePrice.Equal(decimal.NewFromInt(300)))
	assert.True(t, p.added.CurrentPrice.Equal(decimal.RequireFromString("310.5")))
}

func TestAddHolding_InvalidBody(t *testing.T) {
	router := newTestRouter(&mockPortfolio{}, nil, nil)

	rec := do(t, router, "POST", "/api/v1/holdings", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decode(t, rec)["error"])
}

func TestAddHolding_ValidationError(t *testing.T) {
	p := &mockPortfolio{err: &portfolio.ValidationError{Field: "id", Message: "Stock with this ID already exists in portfolio!"}}
	router := newTestRouter(p, nil, nil)

	rec := do(t, router, "POST", "/api/v1/holdings", `{"id":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, "Stock with this ID already exists in portfolio!", out["error"])
	assert.Equal(t, "id", out["field"])
}

func TestAddHolding_StoreFailure(t *testing.T) {
	router := newTestRouter(&mockPortfolio{err: errors.New("connection reset")}, nil, nil)

	rec := do(t, router, "POST", "/api/v1/holdings", `{"id":1}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode(t, rec)["error"])
}

func TestUpdateHolding(t *testing.T) {
	p := &mockPortfolio{holdings: testHoldings()}
	router := newTestRouter(p, nil, nil)

	rec := do(t, router, "PUT", "/api/v1/holdings/1", `{"shares":20,"purchase_price":"140"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, float64(20), out["shares"])
	assert.Equal(t, "140", out["purchase_price"])
}

func TestSellShares(t *testing.T) {
	p := &mockPortfolio{holdings: testHoldings()}
	router := newTestRouter(p, nil, nil)

	rec := do(t, router, "POST", "/api/v1/holdings/1/sell", `{"shares":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, p.sold)

	out := decode(t, rec)
	assert.Equal(t, float64(6), out["remaining"])
	assert.Equal(t, "702", out["proceeds"])
}

func TestSellShares_PriceUnavailable(t *testing.T) {
	router := newTestRouter(&mockPortfolio{holdings: testHoldings(), err: portfolio.ErrPriceUnavailable}, nil, nil)

	rec := do(t, router, "POST", "/api/v1/holdings/1/sell", `{"shares":4}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRemoveHolding(t *testing.T) {
	router := newTestRouter(&mockPortfolio{holdings: testHoldings()}, nil, nil)

	rec := do(t, router, "DELETE", "/api/v1/holdings/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, "DELETE", "/api/v1/holdings/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------------------------------------------------------------------------
// Portfolio aggregates
// ---------------------------------------------------------------------------

func TestGetSummary(t *testing.T) {
	router := newTestRouter(&mockPortfolio{holdings: testHoldings()}, nil, nil)

	rec := do(t, router, "GET", "/api/v1/portfolio/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, float64(2), out["holdings"])
	assert.Equal(t, "2500", out["total_investment"])
	assert.Equal(t, "2705", out["current_value"])
	assert.Equal(t, "205", out["profit_loss"])
	assert.Equal(t, "Total Investment: $2500.00 | Current Value: $2705.00 | P/L: +205.00 (+8.20%)", out["summary"])
}

func TestGetSummary_Empty(t *testing.T) {
	router := newTestRouter(&mockPortfolio{}, nil, nil)

	rec := do(t, router, "GET", "/api/v1/portfolio/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(0), out["holdings"])
	assert.Equal(t, "0", out["current_value"])
}

func TestGetSectors(t *testing.T) {
	router := newTestRouter(&mockPortfolio{holdings: testHoldings()}, nil, nil)

	rec := do(t, router, "GET", "/api/v1/portfolio/sectors", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "Financials", out[0]["sector"])
	assert.Equal(t, "Technology", out[1]["sector"])
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestStartRefresh(t *testing.T) {
	p := &mockPortfolio{}
	router := newTestRouter(p, nil, nil)

	rec := do(t, router, "POST", "/api/v1/refresh", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "run-1", decode(t, rec)["run_id"])

	// The run context must survive the request
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotNil(t, p.refreshCtx)
	assert.NoError(t, p.refreshCtx.Err())
}

func TestStartRefresh_InProgress(t *testing.T) {
	router := newTestRouter(&mockPortfolio{err: portfolio.ErrRefreshInProgress}, nil, nil)

	rec := do(t, router, "POST", "/api/v1/refresh", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRefresh(t *testing.T) {
	last := &portfolio.RunResult{RunID: "run-0", Mode: "single", Succeeded: true, Updated: 1, Attempted: 2, Summary: "AAPL: $175.50 → $180.00"}
	router := newTestRouter(&mockPortfolio{running: true, lastRun: last}, nil, nil)

	rec := do(t, router, "GET", "/api/v1/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, true, out["running"])
	run, ok := out["last_run"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "run-0", run["run_id"])
	assert.Equal(t, "AAPL: $175.50 → $180.00", run["summary"])
}

func TestGetRefresh_NeverRun(t *testing.T) {
	router := newTestRouter(&mockPortfolio{}, nil, nil)

	out := decode(t, do(t, router, "GET", "/api/v1/refresh", ""))
	assert.Equal(t, false, out["running"])
	assert.Nil(t, out["last_run"])
}

// ---------------------------------------------------------------------------
// Ticks
// ---------------------------------------------------------------------------

func TestGetTicks(t *testing.T) {
	feed := stream.NewFeed(stream.DefaultFeedCapacity)
	at := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	feed.Append([]models.Tick{
		{Symbol: "AAPL", Price: decimal.RequireFromString("187.42"), Time: at},
		{Symbol: "MSFT", Price: decimal.RequireFromString("378.85"), Time: at},
		{Symbol: "NVDA", Price: decimal.RequireFromString("479.89"), Time: at},
	})
	router := newTestRouter(&mockPortfolio{}, feed, nil)

	rec := do(t, router, "GET", "/api/v1/ticks?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Count int           `json:"count"`
		Ticks []models.Tick `json:"ticks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 3, out.Count)
	require.Len(t, out.Ticks, 2)
	assert.Equal(t, "NVDA", out.Ticks[0].Symbol)
	assert.Equal(t, "MSFT", out.Ticks[1].Symbol)
}

func TestGetTicks_InvalidLimit(t *testing.T) {
	router := newTestRouter(&mockPortfolio{}, nil, nil)

	for _, limit := range []string{"0", "-1", "ten"} {
		rec := do(t, router, "GET", "/api/v1/ticks?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthCheck(t *testing.T) {
	h := NewHandler(Dependencies{
		Portfolio: &mockPortfolio{},
		Feed:      stream.NewFeed(10),
		Events:    events.NewBus(zerolog.Nop()),
		DB:        mockPinger{},
		Redis:     mockRedisPinger{err: errors.New("connection refused")},
		Kafka:     true,
		Stream:    mockStream{active: true},
	}, zerolog.Nop())

	rec := do(t, SetupRoutes(h), "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, "healthy", out["status"])
	services := out["services"].(map[string]interface{})
	assert.Equal(t, "healthy", services["postgres"])
	assert.Equal(t, "unhealthy: connection refused", services["redis"])
	assert.Equal(t, "configured", services["kafka"])
	assert.Equal(t, "connected", services["stream"])
}

func TestHealthCheck_DatabaseDown(t *testing.T) {
	h := NewHandler(Dependencies{
		Portfolio: &mockPortfolio{},
		Feed:      stream.NewFeed(10),
		Events:    events.NewBus(zerolog.Nop()),
		DB:        mockPinger{err: errors.New("timeout")},
	}, zerolog.Nop())

	out := decode(t, do(t, SetupRoutes(h), "GET", "/health", ""))
	assert.Equal(t, "degraded", out["status"])
	services := out["services"].(map[string]interface{})
	assert.Equal(t, "not configured", services["redis"])
	assert.Equal(t, "not configured", services["stream"])
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&mockPortfolio{}, nil, nil)

	rec := do(t, router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "portfolio_"))
}

// ---------------------------------------------------------------------------
// Event stream
// ---------------------------------------------------------------------------

func TestStreamEvents(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	server := httptest.NewServer(newTestRouter(&mockPortfolio{}, nil, bus))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, 5*time.Second, time.Millisecond)

	bus.Publish(events.Event{Type: events.RefreshStarted, RunID: "run-7"})
	bus.Publish(events.Event{Type: events.RefreshSucceeded, RunID: "run-7", Outcome: &events.Outcome{Updated: 1, Attempted: 1}})

	var first, second events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	assert.Equal(t, events.RefreshStarted, first.Type)
	assert.Equal(t, events.RefreshSucceeded, second.Type)
	require.NotNil(t, second.Outcome)
	assert.Equal(t, 1, second.Outcome.Updated)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return bus.Subscribers() == 0 }, 5*time.Second, time.Millisecond)
}
