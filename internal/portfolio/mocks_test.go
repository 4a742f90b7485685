package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/portfolio-tracker/internal/events"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/quotes"
)

// mockStore is an in-memory Store that records every write
type mockStore struct {
	mu       sync.Mutex
	rows     map[int]*models.Holding
	saves    int
	updates  []*models.Holding
	deletes  []int
	failNext error
}

func newMockStore(holdings ...*models.Holding) *mockStore {
	m := &mockStore{rows: make(map[int]*models.Holding)}
	for _, h := range holdings {
		m.rows[h.ID] = h.Clone()
	}
	return m
}

func (m *mockStore) takeErr() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *mockStore) SaveHolding(h *models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return err
	}
	m.saves++
	m.rows[h.ID] = h.Clone()
	return nil
}

func (m *mockStore) UpdateHolding(h *models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return err
	}
	if _, ok := m.rows[h.ID]; !ok {
		return errors.New("holding not found")
	}
	m.updates = append(m.updates, h.Clone())
	m.rows[h.ID] = h.Clone()
	return nil
}

func (m *mockStore) DeleteHolding(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return err
	}
	m.deletes = append(m.deletes, id)
	delete(m.rows, id)
	return nil
}

func (m *mockStore) GetAllHoldings() ([]*models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Holding, 0, len(m.rows))
	for _, h := range m.rows {
		out = append(out, h.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockStore) HoldingExists(id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok, nil
}

func (m *mockStore) row(id int) *models.Holding {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.rows[id]; ok {
		return h.Clone()
	}
	return nil
}

func (m *mockStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

// mockQuotes serves fixed prices. Unknown symbols are unavailable.
type mockQuotes struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	transport bool
	gate      chan struct{}
	waiting   int
	singles   []string
	batches   [][]string
}

func newMockQuotes(prices map[string]string) *mockQuotes {
	m := &mockQuotes{prices: make(map[string]decimal.Decimal)}
	for sym, p := range prices {
		m.prices[sym] = decimal.RequireFromString(p)
	}
	return m
}

func (m *mockQuotes) wait() {
	m.mu.Lock()
	gate := m.gate
	if gate != nil {
		m.waiting++
	}
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (m *mockQuotes) blocked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting
}

func (m *mockQuotes) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.singles = append(m.singles, symbol)
	if m.transport {
		return decimal.Zero, fmt.Errorf("%w: connection refused", quotes.ErrTransport)
	}
	if p, ok := m.prices[symbol]; ok {
		return p, nil
	}
	return decimal.Zero, quotes.ErrUnavailable
}

func (m *mockQuotes) BatchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, symbols)
	out := make(map[string]decimal.Decimal)
	if m.transport {
		return out, fmt.Errorf("%w: connection refused", quotes.ErrTransport)
	}
	for _, s := range symbols {
		if p, ok := m.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func (m *mockQuotes) singleCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.singles...)
}

var fixedNow = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

// cachingQuotes serves stale prices unless a live price is asked for
type cachingQuotes struct {
	*mockQuotes
	live *mockQuotes
}

func (c cachingQuotes) LivePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.live.CurrentPrice(ctx, symbol)
}

func holding(id int, symbol string, shares int, purchase, current string) *models.Holding {
	return &models.Holding{
		ID:            id,
		Symbol:        symbol,
		Company:       symbol + " Inc.",
		Shares:        shares,
		PurchasePrice: decimal.RequireFromString(purchase),
		CurrentPrice:  decimal.RequireFromString(current),
		Sector:        "Technology",
	}
}

type fixture struct {
	svc    *Service
	store  *mockStore
	quotes *mockQuotes
	bus    *events.Bus
	events <-chan events.Event
}

func newFixture(t *testing.T, opts Options, prices map[string]string, holdings ...*models.Holding) *fixture {
	t.Helper()
	store := newMockStore(holdings...)
	q := newMockQuotes(prices)
	bus := events.NewBus(zerolog.Nop())
	ch := bus.Subscribe(512)

	svc := NewService(store, q, bus, opts, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	require.NoError(t, svc.Load(context.Background()))
	t.Cleanup(svc.Close)

	return &fixture{svc: svc, store: store, quotes: q, bus: bus, events: ch}
}

// waitTerminal drains events until a refresh run finishes
func (f *fixture) waitTerminal(t *testing.T) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-f.events:
			if e.Type.Terminal() {
				return e
			}
		case <-timeout:
			t.Fatal("refresh run did not finish")
		}
	}
}

func (f *fixture) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-f.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
