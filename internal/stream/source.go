// Package stream ingests live price ticks from a streaming source into a
// bounded in-memory feed.
package stream

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// ErrNotConnected is returned by Query when the source has no live connection
var ErrNotConnected = errors.New("streaming source not connected")

// Source is a streaming price source. Query returns the current (symbol, price)
// rows; it is called once per poll cycle.
type Source interface {
	Connect(ctx context.Context, host string, port int) error
	Query(ctx context.Context) ([]models.Quote, error)
	Close() error
}

// QuoteTable holds the latest price per symbol for push-based sources
type QuoteTable struct {
	mu      sync.RWMutex
	rows    map[string]decimal.Decimal
	updated time.Time
}

// NewQuoteTable creates an empty table
func NewQuoteTable() *QuoteTable {
	return &QuoteTable{rows: make(map[string]decimal.Decimal)}
}

// Apply upserts rows. Rows without a symbol or a positive price are ignored.
// It returns the number of rows applied.
func (t *QuoteTable) Apply(quotes ...models.Quote) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, q := range quotes {
		sym := strings.ToUpper(strings.TrimSpace(q.Symbol))
		if sym == "" || !q.Price.IsPositive() {
			continue
		}
		t.rows[sym] = q.Price
		n++
	}
	if n > 0 {
		t.updated = time.Now()
	}
	return n
}

// Rows returns every row sorted by symbol
func (t *QuoteTable) Rows() []models.Quote {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Quote, 0, len(t.rows))
	for sym, px := range t.rows {
		out = append(out, models.Quote{Symbol: sym, Price: px})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of symbols in the table
func (t *QuoteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Updated returns when the table last changed
func (t *QuoteTable) Updated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}
