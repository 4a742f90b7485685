// Package quotes looks up market prices from a remote quote service.
package quotes

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable means no usable price was returned for a symbol.
	// Callers keep the prior price.
	ErrUnavailable = errors.New("quote unavailable")

	// ErrTransport means the quote service could not be reached.
	// Errors wrapping it also match ErrUnavailable.
	ErrTransport = errors.New("quote service unreachable")
)

// Client fetches current prices for symbols
type Client interface {
	// CurrentPrice returns a positive price, or an error matching ErrUnavailable.
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// BatchPrices looks up many symbols in one round trip. Symbols missing from
	// the result are unavailable. It only returns an error (matching ErrTransport)
	// when the service could not be reached at all.
	BatchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// LivePricer is implemented by clients that can skip their cache on request
type LivePricer interface {
	LivePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// LivePrice fetches an uncached price when c supports it, otherwise a regular one
func LivePrice(ctx context.Context, c Client, symbol string) (decimal.Decimal, error) {
	if lp, ok := c.(LivePricer); ok {
		return lp.LivePrice(ctx, symbol)
	}
	return c.CurrentPrice(ctx, symbol)
}

// Chunk deduplicates and upper-cases symbols, then splits them into batches of at most size
func Chunk(symbols []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}

	seen := make(map[string]bool, len(symbols))
	unique := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = Normalize(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		unique = append(unique, s)
	}

	var chunks [][]string
	for i := 0; i < len(unique); i += size {
		end := i + size
		if end > len(unique) {
			end = len(unique)
		}
		chunks = append(chunks, unique[i:end])
	}
	return chunks
}

// Normalize returns the canonical form of a symbol
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return ErrTransport.Error() + ": " + e.err.Error()
}

func (e *transportError) Is(target error) bool {
	return target == ErrTransport || target == ErrUnavailable
}

func (e *transportError) Unwrap() error {
	return e.err
}
