package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one (symbol, price) row returned by a streaming source query.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Tick is one observed price for a symbol, stamped when it was captured.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}

// NewTick stamps a quote with its capture time.
func NewTick(q Quote, at time.Time) Tick {
	return Tick{
		Symbol: q.Symbol,
		Price:  q.Price,
		Time:   at,
	}
}
