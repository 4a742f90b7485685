package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// newYork is the display zone for refresh timestamps.
	newYork = loadZone("America/New_York")
)

// Holding represents one portfolio position
type Holding struct {
	ID            int             `json:"id"`
	Symbol        string          `json:"symbol"`
	Company       string          `json:"company"`
	Shares        int             `json:"shares"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Sector        string          `json:"sector"`
	LastRefreshed *time.Time      `json:"last_refreshed,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TotalValue returns shares × current price
func (h *Holding) TotalValue() decimal.Decimal {
	return h.CurrentPrice.Mul(decimal.NewFromInt(int64(h.Shares)))
}

// Cost returns shares × purchase price
func (h *Holding) Cost() decimal.Decimal {
	return h.PurchasePrice.Mul(decimal.NewFromInt(int64(h.Shares)))
}

// ProfitLoss returns (current price - purchase price) × shares
func (h *Holding) ProfitLoss() decimal.Decimal {
	return h.CurrentPrice.Sub(h.PurchasePrice).Mul(decimal.NewFromInt(int64(h.Shares)))
}

// ProfitLossPercent returns the price change relative to the purchase price, in percent.
// It is zero when the purchase price is zero.
func (h *Holding) ProfitLossPercent() decimal.Decimal {
	if h.PurchasePrice.IsZero() {
		return decimal.Zero
	}
	return h.CurrentPrice.Sub(h.PurchasePrice).Div(h.PurchasePrice).Mul(hundred)
}

// ProfitLossFormatted renders the profit/loss with an explicit sign, e.g. "+$2550.00"
func (h *Holding) ProfitLossFormatted() string {
	pl := h.ProfitLoss()
	if pl.IsNegative() {
		return "-$" + pl.Neg().StringFixed(2)
	}
	return "+$" + pl.StringFixed(2)
}

// ProfitLossPercentFormatted renders the percentage with an explicit sign, e.g. "+17.00%"
func (h *Holding) ProfitLossPercentFormatted() string {
	pct := h.ProfitLossPercent()
	if pct.IsNegative() {
		return pct.StringFixed(2) + "%"
	}
	return "+" + pct.StringFixed(2) + "%"
}

// LastRefreshedFormatted renders the refresh time in New York time, or "-" if never refreshed
func (h *Holding) LastRefreshedFormatted() string {
	if h.LastRefreshed == nil {
		return "-"
	}
	return h.LastRefreshed.In(newYork).Format("02/01/06 15/04/05")
}

// SetPrice records a freshly observed market price, rounded to cents
func (h *Holding) SetPrice(price decimal.Decimal, at time.Time) {
	h.CurrentPrice = price.Round(2)
	h.LastRefreshed = &at
}

// Clone returns a copy that shares no mutable state with h
func (h *Holding) Clone() *Holding {
	c := *h
	if h.LastRefreshed != nil {
		t := *h.LastRefreshed
		c.LastRefreshed = &t
	}
	return &c
}

func (h *Holding) String() string {
	return fmt.Sprintf("%s x%d @ $%s", h.Symbol, h.Shares, h.CurrentPrice.StringFixed(2))
}

func loadZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
