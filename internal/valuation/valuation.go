// Package valuation computes portfolio-level figures from a set of holdings.
// Everything here is stateless and recomputed on demand.
package valuation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Totals holds aggregate figures for a set of holdings
type Totals struct {
	Holdings          int             `json:"holdings"`
	Investment        decimal.Decimal `json:"total_investment"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_pct"`
}

// SectorTotals holds aggregate figures for one sector
type SectorTotals struct {
	Sector string `json:"sector"`
	Totals
}

// Compute aggregates the given holdings. An empty set yields all zeros.
func Compute(holdings []*models.Holding) Totals {
	t := Totals{
		Investment:   decimal.Zero,
		CurrentValue: decimal.Zero,
		ProfitLoss:   decimal.Zero,
	}
	for _, h := range holdings {
		t.Holdings++
		t.Investment = t.Investment.Add(h.Cost())
		t.CurrentValue = t.CurrentValue.Add(h.TotalValue())
		t.ProfitLoss = t.ProfitLoss.Add(h.ProfitLoss())
	}
	t.ProfitLossPercent = percentOf(t.ProfitLoss, t.Investment)
	return t
}

// BySector aggregates holdings per sector, sorted by sector name
func BySector(holdings []*models.Holding) []SectorTotals {
	groups := make(map[string][]*models.Holding)
	for _, h := range holdings {
		groups[h.Sector] = append(groups[h.Sector], h)
	}

	result := make([]SectorTotals, 0, len(groups))
	for sector, hs := range groups {
		result = append(result, SectorTotals{Sector: sector, Totals: Compute(hs)})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Sector < result[j].Sector })
	return result
}

// Summary renders the totals as a single status line
func (t Totals) Summary() string {
	return fmt.Sprintf("Total Investment: $%s | Current Value: $%s | P/L: %s%s (%s%s%%)",
		t.Investment.StringFixed(2), t.CurrentValue.StringFixed(2),
		sign(t.ProfitLoss), t.ProfitLoss.StringFixed(2),
		sign(t.ProfitLossPercent), t.ProfitLossPercent.StringFixed(2),
	)
}

// ROI returns the return on an investment in percent, zero when nothing was invested
func ROI(initial, current decimal.Decimal) decimal.Decimal {
	return percentOf(current.Sub(initial), initial)
}

// BreakEven returns the per-share price needed to cover trading fees
func BreakEven(buyPrice, fees decimal.Decimal, shares int) decimal.Decimal {
	if shares == 0 {
		return decimal.Zero
	}
	return buyPrice.Add(fees.Div(decimal.NewFromInt(int64(shares))))
}

// AveragePrice returns the cost-weighted average of two purchases
func AveragePrice(price1 decimal.Decimal, shares1 int, price2 decimal.Decimal, shares2 int) decimal.Decimal {
	total := shares1 + shares2
	if total == 0 {
		return decimal.Zero
	}
	cost := price1.Mul(decimal.NewFromInt(int64(shares1))).Add(price2.Mul(decimal.NewFromInt(int64(shares2))))
	return cost.Div(decimal.NewFromInt(int64(total)))
}

// PositionSize returns how many whole shares fit a risk budget of riskPercent of balance
func PositionSize(balance, riskPercent, entryPrice decimal.Decimal) int {
	if entryPrice.IsZero() {
		return 0
	}
	risk := balance.Mul(riskPercent.Div(hundred))
	return int(risk.Div(entryPrice).IntPart())
}

func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

func sign(d decimal.Decimal) string {
	if d.IsNegative() {
		return ""
	}
	return "+"
}
