// Package portfolio owns the live Holding set and keeps it in sync with the
// store and the quote service.
package portfolio

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/events"
	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/quotes"
	"github.com/trogers1052/portfolio-tracker/internal/valuation"
)

const (
	ModeSingle = "single"
	ModeBatch  = "batch"

	defaultSector = "Unknown"
)

var (
	symbolPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)
	minPrice      = decimal.RequireFromString("0.01")
	maxPrice      = decimal.NewFromInt(10000)
)

// Options tunes refresh runs
type Options struct {
	Mode       string
	Pacing     time.Duration
	BatchSize  int
	BatchDelay time.Duration
}

// SaleReceipt describes a completed sell
type SaleReceipt struct {
	HoldingID  int             `json:"holding_id"`
	Symbol     string          `json:"symbol"`
	Sold       int             `json:"sold"`
	Remaining  int             `json:"remaining"`
	Price      decimal.Decimal `json:"price"`
	Proceeds   decimal.Decimal `json:"proceeds"`
	At         time.Time       `json:"at"`
	Liquidated bool            `json:"liquidated"`
}

// Service is the single owner of the live Holding set. All mutations go through it
// and are persisted through the Store one Holding at a time.
type Service struct {
	store  Store
	quotes quotes.Client
	bus    Publisher
	opts   Options
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	holdings []*models.Holding

	runMu   sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	lastRun *RunResult
	wg      sync.WaitGroup
}

// NewService creates a portfolio service. bus may be nil.
func NewService(store Store, client quotes.Client, bus Publisher, opts Options, log zerolog.Logger) *Service {
	if bus == nil {
		bus = discard{}
	}
	if opts.Mode != ModeBatch {
		opts.Mode = ModeSingle
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Service{
		store:  store,
		quotes: client,
		bus:    bus,
		opts:   opts,
		log:    log.With().Str("component", "portfolio").Logger(),
		now:    time.Now,
	}
}

// Load replaces the live set with the stored Holdings
func (s *Service) Load(ctx context.Context) error {
	holdings, err := s.store.GetAllHoldings()
	if err != nil {
		return fmt.Errorf("failed to load holdings: %w", err)
	}

	s.mu.Lock()
	s.holdings = holdings
	s.mu.Unlock()

	metrics.Holdings.Set(float64(len(holdings)))
	s.log.Info().Int("holdings", len(holdings)).Msg("Portfolio loaded")
	return nil
}

// Holdings returns a snapshot of the live set in enumeration order
func (s *Service) Holdings() []*models.Holding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Holding, len(s.holdings))
	for i, h := range s.holdings {
		out[i] = h.Clone()
	}
	return out
}

// Holding returns a copy of one Holding
func (s *Service) Holding(id int) (*models.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, h := s.find(id); h != nil {
		return h.Clone(), nil
	}
	return nil, ErrNotFound
}

// Totals computes portfolio-level valuation over the live set
func (s *Service) Totals() valuation.Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return valuation.Compute(s.holdings)
}

// Sectors computes per-sector valuation over the live set
func (s *Service) Sectors() []valuation.SectorTotals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return valuation.BySector(s.holdings)
}

// IsDuplicateID reports whether a Holding with id already exists
func (s *Service) IsDuplicateID(id int) (bool, error) {
	s.mu.RLock()
	_, h := s.find(id)
	s.mu.RUnlock()
	if h != nil {
		return true, nil
	}

	exists, err := s.store.HoldingExists(id)
	if err != nil {
		return false, fmt.Errorf("failed to check holding id: %w", err)
	}
	return exists, nil
}

// AddHolding validates and persists a new Holding, then appends it to the live set
func (s *Service) AddHolding(ctx context.Context, h *models.Holding) (*models.Holding, error) {
	if h == nil {
		return nil, invalid("holding", "Holding is required!")
	}
	c := h.Clone()
	c.Symbol = strings.TrimSpace(c.Symbol)
	c.Company = strings.TrimSpace(c.Company)
	c.Sector = strings.TrimSpace(c.Sector)

	if err := validateRequired(c); err != nil {
		return nil, err
	}
	c.Symbol = strings.ToUpper(c.Symbol)

	if c.ID <= 0 {
		return nil, invalid("id", "Stock ID must be greater than zero!")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existing := s.find(c.ID); existing != nil {
		return nil, invalid("id", "Stock with this ID already exists in portfolio!")
	}
	exists, err := s.store.HoldingExists(c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check holding id: %w", err)
	}
	if exists {
		return nil, invalid("id", "Stock with this ID already exists in portfolio!")
	}

	if err := validateValues(c); err != nil {
		return nil, err
	}
	c.PurchasePrice = roundPrice(c.PurchasePrice)
	c.CurrentPrice = roundPrice(c.CurrentPrice)
	if c.Sector == "" {
		c.Sector = defaultSector
	}

	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.store.SaveHolding(c); err != nil {
		return nil, fmt.Errorf("failed to save holding: %w", err)
	}
	s.holdings = append(s.holdings, c)
	metrics.Holdings.Set(float64(len(s.holdings)))

	s.log.Info().Int("id", c.ID).Str("symbol", c.Symbol).Int("shares", c.Shares).Msg("Holding added")
	s.bus.Publish(events.Event{Type: events.HoldingAdded, Holding: c.Clone()})
	return c.Clone(), nil
}

// UpdateShares replaces the share count and purchase price of a Holding
func (s *Service) UpdateShares(ctx context.Context, id, shares int, purchasePrice decimal.Decimal) (*models.Holding, error) {
	if shares <= 0 {
		return nil, invalid("shares", "Shares must be greater than zero!")
	}
	if !purchasePrice.IsPositive() {
		return nil, invalid("purchase_price", "Purchase price must be greater than zero!")
	}
	if err := validatePrice("purchase_price", purchasePrice); err != nil {
		return nil, err
	}
	purchasePrice = roundPrice(purchasePrice)

	s.mu.Lock()
	defer s.mu.Unlock()

	i, h := s.find(id)
	if h == nil {
		return nil, ErrNotFound
	}

	c := h.Clone()
	c.Shares = shares
	c.PurchasePrice = purchasePrice
	c.UpdatedAt = s.now()
	if err := s.store.UpdateHolding(c); err != nil {
		return nil, fmt.Errorf("failed to update holding: %w", err)
	}
	s.holdings[i] = c

	s.log.Info().Int("id", id).Int("shares", shares).Str("purchase_price", purchasePrice.String()).Msg("Holding updated")
	s.bus.Publish(events.Event{Type: events.HoldingUpdated, Holding: c.Clone()})
	return c.Clone(), nil
}

// SellShares sells n shares of a Holding at the live market price. The live price is
// fetched and persisted before n is validated, so a rejected sell still refreshes the
// price. Selling every share removes the Holding.
func (s *Service) SellShares(ctx context.Context, id, n int) (*SaleReceipt, error) {
	s.mu.RLock()
	_, h := s.find(id)
	var symbol string
	if h != nil {
		symbol = h.Symbol
	}
	s.mu.RUnlock()
	if h == nil {
		return nil, ErrNotFound
	}

	price, err := quotes.LivePrice(ctx, s.quotes, symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Sell refused without a live price")
		return nil, fmt.Errorf("%w for %s", ErrPriceUnavailable, symbol)
	}
	price = roundPrice(price)

	s.mu.Lock()
	defer s.mu.Unlock()

	i, current := s.find(id)
	if current == nil {
		return nil, ErrNotFound
	}

	at := s.now()
	priced := current.Clone()
	priced.SetPrice(price, at)
	priced.UpdatedAt = at
	if err := s.store.UpdateHolding(priced); err != nil {
		return nil, fmt.Errorf("failed to persist live price: %w", err)
	}
	s.holdings[i] = priced
	s.bus.Publish(events.Event{Type: events.HoldingUpdated, Holding: priced.Clone()})

	if n <= 0 {
		return nil, invalid("shares", "Shares to sell must be greater than zero!")
	}
	if n > priced.Shares {
		return nil, invalid("shares", fmt.Sprintf("Cannot sell more shares than you own! You own %d shares.", priced.Shares))
	}

	receipt := &SaleReceipt{
		HoldingID: id,
		Symbol:    priced.Symbol,
		Sold:      n,
		Remaining: priced.Shares - n,
		Price:     price,
		Proceeds:  price.Mul(decimal.NewFromInt(int64(n))),
		At:        at,
	}

	if receipt.Remaining == 0 {
		if err := s.store.DeleteHolding(id); err != nil {
			return nil, fmt.Errorf("failed to delete holding: %w", err)
		}
		s.removeAt(i)
		receipt.Liquidated = true
		s.log.Info().Int("id", id).Str("symbol", priced.Symbol).Int("sold", n).Msg("Holding liquidated")
		s.bus.Publish(events.Event{Type: events.HoldingRemoved, Holding: priced.Clone()})
		return receipt, nil
	}

	sold := priced.Clone()
	sold.Shares = receipt.Remaining
	if err := s.store.UpdateHolding(sold); err != nil {
		return nil, fmt.Errorf("failed to update holding: %w", err)
	}
	s.holdings[i] = sold

	s.log.Info().Int("id", id).Str("symbol", sold.Symbol).Int("sold", n).Int("remaining", sold.Shares).Msg("Shares sold")
	s.bus.Publish(events.Event{Type: events.HoldingUpdated, Holding: sold.Clone()})
	return receipt, nil
}

// RemoveHolding deletes a Holding regardless of its share count
func (s *Service) RemoveHolding(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, h := s.find(id)
	if h == nil {
		return ErrNotFound
	}
	if err := s.store.DeleteHolding(id); err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	s.removeAt(i)

	s.log.Info().Int("id", id).Str("symbol", h.Symbol).Msg("Holding removed")
	s.bus.Publish(events.Event{Type: events.HoldingRemoved, Holding: h.Clone()})
	return nil
}

// find must be called with s.mu held
func (s *Service) find(id int) (int, *models.Holding) {
	for i, h := range s.holdings {
		if h.ID == id {
			return i, h
		}
	}
	return -1, nil
}

// removeAt must be called with s.mu held
func (s *Service) removeAt(i int) {
	s.holdings = append(s.holdings[:i:i], s.holdings[i+1:]...)
	metrics.Holdings.Set(float64(len(s.holdings)))
}

func validateRequired(h *models.Holding) error {
	switch {
	case h.Symbol == "":
		return invalid("symbol", "Stock symbol is required!")
	case h.Company == "":
		return invalid("company", "Company name is required!")
	case h.Shares <= 0:
		return invalid("shares", "Number of shares must be greater than zero!")
	case !h.PurchasePrice.IsPositive():
		return invalid("purchase_price", "Purchase price must be greater than zero!")
	case !h.CurrentPrice.IsPositive():
		return invalid("current_price", "Current price must be greater than zero!")
	}
	return nil
}

func validateValues(h *models.Holding) error {
	if !symbolPattern.MatchString(h.Symbol) {
		return invalid("symbol", "Stock symbol must be 1-5 uppercase letters!")
	}
	if err := validatePrice("purchase_price", h.PurchasePrice); err != nil {
		return err
	}
	return validatePrice("current_price", h.CurrentPrice)
}

func validatePrice(field string, price decimal.Decimal) error {
	if price.GreaterThan(maxPrice) {
		return invalid(field, "Price must be less than $10,000!")
	}
	if price.LessThan(minPrice) {
		return invalid(field, "Price must be greater than $0.01!")
	}
	return nil
}

// roundPrice matches the two decimal places the store keeps
func roundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(2)
}
