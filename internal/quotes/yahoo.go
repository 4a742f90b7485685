package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/config"
	"github.com/trogers1052/portfolio-tracker/internal/metrics"
)

// YahooClient fetches prices from the Yahoo Finance chart and quote endpoints
type YahooClient struct {
	chartURL  string
	quoteURL  string
	userAgent string
	http      *http.Client
	log       zerolog.Logger
}

// NewYahooClient creates a quote client from configuration
func NewYahooClient(cfg config.QuotesConfig, log zerolog.Logger) *YahooClient {
	chartURL := cfg.ChartURL
	if !strings.HasSuffix(chartURL, "/") {
		chartURL += "/"
	}
	return &YahooClient{
		chartURL:  chartURL,
		quoteURL:  cfg.QuoteURL,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		log:       log.With().Str("client", "yahoo").Logger(),
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice *decimal.Decimal `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"chart"`
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol             string           `json:"symbol"`
			RegularMarketPrice *decimal.Decimal `json:"regularMarketPrice"`
		} `json:"result"`
	} `json:"quoteResponse"`
}

// CurrentPrice fetches the regular market price for one symbol
func (c *YahooClient) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = Normalize(symbol)
	if symbol == "" {
		return decimal.Zero, ErrUnavailable
	}

	var body chartResponse
	status, err := c.getJSON(ctx, c.chartURL+url.PathEscape(symbol), &body)
	if err != nil {
		metrics.QuoteLookups.WithLabelValues("single", "transport_error").Inc()
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Quote request failed")
		return decimal.Zero, err
	}
	if status != http.StatusOK {
		metrics.QuoteLookups.WithLabelValues("single", "unavailable").Inc()
		c.log.Debug().Int("status", status).Str("symbol", symbol).Msg("Quote service returned non-200")
		return decimal.Zero, fmt.Errorf("%w: %s: http %d", ErrUnavailable, symbol, status)
	}

	if len(body.Chart.Result) == 0 || body.Chart.Result[0].Meta.RegularMarketPrice == nil {
		metrics.QuoteLookups.WithLabelValues("single", "unavailable").Inc()
		return decimal.Zero, fmt.Errorf("%w: %s: no price in response", ErrUnavailable, symbol)
	}
	price := *body.Chart.Result[0].Meta.RegularMarketPrice
	if !price.IsPositive() {
		metrics.QuoteLookups.WithLabelValues("single", "unavailable").Inc()
		return decimal.Zero, fmt.Errorf("%w: %s: non-positive price %s", ErrUnavailable, symbol, price)
	}

	metrics.QuoteLookups.WithLabelValues("single", "ok").Inc()
	c.log.Debug().Str("symbol", symbol).Str("price", price.String()).Msg("Fetched quote")
	return price, nil
}

// BatchPrices fetches prices for many symbols with one request to the quote endpoint
func (c *YahooClient) BatchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal)
	if len(symbols) == 0 {
		return result, nil
	}

	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = Normalize(s); s != "" {
			normalized = append(normalized, s)
		}
	}

	u := c.quoteURL + "?symbols=" + url.QueryEscape(strings.Join(normalized, ","))

	var body quoteResponse
	status, err := c.getJSON(ctx, u, &body)
	if err != nil {
		metrics.QuoteLookups.WithLabelValues("batch", "transport_error").Inc()
		c.log.Warn().Err(err).Int("symbols", len(normalized)).Msg("Batch quote request failed")
		return result, err
	}
	if status != http.StatusOK {
		metrics.QuoteLookups.WithLabelValues("batch", "unavailable").Inc()
		c.log.Warn().Int("status", status).Msg("Batch quote service returned non-200")
		return result, nil
	}

	for _, q := range body.QuoteResponse.Result {
		if q.Symbol == "" || q.RegularMarketPrice == nil || !q.RegularMarketPrice.IsPositive() {
			continue
		}
		result[Normalize(q.Symbol)] = *q.RegularMarketPrice
	}

	metrics.QuoteLookups.WithLabelValues("batch", "ok").Inc()
	c.log.Debug().
		Int("requested", len(normalized)).
		Int("priced", len(result)).
		Msg("Fetched batch quotes")
	return result, nil
}

// getJSON performs a GET and decodes a 200 response into out. Transport and decode
// failures of the exchange itself are returned as transport errors; decode failures
// of a 200 body are treated as a missing price.
func (c *YahooClient) getJSON(ctx context.Context, u string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &transportError{err: err}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("url", u).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Quote service response")

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Warn().Err(err).Str("url", u).Msg("Failed to decode quote response")
	}
	return resp.StatusCode, nil
}
