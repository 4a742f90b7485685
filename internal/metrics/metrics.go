// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_refresh_runs_total",
		Help: "Completed price refresh runs by outcome.",
	}, []string{"outcome"})

	RefreshRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_refresh_running",
		Help: "1 while a price refresh run is active.",
	})

	PriceUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_price_updates_total",
		Help: "Holdings whose current price was updated and persisted.",
	})

	QuoteLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_quote_lookups_total",
		Help: "Quote service lookups by kind and result.",
	}, []string{"kind", "result"})

	Holdings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_holdings",
		Help: "Holdings in the live portfolio.",
	})

	TicksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_ticks_ingested_total",
		Help: "Ticks delivered to the live feed.",
	})

	StreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_stream_poll_errors_total",
		Help: "Failed streaming source poll cycles.",
	})

	FeedSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_tick_feed_size",
		Help: "Ticks currently retained in the live feed.",
	})
)
