package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(handler.logRequests)

	// Health check and metrics
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Holding routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/holdings", handler.GetHoldings).Methods("GET")
	api.HandleFunc("/holdings", handler.AddHolding).Methods("POST")
	api.HandleFunc("/holdings/{id}", handler.GetHolding).Methods("GET")
	api.HandleFunc("/holdings/{id}", handler.UpdateHolding).Methods("PUT")
	api.HandleFunc("/holdings/{id}", handler.RemoveHolding).Methods("DELETE")
	api.HandleFunc("/holdings/{id}/sell", handler.SellShares).Methods("POST")

	// Portfolio aggregates
	api.HandleFunc("/portfolio/summary", handler.GetSummary).Methods("GET")
	api.HandleFunc("/portfolio/sectors", handler.GetSectors).Methods("GET")

	// Price refresh
	api.HandleFunc("/refresh", handler.StartRefresh).Methods("POST")
	api.HandleFunc("/refresh", handler.GetRefresh).Methods("GET")

	// Live data
	api.HandleFunc("/ticks", handler.GetTicks).Methods("GET")
	api.HandleFunc("/events", handler.StreamEvents).Methods("GET")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the /events upgrade take over the connection
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
