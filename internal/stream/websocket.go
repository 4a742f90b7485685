package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	quoteTable = "quote"
	writeWait  = 10 * time.Second
)

type subscribeMessage struct {
	Action string `json:"action"`
	Table  string `json:"table"`
}

type quoteFrame struct {
	Table string `json:"table"`
	Rows  []struct {
		Sym string          `json:"sym"`
		Px  decimal.Decimal `json:"px"`
	} `json:"rows"`
}

// WebSocketSource subscribes to a quote table over a WebSocket and keeps the latest
// row per symbol. Query returns the whole table.
type WebSocketSource struct {
	path  string
	table *QuoteTable
	log   zerolog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	live   bool
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewWebSocketSource creates a source that connects to ws://host:port/path
func NewWebSocketSource(path string, log zerolog.Logger) *WebSocketSource {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &WebSocketSource{
		path:  path,
		table: NewQuoteTable(),
		log:   log.With().Str("component", "websocket_source").Logger(),
	}
}

// Connect dials the endpoint, subscribes to the quote table and starts the read loop
func (s *WebSocketSource) Connect(ctx context.Context, host string, port int) error {
	url := fmt.Sprintf("ws://%s:%d%s", host, port, s.path)
	s.log.Info().Str("url", url).Msg("Connecting to quote stream")

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial quote stream: %w", err)
	}

	writeCtx, cancelWrite := context.WithTimeout(ctx, writeWait)
	err = wsjson.Write(writeCtx, conn, subscribeMessage{Action: "subscribe", Table: quoteTable})
	cancelWrite()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return fmt.Errorf("failed to subscribe to quote table: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.live = true
	s.cancel = cancel
	s.done = done
	s.err = nil
	s.mu.Unlock()

	go s.readMessages(connCtx, conn, done)
	return nil
}

// Query returns the latest row per symbol, sorted by symbol
func (s *WebSocketSource) Query(ctx context.Context) ([]models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.live {
		if s.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotConnected, s.err)
		}
		return nil, ErrNotConnected
	}
	return s.table.Rows(), nil
}

// Close shuts the connection and waits for the read loop to exit
func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	conn, cancel, done := s.conn, s.cancel, s.done
	s.conn, s.cancel, s.live = nil, nil, false
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		s.log.Debug().Err(err).Msg("Quote stream already closed")
	}
	return nil
}

func (s *WebSocketSource) readMessages(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		msgType, message, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case ctx.Err() != nil:
				s.log.Debug().Msg("Read loop cancelled")
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				s.log.Info().Int("status", int(status)).Msg("Quote stream closed")
			default:
				s.log.Error().Err(err).Msg("Quote stream read failed")
			}

			s.mu.Lock()
			if s.conn == conn {
				s.live = false
				s.err = err
			}
			s.mu.Unlock()
			return
		}

		if msgType != websocket.MessageText {
			continue
		}
		var frame quoteFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.log.Warn().Err(err).Msg("Ignoring malformed quote frame")
			continue
		}
		if frame.Table != quoteTable {
			continue
		}

		rows := make([]models.Quote, 0, len(frame.Rows))
		for _, r := range frame.Rows {
			rows = append(rows, models.Quote{Symbol: r.Sym, Price: r.Px})
		}
		n := s.table.Apply(rows...)
		s.log.Debug().Int("rows", n).Msg("Quote frame applied")
	}
}
