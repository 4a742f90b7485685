// Package events carries notifications from background work (refresh runs,
// tick ingestion) and portfolio mutations to whoever is listening.
package events

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// Type identifies an event
type Type string

const (
	RefreshStarted   Type = "refresh.started"
	RefreshProgress  Type = "refresh.progress"
	RefreshSucceeded Type = "refresh.succeeded"
	RefreshFailed    Type = "refresh.failed"
	HoldingAdded     Type = "holding.added"
	HoldingUpdated   Type = "holding.updated"
	HoldingRemoved   Type = "holding.removed"
	TicksDelivered   Type = "ticks.delivered"
)

// Terminal reports whether t ends a refresh run
func (t Type) Terminal() bool {
	return t == RefreshSucceeded || t == RefreshFailed
}

// Event is a single notification. Only the payload matching Type is set.
type Event struct {
	Type     Type            `json:"type"`
	Time     time.Time       `json:"time"`
	RunID    string          `json:"run_id,omitempty"`
	Holding  *models.Holding `json:"holding,omitempty"`
	Progress *Progress       `json:"progress,omitempty"`
	Outcome  *Outcome        `json:"outcome,omitempty"`
	Ticks    []models.Tick   `json:"ticks,omitempty"`
}

// Progress describes one Holding updated during a refresh run
type Progress struct {
	HoldingID int             `json:"holding_id"`
	Symbol    string          `json:"symbol"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Updated   int             `json:"updated"`
	Attempted int             `json:"attempted"`
	Total     int             `json:"total"`
}

// Outcome is the terminal result of a refresh run
type Outcome struct {
	Updated   int    `json:"updated"`
	Attempted int    `json:"attempted"`
	Summary   string `json:"summary,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Key returns the partitioning key for the event: the holding symbol when there is
// one, otherwise the run id
func (e Event) Key() string {
	if e.Holding != nil {
		return e.Holding.Symbol
	}
	if e.Progress != nil {
		return e.Progress.Symbol
	}
	return e.RunID
}
