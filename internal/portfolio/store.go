package portfolio

import (
	"github.com/trogers1052/portfolio-tracker/internal/events"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// Store is durable keyed storage for Holdings. Each call is individually durable.
type Store interface {
	SaveHolding(h *models.Holding) error
	UpdateHolding(h *models.Holding) error
	DeleteHolding(id int) error
	GetAllHoldings() ([]*models.Holding, error)
	HoldingExists(id int) (bool, error)
}

// Publisher receives portfolio and refresh events
type Publisher interface {
	Publish(e events.Event)
}

type discard struct{}

func (discard) Publish(events.Event) {}
