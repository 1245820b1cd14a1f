package engine

import (
	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/position"
)

// EventType names a position transition.
type EventType string

const (
	EventPositionOpened     EventType = "position.opened"
	EventPositionModified   EventType = "position.modified"
	EventPositionClosed     EventType = "position.closed"
	EventPositionLiquidated EventType = "position.liquidated"
	EventMarkPrice          EventType = "position.marked"
)

// Event is published after a transition commits.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Owner      string          `json:"owner"`
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Side       position.Side   `json:"side"`
	Status     position.Status `json:"status"`
	Size       uint64          `json:"size"`
	Price      uint64          `json:"price,omitempty"`
	Margin     uint64          `json:"margin"`
	PnL        int64           `json:"pnl"`
	At         int64           `json:"at"`
}

// Notifier receives committed events. Publish must not block.
type Notifier interface {
	Publish(Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}

func newEvent(t EventType, p *position.Position, price uint64, pnl int64) Event {
	return Event{
		ID:         common.GenerateEventID(),
		Type:       t,
		Owner:      p.Owner,
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Status:     p.Status,
		Size:       p.Size,
		Price:      price,
		Margin:     p.Margin,
		PnL:        pnl,
		At:         p.UpdatedAt,
	}
}
