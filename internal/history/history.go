package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/jlindqvist/autopatchd/internal/ledger"
)

// EventType defines the kind of run lifecycle event.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"
)

// Event represents a run lifecycle event to be exported to external
// analytics systems.
type Event struct {
	Type       EventType  `json:"type"`
	OccurredAt time.Time  `json:"occurred_at"`
	Run        ledger.Run `json:"run"`
}

// Sink is a destination for run history events. Implementations must be
// safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans one event out to several sinks. A failing sink is logged and
// skipped so history export never blocks a run.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history sink send failed", "type", e.Type, "run_id", e.Run.RunID, "err", err)
		}
	}
	return nil
}
