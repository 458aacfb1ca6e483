package storage

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/events"
)

// EventSink persists events to a Store. Storage failures are logged and never
// interrupt the run that emitted the event.
type EventSink struct {
	store Store
	log   zerolog.Logger
}

// NewEventSink creates a sink writing to store.
func NewEventSink(store Store, log zerolog.Logger) *EventSink {
	return &EventSink{store: store, log: log.With().Str("component", "history").Logger()}
}

// Emit implements events.Sink.
func (s *EventSink) Emit(ctx context.Context, e *events.Event) {
	// A canceled run still records how it ended
	if err := s.store.StoreEvent(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn().Err(err).Str("type", string(e.Type)).Str("run", e.RunID).Msg("failed to store event")
	}
}
