package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Sink receives events. Implementations must be safe for concurrent use;
// the orchestrator emits from worker goroutines.
type Sink interface {
	Emit(ctx context.Context, event *Event)
}

// Discard drops every event
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(context.Context, *Event) {}

// LogSink writes events to a zerolog logger at a level derived from severity.
type LogSink struct {
	Log zerolog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(_ context.Context, e *Event) {
	var ev *zerolog.Event
	switch e.Severity {
	case SeverityError:
		ev = s.Log.Error()
	case SeverityWarning:
		ev = s.Log.Warn()
	default:
		ev = s.Log.Debug()
	}
	ev = ev.Str("type", string(e.Type)).Str("run", e.RunID)
	if e.File != "" {
		ev = ev.Str("file", e.File)
	}
	if e.VulnerabilityID != "" {
		ev = ev.Str("vulnerability", e.VulnerabilityID)
	}
	ev.Msg(e.Message)
}

// Multi fans events out to several sinks in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, e *Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// Recorder keeps every event in memory. Used by the history store and tests.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, e *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type, in emission order.
func (r *Recorder) OfType(t EventType) []*Event {
	var out []*Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
