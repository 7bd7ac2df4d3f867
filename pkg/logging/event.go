package logging

import (
	"time"

	"github.com/rs/zerolog"
)

// Event builds a structured completion record for one unit of reducer work
// (a prefix group, a bucket file, the whole run). Fields are emitted in the
// order they are added.
type Event struct {
	log     zerolog.Logger
	name    string
	phase   string
	elapsed time.Duration
	ctx     zerolog.Context
}

// NewEvent starts an event named name in phase.
func NewEvent(log zerolog.Logger, name, phase string, elapsed time.Duration) *Event {
	return &Event{
		log:     log,
		name:    name,
		phase:   phase,
		elapsed: elapsed,
		ctx:     log.With(),
	}
}

// PhaseComplete starts a "phase_completed" event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *Event {
	return NewEvent(log, "phase_completed", phase, elapsed)
}

// GroupPlaced starts a "group_placed" event for a prefix group.
func GroupPlaced(log zerolog.Logger, prefix string, bucket int) *Event {
	return NewEvent(log, "group_placed", "reduce", 0).Str("prefix", prefix).Int("bucket", bucket)
}

// FileCommitted starts a "file_committed" event.
func FileCommitted(log zerolog.Logger, path string, elapsed time.Duration) *Event {
	return NewEvent(log, "file_committed", "commit", elapsed).Str("path", path)
}

// Str adds a string field.
func (e *Event) Str(key, val string) *Event {
	e.ctx = e.ctx.Str(key, val)
	return e
}

// Int adds an int field.
func (e *Event) Int(key string, val int) *Event {
	e.ctx = e.ctx.Int(key, val)
	return e
}

// Int64 adds an int64 field.
func (e *Event) Int64(key string, val int64) *Event {
	e.ctx = e.ctx.Int64(key, val)
	return e
}

// Float64 adds a float64 field.
func (e *Event) Float64(key string, val float64) *Event {
	e.ctx = e.ctx.Float64(key, val)
	return e
}

// Bool adds a bool field.
func (e *Event) Bool(key string, val bool) *Event {
	e.ctx = e.ctx.Bool(key, val)
	return e
}

// Ints64 adds an int64 slice field.
func (e *Event) Ints64(key string, vals []int64) *Event {
	e.ctx = e.ctx.Ints64(key, vals)
	return e
}

// Rate adds a per-second rate for n units over the event's elapsed time.
func (e *Event) Rate(key string, n int64) *Event {
	if e.elapsed > 0 {
		e.ctx = e.ctx.Float64(key, float64(n)/e.elapsed.Seconds())
	}
	return e
}

// Log emits the event at info level.
func (e *Event) Log(msg string) {
	e.emit(zerolog.InfoLevel, msg)
}

// LogDebug emits the event at debug level.
func (e *Event) LogDebug(msg string) {
	e.emit(zerolog.DebugLevel, msg)
}

func (e *Event) emit(level zerolog.Level, msg string) {
	l := e.ctx.Logger()
	ev := l.WithLevel(level).Str("event", e.name).Str("phase", e.phase)
	if e.elapsed > 0 {
		ev = ev.Int64("duration_ms", e.elapsed.Milliseconds())
	}
	ev.Msg(msg)
}
