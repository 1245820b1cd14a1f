package engine

import (
	"time"

	"frizo/position_engine/internal/logger"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/metrics"
	"frizo/position_engine/internal/store"
)

// Clock supplies timestamps for opened_at, closed_at and last_activity.
// The engine treats them as opaque integers.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 { return f() }

// SystemClock returns Unix seconds.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// Engine runs position lifecycle transitions against a Store. Each mutating
// call is one WithinUser transaction, so the owner's account and positions
// change together or not at all.
type Engine struct {
	store    store.Store
	tiers    *margin.Table
	clock    Clock
	notifier Notifier
	log      *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine over st using tiers for tier resolution.
func New(st store.Store, tiers *margin.Table, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		tiers:    tiers,
		clock:    SystemClock{},
		notifier: nopNotifier{},
		log:      logger.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine")
	return e
}

// Tiers returns the tier table in use.
func (e *Engine) Tiers() *margin.Table {
	return e.tiers
}

func (e *Engine) observe(op string, start time.Time, err error) {
	metrics.ObserveOperation(op, start, err)
	if err != nil {
		e.log.Debug("operation failed", "op", op, "error", err)
	}
}
