// Package dashboard is the live-state engine behind the fleet map.
//
// All state lives on a single loop goroutine. Public methods hand closures
// to the loop and wait for them; backend reads run on their own goroutines
// and post their results back to the loop, where they are applied only if
// the session and selection tokens they were issued under are still current.
package dashboard

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"fleet-dashboard/internal/api"
	"fleet-dashboard/internal/clock"
	"fleet-dashboard/internal/observability"
)

const (
	taskFleet  = "fleet"
	taskDetail = "detail"
)

type Engine struct {
	backend  Backend
	clock    clock.Clock
	logger   *slog.Logger
	notifier Notifier
	mirror   Mirror

	fleetInterval       time.Duration
	detailInterval      time.Duration
	requestTimeout      time.Duration
	locationConcurrency int

	events chan func()
	done   chan struct{}
	once   sync.Once

	listenersMu  sync.Mutex
	listeners    map[int]func(Snapshot)
	nextListener int

	// Owned by the loop goroutine.
	sched      *scheduler
	inflight   int
	settlers   []chan struct{}
	mirrorTail chan struct{}

	session sessionState
	fleet   fleetState
	detail  detailState
	places  placesState
	pin     pinState
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

func WithMirror(m Mirror) Option { return func(e *Engine) { e.mirror = m } }

// WithIntervals overrides the fleet (5s) and detail (10s) refresh cadence.
func WithIntervals(fleet, detail time.Duration) Option {
	return func(e *Engine) {
		if fleet > 0 {
			e.fleetInterval = fleet
		}
		if detail > 0 {
			e.detailInterval = detail
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.requestTimeout = d
		}
	}
}

// WithLocationConcurrency bounds the per-vehicle location fetches of one fleet refresh.
func WithLocationConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.locationConcurrency = n
		}
	}
}

func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:             backend,
		clock:               clock.Real(),
		logger:              slog.Default(),
		fleetInterval:       5 * time.Second,
		detailInterval:      10 * time.Second,
		requestTimeout:      10 * time.Second,
		locationConcurrency: 8,
		events:              make(chan func(), 64),
		done:                make(chan struct{}),
		listeners:           make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "dashboard")
	e.sched = newScheduler(e.clock, e.post)
	e.detail.selection.Window = DefaultWindow
	return e
}

// Run drives the loop until ctx is cancelled. Timers are stopped and the
// session context is cancelled on the way out.
func (e *Engine) Run(ctx context.Context) error {
	defer e.once.Do(func() { close(e.done) })
	for {
		select {
		case <-ctx.Done():
			e.sched.cancelAll()
			if e.session.cancel != nil {
				e.session.cancel()
			}
			return ctx.Err()
		case fn := <-e.events:
			fn()
		}
	}
}

// post queues fn on the loop. It reports false once the loop has stopped.
func (e *Engine) post(fn func()) bool {
	select {
	case e.events <- fn:
		return true
	case <-e.done:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	job := func() {
		fn()
		close(ran)
	}
	select {
	case e.events <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// spawn runs fetch off the loop and applies its result on the loop.
func spawn[T any](e *Engine, ctx context.Context, fetch func(context.Context) (T, error), apply func(T, error)) {
	e.inflight++
	go func() {
		v, err := fetch(ctx)
		e.post(func() {
			e.inflight--
			apply(v, err)
			e.releaseSettlers()
		})
	}()
}

func (e *Engine) releaseSettlers() {
	if e.inflight > 0 {
		return
	}
	for _, ch := range e.settlers {
		close(ch)
	}
	e.settlers = nil
}

// Settle blocks until every request issued so far, and any follow-up it
// triggered, has been applied.
func (e *Engine) Settle(ctx context.Context) error {
	ch := make(chan struct{})
	err := e.do(ctx, func() {
		if e.inflight == 0 {
			close(ch)
			return
		}
		e.settlers = append(e.settlers, ch)
	})
	if err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the loop goroutine: it must return quickly and must not call
// the engine.
func (e *Engine) Subscribe(fn func(Snapshot)) (cancel func()) {
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.listenersMu.Unlock()
	return func() {
		e.listenersMu.Lock()
		delete(e.listeners, id)
		e.listenersMu.Unlock()
	}
}

func (e *Engine) emit() {
	e.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenersMu.Unlock()
	if len(fns) == 0 {
		return
	}
	snap := e.snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.do(ctx, func() { snap = e.snapshot() })
	return snap, err
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		Authenticated: e.session.authenticated,
		Vehicles:      slices.Clone(e.fleet.vehicles),
		Selection:     e.detail.selection,
		History:       slices.Clone(e.detail.history),
		SavedStops:    slices.Clone(e.detail.stops),
		Stats:         e.detail.stats,
		Places:        slices.Clone(e.places.places),
		Pin:           PinState{Mode: e.pin.mode, Submitting: e.pin.submitting},
		PinEnabled:    e.canPin(),
	}
	if e.session.user != nil {
		u := *e.session.user
		snap.User = &u
	}
	if e.pin.pending != nil {
		p := *e.pin.pending
		snap.Pin.Pending = &p
	}
	return snap
}

func (e *Engine) stale(kind string) {
	observability.StaleResponses.WithLabelValues(kind).Inc()
	e.logger.Debug("discarded stale response", "kind", kind)
}

func (e *Engine) readFailed(kind string, err error, attrs ...any) {
	observability.ReadFailures.WithLabelValues(kind).Inc()
	e.logger.Warn("backend read failed", append([]any{"kind", kind, "err", err}, attrs...)...)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.requestTimeout)
}

// mirrorJob queues a mirror write behind the previous one so writes and the
// final clear land in the order they were issued.
func (e *Engine) mirrorJob(what string, job func(context.Context) error) {
	if e.mirror == nil {
		return
	}
	prev := e.mirrorTail
	done := make(chan struct{})
	e.mirrorTail = done
	spawn(e, context.Background(), func(ctx context.Context) (struct{}, error) {
		defer close(done)
		if prev != nil {
			<-prev
		}
		mctx, cancel := e.withTimeout(ctx)
		defer cancel()
		return struct{}{}, job(mctx)
	}, func(_ struct{}, err error) {
		if err != nil {
			observability.MirrorErrors.Inc()
			e.logger.Warn("fleet mirror write failed", "op", what, "err", err)
		}
	})
}

var _ Backend = (*api.Client)(nil)
