package dashboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fleet-dashboard/internal/api"
	"fleet-dashboard/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type historyKey struct {
	vehicleID int64
	hours     int
}

// fakeBackend is an in-memory Backend. block makes the next call of a
// kind wait until released, ignoring context cancellation, so a test can
// deliver a response after the state it was issued for has changed.
type fakeBackend struct {
	mu sync.Mutex

	session  api.Session
	checkErr error
	user     api.User
	loginErr error

	roster    []api.Vehicle
	rosterErr error
	locations map[int64]api.LocationSample
	locErr    map[int64]error

	history    map[historyKey][]api.LocationSample
	historyErr error
	stops      map[int64][]api.SavedStop
	stopsErr   error
	stats      map[historyKey]api.Stats

	places    []api.PointOfInterest
	placesErr error
	createErr error
	created   []api.NewPointOfInterest

	calls   map[string]int
	blocked map[string]chan struct{}
	entered chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		user:      api.User{ID: 1, Username: "admin", Role: api.RoleAdmin},
		locations: map[int64]api.LocationSample{},
		locErr:    map[int64]error{},
		history:   map[historyKey][]api.LocationSample{},
		stops:     map[int64][]api.SavedStop{},
		stats:     map[historyKey]api.Stats{},
		calls:     map[string]int{},
		blocked:   map[string]chan struct{}{},
		entered:   make(chan string, 16),
	}
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

// block holds the next call of kind until the returned func is called.
func (f *fakeBackend) block(kind string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocked[kind] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeBackend) waitEntered(t *testing.T, kind string) {
	t.Helper()
	select {
	case got := <-f.entered:
		if got != kind {
			t.Fatalf("blocked call = %q, want %q", got, kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("blocked %s call never arrived", kind)
	}
}

func (f *fakeBackend) enter(kind string) {
	f.mu.Lock()
	f.calls[kind]++
	ch := f.blocked[kind]
	delete(f.blocked, kind)
	f.mu.Unlock()
	if ch != nil {
		f.entered <- kind
		<-ch
	}
}

func (f *fakeBackend) CheckSession(ctx context.Context) (api.Session, error) {
	f.enter("check")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.checkErr
}

func (f *fakeBackend) Login(ctx context.Context, creds api.Credentials) (api.User, error) {
	f.enter("login")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return api.User{}, f.loginErr
	}
	return f.user, nil
}

func (f *fakeBackend) Logout(ctx context.Context) error {
	f.enter("logout")
	return nil
}

func (f *fakeBackend) ListVehicles(ctx context.Context) ([]api.Vehicle, error) {
	f.enter("roster")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rosterErr != nil {
		return nil, f.rosterErr
	}
	return append([]api.Vehicle(nil), f.roster...), nil
}

func (f *fakeBackend) LatestLocation(ctx context.Context, id int64) (api.LocationSample, error) {
	f.enter("location")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.locErr[id]; err != nil {
		return api.LocationSample{}, err
	}
	loc, ok := f.locations[id]
	if !ok {
		return api.LocationSample{}, fmt.Errorf("vehicle %d: %w", id, api.ErrNoLocation)
	}
	return loc, nil
}

func (f *fakeBackend) History(ctx context.Context, id int64, hours int) ([]api.LocationSample, error) {
	f.enter("history")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]api.LocationSample(nil), f.history[historyKey{id, hours}]...), nil
}

func (f *fakeBackend) SavedStops(ctx context.Context, id int64) ([]api.SavedStop, error) {
	f.enter("stops")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopsErr != nil {
		return nil, f.stopsErr
	}
	return append([]api.SavedStop(nil), f.stops[id]...), nil
}

func (f *fakeBackend) Stats(ctx context.Context, id int64, hours int) (api.Stats, error) {
	f.enter("stats")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[historyKey{id, hours}], nil
}

func (f *fakeBackend) PlacesOfInterest(ctx context.Context) ([]api.PointOfInterest, error) {
	f.enter("places")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placesErr != nil {
		return nil, f.placesErr
	}
	return append([]api.PointOfInterest(nil), f.places...), nil
}

func (f *fakeBackend) CreatePlaceOfInterest(ctx context.Context, p api.NewPointOfInterest) (api.PointOfInterest, error) {
	f.enter("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	if f.createErr != nil {
		return api.PointOfInterest{}, f.createErr
	}
	created := api.PointOfInterest{
		ID: int64(100 + len(f.places)), Name: p.Name, Latitude: p.Latitude, Longitude: p.Longitude,
		Category: p.Category, Address: p.Address, Description: p.Description,
	}
	f.places = append(f.places, created)
	return created, nil
}

type fakeMirror struct {
	mu  sync.Mutex
	ops []string
	// fleets holds the last saved fleet per user.
	fleets map[int64][]api.Vehicle
}

func (m *fakeMirror) SaveFleet(ctx context.Context, userID int64, vs []api.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fleets == nil {
		m.fleets = map[int64][]api.Vehicle{}
	}
	m.ops = append(m.ops, fmt.Sprintf("save:%d", userID))
	m.fleets[userID] = vs
	return nil
}

func (m *fakeMirror) ClearFleet(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, fmt.Sprintf("clear:%d", userID))
	delete(m.fleets, userID)
	return nil
}

type notices struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (n *notices) Notify(o Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, o)
}

func (n *notices) all() []Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Outcome(nil), n.outcomes...)
}

type harness struct {
	t       *testing.T
	engine  *Engine
	backend *fakeBackend
	clock   *clock.FakeClock
	notices *notices
	mirror  *fakeMirror
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		backend: newFakeBackend(),
		clock:   clock.Fake(epoch),
		notices: &notices{},
		mirror:  &fakeMirror{},
	}
	h.engine = New(h.backend,
		WithClock(h.clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(h.notices),
		WithMirror(h.mirror),
		WithIntervals(5*time.Second, 10*time.Second),
	)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

func (h *harness) settle() {
	h.t.Helper()
	if err := h.engine.Settle(h.ctx()); err != nil {
		h.t.Fatalf("Settle: %v", err)
	}
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, err := h.engine.Snapshot(h.ctx())
	if err != nil {
		h.t.Fatalf("Snapshot: %v", err)
	}
	return s
}

// sync waits for the loop to finish whatever it is running, such as a
// timer callback that is about to re-arm itself.
func (h *harness) sync() {
	h.t.Helper()
	_ = h.snapshot()
}

// advance moves the fake clock and waits for whatever the timers started.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	h.settle()
}

func (h *harness) login(role api.Role) {
	h.t.Helper()
	h.backend.set(func(f *fakeBackend) { f.user.Role = role })
	if _, err := h.engine.Login(h.ctx(), api.Credentials{Username: "admin", Password: "admin123"}); err != nil {
		h.t.Fatalf("Login: %v", err)
	}
	h.settle()
}

func (h *harness) selectVehicle(id int64) {
	h.t.Helper()
	if err := h.engine.Select(h.ctx(), &id); err != nil {
		h.t.Fatalf("Select(%d): %v", id, err)
	}
}

// eventually polls cond for up to two seconds. Used where a blocked call
// keeps Settle from returning.
func (h *harness) eventually(what string, cond func(Snapshot) bool) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(h.snapshot()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func at(lat, lon, speed float64, offset time.Duration) api.LocationSample {
	return api.LocationSample{Latitude: lat, Longitude: lon, Speed: speed, Timestamp: api.Timestamp{Time: epoch.Add(offset)}}
}

func twoVehicleFleet(f *fakeBackend) {
	f.roster = []api.Vehicle{{ID: 1, Name: "Vehicle A"}, {ID: 2, Name: "Vehicle B"}}
	f.locations[1] = at(5.85, -55.20, 12.3, 0)
}
