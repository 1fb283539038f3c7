package dashboard

import (
	"context"
	"errors"
	"fmt"

	"fleet-dashboard/internal/api"
)

var (
	ErrNotAuthenticated = errors.New("dashboard: not authenticated")
	ErrNotAuthorized    = errors.New("dashboard: role may not place pins")
	ErrNoSelection      = errors.New("dashboard: no vehicle selected")
	ErrNoCapture        = errors.New("dashboard: no pin capture pending")
	ErrCaptureInFlight  = errors.New("dashboard: pin capture is being saved")
	ErrSuperseded       = errors.New("dashboard: session changed while request was in flight")
	ErrStopped          = errors.New("dashboard: engine stopped")
)

// Backend is the request/response surface the engine reads and writes
// through. *api.Client implements it.
type Backend interface {
	CheckSession(ctx context.Context) (api.Session, error)
	Login(ctx context.Context, creds api.Credentials) (api.User, error)
	Logout(ctx context.Context) error
	ListVehicles(ctx context.Context) ([]api.Vehicle, error)
	LatestLocation(ctx context.Context, vehicleID int64) (api.LocationSample, error)
	History(ctx context.Context, vehicleID int64, hours int) ([]api.LocationSample, error)
	SavedStops(ctx context.Context, vehicleID int64) ([]api.SavedStop, error)
	Stats(ctx context.Context, vehicleID int64, hours int) (api.Stats, error)
	PlacesOfInterest(ctx context.Context) ([]api.PointOfInterest, error)
	CreatePlaceOfInterest(ctx context.Context, p api.NewPointOfInterest) (api.PointOfInterest, error)
}

// Mirror receives a copy of every applied fleet view, keyed by the session user.
type Mirror interface {
	SaveFleet(ctx context.Context, userID int64, vehicles []api.Vehicle) error
	ClearFleet(ctx context.Context, userID int64) error
}

// Window is a history window in hours.
type Window int

const (
	Window1h  Window = 1
	Window6h  Window = 6
	Window24h Window = 24
	Window3d  Window = 72
	Window7d  Window = 168

	DefaultWindow = Window24h
)

var Windows = []Window{Window1h, Window6h, Window24h, Window3d, Window7d}

func (w Window) Valid() bool {
	for _, v := range Windows {
		if w == v {
			return true
		}
	}
	return false
}

func (w Window) Hours() int { return int(w) }

// ParseWindow validates an untrusted hour count.
func ParseWindow(hours int) (Window, error) {
	w := Window(hours)
	if !w.Valid() {
		return 0, fmt.Errorf("dashboard: unsupported history window %dh", hours)
	}
	return w, nil
}

type Selection struct {
	VehicleID int64  `json:"vehicle_id,omitempty"`
	Active    bool   `json:"active"`
	Window    Window `json:"window"`
}

type PinMode int

const (
	PinIdle PinMode = iota
	PinArmed
	PinCapturing
)

func (m PinMode) String() string {
	switch m {
	case PinArmed:
		return "armed"
	case PinCapturing:
		return "capturing"
	default:
		return "idle"
	}
}

func (m PinMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *PinMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*m = PinIdle
	case "armed":
		*m = PinArmed
	case "capturing":
		*m = PinCapturing
	default:
		return fmt.Errorf("dashboard: unknown pin mode %q", b)
	}
	return nil
}

type PinState struct {
	Mode PinMode `json:"mode"`
	// Pending is the captured click, set only while Capturing.
	Pending    *api.LatLng `json:"pending,omitempty"`
	Submitting bool        `json:"submitting,omitempty"`
}

// Snapshot is a read-only copy of the dashboard state at one instant.
type Snapshot struct {
	Authenticated bool                  `json:"authenticated"`
	User          *api.User             `json:"user,omitempty"`
	Vehicles      []api.Vehicle         `json:"vehicles"`
	Selection     Selection             `json:"selection"`
	History       []api.LocationSample  `json:"history"`
	SavedStops    []api.SavedStop       `json:"saved_stops"`
	Stats         api.Stats             `json:"stats"`
	Places        []api.PointOfInterest `json:"places"`
	Pin           PinState              `json:"pin"`
	PinEnabled    bool                  `json:"pin_enabled"`
}

// SelectedVehicle returns the roster entry of the selected vehicle. The
// second result is false when nothing is selected or the roster has not
// caught up with the selection yet.
func (s Snapshot) SelectedVehicle() (api.Vehicle, bool) {
	if !s.Selection.Active {
		return api.Vehicle{}, false
	}
	for _, v := range s.Vehicles {
		if v.ID == s.Selection.VehicleID {
			return v, true
		}
	}
	return api.Vehicle{}, false
}

// Outcome reports the result of a pin write.
type Outcome struct {
	Place *api.PointOfInterest
	Err   error
}

func (o Outcome) OK() bool { return o.Err == nil }

// Notifier is told about every finished pin write. It is called on the
// engine's loop goroutine and must not call back into the engine.
type Notifier interface {
	Notify(Outcome)
}

type NotifierFunc func(Outcome)

func (f NotifierFunc) Notify(o Outcome) { f(o) }
