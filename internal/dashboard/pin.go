package dashboard

import (
	"context"
	"strings"

	"fleet-dashboard/internal/api"
	"fleet-dashboard/internal/observability"
)

// Defaults for places created from a map click.
const (
	PinCategory    = "General"
	PinDescription = "Added from map"
)

type pinState struct {
	mode       PinMode
	pending    *api.LatLng
	submitting bool
}

func (e *Engine) canPin() bool {
	return e.session.authenticated && e.session.user != nil && e.session.user.Role.CanPlacePins()
}

// TogglePin arms pin mode from Idle and returns to Idle from Armed or
// Capturing. Only roles allowed to place pins may call it.
func (e *Engine) TogglePin(ctx context.Context) (PinMode, error) {
	var (
		mode PinMode
		err  error
	)
	doErr := e.do(ctx, func() {
		mode = e.pin.mode
		if err = e.requireSession(); err != nil {
			return
		}
		if !e.canPin() {
			err = ErrNotAuthorized
			return
		}
		switch e.pin.mode {
		case PinIdle:
			e.pin.mode = PinArmed
		case PinArmed:
			e.pin = pinState{}
		case PinCapturing:
			if e.pin.submitting {
				err = ErrCaptureInFlight
				return
			}
			e.pin = pinState{}
		}
		mode = e.pin.mode
		e.emit()
	})
	if doErr != nil {
		return mode, doErr
	}
	return mode, err
}

// Click delivers a map click. It is captured only while Armed; the result
// reports whether it was.
func (e *Engine) Click(ctx context.Context, at api.LatLng) (bool, error) {
	captured := false
	err := e.do(ctx, func() {
		if e.pin.mode != PinArmed || !e.canPin() {
			return
		}
		e.pin.mode = PinCapturing
		e.pin.pending = &at
		captured = true
		e.emit()
	})
	return captured, err
}

// SubmitPinName answers the name prompt of the pending capture. A blank
// name cancels without writing; anything else creates the place, after
// which the mode returns to Idle and the notifier is told the outcome.
func (e *Engine) SubmitPinName(ctx context.Context, name string) error {
	var err error
	doErr := e.do(ctx, func() {
		if e.pin.mode != PinCapturing || e.pin.pending == nil {
			err = ErrNoCapture
			return
		}
		if e.pin.submitting {
			err = ErrCaptureInFlight
			return
		}
		name = strings.TrimSpace(name)
		if name == "" {
			e.pin = pinState{}
			e.emit()
			return
		}
		e.submitPin(name, *e.pin.pending)
		e.emit()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// CancelPin drops pin mode and any pending capture without writing.
func (e *Engine) CancelPin(ctx context.Context) error {
	var err error
	doErr := e.do(ctx, func() {
		if e.pin.submitting {
			err = ErrCaptureInFlight
			return
		}
		if e.pin.mode == PinIdle {
			return
		}
		e.pin = pinState{}
		e.emit()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (e *Engine) submitPin(name string, at api.LatLng) {
	e.pin.submitting = true
	gen := e.session.gen
	req := api.NewPointOfInterest{
		Name:        name,
		Latitude:    at.Lat,
		Longitude:   at.Lon,
		Category:    PinCategory,
		Address:     "",
		Description: PinDescription,
	}

	spawn(e, e.session.ctx, func(ctx context.Context) (api.PointOfInterest, error) {
		rctx, cancel := e.withTimeout(ctx)
		defer cancel()
		return e.backend.CreatePlaceOfInterest(rctx, req)
	}, func(created api.PointOfInterest, err error) {
		if gen != e.session.gen {
			e.stale("place_write")
			return
		}
		e.pin = pinState{}
		if err != nil {
			observability.PlaceWrites.WithLabelValues("rejected").Inc()
			e.logger.Warn("place create failed", "name", name, "lat", at.Lat, "lon", at.Lon, "err", err)
			e.notify(Outcome{Err: err})
		} else {
			observability.PlaceWrites.WithLabelValues("created").Inc()
			e.logger.Info("place created", "place_id", created.ID, "name", created.Name)
			e.notify(Outcome{Place: &created})
			e.loadPlaces()
		}
		e.emit()
	})
}

func (e *Engine) notify(o Outcome) {
	if e.notifier != nil {
		e.notifier.Notify(o)
	}
}
