package dashboard

import (
	"context"

	"fleet-dashboard/internal/api"
)

type placesState struct {
	places  []api.PointOfInterest
	issued  uint64
	applied uint64
}

// RefreshPlaces reloads the points of interest. Safe to call repeatedly.
func (e *Engine) RefreshPlaces(ctx context.Context) error {
	var err error
	doErr := e.do(ctx, func() {
		if err = e.requireSession(); err != nil {
			return
		}
		e.loadPlaces()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (e *Engine) loadPlaces() {
	e.places.issued++
	seq, gen := e.places.issued, e.session.gen

	spawn(e, e.session.ctx, func(ctx context.Context) ([]api.PointOfInterest, error) {
		rctx, cancel := e.withTimeout(ctx)
		defer cancel()
		return e.backend.PlacesOfInterest(rctx)
	}, func(places []api.PointOfInterest, err error) {
		if gen != e.session.gen || seq <= e.places.applied {
			e.stale("places")
			return
		}
		e.places.applied = seq
		if err != nil {
			e.readFailed("places", err)
			e.places.places = nil
		} else {
			e.places.places = places
		}
		e.emit()
	})
}
