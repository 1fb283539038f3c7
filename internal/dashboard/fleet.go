package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet-dashboard/internal/api"
	"fleet-dashboard/internal/observability"
	"fleet-dashboard/internal/pipeline"
)

type fleetState struct {
	vehicles []api.Vehicle
	// issued and applied are refresh sequence numbers within one session.
	// A refresh older than the last applied one is dropped.
	issued  uint64
	applied uint64
}

func (e *Engine) startFleet() {
	e.refreshFleet()
	e.sched.every(taskKey{component: taskFleet, scope: e.session.gen}, e.fleetInterval, e.refreshFleet)
}

func (e *Engine) refreshFleet() {
	e.fleet.issued++
	seq, gen := e.fleet.issued, e.session.gen
	start := time.Now()

	spawn(e, e.session.ctx, e.fetchFleet, func(vehicles []api.Vehicle, err error) {
		if gen != e.session.gen || seq <= e.fleet.applied {
			e.stale("fleet")
			return
		}
		e.fleet.applied = seq
		observability.ObserveRefreshLatency("fleet", start)

		if err != nil {
			e.readFailed("roster", err)
			e.fleet.vehicles = nil
		} else {
			e.fleet.vehicles = vehicles
			observability.FleetRefreshes.Inc()
			if e.session.user != nil {
				userID := e.session.user.ID
				e.mirrorJob("save", func(ctx context.Context) error {
					return e.mirror.SaveFleet(ctx, userID, vehicles)
				})
			}
		}
		e.emit()
	})
}

// fetchFleet runs off the loop. A vehicle whose location cannot be read
// stays in the result with no location.
func (e *Engine) fetchFleet(ctx context.Context) ([]api.Vehicle, error) {
	rctx, cancel := e.withTimeout(ctx)
	roster, err := e.backend.ListVehicles(rctx)
	cancel()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	latest := make(map[int64]api.LocationSample, len(roster))

	var g errgroup.Group
	g.SetLimit(e.locationConcurrency)
	for _, v := range roster {
		g.Go(func() error {
			lctx, cancel := e.withTimeout(ctx)
			defer cancel()
			loc, err := e.backend.LatestLocation(lctx, v.ID)
			if errors.Is(err, api.ErrNoLocation) {
				e.logger.Debug("vehicle has no location", "vehicle_id", v.ID)
				return nil
			}
			if err != nil {
				observability.ReadFailures.WithLabelValues("location").Inc()
				e.logger.Warn("location fetch failed", "vehicle_id", v.ID, "err", err)
				return nil
			}
			mu.Lock()
			latest[v.ID] = loc
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return pipeline.BuildFleet(roster, latest), nil
}
