package dashboard

import (
	"context"
	"fmt"

	"fleet-dashboard/internal/api"
	"fleet-dashboard/internal/pipeline"
)

type detailState struct {
	selection Selection

	// gen changes on every selection change; cycle counts load rounds
	// within one gen.
	gen    uint64
	cycle  uint64
	ctx    context.Context
	cancel context.CancelFunc

	history []api.LocationSample
	stops   []api.SavedStop
	stats   api.Stats

	appliedHistory uint64
	appliedStops   uint64
	appliedStats   uint64
}

// detailTag identifies the selection a detail read was issued for.
type detailTag struct {
	session   uint64
	gen       uint64
	vehicleID int64
	window    Window
	cycle     uint64
}

// Select makes vehicleID the selected vehicle, or clears the selection when
// vehicleID is nil. Either way results of earlier detail reads are dropped.
func (e *Engine) Select(ctx context.Context, vehicleID *int64) error {
	var err error
	doErr := e.do(ctx, func() {
		if err = e.requireSession(); err != nil {
			return
		}
		sel := e.detail.selection
		if vehicleID == nil {
			sel.Active, sel.VehicleID = false, 0
		} else {
			sel.Active, sel.VehicleID = true, *vehicleID
		}
		e.applySelection(sel)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// SetWindow changes the history window. w must be one of Windows; use
// ParseWindow on untrusted input.
func (e *Engine) SetWindow(ctx context.Context, w Window) error {
	if !w.Valid() {
		panic(fmt.Sprintf("dashboard: invalid history window %d", w))
	}
	var err error
	doErr := e.do(ctx, func() {
		if err = e.requireSession(); err != nil {
			return
		}
		sel := e.detail.selection
		sel.Window = w
		e.applySelection(sel)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// RefreshSavedStops reloads the saved stops of the selected vehicle now,
// leaving the detail timer alone.
func (e *Engine) RefreshSavedStops(ctx context.Context) error {
	var err error
	doErr := e.do(ctx, func() {
		if err = e.requireSession(); err != nil {
			return
		}
		if !e.detail.selection.Active {
			err = ErrNoSelection
			return
		}
		e.detail.cycle++
		e.loadStops(e.detailTag())
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (e *Engine) applySelection(sel Selection) {
	e.sched.cancel(taskDetail)
	if e.detail.cancel != nil {
		e.detail.cancel()
	}
	e.detail = detailState{selection: sel, gen: e.detail.gen + 1}

	if !sel.Active {
		e.emit()
		return
	}
	e.detail.ctx, e.detail.cancel = context.WithCancel(e.session.ctx)
	e.loadDetail()
	e.sched.every(taskKey{component: taskDetail, scope: e.detail.gen}, e.detailInterval, e.loadDetail)
	e.loadPlaces()
	e.emit()
}

func (e *Engine) detailTag() detailTag {
	return detailTag{
		session:   e.session.gen,
		gen:       e.detail.gen,
		vehicleID: e.detail.selection.VehicleID,
		window:    e.detail.selection.Window,
		cycle:     e.detail.cycle,
	}
}

// current reports whether a read tagged t may still be applied and, if so,
// records it as the newest applied cycle.
func (e *Engine) current(t detailTag, applied *uint64) bool {
	sel := e.detail.selection
	if !sel.Active || t.session != e.session.gen || t.gen != e.detail.gen ||
		t.vehicleID != sel.VehicleID || t.window != sel.Window || t.cycle <= *applied {
		return false
	}
	*applied = t.cycle
	return true
}

func (e *Engine) loadDetail() {
	e.detail.cycle++
	t := e.detailTag()
	e.loadHistory(t)
	e.loadStops(t)
	e.loadStats(t)
}

func (e *Engine) loadHistory(t detailTag) {
	spawn(e, e.detail.ctx, func(ctx context.Context) ([]api.LocationSample, error) {
		rctx, cancel := e.withTimeout(ctx)
		defer cancel()
		return e.backend.History(rctx, t.vehicleID, t.window.Hours())
	}, func(samples []api.LocationSample, err error) {
		if !e.current(t, &e.detail.appliedHistory) {
			e.stale("history")
			return
		}
		if err != nil {
			e.readFailed("history", err, "vehicle_id", t.vehicleID, "hours", t.window.Hours())
			e.detail.history = nil
		} else {
			e.detail.history = pipeline.NormalizeHistory(samples)
		}
		e.emit()
	})
}

func (e *Engine) loadStops(t detailTag) {
	spawn(e, e.detail.ctx, func(ctx context.Context) ([]api.SavedStop, error) {
		rctx, cancel := e.withTimeout(ctx)
		defer cancel()
		return e.backend.SavedStops(rctx, t.vehicleID)
	}, func(stops []api.SavedStop, err error) {
		if !e.current(t, &e.detail.appliedStops) {
			e.stale("stops")
			return
		}
		if err != nil {
			e.readFailed("stops", err, "vehicle_id", t.vehicleID)
			e.detail.stops = nil
		} else {
			e.detail.stops = stops
		}
		e.emit()
	})
}

func (e *Engine) loadStats(t detailTag) {
	spawn(e, e.detail.ctx, func(ctx context.Context) (api.Stats, error) {
		rctx, cancel := e.withTimeout(ctx)
		defer cancel()
		return e.backend.Stats(rctx, t.vehicleID, t.window.Hours())
	}, func(st api.Stats, err error) {
		if !e.current(t, &e.detail.appliedStats) {
			e.stale("stats")
			return
		}
		if err != nil {
			e.readFailed("stats", err, "vehicle_id", t.vehicleID, "hours", t.window.Hours())
			e.detail.stats = api.Stats{}
		} else {
			e.detail.stats = st
		}
		e.emit()
	})
}
