// Package render turns a dashboard snapshot into the markers and lines a
// map surface draws. Nothing here does I/O.
package render

import (
	"fmt"
	"strconv"
	"time"

	"fleet-dashboard/internal/api"
	"fleet-dashboard/internal/dashboard"
)

type MarkerKind string

const (
	KindVehicle    MarkerKind = "vehicle"
	KindWaypoint   MarkerKind = "waypoint"
	KindCurrent    MarkerKind = "current"
	KindSavedStop  MarkerKind = "saved_stop"
	KindPlace      MarkerKind = "place"
	KindPendingPin MarkerKind = "pending_pin"
)

// Map defaults used when nothing is selected.
var (
	DefaultCenter = api.LatLng{Lat: 5.8520, Lon: -55.2038}
	DefaultZoom   = 13
)

const (
	SavedStopColor  = "#fbbf24"
	PlaceColor      = "#0ea5e9"
	PendingPinColor = "#111827"

	trackWeight  = 3
	trackOpacity = 0.7
)

type Marker struct {
	Kind     MarkerKind `json:"kind"`
	Key      string     `json:"key"`
	Position api.LatLng `json:"position"`
	Color    string     `json:"color"`
	// Radius is set for the small circle markers along a track.
	Radius int `json:"radius,omitempty"`
	// Popup holds the label lines, first line emphasized.
	Popup []string `json:"popup,omitempty"`
}

type Polyline struct {
	Key     string       `json:"key"`
	Points  []api.LatLng `json:"points"`
	Color   string       `json:"color"`
	Weight  int          `json:"weight"`
	Opacity float64      `json:"opacity"`
}

// Scene is everything a map surface needs for one frame.
type Scene struct {
	Authenticated bool                `json:"authenticated"`
	User          *api.User           `json:"user,omitempty"`
	Center        api.LatLng          `json:"center"`
	Zoom          int                 `json:"zoom"`
	Markers       []Marker            `json:"markers"`
	Polylines     []Polyline          `json:"polylines"`
	Vehicles      []api.Vehicle       `json:"vehicles"`
	Selection     dashboard.Selection `json:"selection"`
	Stats         *api.Stats          `json:"stats,omitempty"`
	PinEnabled    bool                `json:"pin_enabled"`
	PinMode       dashboard.PinMode   `json:"pin_mode"`
	Submitting    bool                `json:"submitting,omitempty"`
}

// Project derives the scene for snap. Times in labels are shown in loc;
// nil means UTC.
func Project(snap dashboard.Snapshot, loc *time.Location) Scene {
	if loc == nil {
		loc = time.UTC
	}
	sc := Scene{
		Authenticated: snap.Authenticated,
		User:          snap.User,
		Center:        DefaultCenter,
		Zoom:          DefaultZoom,
		Markers:       []Marker{},
		Polylines:     []Polyline{},
		Vehicles:      snap.Vehicles,
		Selection:     snap.Selection,
		PinEnabled:    snap.PinEnabled,
		PinMode:       snap.Pin.Mode,
		Submitting:    snap.Pin.Submitting,
	}
	if sc.Vehicles == nil {
		sc.Vehicles = []api.Vehicle{}
	}

	if snap.Selection.Active {
		projectTrack(&sc, snap, loc)
		st := snap.Stats
		sc.Stats = &st
	} else {
		projectFleet(&sc, snap.Vehicles, loc)
	}

	for _, s := range snap.SavedStops {
		sc.Markers = append(sc.Markers, Marker{
			Kind:     KindSavedStop,
			Key:      "saved-" + strconv.FormatInt(s.ID, 10),
			Position: s.Position(),
			Color:    SavedStopColor,
			Popup:    savedStopPopup(s, loc),
		})
	}
	for _, p := range snap.Places {
		sc.Markers = append(sc.Markers, Marker{
			Kind:     KindPlace,
			Key:      "place-" + strconv.FormatInt(p.ID, 10),
			Position: p.Position(),
			Color:    PlaceColor,
			Popup:    placePopup(p),
		})
	}

	if snap.Pin.Mode == dashboard.PinCapturing && snap.Pin.Pending != nil {
		sc.Markers = append(sc.Markers, Marker{
			Kind:     KindPendingPin,
			Key:      "pending",
			Position: *snap.Pin.Pending,
			Color:    PendingPinColor,
			Popup:    []string{"New place", coords(*snap.Pin.Pending)},
		})
	}
	return sc
}

// projectFleet places one marker per vehicle with a known location.
func projectFleet(sc *Scene, vehicles []api.Vehicle, loc *time.Location) {
	for _, v := range vehicles {
		if v.LastLocation == nil {
			continue
		}
		sc.Markers = append(sc.Markers, Marker{
			Kind:     KindVehicle,
			Key:      "vehicle-" + strconv.FormatInt(v.ID, 10),
			Position: v.LastLocation.Position(),
			Color:    ColorFor(v.ID),
			Popup:    vehiclePopup(v, loc),
		})
	}
}

// projectTrack draws the history of the selected vehicle: a line through
// every point, a waypoint per point and the current position on top.
func projectTrack(sc *Scene, snap dashboard.Snapshot, loc *time.Location) {
	if len(snap.History) == 0 {
		return
	}
	id := snap.Selection.VehicleID
	color := ColorFor(id)

	points := make([]api.LatLng, len(snap.History))
	for i, s := range snap.History {
		points[i] = s.Position()
		sc.Markers = append(sc.Markers, Marker{
			Kind:     KindWaypoint,
			Key:      fmt.Sprintf("waypoint-%d-%d", id, i),
			Position: points[i],
			Color:    color,
			Radius:   3,
			Popup:    []string{speed(s.Speed), formatTime(s.Timestamp, loc)},
		})
	}
	sc.Polylines = append(sc.Polylines, Polyline{
		Key:     "track-" + strconv.FormatInt(id, 10),
		Points:  points,
		Color:   color,
		Weight:  trackWeight,
		Opacity: trackOpacity,
	})

	last := points[len(points)-1]
	name := "Vehicle " + strconv.FormatInt(id, 10)
	if v, ok := snap.SelectedVehicle(); ok {
		name = v.Name
	}
	sc.Markers = append(sc.Markers, Marker{
		Kind:     KindCurrent,
		Key:      "current-" + strconv.FormatInt(id, 10),
		Position: last,
		Color:    color,
		Popup:    []string{name, "Current Position"},
	})
	sc.Center = last
}
