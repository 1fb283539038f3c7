// Package pipeline holds the pure transforms applied to backend reads
// before they become dashboard state.
package pipeline

import (
	"math"
	"sort"

	"fleet-dashboard/internal/api"
)

func coordsValid(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return true
}

func normalizeSample(s api.LocationSample) (api.LocationSample, bool) {
	if !coordsValid(s.Latitude, s.Longitude) {
		return api.LocationSample{}, false
	}
	if s.Speed < 0 || math.IsNaN(s.Speed) {
		s.Speed = 0
	}
	return s, true
}

// BuildFleet joins the roster with the latest locations by vehicle id. Roster
// order is kept. A vehicle without a usable location keeps a nil LastLocation;
// it is never dropped.
func BuildFleet(roster []api.Vehicle, latest map[int64]api.LocationSample) []api.Vehicle {
	out := make([]api.Vehicle, 0, len(roster))
	for _, v := range roster {
		v.LastLocation = nil
		if loc, ok := latest[v.ID]; ok {
			if s, ok := normalizeSample(loc); ok {
				v.LastLocation = &s
			}
		}
		out = append(out, v)
	}
	return out
}

// NormalizeHistory drops samples with impossible coordinates and returns the
// rest in ascending timestamp order. Equal timestamps keep backend order.
func NormalizeHistory(samples []api.LocationSample) []api.LocationSample {
	out := make([]api.LocationSample, 0, len(samples))
	for _, s := range samples {
		if n, ok := normalizeSample(s); ok {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp.Time)
	})
	return out
}
