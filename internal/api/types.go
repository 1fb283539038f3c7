package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role names understood by the dashboard. The set is open: the backend may
// send roles the client does not know, which are treated as unprivileged.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// CanPlacePins reports whether the role may create points of interest from the map.
func (r Role) CanPlacePins() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleOperator:
		return true
	}
	return false
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role,omitempty"`
}

type Session struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user,omitempty"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Vehicle struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	DeviceID string `json:"device_id,omitempty"`
	IsActive bool   `json:"is_active"`

	// LastLocation is nil when the vehicle has never reported.
	LastLocation *LocationSample `json:"last_location,omitempty"`
}

type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Timestamp Timestamp `json:"timestamp"`
}

func (s LocationSample) Position() LatLng {
	return LatLng{Lat: s.Latitude, Lon: s.Longitude}
}

type VisitType string

const (
	VisitManual       VisitType = "manual"
	VisitAutoDetected VisitType = "auto_detected"
)

type SavedStop struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp Timestamp `json:"timestamp"`
	VisitType VisitType `json:"visit_type"`

	// DurationMinutes is only set for auto-detected stops.
	DurationMinutes *int    `json:"stop_duration_minutes,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

func (s SavedStop) Position() LatLng {
	return LatLng{Lat: s.Latitude, Lon: s.Longitude}
}

type PointOfInterest struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Category    string  `json:"category"`
	Address     string  `json:"address"`
	Description string  `json:"description"`
}

func (p PointOfInterest) Position() LatLng {
	return LatLng{Lat: p.Latitude, Lon: p.Longitude}
}

// NewPointOfInterest is the create request body.
type NewPointOfInterest struct {
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Category    string  `json:"category"`
	Address     string  `json:"address"`
	Description string  `json:"description"`
}

type Stats struct {
	TotalPoints     int     `json:"total_points"`
	AvgSpeed        float64 `json:"avg_speed"`
	MaxSpeed        float64 `json:"max_speed"`
	DistanceKM      float64 `json:"distance_km"`
	TimePeriodHours int     `json:"time_period_hours"`
}

// Timestamp accepts both RFC 3339 and the naive ISO-8601 form the backend
// writes for UTC instants (2024-05-01T10:00:00.123456).
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{t}, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
