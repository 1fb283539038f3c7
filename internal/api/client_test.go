package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "::nope"} {
		if _, err := New(raw, nil, nil); err == nil {
			t.Errorf("New(%q) succeeded", raw)
		}
	}
}

func TestLogin_SessionCookieCarried(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Password != "admin123" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid username or password"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Login successful",
			"user":    map[string]any{"id": 1, "username": creds.Username, "email": "admin@gpstracker.local", "role": "admin"},
		})
	})
	mux.HandleFunc("GET /api/auth/check", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil && c.Value == "abc" {
			writeJSON(w, http.StatusOK, map[string]any{
				"authenticated": true,
				"user":          map[string]any{"id": 1, "username": "admin", "role": "admin"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	s, err := c.CheckSession(ctx)
	if err != nil || s.Authenticated {
		t.Fatalf("pre-login CheckSession = %+v, %v", s, err)
	}

	_, err = c.Login(ctx, Credentials{Username: "admin", Password: "wrong"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad login err = %v, want ErrUnauthorized", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "Invalid username or password" {
		t.Errorf("StatusError message = %+v", se)
	}

	u, err := c.Login(ctx, Credentials{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.Username != "admin" || u.Role != RoleAdmin {
		t.Errorf("user = %+v", u)
	}

	s, err = c.CheckSession(ctx)
	if err != nil || !s.Authenticated || s.User == nil || s.User.ID != 1 {
		t.Fatalf("post-login CheckSession = %+v, %v", s, err)
	}
}

func TestLogin_BareUserObject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 7, "username": "ops", "email": "ops@x", "role": "operator"})
	})
	u, err := newTestClient(t, mux).Login(context.Background(), Credentials{Username: "ops"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.ID != 7 || u.Role != RoleOperator {
		t.Errorf("user = %+v", u)
	}
}

func TestLatestLocation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vehicles/1/location", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"latitude": 5.85, "longitude": -55.20, "speed": 12.3,
			"timestamp": "2026-03-01T10:00:00.123456",
		})
	})
	mux.HandleFunc("GET /api/vehicles/2/location", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No location data"})
	})
	mux.HandleFunc("GET /api/vehicles/3/location", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	loc, err := c.LatestLocation(ctx, 1)
	if err != nil {
		t.Fatalf("LatestLocation(1): %v", err)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC)
	if !loc.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", loc.Timestamp, want)
	}
	if loc.Speed != 12.3 || loc.Position() != (LatLng{Lat: 5.85, Lon: -55.20}) {
		t.Errorf("loc = %+v", loc)
	}

	if _, err := c.LatestLocation(ctx, 2); !errors.Is(err, ErrNoLocation) {
		t.Errorf("LatestLocation(2) err = %v, want ErrNoLocation", err)
	}
	_, err = c.LatestLocation(ctx, 3)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 500 {
		t.Errorf("LatestLocation(3) err = %v, want HTTP 500", err)
	}
}

func TestHistoryAndStatsQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vehicles/4/history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("hours") != "72" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hours"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"latitude": 1, "longitude": 2, "speed": 0, "timestamp": "2026-03-01T10:00:00"},
			{"latitude": 1.1, "longitude": 2.1, "speed": 30, "timestamp": "2026-03-01T10:05:00Z"},
		})
	})
	mux.HandleFunc("GET /api/vehicles/4/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"total_points": 2, "avg_speed": 15, "max_speed": 30, "distance_km": 15.7,
			"time_period_hours": 72,
		})
	})
	c := newTestClient(t, mux)

	hist, err := c.History(context.Background(), 4, 72)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || !hist[0].Timestamp.Before(hist[1].Timestamp.Time) {
		t.Errorf("history = %+v", hist)
	}
	st, err := c.Stats(context.Background(), 4, 72)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalPoints != 2 || st.DistanceKM != 15.7 || st.TimePeriodHours != 72 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSavedStops(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vehicles/1/saved-locations", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id": 10, "name": "Auto-detected Stop", "latitude": 5.8, "longitude": -55.1,
			 "stop_duration_minutes": 12, "visit_type": "auto_detected",
			 "timestamp": "2026-03-01T09:00:00", "notes": null},
			{"id": 11, "name": "Warehouse", "latitude": 5.9, "longitude": -55.3,
			 "stop_duration_minutes": null, "visit_type": "manual",
			 "timestamp": "2026-03-01T08:00:00", "notes": "gate B"}
		]`)
	})
	stops, err := newTestClient(t, mux).SavedStops(context.Background(), 1)
	if err != nil {
		t.Fatalf("SavedStops: %v", err)
	}
	if len(stops) != 2 {
		t.Fatalf("len = %d", len(stops))
	}
	if stops[0].VisitType != VisitAutoDetected || stops[0].DurationMinutes == nil || *stops[0].DurationMinutes != 12 {
		t.Errorf("auto stop = %+v", stops[0])
	}
	if stops[0].Notes != nil {
		t.Errorf("null notes decoded as %q", *stops[0].Notes)
	}
	if stops[1].DurationMinutes != nil || stops[1].Notes == nil || *stops[1].Notes != "gate B" {
		t.Errorf("manual stop = %+v", stops[1])
	}
}

func TestCreatePlaceOfInterest(t *testing.T) {
	var got NewPointOfInterest
	reject := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/places-of-interest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" || r.Header.Get("X-Request-ID") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		if reject {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id": 3, "name": got.Name, "latitude": got.Latitude, "longitude": got.Longitude,
			"category": got.Category, "address": got.Address, "description": got.Description,
		})
	})
	c := newTestClient(t, mux)
	req := NewPointOfInterest{Name: "Depot", Latitude: 10, Longitude: 20, Category: "General", Description: "Added from map"}

	p, err := c.CreatePlaceOfInterest(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got != req {
		t.Errorf("server received %+v, want %+v", got, req)
	}
	if p.ID != 3 || p.Name != "Depot" {
		t.Errorf("created = %+v", p)
	}

	reject = true
	_, err = c.CreatePlaceOfInterest(context.Background(), req)
	if !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("rejected create err = %v, want ErrWriteRejected", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-03-01T10:00:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), true},
		{"2026-03-01T10:00:00.5", time.Date(2026, 3, 1, 10, 0, 0, 500000000, time.UTC), true},
		{"2026-03-01T12:00:00+02:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), true},
		{"2026-03-01 10:00:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseTimestamp(%q) err = %v", tt.in, err)
			continue
		}
		if tt.ok && !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got.Time, tt.want)
		}
	}
}

func TestRoleCanPlacePins(t *testing.T) {
	for role, want := range map[Role]bool{
		RoleAdmin: true, RoleManager: true, RoleOperator: true,
		RoleViewer: false, "driver": false, "": false,
	} {
		if got := role.CanPlacePins(); got != want {
			t.Errorf("%q.CanPlacePins() = %v, want %v", role, got, want)
		}
	}
}
