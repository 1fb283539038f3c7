// Package api is the HTTP client for the tracking backend. Every call
// carries the session cookie set by Login.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// New returns a client for the backend rooted at baseURL. A nil httpClient
// gets a fresh one with its own cookie jar.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: unsupported scheme", baseURL)
	}
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Jar: jar}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: u, httpClient: httpClient, logger: logger.With("component", "api")}, nil
}

func (c *Client) CheckSession(ctx context.Context) (Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, "/api/auth/check", nil, nil, &s); err != nil {
		return Session{}, err
	}
	if !s.Authenticated {
		s.User = nil
	}
	return s, nil
}

// Login accepts either {"user": {...}} or a bare user object.
func (c *Client) Login(ctx context.Context, creds Credentials) (User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, creds, &raw); err != nil {
		return User{}, err
	}
	var wrapped struct {
		User *User `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil {
		return *wrapped.User, nil
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return User{}, fmt.Errorf("decode login response: %w", err)
	}
	return u, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
}

func (c *Client) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	var vs []Vehicle
	if err := c.do(ctx, http.MethodGet, "/api/vehicles", nil, nil, &vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// LatestLocation returns ErrNoLocation (wrapped) when the vehicle has never reported.
func (c *Client) LatestLocation(ctx context.Context, vehicleID int64) (LocationSample, error) {
	var s LocationSample
	err := c.do(ctx, http.MethodGet, vehiclePath(vehicleID, "location"), nil, nil, &s)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return LocationSample{}, fmt.Errorf("vehicle %d: %w", vehicleID, ErrNoLocation)
	}
	if err != nil {
		return LocationSample{}, err
	}
	return s, nil
}

func (c *Client) History(ctx context.Context, vehicleID int64, hours int) ([]LocationSample, error) {
	q := url.Values{"hours": {strconv.Itoa(hours)}}
	var samples []LocationSample
	if err := c.do(ctx, http.MethodGet, vehiclePath(vehicleID, "history"), q, nil, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *Client) SavedStops(ctx context.Context, vehicleID int64) ([]SavedStop, error) {
	var stops []SavedStop
	if err := c.do(ctx, http.MethodGet, vehiclePath(vehicleID, "saved-locations"), nil, nil, &stops); err != nil {
		return nil, err
	}
	return stops, nil
}

func (c *Client) Stats(ctx context.Context, vehicleID int64, hours int) (Stats, error) {
	q := url.Values{"hours": {strconv.Itoa(hours)}}
	var st Stats
	if err := c.do(ctx, http.MethodGet, vehiclePath(vehicleID, "stats"), q, nil, &st); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (c *Client) PlacesOfInterest(ctx context.Context) ([]PointOfInterest, error) {
	var places []PointOfInterest
	if err := c.do(ctx, http.MethodGet, "/api/places-of-interest", nil, nil, &places); err != nil {
		return nil, err
	}
	return places, nil
}

// CreatePlaceOfInterest wraps ErrWriteRejected on any failure to store the place.
func (c *Client) CreatePlaceOfInterest(ctx context.Context, p NewPointOfInterest) (PointOfInterest, error) {
	var created PointOfInterest
	if err := c.do(ctx, http.MethodPost, "/api/places-of-interest", nil, p, &created); err != nil {
		return PointOfInterest{}, fmt.Errorf("%w: %w", ErrWriteRejected, err)
	}
	return created, nil
}

func vehiclePath(id int64, leaf string) string {
	return "/api/vehicles/" + strconv.FormatInt(id, 10) + "/" + leaf
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, Code: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if b, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			if json.Unmarshal(b, &payload) == nil {
				se.Message = payload.Error
			}
		}
		c.logger.Debug("backend rejected request",
			"method", method, "path", path, "status", resp.StatusCode,
			"request_id", req.Header.Get("X-Request-ID"))
		return se
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
