package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-dashboard/internal/api"
)

// ErrNoSnapshot is returned when no fleet is mirrored for a user.
var ErrNoSnapshot = errors.New("store: no fleet snapshot")

const keyPrefix = "fleet:"

// FleetSnapshot is the mirrored fleet view of one dashboard user.
type FleetSnapshot struct {
	UserID   int64         `json:"user_id"`
	SavedAt  time.Time     `json:"saved_at"`
	Vehicles []api.Vehicle `json:"vehicles"`
}

// FleetMirror keeps a copy of the latest applied fleet view per user in
// redis, so tools outside the dashboard can read it.
type FleetMirror struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewFleetMirror connects to redis and pings it. ttl bounds how long a
// snapshot survives a dashboard that stopped without logging out; zero
// keeps snapshots until they are cleared.
func NewFleetMirror(ctx context.Context, addr string, db int, ttl time.Duration) (*FleetMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &FleetMirror{rdb: rdb, ttl: ttl, now: time.Now}, nil
}

func (m *FleetMirror) Close() error { return m.rdb.Close() }

func fleetKey(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10) + ":snapshot"
}

func userFromKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return 0, false
	}
	id, ok := strings.CutSuffix(rest, ":snapshot")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil
}

func (m *FleetMirror) SaveFleet(ctx context.Context, userID int64, vehicles []api.Vehicle) error {
	if vehicles == nil {
		vehicles = []api.Vehicle{}
	}
	b, err := json.Marshal(FleetSnapshot{UserID: userID, SavedAt: m.now().UTC(), Vehicles: vehicles})
	if err != nil {
		return fmt.Errorf("encode fleet snapshot: %w", err)
	}
	key := fleetKey(userID)
	if err := m.rdb.Set(ctx, key, b, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

func (m *FleetMirror) ClearFleet(ctx context.Context, userID int64) error {
	key := fleetKey(userID)
	if err := m.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	return nil
}

func (m *FleetMirror) LoadFleet(ctx context.Context, userID int64) (FleetSnapshot, error) {
	key := fleetKey(userID)
	val, err := m.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return FleetSnapshot{}, fmt.Errorf("user %d: %w", userID, ErrNoSnapshot)
	}
	if err != nil {
		return FleetSnapshot{}, fmt.Errorf("redis GET %s: %w", key, err)
	}
	var snap FleetSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return FleetSnapshot{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return snap, nil
}

// LoadFleets returns every mirrored snapshot. Keys that vanish or fail to
// decode between the scan and the read are skipped.
func (m *FleetMirror) LoadFleets(ctx context.Context) ([]FleetSnapshot, error) {
	var keys []string
	iter := m.rdb.Scan(ctx, 0, keyPrefix+"*:snapshot", 100).Iterator()
	for iter.Next(ctx) {
		if _, ok := userFromKey(iter.Val()); ok {
			keys = append(keys, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis SCAN: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := m.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET: %w", err)
	}
	out := make([]FleetSnapshot, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var snap FleetSnapshot
		if err := json.Unmarshal([]byte(s), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}
