// Command fleet-snapshot prints the fleet views mirrored in redis by running
// dashboards.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/pflag"

	"fleet-dashboard/internal/config"
	"fleet-dashboard/internal/store"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		configPath string
		redisAddr  string
		redisDB    int
		userID     int64
		timezone   string
	)
	flagSet := pflag.NewFlagSet("fleet-snapshot", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "dashboard YAML config to read redis settings from")
	flagSet.StringVar(&redisAddr, "redis", "", "redis address (overrides the config)")
	flagSet.IntVar(&redisDB, "db", -1, "redis database (overrides the config)")
	flagSet.Int64Var(&userID, "user", 0, "only show the fleet mirrored for this user id")
	flagSet.StringVar(&timezone, "tz", "", "timezone for report times (default: the config's)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}
	if redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if timezone != "" {
		cfg.Timezone = timezone
	}
	if cfg.RedisAddr == "" {
		return errors.New("no redis address: pass --redis or set redis_addr in the config")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mirror, err := store.NewFleetMirror(ctx, cfg.RedisAddr, cfg.RedisDB, 0)
	if err != nil {
		return err
	}
	defer mirror.Close()

	var snaps []store.FleetSnapshot
	if userID != 0 {
		snap, err := mirror.LoadFleet(ctx, userID)
		if err != nil {
			return err
		}
		snaps = []store.FleetSnapshot{snap}
	} else if snaps, err = mirror.LoadFleets(ctx); err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(out, "no fleet snapshots mirrored")
		return nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].UserID < snaps[j].UserID })

	for _, snap := range snaps {
		fmt.Fprintln(out, renderSnapshot(snap, loc))
	}
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func renderSnapshot(snap store.FleetSnapshot, loc *time.Location) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "VEHICLE", "LAT", "LON", "SPEED", "REPORTED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for _, v := range snap.Vehicles {
		if v.LastLocation == nil {
			t.Row(strconv.FormatInt(v.ID, 10), v.Name, "-", "-", "-", dimStyle.Render("no location"))
			continue
		}
		l := v.LastLocation
		t.Row(
			strconv.FormatInt(v.ID, 10),
			v.Name,
			strconv.FormatFloat(l.Latitude, 'f', 5, 64),
			strconv.FormatFloat(l.Longitude, 'f', 5, 64),
			fmt.Sprintf("%.1f km/h", l.Speed),
			l.Timestamp.In(loc).Format("2006-01-02 15:04:05"),
		)
	}

	title := titleStyle.Render(fmt.Sprintf("user %d", snap.UserID)) + " " +
		dimStyle.Render("saved "+snap.SavedAt.In(loc).Format(time.RFC3339))
	return title + "\n" + t.Render()
}
