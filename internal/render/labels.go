package render

import (
	"fmt"
	"strings"
	"time"

	"fleet-dashboard/internal/api"
)

// Palette is indexed by vehicle identity, so a vehicle keeps its color
// whatever the roster order and whether or not it is selected.
var Palette = []string{"#3b82f6", "#ef4444", "#10b981", "#f59e0b", "#8b5cf6"}

// ColorFor returns the palette entry for a vehicle id. Ids start at 1;
// zero and negative ids still map into the palette.
func ColorFor(id int64) string {
	n := int64(len(Palette))
	return Palette[((id-1)%n+n)%n]
}

const timeLayout = "2006-01-02 15:04:05"

func formatTime(ts api.Timestamp, loc *time.Location) string {
	if ts.IsZero() {
		return "Time: unknown"
	}
	return "Time: " + ts.In(loc).Format(timeLayout)
}

func speed(kmh float64) string {
	return fmt.Sprintf("Speed: %.1f km/h", kmh)
}

func coords(p api.LatLng) string {
	return fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lon)
}

func vehiclePopup(v api.Vehicle, loc *time.Location) []string {
	return []string{v.Name, speed(v.LastLocation.Speed), formatTime(v.LastLocation.Timestamp, loc)}
}

func savedStopPopup(s api.SavedStop, loc *time.Location) []string {
	lines := []string{s.Name}
	if s.VisitType == api.VisitAutoDetected && s.DurationMinutes != nil {
		lines = append(lines, fmt.Sprintf("Stop Duration: %d min", *s.DurationMinutes))
	}
	lines = append(lines, formatTime(s.Timestamp, loc))
	if s.Notes != nil && strings.TrimSpace(*s.Notes) != "" {
		lines = append(lines, *s.Notes)
	}
	return lines
}

func placePopup(p api.PointOfInterest) []string {
	lines := []string{p.Name}
	for _, s := range []string{p.Category, p.Address, p.Description} {
		if strings.TrimSpace(s) != "" {
			lines = append(lines, s)
		}
	}
	return lines
}
