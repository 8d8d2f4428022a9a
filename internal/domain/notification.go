package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TrackerBaseURL is the public SondeHub tracker used in notification links.
const TrackerBaseURL = "https://sondehub.org/"

// NotificationRequest is emitted on the rising edge of a criterion for a sonde.
type NotificationRequest struct {
	ID            string         `json:"id"`
	Criterion     string         `json:"criterion"`
	ObjectID      string         `json:"object_id"`
	Event         TelemetryEvent `json:"event"`
	DistanceMiles *float64       `json:"distance_miles,omitempty"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	TrackerURL    string         `json:"tracker_url"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TrackerURL returns the SondeHub tracker link for a serial.
func TrackerURL(serial string) string {
	return TrackerBaseURL + "?sonde=" + url.QueryEscape(serial)
}

// FormatNotification renders the title and body of an alert. Optional fields
// that are unknown are left out rather than failing the notification.
func FormatNotification(criterion string, event TelemetryEvent, loc Location, distanceMiles *float64) (title, body string) {
	title = "SondeAlert: " + criterion

	var b strings.Builder
	if loc.Name != "" {
		fmt.Fprintf(&b, "Radiosonde %s detected near %s!\n", event.ObjectID, loc.Name)
	} else {
		fmt.Fprintf(&b, "Radiosonde %s detected!\n", event.ObjectID)
	}
	if distanceMiles != nil {
		fmt.Fprintf(&b, "Distance: %.1f miles\n", *distanceMiles)
	}
	fmt.Fprintf(&b, "Altitude: %.0f ft\n", event.AltitudeFt)
	if event.ClimbRate != nil {
		status := "ascending"
		if *event.ClimbRate < 0 {
			status = "descending"
		}
		fmt.Fprintf(&b, "Vertical speed: %.1f m/s (%s)\n", *event.ClimbRate, status)
	}
	if t := sondeType(event); t != "" {
		fmt.Fprintf(&b, "Type: %s\n", t)
	}
	fmt.Fprintf(&b, "\nTrack it: %s", TrackerURL(event.ObjectID))

	return title, b.String()
}

func sondeType(event TelemetryEvent) string {
	if event.Subtype != "" {
		return event.Subtype
	}
	return event.Type
}
