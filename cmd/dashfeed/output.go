package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tangkapin/dashfeed/internal/model"
	"github.com/tangkapin/dashfeed/internal/session"
	"github.com/tangkapin/dashfeed/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// writeFrameJSON writes f as one NDJSON line.
func writeFrameJSON(w io.Writer, f session.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// renderFrame draws the dashboard as text.
func renderFrame(w io.Writer, f session.Frame, now time.Time, width int) {
	header := ui.RenderAccent("Officers Dashboard") + "  " + ui.RenderMuted(f.Session)
	switch {
	case f.Stale:
		header += "  " + ui.RenderCritical("[RECONNECTING]")
	case f.StateName != "seeded":
		header += "  " + ui.RenderMuted("[loading]")
	}
	fmt.Fprintln(w, header)

	available := 0
	for _, o := range f.Officers {
		if o.Status == model.OfficerAvailable {
			available++
		}
	}
	fmt.Fprintf(w, "Officers: %d (%d available)   Incidents: %d   Alerts: %d (%s unread, %d critical, %d high)\n",
		len(f.Officers), available, len(f.Incidents), f.TotalAlerts,
		unreadBadge(f.UnreadRecent), f.CriticalCount(), f.HighCount())
	if f.Pending > 0 {
		fmt.Fprintln(w, ui.RenderMuted(fmt.Sprintf("%d events waiting for snapshot", f.Pending)))
	}

	if a := f.Alert; a != nil {
		fmt.Fprintln(w)
		line := fmt.Sprintf("! %s  %s  %s", strings.ToUpper(a.Envelope.Priority.String()), a.Title, a.Envelope.Location)
		line = ui.Truncate(line, width)
		if a.Critical {
			fmt.Fprintln(w, ui.RenderCritical(line))
		} else {
			fmt.Fprintln(w, ui.RenderPriority(a.Envelope.Priority, line))
		}
		if a.EvidenceURL != "" {
			fmt.Fprintln(w, "  evidence: "+ui.RenderMuted(ui.Truncate(a.EvidenceURL, width-12)))
		}
	}

	if len(f.Recent) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGE\tPRIORITY\tTITLE\tLOCATION\tSTATUS")
	for _, n := range f.Recent {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			formatAge(now, n.CreatedAt),
			ui.RenderPriority(n.Priority, n.Priority.Label()),
			ui.Truncate(n.Title, 40),
			ui.Truncate(n.Location, 30),
			n.Status,
		)
	}
	tw.Flush()
}

// unreadBadge caps the badge the way the dashboard header does.
func unreadBadge(n int) string {
	if n > 99 {
		return "99+"
	}
	return fmt.Sprint(n)
}

func formatAge(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func printMarkers(title string, ms []model.Marker) {
	fmt.Println(ui.RenderAccent(title + ":"))
	if len(ms) == 0 {
		fmt.Println("  " + ui.RenderMuted("none"))
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tSTATUS\tNAME\tPOSITION")
	for _, m := range ms {
		name := m.Metadata["name"]
		if name == "" {
			name = m.Metadata["title"]
		}
		pos := "-"
		if m.Coordinates != nil {
			pos = fmt.Sprintf("%.5f,%.5f", m.Coordinates.Latitude, m.Coordinates.Longitude)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", m.ID, m.Status, ui.Truncate(name, 40), pos)
	}
	tw.Flush()
}

func printSnapshot(snap *model.Snapshot) {
	printMarkers("Officers", snap.Officers)
	fmt.Println()
	printMarkers("Incidents", snap.Incidents)
	fmt.Println()
	fmt.Println(ui.RenderAccent("Notifications:"))
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  AGE\tPRIORITY\tTITLE\tSTATUS")
	for _, n := range snap.Notifications {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
			formatAge(snap.FetchedAt, n.CreatedAt),
			ui.RenderPriority(n.Priority, string(n.Priority)),
			ui.Truncate(n.Title, 50),
			n.Status,
		)
	}
	tw.Flush()
	fmt.Printf("\nfetched at %s\n", snap.FetchedAt.Format(time.RFC3339))
}
