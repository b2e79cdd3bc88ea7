package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tangkapin/dashfeed/internal/snapshot"
	"github.com/tangkapin/dashfeed/internal/ui"
)

var snapshotResources = []string{"officers", "police", "map", "alerts", "notifications", "reports", "stats", "cases", "me"}

var snapshotCmd = &cobra.Command{
	Use:     "snapshot [resource]",
	Short:   "Fetch dashboard state from the REST API",
	GroupID: "api",
	Long: `Without a resource, prints the combined snapshot a dashboard session is
seeded from (map markers and notifications).

Resources: ` + strings.Join(snapshotResources, ", "),
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: snapshotResources,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")

		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		resource := ""
		if len(args) == 1 {
			resource = args[0]
		}
		if err := showResource(ctx, c, resource, page, limit); err != nil {
			if snapshot.IsUnauthorized(err) {
				return fmt.Errorf("%w (run `dashfeed login`)", err)
			}
			return err
		}
		return nil
	},
}

func init() {
	snapshotCmd.Flags().Int("page", 1, "page number for paginated resources")
	snapshotCmd.Flags().Int("limit", 10, "page size for paginated resources")
}

func apiClient() (*snapshot.Client, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("no API URL: set DASHFEED_API_URL or add a profile with `dashfeed profile add`")
	}
	return snapshot.New(cfg.APIURL, cfg.APIToken, snapshot.WithLogger(logger)), nil
}

func showResource(ctx context.Context, c *snapshot.Client, resource string, page, limit int) error {
	var (
		v     any
		err   error
		table func()
	)
	switch resource {
	case "":
		snap, e := c.Fetch(ctx)
		v, err, table = snap, e, func() { printSnapshot(snap) }
	case "officers":
		officers, e := c.AvailableOfficers(ctx)
		v, err = officers, e
		table = func() {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tOFFICE")
			for _, o := range officers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.ID, o.Name, o.Status, o.OfficeName)
			}
			tw.Flush()
		}
	case "police":
		p, e := c.PoliceList(ctx, page, limit)
		v, err = p, e
		table = func() {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPHONE")
			for _, o := range p.Data {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.ID, o.Name, o.Status, o.Phone)
			}
			tw.Flush()
			fmt.Printf("\npage %d of %d (%d total)\n", p.Pagination.Page, p.Pagination.TotalPages, p.Pagination.Total)
		}
	case "map":
		m, e := c.IncidentMap(ctx)
		v, err = m, e
		table = func() {
			fmt.Printf("Incidents: %d   Active officers: %d   Busy: %d\n",
				m.Summary.TotalIncidents, m.Summary.ActiveOfficers, m.Summary.BusyOfficers)
			for typ, n := range m.Summary.IncidentTypes {
				fmt.Printf("  %-20s %d\n", typ, n)
			}
		}
	case "alerts":
		a, e := c.RecentAlerts(ctx)
		v, err = a, e
		table = func() {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tPRIORITY\tTITLE\tLOCATION\tSTATUS")
			for _, al := range a.Alerts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					al.TimeAgo, ui.RenderPriority(al.Priority, al.PriorityLabel), ui.Truncate(al.Title, 40), al.Location, al.Status)
			}
			tw.Flush()
			fmt.Printf("\n%d alerts (%d critical, %d high)\n", a.TotalAlerts, a.CriticalCount, a.HighCount)
		}
	case "notifications":
		ns, e := c.Notifications(ctx)
		v, err = ns, e
		table = func() {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRIORITY\tTITLE\tSTATUS\tCREATED")
			for _, n := range ns {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					n.ID, ui.RenderPriority(n.Priority, string(n.Priority)), ui.Truncate(n.Title, 40), n.Status, n.CreatedAt.Format(time.DateTime))
			}
			tw.Flush()
		}
	case "reports":
		p, e := c.LatestReports(ctx, page, limit)
		v, err = p, e
		table = func() {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tTYPE\tTITLE\tLOCATION")
			for _, r := range p.Data {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.IncidentType.Category(), ui.Truncate(r.Title, 40), r.Location)
			}
			tw.Flush()
			fmt.Printf("\npage %d of %d (%d total)\n", p.Pagination.Page, p.Pagination.TotalPages, p.Pagination.Total)
		}
	case "stats":
		s, e := c.Stats(ctx)
		v, err = s, e
		table = func() {
			fmt.Printf("Total reports:   %d\n", s.TotalReports)
			fmt.Printf("Resolved cases:  %d\n", s.ResolvedCases)
			fmt.Printf("Active police:   %d\n", s.ActivePolice)
			fmt.Printf("Response time:   %.1f min\n", s.ResponseTime)
		}
	case "cases":
		cs, e := c.CaseStatus(ctx)
		v, err = cs, e
		table = func() {
			fmt.Printf("Total cases: %d   Resolution rate: %.1f%%\n", cs.TotalCases, cs.ResolutionRate)
			for st, n := range cs.CaseStatus {
				fmt.Printf("  %-12s %d\n", st, n)
			}
		}
	case "me":
		u, e := c.Me(ctx)
		v, err = u, e
		table = func() {
			fmt.Printf("ID:     %s\nName:   %s\nEmail:  %s\nRole:   %s\n", u.ID, u.Name, u.Email, u.Role)
		}
	default:
		return fmt.Errorf("unknown resource %q (want one of %s)", resource, strings.Join(snapshotResources, ", "))
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(v)
	}
	table()
	return nil
}
