package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/tangkapin/dashfeed/internal/events"
	"github.com/tangkapin/dashfeed/internal/idgen"
	"github.com/tangkapin/dashfeed/internal/model"
)

var emitCmd = &cobra.Command{
	Use:     "emit",
	Short:   "Publish an incident update to the channel",
	GroupID: "feed",
	Long: `Builds an incident envelope from flags (or reads one as JSON with --file,
"-" for stdin) and publishes it. The relay at DASHFEED_RELAY_URL is used when
set, otherwise the event goes straight to NATS.

A report ID is generated when --id is omitted.`,
	Example: `  dashfeed emit --type theft --location "Jl. Merdeka" --priority high --lat -6.2 --lng 106.8
  dashfeed emit --file incident.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := envelopeFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := env.Validate(); err != nil {
			return err
		}
		payload, err := env.Encode()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		subject := events.Subject(cfg.Topic, cfg.Event)
		switch {
		case cfg.RelayURL != "":
			err = postIncident(ctx, http.DefaultClient, cfg.RelayURL, cfg.AuthToken, payload)
		case cfg.NATSURL != "":
			err = publishIncident(ctx, cfg.NATSURL, subject, payload)
		default:
			return errors.New("no channel transport: set DASHFEED_RELAY_URL or DASHFEED_NATS_URL")
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(env)
		}
		fmt.Printf("emitted %s (%s, %s) on %s\n", env.ReportID, env.Title(), env.Priority, subject)
		return nil
	},
}

func init() {
	addEmitFlags(emitCmd)
}

func addEmitFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "read the envelope as JSON from a file (- for stdin)")
	cmd.Flags().String("id", "", "report ID (generated when empty)")
	cmd.Flags().String("type", string(model.IncidentOther), "incident type")
	cmd.Flags().String("location", "", "human-readable location")
	cmd.Flags().String("priority", string(model.PriorityMedium), "priority (low, medium, high, critical)")
	cmd.Flags().String("status", string(model.ReportNew), "report status")
	cmd.Flags().String("evidence", "", "evidence reference (https:// or s3://)")
	cmd.Flags().Float64("lat", 0, "incident latitude")
	cmd.Flags().Float64("lng", 0, "incident longitude")
	cmd.Flags().String("officer", "", "assigned officer ID")
	cmd.Flags().String("officer-status", "", "assigned officer status")
}

// envelopeFromFlags builds the envelope from --file or the individual flags.
// Flags explicitly set on the command line override values from the file.
func envelopeFromFlags(cmd *cobra.Command) (model.Envelope, error) {
	var env model.Envelope
	file, _ := cmd.Flags().GetString("file")
	if file != "" {
		data, err := readInput(file)
		if err != nil {
			return env, err
		}
		if env, err = model.DecodeEnvelope(data); err != nil {
			return env, err
		}
	}

	flags := cmd.Flags()
	setString := func(name string, dst *string) {
		if file == "" || flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	setString("id", &env.ReportID)
	setString("location", &env.Location)
	setString("evidence", &env.EvidenceURL)
	typ, status, prio := string(env.IncidentType), string(env.Status), string(env.Priority)
	setString("type", &typ)
	setString("status", &status)
	setString("priority", &prio)
	env.IncidentType = model.IncidentType(typ)
	env.Status = model.ReportStatus(status)

	p, err := model.ParsePriority(prio)
	if err != nil {
		return env, err
	}
	env.Priority = p

	if flags.Changed("lat") || flags.Changed("lng") {
		lat, _ := flags.GetFloat64("lat")
		lng, _ := flags.GetFloat64("lng")
		env.Coordinates = &model.Coordinates{Latitude: lat, Longitude: lng}
	}
	if id, _ := flags.GetString("officer"); id != "" {
		st, _ := flags.GetString("officer-status")
		env.Officer = &model.OfficerRef{ID: id, Status: st}
	}

	if strings.TrimSpace(env.ReportID) == "" {
		env.ReportID = idgen.Must(idgen.PrefixReport)
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	return env, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// postIncident sends payload to the relay's ingest endpoint.
func postIncident(ctx context.Context, hc *http.Client, relayURL, token string, payload []byte) error {
	url := strings.TrimRight(relayURL, "/") + "/v1/incidents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			return fmt.Errorf("relay rejected incident (%d): %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("relay rejected incident (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

func publishIncident(ctx context.Context, natsURL, subject string, payload []byte) error {
	pub, err := events.NewNATSPublisher(natsURL)
	if err != nil {
		return err
	}
	defer pub.Close()
	return pub.Publish(ctx, subject, payload)
}
