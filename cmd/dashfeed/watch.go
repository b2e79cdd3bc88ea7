package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tangkapin/dashfeed/internal/aggregator"
	"github.com/tangkapin/dashfeed/internal/alert"
	"github.com/tangkapin/dashfeed/internal/channel"
	"github.com/tangkapin/dashfeed/internal/events"
	"github.com/tangkapin/dashfeed/internal/evidence"
	"github.com/tangkapin/dashfeed/internal/metrics"
	"github.com/tangkapin/dashfeed/internal/session"
	"github.com/tangkapin/dashfeed/internal/snapshot"
	"github.com/tangkapin/dashfeed/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Open a dashboard session and render it live",
	GroupID: "feed",
	Long: `Fetches the dashboard snapshot, subscribes to the incident channel and
redraws on every change. Events arriving before the snapshot are buffered and
applied once it lands.

The channel is read from NATS when DASHFEED_NATS_URL is set, otherwise from
the relay's event stream at DASHFEED_RELAY_URL.

On a terminal, press Enter to dismiss the visible alert.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		recent, _ := cmd.Flags().GetInt("recent")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		if cfg.APIURL == "" {
			return errors.New("no API URL: set DASHFEED_API_URL or add a profile with `dashfeed profile add`")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := metrics.New(false)
		conn := session.NewConnState()

		sub, err := openSubscriber(conn)
		if err != nil {
			return err
		}
		defer sub.Close()

		res, err := evidence.New(ctx, evidence.Config{
			Region:   cfg.EvidenceRegion,
			Endpoint: cfg.EvidenceEndpoint,
			TTL:      cfg.EvidenceTTL,
		})
		if err != nil {
			return err
		}

		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server error", "err", err)
				}
			}()
			defer srv.Close()
		}

		client := channel.NewClient(sub,
			channel.WithLogger(logger),
			channel.WithObserver(m.ChannelObserver()),
		)
		defer client.Close()

		source := snapshot.New(cfg.APIURL, cfg.APIToken, snapshot.WithLogger(logger))

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		render := func(f session.Frame) {
			if jsonOutput {
				_ = writeFrameJSON(os.Stdout, f)
				return
			}
			fmt.Print(ui.ClearScreen())
			renderFrame(os.Stdout, f, time.Now(), ui.Width())
		}
		if once {
			var printed sync.Once
			render = func(f session.Frame) {
				if f.StateName != aggregator.Seeded.String() {
					return
				}
				printed.Do(func() {
					if jsonOutput {
						_ = writeFrameJSON(os.Stdout, f)
					} else {
						renderFrame(os.Stdout, f, time.Now(), ui.Width())
					}
					cancel()
				})
			}
		}

		sess := session.New(client, source,
			session.WithTopic(cfg.Topic, cfg.Event),
			session.WithLogger(logger),
			session.WithMetrics(m),
			session.WithConnState(conn),
			session.WithEvidence(res),
			session.WithRender(render),
			session.WithTickInterval(cfg.TickInterval),
			session.WithResyncInterval(cfg.ResyncInterval),
			session.WithRecentLimit(recent),
			session.WithAggregator(aggregator.WithDecayWindow(cfg.DecayWindow)),
			session.WithAlerts(alert.WithTTL(cfg.AlertTTL)),
		)
		logger.Debug("session opened", "session", sess.ID(), "topic", cfg.Topic)

		if !once && !jsonOutput && ui.IsTerminal(os.Stdin) {
			go dismissOnEnter(runCtx, sess)
		}

		err = sess.Run(runCtx)
		if snapshot.IsUnauthorized(err) {
			return fmt.Errorf("%w (run `dashfeed login`)", err)
		}
		return err
	},
}

func init() {
	watchCmd.Flags().Bool("once", false, "print the first seeded frame and exit")
	watchCmd.Flags().Int("recent", session.DefaultRecentLimit, "number of recent alerts to show")
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
}

// openSubscriber picks the channel transport: NATS when configured, the
// relay's SSE stream otherwise.
func openSubscriber(conn *session.ConnState) (events.Subscriber, error) {
	switch {
	case cfg.NATSURL != "":
		sub, err := events.NewNATSSubscriber(cfg.NATSURL, events.ConnListenerOptions(conn.Listener())...)
		if err != nil {
			return nil, err
		}
		logger.Debug("channel transport", "transport", "nats", "url", cfg.NATSURL)
		return sub, nil
	case cfg.RelayURL != "":
		logger.Debug("channel transport", "transport", "sse", "url", cfg.RelayURL)
		return events.NewSSESubscriber(cfg.RelayURL, cfg.AuthToken,
			events.WithSSEListener(conn.Listener()),
			events.WithSSELogger(logger),
		), nil
	default:
		return nil, errors.New("no channel transport: set DASHFEED_NATS_URL or DASHFEED_RELAY_URL")
	}
}

func dismissOnEnter(ctx context.Context, sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		sess.DismissAlert()
	}
}
