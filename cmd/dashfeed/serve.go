package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"
	"github.com/tangkapin/dashfeed/internal/events"
	"github.com/tangkapin/dashfeed/internal/metrics"
	"github.com/tangkapin/dashfeed/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the incident relay (HTTP ingest, SSE stream, gRPC health)",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsPort, _ := cmd.Flags().GetInt("nats-port")
		embed := cfg.EmbedNATS
		if cmd.Flags().Changed("embed-nats") {
			embed, _ = cmd.Flags().GetBool("embed-nats")
		}

		m := metrics.New(true)
		r := relay.New(
			relay.WithTopic(cfg.Topic, cfg.Event),
			relay.WithLogger(logger),
			relay.WithMetrics(m),
		)

		natsURL := cfg.NATSURL
		var ns *natsserver.Server
		if embed {
			s, err := startEmbeddedNATS(natsPort)
			if err != nil {
				return err
			}
			ns = s
			natsURL = ns.ClientURL()
			logger.Info("embedded NATS started", "url", natsURL)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			publisher  events.Publisher = &events.NoopPublisher{}
			subscriber *events.NATSSubscriber
			bridges    sync.WaitGroup
		)
		if natsURL != "" {
			pub, err := events.NewNATSPublisher(natsURL, events.ConnListenerOptions(r.Listener())...)
			if err != nil {
				shutdownNATS(ns)
				return err
			}
			sub, err := events.NewNATSSubscriber(natsURL)
			if err != nil {
				pub.Close()
				shutdownNATS(ns)
				return err
			}
			publisher, subscriber = pub, sub
			r.SetPublisher(pub)

			bridges.Add(1)
			go func() {
				defer bridges.Done()
				if err := r.Bridge(ctx, sub); err != nil {
					logger.Error("bridge error", "err", err)
				}
			}()
			logger.Info("events enabled", "nats_url", natsURL, "subject", r.Subject())
		} else {
			logger.Info("events disabled, relaying in-process (DASHFEED_NATS_URL not set)")
		}

		grpcServer := relay.NewGRPCServer(r, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			publisher.Close()
			shutdownNATS(ns)
			return fmt.Errorf("listening on %s: %w", cfg.GRPCAddr, err)
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           r.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
				stop()
			}
		}()

		if cfg.AuthToken == "" {
			logger.Warn("auth disabled (DASHFEED_AUTH_TOKEN not set)")
		}
		logger.Info("relay started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"topic", cfg.Topic,
			"event", cfg.Event,
		)

		<-ctx.Done()
		logger.Info("shutting down")

		r.Shutdown()
		bridges.Wait()
		if subscriber != nil {
			subscriber.Close()
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		// Open SSE streams hold their handlers until the client goes away;
		// Shutdown gives up on them after the timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
			httpServer.Close()
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		shutdownNATS(ns)

		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("embed-nats", false, "run an in-process NATS server (overrides DASHFEED_EMBED_NATS)")
	serveCmd.Flags().Int("nats-port", 4222, "port for the embedded NATS server")
}

func startEmbeddedNATS(port int) (*natsserver.Server, error) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded NATS: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS not ready after 5s")
	}
	return ns, nil
}

func shutdownNATS(ns *natsserver.Server) {
	if ns == nil {
		return
	}
	ns.Shutdown()
	ns.WaitForShutdown()
}
