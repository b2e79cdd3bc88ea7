package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr  string // DASHFEED_HTTP_ADDR (default ":8080")
	GRPCAddr  string // DASHFEED_GRPC_ADDR (default ":9090")
	NATSURL   string // DASHFEED_NATS_URL (optional, empty = no bus)
	EmbedNATS bool   // DASHFEED_EMBED_NATS (run an in-process NATS server)
	AuthToken string // DASHFEED_AUTH_TOKEN (optional, empty = auth disabled)

	Topic string // DASHFEED_TOPIC (default "officers-dashboard")
	Event string // DASHFEED_EVENT (default "incident-update")

	APIURL   string // DASHFEED_API_URL (snapshot REST API)
	APIToken string // DASHFEED_API_TOKEN
	RelayURL string // DASHFEED_RELAY_URL (SSE transport for watch)

	AlertTTL       time.Duration // DASHFEED_ALERT_TTL (default 5s)
	DecayWindow    time.Duration // DASHFEED_DECAY_WINDOW (default 1h)
	ResyncInterval time.Duration // DASHFEED_RESYNC_INTERVAL (default 5m)
	TickInterval   time.Duration // DASHFEED_TICK_INTERVAL (default 30s)

	// Evidence storage
	EvidenceRegion   string        // DASHFEED_EVIDENCE_REGION (enables s3:// evidence when set)
	EvidenceEndpoint string        // DASHFEED_EVIDENCE_ENDPOINT (custom endpoint for MinIO)
	EvidenceTTL      time.Duration // DASHFEED_EVIDENCE_TTL (default 15m)

	LogLevel string // DASHFEED_LOG_LEVEL (default "info")
}

// Load reads the environment. Connection settings left unset fall back to the
// active profile, if any.
func Load() (*Config, error) {
	c := &Config{
		HTTPAddr:         envOrDefault("DASHFEED_HTTP_ADDR", ":8080"),
		GRPCAddr:         envOrDefault("DASHFEED_GRPC_ADDR", ":9090"),
		NATSURL:          os.Getenv("DASHFEED_NATS_URL"),
		AuthToken:        os.Getenv("DASHFEED_AUTH_TOKEN"),
		Topic:            envOrDefault("DASHFEED_TOPIC", "officers-dashboard"),
		Event:            envOrDefault("DASHFEED_EVENT", "incident-update"),
		APIURL:           os.Getenv("DASHFEED_API_URL"),
		APIToken:         os.Getenv("DASHFEED_API_TOKEN"),
		RelayURL:         os.Getenv("DASHFEED_RELAY_URL"),
		EvidenceRegion:   os.Getenv("DASHFEED_EVIDENCE_REGION"),
		EvidenceEndpoint: os.Getenv("DASHFEED_EVIDENCE_ENDPOINT"),
		LogLevel:         envOrDefault("DASHFEED_LOG_LEVEL", "info"),
	}

	if v := os.Getenv("DASHFEED_EMBED_NATS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("DASHFEED_EMBED_NATS: %w", err)
		}
		c.EmbedNATS = b
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"DASHFEED_ALERT_TTL", "5s", &c.AlertTTL},
		{"DASHFEED_DECAY_WINDOW", "1h", &c.DecayWindow},
		{"DASHFEED_RESYNC_INTERVAL", "5m", &c.ResyncInterval},
		{"DASHFEED_TICK_INTERVAL", "30s", &c.TickInterval},
		{"DASHFEED_EVIDENCE_TTL", "15m", &c.EvidenceTTL},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%s: must be positive, got %s", d.key, v)
		}
		*d.dst = v
	}

	if p, ok := ActiveProfile(); ok {
		c.applyProfile(p)
	}
	return c, nil
}

// applyProfile fills connection settings the environment left empty.
func (c *Config) applyProfile(p Profile) {
	if c.APIURL == "" {
		c.APIURL = p.APIURL
	}
	if c.APIToken == "" {
		c.APIToken = p.Token
	}
	if c.NATSURL == "" {
		c.NATSURL = p.NATSURL
	}
	if c.RelayURL == "" {
		c.RelayURL = p.RelayURL
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
