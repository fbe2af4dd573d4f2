// Package config loads the server's environment-variable configuration
// surface (spec §6) using viper's env binding, the way
// Baraahesham-Real-time-auction-service wires viper alongside redis,
// lib/pq, and gorilla/websocket for the same kind of service.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of configuration the server needs, loaded entirely
// from environment variables per spec §6.
type Config struct {
	StoreURL           string
	CoordinatorURL     string
	CredentialSecret   string
	CredentialLifetime time.Duration
	ListenPort         int
	AllowedOrigin      string
	ExpiryTick         time.Duration
	LockTTL            time.Duration

	Telemetry      TelemetryConfig
	LeaderElection LeaderElectionConfig
}

// TelemetryConfig holds OpenTelemetry settings. Not part of spec §6's
// enumerated table, but carried as ambient stack regardless, matching the
// teacher's existing telemetry setup.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	Insecure       bool
}

// LeaderElectionConfig holds Kubernetes leader election settings gating the
// expiry reaper's ticker, per the optional-optimization note in SPEC_FULL.
type LeaderElectionConfig struct {
	Enabled        bool
	LeaseName      string
	LeaseNamespace string
	LeaseDuration  time.Duration
	RenewDeadline  time.Duration
	RetryPeriod    time.Duration
}

// Load binds the enumerated environment variables of spec §6, applies
// defaults, and validates the range constraints the spec enumerates.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	for _, key := range []string{
		"STORE_URL", "COORDINATOR_URL", "CREDENTIAL_SECRET",
		"CREDENTIAL_LIFETIME_HOURS", "LISTEN_PORT", "ALLOWED_ORIGIN",
		"EXPIRY_TICK_MS", "LOCK_TTL_MS",
		"OTEL_SERVICE_NAME", "OTEL_SERVICE_VERSION", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_INSECURE",
		"LEADER_ELECTION_ENABLED", "LEADER_ELECTION_LEASE_NAME", "LEADER_ELECTION_NAMESPACE",
		"LEADER_ELECTION_LEASE_SECONDS", "LEADER_ELECTION_RENEW_DEADLINE_SECONDS",
		"LEADER_ELECTION_RETRY_PERIOD_SECONDS",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	v.SetDefault("CREDENTIAL_LIFETIME_HOURS", 24)
	v.SetDefault("LISTEN_PORT", 3010)
	v.SetDefault("EXPIRY_TICK_MS", 5000)
	v.SetDefault("LOCK_TTL_MS", 5000)
	v.SetDefault("OTEL_SERVICE_NAME", "auctiond")
	v.SetDefault("OTEL_SERVICE_VERSION", "0.1.0")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LEADER_ELECTION_ENABLED", false)
	v.SetDefault("LEADER_ELECTION_LEASE_NAME", "auctiond-leader")
	v.SetDefault("LEADER_ELECTION_NAMESPACE", "default")
	v.SetDefault("LEADER_ELECTION_LEASE_SECONDS", 15)
	v.SetDefault("LEADER_ELECTION_RENEW_DEADLINE_SECONDS", 10)
	v.SetDefault("LEADER_ELECTION_RETRY_PERIOD_SECONDS", 2)

	cfg := &Config{
		StoreURL:           v.GetString("STORE_URL"),
		CoordinatorURL:     v.GetString("COORDINATOR_URL"),
		CredentialSecret:   v.GetString("CREDENTIAL_SECRET"),
		CredentialLifetime: time.Duration(v.GetInt("CREDENTIAL_LIFETIME_HOURS")) * time.Hour,
		ListenPort:         v.GetInt("LISTEN_PORT"),
		AllowedOrigin:      v.GetString("ALLOWED_ORIGIN"),
		ExpiryTick:         time.Duration(v.GetInt("EXPIRY_TICK_MS")) * time.Millisecond,
		LockTTL:            time.Duration(v.GetInt("LOCK_TTL_MS")) * time.Millisecond,
		Telemetry: TelemetryConfig{
			ServiceName:    v.GetString("OTEL_SERVICE_NAME"),
			ServiceVersion: v.GetString("OTEL_SERVICE_VERSION"),
			OTLPEndpoint:   v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:       v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        v.GetBool("LEADER_ELECTION_ENABLED"),
			LeaseName:      v.GetString("LEADER_ELECTION_LEASE_NAME"),
			LeaseNamespace: v.GetString("LEADER_ELECTION_NAMESPACE"),
			LeaseDuration:  time.Duration(v.GetInt("LEADER_ELECTION_LEASE_SECONDS")) * time.Second,
			RenewDeadline:  time.Duration(v.GetInt("LEADER_ELECTION_RENEW_DEADLINE_SECONDS")) * time.Second,
			RetryPeriod:    time.Duration(v.GetInt("LEADER_ELECTION_RETRY_PERIOD_SECONDS")) * time.Second,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// validate enforces the required-field and range constraints of spec §6.
func (c *Config) validate() error {
	if c.StoreURL == "" {
		return fmt.Errorf("STORE_URL is required")
	}
	if c.CoordinatorURL == "" {
		return fmt.Errorf("COORDINATOR_URL is required")
	}
	if len(c.CredentialSecret) < 32 {
		return fmt.Errorf("CREDENTIAL_SECRET must be at least 32 bytes, got %d", len(c.CredentialSecret))
	}
	if c.AllowedOrigin == "" {
		return fmt.Errorf("ALLOWED_ORIGIN is required")
	}
	if hours := c.CredentialLifetime / time.Hour; hours < 1 || hours > 168 {
		return fmt.Errorf("CREDENTIAL_LIFETIME_HOURS must be in 1..168, got %d", hours)
	}
	if c.ListenPort < 1024 || c.ListenPort > 65535 {
		return fmt.Errorf("LISTEN_PORT must be in 1024..65535, got %d", c.ListenPort)
	}
	return nil
}
