package config_test

import (
	"testing"
	"time"

	"github.com/riftauction/auctiond/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_URL", "postgres://localhost/auctiond")
	t.Setenv("COORDINATOR_URL", "redis://localhost:6379/0")
	t.Setenv("CREDENTIAL_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("ALLOWED_ORIGIN", "https://app.example.com")
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T)
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name:  "defaults applied",
			setup: setRequired,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.ListenPort != 3010 {
					t.Errorf("ListenPort = %d, want 3010", cfg.ListenPort)
				}
				if cfg.CredentialLifetime != 24*time.Hour {
					t.Errorf("CredentialLifetime = %v, want 24h", cfg.CredentialLifetime)
				}
				if cfg.ExpiryTick != 5000*time.Millisecond {
					t.Errorf("ExpiryTick = %v, want 5s", cfg.ExpiryTick)
				}
				if cfg.LockTTL != 5000*time.Millisecond {
					t.Errorf("LockTTL = %v, want 5s", cfg.LockTTL)
				}
			},
		},
		{
			name: "overrides applied",
			setup: func(t *testing.T) {
				setRequired(t)
				t.Setenv("LISTEN_PORT", "9090")
				t.Setenv("CREDENTIAL_LIFETIME_HOURS", "48")
				t.Setenv("EXPIRY_TICK_MS", "1000")
				t.Setenv("LOCK_TTL_MS", "2500")
			},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.ListenPort != 9090 {
					t.Errorf("ListenPort = %d, want 9090", cfg.ListenPort)
				}
				if cfg.CredentialLifetime != 48*time.Hour {
					t.Errorf("CredentialLifetime = %v, want 48h", cfg.CredentialLifetime)
				}
				if cfg.ExpiryTick != time.Second {
					t.Errorf("ExpiryTick = %v, want 1s", cfg.ExpiryTick)
				}
				if cfg.LockTTL != 2500*time.Millisecond {
					t.Errorf("LockTTL = %v, want 2.5s", cfg.LockTTL)
				}
			},
		},
		{
			name:    "missing STORE_URL rejected",
			setup:   func(t *testing.T) { t.Setenv("COORDINATOR_URL", "redis://x"); t.Setenv("CREDENTIAL_SECRET", "0123456789abcdef0123456789abcdef"); t.Setenv("ALLOWED_ORIGIN", "https://x") },
			wantErr: true,
		},
		{
			name: "short credential secret rejected",
			setup: func(t *testing.T) {
				setRequired(t)
				t.Setenv("CREDENTIAL_SECRET", "too-short")
			},
			wantErr: true,
		},
		{
			name: "out-of-range credential lifetime rejected",
			setup: func(t *testing.T) {
				setRequired(t)
				t.Setenv("CREDENTIAL_LIFETIME_HOURS", "200")
			},
			wantErr: true,
		},
		{
			name: "out-of-range listen port rejected",
			setup: func(t *testing.T) {
				setRequired(t)
				t.Setenv("LISTEN_PORT", "80")
			},
			wantErr: true,
		},
		{
			name: "missing allowed origin rejected",
			setup: func(t *testing.T) {
				t.Setenv("STORE_URL", "postgres://localhost/auctiond")
				t.Setenv("COORDINATOR_URL", "redis://localhost:6379/0")
				t.Setenv("CREDENTIAL_SECRET", "0123456789abcdef0123456789abcdef")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup(t)
			cfg, err := config.Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}
