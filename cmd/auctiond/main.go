// Command auctiond runs the real-time auction bidding server: the socket
// gateway, bid pipeline, and expiry reaper described by spec §4.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/riftauction/auctiond/internal/store/postgres"

	"github.com/riftauction/auctiond/internal/bidding"
	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/config"
	"github.com/riftauction/auctiond/internal/coordinator"
	"github.com/riftauction/auctiond/internal/credential"
	"github.com/riftauction/auctiond/internal/gateway"
	"github.com/riftauction/auctiond/internal/health"
	"github.com/riftauction/auctiond/internal/leader"
	"github.com/riftauction/auctiond/internal/lock"
	"github.com/riftauction/auctiond/internal/reaper"
	"github.com/riftauction/auctiond/internal/room"
	"github.com/riftauction/auctiond/internal/store"
	"github.com/riftauction/auctiond/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()
	logger := tel.Logger

	clk := clock.Real{}

	repos, err := store.Open(ctx, store.Config{Driver: "postgres", URL: cfg.StoreURL}, clk)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer repos.Closer.Close()

	coord, err := coordinator.NewRedisCoordinator(cfg.CoordinatorURL)
	if err != nil {
		return fmt.Errorf("connecting to coordinator: %w", err)
	}
	defer coord.Close()

	locks := lock.New(coord)
	rooms := room.New(coord, repos.Auctions, logger)
	pipeline := bidding.New(repos.Auctions, locks, coord, rooms, clk, cfg.LockTTL, logger)

	issuer, err := credential.NewIssuer([]byte(cfg.CredentialSecret), cfg.CredentialLifetime, clk)
	if err != nil {
		return fmt.Errorf("constructing credential issuer: %w", err)
	}
	revocation := gateway.NewRevocationCache(coord, repos.Credentials, 5*time.Minute)

	gw := gateway.New(issuer, revocation, pipeline, rooms, clk, cfg.AllowedOrigin, logger)
	rp := reaper.New(repos.Auctions, rooms, clk, logger)

	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "store", Check: repos.Ping},
		health.Checker{Name: "coordinator", Check: coord.Ping},
	)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.HandleFunc("/livez", healthHandler.LivenessHandler())
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ListenPort),
		Handler: mux,
	}

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()

	if cfg.LeaderElection.Enabled {
		go func() {
			err := leader.Run(reaperCtx, leader.Config{
				Enabled:        cfg.LeaderElection.Enabled,
				LeaseName:      cfg.LeaderElection.LeaseName,
				LeaseNamespace: cfg.LeaderElection.LeaseNamespace,
				LeaseDuration:  cfg.LeaderElection.LeaseDuration,
				RenewDeadline:  cfg.LeaderElection.RenewDeadline,
				RetryPeriod:    cfg.LeaderElection.RetryPeriod,
			}, logger,
				func(leadCtx context.Context) { rp.Run(leadCtx, cfg.ExpiryTick) },
				func() {},
			)
			if err != nil {
				logger.Error("leader election exited", "error", err)
			}
		}()
	} else {
		go rp.Run(reaperCtx, cfg.ExpiryTick)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		healthHandler.SetReady(true)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	healthHandler.SetReady(false)
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
