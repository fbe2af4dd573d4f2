// Package postgres implements the store.Driver backed by Postgres via sqlx,
// instrumented with OpenTelemetry through otelsql.
package postgres

import (
	"context"
	"fmt"
	"io"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/store"
)

func init() {
	store.Register("postgres", open)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// open is the store.Driver for the "postgres" backend.
func open(ctx context.Context, cfg store.Config, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	return &store.Repositories{
		Auctions:    NewAuctionRepo(db, clk),
		Credentials: NewCredentialRepo(db, clk),
		Closer:      closerFunc(db.Close),
		Ping:        db.PingContext,
	}, nil
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	// Register the OTel-instrumented driver wrapping lib/pq. Safe to call
	// more than once in-process: otelsql.Register is idempotent per dsn
	// attributes, mirroring how the teacher's single-driver setup worked.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

var _ io.Closer = closerFunc(nil)
