package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/store"
)

// CredentialRepo implements store.CredentialRepository with sqlx, backing
// the revocation set the socket gateway falls back to on a coordinator
// cache miss (spec §4.6, §4.7).
type CredentialRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewCredentialRepo returns a new CredentialRepo.
func NewCredentialRepo(db *sqlx.DB, clk clock.Clock) *CredentialRepo {
	return &CredentialRepo{db: db, clock: clk}
}

func (r *CredentialRepo) InsertRevokedCredential(ctx context.Context, cred store.RevokedCredential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revoked_credentials (credential, expires_at) VALUES ($1, $2)
		 ON CONFLICT (credential) DO NOTHING`,
		cred.Credential, cred.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting revoked credential: %w", err)
	}
	return nil
}

func (r *CredentialRepo) LookupRevokedCredential(ctx context.Context, credential string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM revoked_credentials WHERE credential = $1 AND expires_at > $2)`,
		credential, r.clock.Now(),
	)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("looking up revoked credential: %w", err)
	}
	return exists, nil
}

// CleanupExpiredRevocations deletes revocation rows whose own expiry has
// passed, returning the number of rows removed.
func (r *CredentialRepo) CleanupExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM revoked_credentials WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired revocations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
