package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recaphq/recap/pkg/models"
)

// AliasStore caches directory alias resolutions so repeated distributions do
// not re-query the directory for the same address.
type AliasStore struct {
	db *sqlx.DB
}

// NewAliasStore creates an alias cache repository.
func NewAliasStore(db *sqlx.DB) *AliasStore {
	return &AliasStore{db: db}
}

// Get returns the cached alias entry, or ErrNotFound when absent or expired.
// Expired entries are treated as missing so callers re-resolve and refresh.
func (s *AliasStore) Get(ctx context.Context, aliasKey string) (*models.EmailAlias, error) {
	var alias models.EmailAlias
	err := s.db.GetContext(ctx, &alias,
		`SELECT * FROM email_aliases WHERE alias_key = $1`, aliasKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alias: %w", err)
	}
	if alias.Expired(time.Now().UTC()) {
		return nil, ErrNotFound
	}
	return &alias, nil
}

// Put stores or refreshes an alias resolution with a fresh TTL.
func (s *AliasStore) Put(ctx context.Context, alias *models.EmailAlias) error {
	if alias.ID == "" {
		alias.ID = uuid.NewString()
	}
	alias.ResolvedAt = time.Now().UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO email_aliases (
			id, alias_key, primary_email, user_id, display_name, job_title, resolved_at
		) VALUES (
			:id, :alias_key, :primary_email, :user_id, :display_name, :job_title, :resolved_at
		)
		ON CONFLICT (alias_key) DO UPDATE SET
			primary_email = EXCLUDED.primary_email,
			user_id = EXCLUDED.user_id,
			display_name = EXCLUDED.display_name,
			job_title = EXCLUDED.job_title,
			resolved_at = EXCLUDED.resolved_at`, alias)
	if err != nil {
		return fmt.Errorf("put alias: %w", err)
	}
	return nil
}

// DeleteExpired removes alias entries older than the cache TTL and returns
// how many were dropped.
func (s *AliasStore) DeleteExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-models.AliasTTL)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM email_aliases WHERE resolved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired aliases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired aliases rows affected: %w", err)
	}
	return n, nil
}
