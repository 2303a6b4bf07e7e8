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

// ProcessedStore records which call records have already been handled, for
// webhook dedup and for computing the backfill cutoff.
type ProcessedStore struct {
	db *sqlx.DB
}

// NewProcessedStore creates a processed-call-record repository.
func NewProcessedStore(db *sqlx.DB) *ProcessedStore {
	return &ProcessedStore{db: db}
}

// Exists reports whether a call record id has been seen before.
func (s *ProcessedStore) Exists(ctx context.Context, callRecordID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM processed_call_records WHERE call_record_id = $1)`,
		callRecordID)
	if err != nil {
		return false, fmt.Errorf("check processed call record: %w", err)
	}
	return exists, nil
}

// Mark records a call record as processed. It returns false when the record
// was already present, which is how concurrent deliveries of the same
// notification lose the race without erroring.
func (s *ProcessedStore) Mark(ctx context.Context, callRecordID, source string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_call_records (id, call_record_id, source, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (call_record_id) DO NOTHING`,
		uuid.NewString(), callRecordID, source, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark call record processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed rows affected: %w", err)
	}
	return n > 0, nil
}

// LastProcessedAt returns when the most recent record from the given source
// was handled, or ErrNotFound when that source has never produced one.
func (s *ProcessedStore) LastProcessedAt(ctx context.Context, source string) (time.Time, error) {
	var at time.Time
	err := s.db.GetContext(ctx, &at, `
		SELECT processed_at FROM processed_call_records
		WHERE source = $1
		ORDER BY processed_at DESC
		LIMIT 1`, source)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last processed at: %w", err)
	}
	return at, nil
}

// Get fetches a processed record by call record id.
func (s *ProcessedStore) Get(ctx context.Context, callRecordID string) (*models.ProcessedCallRecord, error) {
	var rec models.ProcessedCallRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM processed_call_records WHERE call_record_id = $1`, callRecordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get processed call record: %w", err)
	}
	return &rec, nil
}
