package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/util"
	"github.com/giantswarm/storegate/storage"
)

// Compile-time interface checks
var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.StatsStore      = (*Store)(nil)
)

// Store is the SQLite implementation of storage.CredentialStore.
type Store struct {
	db       *DB
	now      func() time.Time
	logger   *slog.Logger
	recorder *instrumentation.StorageRecorder
}

// New creates a store over an opened and migrated DB.
func New(db *DB) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetClock overrides the time source used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
// Call before the store is shared between goroutines.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.recorder = instrumentation.NewStorageRecorder(inst, "sqlite")
	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(
		func(ctx context.Context) (int64, error) {
			total, _, err := s.Count(ctx)
			return total, err
		},
		func(ctx context.Context) (int64, error) {
			_, active, err := s.Count(ctx)
			return active, err
		},
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
}

// readFailed is unavailable for every error except a row that cannot be decoded.
func readFailed(op string, err error) error {
	if errors.Is(err, storage.ErrCorruptRecord) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return unavailable(op, err)
}

const recordColumns = `id, tenant, payload, active, sequence, activated_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*storage.Record, error) {
	var (
		rec         storage.Record
		active      int
		sequence    int64
		activatedAt string
		updatedAt   string
	)
	if err := row.Scan(&rec.ID, &rec.Tenant, &rec.Payload, &active, &sequence, &activatedAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Active = active == 1
	rec.Sequence = uint64(sequence)

	var err error
	if rec.ActivatedAt, err = parseTime(activatedAt); err != nil {
		return nil, fmt.Errorf("%w: parse activated_at for credential %q: %w", storage.ErrCorruptRecord, rec.ID, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("%w: parse updated_at for credential %q: %w", storage.ErrCorruptRecord, rec.ID, err)
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 and the CURRENT_TIMESTAMP format.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}

// Put upserts a record by id in a single writer transaction that also
// advances the sequence counter.
func (s *Store) Put(ctx context.Context, record *storage.Record) (_ *storage.Record, err error) {
	ctx, done := s.recorder.Start(ctx, "put")
	defer func() { done(err) }()

	if err = record.Validate(); err != nil {
		return nil, err
	}

	op := fmt.Sprintf("put credential %q", record.ID)

	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		err = unavailable(op, fmt.Errorf("begin transaction: %w", err))
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	var sequence int64
	const nextSequence = `UPDATE credential_sequence SET value = value + 1 WHERE id = 1 RETURNING value`
	if err = tx.QueryRowContext(ctx, nextSequence).Scan(&sequence); err != nil {
		err = unavailable(op, fmt.Errorf("advance sequence: %w", err))
		return nil, err
	}

	now := s.now()
	const upsert = `
		INSERT INTO credentials (id, tenant, payload, active, sequence, activated_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant       = excluded.tenant,
			payload      = excluded.payload,
			active       = 1,
			sequence     = excluded.sequence,
			activated_at = excluded.activated_at,
			updated_at   = excluded.updated_at
	`
	payload := record.Payload
	if payload == nil {
		payload = []byte{}
	}
	if _, err = tx.ExecContext(ctx, upsert,
		record.ID, record.Tenant, payload, sequence, formatTime(now), formatTime(now),
	); err != nil {
		err = unavailable(op, err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = unavailable(op, fmt.Errorf("commit: %w", err))
		return nil, err
	}

	stored := record.Clone()
	stored.Payload = append([]byte(nil), payload...)
	stored.Active = true
	stored.Sequence = uint64(sequence)
	stored.ActivatedAt = now.UTC()
	stored.UpdatedAt = now.UTC()

	s.logger.Debug("Stored credential",
		"tenant", stored.Tenant,
		"credential_id", util.SafeTruncate(stored.ID, util.IDLogLength),
		"sequence", stored.Sequence)

	return stored, nil
}

// GetByID returns a record by id
func (s *Store) GetByID(ctx context.Context, id string) (_ *storage.Record, err error) {
	ctx, done := s.recorder.Start(ctx, "get_by_id")
	defer func() { done(err) }()

	const query = `SELECT ` + recordColumns + ` FROM credentials WHERE id = ?`
	rec, err := scanRecord(s.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: %s", storage.ErrRecordNotFound, id)
		return nil, err
	}
	if err != nil {
		err = readFailed(fmt.Sprintf("get credential %q", id), err)
		return nil, err
	}
	return rec, nil
}

// GetActiveByTenant returns the active record with the highest sequence
func (s *Store) GetActiveByTenant(ctx context.Context, tenant string) (_ *storage.Record, err error) {
	ctx, done := s.recorder.Start(ctx, "get_active_by_tenant")
	defer func() { done(err) }()

	const query = `
		SELECT ` + recordColumns + `
		FROM credentials
		WHERE tenant = ? AND active = 1
		ORDER BY sequence DESC
		LIMIT 1
	`
	rec, err := scanRecord(s.db.Reader.QueryRowContext(ctx, query, tenant))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: no active credential for tenant %s", storage.ErrRecordNotFound, tenant)
		return nil, err
	}
	if err != nil {
		err = readFailed(fmt.Sprintf("get active credential for tenant %q", tenant), err)
		return nil, err
	}
	return rec, nil
}

// DeactivateByTenant marks every active record of tenant inactive
func (s *Store) DeactivateByTenant(ctx context.Context, tenant string) (_ int, err error) {
	ctx, done := s.recorder.Start(ctx, "deactivate_by_tenant")
	defer func() { done(err) }()

	const query = `UPDATE credentials SET active = 0, updated_at = ? WHERE tenant = ? AND active = 1`
	res, err := s.db.Writer.ExecContext(ctx, query, formatTime(s.now()), tenant)
	if err != nil {
		err = unavailable(fmt.Sprintf("deactivate tenant %q", tenant), err)
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		err = unavailable(fmt.Sprintf("deactivate tenant %q", tenant), err)
		return 0, err
	}

	if n > 0 {
		s.logger.Debug("Deactivated tenant credentials", "tenant", tenant, "count", n)
	}
	return int(n), nil
}

// DeleteByID removes a record
func (s *Store) DeleteByID(ctx context.Context, id string) (err error) {
	ctx, done := s.recorder.Start(ctx, "delete_by_id")
	defer func() { done(err) }()

	const query = `DELETE FROM credentials WHERE id = ?`
	res, err := s.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		err = unavailable(fmt.Sprintf("delete credential %q", id), err)
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		err = unavailable(fmt.Sprintf("delete credential %q", id), err)
		return err
	}
	if n == 0 {
		err = fmt.Errorf("%w: %s", storage.ErrRecordNotFound, id)
		return err
	}

	s.logger.Debug("Deleted credential", "credential_id", util.SafeTruncate(id, util.IDLogLength))
	return nil
}

// ListByTenant returns every record of tenant, newest activation first
func (s *Store) ListByTenant(ctx context.Context, tenant string) (_ []*storage.Record, err error) {
	ctx, done := s.recorder.Start(ctx, "list_by_tenant")
	defer func() { done(err) }()

	op := fmt.Sprintf("list credentials for tenant %q", tenant)

	const query = `SELECT ` + recordColumns + ` FROM credentials WHERE tenant = ? ORDER BY sequence DESC`
	rows, err := s.db.Reader.QueryContext(ctx, query, tenant)
	if err != nil {
		err = unavailable(op, err)
		return nil, err
	}
	defer rows.Close()

	records := []*storage.Record{}
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			err = readFailed(op, scanErr)
			return nil, err
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		err = unavailable(op, err)
		return nil, err
	}

	return records, nil
}

// Ping checks both connections
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Reader.PingContext(ctx); err != nil {
		return unavailable("ping reader", err)
	}
	if err := s.db.Writer.PingContext(ctx); err != nil {
		return unavailable("ping writer", err)
	}
	return nil
}

// Count returns the number of stored and active records
func (s *Store) Count(ctx context.Context) (int64, int64, error) {
	const query = `SELECT COUNT(*), COALESCE(SUM(active), 0) FROM credentials`
	var total, active int64
	if err := s.db.Reader.QueryRowContext(ctx, query).Scan(&total, &active); err != nil {
		return 0, 0, unavailable("count credentials", err)
	}
	return total, active, nil
}
