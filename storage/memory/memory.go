package memory

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/util"
	"github.com/giantswarm/storegate/storage"
)

// Store is an in-memory CredentialStore.
type Store struct {
	mu sync.RWMutex

	records  map[string]*storage.Record
	byTenant map[string]map[string]struct{} // tenant -> set of record ids
	sequence uint64

	now      func() time.Time
	logger   *slog.Logger
	recorder *instrumentation.StorageRecorder
}

// Compile-time interface checks
var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.StatsStore      = (*Store)(nil)
)

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		records:  make(map[string]*storage.Record),
		byTenant: make(map[string]map[string]struct{}),
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock overrides the time source used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.recorder = instrumentation.NewStorageRecorder(inst, "memory")
	s.mu.Unlock()

	if inst != nil {
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
}

func (s *Store) start(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	recorder := s.recorder
	s.mu.RUnlock()
	return recorder.Start(ctx, operation)
}

// Put upserts a record by id and makes it the newest activation
func (s *Store) Put(ctx context.Context, record *storage.Record) (_ *storage.Record, err error) {
	_, done := s.start(ctx, "put")
	defer func() { done(err) }()

	if err = record.Validate(); err != nil {
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("put credential %q: %w: %w", record.ID, storage.ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := record.Clone()

	if existing, ok := s.records[record.ID]; ok && existing.Tenant != record.Tenant {
		s.unindex(existing.Tenant, existing.ID)
		s.logger.Info("Credential moved to another tenant",
			"credential_id", util.SafeTruncate(record.ID, util.IDLogLength),
			"from_tenant", existing.Tenant,
			"to_tenant", record.Tenant)
	}

	s.sequence++
	stored.Sequence = s.sequence
	stored.Active = true
	stored.ActivatedAt = now
	stored.UpdatedAt = now

	s.records[stored.ID] = stored
	if s.byTenant[stored.Tenant] == nil {
		s.byTenant[stored.Tenant] = make(map[string]struct{})
	}
	s.byTenant[stored.Tenant][stored.ID] = struct{}{}

	s.logger.Debug("Stored credential",
		"tenant", stored.Tenant,
		"credential_id", util.SafeTruncate(stored.ID, util.IDLogLength),
		"sequence", stored.Sequence)

	return stored.Clone(), nil
}

// unindex must be called with mu held.
func (s *Store) unindex(tenant, id string) {
	ids := s.byTenant[tenant]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.byTenant, tenant)
	}
}

// GetByID returns a record by id
func (s *Store) GetByID(ctx context.Context, id string) (_ *storage.Record, err error) {
	_, done := s.start(ctx, "get_by_id")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrRecordNotFound, id)
		return nil, err
	}
	return record.Clone(), nil
}

// GetActiveByTenant returns the active record with the highest sequence
func (s *Store) GetActiveByTenant(ctx context.Context, tenant string) (_ *storage.Record, err error) {
	_, done := s.start(ctx, "get_active_by_tenant")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *storage.Record
	for id := range s.byTenant[tenant] {
		record := s.records[id]
		if !record.Active {
			continue
		}
		if current == nil || record.Sequence > current.Sequence {
			current = record
		}
	}

	if current == nil {
		err = fmt.Errorf("%w: no active credential for tenant %s", storage.ErrRecordNotFound, tenant)
		return nil, err
	}
	return current.Clone(), nil
}

// DeactivateByTenant marks every record of tenant inactive
func (s *Store) DeactivateByTenant(ctx context.Context, tenant string) (_ int, err error) {
	_, done := s.start(ctx, "deactivate_by_tenant")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for id := range s.byTenant[tenant] {
		record := s.records[id]
		if !record.Active {
			continue
		}
		record.Active = false
		record.UpdatedAt = now
		count++
	}

	if count > 0 {
		s.logger.Debug("Deactivated tenant credentials", "tenant", tenant, "count", count)
	}
	return count, nil
}

// DeleteByID removes a record
func (s *Store) DeleteByID(ctx context.Context, id string) (err error) {
	_, done := s.start(ctx, "delete_by_id")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrRecordNotFound, id)
		return err
	}

	delete(s.records, id)
	s.unindex(record.Tenant, id)

	s.logger.Debug("Deleted credential",
		"tenant", record.Tenant,
		"credential_id", util.SafeTruncate(id, util.IDLogLength))
	return nil
}

// ListByTenant returns every record of tenant, newest activation first
func (s *Store) ListByTenant(ctx context.Context, tenant string) (_ []*storage.Record, err error) {
	_, done := s.start(ctx, "list_by_tenant")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Record, 0, len(s.byTenant[tenant]))
	for id := range s.byTenant[tenant] {
		out = append(out, s.records[id].Clone())
	}
	slices.SortFunc(out, func(a, b *storage.Record) int {
		return cmp.Compare(b.Sequence, a.Sequence)
	})
	return out, nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Count returns the number of stored and active records
func (s *Store) Count(_ context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active int64
	for _, record := range s.records {
		if record.Active {
			active++
		}
	}
	return int64(len(s.records)), active, nil
}
