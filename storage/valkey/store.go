package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/util"
	"github.com/giantswarm/storegate/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "storegate:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "storegate:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// DisableCache turns off client side caching (CLIENT TRACKING), for
	// servers that do not implement it.
	DisableCache bool

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.CredentialStore.
type Store struct {
	client   valkeygo.Client
	prefix   string
	logger   *slog.Logger
	now      func() time.Time
	recorder *instrumentation.StorageRecorder
}

// Compile-time interface checks
var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.StatsStore      = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The scripts derive tenant keys from the prefix, so every key of a
	// store must live on one node.
	opts := valkeygo.ClientOption{
		InitAddress:       []string{cfg.Address},
		SelectDB:          cfg.DB,
		ForceSingleClient: true,
		DisableCache:      cfg.DisableCache,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
// Call before the store is shared between goroutines.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.recorder = instrumentation.NewStorageRecorder(inst, "valkey")
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

// ============================================================
// Key Helpers
// ============================================================

func (s *Store) credentialKey(id string) string {
	return s.prefix + "cred:" + id
}

func (s *Store) tenantActiveKey(tenant string) string {
	return s.prefix + "tenant:" + tenant + ":active"
}

func (s *Store) tenantAllKey(tenant string) string {
	return s.prefix + "tenant:" + tenant + ":all"
}

func (s *Store) sequenceKey() string {
	return s.prefix + "seq"
}

func (s *Store) idsKey() string {
	return s.prefix + "ids"
}

func (s *Store) activeIDsKey() string {
	return s.prefix + "ids:active"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ============================================================
// CredentialStore Implementation
// ============================================================

// Put upserts a record by id. The sequence counter, the hash and every index
// are updated by one script so concurrent grants never interleave.
func (s *Store) Put(ctx context.Context, record *storage.Record) (_ *storage.Record, err error) {
	ctx, done := s.recorder.Start(ctx, "put")
	defer func() { done(err) }()

	if err = record.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	seq, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaPut).
			Numkeys(4).
			Key(s.credentialKey(record.ID), s.sequenceKey(), s.idsKey(), s.activeIDsKey()).
			Arg(record.ID, record.Tenant, string(record.Payload), formatTime(now), s.prefix).
			Build(),
	).AsInt64()
	if err != nil {
		err = unavailable(fmt.Sprintf("put credential %q", record.ID), err)
		return nil, err
	}

	stored := record.Clone()
	if stored.Payload == nil {
		stored.Payload = []byte{}
	}
	stored.Active = true
	stored.Sequence = uint64(seq)
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

	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.credentialKey(id)).Build()).AsStrMap()
	if err != nil {
		err = unavailable(fmt.Sprintf("get credential %q", id), err)
		return nil, err
	}
	if len(fields) == 0 {
		err = fmt.Errorf("%w: %s", storage.ErrRecordNotFound, id)
		return nil, err
	}

	rec, err := recordFromHash(fields)
	return rec, err
}

// GetActiveByTenant returns the active record with the highest sequence
func (s *Store) GetActiveByTenant(ctx context.Context, tenant string) (_ *storage.Record, err error) {
	ctx, done := s.recorder.Start(ctx, "get_active_by_tenant")
	defer func() { done(err) }()

	flat, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaGetActive).
			Numkeys(1).
			Key(s.tenantActiveKey(tenant)).
			Arg(s.prefix).
			Build(),
	).AsStrSlice()
	if err != nil {
		err = unavailable(fmt.Sprintf("get active credential for tenant %q", tenant), err)
		return nil, err
	}
	if len(flat) == 0 {
		err = fmt.Errorf("%w: no active credential for tenant %s", storage.ErrRecordNotFound, tenant)
		return nil, err
	}

	rec, err := recordFromHash(pairs(flat))
	return rec, err
}

// DeactivateByTenant marks every active record of tenant inactive
func (s *Store) DeactivateByTenant(ctx context.Context, tenant string) (_ int, err error) {
	ctx, done := s.recorder.Start(ctx, "deactivate_by_tenant")
	defer func() { done(err) }()

	n, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaDeactivate).
			Numkeys(2).
			Key(s.tenantActiveKey(tenant), s.activeIDsKey()).
			Arg(formatTime(s.now()), s.prefix).
			Build(),
	).AsInt64()
	if err != nil {
		err = unavailable(fmt.Sprintf("deactivate tenant %q", tenant), err)
		return 0, err
	}

	if n > 0 {
		s.logger.Debug("Deactivated tenant credentials", "tenant", tenant, "count", n)
	}
	return int(n), nil
}

// DeleteByID removes a record and its index entries
func (s *Store) DeleteByID(ctx context.Context, id string) (err error) {
	ctx, done := s.recorder.Start(ctx, "delete_by_id")
	defer func() { done(err) }()

	n, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaDelete).
			Numkeys(3).
			Key(s.credentialKey(id), s.idsKey(), s.activeIDsKey()).
			Arg(id, s.prefix).
			Build(),
	).AsInt64()
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

	entries, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaList).
			Numkeys(1).
			Key(s.tenantAllKey(tenant)).
			Arg(s.prefix).
			Build(),
	).ToArray()
	if err != nil {
		err = unavailable(op, err)
		return nil, err
	}

	records := make([]*storage.Record, 0, len(entries))
	for _, entry := range entries {
		flat, convErr := entry.AsStrSlice()
		if convErr != nil {
			err = unavailable(op, convErr)
			return nil, err
		}
		if len(flat) == 0 {
			continue
		}
		rec, parseErr := recordFromHash(pairs(flat))
		if parseErr != nil {
			s.logger.Warn("Skipping malformed credential hash", "tenant", tenant, "error", parseErr)
			continue
		}
		records = append(records, rec)
	}

	slices.SortFunc(records, func(a, b *storage.Record) int {
		switch {
		case a.Sequence > b.Sequence:
			return -1
		case a.Sequence < b.Sequence:
			return 1
		}
		return 0
	})
	return records, nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Count returns the number of stored and active records
func (s *Store) Count(ctx context.Context) (int64, int64, error) {
	results := s.client.DoMulti(ctx,
		s.client.B().Scard().Key(s.idsKey()).Build(),
		s.client.B().Scard().Key(s.activeIDsKey()).Build(),
	)
	total, err := results[0].AsInt64()
	if err != nil {
		return 0, 0, unavailable("count credentials", err)
	}
	active, err := results[1].AsInt64()
	if err != nil {
		return 0, 0, unavailable("count active credentials", err)
	}
	return total, active, nil
}

// ============================================================
// Hash Decoding
// ============================================================

func pairs(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

// recordFromHash converts the stored hash fields into a Record. Missing or
// unparsable bookkeeping fields are reported as a corrupt record.
func recordFromHash(fields map[string]string) (*storage.Record, error) {
	rec := &storage.Record{
		ID:      fields["id"],
		Tenant:  fields["tenant"],
		Payload: []byte(fields["payload"]),
		Active:  fields["active"] == "1",
	}
	if rec.ID == "" || rec.Tenant == "" {
		return nil, fmt.Errorf("%w: hash is missing id or tenant", storage.ErrCorruptRecord)
	}

	seq, err := strconv.ParseUint(fields["seq"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: credential %q has invalid sequence: %w", storage.ErrCorruptRecord, rec.ID, err)
	}
	rec.Sequence = seq

	if rec.ActivatedAt, err = time.Parse(time.RFC3339Nano, fields["activated_at"]); err != nil {
		return nil, fmt.Errorf("%w: credential %q has invalid activated_at: %w", storage.ErrCorruptRecord, rec.ID, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("%w: credential %q has invalid updated_at: %w", storage.ErrCorruptRecord, rec.ID, err)
	}
	return rec, nil
}
