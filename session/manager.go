package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/util"
	"github.com/giantswarm/storegate/security"
	"github.com/giantswarm/storegate/storage"
)

var (
	// ErrNoActiveCredential is returned by OnLoad when the tenant has never
	// installed or has uninstalled. Both cases are treated the same.
	ErrNoActiveCredential = errors.New("no active credential")

	// ErrCredentialExpired is returned by Usable for an online credential
	// past its expiry.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrScopesChanged is returned by Usable when the credential lacks a
	// scope the application now requires.
	ErrScopesChanged = errors.New("credential scopes changed")
)

// Grant results recorded on the grants counter
const (
	grantStored    = "stored"
	grantUnchanged = "unchanged"
	grantError     = "error"
)

// Config holds the collaborators of a Manager.
type Config struct {
	// Store persists credential records (required).
	Store storage.CredentialStore

	// Encryptor seals access tokens at rest. Nil or disabled stores them
	// in clear.
	Encryptor *security.Encryptor

	// Auditor records lifecycle events. Nil disables auditing.
	Auditor *security.Auditor

	// Instrumentation provides metrics and tracing. Nil disables both.
	Instrumentation *instrumentation.Instrumentation

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time

	// ClockSkewGrace is how long past expiry an online credential stays
	// usable. Defaults to security.DefaultClockSkewGracePeriod.
	ClockSkewGrace time.Duration
}

// Manager implements the session lifecycle over a CredentialStore.
type Manager struct {
	store     storage.CredentialStore
	encryptor *security.Encryptor
	auditor   *security.Auditor
	metrics   *instrumentation.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
	grace     time.Duration

	loads singleflight.Group
}

// New creates a Manager from cfg.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}

	m := &Manager{
		store:     cfg.Store,
		encryptor: cfg.Encryptor,
		auditor:   cfg.Auditor,
		metrics:   cfg.Instrumentation.Metrics(),
		tracer:    cfg.Instrumentation.Tracer("session"),
		logger:    cfg.Logger,
		now:       cfg.Clock,
		grace:     cfg.ClockSkewGrace,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.grace <= 0 {
		m.grace = security.DefaultClockSkewGracePeriod
	}
	return m, nil
}

// OnGrant persists a credential handed over by the OAuth engine and makes it
// the current credential of its tenant. Repeating a grant whose active record
// already holds an equal credential changes nothing.
func (m *Manager) OnGrant(ctx context.Context, cred *storage.Credential) (err error) {
	ctx, span := m.tracer.Start(ctx, "session.grant")
	defer span.End()
	defer func() { finishSpan(span, err) }()

	if err = cred.Validate(); err != nil {
		m.metrics.RecordGrant(ctx, string(credKind(cred)), grantError)
		return err
	}

	cred = cred.Clone()
	cred.Scopes = storage.NormalizeScopes(cred.Scopes)
	if cred.Online != nil {
		cred.Online.AssociatedUserScopes = storage.NormalizeScopes(cred.Online.AssociatedUserScopes)
	}

	instrumentation.AddTenantAttributes(span, cred.Tenant)
	span.SetAttributes(attribute.String(instrumentation.AttrCredentialKind, string(cred.Kind)))

	unchanged, previous, err := m.isUnchanged(ctx, cred)
	if err != nil {
		m.metrics.RecordGrant(ctx, string(cred.Kind), grantError)
		return err
	}
	if unchanged {
		m.metrics.RecordGrant(ctx, string(cred.Kind), grantUnchanged)
		m.auditor.LogEvent(security.Event{
			Type:         security.EventCredentialGrantUnchanged,
			Tenant:       cred.Tenant,
			CredentialID: cred.ID,
		})
		m.logger.Debug("Grant repeats the current credential",
			"tenant", cred.Tenant,
			"credential_id", util.SafeTruncate(cred.ID, util.IDLogLength))
		return nil
	}

	payload, err := storage.EncodePayload(cred, m.encryptor, []byte(cred.ID))
	if err != nil {
		m.metrics.RecordGrant(ctx, string(cred.Kind), grantError)
		return fmt.Errorf("encode credential for tenant %q: %w", cred.Tenant, err)
	}

	stored, err := m.store.Put(ctx, &storage.Record{
		ID:      cred.ID,
		Tenant:  cred.Tenant,
		Payload: payload,
	})
	if err != nil {
		m.metrics.RecordGrant(ctx, string(cred.Kind), grantError)
		return fmt.Errorf("store credential for tenant %q: %w", cred.Tenant, err)
	}

	m.forget(cred.Tenant)
	if previous != "" && previous != cred.Tenant {
		m.forget(previous)
	}

	span.SetAttributes(attribute.Int64(instrumentation.AttrSequence, int64(stored.Sequence)))
	m.metrics.RecordGrant(ctx, string(cred.Kind), grantStored)
	m.auditor.LogCredentialGranted(cred.Tenant, cred.ID, string(cred.Kind), stored.Sequence)
	m.logger.Info("Stored credential",
		"tenant", cred.Tenant,
		"kind", cred.Kind,
		"credential_id", util.SafeTruncate(cred.ID, util.IDLogLength),
		"sequence", stored.Sequence)
	return nil
}

// isUnchanged reports whether the record under cred.ID is active, belongs to
// the same tenant, is the tenant's current record, and decodes to an equal
// credential. previous is the tenant the id is stored under, if any. A
// corrupt existing record is overwritten.
func (m *Manager) isUnchanged(ctx context.Context, cred *storage.Credential) (unchanged bool, previous string, err error) {
	existing, err := m.store.GetByID(ctx, cred.ID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("look up credential for tenant %q: %w", cred.Tenant, err)
	}
	if !existing.Active || existing.Tenant != cred.Tenant {
		return false, existing.Tenant, nil
	}

	current, err := m.store.GetActiveByTenant(ctx, cred.Tenant)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return false, existing.Tenant, fmt.Errorf("look up current credential for tenant %q: %w", cred.Tenant, err)
	}
	if current == nil || current.ID != cred.ID {
		return false, existing.Tenant, nil
	}

	decoded, err := storage.DecodePayload(existing.Payload, m.encryptor, []byte(existing.ID))
	if err != nil {
		return false, existing.Tenant, nil
	}
	return decoded.Equal(cred), existing.Tenant, nil
}

// forget drops any in-flight load of tenant so that loads starting after a
// mutation returns read the store again instead of joining an older read.
func (m *Manager) forget(tenant string) {
	m.loads.Forget(tenant)
}

// OnUninstall deactivates every record of tenant and returns how many were
// active. Uninstalling an unknown or already uninstalled tenant succeeds
// with 0.
func (m *Manager) OnUninstall(ctx context.Context, tenant string) (_ int, err error) {
	ctx, span := m.tracer.Start(ctx, "session.uninstall")
	defer span.End()
	defer func() { finishSpan(span, err) }()
	instrumentation.AddTenantAttributes(span, tenant)

	n, err := m.store.DeactivateByTenant(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("deactivate tenant %q: %w", tenant, err)
	}
	m.forget(tenant)

	m.metrics.RecordUninstall(ctx, n == 0)
	m.auditor.LogTenantUninstalled(tenant, n)
	m.logger.Info("Tenant uninstalled", "tenant", tenant, "deactivated", n)
	return n, nil
}

// OnLoad returns the current credential of tenant. It returns an error
// wrapping ErrNoActiveCredential when there is none and storage.ErrCorruptRecord
// when the stored payload cannot be decoded. Concurrent loads of one tenant
// share a single store round trip; each caller gets its own copy.
func (m *Manager) OnLoad(ctx context.Context, tenant string) (*storage.Credential, error) {
	ch := m.loads.DoChan(tenant, func() (any, error) {
		// The shared load must not be cut short by whichever caller
		// arrived first going away.
		return m.load(context.WithoutCancel(ctx), tenant)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load tenant %q: %w: %w", tenant, storage.ErrStorageUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*storage.Credential).Clone(), nil
	}
}

func (m *Manager) load(ctx context.Context, tenant string) (_ *storage.Credential, err error) {
	ctx, span := m.tracer.Start(ctx, "session.load")
	defer span.End()
	instrumentation.AddTenantAttributes(span, tenant)
	defer func() {
		if errors.Is(err, ErrNoActiveCredential) {
			instrumentation.SetSpanSuccess(span)
			return
		}
		finishSpan(span, err)
	}()

	rec, err := m.store.GetActiveByTenant(ctx, tenant)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveCredential, tenant)
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %q: %w", tenant, err)
	}

	cred, err := storage.DecodePayload(rec.Payload, m.encryptor, []byte(rec.ID))
	if err == nil && (cred.ID != rec.ID || cred.Tenant != rec.Tenant) {
		err = fmt.Errorf("%w: payload names credential %q of tenant %q", storage.ErrCorruptRecord, cred.ID, cred.Tenant)
	}
	if err != nil {
		m.metrics.RecordCorruptRecord(ctx)
		m.auditor.LogCorruptRecord(tenant, rec.ID, err.Error())
		m.logger.Error("Stored credential cannot be decoded",
			"tenant", tenant,
			"credential_id", util.SafeTruncate(rec.ID, util.IDLogLength),
			"sequence", rec.Sequence,
			"error", err)
		return nil, fmt.Errorf("load tenant %q: %w", tenant, err)
	}

	span.SetAttributes(
		attribute.String(instrumentation.AttrCredentialKind, string(cred.Kind)),
		attribute.Int64(instrumentation.AttrSequence, int64(rec.Sequence)),
	)
	return cred, nil
}

// OnInvalidate deletes the record with the given id. It returns an error
// wrapping storage.ErrRecordNotFound when there is no such record.
func (m *Manager) OnInvalidate(ctx context.Context, id string) (err error) {
	ctx, span := m.tracer.Start(ctx, "session.invalidate")
	defer span.End()
	defer func() { finishSpan(span, err) }()

	// The tenant is needed to drop in-flight loads once the row is gone.
	rec, err := m.store.GetByID(ctx, id)
	if err == nil {
		err = m.store.DeleteByID(ctx, id)
	}
	switch {
	case err == nil:
		m.metrics.RecordInvalidation(ctx, "deleted")
	case errors.Is(err, storage.ErrRecordNotFound):
		m.metrics.RecordInvalidation(ctx, "not_found")
		return err
	default:
		m.metrics.RecordInvalidation(ctx, "error")
		return fmt.Errorf("invalidate credential: %w", err)
	}

	m.forget(rec.Tenant)
	instrumentation.AddTenantAttributes(span, rec.Tenant)
	m.logger.Info("Credential invalidated",
		"tenant", rec.Tenant,
		"credential_id", util.SafeTruncate(id, util.IDLogLength))
	return nil
}

// RecordSummary describes one stored grant without its token.
type RecordSummary struct {
	ID          string       `json:"id"`
	Tenant      string       `json:"tenant"`
	Kind        storage.Kind `json:"kind,omitempty"`
	Active      bool         `json:"active"`
	Current     bool         `json:"current"`
	Corrupt     bool         `json:"corrupt,omitempty"`
	Sequence    uint64       `json:"sequence"`
	Scopes      []string     `json:"scopes,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	ActivatedAt time.Time    `json:"activated_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// History lists every retained grant of tenant, newest activation first.
// Current marks the record OnLoad would return.
func (m *Manager) History(ctx context.Context, tenant string) ([]RecordSummary, error) {
	records, err := m.store.ListByTenant(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list tenant %q: %w", tenant, err)
	}

	out := make([]RecordSummary, 0, len(records))
	currentSeen := false
	for _, rec := range records {
		summary := RecordSummary{
			ID:          rec.ID,
			Tenant:      rec.Tenant,
			Active:      rec.Active,
			Sequence:    rec.Sequence,
			ActivatedAt: rec.ActivatedAt,
			UpdatedAt:   rec.UpdatedAt,
		}
		if rec.Active && !currentSeen {
			summary.Current = true
			currentSeen = true
		}

		cred, err := storage.DecodePayload(rec.Payload, m.encryptor, []byte(rec.ID))
		if err != nil {
			summary.Corrupt = true
		} else {
			summary.Kind = cred.Kind
			summary.Scopes = cred.Scopes
			if exp := cred.ExpiresAt(); !exp.IsZero() {
				summary.ExpiresAt = &exp
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// Usable reports whether cred may still be used for requests that need the
// given scopes: it must not be past its expiry (allowing the clock skew
// grace) and must hold every required scope.
func (m *Manager) Usable(cred *storage.Credential, requiredScopes []string) error {
	if security.IsExpired(cred.ExpiresAt(), m.now(), m.grace) {
		return fmt.Errorf("%w: expired at %s", ErrCredentialExpired, cred.ExpiresAt().Format(time.RFC3339))
	}
	if !cred.HasScopes(requiredScopes) {
		return fmt.Errorf("%w: granted %v", ErrScopesChanged, cred.Scopes)
	}
	return nil
}

// Ping checks that the credential store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func credKind(cred *storage.Credential) storage.Kind {
	if cred == nil {
		return ""
	}
	return cred.Kind
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		instrumentation.RecordError(span, err)
		return
	}
	instrumentation.SetSpanSuccess(span)
}
