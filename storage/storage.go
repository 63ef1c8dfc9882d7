package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStorageUnavailable wraps every backend failure. Callers must not
	// treat it as an absent record.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCorruptRecord indicates a stored payload that cannot be decoded into
	// a valid Credential.
	ErrCorruptRecord = errors.New("corrupt credential record")

	// ErrRecordNotFound is returned by lookups and deletes for an unknown id
	// or a tenant without an active record.
	ErrRecordNotFound = errors.New("credential record not found")

	// ErrInvalidRecord is returned by Put for a record missing its id or tenant.
	ErrInvalidRecord = errors.New("invalid credential record")
)

// Record is the unit of persistence: one grant of one tenant.
type Record struct {
	ID     string
	Tenant string

	// Payload is the encoded Credential. Stores treat it as opaque bytes.
	Payload []byte

	Active bool

	// Sequence is assigned by the store on every Put and strictly increases
	// across the whole store. GetActiveByTenant returns the active record
	// with the highest Sequence.
	Sequence uint64

	ActivatedAt time.Time
	UpdatedAt   time.Time
}

// Validate checks the fields a store requires before Put.
func (r *Record) Validate() error {
	if r == nil {
		return ErrInvalidRecord
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidRecord)
	}
	if r.Tenant == "" {
		return fmt.Errorf("%w: tenant cannot be empty", ErrInvalidRecord)
	}
	return nil
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = append([]byte(nil), r.Payload...)
	}
	return &c
}

// CredentialStore persists credential records keyed by id with a secondary
// lookup by tenant. Every method is atomic with respect to concurrent calls,
// so no reader observes two current records for one tenant.
// All methods accept context.Context for tracing and cancellation.
type CredentialStore interface {
	// Put upserts by id: payload and tenant are replaced in place, the record
	// is activated and given the next Sequence. Moving an id to another
	// tenant removes it from the previous tenant's lookup.
	// The stored record (with Sequence and timestamps) is returned.
	Put(ctx context.Context, record *Record) (*Record, error)

	// GetByID returns the record regardless of its Active flag.
	GetByID(ctx context.Context, id string) (*Record, error)

	// GetActiveByTenant returns the current record for tenant: the active
	// record with the highest Sequence. Inactive rows are never returned.
	GetActiveByTenant(ctx context.Context, tenant string) (*Record, error)

	// DeactivateByTenant flips every active record of tenant to inactive and
	// returns how many changed. It is zero for an unknown or already
	// deactivated tenant.
	DeactivateByTenant(ctx context.Context, tenant string) (int, error)

	// DeleteByID removes a record entirely.
	DeleteByID(ctx context.Context, id string) error

	// ListByTenant returns every record of tenant, active or not, highest
	// Sequence first.
	ListByTenant(ctx context.Context, tenant string) ([]*Record, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// StatsStore is implemented by stores that can report their size cheaply.
// It feeds the storage size gauges.
type StatsStore interface {
	// Count returns the number of stored and active records.
	Count(ctx context.Context) (total, active int64, err error)
}
