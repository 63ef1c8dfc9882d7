// Package mock provides a mock implementation of storage.CredentialStore for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/storegate/storage"
	"github.com/giantswarm/storegate/storage/memory"
)

var _ storage.CredentialStore = (*MockCredentialStore)(nil)

// MockCredentialStore delegates to an in-memory store unless the matching
// func field is replaced, which lets tests inject backend failures.
type MockCredentialStore struct {
	PutFunc                func(ctx context.Context, record *storage.Record) (*storage.Record, error)
	GetByIDFunc            func(ctx context.Context, id string) (*storage.Record, error)
	GetActiveByTenantFunc  func(ctx context.Context, tenant string) (*storage.Record, error)
	DeactivateByTenantFunc func(ctx context.Context, tenant string) (int, error)
	DeleteByIDFunc         func(ctx context.Context, id string) error
	ListByTenantFunc       func(ctx context.Context, tenant string) ([]*storage.Record, error)
	PingFunc               func(ctx context.Context) error

	// Backing is the store used by the default implementations.
	Backing *memory.Store

	mu         sync.Mutex
	callCounts map[string]int
}

// NewMockCredentialStore creates a new mock credential store
func NewMockCredentialStore() *MockCredentialStore {
	backing := memory.New()
	return &MockCredentialStore{
		PutFunc:                backing.Put,
		GetByIDFunc:            backing.GetByID,
		GetActiveByTenantFunc:  backing.GetActiveByTenant,
		DeactivateByTenantFunc: backing.DeactivateByTenant,
		DeleteByIDFunc:         backing.DeleteByID,
		ListByTenantFunc:       backing.ListByTenant,
		PingFunc:               backing.Ping,
		Backing:                backing,
		callCounts:             make(map[string]int),
	}
}

func (m *MockCredentialStore) count(name string) {
	m.mu.Lock()
	m.callCounts[name]++
	m.mu.Unlock()
}

// CallCount returns how many times the named method was called
func (m *MockCredentialStore) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[name]
}

// ResetCallCounts resets all call counters
func (m *MockCredentialStore) ResetCallCounts() {
	m.mu.Lock()
	m.callCounts = make(map[string]int)
	m.mu.Unlock()
}

// FailAll makes every method return err
func (m *MockCredentialStore) FailAll(err error) {
	m.PutFunc = func(context.Context, *storage.Record) (*storage.Record, error) { return nil, err }
	m.GetByIDFunc = func(context.Context, string) (*storage.Record, error) { return nil, err }
	m.GetActiveByTenantFunc = func(context.Context, string) (*storage.Record, error) { return nil, err }
	m.DeactivateByTenantFunc = func(context.Context, string) (int, error) { return 0, err }
	m.DeleteByIDFunc = func(context.Context, string) error { return err }
	m.ListByTenantFunc = func(context.Context, string) ([]*storage.Record, error) { return nil, err }
	m.PingFunc = func(context.Context) error { return err }
}

// Put upserts a record
func (m *MockCredentialStore) Put(ctx context.Context, record *storage.Record) (*storage.Record, error) {
	m.count("Put")
	return m.PutFunc(ctx, record)
}

// GetByID retrieves a record by id
func (m *MockCredentialStore) GetByID(ctx context.Context, id string) (*storage.Record, error) {
	m.count("GetByID")
	return m.GetByIDFunc(ctx, id)
}

// GetActiveByTenant retrieves the current record of a tenant
func (m *MockCredentialStore) GetActiveByTenant(ctx context.Context, tenant string) (*storage.Record, error) {
	m.count("GetActiveByTenant")
	return m.GetActiveByTenantFunc(ctx, tenant)
}

// DeactivateByTenant deactivates every record of a tenant
func (m *MockCredentialStore) DeactivateByTenant(ctx context.Context, tenant string) (int, error) {
	m.count("DeactivateByTenant")
	return m.DeactivateByTenantFunc(ctx, tenant)
}

// DeleteByID removes a record
func (m *MockCredentialStore) DeleteByID(ctx context.Context, id string) error {
	m.count("DeleteByID")
	return m.DeleteByIDFunc(ctx, id)
}

// ListByTenant lists every record of a tenant
func (m *MockCredentialStore) ListByTenant(ctx context.Context, tenant string) ([]*storage.Record, error) {
	m.count("ListByTenant")
	return m.ListByTenantFunc(ctx, tenant)
}

// Ping checks the store
func (m *MockCredentialStore) Ping(ctx context.Context) error {
	m.count("Ping")
	return m.PingFunc(ctx)
}
