// Package mock provides a mock implementation of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"github.com/giantswarm/storegate/providers"
	"github.com/giantswarm/storegate/security"
	"github.com/giantswarm/storegate/storage"
)

var _ providers.Provider = (*MockProvider)(nil)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(shop, state string, online bool) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, shop, code string, online bool) (*storage.Credential, error)

	// VerifyCallbackFunc is called when VerifyCallback() is invoked
	VerifyCallbackFunc func(query url.Values) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// NewMockProvider creates a new mock provider with default implementations.
// Callbacks are verified with security.VerifyQueryHMAC keyed by secret.
func NewMockProvider(secret string) *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(shop, state string, online bool) string {
			return fmt.Sprintf("https://%s/admin/oauth/authorize?state=%s&online=%t", shop, url.QueryEscape(state), online)
		},
		ExchangeCodeFunc: func(_ context.Context, shop, code string, online bool) (*storage.Credential, error) {
			if online {
				return nil, fmt.Errorf("mock provider issues offline tokens only")
			}
			return &storage.Credential{
				ID:     storage.OfflineID(shop),
				Tenant: shop,
				Kind:   storage.KindOffline,
				Token:  &oauth2.Token{AccessToken: "mock-token-" + code},
				Scopes: []string{"read_products"},
			}, nil
		},
		VerifyCallbackFunc: func(query url.Values) error {
			return security.VerifyQueryHMAC([]byte(secret), query)
		},
	}
}

func (m *MockProvider) count(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[name]++
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	m.count("Name")
	return m.NameFunc()
}

// AuthorizationURL generates an authorization URL
func (m *MockProvider) AuthorizationURL(shop, state string, online bool) string {
	m.count("AuthorizationURL")
	return m.AuthorizationURLFunc(shop, state, online)
}

// ExchangeCode exchanges an authorization code for a credential
func (m *MockProvider) ExchangeCode(ctx context.Context, shop, code string, online bool) (*storage.Credential, error) {
	m.count("ExchangeCode")
	return m.ExchangeCodeFunc(ctx, shop, code, online)
}

// VerifyCallback checks a callback query
func (m *MockProvider) VerifyCallback(query url.Values) error {
	m.count("VerifyCallback")
	return m.VerifyCallbackFunc(query)
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts = make(map[string]int)
}
