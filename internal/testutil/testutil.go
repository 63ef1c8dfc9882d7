package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/storegate/storage"
)

// Test fixtures shared across packages
const (
	TestTenant    = "shop1.myshopify.com"
	TestAPIKey    = "test-api-key"
	TestAPISecret = "test-api-secret"
)

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// OfflineCredential returns a valid offline credential for tenant
func OfflineCredential(tenant string, scopes ...string) *storage.Credential {
	if len(scopes) == 0 {
		scopes = []string{"read_products", "write_products"}
	}
	return &storage.Credential{
		ID:     storage.OfflineID(tenant),
		Tenant: tenant,
		Kind:   storage.KindOffline,
		Token:  &oauth2.Token{AccessToken: "shpat_" + GenerateRandomString(24)},
		Scopes: storage.NormalizeScopes(scopes),
	}
}

// OnlineCredential returns a valid online credential for tenant and user
// expiring at expiry
func OnlineCredential(tenant string, userID int64, expiry time.Time) *storage.Credential {
	return &storage.Credential{
		ID:     storage.OnlineID(tenant, userID),
		Tenant: tenant,
		Kind:   storage.KindOnline,
		Token: &oauth2.Token{
			AccessToken: "shpua_" + GenerateRandomString(24),
			Expiry:      expiry,
		},
		Scopes: []string{"read_products", "write_products"},
		Online: &storage.OnlineInfo{
			AssociatedUserID:     userID,
			AssociatedUserScopes: []string{"read_products"},
			Email:                fmt.Sprintf("user%d@example.com", userID),
		},
	}
}

// CredentialWithID returns an offline credential for tenant under a custom
// grant id
func CredentialWithID(tenant, id string) *storage.Credential {
	cred := OfflineCredential(tenant)
	cred.ID = id
	return cred
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target)
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Cookies []*http.Cookie
	Body    string
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithCookie adds a cookie to the request
func (r *HTTPRequest) WithCookie(c *http.Cookie) *HTTPRequest {
	r.Cookies = append(r.Cookies, c)
	return r
}

// WithBody sets the request body
func (r *HTTPRequest) WithBody(body string) *HTTPRequest {
	r.Body = body
	return r
}

// Do executes the HTTP request
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.Method, r.URL, strings.NewReader(r.Body))
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	for _, c := range r.Cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
