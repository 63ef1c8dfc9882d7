package storegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/storegate/gate"
	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/testutil"
	providermock "github.com/giantswarm/storegate/providers/mock"
	"github.com/giantswarm/storegate/security"
	"github.com/giantswarm/storegate/storage"
	"github.com/giantswarm/storegate/storage/mock"
	"github.com/giantswarm/storegate/webhook"
)

const testAdminToken = "admin-token"

type testApp struct {
	handler  http.Handler
	server   *Server
	store    *mock.MockCredentialStore
	provider *providermock.MockProvider
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	testutil.AssertNoError(t, err)
	return &Config{
		AppURL: "https://app.example.com",
		Shopify: ShopifyConfig{
			APIKey:    testutil.TestAPIKey,
			APISecret: testutil.TestAPISecret,
			Scopes:    []string{"read_products"},
		},
		Security: SecurityConfig{
			AdminTokenHash:     string(hash),
			EnableAuditLogging: true,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestApp(t *testing.T, cfg *Config) *testApp {
	t.Helper()
	app := &testApp{
		store:    mock.NewMockCredentialStore(),
		provider: providermock.NewMockProvider(testutil.TestAPISecret),
	}
	var err error
	app.server, err = NewServerWithProvider(app.store, app.provider, cfg)
	testutil.AssertNoError(t, err)
	t.Cleanup(app.server.Shutdown)
	app.handler = NewHandler(app.server, cfg.Logger).Routes()
	return app
}

func (a *testApp) do(req *testutil.HTTPRequest) *httptest.ResponseRecorder {
	return req.Do(a.handler)
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// startAuth runs /auth and returns the state cookie.
func (a *testApp) startAuth(t *testing.T, shop string) *http.Cookie {
	t.Helper()
	rr := a.do(testutil.NewHTTPRequest(http.MethodGet, AuthPath+"?shop="+shop))
	if rr.Code != http.StatusFound {
		t.Fatalf("/auth status = %d, want 302: %s", rr.Code, rr.Body.String())
	}
	c := findCookie(rr, StateCookieName)
	if c == nil {
		t.Fatal("/auth did not set a state cookie")
	}
	return c
}

func signedCallback(shop, state, code string) string {
	q := url.Values{
		"shop":      {shop},
		"code":      {code},
		"state":     {state},
		"host":      {"YWRtaW4uc2hvcGlmeS5jb20vc3RvcmUvc2hvcDE"},
		"timestamp": {"1700000000"},
	}
	q.Set("hmac", security.QueryHMAC([]byte(testutil.TestAPISecret), q))
	return CallbackPath + "?" + q.Encode()
}

// install runs the complete authorization flow and returns the tenant cookie.
func (a *testApp) install(t *testing.T, shop string) *http.Cookie {
	t.Helper()
	state := a.startAuth(t, shop)
	rr := a.do(testutil.NewHTTPRequest(http.MethodGet, signedCallback(shop, state.Value, "code1")).WithCookie(state))
	if rr.Code != http.StatusFound {
		t.Fatalf("callback status = %d, want 302: %s", rr.Code, rr.Body.String())
	}
	c := findCookie(rr, gate.DefaultCookieName)
	if c == nil {
		t.Fatal("callback did not set the tenant cookie")
	}
	return c
}

func TestHandler_Authorization(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, AuthPath+"?shop=Shop1.myshopify.com"))
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, loc.Host, testutil.TestTenant)

	state := findCookie(rr, StateCookieName)
	if state == nil || len(state.Value) < MinStateLength {
		t.Fatalf("state cookie = %+v", state)
	}
	testutil.AssertEqual(t, loc.Query().Get("state"), state.Value)
	if !state.HttpOnly || !state.Secure {
		t.Error("state cookie must be HttpOnly and Secure")
	}
}

func TestHandler_AuthorizationRejectsInvalidShop(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	for _, query := range []string{"", "?shop=evil.example.com"} {
		rr := app.do(testutil.NewHTTPRequest(http.MethodGet, AuthPath+query))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", query, rr.Code)
		}
	}
}

func TestHandler_CallbackGrantsCredential(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	state := app.startAuth(t, testutil.TestTenant)

	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, signedCallback(testutil.TestTenant, state.Value, "abc")).WithCookie(state))
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302: %s", rr.Code, rr.Body.String())
	}

	loc, err := url.Parse(rr.Header().Get("Location"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, loc.Path, "/")
	testutil.AssertEqual(t, loc.Query().Get("shop"), testutil.TestTenant)
	testutil.AssertEqual(t, loc.Query().Get("host"), "YWRtaW4uc2hvcGlmeS5jb20vc3RvcmUvc2hvcDE")

	cleared := findCookie(rr, StateCookieName)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Error("state cookie was not cleared")
	}

	cred, err := app.server.Sessions.OnLoad(context.Background(), testutil.TestTenant)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, cred.Token.AccessToken, "mock-token-abc")
}

func TestHandler_CallbackRejections(t *testing.T) {
	tests := []struct {
		name       string
		request    func(app *testApp, state *http.Cookie) *testutil.HTTPRequest
		wantStatus int
	}{
		{
			name: "tampered signature",
			request: func(_ *testApp, state *http.Cookie) *testutil.HTTPRequest {
				target := strings.Replace(signedCallback(testutil.TestTenant, state.Value, "abc"), "code=abc", "code=abd", 1)
				return testutil.NewHTTPRequest(http.MethodGet, target).WithCookie(state)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "missing state cookie",
			request: func(_ *testApp, state *http.Cookie) *testutil.HTTPRequest {
				return testutil.NewHTTPRequest(http.MethodGet, signedCallback(testutil.TestTenant, state.Value, "abc"))
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "state mismatch",
			request: func(_ *testApp, state *http.Cookie) *testutil.HTTPRequest {
				other := strings.Repeat("a", MinStateLength)
				return testutil.NewHTTPRequest(http.MethodGet, signedCallback(testutil.TestTenant, other, "abc")).WithCookie(state)
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "invalid shop",
			request: func(_ *testApp, state *http.Cookie) *testutil.HTTPRequest {
				return testutil.NewHTTPRequest(http.MethodGet, signedCallback("evil.example.com", state.Value, "abc")).WithCookie(state)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "exchange failure",
			request: func(app *testApp, state *http.Cookie) *testutil.HTTPRequest {
				app.provider.ExchangeCodeFunc = func(context.Context, string, string, bool) (*storage.Credential, error) {
					return nil, errors.New("invalid code")
				}
				return testutil.NewHTTPRequest(http.MethodGet, signedCallback(testutil.TestTenant, state.Value, "abc")).WithCookie(state)
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "store unavailable",
			request: func(app *testApp, state *http.Cookie) *testutil.HTTPRequest {
				app.store.FailAll(storage.ErrStorageUnavailable)
				return testutil.NewHTTPRequest(http.MethodGet, signedCallback(testutil.TestTenant, state.Value, "abc")).WithCookie(state)
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, testConfig(t))
			state := app.startAuth(t, testutil.TestTenant)

			rr := app.do(tt.request(app, state))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if findCookie(rr, gate.DefaultCookieName) != nil {
				t.Error("tenant cookie set on a failed callback")
			}
			if rr.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", rr.Header().Get("Content-Type"))
			}
		})
	}
}

// Install, use, uninstall, and get sent back to authorization.
func TestHandler_InstallUninstallLifecycle(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	tenantCookie := app.install(t, testutil.TestTenant)

	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, "/?host=abc").WithCookie(tenantCookie))
	if rr.Code != http.StatusOK {
		t.Fatalf("app status = %d, want 200", rr.Code)
	}
	var body AppResponse
	testutil.AssertNoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	testutil.AssertEqual(t, body.Shop, testutil.TestTenant)

	payload := `{"myshopify_domain":"shop1.myshopify.com"}`
	rr = app.do(testutil.NewHTTPRequest(http.MethodPost, WebhookPath).
		WithHeader(webhook.HeaderTopic, "app/uninstalled").
		WithHeader(webhook.HeaderShopDomain, testutil.TestTenant).
		WithHeader(webhook.HeaderHMAC, security.WebhookHMAC([]byte(testutil.TestAPISecret), []byte(payload))).
		WithBody(payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", rr.Code)
	}

	rr = app.do(testutil.NewHTTPRequest(http.MethodGet, "/?host=abc").WithCookie(tenantCookie))
	if rr.Code != http.StatusFound {
		t.Fatalf("app after uninstall: status = %d, want 302", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, loc.Path, AuthPath)
	testutil.AssertEqual(t, loc.Query().Get("shop"), testutil.TestTenant)
	testutil.AssertEqual(t, loc.Query().Get("host"), "abc")
}

func TestHandler_AppWithoutTenant(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, "/"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if app.store.CallCount("GetActiveByTenant") != 0 {
		t.Error("store consulted for a request without a tenant")
	}
}

func TestHandler_CustomAppHandler(t *testing.T) {
	cfg := testConfig(t)
	cfg.AppHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := gate.CredentialFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = io.WriteString(w, cred.Tenant)
	})
	app := newTestApp(t, cfg)
	app.install(t, testutil.TestTenant)

	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, "/page?shop="+testutil.TestTenant))
	if rr.Code != http.StatusOK || rr.Body.String() != testutil.TestTenant {
		t.Errorf("status = %d body = %q", rr.Code, rr.Body.String())
	}
	testutil.AssertStringContains(t, rr.Header().Get("Content-Security-Policy"), "https://"+testutil.TestTenant)
}

func TestHandler_AdminInvalidate(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	app.install(t, testutil.TestTenant)
	target := AdminPathPrefix + "credentials/" + storage.OfflineID(testutil.TestTenant)

	rr := app.do(testutil.NewHTTPRequest(http.MethodDelete, target))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = app.do(testutil.NewHTTPRequest(http.MethodDelete, target).WithHeader("Authorization", "Bearer wrong"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}

	rr = app.do(testutil.NewHTTPRequest(http.MethodDelete, target).WithHeader("Authorization", "Bearer "+testAdminToken))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rr.Code, rr.Body.String())
	}
	_, err := app.server.Sessions.OnLoad(context.Background(), testutil.TestTenant)
	if err == nil {
		t.Error("credential still loadable after invalidation")
	}

	rr = app.do(testutil.NewHTTPRequest(http.MethodDelete, target).WithHeader("Authorization", "Bearer "+testAdminToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestHandler_AdminHistory(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	app.install(t, testutil.TestTenant)

	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, AdminPathPrefix+"tenants/"+testutil.TestTenant+"/credentials").
		WithHeader("Authorization", "Bearer "+testAdminToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp HistoryResponse
	testutil.AssertNoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	testutil.AssertEqual(t, resp.Tenant, testutil.TestTenant)
	if len(resp.Credentials) != 1 || !resp.Credentials[0].Current {
		t.Errorf("credentials = %+v", resp.Credentials)
	}
	if strings.Contains(rr.Body.String(), "mock-token") {
		t.Error("history leaked an access token")
	}

	rr = app.do(testutil.NewHTTPRequest(http.MethodGet, AdminPathPrefix+"tenants/evil.example.com/credentials").
		WithHeader("Authorization", "Bearer "+testAdminToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid tenant: status = %d, want 400", rr.Code)
	}
}

func TestHandler_AdminDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.AdminTokenHash = ""
	app := newTestApp(t, cfg)

	rr := app.do(testutil.NewHTTPRequest(http.MethodDelete, AdminPathPrefix+"credentials/x").
		WithHeader("Authorization", "Bearer "+testAdminToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHandler_Health(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, HealthPath))
	testutil.AssertEqual(t, rr.Code, http.StatusOK)

	rr = app.do(testutil.NewHTTPRequest(http.MethodGet, ReadyPath))
	testutil.AssertEqual(t, rr.Code, http.StatusOK)

	app.store.FailAll(storage.ErrStorageUnavailable)
	rr = app.do(testutil.NewHTTPRequest(http.MethodGet, ReadyPath))
	testutil.AssertEqual(t, rr.Code, http.StatusServiceUnavailable)

	rr = app.do(testutil.NewHTTPRequest(http.MethodGet, HealthPath))
	testutil.AssertEqual(t, rr.Code, http.StatusOK)
}

func TestHandler_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = RateLimitConfig{Rate: 1, Burst: 1}
	app := newTestApp(t, cfg)

	first := app.do(testutil.NewHTTPRequest(http.MethodGet, AuthPath+"?shop="+testutil.TestTenant))
	testutil.AssertEqual(t, first.Code, http.StatusFound)

	second := app.do(testutil.NewHTTPRequest(http.MethodGet, AuthPath+"?shop="+testutil.TestTenant))
	testutil.AssertEqual(t, second.Code, http.StatusTooManyRequests)
	if second.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// health checks are not limited
	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, HealthPath))
	testutil.AssertEqual(t, rr.Code, http.StatusOK)
}

func TestHandler_CommonHeaders(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, HealthPath))
	if rr.Header().Get(security.RequestIDHeader) == "" {
		t.Error("missing request id")
	}
	testutil.AssertEqual(t, rr.Header().Get("X-Content-Type-Options"), "nosniff")
	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Error("missing HSTS for an https app url")
	}

	rr = app.do(testutil.NewHTTPRequest(http.MethodGet, HealthPath).WithHeader(security.RequestIDHeader, "req-123"))
	testutil.AssertEqual(t, rr.Header().Get(security.RequestIDHeader), "req-123")
}

func TestHandler_LogsRequestID(t *testing.T) {
	var logs bytes.Buffer
	cfg := testConfig(t)
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	app := newTestApp(t, cfg)

	app.store.FailAll(storage.ErrStorageUnavailable)
	rr := app.do(testutil.NewHTTPRequest(http.MethodGet, ReadyPath).WithHeader(security.RequestIDHeader, "req-55"))
	testutil.AssertEqual(t, rr.Code, http.StatusServiceUnavailable)
	testutil.AssertStringContains(t, logs.String(), "Readiness check failed")
	testutil.AssertStringContains(t, logs.String(), "request_id=req-55")
}

func TestHandler_RequestSpan(t *testing.T) {
	for _, logIPs := range []bool{true, false} {
		var buf bytes.Buffer
		inst, err := instrumentation.New(instrumentation.Config{
			Enabled:        true,
			TracesExporter: instrumentation.ExporterStdout,
			LogClientIPs:   logIPs,
			Output:         &buf,
		})
		testutil.AssertNoError(t, err)

		cfg := testConfig(t)
		cfg.Instrumentation = inst
		app := newTestApp(t, cfg)

		rr := app.do(testutil.NewHTTPRequest(http.MethodGet, HealthPath))
		testutil.AssertEqual(t, rr.Code, http.StatusOK)
		testutil.AssertNoError(t, inst.Shutdown(context.Background()))

		out := buf.String()
		testutil.AssertStringContains(t, out, "http.request")
		testutil.AssertStringContains(t, out, instrumentation.AttrHTTPEndpoint)
		if got := strings.Contains(out, "192.0.2.1"); got != logIPs {
			t.Errorf("LogClientIPs=%t: client ip on span = %t", logIPs, got)
		}
	}
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr}
	rec.WriteHeader(http.StatusAccepted)
	rec.WriteHeader(http.StatusInternalServerError)
	testutil.AssertEqual(t, rec.status, http.StatusAccepted)

	rec = &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _ = rec.Write([]byte("x"))
	testutil.AssertEqual(t, rec.status, http.StatusOK)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := bearerToken(req)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
