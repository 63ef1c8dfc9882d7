package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/giantswarm/storegate/security"
	"github.com/giantswarm/storegate/storage"
)

const (
	testShop   = "shop1.myshopify.com"
	testKey    = "api-key"
	testSecret = "api-secret"
)

func newTestProvider(t *testing.T, serverURL string) *Provider {
	t.Helper()
	p, err := NewProvider(&Config{
		APIKey:      testKey,
		APISecret:   testSecret,
		Scopes:      []string{"write_products", "read_products"},
		RedirectURL: "https://app.example.com/auth/callback",
		ShopURL:     func(string) string { return serverURL },
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}

func TestNewProvider_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing key", Config{APISecret: "s", Scopes: []string{"read_products"}}},
		{"missing secret", Config{APIKey: "k", Scopes: []string{"read_products"}}},
		{"missing scopes", Config{APIKey: "k", APISecret: "s", Scopes: []string{" , "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(&tt.cfg); err == nil {
				t.Error("NewProvider() should fail")
			}
		})
	}
}

func TestProvider_AuthorizationURL(t *testing.T) {
	p, err := NewProvider(&Config{
		APIKey:      testKey,
		APISecret:   testSecret,
		Scopes:      []string{"write_products,read_products"},
		RedirectURL: "https://app.example.com/auth/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	tests := []struct {
		name       string
		online     bool
		wantGrants string
	}{
		{"offline", false, ""},
		{"online", true, "per-user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(p.AuthorizationURL(testShop, "nonce-1", tt.online))
			if err != nil {
				t.Fatalf("parse URL: %v", err)
			}
			if u.Scheme != "https" || u.Host != testShop || u.Path != "/admin/oauth/authorize" {
				t.Errorf("URL = %s", u)
			}
			q := u.Query()
			if q.Get("client_id") != testKey {
				t.Errorf("client_id = %q", q.Get("client_id"))
			}
			if q.Get("scope") != "read_products,write_products" {
				t.Errorf("scope = %q", q.Get("scope"))
			}
			if q.Get("state") != "nonce-1" {
				t.Errorf("state = %q", q.Get("state"))
			}
			if q.Get("redirect_uri") != "https://app.example.com/auth/callback" {
				t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
			}
			if got := q.Get("grant_options[]"); got != tt.wantGrants {
				t.Errorf("grant_options[] = %q, want %q", got, tt.wantGrants)
			}
		})
	}
}

func tokenServer(t *testing.T, response map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/oauth/access_token" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("client_id") != testKey || r.PostForm.Get("client_secret") != testSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestProvider_ExchangeCode_Offline(t *testing.T) {
	server := tokenServer(t, map[string]any{
		"access_token": "shpat_offline",
		"scope":        "write_products,read_products",
	})
	p := newTestProvider(t, server.URL)

	cred, err := p.ExchangeCode(context.Background(), testShop, "good-code", false)
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if cred.ID != storage.OfflineID(testShop) || cred.Kind != storage.KindOffline || cred.Tenant != testShop {
		t.Errorf("credential = %+v", cred)
	}
	if cred.Token.AccessToken != "shpat_offline" || !cred.Token.Expiry.IsZero() {
		t.Errorf("token = %+v", cred.Token)
	}
	if len(cred.Scopes) != 2 || cred.Scopes[0] != "read_products" {
		t.Errorf("Scopes = %v", cred.Scopes)
	}
}

func TestProvider_ExchangeCode_Online(t *testing.T) {
	server := tokenServer(t, map[string]any{
		"access_token":          "shpua_online",
		"scope":                 "read_products",
		"expires_in":            86399,
		"associated_user_scope": "read_products",
		"associated_user": map[string]any{
			"id":            902541635,
			"email":         "owner@example.com",
			"account_owner": true,
		},
	})
	p := newTestProvider(t, server.URL)

	before := time.Now()
	cred, err := p.ExchangeCode(context.Background(), testShop, "good-code", true)
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if cred.ID != storage.OnlineID(testShop, 902541635) || cred.Kind != storage.KindOnline {
		t.Errorf("credential = %+v", cred)
	}
	if cred.Online == nil || cred.Online.Email != "owner@example.com" || !cred.Online.AccountOwner {
		t.Errorf("Online = %+v", cred.Online)
	}
	if cred.Token.Expiry.Before(before.Add(23 * time.Hour)) {
		t.Errorf("Expiry = %v, want about a day ahead", cred.Token.Expiry)
	}
}

func TestProvider_ExchangeCode_OnlineWithoutUser(t *testing.T) {
	server := tokenServer(t, map[string]any{
		"access_token": "shpua_online",
		"expires_in":   86399,
	})
	p := newTestProvider(t, server.URL)

	_, err := p.ExchangeCode(context.Background(), testShop, "good-code", true)
	if !errors.Is(err, ErrMissingAssociatedUser) {
		t.Fatalf("error = %v, want ErrMissingAssociatedUser", err)
	}
}

func TestProvider_ExchangeCode_Rejected(t *testing.T) {
	server := tokenServer(t, map[string]any{"access_token": "unused"})
	p := newTestProvider(t, server.URL)

	if _, err := p.ExchangeCode(context.Background(), testShop, "bad-code", false); err == nil {
		t.Fatal("ExchangeCode() with a bad code should fail")
	}
}

func TestProvider_VerifyCallback(t *testing.T) {
	p := newTestProvider(t, "https://unused")

	query := url.Values{
		"code":      {"abc"},
		"shop":      {testShop},
		"state":     {"nonce-1"},
		"timestamp": {"1700000000"},
	}
	query.Set("hmac", security.QueryHMAC([]byte(testSecret), query))

	if err := p.VerifyCallback(query); err != nil {
		t.Fatalf("VerifyCallback() error = %v", err)
	}

	query.Set("shop", "evil.myshopify.com")
	if err := p.VerifyCallback(query); !errors.Is(err, security.ErrSignatureInvalid) {
		t.Errorf("tampered query error = %v, want ErrSignatureInvalid", err)
	}
}

func TestProvider_Name(t *testing.T) {
	p := newTestProvider(t, "https://unused")
	if p.Name() != "shopify" {
		t.Errorf("Name() = %q", p.Name())
	}
	scopes := p.Scopes()
	scopes[0] = "mutated"
	if p.Scopes()[0] == "mutated" {
		t.Error("Scopes() exposes internal state")
	}
}
