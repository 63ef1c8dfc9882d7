package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/testutil"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(ClientConfig{
		HTTPClient: srv.Client(),
		BaseURL:    func(string) string { return srv.URL },
	})
}

func TestClient_Do(t *testing.T) {
	cred := testutil.OfflineCredential(testutil.TestTenant)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/api/"+DefaultAPIVersion+"/products/count.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get(HeaderAccessToken); got != cred.Token.AccessToken {
			t.Errorf("access token = %q", got)
		}
		if got := r.URL.Query().Get("status"); got != "active" {
			t.Errorf("status query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":3}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).Do(context.Background(), cred, Request{
		Path:  "products/count.json",
		Query: url.Values{"status": {"active"}},
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.Status, http.StatusOK)
	testutil.AssertEqual(t, string(resp.Body), `{"count":3}`)
	testutil.AssertEqual(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestClient_GraphQL(t *testing.T) {
	cred := testutil.OfflineCredential(testutil.TestTenant)
	query := `{"query":"{ shop { name } }"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/admin/api/"+DefaultAPIVersion+"/graphql.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != query {
			t.Errorf("body = %q", body)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`{"data":{"shop":{"name":"Shop 1"}}}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).GraphQL(context.Background(), cred, []byte(query))
	testutil.AssertNoError(t, err)
	testutil.AssertStringContains(t, string(resp.Body), "Shop 1")
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErr    error
		wantStatus int
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUpstreamRejected, 0},
		{"forbidden", http.StatusForbidden, ErrUpstreamRejected, 0},
		{"not found passes through", http.StatusNotFound, nil, http.StatusNotFound},
		{"throttled passes through", http.StatusTooManyRequests, nil, http.StatusTooManyRequests},
		{"server error passes through", http.StatusInternalServerError, nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"errors":"x"}`))
			}))
			defer srv.Close()

			resp, err := newTestClient(srv).Do(context.Background(),
				testutil.OfflineCredential(testutil.TestTenant), Request{Path: "shop.json"})
			if tt.wantErr != nil {
				testutil.AssertErrorIs(t, err, tt.wantErr)
				var upstream *UpstreamError
				if !errors.As(err, &upstream) || upstream.Status != tt.status {
					t.Errorf("error = %v, want *UpstreamError with status %d", err, tt.status)
				}
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, resp.Status, tt.wantStatus)
		})
	}
}

func TestClient_Unavailable(t *testing.T) {
	cred := testutil.OfflineCredential(testutil.TestTenant)

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		client := newTestClient(srv)
		srv.Close()

		_, err := client.Do(context.Background(), cred, Request{Path: "shop.json"})
		testutil.AssertErrorIs(t, err, ErrUpstreamUnavailable)
	})

	t.Run("cancelled", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestClient(srv).Do(ctx, cred, Request{Path: "shop.json"})
		testutil.AssertErrorIs(t, err, ErrUpstreamUnavailable)
		testutil.AssertErrorIs(t, err, context.Canceled)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := newTestClient(srv).Do(ctx, cred, Request{Path: "shop.json"})
		testutil.AssertErrorIs(t, err, ErrUpstreamUnavailable)
		testutil.AssertErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestClient_RequiresToken(t *testing.T) {
	client := NewClient(ClientConfig{})
	if _, err := client.Do(context.Background(), nil, Request{Path: "shop.json"}); err == nil {
		t.Error("Do() without credential should fail")
	}
}

func TestClient_APIVersion(t *testing.T) {
	testutil.AssertEqual(t, NewClient(ClientConfig{}).APIVersion(), DefaultAPIVersion)

	client := NewClient(ClientConfig{
		APIVersion: "2024-01",
		BaseURL:    func(tenant string) string { return "https://" + tenant + "/" },
	})
	testutil.AssertEqual(t, client.endpoint(testutil.TestTenant, "/shop.json"),
		"https://"+testutil.TestTenant+"/admin/api/2024-01/shop.json")
}

func TestClient_ResponseTooLarge(t *testing.T) {
	cred := testutil.OfflineCredential(testutil.TestTenant)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 16))
	}))
	defer srv.Close()

	newClient := func(limit int64) *Client {
		return NewClient(ClientConfig{
			HTTPClient:       srv.Client(),
			BaseURL:          func(string) string { return srv.URL },
			MaxResponseBytes: limit,
		})
	}

	_, err := newClient(10).Do(context.Background(), cred, Request{Path: "products.json"})
	testutil.AssertErrorIs(t, err, ErrResponseTooLarge)
	testutil.AssertErrorIs(t, err, ErrUpstreamUnavailable)

	resp, err := newClient(16).Do(context.Background(), cred, Request{Path: "products.json"})
	testutil.AssertNoError(t, err)
	if len(resp.Body) != 16 {
		t.Errorf("body length = %d, want 16", len(resp.Body))
	}
}

func TestClient_SpanAttributes(t *testing.T) {
	var buf bytes.Buffer
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:        true,
		TracesExporter: instrumentation.ExporterStdout,
		Output:         &buf,
	})
	testutil.AssertNoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		HTTPClient:      srv.Client(),
		BaseURL:         func(string) string { return srv.URL },
		Instrumentation: inst,
	})
	_, err = c.Do(context.Background(), testutil.OfflineCredential(testutil.TestTenant), Request{Path: "shop.json"})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, inst.Shutdown(context.Background()))

	out := buf.String()
	for _, want := range []string{instrumentation.AttrProxyOperation, instrumentation.AttrProxyStatus, "GET shop.json", outcomeStatus} {
		testutil.AssertStringContains(t, out, want)
	}
}
