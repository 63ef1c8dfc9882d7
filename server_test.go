package storegate

import (
	"context"
	"testing"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/testutil"
	providermock "github.com/giantswarm/storegate/providers/mock"
	"github.com/giantswarm/storegate/storage/memory"
)

func TestNewServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Rate = 10

	s, err := NewServer(memory.New(), cfg)
	testutil.AssertNoError(t, err)
	defer s.Shutdown()

	testutil.AssertEqual(t, s.Provider.Name(), "shopify")
	if s.RateLimiter == nil {
		t.Error("rate limiter not created")
	}
	if s.Encryptor.IsEnabled() {
		t.Error("encryption enabled without a key")
	}
}

func TestNewServer_Validation(t *testing.T) {
	provider := providermock.NewMockProvider(testutil.TestAPISecret)

	if _, err := NewServerWithProvider(nil, provider, testConfig(t)); err == nil {
		t.Error("expected error without store")
	}
	if _, err := NewServerWithProvider(memory.New(), nil, testConfig(t)); err == nil {
		t.Error("expected error without provider")
	}
	if _, err := NewServerWithProvider(memory.New(), provider, nil); err == nil {
		t.Error("expected error without config")
	}

	cfg := testConfig(t)
	cfg.Security.EncryptionKey = []byte("short")
	if _, err := NewServerWithProvider(memory.New(), provider, cfg); err == nil {
		t.Error("expected error for a short encryption key")
	}

	cfg = testConfig(t)
	cfg.Shopify.APISecret = ""
	if _, err := NewServerWithProvider(memory.New(), provider, cfg); err == nil {
		t.Error("expected error for an invalid config")
	}
}

func TestNewServer_Instrumented(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:         true,
		MetricsExporter: instrumentation.ExporterPrometheus,
	})
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	cfg := testConfig(t)
	cfg.Instrumentation = inst
	app := newTestApp(t, cfg)
	app.install(t, testutil.TestTenant)

	rr := app.do(testutil.NewHTTPRequest("GET", MetricsPath))
	if rr.Code != 200 {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	testutil.AssertStringContains(t, rr.Body.String(), "storegate_session_grants")
}
