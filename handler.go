package storegate

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/storegate/gate"
	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/proxy"
	"github.com/giantswarm/storegate/security"
	"github.com/giantswarm/storegate/storage"
)

// Handler is a thin HTTP adapter for the Server.
// It handles HTTP requests and delegates to the Server's components.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
		tracer: server.Instrumentation.Tracer("http"),
	}
}

// Routes returns the complete HTTP surface of the app.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	h.handle(mux, "GET "+AuthPath, "auth", h.rateLimited(http.HandlerFunc(h.ServeAuthorization)))
	h.handle(mux, "GET "+CallbackPath, "callback", h.rateLimited(http.HandlerFunc(h.ServeCallback)))
	h.handle(mux, WebhookPath, "webhook", h.rateLimited(h.server.Webhooks))

	h.handle(mux, "DELETE "+AdminPathPrefix+"credentials/{id}", "admin_invalidate",
		h.rateLimited(h.requireAdmin(http.HandlerFunc(h.ServeInvalidate))))
	h.handle(mux, "GET "+AdminPathPrefix+"tenants/{tenant}/credentials", "admin_history",
		h.rateLimited(h.requireAdmin(http.HandlerFunc(h.ServeHistory))))

	h.handle(mux, "GET "+HealthPath, "healthz", http.HandlerFunc(h.ServeHealth))
	h.handle(mux, "GET "+ReadyPath, "readyz", http.HandlerFunc(h.ServeReady))
	if metrics := h.server.Instrumentation.MetricsHandler(); metrics != nil {
		mux.Handle("GET "+MetricsPath, metrics)
	}

	api := proxy.NewHandler(h.server.Proxy, gate.CredentialFromContext, h.logger)
	api.Register(mux, func(next http.Handler) http.Handler {
		return h.instrumented("api", h.server.Gate.Middleware(next))
	})

	app := h.server.Config.AppHandler
	if app == nil {
		app = http.HandlerFunc(defaultAppHandler)
	}
	h.handle(mux, "/", "app", h.server.Gate.Middleware(app))

	return security.RequestIDMiddleware(h.withSecurityHeaders(mux))
}

func (h *Handler) handle(mux *http.ServeMux, pattern, endpoint string, handler http.Handler) {
	mux.Handle(pattern, h.instrumented(endpoint, handler))
}

func (h *Handler) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w, h.server.Config.AppURL)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (h *Handler) instrumented(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "http.request")
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
		if h.server.Instrumentation.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span, h.clientIP(r))
		}
		h.recordHTTPMetrics(ctx, endpoint, r.Method, rec.status, startTime)
	})
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	duration := float64(time.Since(startTime).Microseconds()) / 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

// rateLimited applies the per-IP rate limiter. Returns next unchanged when
// limiting is disabled.
func (h *Handler) rateLimited(next http.Handler) http.Handler {
	if h.server.RateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)
		if !h.server.RateLimiter.Allow(clientIP) {
			h.log(r).Warn("Rate limit exceeded", "ip", clientIP, "path", r.URL.Path)
			h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), r.URL.Path)
			h.server.Auditor.LogRateLimitExceeded(clientIP, r.URL.Path)
			w.Header().Set("Retry-After", "1")
			ErrRateLimitExceeded("Rate limit exceeded. Please try again later.").Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// log returns the handler logger tagged with the request ID.
func (h *Handler) log(r *http.Request) *slog.Logger {
	return security.LoggerWithRequestID(r.Context(), h.logger)
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.Security.TrustProxy, h.server.Config.Security.TrustedProxyCount)
}

// ==================== Authorization ====================

// ServeAuthorization starts the OAuth flow for the shop named in the query.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "http.authorization")
	defer span.End()

	shop := security.NormalizeShopDomain(r.URL.Query().Get(gate.ShopParam))
	if err := security.ValidateShopDomain(shop); err != nil {
		instrumentation.SetSpanError(span, "invalid shop")
		ErrInvalidRequest(err.Error()).Write(w)
		return
	}
	instrumentation.AddTenantAttributes(span, shop)

	state := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     CallbackPath,
		MaxAge:   int(h.server.Config.Security.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   !h.server.Config.Security.InsecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	authURL := h.server.Provider.AuthorizationURL(shop, state, h.server.Config.Shopify.OnlineTokens)
	h.log(r).InfoContext(ctx, "Starting authorization", "tenant", shop,
		"online", h.server.Config.Shopify.OnlineTokens)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback completes the OAuth flow: it verifies the callback, exchanges
// the code, hands the credential to the session manager and sends the
// browser back to the app.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "http.callback")
	defer span.End()

	query := r.URL.Query()
	shop := security.NormalizeShopDomain(query.Get(gate.ShopParam))

	if err := h.server.Provider.VerifyCallback(query); err != nil {
		h.server.Auditor.LogSignatureInvalid(security.EventCallbackSignatureInvalid, shop, h.clientIP(r))
		h.log(r).Warn("Rejected callback with invalid signature", "tenant", shop)
		instrumentation.SetSpanError(span, "invalid callback signature")
		ErrInvalidSignature("callback signature verification failed").Write(w)
		return
	}

	if err := security.ValidateShopDomain(shop); err != nil {
		instrumentation.SetSpanError(span, "invalid shop")
		ErrInvalidRequest(err.Error()).Write(w)
		return
	}
	instrumentation.AddTenantAttributes(span, shop)

	if !h.validState(r, query.Get("state")) {
		h.log(r).Warn("Rejected callback with mismatched state", "tenant", shop)
		instrumentation.SetSpanError(span, "state mismatch")
		ErrInvalidState("state does not match this browser's authorization request").Write(w)
		return
	}
	h.clearStateCookie(w)

	code := query.Get("code")
	if code == "" {
		instrumentation.SetSpanError(span, "missing code")
		ErrInvalidRequest("code is required").Write(w)
		return
	}

	cred, err := h.server.Provider.ExchangeCode(ctx, shop, code, h.server.Config.Shopify.OnlineTokens)
	if err != nil {
		h.log(r).Error("Code exchange failed", "tenant", shop, "error", err)
		instrumentation.RecordError(span, err)
		ErrUpstream("authorization code exchange failed").Write(w)
		return
	}

	if err := h.server.Sessions.OnGrant(ctx, cred); err != nil {
		h.log(r).Error("Failed to store credential", "tenant", shop, "error", err)
		instrumentation.RecordError(span, err)
		if errors.Is(err, storage.ErrStorageUnavailable) {
			ErrTemporarilyUnavailable("credential store is unavailable").Write(w)
			return
		}
		ErrServerError("failed to store credential").Write(w)
		return
	}

	h.server.Gate.SetTenantCookie(w, shop)
	span.SetAttributes(attribute.String(instrumentation.AttrCredentialKind, string(cred.Kind)))
	instrumentation.SetSpanSuccess(span)

	home := url.Values{gate.ShopParam: {shop}}
	if host := query.Get("host"); host != "" {
		home.Set("host", host)
	}
	http.Redirect(w, r, "/?"+home.Encode(), http.StatusFound)
}

func (h *Handler) validState(r *http.Request, state string) bool {
	if len(state) < MinStateLength {
		return false
	}
	c, err := r.Cookie(StateCookieName)
	if err != nil || c.Value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) == 1
}

func (h *Handler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     CallbackPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.server.Config.Security.InsecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// ==================== Admin ====================

// requireAdmin checks the bearer token against the configured bcrypt hash.
// Without a configured hash the admin endpoints answer 404.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := h.server.Config.Security.AdminTokenHash
		if hash == "" {
			ErrNotFound("admin api is disabled").Write(w)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			h.server.Auditor.LogAdminAuthFailure(h.clientIP(r), "missing_token")
			w.Header().Set("WWW-Authenticate", "Bearer")
			ErrInvalidToken("missing bearer token").Write(w)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			h.server.Auditor.LogAdminAuthFailure(h.clientIP(r), "invalid_token")
			h.log(r).Warn("Rejected admin request", "ip", h.clientIP(r), "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", "Bearer")
			ErrInvalidToken("invalid bearer token").Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// ServeInvalidate deletes one credential record by id.
func (h *Handler) ServeInvalidate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		ErrInvalidRequest("credential id is required").Write(w)
		return
	}

	err := h.server.Sessions.OnInvalidate(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrRecordNotFound):
		ErrNotFound("no such credential").Write(w)
		return
	case errors.Is(err, storage.ErrStorageUnavailable):
		ErrTemporarilyUnavailable("credential store is unavailable").Write(w)
		return
	case err != nil:
		h.log(r).Error("Failed to invalidate credential", "error", err)
		ErrServerError("failed to invalidate credential").Write(w)
		return
	}

	h.server.Auditor.LogCredentialInvalidated(id, h.clientIP(r))
	w.WriteHeader(http.StatusNoContent)
}

// ServeHistory lists a tenant's credential records, newest first.
func (h *Handler) ServeHistory(w http.ResponseWriter, r *http.Request) {
	tenant := security.NormalizeShopDomain(r.PathValue("tenant"))
	if err := security.ValidateShopDomain(tenant); err != nil {
		ErrInvalidRequest(err.Error()).Write(w)
		return
	}

	records, err := h.server.Sessions.History(r.Context(), tenant)
	if err != nil {
		h.log(r).Error("Failed to list credentials", "tenant", tenant, "error", err)
		if errors.Is(err, storage.ErrStorageUnavailable) {
			ErrTemporarilyUnavailable("credential store is unavailable").Write(w)
			return
		}
		ErrServerError("failed to list credentials").Write(w)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Tenant: tenant, Credentials: records})
}

// ==================== Health ====================

// ServeHealth reports liveness.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ServeReady reports whether the credential store is reachable.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.server.Sessions.Ping(ctx); err != nil {
		h.log(r).Warn("Readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

const readyTimeout = 2 * time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	security.SetNoStore(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func defaultAppHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := gate.TenantFromContext(r.Context())
	writeJSON(w, http.StatusOK, AppResponse{Shop: tenant})
}
