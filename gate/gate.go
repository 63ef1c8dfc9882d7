package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/util"
	"github.com/giantswarm/storegate/security"
	"github.com/giantswarm/storegate/session"
	"github.com/giantswarm/storegate/storage"
)

const (
	// DefaultCookieName is the name of the signed tenant cookie.
	DefaultCookieName = "storegate_shop"

	// DefaultCookieMaxAge bounds how long a browser remembers its tenant.
	DefaultCookieMaxAge = 24 * time.Hour

	// cookieKeyPurpose separates the cookie key from other uses of the
	// same secret.
	cookieKeyPurpose = "storegate tenant cookie"

	// DefaultAuthPath is where tenants without a usable credential are sent.
	DefaultAuthPath = "/auth"

	// ShopParam is the query parameter naming the tenant.
	ShopParam = "shop"
)

// Redirect reasons, logged and audited
const (
	reasonNoCredential  = "no_active_credential"
	reasonCorrupt       = "corrupt_record"
	reasonExpired       = "expired"
	reasonScopesChanged = "scopes_changed"
)

// Sessions is the part of session.Manager the gate needs.
type Sessions interface {
	OnLoad(ctx context.Context, tenant string) (*storage.Credential, error)
	Usable(cred *storage.Credential, requiredScopes []string) error
}

var _ Sessions = (*session.Manager)(nil)

// Config holds gate configuration.
type Config struct {
	// Sessions loads credentials (required).
	Sessions Sessions

	// CookieSecret keys the tenant cookie (required). The MAC key is derived
	// from it, so the secret may be shared with other signers.
	CookieSecret string

	// CookieName defaults to DefaultCookieName.
	CookieName string

	// CookieMaxAge defaults to DefaultCookieMaxAge.
	CookieMaxAge time.Duration

	// SecureCookie sets the Secure attribute and SameSite=None so the cookie
	// survives inside the admin iframe. Disable only for plain HTTP development.
	SecureCookie bool

	// AuthPath defaults to DefaultAuthPath.
	AuthPath string

	// RequiredScopes must all be held by a credential for it to be usable.
	RequiredScopes []string

	// ValidateTenant rejects malformed tenants. Defaults to
	// security.ValidateShopDomain.
	ValidateTenant func(tenant string) error

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger

	TrustProxy        bool
	TrustedProxyCount int
}

// Gate is the request gate middleware.
type Gate struct {
	sessions       Sessions
	cookieSecret   []byte
	cookieName     string
	cookieMaxAge   time.Duration
	secureCookie   bool
	authPath       string
	requiredScopes []string
	validateTenant func(string) error

	auditor           *security.Auditor
	metrics           *instrumentation.Metrics
	tracer            trace.Tracer
	logger            *slog.Logger
	trustProxy        bool
	trustedProxyCount int
	logClientIPs      bool
}

// New creates a gate.
func New(cfg Config) (*Gate, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("gate: sessions are required")
	}
	if cfg.CookieSecret == "" {
		return nil, fmt.Errorf("gate: cookie secret is required")
	}

	g := &Gate{
		sessions:          cfg.Sessions,
		cookieSecret:      security.DeriveKey([]byte(cfg.CookieSecret), cookieKeyPurpose),
		cookieName:        cfg.CookieName,
		cookieMaxAge:      cfg.CookieMaxAge,
		secureCookie:      cfg.SecureCookie,
		authPath:          cfg.AuthPath,
		requiredScopes:    storage.NormalizeScopes(cfg.RequiredScopes),
		validateTenant:    cfg.ValidateTenant,
		auditor:           cfg.Auditor,
		metrics:           cfg.Instrumentation.Metrics(),
		tracer:            cfg.Instrumentation.Tracer("gate"),
		logClientIPs:      cfg.Instrumentation.ShouldLogClientIPs(),
		logger:            cfg.Logger,
		trustProxy:        cfg.TrustProxy,
		trustedProxyCount: cfg.TrustedProxyCount,
	}
	if g.cookieName == "" {
		g.cookieName = DefaultCookieName
	}
	if g.cookieMaxAge <= 0 {
		g.cookieMaxAge = DefaultCookieMaxAge
	}
	if g.authPath == "" {
		g.authPath = DefaultAuthPath
	}
	if g.validateTenant == nil {
		g.validateTenant = security.ValidateShopDomain
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// SetTenantCookie remembers tenant for later requests that arrive without a
// shop parameter.
func (g *Gate) SetTenantCookie(w http.ResponseWriter, tenant string) {
	http.SetCookie(w, g.cookie(security.SignValue(g.cookieSecret, tenant), int(g.cookieMaxAge.Seconds())))
}

// ClearTenantCookie removes the tenant cookie.
func (g *Gate) ClearTenantCookie(w http.ResponseWriter) {
	http.SetCookie(w, g.cookie("", -1))
}

func (g *Gate) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     g.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   g.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if g.secureCookie {
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

// tenantFromRequest returns the tenant named by r and whether it came from
// the cookie. A cookie with a bad signature is ignored.
func (g *Gate) tenantFromRequest(r *http.Request) (tenant string, fromCookie bool) {
	if shop := r.URL.Query().Get(ShopParam); shop != "" {
		return security.NormalizeShopDomain(shop), false
	}

	c, err := r.Cookie(g.cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	value, err := security.VerifySignedValue(g.cookieSecret, c.Value)
	if err != nil {
		g.auditor.LogSignatureInvalid(security.EventCookieSignatureInvalid, "",
			security.GetClientIP(r, g.trustProxy, g.trustedProxyCount))
		g.log(r).Warn("Ignoring tenant cookie with invalid signature")
		return "", false
	}
	return value, true
}

func (g *Gate) log(r *http.Request) *slog.Logger {
	return security.LoggerWithRequestID(r.Context(), g.logger)
}

// Middleware wraps next with the gate.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, fromCookie := g.tenantFromRequest(r)
		if tenant == "" {
			g.metrics.RecordGateDecision(r.Context(), instrumentation.DecisionPass)
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := g.tracer.Start(r.Context(), "gate.decide")
		defer span.End()
		instrumentation.AddTenantAttributes(span, tenant)
		if g.logClientIPs {
			instrumentation.AddSecurityAttributes(span, security.GetClientIP(r, g.trustProxy, g.trustedProxyCount))
		}

		decide := func(decision string) {
			span.SetAttributes(attribute.String(instrumentation.AttrGateDecision, decision))
			g.metrics.RecordGateDecision(ctx, decision)
		}

		if err := g.validateTenant(tenant); err != nil {
			decide(instrumentation.DecisionReject)
			instrumentation.SetSpanSuccess(span)
			util.WriteJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		cred, err := g.sessions.OnLoad(ctx, tenant)
		if err == nil {
			err = g.sessions.Usable(cred, g.requiredScopes)
		}

		if reason, ok := redirectReason(err); ok {
			decide(instrumentation.DecisionRedirect)
			instrumentation.SetSpanSuccess(span)
			g.auditor.LogAuthorizationRedirect(tenant,
				security.GetClientIP(r, g.trustProxy, g.trustedProxyCount), reason)
			g.log(r).Info("Redirecting tenant to authorization", "tenant", tenant, "reason", reason)
			http.Redirect(w, r, g.authURL(r, tenant, fromCookie), http.StatusFound)
			return
		}
		if err != nil {
			decide(instrumentation.DecisionError)
			instrumentation.RecordError(span, err)
			g.log(r).Error("Failed to load credential", "tenant", tenant, "error", err)
			util.WriteJSONError(w, http.StatusServiceUnavailable, "temporarily_unavailable",
				"credential store is unavailable")
			return
		}

		decide(instrumentation.DecisionProceed)
		instrumentation.SetSpanSuccess(span)
		security.SetFrameAncestors(w, tenant, true)
		next.ServeHTTP(w, r.WithContext(WithCredential(ctx, cred)))
	})
}

// redirectReason classifies err into a redirect reason. Storage failures,
// including a cancelled request, are not redirects.
func redirectReason(err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, storage.ErrStorageUnavailable):
		return "", false
	case errors.Is(err, session.ErrNoActiveCredential):
		return reasonNoCredential, true
	case errors.Is(err, storage.ErrCorruptRecord):
		return reasonCorrupt, true
	case errors.Is(err, session.ErrCredentialExpired):
		return reasonExpired, true
	case errors.Is(err, session.ErrScopesChanged):
		return reasonScopesChanged, true
	}
	return "", false
}

// authURL is the authorization path with the request's query, plus shop
// when the tenant was only known from the cookie.
func (g *Gate) authURL(r *http.Request, tenant string, fromCookie bool) string {
	query := r.URL.Query()
	if fromCookie || query.Get(ShopParam) == "" {
		query.Set(ShopParam, tenant)
	}
	u := url.URL{Path: g.authPath, RawQuery: query.Encode()}
	return u.String()
}
