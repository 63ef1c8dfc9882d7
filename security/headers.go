package security

import (
	"net/http"
	"net/url"
)

// AdminOrigin is the platform admin host allowed to frame embedded apps.
const AdminOrigin = "https://admin.shopify.com"

// SetSecurityHeaders sets the baseline security headers on HTTP responses.
// Framing is decided separately by SetFrameAncestors.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	// X-Content-Type-Options: Prevent MIME type sniffing
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// Referrer-Policy: Don't leak query strings (shop, host, hmac) to third parties
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

	// Strict-Transport-Security: Enforce HTTPS (only if server uses HTTPS)
	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// SetFrameAncestors sets the Content-Security-Policy frame-ancestors directive.
// Embedded apps may only be framed by the tenant's own storefront admin and the
// platform admin; without a tenant, framing is refused.
func SetFrameAncestors(w http.ResponseWriter, tenant string, embedded bool) {
	if embedded && tenant != "" {
		w.Header().Set("Content-Security-Policy", "frame-ancestors https://"+tenant+" "+AdminOrigin+";")
		return
	}
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none';")
}

// SetNoStore prevents caching of responses that carry tokens or tenant state.
func SetNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
