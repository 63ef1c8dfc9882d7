package storegate

import "time"

// Routes served by Handler
const (
	AuthPath        = "/auth"
	CallbackPath    = "/auth/callback"
	WebhookPath     = "/webhooks"
	HealthPath      = "/healthz"
	ReadyPath       = "/readyz"
	MetricsPath     = "/metrics"
	AdminPathPrefix = "/admin/"
)

const (
	// StateCookieName carries the OAuth state nonce between /auth and its callback.
	StateCookieName = "storegate_state"

	// DefaultStateTTL is the lifetime of the state cookie.
	DefaultStateTTL = 10 * time.Minute

	// MinStateLength is the minimum length of an accepted state value.
	MinStateLength = 32
)
