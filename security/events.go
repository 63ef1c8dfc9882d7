package security

// Event type constants for security audit logging.
const (
	// Credential lifecycle events

	// EventCredentialGranted is logged when the OAuth engine hands over a new or re-issued credential
	EventCredentialGranted = "credential_granted" //nolint:gosec // G101: event type name, not a credential

	// EventCredentialGrantUnchanged is logged when a grant repeats an identical active credential
	EventCredentialGrantUnchanged = "credential_grant_unchanged" //nolint:gosec // G101: event type name

	// EventTenantUninstalled is logged when an uninstall deactivates a tenant's credentials
	EventTenantUninstalled = "tenant_uninstalled"

	// EventCredentialInvalidated is logged when an administrator deletes a credential record
	EventCredentialInvalidated = "credential_invalidated" //nolint:gosec // G101: event type name

	// EventCorruptRecordDetected is logged when a stored payload cannot be decoded
	EventCorruptRecordDetected = "corrupt_record_detected"

	// Request path events

	// EventAuthorizationRedirect is logged when the gate sends a tenant into the OAuth flow
	EventAuthorizationRedirect = "authorization_redirect"

	// EventUpstreamRejected is logged when the platform API refuses a tenant's access token
	EventUpstreamRejected = "upstream_rejected"

	// Security violation events

	// EventWebhookSignatureInvalid is logged when a webhook delivery fails HMAC verification
	EventWebhookSignatureInvalid = "webhook_signature_invalid"

	// EventCallbackSignatureInvalid is logged when an OAuth callback fails HMAC or state verification
	EventCallbackSignatureInvalid = "callback_signature_invalid"

	// EventCookieSignatureInvalid is logged when a tenant cookie carries a bad signature
	EventCookieSignatureInvalid = "cookie_signature_invalid"

	// EventAdminAuthFailure is logged when an admin endpoint is called without a valid token
	EventAdminAuthFailure = "admin_auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
