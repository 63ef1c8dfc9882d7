package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// A nil *Auditor is valid and logs nothing.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type         string
	Tenant       string
	CredentialID string
	IPAddress    string
	Details      map[string]any
	Timestamp    time.Time
}

// LogEvent logs a security event. Credential ids are hashed because the
// online variant embeds a platform user id.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"tenant", event.Tenant,
		"credential_id_hash", hashForLogging(event.CredentialID),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCredentialGranted logs a persisted grant
func (a *Auditor) LogCredentialGranted(tenant, credentialID, kind string, sequence uint64) {
	a.LogEvent(Event{
		Type:         EventCredentialGranted,
		Tenant:       tenant,
		CredentialID: credentialID,
		Details: map[string]any{
			"kind":     kind,
			"sequence": sequence,
		},
	})
}

// LogTenantUninstalled logs an uninstall and how many records it deactivated
func (a *Auditor) LogTenantUninstalled(tenant string, deactivated int) {
	a.LogEvent(Event{
		Type:   EventTenantUninstalled,
		Tenant: tenant,
		Details: map[string]any{
			"deactivated": deactivated,
		},
	})
}

// LogCredentialInvalidated logs an administrative deletion
func (a *Auditor) LogCredentialInvalidated(credentialID, ipAddress string) {
	a.LogEvent(Event{
		Type:         EventCredentialInvalidated,
		CredentialID: credentialID,
		IPAddress:    ipAddress,
	})
}

// LogCorruptRecord logs a payload that failed to decode
func (a *Auditor) LogCorruptRecord(tenant, credentialID, reason string) {
	a.LogEvent(Event{
		Type:         EventCorruptRecordDetected,
		Tenant:       tenant,
		CredentialID: credentialID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAuthorizationRedirect logs a gate redirect into the OAuth flow
func (a *Auditor) LogAuthorizationRedirect(tenant, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationRedirect,
		Tenant:    tenant,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogSignatureInvalid logs a failed HMAC check of the given kind
// (EventWebhookSignatureInvalid, EventCallbackSignatureInvalid, EventCookieSignatureInvalid)
func (a *Auditor) LogSignatureInvalid(eventType, tenant, ipAddress string) {
	a.LogEvent(Event{
		Type:      eventType,
		Tenant:    tenant,
		IPAddress: ipAddress,
	})
}

// LogUpstreamRejected logs an upstream authorization failure
func (a *Auditor) LogUpstreamRejected(tenant, credentialID string, status int) {
	a.LogEvent(Event{
		Type:         EventUpstreamRejected,
		Tenant:       tenant,
		CredentialID: credentialID,
		Details: map[string]any{
			"status": status,
		},
	})
}

// LogAdminAuthFailure logs a rejected admin call
func (a *Auditor) LogAdminAuthFailure(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAdminAuthFailure,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
