package gate

import (
	"context"

	"github.com/giantswarm/storegate/storage"
)

type contextKey int

const (
	credentialKey contextKey = iota
	tenantKey
)

// WithCredential returns a context carrying cred and its tenant.
func WithCredential(ctx context.Context, cred *storage.Credential) context.Context {
	ctx = context.WithValue(ctx, credentialKey, cred)
	return context.WithValue(ctx, tenantKey, cred.Tenant)
}

// CredentialFromContext returns the credential attached by the gate.
func CredentialFromContext(ctx context.Context) (*storage.Credential, bool) {
	cred, ok := ctx.Value(credentialKey).(*storage.Credential)
	return cred, ok && cred != nil
}

// TenantFromContext returns the tenant of the attached credential.
func TenantFromContext(ctx context.Context) (string, bool) {
	tenant, ok := ctx.Value(tenantKey).(string)
	return tenant, ok && tenant != ""
}
