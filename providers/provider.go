package providers

import (
	"context"
	"net/url"

	"github.com/giantswarm/storegate/storage"
)

// Provider defines the OAuth engine that authorizes one tenant at a time.
type Provider interface {
	// Name returns the provider name (e.g., "shopify")
	Name() string

	// AuthorizationURL returns the URL to redirect the merchant of shop to.
	// online requests a per-user token instead of an offline one.
	AuthorizationURL(shop, state string, online bool) string

	// ExchangeCode exchanges an authorization code for a credential
	ExchangeCode(ctx context.Context, shop, code string, online bool) (*storage.Credential, error)

	// VerifyCallback checks the signature the platform attaches to the
	// callback query. It returns an error wrapping security.ErrSignatureInvalid
	// on mismatch.
	VerifyCallback(query url.Values) error
}
