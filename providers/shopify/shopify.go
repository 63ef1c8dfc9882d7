package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/storegate/providers"
	"github.com/giantswarm/storegate/security"
	"github.com/giantswarm/storegate/storage"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// providerName is the name returned by Provider.Name().
const providerName = "shopify"

// DefaultRequestTimeout bounds the token exchange when ctx has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// ErrMissingAssociatedUser is returned when an online exchange does not name
// the user the token belongs to.
var ErrMissingAssociatedUser = errors.New("online token response has no associated user")

// Config holds Shopify app configuration.
type Config struct {
	// APIKey is the app's client id.
	APIKey string

	// APISecret is the app's client secret. It also keys callback HMACs.
	APISecret string

	// Scopes requested on authorization.
	Scopes []string

	// RedirectURL is the OAuth callback URL.
	RedirectURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the timeout for the token exchange (default: 30s).
	RequestTimeout time.Duration

	// ShopURL maps a shop domain to the base URL of its admin. Defaults to
	// https://<shop>. Tests point it at a local server.
	ShopURL func(shop string) string
}

// Provider implements providers.Provider for Shopify.
type Provider struct {
	apiKey         string
	apiSecret      []byte
	scopes         []string
	redirectURL    string
	httpClient     *http.Client
	requestTimeout time.Duration
	shopURL        func(shop string) string
}

// NewProvider creates a new Shopify OAuth provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("api secret is required")
	}

	scopes := storage.NormalizeScopes(cfg.Scopes)
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: requestTimeout,
		}
	}

	shopURL := cfg.ShopURL
	if shopURL == nil {
		shopURL = func(shop string) string { return "https://" + shop }
	}

	return &Provider{
		apiKey:         cfg.APIKey,
		apiSecret:      []byte(cfg.APISecret),
		scopes:         scopes,
		redirectURL:    cfg.RedirectURL,
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
		shopURL:        shopURL,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Scopes returns a copy of the configured scopes.
func (p *Provider) Scopes() []string {
	out := make([]string, len(p.scopes))
	copy(out, p.scopes)
	return out
}

// oauthConfig derives the per-shop oauth2 configuration. Scopes are left
// empty because oauth2 joins them with spaces; they are sent as a comma
// separated parameter instead.
func (p *Provider) oauthConfig(shop string) *oauth2.Config {
	base := strings.TrimSuffix(p.shopURL(shop), "/")
	return &oauth2.Config{
		ClientID:     p.apiKey,
		ClientSecret: string(p.apiSecret),
		RedirectURL:  p.redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL generates the Shopify authorization URL for shop.
func (p *Provider) AuthorizationURL(shop, state string, online bool) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("scope", strings.Join(p.scopes, ",")),
	}
	if online {
		opts = append(opts, oauth2.SetAuthURLParam("grant_options[]", "per-user"))
	}
	return p.oauthConfig(shop).AuthCodeURL(state, opts...)
}

// ensureContextTimeout ensures the context has a deadline, adding one if needed.
func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.requestTimeout)
}

// ExchangeCode exchanges an authorization code for an offline or online
// credential of shop.
func (p *Provider) ExchangeCode(ctx context.Context, shop, code string, online bool) (*storage.Credential, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	token, err := providers.ExchangeCode(ctx, p.oauthConfig(shop), p.httpClient, code)
	if err != nil {
		return nil, err
	}

	scopes := p.scopes
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		scopes = storage.NormalizeScopes([]string{granted})
	}

	cred := &storage.Credential{
		Tenant: shop,
		Token:  &oauth2.Token{AccessToken: token.AccessToken},
		Scopes: scopes,
	}

	if !online {
		cred.ID = storage.OfflineID(shop)
		cred.Kind = storage.KindOffline
		return cred, cred.Validate()
	}

	info, err := associatedUser(token)
	if err != nil {
		return nil, err
	}
	cred.ID = storage.OnlineID(shop, info.AssociatedUserID)
	cred.Kind = storage.KindOnline
	cred.Token.Expiry = token.Expiry
	cred.Online = info
	return cred, cred.Validate()
}

// associatedUser reads the associated_user object of an online token response.
func associatedUser(token *oauth2.Token) (*storage.OnlineInfo, error) {
	user, ok := token.Extra("associated_user").(map[string]any)
	if !ok {
		return nil, ErrMissingAssociatedUser
	}

	id, ok := user["id"].(float64)
	if !ok || id <= 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrMissingAssociatedUser)
	}

	info := &storage.OnlineInfo{AssociatedUserID: int64(id)}
	if email, ok := user["email"].(string); ok {
		info.Email = email
	}
	if owner, ok := user["account_owner"].(bool); ok {
		info.AccountOwner = owner
	}
	if scope, ok := token.Extra("associated_user_scope").(string); ok {
		info.AssociatedUserScopes = storage.NormalizeScopes([]string{scope})
	}
	return info, nil
}

// VerifyCallback checks the hmac parameter of an OAuth callback query.
func (p *Provider) VerifyCallback(query url.Values) error {
	return security.VerifyQueryHMAC(p.apiSecret, query)
}
