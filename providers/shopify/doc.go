// Package shopify implements providers.Provider for the Shopify
// authorization-code grant.
//
// Each shop has its own authorize and token endpoints under
// https://<shop>/admin/oauth/, so an oauth2.Config is derived per request.
// Scopes are sent comma separated, and online (per-user) tokens are requested
// with grant_options[]=per-user. Callback queries are verified with a hex
// HMAC-SHA256 over the sorted parameters keyed by the API secret.
package shopify
