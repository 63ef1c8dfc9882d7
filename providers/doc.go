// Package providers defines the OAuth engine contract used by storegate.
//
// A Provider builds the authorization URL a merchant is sent to, verifies
// the signed callback, and exchanges the authorization code for a
// [storage.Credential] ready to hand to session.Manager.OnGrant.
//
// Implementations are provided in subpackages:
//   - providers/shopify: Shopify authorization-code grant (offline and online tokens)
//   - providers/mock: Mock provider for testing
//
// Example usage:
//
//	provider, err := shopify.NewProvider(&shopify.Config{
//	    APIKey:      "your-api-key",
//	    APISecret:   "your-api-secret",
//	    Scopes:      []string{"read_products"},
//	    RedirectURL: "https://app.example.com/auth/callback",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
package providers
