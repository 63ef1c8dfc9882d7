// Package security provides the security primitives shared by the gate,
// webhook and session packages: HMAC verification of webhook deliveries,
// OAuth callbacks and tenant cookies, AES-256-GCM encryption of credential
// payloads at rest, security audit logging, request IDs, per-identifier
// rate limiting and the response headers required by embedded apps.
//
// # HMAC Verification
//
// Shopify signs three different things and each has its own encoding:
//
//   - Webhook bodies: base64(HMAC-SHA256(secret, body)) in X-Shopify-Hmac-Sha256.
//     Use VerifyWebhookHMAC.
//   - OAuth callback queries: hex(HMAC-SHA256(secret, sorted query without hmac)).
//     Use VerifyQueryHMAC.
//   - Tenant cookies issued by this module: value + "." + base64url(HMAC-SHA256).
//     Use SignValue and VerifySignedValue.
//
// All comparisons are constant time. A failed check always returns an error
// matching ErrSignatureInvalid.
//
// # Encryption at Rest
//
// Encryptor seals credential payload fields with AES-256-GCM. The caller
// supplies associated data (the record id) so that a sealed value cannot be
// moved onto another record:
//
//	enc, err := security.NewEncryptor(key)
//	sealed, err := enc.Seal("shpat_...", []byte(recordID))
//	plain, err := enc.Open(sealed, []byte(recordID))
//
// A nil or empty key disables encryption; Seal and Open then pass values
// through unchanged.
//
// # Rate Limiting
//
// RateLimiter is a token bucket per identifier (client IP, shop) with LRU
// eviction once MaxEntries identifiers are tracked, plus a background
// cleanup of idle entries. Call Stop when done.
package security
