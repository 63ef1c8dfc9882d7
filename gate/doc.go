// Package gate decides, for every inbound request that names a tenant,
// whether it may proceed with a usable credential or must first go through
// the authorization flow.
//
// The tenant is read from the "shop" query parameter and, failing that,
// from a signed cookie set after a successful callback. Requests that name
// no tenant pass through untouched, which keeps health checks and static
// assets out of the credential store.
//
// Outcomes:
//
//	no tenant                          -> next handler, unchanged
//	malformed tenant                   -> 400
//	no credential, corrupt, expired,
//	or missing a required scope        -> 302 to the authorization path
//	store unreachable                  -> 503, never a redirect
//	usable credential                  -> next handler with the credential
//	                                      in the request context
//
// A storage failure is not an absence: redirecting a tenant while the store
// is down would start an OAuth round trip for every request until it
// recovers.
package gate
