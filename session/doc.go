// Package session owns the lifecycle of per-tenant credentials.
//
// A [Manager] is the only component that writes to the credential store. The
// OAuth engine hands it new grants through [Manager.OnGrant], the webhook
// handler reports uninstalls through [Manager.OnUninstall], and the request
// gate and proxy read the current credential through [Manager.OnLoad].
//
// Per tenant the states are:
//
//	Unauthorized --OnGrant--> Active --OnUninstall--> Unauthorized
//	Active --OnGrant (re-grant)--> Active
//
// Uninstall deactivates but retains records, so a tenant that reinstalls
// keeps its audit trail, visible through [Manager.History]. Administrative
// revocation through [Manager.OnInvalidate] removes a record entirely.
package session
