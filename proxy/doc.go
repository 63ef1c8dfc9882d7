// Package proxy issues authenticated calls to a tenant's Admin API with the
// credential the gate attached to the request.
//
// Errors fall into two classes. ErrUpstreamRejected (401 or 403) means the
// platform no longer accepts the token; the caller should reauthorize, but
// the credential is left alone because only the uninstall webhook revokes
// it. ErrUpstreamUnavailable covers everything that never produced a
// response: transport failures, timeouts and cancelled requests. Nothing is
// retried here. Any other status is returned as a Response.
package proxy
