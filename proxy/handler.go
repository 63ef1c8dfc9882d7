package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/giantswarm/storegate/internal/util"
	"github.com/giantswarm/storegate/storage"
)

// HeaderReauthorize tells the embedded frontend to restart authorization.
const HeaderReauthorize = "X-Shopify-API-Request-Failure-Reauthorize"

// DefaultMaxRequestBytes caps a GraphQL request body.
const DefaultMaxRequestBytes = 1 << 20

// CredentialFunc returns the credential attached to a request's context.
type CredentialFunc func(ctx context.Context) (*storage.Credential, bool)

// Handler exposes the proxy routes. It must sit behind the gate.
type Handler struct {
	client     *Client
	credential CredentialFunc
	logger     *slog.Logger
}

// NewHandler creates a handler reading credentials with credential,
// normally gate.CredentialFromContext.
func NewHandler(client *Client, credential CredentialFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, credential: credential, logger: logger}
}

// Register mounts the routes on mux, each wrapped with wrap.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("GET /api/products/count", wrap(http.HandlerFunc(h.ProductsCount)))
	mux.Handle("POST /api/graphql", wrap(http.HandlerFunc(h.GraphQL)))
}

// ProductsCount passes the request query through to products/count.json.
func (h *Handler) ProductsCount(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.credential(r.Context())
	if !ok {
		util.WriteJSONError(w, http.StatusUnauthorized, "invalid_request", "shop is required")
		return
	}

	query := r.URL.Query()
	query.Del("shop")
	query.Del("host")
	resp, err := h.client.Do(r.Context(), cred, Request{
		Method: http.MethodGet,
		Path:   "products/count.json",
		Query:  query,
	})
	h.write(w, resp, err)
}

// GraphQL forwards the request body to the GraphQL endpoint.
func (h *Handler) GraphQL(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.credential(r.Context())
	if !ok {
		util.WriteJSONError(w, http.StatusUnauthorized, "invalid_request", "shop is required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, DefaultMaxRequestBytes))
	if err != nil {
		util.WriteJSONError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
		return
	}

	resp, err := h.client.GraphQL(r.Context(), cred, body)
	h.write(w, resp, err)
}

func (h *Handler) write(w http.ResponseWriter, resp *Response, err error) {
	switch {
	case errors.Is(err, ErrUpstreamRejected):
		w.Header().Set(HeaderReauthorize, "1")
		util.WriteJSONError(w, http.StatusUnauthorized, "reauthorize", "the shop rejected the access token")
		return
	case errors.Is(err, ErrUpstreamUnavailable):
		util.WriteJSONError(w, http.StatusBadGateway, "upstream_unavailable", "the shop could not be reached")
		return
	case err != nil:
		h.logger.Error("Proxy request failed", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "server_error", "proxy request failed")
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
