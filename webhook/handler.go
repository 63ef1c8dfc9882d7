package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/util"
	"github.com/giantswarm/storegate/security"
)

// Headers set by the platform on every delivery
const (
	HeaderHMAC       = "X-Shopify-Hmac-Sha256"
	HeaderTopic      = "X-Shopify-Topic"
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"
)

// DefaultMaxBodyBytes caps the size of a delivery body.
const DefaultMaxBodyBytes = 1 << 20

// ErrInvalidNotification is returned for a verified notification that lacks
// the fields its route needs. Redelivery cannot fix it.
var ErrInvalidNotification = errors.New("invalid webhook notification")

// Webhook results recorded on the received counter
const (
	resultProcessed = "processed"
	resultIgnored   = "ignored"
	resultRejected  = "rejected"
	resultInvalid   = "invalid"
	resultFailed    = "failed"
)

// Notification is one verified delivery.
type Notification struct {
	Topic     string
	Tenant    string
	WebhookID string
	Body      []byte
}

// Verifier checks delivery signatures.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier keyed by the app's API secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks signature (the base64 header value) against body. It
// returns an error wrapping security.ErrSignatureInvalid on mismatch or when
// signature is empty.
func (v *Verifier) Verify(body []byte, signature string) error {
	return security.VerifyWebhookHMAC(v.secret, body, signature)
}

// Config holds handler configuration.
type Config struct {
	// Secret keys the delivery HMAC (required).
	Secret string

	// Routes is copied at construction; later changes to the map have no effect.
	Routes Routes

	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger

	// TrustProxy and TrustedProxyCount control client IP extraction for audit logs.
	TrustProxy        bool
	TrustedProxyCount int
}

// Handler is the webhook endpoint.
type Handler struct {
	verifier     *Verifier
	routes       Routes
	maxBodyBytes int64

	auditor           *security.Auditor
	metrics           *instrumentation.Metrics
	tracer            trace.Tracer
	logger            *slog.Logger
	trustProxy        bool
	trustedProxyCount int
	logClientIPs      bool
}

// New creates a handler. Route keys are canonicalized.
func New(cfg Config) (*Handler, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("webhook: secret is required")
	}

	routes := make(Routes, len(cfg.Routes))
	for topic, fn := range cfg.Routes {
		if fn == nil {
			return nil, fmt.Errorf("webhook: nil handler for topic %q", topic)
		}
		routes[CanonicalTopic(topic)] = fn
	}

	h := &Handler{
		verifier:          NewVerifier(cfg.Secret),
		routes:            routes,
		maxBodyBytes:      cfg.MaxBodyBytes,
		auditor:           cfg.Auditor,
		metrics:           cfg.Instrumentation.Metrics(),
		tracer:            cfg.Instrumentation.Tracer("webhook"),
		logger:            cfg.Logger,
		trustProxy:        cfg.TrustProxy,
		trustedProxyCount: cfg.TrustedProxyCount,
		logClientIPs:      cfg.Instrumentation.ShouldLogClientIPs(),
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = DefaultMaxBodyBytes
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h, nil
}

// Topics returns the canonical topics with a route.
func (h *Handler) Topics() []string {
	topics := make([]string, 0, len(h.routes))
	for topic := range h.routes {
		topics = append(topics, topic)
	}
	return topics
}

// ServeHTTP verifies and dispatches one delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		util.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "webhooks must be POSTed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			util.WriteJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("body exceeds %d bytes", h.maxBodyBytes))
			return
		}
		util.WriteJSONError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}

	topic := CanonicalTopic(r.Header.Get(HeaderTopic))
	tenant := security.NormalizeShopDomain(r.Header.Get(HeaderShopDomain))
	clientIP := security.GetClientIP(r, h.trustProxy, h.trustedProxyCount)

	if err := h.verifier.Verify(body, r.Header.Get(HeaderHMAC)); err != nil {
		h.metrics.RecordWebhook(r.Context(), topic, resultRejected)
		h.auditor.LogSignatureInvalid(security.EventWebhookSignatureInvalid, tenant, clientIP)
		h.logger.Warn("Rejected webhook with invalid signature", "topic", topic, "tenant", tenant)
		util.WriteJSONError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
		return
	}

	if tenant == "" {
		tenant = tenantFromBody(body)
	}

	err = h.process(r.Context(), Notification{
		Topic:     topic,
		Tenant:    tenant,
		WebhookID: r.Header.Get(HeaderWebhookID),
		Body:      body,
	}, clientIP)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrInvalidNotification):
		util.WriteJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		util.WriteJSONError(w, http.StatusInternalServerError, "server_error", "webhook processing failed")
	}
}

// Process dispatches an already verified notification. Unknown topics
// succeed without side effects.
func (h *Handler) Process(ctx context.Context, n Notification) error {
	return h.process(ctx, n, "")
}

// process is Process for a delivery received from clientIP, which is empty
// when the notification did not arrive over HTTP.
func (h *Handler) process(ctx context.Context, n Notification, clientIP string) (err error) {
	n.Topic = CanonicalTopic(n.Topic)

	ctx, span := h.tracer.Start(ctx, "webhook.process")
	defer span.End()
	span.SetAttributes(attribute.String(instrumentation.AttrWebhookTopic, n.Topic))
	instrumentation.AddTenantAttributes(span, n.Tenant)
	if h.logClientIPs && clientIP != "" {
		instrumentation.AddSecurityAttributes(span, clientIP)
	}

	start := time.Now()
	fn, ok := h.routes[n.Topic]
	if !ok {
		h.metrics.RecordWebhook(ctx, n.Topic, resultIgnored)
		h.logger.Debug("Ignoring webhook topic", "topic", n.Topic, "tenant", n.Tenant)
		instrumentation.SetSpanSuccess(span)
		return nil
	}

	if n.Tenant == "" {
		h.metrics.RecordWebhook(ctx, n.Topic, resultInvalid)
		err = fmt.Errorf("%w: topic %s has no shop domain", ErrInvalidNotification, n.Topic)
		instrumentation.RecordError(span, err)
		return err
	}

	if err = fn(ctx, n); err != nil {
		h.metrics.RecordWebhook(ctx, n.Topic, resultFailed)
		h.logger.Error("Webhook processing failed",
			"topic", n.Topic,
			"tenant", n.Tenant,
			"webhook_id", n.WebhookID,
			"error", err)
		instrumentation.RecordError(span, err)
		return fmt.Errorf("process %s for %s: %w", n.Topic, n.Tenant, err)
	}

	h.metrics.RecordWebhook(ctx, n.Topic, resultProcessed)
	h.logger.Info("Processed webhook",
		"topic", n.Topic,
		"tenant", n.Tenant,
		"webhook_id", n.WebhookID,
		"duration_ms", time.Since(start).Milliseconds())
	instrumentation.SetSpanSuccess(span)
	return nil
}

// tenantFromBody reads myshopify_domain from a shop payload, as sent with
// app/uninstalled.
func tenantFromBody(body []byte) string {
	var shop struct {
		MyshopifyDomain string `json:"myshopify_domain"`
	}
	if err := json.Unmarshal(body, &shop); err != nil {
		return ""
	}
	return security.NormalizeShopDomain(shop.MyshopifyDomain)
}
