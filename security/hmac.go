package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ErrSignatureInvalid is returned by every verification helper on mismatch,
// on a missing signature, and when no secret is configured.
var ErrSignatureInvalid = errors.New("security: signature invalid")

// signedValueSeparator joins a cookie value and its MAC. The MAC alphabet
// (base64url) never contains it, so the last occurrence splits the two.
const signedValueSeparator = "."

func mac(secret, message []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(message)
	return h.Sum(nil)
}

// DeriveKey returns HMAC-SHA256(secret, purpose), a key for one purpose
// that cannot verify signatures made with secret itself or for another
// purpose.
func DeriveKey(secret []byte, purpose string) []byte {
	return mac(secret, []byte(purpose))
}

// WebhookHMAC returns base64(HMAC-SHA256(secret, body)), the form carried in
// X-Shopify-Hmac-Sha256.
func WebhookHMAC(secret, body []byte) string {
	return base64.StdEncoding.EncodeToString(mac(secret, body))
}

// VerifyWebhookHMAC checks a webhook body against its base64 signature header value.
func VerifyWebhookHMAC(secret, body []byte, signature string) error {
	if len(secret) == 0 || signature == "" {
		return ErrSignatureInvalid
	}
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(got, mac(secret, body)) {
		return ErrSignatureInvalid
	}
	return nil
}

// canonicalQuery renders query without the hmac and signature keys, sorted by
// key, values joined by comma, as Shopify does when signing redirects.
func canonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strings.Join(query[k], ","))
	}
	return strings.Join(parts, "&")
}

// QueryHMAC returns the hex signature for query, ignoring any hmac parameter already present.
func QueryHMAC(secret []byte, query url.Values) string {
	return hex.EncodeToString(mac(secret, []byte(canonicalQuery(query))))
}

// VerifyQueryHMAC checks the hmac parameter of an OAuth callback or app launch query.
func VerifyQueryHMAC(secret []byte, query url.Values) error {
	signature := query.Get("hmac")
	if len(secret) == 0 || signature == "" {
		return ErrSignatureInvalid
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(got, mac(secret, []byte(canonicalQuery(query)))) {
		return ErrSignatureInvalid
	}
	return nil
}

// SignValue returns value with an appended base64url MAC, suitable for a cookie.
func SignValue(secret []byte, value string) string {
	return value + signedValueSeparator + base64.RawURLEncoding.EncodeToString(mac(secret, []byte(value)))
}

// VerifySignedValue returns the original value of a SignValue result.
func VerifySignedValue(secret []byte, signed string) (string, error) {
	if len(secret) == 0 {
		return "", ErrSignatureInvalid
	}
	i := strings.LastIndex(signed, signedValueSeparator)
	if i <= 0 {
		return "", ErrSignatureInvalid
	}
	value, sig := signed[:i], signed[i+1:]
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", ErrSignatureInvalid
	}
	if !hmac.Equal(got, mac(secret, []byte(value))) {
		return "", ErrSignatureInvalid
	}
	return value, nil
}
