package storage

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/giantswarm/storegate/security"
)

func testEncryptor(t *testing.T) *security.Encryptor {
	t.Helper()
	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	return enc
}

func TestPayload_RoundTrip(t *testing.T) {
	enc := testEncryptor(t)

	tests := []struct {
		name string
		cred *Credential
		enc  *security.Encryptor
	}{
		{name: "offline plain", cred: offlineCredential()},
		{name: "online plain", cred: onlineCredential()},
		{name: "offline sealed", cred: offlineCredential(), enc: enc},
		{name: "online sealed", cred: onlineCredential(), enc: enc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aad := []byte(tt.cred.ID)
			raw, err := EncodePayload(tt.cred, tt.enc, aad)
			if err != nil {
				t.Fatalf("EncodePayload() error = %v", err)
			}

			leaked := strings.Contains(string(raw), tt.cred.Token.AccessToken)
			if tt.enc != nil && leaked {
				t.Error("sealed payload contains the plaintext access token")
			}

			got, err := DecodePayload(raw, tt.enc, aad)
			if err != nil {
				t.Fatalf("DecodePayload() error = %v", err)
			}
			if !got.Equal(tt.cred) {
				t.Errorf("DecodePayload() = %+v, want %+v", got, tt.cred)
			}
		})
	}
}

func TestEncodePayload_RejectsInvalid(t *testing.T) {
	c := offlineCredential()
	c.Scopes = nil
	if _, err := EncodePayload(c, nil, nil); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("EncodePayload() error = %v, want ErrInvalidCredential", err)
	}
}

func TestDecodePayload_Corrupt(t *testing.T) {
	enc := testEncryptor(t)
	other := testEncryptor(t)

	sealed, err := EncodePayload(offlineCredential(), enc, []byte("offline_shop1.myshopify.com"))
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}

	missingScopes := map[string]any{"v": 1, "id": "x", "tenant": "t", "kind": "offline", "access_token": "tok"}
	missingScopesRaw, _ := json.Marshal(missingScopes)

	tests := []struct {
		name string
		raw  []byte
		enc  *security.Encryptor
		aad  string
	}{
		{name: "not json", raw: []byte("{not json")},
		{name: "empty", raw: nil},
		{name: "unknown version", raw: []byte(`{"v":2,"id":"x","tenant":"t","kind":"offline","access_token":"a","scopes":["s"]}`)},
		{name: "unknown kind", raw: []byte(`{"v":1,"id":"x","tenant":"t","kind":"bogus","access_token":"a","scopes":["s"]}`)},
		{name: "missing scopes", raw: missingScopesRaw},
		{name: "online missing user", raw: []byte(`{"v":1,"id":"x","tenant":"t","kind":"online","access_token":"a","scopes":["s"],"expiry":"2030-01-01T00:00:00Z"}`)},
		{name: "sealed without key", raw: sealed, enc: nil, aad: "offline_shop1.myshopify.com"},
		{name: "sealed wrong key", raw: sealed, enc: other, aad: "offline_shop1.myshopify.com"},
		{name: "sealed wrong record id", raw: sealed, enc: enc, aad: "offline_shop2.myshopify.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.raw, tt.enc, []byte(tt.aad))
			if !errors.Is(err, ErrCorruptRecord) {
				t.Errorf("DecodePayload() error = %v, want ErrCorruptRecord", err)
			}
		})
	}
}

func TestDecodePayload_PlainWithKeyConfigured(t *testing.T) {
	// Records written before a key was configured stay readable.
	raw, err := EncodePayload(offlineCredential(), nil, nil)
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}
	got, err := DecodePayload(raw, testEncryptor(t), []byte("offline_shop1.myshopify.com"))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if got.Token.AccessToken != "shpat_offline" {
		t.Errorf("AccessToken = %q", got.Token.AccessToken)
	}
}
