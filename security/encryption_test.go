package security

import (
	"errors"
	"strings"
	"testing"
)

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name        string
		key         []byte
		wantEnabled bool
		wantErr     bool
	}{
		{name: "nil key disables", key: nil, wantEnabled: false},
		{name: "empty key disables", key: []byte{}, wantEnabled: false},
		{name: "32 byte key", key: make([]byte, 32), wantEnabled: true},
		{name: "short key", key: make([]byte, 16), wantErr: true},
		{name: "long key", key: make([]byte, 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewEncryptor() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEncryptor() error = %v", err)
			}
			if enc.IsEnabled() != tt.wantEnabled {
				t.Errorf("IsEnabled() = %v, want %v", enc.IsEnabled(), tt.wantEnabled)
			}
		})
	}
}

func TestEncryptor_SealOpen(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	aad := []byte("offline_shop1.myshopify.com")
	sealed, err := enc.Seal("shpat_secret", aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "shpat_secret") {
		t.Error("sealed value contains plaintext")
	}

	again, err := enc.Seal("shpat_secret", aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if again == sealed {
		t.Error("two seals of the same plaintext should differ (random nonce)")
	}

	got, err := enc.Open(sealed, aad)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got != "shpat_secret" {
		t.Errorf("Open() = %q, want %q", got, "shpat_secret")
	}
}

func TestEncryptor_OpenRejectsWrongAAD(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	sealed, err := enc.Seal("shpat_secret", []byte("record-a"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if _, err := enc.Open(sealed, []byte("record-b")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Open() with wrong aad error = %v, want ErrDecrypt", err)
	}
}

func TestEncryptor_OpenRejectsGarbage(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	for _, in := range []string{"not base64 !!", "c2hvcnQ=", ""} {
		if _, err := enc.Open(in, nil); !errors.Is(err, ErrDecrypt) {
			t.Errorf("Open(%q) error = %v, want ErrDecrypt", in, err)
		}
	}
}

func TestEncryptor_DisabledPassesThrough(t *testing.T) {
	var nilEnc *Encryptor
	for _, enc := range []*Encryptor{nilEnc, {}} {
		sealed, err := enc.Seal("plain", []byte("aad"))
		if err != nil || sealed != "plain" {
			t.Errorf("Seal() = %q, %v; want passthrough", sealed, err)
		}
		opened, err := enc.Open("plain", []byte("aad"))
		if err != nil || opened != "plain" {
			t.Errorf("Open() = %q, %v; want passthrough", opened, err)
		}
	}
}

func TestKeyBase64RoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	decoded, err := KeyFromBase64(KeyToBase64(key))
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if string(decoded) != string(key) {
		t.Error("decoded key differs from original")
	}

	if _, err := KeyFromBase64(KeyToBase64(key[:16])); err == nil {
		t.Error("KeyFromBase64() should reject a 16 byte key")
	}
}
