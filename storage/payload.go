package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/storegate/security"
)

// payloadVersion is the only document version DecodePayload accepts.
const payloadVersion = 1

type payloadDocument struct {
	Version     int             `json:"v"`
	ID          string          `json:"id"`
	Tenant      string          `json:"tenant"`
	Kind        Kind            `json:"kind"`
	AccessToken string          `json:"access_token"`
	Sealed      bool            `json:"sealed,omitempty"`
	TokenType   string          `json:"token_type,omitempty"`
	Expiry      *time.Time      `json:"expiry,omitempty"`
	Scopes      []string        `json:"scopes"`
	Online      *onlineDocument `json:"online,omitempty"`
}

type onlineDocument struct {
	AssociatedUserID     int64    `json:"associated_user_id"`
	AssociatedUserScopes []string `json:"associated_user_scopes,omitempty"`
	Email                string   `json:"email,omitempty"`
	AccountOwner         bool     `json:"account_owner,omitempty"`
}

// EncodePayload validates cred and renders it as a versioned JSON document.
// When enc is enabled the access token is sealed with aad as associated
// data; callers pass the record id so a payload cannot be replayed under
// another id.
func EncodePayload(cred *Credential, enc *security.Encryptor, aad []byte) ([]byte, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	doc := payloadDocument{
		Version:     payloadVersion,
		ID:          cred.ID,
		Tenant:      cred.Tenant,
		Kind:        cred.Kind,
		AccessToken: cred.Token.AccessToken,
		TokenType:   cred.Token.TokenType,
		Scopes:      cred.Scopes,
	}
	if !cred.Token.Expiry.IsZero() {
		expiry := cred.Token.Expiry.UTC()
		doc.Expiry = &expiry
	}
	if cred.Online != nil {
		doc.Online = &onlineDocument{
			AssociatedUserID:     cred.Online.AssociatedUserID,
			AssociatedUserScopes: cred.Online.AssociatedUserScopes,
			Email:                cred.Online.Email,
			AccountOwner:         cred.Online.AccountOwner,
		}
	}

	if enc.IsEnabled() {
		sealed, err := enc.Seal(doc.AccessToken, aad)
		if err != nil {
			return nil, fmt.Errorf("failed to seal access token: %w", err)
		}
		doc.AccessToken = sealed
		doc.Sealed = true
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return raw, nil
}

// DecodePayload reverses EncodePayload. Every failure (malformed JSON,
// unknown version, a sealed token without a matching key, or a shape that
// fails Validate) wraps ErrCorruptRecord.
func DecodePayload(raw []byte, enc *security.Encryptor, aad []byte) (*Credential, error) {
	var doc payloadDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if doc.Version != payloadVersion {
		return nil, fmt.Errorf("%w: unsupported payload version %d", ErrCorruptRecord, doc.Version)
	}

	accessToken := doc.AccessToken
	if doc.Sealed {
		if !enc.IsEnabled() {
			return nil, fmt.Errorf("%w: access token is sealed but no encryption key is configured", ErrCorruptRecord)
		}
		opened, err := enc.Open(accessToken, aad)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		accessToken = opened
	}

	cred := &Credential{
		ID:     doc.ID,
		Tenant: doc.Tenant,
		Kind:   doc.Kind,
		Token: &oauth2.Token{
			AccessToken: accessToken,
			TokenType:   doc.TokenType,
		},
		Scopes: doc.Scopes,
	}
	if doc.Expiry != nil {
		cred.Token.Expiry = *doc.Expiry
	}
	if doc.Online != nil {
		cred.Online = &OnlineInfo{
			AssociatedUserID:     doc.Online.AssociatedUserID,
			AssociatedUserScopes: doc.Online.AssociatedUserScopes,
			Email:                doc.Online.Email,
			AccountOwner:         doc.Online.AccountOwner,
		}
	}

	if err := cred.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return cred, nil
}
