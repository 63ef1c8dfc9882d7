package storage

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrInvalidCredential is returned by Credential.Validate for a shape
// missing a field its kind requires.
var ErrInvalidCredential = errors.New("invalid credential")

// Kind distinguishes the two access token flavours issued by the platform.
type Kind string

const (
	// KindOffline tokens belong to the shop and never expire.
	KindOffline Kind = "offline"

	// KindOnline tokens belong to one staff user and expire.
	KindOnline Kind = "online"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindOffline || k == KindOnline
}

// OnlineInfo carries the associated user of an online credential.
type OnlineInfo struct {
	AssociatedUserID     int64
	AssociatedUserScopes []string
	Email                string
	AccountOwner         bool
}

// Credential is the decoded form of a Record payload.
type Credential struct {
	// ID is the grant id; see OfflineID and OnlineID.
	ID     string
	Tenant string
	Kind   Kind

	// Token holds the access token and, for online credentials, its expiry.
	Token *oauth2.Token

	// Scopes granted to the app, normalized by NormalizeScopes.
	Scopes []string

	// Online is required for KindOnline and must be nil for KindOffline.
	Online *OnlineInfo
}

// OfflineID returns the grant id of a shop's offline credential.
func OfflineID(tenant string) string {
	return "offline_" + tenant
}

// OnlineID returns the grant id of a user's online credential.
func OnlineID(tenant string, userID int64) string {
	return fmt.Sprintf("%s_%d", tenant, userID)
}

// Validate rejects shapes that are missing a field their kind requires.
func (c *Credential) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil credential", ErrInvalidCredential)
	}
	if c.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidCredential)
	}
	if c.Tenant == "" {
		return fmt.Errorf("%w: tenant cannot be empty", ErrInvalidCredential)
	}
	if c.Token == nil || c.Token.AccessToken == "" {
		return fmt.Errorf("%w: access token cannot be empty", ErrInvalidCredential)
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("%w: scopes cannot be empty", ErrInvalidCredential)
	}

	switch c.Kind {
	case KindOffline:
		if c.Online != nil {
			return fmt.Errorf("%w: offline credential cannot carry an associated user", ErrInvalidCredential)
		}
		if !c.Token.Expiry.IsZero() {
			return fmt.Errorf("%w: offline credential cannot expire", ErrInvalidCredential)
		}
	case KindOnline:
		if c.Online == nil || c.Online.AssociatedUserID == 0 {
			return fmt.Errorf("%w: online credential requires an associated user", ErrInvalidCredential)
		}
		if c.Token.Expiry.IsZero() {
			return fmt.Errorf("%w: online credential requires an expiry", ErrInvalidCredential)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCredential, c.Kind)
	}

	return nil
}

// ExpiresAt returns the token expiry, zero for offline credentials.
func (c *Credential) ExpiresAt() time.Time {
	if c == nil || c.Token == nil {
		return time.Time{}
	}
	return c.Token.Expiry
}

// Clone returns a deep copy
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.Token != nil {
		tok := *c.Token
		out.Token = &tok
	}
	out.Scopes = slices.Clone(c.Scopes)
	if c.Online != nil {
		online := *c.Online
		online.AssociatedUserScopes = slices.Clone(c.Online.AssociatedUserScopes)
		out.Online = &online
	}
	return &out
}

// Equal reports whether two credentials describe the same grant with the
// same token, expiry, scopes and associated user.
func (c *Credential) Equal(other *Credential) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.ID != other.ID || c.Tenant != other.Tenant || c.Kind != other.Kind {
		return false
	}
	if (c.Token == nil) != (other.Token == nil) {
		return false
	}
	if c.Token != nil {
		if c.Token.AccessToken != other.Token.AccessToken ||
			c.Token.TokenType != other.Token.TokenType ||
			!c.Token.Expiry.Equal(other.Token.Expiry) {
			return false
		}
	}
	if !slices.Equal(c.Scopes, other.Scopes) {
		return false
	}
	if (c.Online == nil) != (other.Online == nil) {
		return false
	}
	if c.Online != nil {
		if c.Online.AssociatedUserID != other.Online.AssociatedUserID ||
			c.Online.Email != other.Online.Email ||
			c.Online.AccountOwner != other.Online.AccountOwner ||
			!slices.Equal(c.Online.AssociatedUserScopes, other.Online.AssociatedUserScopes) {
			return false
		}
	}
	return true
}

// HasScopes reports whether the credential holds every required scope.
// A write_<resource> scope implies read_<resource>.
func (c *Credential) HasScopes(required []string) bool {
	granted := make(map[string]struct{}, len(c.Scopes)*2)
	for _, s := range c.Scopes {
		granted[s] = struct{}{}
		if rest, ok := strings.CutPrefix(s, "write_"); ok {
			granted["read_"+rest] = struct{}{}
		}
	}
	for _, s := range NormalizeScopes(required) {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

// NormalizeScopes splits comma separated entries, trims, drops empties and
// duplicates, and sorts the result.
func NormalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, entry := range scopes {
		for _, s := range strings.Split(entry, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
