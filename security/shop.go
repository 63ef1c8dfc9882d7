package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidShopDomain is returned for a tenant that is not a shop domain.
var ErrInvalidShopDomain = errors.New("invalid shop domain")

// MaxShopDomainLength bounds tenant identifiers taken from requests.
const MaxShopDomainLength = 255

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// ValidateShopDomain accepts lowercase <name>.myshopify.com domains, the only
// tenant form the platform issues.
func ValidateShopDomain(shop string) error {
	if shop == "" {
		return fmt.Errorf("%w: empty", ErrInvalidShopDomain)
	}
	if len(shop) > MaxShopDomainLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidShopDomain, MaxShopDomainLength)
	}
	if !shopDomainPattern.MatchString(shop) {
		return fmt.Errorf("%w: %q", ErrInvalidShopDomain, shop)
	}
	return nil
}

// NormalizeShopDomain lowercases and trims a shop parameter before validation.
func NormalizeShopDomain(shop string) string {
	return strings.ToLower(strings.TrimSpace(shop))
}
