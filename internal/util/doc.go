// Package util provides common utility functions used across storegate.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - NormalizeURL: Drops trailing slashes from configured base URLs
//   - WriteJSONError: Writes the shared JSON error body
package util
