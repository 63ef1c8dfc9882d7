// Package testutil provides testing utilities and fixtures for storegate:
// credential builders, a controllable clock, assertions and an HTTP request
// helper for handler tests.
package testutil
