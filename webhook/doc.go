// Package webhook consumes signed platform notifications and turns uninstall
// notifications into session lifecycle calls.
//
// A [Handler] verifies the X-Shopify-Hmac-Sha256 header over the raw body
// before parsing anything, then dispatches on the canonical topic through a
// [Routes] table fixed at construction. Topics without a route are
// acknowledged and ignored.
//
// Delivery is at least once. The handler answers 200 only after the route
// has returned, and 500 when it failed, so the platform redelivers until the
// state change is durable. Routes must therefore be idempotent;
// [UninstallRoutes] is, because deactivating an uninstalled tenant is a
// no-op.
package webhook
