// Package memory provides an in-memory implementation of storage.CredentialStore.
//
// Records live in a map guarded by a sync.RWMutex with a secondary index by
// tenant. Every call takes the lock once, so Put and DeactivateByTenant are
// atomic with respect to concurrent readers. It is suitable for development,
// testing, and single-instance deployments where persistence is not required.
//
// For persistence use storage/sqlite; for multi-instance deployments use
// storage/valkey.
//
// Example usage:
//
//	store := memory.New()
//	manager, _ := session.NewManager(session.Config{Store: store})
package memory
