// Package valkey provides a Valkey storage backend for storegate credentials.
//
// Valkey is a key-value store that is wire-compatible with Redis. The Store
// type implements [storage.CredentialStore] and [storage.StatsStore] and is
// suitable for deployments that run several gateway replicas against one
// shared credential store.
//
// # Key Schema
//
// All keys use a configurable prefix (default "storegate:"):
//
//	{prefix}cred:{id}              -> HASH(id, tenant, payload, active, seq, activated_at, updated_at)
//	{prefix}tenant:{tenant}:active -> ZSET(id scored by seq), active grants only
//	{prefix}tenant:{tenant}:all    -> SET(id), every grant of the tenant
//	{prefix}ids                    -> SET(id), every stored grant
//	{prefix}ids:active             -> SET(id), every active grant
//	{prefix}seq                    -> INTEGER, last assigned sequence
//
// # Atomicity
//
// Put, GetActiveByTenant, DeactivateByTenant, DeleteByID and ListByTenant
// each run as a single Lua script. The scripts derive per-tenant keys from
// the prefix, so the store must not be pointed at a Valkey cluster.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "storegate:",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// # Testing
//
// Tests connect to the instance named by VALKEY_TEST_ADDR and are skipped
// when none is reachable.
package valkey
