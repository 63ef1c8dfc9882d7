// Package storage defines the credential record model and the CredentialStore
// contract used by the session lifecycle manager.
//
// A Record binds a tenant (a shop domain) to an opaque payload. Only the
// session package interprets payloads; it does so through EncodePayload and
// DecodePayload, which turn a Credential tagged variant into versioned JSON
// and back, optionally sealing the access token with AES-256-GCM.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/sqlite: Durable single-node storage with embedded migrations
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
//   - storage/mock: Function-field store for failure injection in tests
package storage
