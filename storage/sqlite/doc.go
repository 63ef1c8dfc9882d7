// Package sqlite provides a durable storage.CredentialStore on SQLite.
//
// The database is opened twice: a single-connection writer, so every Put
// and DeactivateByTenant runs as one serialized transaction, and a small
// reader pool. WAL journaling lets readers proceed while a write is in
// flight. The schema is embedded and applied with golang-migrate.
//
// Example usage:
//
//	db, err := sqlite.NewDB("/var/lib/storegate/credentials.db")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := sqlite.RunMigrations(db.Writer); err != nil {
//		return err
//	}
//	store := sqlite.New(db)
package sqlite
