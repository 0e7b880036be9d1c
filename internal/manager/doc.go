// Package manager is the orchestration core of contextdb.
//
// A Manager owns the database index (internal/registry), a vector backend
// (internal/vectorstore) and an embedder, and keeps them consistent:
//
//   - CreateDatabase records the entry, saves the index, then creates the
//     collection. If the last step fails the database stays registered and
//     the collection is created on next access (ErrPartialCreate).
//   - DeleteDatabase removes the entry before the storage, so a database
//     that can no longer be looked up never resurfaces documents. Storage
//     left behind for an unregistered name is removed before that name is
//     created again.
//   - AddText creates unknown databases on first write unless
//     Config.DisableImplicitCreate is set. Document IDs are derived from
//     text and caller metadata, so retries overwrite instead of duplicating.
//   - Search filters by score threshold and reports how many candidates
//     were dropped.
//
// A corrupt index at startup leaves the Manager read-only: listing, stats
// and search keep working over the entries that parsed, mutations return
// ErrReadOnly, and nothing is written to storage.
package manager
