// Package repositories implements SQLite persistence for the client's local state.
//
// Key Implementations:
//   - [CacheRepository] : Cached query results keyed by logical cache keys, with staleness flags
//   - [TokenRepository] : The single set of session credentials
//
// Cache writes take a sequence number from a dedicated sequence table inside the same transaction,
// so the most recent write to a key is always identifiable (last write wins).
package repositories
