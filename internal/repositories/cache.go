package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/shared"
)

// CacheRepository persists [models.CacheEntry] rows.
type CacheRepository struct {
	db *sql.DB
}

// NewCacheRepository creates a new [CacheRepository] with the given database connection
func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get retrieves the entry for key. Returns [shared.ErrCacheMiss] when absent.
func (r *CacheRepository) Get(key string) (*models.CacheEntry, error) {
	query := `
		SELECT key, value, stale, sequence, updated_at
		FROM cache_entries
		WHERE key = ?
	`

	entry, err := scanEntry(r.db.QueryRow(query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrCacheMiss, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entry: %w", err)
	}
	return entry, nil
}

// Put writes a fresh value for key, clearing any staleness flag.
func (r *CacheRepository) Put(key string, value json.RawMessage) (*models.CacheEntry, error) {
	return r.write(&models.CacheEntry{Key: key, Value: value})
}

// Restore writes a previously read entry back verbatim, including its staleness flag.
// A nil entry means the key did not exist and is deleted instead.
func (r *CacheRepository) Restore(key string, entry *models.CacheEntry) error {
	if entry == nil {
		return r.Delete(key)
	}
	_, err := r.write(entry)
	return err
}

func (r *CacheRepository) write(entry *models.CacheEntry) (*models.CacheEntry, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sequence, err := NextSequence(tx, "cache_entries")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO cache_entries (key, value, stale, sequence, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			stale = excluded.stale,
			sequence = excluded.sequence,
			updated_at = excluded.updated_at
	`
	if _, err := tx.Exec(query, entry.Key, []byte(entry.Value), entry.Stale, sequence, now); err != nil {
		return nil, fmt.Errorf("failed to write cache entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cache entry: %w", err)
	}

	return &models.CacheEntry{
		Key:       entry.Key,
		Value:     entry.Value,
		Stale:     entry.Stale,
		Sequence:  sequence,
		UpdatedAt: now,
	}, nil
}

// MarkStale flags the given keys as stale. Missing keys are ignored.
func (r *CacheRepository) MarkStale(keys ...string) error {
	for _, key := range keys {
		if _, err := r.db.Exec("UPDATE cache_entries SET stale = 1 WHERE key = ?", key); err != nil {
			return fmt.Errorf("failed to mark %s stale: %w", key, err)
		}
	}
	return nil
}

// MarkStalePrefix flags every key starting with prefix as stale.
func (r *CacheRepository) MarkStalePrefix(prefix string) error {
	if _, err := r.db.Exec("UPDATE cache_entries SET stale = 1 WHERE substr(key, 1, ?) = ?", len(prefix), prefix); err != nil {
		return fmt.Errorf("failed to mark %s* stale: %w", prefix, err)
	}
	return nil
}

// Delete removes the entry for key.
func (r *CacheRepository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// List returns all entries ordered by key.
func (r *CacheRepository) List() ([]models.CacheEntry, error) {
	rows, err := r.db.Query("SELECT key, value, stale, sequence, updated_at FROM cache_entries ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

// Clear removes every entry and returns how many were deleted.
func (r *CacheRepository) Clear() (int64, error) {
	result, err := r.db.Exec("DELETE FROM cache_entries")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.CacheEntry, error) {
	var (
		entry models.CacheEntry
		value []byte
	)
	if err := row.Scan(&entry.Key, &value, &entry.Stale, &entry.Sequence, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	entry.Value = json.RawMessage(value)
	return &entry, nil
}
