// Package kv provides a small persistent key/value bucket on SQLite, used
// for setup state that must survive restarts (paired bridge credentials,
// the discovered entertainment area, TV pairing).
package kv

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Bucket is a persistent namespace inside the kv_store table.
type Bucket struct {
	db   *sql.DB
	name string
}

// NewBucket creates a bucket with the given name.
func NewBucket(db *sql.DB, name string) *Bucket {
	return &Bucket{
		db:   db,
		name: name,
	}
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Store saves a value with the given key, JSON-serialized.
func (b *Bucket) Store(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	now := time.Now().UTC().Unix()

	_, err = b.db.Exec(`
		INSERT INTO kv_store (bucket, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, b.name, key, string(data), now, now)

	if err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}

	return nil
}

// Get retrieves a value by key into dest. Returns (false, nil) when the key
// does not exist.
func (b *Bucket) Get(key string, dest any) (bool, error) {
	var valueStr string

	err := b.db.QueryRow(`
		SELECT value FROM kv_store
		WHERE bucket = ? AND key = ?
	`, b.name, key).Scan(&valueStr)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get value: %w", err)
	}

	if err := json.Unmarshal([]byte(valueStr), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return true, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (b *Bucket) Delete(key string) error {
	_, err := b.db.Exec(`DELETE FROM kv_store WHERE bucket = ? AND key = ?`, b.name, key)
	if err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}

// Clear removes every key in the bucket.
func (b *Bucket) Clear() error {
	_, err := b.db.Exec(`DELETE FROM kv_store WHERE bucket = ?`, b.name)
	if err != nil {
		return fmt.Errorf("failed to clear bucket: %w", err)
	}
	return nil
}
