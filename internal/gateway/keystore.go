// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// APIKey is the stored metadata for one issued key. The secret itself is
// only ever held as an Argon2id hash.
type APIKey struct {
	ID        int       `json:"id"`
	KeyID     string    `json:"key_id"`
	Label     string    `json:"label"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// keyPrefix namespaces issued keys so they are recognizable in configs
const keyPrefix = "wag"

// validationCacheSize bounds the cache of recently validated keys
const validationCacheSize = 256

// KeyStore manages API keys and admin users in SQLite. Validated keys are
// cached in an LRU so the Argon2 check does not repeat on every reconnect.
type KeyStore struct {
	db     *sql.DB
	hasher *HashService
	cache  *lru.Cache[string, bool]
}

// NewKeyStore opens the store, creating the schema when missing
func NewKeyStore(dbPath string) (*KeyStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	cache, err := lru.New[string, bool](validationCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create validation cache: %w", err)
	}

	store := &KeyStore{
		db:     db,
		hasher: NewHashService(),
		cache:  cache,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *KeyStore) Close() error {
	return s.db.Close()
}

func (s *KeyStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key_id TEXT UNIQUE NOT NULL,
			key_hash TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			revoked INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS admins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// CreateKey issues a new API key. The full key is returned exactly once;
// only its hash is stored.
func (s *KeyStore) CreateKey(label string) (string, error) {
	keyID, err := randomHex(4)
	if err != nil {
		return "", err
	}
	secret, err := randomHex(16)
	if err != nil {
		return "", err
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO api_keys (key_id, key_hash, label) VALUES (?, ?, ?)`,
		keyID, hash, label)
	if err != nil {
		return "", fmt.Errorf("failed to store key: %w", err)
	}

	return fmt.Sprintf("%s_%s_%s", keyPrefix, keyID, secret), nil
}

// ListKeys returns metadata for every issued key
func (s *KeyStore) ListKeys() ([]APIKey, error) {
	rows, err := s.db.Query(
		`SELECT id, key_id, label, revoked, created_at FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var key APIKey
		var revoked int
		if err := rows.Scan(&key.ID, &key.KeyID, &key.Label, &revoked, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		key.Revoked = revoked != 0
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// RevokeKey marks a key revoked and drops the validation cache so currently
// cached verdicts cannot outlive the revocation
func (s *KeyStore) RevokeKey(keyID string) error {
	result, err := s.db.Exec(`UPDATE api_keys SET revoked = 1 WHERE key_id = ?`, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("key not found: %s", keyID)
	}

	s.cache.Purge()
	return nil
}

// ValidateKey checks a full API key against the store. It satisfies the
// broker's CredentialValidator signature.
func (s *KeyStore) ValidateKey(ctx context.Context, apiKey string) (bool, error) {
	if valid, ok := s.cache.Get(apiKey); ok {
		return valid, nil
	}

	parts := strings.Split(apiKey, "_")
	if len(parts) != 3 || parts[0] != keyPrefix {
		return false, nil
	}
	keyID, secret := parts[1], parts[2]

	var hash string
	var revoked int
	err := s.db.QueryRowContext(ctx,
		`SELECT key_hash, revoked FROM api_keys WHERE key_id = ?`, keyID).
		Scan(&hash, &revoked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up key: %w", err)
	}
	if revoked != 0 {
		return false, nil
	}

	valid, err := s.hasher.Verify(secret, hash)
	if err != nil {
		return false, err
	}

	if valid {
		s.cache.Add(apiKey, true)
	}
	return valid, nil
}

// CreateAdmin stores an admin user for the REST API
func (s *KeyStore) CreateAdmin(username, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO admins (username, password_hash) VALUES (?, ?)`,
		username, hash)
	if err != nil {
		return fmt.Errorf("failed to store admin: %w", err)
	}

	return nil
}

// VerifyAdmin checks an admin login
func (s *KeyStore) VerifyAdmin(username, password string) (bool, error) {
	var hash string
	err := s.db.QueryRow(
		`SELECT password_hash FROM admins WHERE username = ?`, username).
		Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up admin: %w", err)
	}

	return s.hasher.Verify(password, hash)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("%x", buf), nil
}
