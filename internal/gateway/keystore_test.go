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
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	store, err := NewKeyStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestKeyStoreCreateAndValidate(t *testing.T) {
	store := newTestKeyStore(t)
	ctx := context.Background()

	key, err := store.CreateKey("extension on laptop")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "wag_"), "key should carry the wag prefix: %s", key)
	assert.Len(t, strings.Split(key, "_"), 3)

	valid, err := store.ValidateKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, valid)

	t.Run("cached revalidation succeeds", func(t *testing.T) {
		valid, err := store.ValidateKey(ctx, key)
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("rejects a tampered secret", func(t *testing.T) {
		parts := strings.Split(key, "_")
		tampered := parts[0] + "_" + parts[1] + "_deadbeefdeadbeefdeadbeefdeadbeef"

		valid, err := store.ValidateKey(ctx, tampered)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("rejects malformed keys", func(t *testing.T) {
		for _, bad := range []string{"", "wag", "wag_only-two", "other_abc_def", "wag_a_b_c"} {
			valid, err := store.ValidateKey(ctx, bad)
			require.NoError(t, err)
			assert.False(t, valid, "key %q should be invalid", bad)
		}
	})

	t.Run("rejects an unknown key id", func(t *testing.T) {
		valid, err := store.ValidateKey(ctx, "wag_ffffffff_deadbeefdeadbeefdeadbeefdeadbeef")
		require.NoError(t, err)
		assert.False(t, valid)
	})
}

func TestKeyStoreRevoke(t *testing.T) {
	store := newTestKeyStore(t)
	ctx := context.Background()

	key, err := store.CreateKey("to be revoked")
	require.NoError(t, err)

	// Warm the validation cache so revocation must also drop it
	valid, err := store.ValidateKey(ctx, key)
	require.NoError(t, err)
	require.True(t, valid)

	keyID := strings.Split(key, "_")[1]
	require.NoError(t, store.RevokeKey(keyID))

	valid, err = store.ValidateKey(ctx, key)
	require.NoError(t, err)
	assert.False(t, valid, "revoked key must fail validation even when previously cached")

	t.Run("revoking an unknown key id fails", func(t *testing.T) {
		assert.Error(t, store.RevokeKey("ffffffff"))
	})
}

func TestKeyStoreListKeys(t *testing.T) {
	store := newTestKeyStore(t)

	first, err := store.CreateKey("first")
	require.NoError(t, err)
	_, err = store.CreateKey("second")
	require.NoError(t, err)

	keys, err := store.ListKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, "first", keys[0].Label)
	assert.Equal(t, strings.Split(first, "_")[1], keys[0].KeyID)
	assert.False(t, keys[0].Revoked)

	require.NoError(t, store.RevokeKey(keys[1].KeyID))
	keys, err = store.ListKeys()
	require.NoError(t, err)
	assert.True(t, keys[1].Revoked)
}

func TestKeyStoreAdmins(t *testing.T) {
	store := newTestKeyStore(t)

	require.NoError(t, store.CreateAdmin("admin", "hunter2"))

	ok, err := store.VerifyAdmin("admin", "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.VerifyAdmin("admin", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.VerifyAdmin("nobody", "hunter2")
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("duplicate usernames are rejected", func(t *testing.T) {
		assert.Error(t, store.CreateAdmin("admin", "again"))
	})
}
