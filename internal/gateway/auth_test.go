package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService(t *testing.T) {
	service := NewJWTService("test-secret", "test-issuer", 1)

	t.Run("generates and validates a token", func(t *testing.T) {
		token, err := service.GenerateToken("admin")
		require.NoError(t, err)

		claims, err := service.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Username)
		assert.Equal(t, "test-issuer", claims.Issuer)
	})

	t.Run("rejects a garbage token", func(t *testing.T) {
		_, err := service.ValidateToken("not.a.token")
		assert.Error(t, err)
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		other := NewJWTService("other-secret", "test-issuer", 1)
		token, err := other.GenerateToken("admin")
		require.NoError(t, err)

		_, err = service.ValidateToken(token)
		assert.Error(t, err)
	})
}

func TestRequireAuth(t *testing.T) {
	service := NewJWTService("test-secret", "test-issuer", 1)
	protected := service.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("passes a valid bearer token", func(t *testing.T) {
		token, err := service.GenerateToken("admin")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects a non-bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects an invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer bogus")
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHashService(t *testing.T) {
	hasher := NewHashService()

	t.Run("verifies the original secret", func(t *testing.T) {
		hash, err := hasher.Hash("s3cret")
		require.NoError(t, err)

		ok, err := hasher.Verify("s3cret", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejects a wrong secret", func(t *testing.T) {
		hash, err := hasher.Hash("s3cret")
		require.NoError(t, err)

		ok, err := hasher.Verify("other", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("salts make hashes unique", func(t *testing.T) {
		first, err := hasher.Hash("s3cret")
		require.NoError(t, err)
		second, err := hasher.Hash("s3cret")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("rejects a malformed hash", func(t *testing.T) {
		_, err := hasher.Verify("s3cret", "$argon2id$garbage")
		assert.Error(t, err)
	})
}
