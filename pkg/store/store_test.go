package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("Error closing store: %v", err)
		}
	})
	return s
}

func TestClientOperations(t *testing.T) {
	s := newTestStore(t)

	client := &types.ClientInfo{
		ClientID:                "client_abc",
		ClientSecret:            "secret_value",
		RedirectUris:            []string{"http://localhost:8080/callback", "https://example.com/cb"},
		ClientName:              "Test Client",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}
	require.NoError(t, s.StoreClient(client))

	retrieved, err := s.GetClient("client_abc")
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, client.ClientID, retrieved.ClientID)
	assert.Equal(t, client.ClientSecret, retrieved.ClientSecret)
	assert.Equal(t, client.RedirectUris, retrieved.RedirectUris)
	assert.Equal(t, client.GrantTypes, retrieved.GrantTypes)

	_, err = s.GetClient("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthCodeSingleUse(t *testing.T) {
	s := newTestStore(t)

	code := &types.AuthCodeData{
		Code:        "grant1:nonce1",
		ClientID:    "client_abc",
		RedirectURI: "http://localhost:8080/callback",
		Scope:       "read write",
		Grant:       map[string]any{"preset": "full_access"},
		Account:     types.Account{ID: "user_1", Email: "dev@example.com"},
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.StoreAuthCode(code))

	record, err := s.ConsumeAuthCode("grant1:nonce1")
	require.NoError(t, err)
	assert.Equal(t, code.ClientID, record.ClientID)
	assert.Equal(t, code.Scope, record.Scope)
	assert.Equal(t, code.Account, record.Account)

	// Second exchange of the same code must fail.
	_, err = s.ConsumeAuthCode("grant1:nonce1")
	assert.Error(t, err)
}

func TestAuthCodeExpiry(t *testing.T) {
	s := newTestStore(t)

	expired := &types.AuthCodeData{
		Code:      "grant2:nonce2",
		ClientID:  "client_abc",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	assert.Error(t, s.StoreAuthCode(expired))

	shortLived := &types.AuthCodeData{
		Code:      "grant3:nonce3",
		ClientID:  "client_abc",
		ExpiresAt: time.Now().Add(50 * time.Millisecond),
	}
	require.NoError(t, s.StoreAuthCode(shortLived))
	time.Sleep(100 * time.Millisecond)

	_, err := s.ConsumeAuthCode("grant3:nonce3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenOperations(t *testing.T) {
	s := newTestStore(t)

	token := &types.TokenData{
		Token:    "grant4:access_value",
		ClientID: "client_abc",
		Account:  types.Account{ID: "org_1", Name: "Acme", IsOrg: true},
		Grant:    map[string]any{"preset": "production_use"},
		Scope:    "read",
		Props: map[string]any{
			"auth_method": "oauth",
		},
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.StoreAccessToken(token))

	retrieved, err := s.GetAccessToken("grant4:access_value")
	require.NoError(t, err)
	assert.Equal(t, "grant4:access_value", retrieved.Token)
	assert.Equal(t, token.ClientID, retrieved.ClientID)
	assert.Equal(t, token.Account, retrieved.Account)
	assert.Equal(t, token.Scope, retrieved.Scope)

	// The store keys by hash, not plaintext.
	_, err = s.kv.Get(collectionAccessTokens, "grant4:access_value")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.kv.Get(collectionAccessTokens, hashToken("grant4:access_value"))
	assert.NoError(t, err)

	require.NoError(t, s.DeleteAccessToken("grant4:access_value"))
	_, err = s.GetAccessToken("grant4:access_value")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshTokenRotation(t *testing.T) {
	s := newTestStore(t)

	token := &types.TokenData{
		Token:     "grant5:refresh_value",
		ClientID:  "client_abc",
		Grant:     map[string]any{"preset": "full_access"},
		Scope:     "read write",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	require.NoError(t, s.StoreRefreshToken(token))

	retrieved, err := s.GetRefreshToken("grant5:refresh_value")
	require.NoError(t, err)
	assert.Equal(t, token.ClientID, retrieved.ClientID)

	require.NoError(t, s.DeleteRefreshToken("grant5:refresh_value"))
	_, err = s.GetRefreshToken("grant5:refresh_value")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupExpired(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.kv.Set("clients", "keep", []byte("1"), 0))
	require.NoError(t, s.kv.Set("access_tokens", "short", []byte("2"), 10*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.CleanupExpired())

	_, err := s.kv.Get("clients", "keep")
	assert.NoError(t, err)
	_, err = s.kv.Get("access_tokens", "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIfPresent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.kv.Set("auth_codes", "k", []byte("v"), time.Minute))

	deleted, err := s.kv.DeleteIfPresent("auth_codes", "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.kv.DeleteIfPresent("auth_codes", "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}
