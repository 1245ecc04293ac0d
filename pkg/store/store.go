// Package store persists the gateway's OAuth state in four collections:
// registered clients, pending authorization codes, access tokens, and
// refresh tokens. Tokens are keyed by their SHA-256 hash so a database dump
// never yields usable credentials.
package store

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

const (
	collectionClients       = "clients"
	collectionAuthCodes     = "auth_codes"
	collectionAccessTokens  = "access_tokens"
	collectionRefreshTokens = "refresh_tokens"
)

// ErrCodeConsumed is returned when an authorization code was already
// exchanged by a concurrent request.
var ErrCodeConsumed = errors.New("store: authorization code already consumed")

// Store wraps the keyed store with the gateway's typed collections.
type Store struct {
	kv *KV
}

// New opens the backing database. An empty DSN uses a local SQLite file.
func New(dsn string) (*Store, error) {
	kv, err := NewKV(dsn)
	if err != nil {
		return nil, err
	}
	return &Store{kv: kv}, nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// StoreClient persists a registered client. Clients never expire.
func (s *Store) StoreClient(client *types.ClientInfo) error {
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	return s.kv.Set(collectionClients, client.ClientID, data, 0)
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(clientID string) (*types.ClientInfo, error) {
	data, err := s.kv.Get(collectionClients, clientID)
	if err != nil {
		return nil, err
	}
	var client types.ClientInfo
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// StoreAuthCode persists a pending authorization code with its TTL.
func (s *Store) StoreAuthCode(code *types.AuthCodeData) error {
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}
	return s.kv.Set(collectionAuthCodes, code.Code, data, ttl)
}

// ConsumeAuthCode reads and deletes an authorization code in one logical
// step. The read and the delete race safely: the delete is atomic, so when
// two exchanges arrive for the same code exactly one gets the record back
// and the other gets ErrCodeConsumed.
func (s *Store) ConsumeAuthCode(code string) (*types.AuthCodeData, error) {
	data, err := s.kv.Get(collectionAuthCodes, code)
	if err != nil {
		return nil, err
	}

	deleted, err := s.kv.DeleteIfPresent(collectionAuthCodes, code)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrCodeConsumed
	}

	var record types.AuthCodeData
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return &record, nil
}

// StoreAccessToken persists an access token keyed by its hash.
func (s *Store) StoreAccessToken(token *types.TokenData) error {
	return s.storeToken(collectionAccessTokens, token)
}

// GetAccessToken retrieves an unexpired access token by its plaintext value.
func (s *Store) GetAccessToken(token string) (*types.TokenData, error) {
	return s.getToken(collectionAccessTokens, token)
}

// DeleteAccessToken removes an access token (revocation or rotation).
func (s *Store) DeleteAccessToken(token string) error {
	return s.kv.Delete(collectionAccessTokens, hashToken(token))
}

// StoreRefreshToken persists a refresh token keyed by its hash.
func (s *Store) StoreRefreshToken(token *types.TokenData) error {
	return s.storeToken(collectionRefreshTokens, token)
}

// GetRefreshToken retrieves an unexpired refresh token by its plaintext value.
func (s *Store) GetRefreshToken(token string) (*types.TokenData, error) {
	return s.getToken(collectionRefreshTokens, token)
}

// DeleteRefreshToken removes a refresh token (revocation or rotation).
func (s *Store) DeleteRefreshToken(token string) error {
	return s.kv.Delete(collectionRefreshTokens, hashToken(token))
}

func (s *Store) storeToken(collection string, token *types.TokenData) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token already expired")
	}
	return s.kv.Set(collection, hashToken(token.Token), data, ttl)
}

func (s *Store) getToken(collection, token string) (*types.TokenData, error) {
	data, err := s.kv.Get(collection, hashToken(token))
	if err != nil {
		return nil, err
	}
	var record types.TokenData
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	record.Token = token
	return &record, nil
}

// CleanupExpired removes every expired entry across all collections. Safe to
// run concurrently with reads: only entries with a passed expiry are deleted.
func (s *Store) CleanupExpired() error {
	deleted, err := s.kv.DeleteExpired()
	if err != nil {
		return fmt.Errorf("failed to cleanup expired entries: %w", err)
	}
	if deleted > 0 {
		log.Printf("Deleted %d expired store entries", deleted)
	}
	return nil
}

// Close closes the backing database.
func (s *Store) Close() error {
	return s.kv.Close()
}
