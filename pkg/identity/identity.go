// Package identity resolves the Neon account behind an upstream credential.
// Lookups go to the console API and are cached keyed by the bearer token.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

// cacheTTL bounds how long a resolved account is reused for the same bearer.
const cacheTTL = 5 * time.Minute

// AuthMethodOrgAPIKey is the upstream auth method reported for organization
// API keys; those resolve to an organization account instead of a user.
const AuthMethodOrgAPIKey = "api_key_org"

type cacheEntry struct {
	account   *types.Account
	expiresAt time.Time
}

// Client looks up accounts against the Neon console API.
type Client struct {
	apiURL     string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewClient creates an identity client for the given console API base URL,
// e.g. https://console.neon.tech/api/v2.
func NewClient(apiURL string) *Client {
	return &Client{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		cache: make(map[string]cacheEntry),
	}
}

// Resolve returns the account the bearer acts for. Organization credentials
// (authMethod api_key_org) resolve via the organization endpoint and carry
// no email; everything else resolves via the current-user endpoint.
func (c *Client) Resolve(ctx context.Context, bearer, authMethod string) (*types.Account, error) {
	if account := c.cached(bearer); account != nil {
		return account, nil
	}

	var account *types.Account
	var err error
	if strings.HasPrefix(authMethod, AuthMethodOrgAPIKey) {
		account, err = c.resolveOrganization(ctx, bearer)
	} else {
		account, err = c.resolveUser(ctx, bearer)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[bearer] = cacheEntry{account: account, expiresAt: time.Now().Add(cacheTTL)}
	c.mu.Unlock()
	return account, nil
}

func (c *Client) cached(bearer string) *types.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[bearer]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.cache, bearer)
		return nil
	}
	return entry.account
}

func (c *Client) resolveUser(ctx context.Context, bearer string) (*types.Account, error) {
	var body struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.get(ctx, "/users/me", bearer, &body); err != nil {
		return nil, err
	}
	if body.ID == "" {
		return nil, fmt.Errorf("identity lookup returned no account id")
	}
	return &types.Account{
		ID:    body.ID,
		Name:  body.Name,
		Email: body.Email,
	}, nil
}

func (c *Client) resolveOrganization(ctx context.Context, bearer string) (*types.Account, error) {
	var body struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, "/organizations/me", bearer, &body); err != nil {
		return nil, err
	}
	if body.ID == "" {
		return nil, fmt.Errorf("identity lookup returned no organization id")
	}
	return &types.Account{
		ID:    body.ID,
		Name:  body.Name,
		IsOrg: true,
	}, nil
}

func (c *Client) get(ctx context.Context, path, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity request failed: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode identity response: %w", err)
	}
	return nil
}
