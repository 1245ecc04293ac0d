// Package upstream talks to the Neon console's OAuth provider: endpoint
// discovery, the authorization-code exchange, and token refresh.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

// Provider is the confidential OAuth client the gateway holds against the
// upstream identity provider.
type Provider struct {
	authorizeURL string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu       sync.Mutex
	metadata *types.OAuthMetadata
}

// New creates a provider for the given upstream authorize URL and the
// locally configured confidential client credentials.
func New(authorizeURL, clientID, clientSecret string) *Provider {
	return &Provider{
		authorizeURL: authorizeURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Discover fetches the upstream OAuth metadata, once per process lifetime.
func (p *Provider) Discover(ctx context.Context) (*types.OAuthMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metadata != nil {
		return p.metadata, nil
	}

	parsedURL, err := url.Parse(p.authorizeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid authorize URL: %w", err)
	}
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)

	wellKnownPaths := []string{
		"/.well-known/oauth-authorization-server" + strings.TrimSuffix(parsedURL.Path, "/"),
		strings.TrimSuffix(parsedURL.Path, "/") + "/.well-known/oauth-authorization-server",
		"/.well-known/openid-configuration" + strings.TrimSuffix(parsedURL.Path, "/"),
		strings.TrimSuffix(parsedURL.Path, "/") + "/.well-known/openid-configuration",
	}

	for _, path := range wellKnownPaths {
		metadata, err := p.fetchMetadata(ctx, baseURL+path)
		if err == nil && metadata != nil && metadata.TokenEndpoint != "" {
			p.metadata = metadata
			return p.metadata, nil
		}
	}

	// No metadata published; assume conventional endpoint paths.
	p.metadata = &types.OAuthMetadata{
		Issuer:                 baseURL,
		AuthorizationEndpoint:  p.authorizeURL,
		TokenEndpoint:          baseURL + "/oauth2/token",
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
	}
	return p.metadata, nil
}

func (p *Provider) fetchMetadata(ctx context.Context, metadataURL string) (*types.OAuthMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", metadataURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch metadata: %s", resp.Status)
	}

	var metadata types.OAuthMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &metadata, nil
}

// AuthorizationURL builds the upstream authorize URL carrying the signed
// state payload.
func (p *Provider) AuthorizationURL(ctx context.Context, redirectURI, scope, state string) (string, error) {
	metadata, err := p.Discover(ctx)
	if err != nil {
		return "", err
	}
	return p.config(metadata, redirectURI, scope).AuthCodeURL(state), nil
}

// Exchange performs the authorization-code grant against upstream. The code
// and state are read from the callback request URL; the caller supplies the
// state it expects to see.
func (p *Provider) Exchange(ctx context.Context, requestURL *url.URL, expectedState, redirectURI string) (*oauth2.Token, error) {
	query := requestURL.Query()
	if state := query.Get("state"); state != expectedState {
		return nil, fmt.Errorf("state mismatch")
	}
	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	metadata, err := p.Discover(ctx)
	if err != nil {
		return nil, err
	}
	token, err := p.config(metadata, redirectURI, "").Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

// Refresh obtains a fresh upstream token set from a refresh token.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	metadata, err := p.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return p.config(metadata, "", "").
		TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).
		Token()
}

func (p *Provider) config(metadata *types.OAuthMetadata, redirectURI, scope string) *oauth2.Config {
	var scopes []string
	if scope != "" {
		scopes = strings.Fields(scope)
	}
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  metadata.AuthorizationEndpoint,
			TokenURL: metadata.TokenEndpoint,
		},
	}
}
