// Package gateway wires the OAuth endpoints, the discovery metadata, and the
// tool-visibility endpoint into one HTTP handler.
package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/access"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/encryption"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/grant"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/handlerutils"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/identity"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/oauth/authorize"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/oauth/callback"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/oauth/register"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/oauth/revoke"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/oauth/state"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/oauth/token"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/ratelimit"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/store"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/upstream"
)

// Gateway is the delegated-authorization server for the Neon MCP surface.
type Gateway struct {
	config        *types.Config
	db            *store.Store
	provider      *upstream.Provider
	identity      *identity.Client
	codec         *state.Codec
	rateLimiter   *ratelimit.RateLimiter
	encryptionKey []byte

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a gateway from configuration.
func New(config *types.Config) (*Gateway, error) {
	if config.UpstreamClientID == "" || config.UpstreamClientSecret == "" || config.UpstreamAuthorizeURL == "" {
		return nil, fmt.Errorf("upstream OAuth client is not configured")
	}
	if config.NeonAPIURL == "" {
		config.NeonAPIURL = "https://console.neon.tech/api/v2"
	}
	if config.Port == "" {
		config.Port = "8080"
	}

	var encryptionKey []byte
	if config.EncryptionKey == "" {
		// Ephemeral key: state payloads and stored upstream tokens become
		// unreadable across restarts.
		log.Println("ENCRYPTION_KEY not set, generating an ephemeral key")
		encryptionKey = []byte(encryption.GenerateRandomString(32))[:32]
	} else {
		var err error
		encryptionKey, err = base64.StdEncoding.DecodeString(config.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode encryption key: %w", err)
		}
		if len(encryptionKey) != 32 {
			return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(encryptionKey))
		}
	}

	db, err := store.New(config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return &Gateway{
		config:        config,
		db:            db,
		provider:      upstream.New(config.UpstreamAuthorizeURL, config.UpstreamClientID, config.UpstreamClientSecret),
		identity:      identity.NewClient(config.NeonAPIURL),
		codec:         state.NewCodec(encryptionKey),
		rateLimiter:   ratelimit.NewRateLimiter(15*time.Minute, 5000),
		encryptionKey: encryptionKey,
	}, nil
}

// Start launches the expiry sweep. The sweep only removes entries whose
// expiry has provably passed, so it is safe alongside concurrent reads.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-g.ctx.Done():
				return
			case <-ticker.C:
				if err := g.db.CleanupExpired(); err != nil {
					log.Printf("Failed to cleanup expired entries: %v", err)
				}
			}
		}
	}()
}

// Close stops background work and closes the store.
func (g *Gateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.db != nil {
		return g.db.Close()
	}
	return nil
}

// SetupRoutes registers all gateway routes on mux.
func (g *Gateway) SetupRoutes(mux *http.ServeMux) {
	authorizeHandler := authorize.NewHandler(g.db, g.provider, g.codec)
	callbackHandler := callback.NewHandler(g.db, g.provider, g.identity, g.codec, g.encryptionKey)
	tokenHandler := token.NewHandler(g.db)
	revokeHandler := revoke.NewHandler(g.db)
	registerHandler := register.NewHandler(g.db)

	mux.HandleFunc("GET /health", g.withCORS(g.healthHandler))

	mux.HandleFunc("GET /authorize", g.withCORS(g.withRateLimit(authorizeHandler)))
	mux.HandleFunc("POST /authorize", g.withCORS(g.withRateLimit(authorizeHandler)))
	mux.HandleFunc("GET /callback", g.withCORS(g.withRateLimit(callbackHandler)))
	mux.HandleFunc("POST /token", g.withCORS(g.withRateLimit(tokenHandler)))
	mux.HandleFunc("POST /revoke", g.withCORS(g.withRateLimit(revokeHandler)))
	mux.HandleFunc("POST /register", g.withCORS(g.withRateLimit(registerHandler)))

	mux.HandleFunc("GET /.well-known/oauth-authorization-server", g.withCORS(g.oauthMetadataHandler))
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", g.withCORS(g.protectedResourceMetadataHandler))

	mux.HandleFunc("GET /api/list-tools", g.withCORS(g.listToolsHandler))

	// OPTIONS preflight for every route above.
	mux.HandleFunc("OPTIONS /{path...}", g.withCORS(func(http.ResponseWriter, *http.Request) {}))
}

// Handler returns the gateway's HTTP handler with access logging.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.SetupRoutes(mux)
	return handlers.LoggingHandler(os.Stdout, mux)
}

func (g *Gateway) withCORS(next http.HandlerFunc) http.HandlerFunc {
	allowHeaders := append([]string{"Origin", "Content-Type", "Accept", "Authorization", "mcp-protocol-version"}, access.OverrideHeaders()...)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowHeaders, ", "))
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int((12 * time.Hour).Seconds())))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

func (g *Gateway) withRateLimit(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.rateLimiter != nil {
			clientIP := handlerutils.GetClientIP(r)
			if !g.rateLimiter.Allow(clientIP) {
				handlerutils.JSON(w, http.StatusTooManyRequests, types.OAuthError{
					Error:            "too_many_requests",
					ErrorDescription: "Rate limit exceeded",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func (g *Gateway) healthHandler(w http.ResponseWriter, _ *http.Request) {
	handlerutils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) oauthMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := handlerutils.GetBaseURL(r)

	handlerutils.JSON(w, http.StatusOK, &types.OAuthMetadata{
		Issuer:                            baseURL,
		AuthorizationEndpoint:             baseURL + "/authorize",
		TokenEndpoint:                     baseURL + "/token",
		RegistrationEndpoint:              baseURL + "/register",
		RevocationEndpoint:                baseURL + "/revoke",
		ScopesSupported:                   []string{"read", "write"},
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
	})
}

func (g *Gateway) protectedResourceMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := handlerutils.GetBaseURL(r)

	handlerutils.JSON(w, http.StatusOK, types.OAuthProtectedResourceMetadata{
		Resource:             baseURL,
		AuthorizationServers: []string{baseURL},
		Scopes:               []string{"read", "write"},
		ResourceName:         "Neon MCP Tools",
	})
}

// listToolsHandler resolves the visible tool set for the presented bearer
// credential and headers. The endpoint is stateless and needs no auth: an
// unknown bearer is treated as a raw Neon API key carrying the default
// grant.
func (g *Gateway) listToolsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := access.Context{
		Grant:  grant.Default(),
		Header: r.Header,
	}

	if bearer := bearerToken(r); bearer != "" {
		if tokenData, err := g.db.GetAccessToken(bearer); err == nil {
			ctx.Grant = grant.FromMap(tokenData.Grant)
			ctx.OAuthScopes = strings.Fields(tokenData.Scope)
		}
	}

	handlerutils.JSON(w, http.StatusOK, access.ListTools(ctx))
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
