// Package token implements the token endpoint: authorization-code exchange
// and refresh-token rotation.
package token

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/encryption"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/handlerutils"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/pkce"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/store"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

const (
	// AccessTokenTTL is the access token lifetime.
	AccessTokenTTL = time.Hour
	// RefreshTokenTTL is the refresh token lifetime.
	RefreshTokenTTL = 30 * 24 * time.Hour
)

type TokenStore interface {
	GetClient(clientID string) (*types.ClientInfo, error)
	ConsumeAuthCode(code string) (*types.AuthCodeData, error)
	StoreAccessToken(token *types.TokenData) error
	StoreRefreshToken(token *types.TokenData) error
	GetRefreshToken(token string) (*types.TokenData, error)
	DeleteRefreshToken(token string) error
}

type Handler struct {
	db TokenStore
}

func NewHandler(db TokenStore) http.Handler {
	return &Handler{
		db: db,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Invalid request body",
		})
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if clientID == "" {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_client",
			ErrorDescription: "Client ID is required",
		})
		return
	}

	clientInfo, err := p.db.GetClient(clientID)
	if err != nil || clientInfo == nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_client",
			ErrorDescription: "Client not found",
		})
		return
	}

	// Public clients (auth method "none") authenticate by client_id alone;
	// confidential clients must present their secret.
	if clientInfo.TokenEndpointAuthMethod != "none" {
		if clientSecret == "" || clientInfo.ClientSecret != clientSecret {
			handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
				Error:            "invalid_client",
				ErrorDescription: "Invalid client credentials",
			})
			return
		}
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		p.handleAuthorizationCodeGrant(w, r, clientID)
	case "refresh_token":
		p.handleRefreshTokenGrant(w, r, clientID)
	default:
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "unsupported_grant_type",
			ErrorDescription: "The grant type is not supported by this authorization server",
		})
	}
}

// clientCredentials reads client authentication from HTTP Basic or from the
// request body.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok && id != "" {
		return id, secret
	}
	return r.FormValue("client_id"), r.FormValue("client_secret")
}

func (p *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, clientID string) {
	code := r.FormValue("code")
	codeVerifier := r.FormValue("code_verifier")
	redirectURI := r.FormValue("redirect_uri")

	// Consume first: the delete is the atomic single-use gate, so a losing
	// concurrent exchange fails here with invalid_grant.
	record, err := p.db.ConsumeAuthCode(code)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrCodeConsumed) {
			log.Printf("Failed to consume authorization code: %v", err)
		}
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_grant",
			ErrorDescription: "Invalid authorization code",
		})
		return
	}

	if record.ClientID != clientID {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_grant",
			ErrorDescription: "Client ID mismatch",
		})
		return
	}

	if record.CodeChallenge != "" {
		if codeVerifier == "" || !pkce.Verify(record.CodeChallenge, record.CodeChallengeMethod, codeVerifier) {
			handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
				Error:            "invalid_grant",
				ErrorDescription: "Invalid PKCE code_verifier",
			})
			return
		}
	}

	if redirectURI != record.RedirectURI {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_grant",
			ErrorDescription: "Redirect URI mismatch",
		})
		return
	}

	grantID := grantIDFromCode(code)
	p.issueTokens(w, clientID, grantID, record.Account, record.Grant, record.Scope, record.Props)
}

func (p *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, clientID string) {
	refreshToken := r.FormValue("refresh_token")

	tokenData, err := p.db.GetRefreshToken(refreshToken)
	if err != nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_grant",
			ErrorDescription: "Invalid refresh token",
		})
		return
	}

	if tokenData.ClientID != clientID {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_grant",
			ErrorDescription: "Token does not belong to the requesting client",
		})
		return
	}

	// Rotate on use: the consumed refresh token is deleted once the new
	// pair is stored.
	grantID := grantIDFromCode(tokenData.Token)
	if p.issueTokens(w, clientID, grantID, tokenData.Account, tokenData.Grant, tokenData.Scope, tokenData.Props) {
		if err := p.db.DeleteRefreshToken(refreshToken); err != nil {
			log.Printf("Failed to delete rotated refresh token: %v", err)
		}
	}
}

// issueTokens mints and stores a new access/refresh token pair and writes
// the token response. Reports whether issuance succeeded.
func (p *Handler) issueTokens(w http.ResponseWriter, clientID, grantID string, account types.Account, grantData map[string]any, scope string, props map[string]any) bool {
	now := time.Now()
	accessToken := grantID + ":" + encryption.GenerateRandomString(32)
	refreshToken := grantID + ":" + encryption.GenerateRandomString(32)

	accessData := &types.TokenData{
		Token:     accessToken,
		ClientID:  clientID,
		Account:   account,
		Grant:     grantData,
		Scope:     scope,
		Props:     props,
		ExpiresAt: now.Add(AccessTokenTTL),
		CreatedAt: now,
	}
	if err := p.db.StoreAccessToken(accessData); err != nil {
		log.Printf("Failed to store access token: %v", err)
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            "server_error",
			ErrorDescription: "Failed to store token",
		})
		return false
	}

	refreshData := &types.TokenData{
		Token:     refreshToken,
		ClientID:  clientID,
		Account:   account,
		Grant:     grantData,
		Scope:     scope,
		Props:     props,
		ExpiresAt: now.Add(RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := p.db.StoreRefreshToken(refreshData); err != nil {
		log.Printf("Failed to store refresh token: %v", err)
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            "server_error",
			ErrorDescription: "Failed to store token",
		})
		return false
	}

	handlerutils.JSON(w, http.StatusOK, types.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
		Account:      &account,
	})
	return true
}

// grantIDFromCode extracts the grant identifier prefix from a
// "{grantID}:{nonce}" credential.
func grantIDFromCode(code string) string {
	if i := strings.IndexByte(code, ':'); i > 0 {
		return code[:i]
	}
	return code
}
