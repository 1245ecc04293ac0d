// Package revoke implements RFC 7009 token revocation. Revoked tokens are
// deleted from the store outright.
package revoke

import (
	"log"
	"net/http"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/handlerutils"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

type Store interface {
	GetClient(clientID string) (*types.ClientInfo, error)
	GetAccessToken(token string) (*types.TokenData, error)
	GetRefreshToken(token string) (*types.TokenData, error)
	DeleteAccessToken(token string) error
	DeleteRefreshToken(token string) error
}

type Handler struct {
	db Store
}

func NewHandler(db Store) http.Handler {
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

	token := r.FormValue("token")
	tokenTypeHint := r.FormValue("token_type_hint")
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	if id, secret, ok := r.BasicAuth(); ok && id != "" {
		clientID, clientSecret = id, secret
	}

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

	if clientInfo.TokenEndpointAuthMethod != "none" {
		if clientSecret == "" || clientInfo.ClientSecret != clientSecret {
			handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
				Error:            "invalid_client",
				ErrorDescription: "Invalid client credentials",
			})
			return
		}
	}

	if token == "" {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Token parameter is required",
		})
		return
	}

	// RFC 7009: respond 200 whether or not the token was known. Only delete
	// tokens owned by the authenticated client.
	switch tokenTypeHint {
	case "refresh_token":
		p.revokeRefresh(token, clientID)
	case "access_token":
		p.revokeAccess(token, clientID)
	default:
		if !p.revokeAccess(token, clientID) {
			p.revokeRefresh(token, clientID)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (p *Handler) revokeAccess(token, clientID string) bool {
	data, err := p.db.GetAccessToken(token)
	if err != nil || data.ClientID != clientID {
		return false
	}
	if err := p.db.DeleteAccessToken(token); err != nil {
		log.Printf("Failed to delete access token: %v", err)
	}
	return true
}

func (p *Handler) revokeRefresh(token, clientID string) bool {
	data, err := p.db.GetRefreshToken(token)
	if err != nil || data.ClientID != clientID {
		return false
	}
	if err := p.db.DeleteRefreshToken(token); err != nil {
		log.Printf("Failed to delete refresh token: %v", err)
	}
	return true
}
