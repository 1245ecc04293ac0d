// Package callback handles the redirect back from the upstream provider: it
// verifies the signed state, exchanges the upstream code, resolves the Neon
// account, and mints the downstream authorization code.
package callback

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/encryption"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/handlerutils"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/oauth/state"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

// CodeTTL is the downstream authorization code lifetime.
const CodeTTL = 10 * time.Minute

type Store interface {
	GetClient(clientID string) (*types.ClientInfo, error)
	StoreAuthCode(code *types.AuthCodeData) error
}

type UpstreamProvider interface {
	Exchange(ctx context.Context, requestURL *url.URL, expectedState, redirectURI string) (*oauth2.Token, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, bearer, authMethod string) (*types.Account, error)
}

type Handler struct {
	db            Store
	provider      UpstreamProvider
	identity      IdentityResolver
	codec         *state.Codec
	encryptionKey []byte
}

func NewHandler(db Store, provider UpstreamProvider, identity IdentityResolver, codec *state.Codec, encryptionKey []byte) http.Handler {
	return &Handler{
		db:            db,
		provider:      provider,
		identity:      identity,
		codec:         codec,
		encryptionKey: encryptionKey,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            errCode,
			ErrorDescription: query.Get("error_description"),
		})
		return
	}

	if query.Get("code") == "" || query.Get("state") == "" {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Missing code or state parameter",
		})
		return
	}

	claims, err := p.codec.Decode(query.Get("state"))
	if err != nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Invalid or expired state parameter",
		})
		return
	}
	authReq := claims.Request

	clientInfo, err := p.db.GetClient(authReq.ClientID)
	if err != nil || clientInfo == nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Client not found",
		})
		return
	}

	redirectURI := handlerutils.GetBaseURL(r) + "/callback"
	tokenInfo, err := p.provider.Exchange(r.Context(), r.URL, query.Get("state"), redirectURI)
	if err != nil {
		log.Printf("Failed to exchange upstream code: %v", err)
		handlerutils.JSON(w, http.StatusBadGateway, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Upstream token exchange failed",
		})
		return
	}

	authMethod, _ := tokenInfo.Extra("auth_method").(string)
	account, err := p.identity.Resolve(r.Context(), tokenInfo.AccessToken, authMethod)
	if err != nil {
		log.Printf("Failed to resolve account: %v", err)
		handlerutils.JSON(w, http.StatusBadGateway, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Failed to resolve account",
		})
		return
	}

	props, err := p.encryptUpstreamTokens(tokenInfo)
	if err != nil {
		log.Printf("Failed to encrypt upstream tokens: %v", err)
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            "server_error",
			ErrorDescription: "Failed to protect upstream credentials",
		})
		return
	}

	grantID := uuid.NewString()
	authCode := grantID + ":" + encryption.GenerateRandomString(32)

	record := &types.AuthCodeData{
		Code:                authCode,
		ClientID:            authReq.ClientID,
		RedirectURI:         authReq.RedirectURI,
		Scope:               authReq.Scope,
		Grant:               claims.Grant.ToMap(),
		Account:             *account,
		Props:               props,
		CodeChallenge:       authReq.CodeChallenge,
		CodeChallengeMethod: authReq.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(CodeTTL),
	}
	if err := p.db.StoreAuthCode(record); err != nil {
		log.Printf("Failed to store authorization code: %v", err)
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            "server_error",
			ErrorDescription: "Failed to store authorization code",
		})
		return
	}

	parsedURL, err := url.Parse(authReq.RedirectURI)
	if err != nil {
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            "server_error",
			ErrorDescription: "Invalid redirect URL",
		})
		return
	}

	redirectQuery := parsedURL.Query()
	redirectQuery.Set("code", authCode)
	if authReq.State != "" {
		redirectQuery.Set("state", authReq.State)
	}
	parsedURL.RawQuery = redirectQuery.Encode()

	http.Redirect(w, r, parsedURL.String(), http.StatusFound)
}

// encryptUpstreamTokens seals the upstream token set so it is never stored
// in the clear.
func (p *Handler) encryptUpstreamTokens(token *oauth2.Token) (map[string]any, error) {
	sensitive := map[string]any{
		"access_token":  token.AccessToken,
		"refresh_token": token.RefreshToken,
		"expires_at":    token.Expiry.Unix(),
	}
	plaintext, err := json.Marshal(sensitive)
	if err != nil {
		return nil, err
	}

	encrypted, err := encryption.Encrypt(p.encryptionKey, plaintext)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"encrypted_data": encrypted.Data,
		"iv":             encrypted.IV,
		"algorithm":      encrypted.Algorithm,
		"encrypted":      true,
	}, nil
}
