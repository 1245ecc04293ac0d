package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	metadata := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"issuer": "` + server.URL + `",
			"authorization_endpoint": "` + server.URL + `/oauth2/authorize",
			"token_endpoint": "` + server.URL + `/oauth2/token"
		}`))
	}
	// Discovery probes append the authorize path to the well-known prefix.
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", metadata)
	mux.HandleFunc("GET /.well-known/oauth-authorization-server/", metadata)
	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.FormValue("code") != "valid-code" && r.FormValue("grant_type") != "refresh_token" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "upstream-access",
			"refresh_token": "upstream-refresh",
			"token_type": "Bearer",
			"expires_in": 3600,
			"auth_method": "oauth"
		}`))
	})
	return server
}

func TestDiscover(t *testing.T) {
	server := newProviderServer(t)
	provider := New(server.URL+"/oauth2/authorize", "client-id", "client-secret")

	metadata, err := provider.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/oauth2/authorize", metadata.AuthorizationEndpoint)
	assert.Equal(t, server.URL+"/oauth2/token", metadata.TokenEndpoint)
}

func TestDiscoverFallsBackToConventionalPaths(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)
	provider := New(server.URL+"/oauth2/authorize", "client-id", "client-secret")

	metadata, err := provider.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/oauth2/authorize", metadata.AuthorizationEndpoint)
	assert.Equal(t, server.URL+"/oauth2/token", metadata.TokenEndpoint)
}

func TestAuthorizationURL(t *testing.T) {
	server := newProviderServer(t)
	provider := New(server.URL+"/oauth2/authorize", "client-id", "client-secret")

	authURL, err := provider.AuthorizationURL(context.Background(), "http://localhost:8080/callback", "read write", "signed-state")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "http://localhost:8080/callback", query.Get("redirect_uri"))
	assert.Equal(t, "read write", query.Get("scope"))
	assert.Equal(t, "signed-state", query.Get("state"))
}

func TestExchange(t *testing.T) {
	server := newProviderServer(t)
	provider := New(server.URL+"/oauth2/authorize", "client-id", "client-secret")

	t.Run("Success", func(t *testing.T) {
		callbackURL, err := url.Parse("http://localhost:8080/callback?code=valid-code&state=expected")
		require.NoError(t, err)

		token, err := provider.Exchange(context.Background(), callbackURL, "expected", "http://localhost:8080/callback")
		require.NoError(t, err)
		assert.Equal(t, "upstream-access", token.AccessToken)
		assert.Equal(t, "upstream-refresh", token.RefreshToken)
		assert.Equal(t, "oauth", token.Extra("auth_method"))
	})

	t.Run("StateMismatch", func(t *testing.T) {
		callbackURL, err := url.Parse("http://localhost:8080/callback?code=valid-code&state=forged")
		require.NoError(t, err)

		_, err = provider.Exchange(context.Background(), callbackURL, "expected", "http://localhost:8080/callback")
		assert.Error(t, err)
	})

	t.Run("MissingCode", func(t *testing.T) {
		callbackURL, err := url.Parse("http://localhost:8080/callback?state=expected")
		require.NoError(t, err)

		_, err = provider.Exchange(context.Background(), callbackURL, "expected", "http://localhost:8080/callback")
		assert.Error(t, err)
	})
}

func TestRefresh(t *testing.T) {
	server := newProviderServer(t)
	provider := New(server.URL+"/oauth2/authorize", "client-id", "client-secret")

	token, err := provider.Refresh(context.Background(), "upstream-refresh")
	require.NoError(t, err)
	assert.Equal(t, "upstream-access", token.AccessToken)
}
