package register

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

type fakeClientStore struct {
	clients map[string]*types.ClientInfo
}

func (f *fakeClientStore) StoreClient(client *types.ClientInfo) error {
	if f.clients == nil {
		f.clients = map[string]*types.ClientInfo{}
	}
	f.clients[client.ClientID] = client
	return nil
}

func postRegistration(t *testing.T, handler http.Handler, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRegisterConfidentialClient(t *testing.T) {
	store := &fakeClientStore{}
	w := postRegistration(t, NewHandler(store), map[string]any{
		"redirect_uris": []string{"http://localhost:8080/callback"},
		"client_name":   "Test MCP Client",
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.NotEmpty(t, response["client_id"])
	assert.NotEmpty(t, response["client_secret"])
	assert.Equal(t, "client_secret_basic", response["token_endpoint_auth_method"])
	assert.Equal(t, []any{"authorization_code", "refresh_token"}, response["grant_types"])
	assert.Equal(t, []any{"code"}, response["response_types"])

	stored := store.clients[response["client_id"].(string)]
	require.NotNil(t, stored)
	assert.Equal(t, response["client_secret"], stored.ClientSecret)
}

func TestRegisterPublicClient(t *testing.T) {
	store := &fakeClientStore{}
	w := postRegistration(t, NewHandler(store), map[string]any{
		"redirect_uris":              []string{"http://127.0.0.1:33418/callback"},
		"token_endpoint_auth_method": "none",
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.NotEmpty(t, response["client_id"])
	_, hasSecret := response["client_secret"]
	assert.False(t, hasSecret)
}

func TestRegisterValidation(t *testing.T) {
	handler := NewHandler(&fakeClientStore{})

	t.Run("MissingRedirectURIs", func(t *testing.T) {
		w := postRegistration(t, handler, map[string]any{"client_name": "no redirects"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var oauthErr types.OAuthError
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &oauthErr))
		assert.Equal(t, "invalid_client_metadata", oauthErr.Error)
	})

	t.Run("RelativeRedirectURI", func(t *testing.T) {
		w := postRegistration(t, handler, map[string]any{
			"redirect_uris": []string{"/callback"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("UnsupportedGrantType", func(t *testing.T) {
		w := postRegistration(t, handler, map[string]any{
			"redirect_uris": []string{"http://localhost:8080/callback"},
			"grant_types":   []string{"client_credentials"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("UnsupportedResponseType", func(t *testing.T) {
		w := postRegistration(t, handler, map[string]any{
			"redirect_uris":  []string{"http://localhost:8080/callback"},
			"response_types": []string{"token"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/register", bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/register", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}
