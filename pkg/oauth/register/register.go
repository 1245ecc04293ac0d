// Package register implements dynamic client registration (RFC 7591).
package register

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/encryption"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/handlerutils"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

type ClientStore interface {
	StoreClient(client *types.ClientInfo) error
}

type Handler struct {
	db ClientStore
}

func NewHandler(db ClientStore) http.Handler {
	return &Handler{
		db: db,
	}
}

var (
	allowedGrantTypes    = []string{"authorization_code", "refresh_token"}
	allowedResponseTypes = []string{"code"}
)

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		handlerutils.JSON(w, http.StatusMethodNotAllowed, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Method not allowed",
		})
		return
	}

	if r.ContentLength > 1024*1024 {
		handlerutils.JSON(w, http.StatusRequestEntityTooLarge, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Request payload too large, must be under 1 MiB",
		})
		return
	}

	var clientMetadata map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024*1024)).Decode(&clientMetadata); err != nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Invalid JSON payload",
		})
		return
	}

	clientInfo, err := validateClientMetadata(clientMetadata)
	if err != nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_client_metadata",
			ErrorDescription: err.Error(),
		})
		return
	}

	clientInfo.ClientID = encryption.GenerateRandomString(16)
	clientInfo.RegistrationDate = time.Now().Unix()

	// The secret is returned only in this response; confidential clients
	// must keep it, there is no retrieval endpoint.
	if clientInfo.TokenEndpointAuthMethod != "none" {
		clientInfo.ClientSecret = encryption.GenerateRandomString(32)
	}

	if err := p.db.StoreClient(clientInfo); err != nil {
		log.Printf("Failed to store client: %v", err)
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            "server_error",
			ErrorDescription: "Failed to register client",
		})
		return
	}

	response := map[string]interface{}{
		"client_id":                  clientInfo.ClientID,
		"redirect_uris":              clientInfo.RedirectUris,
		"client_name":                clientInfo.ClientName,
		"client_uri":                 clientInfo.ClientURI,
		"logo_uri":                   clientInfo.LogoURI,
		"contacts":                   clientInfo.Contacts,
		"grant_types":                clientInfo.GrantTypes,
		"response_types":             clientInfo.ResponseTypes,
		"token_endpoint_auth_method": clientInfo.TokenEndpointAuthMethod,
		"client_id_issued_at":        clientInfo.RegistrationDate,
	}
	if clientInfo.ClientSecret != "" {
		response["client_secret"] = clientInfo.ClientSecret
	}

	handlerutils.JSON(w, http.StatusCreated, response)
}

func validateClientMetadata(metadata map[string]interface{}) (*types.ClientInfo, error) {
	validateStringField := func(field interface{}, name string) (string, error) {
		if field == nil {
			return "", nil
		}
		if str, ok := field.(string); ok {
			return str, nil
		}
		return "", fmt.Errorf("field %s must be a string", name)
	}

	validateStringArray := func(arr interface{}, name string) ([]string, error) {
		if arr == nil {
			return nil, nil
		}
		if array, ok := arr.([]interface{}); ok {
			result := make([]string, len(array))
			for i, item := range array {
				if str, ok := item.(string); ok {
					result[i] = str
				} else {
					return nil, fmt.Errorf("all elements in %s must be strings", name)
				}
			}
			return result, nil
		}
		return nil, fmt.Errorf("field %s must be an array", name)
	}

	authMethod, err := validateStringField(metadata["token_endpoint_auth_method"], "token_endpoint_auth_method")
	if err != nil {
		return nil, err
	}
	if authMethod == "" {
		authMethod = "client_secret_basic"
	}

	redirectUris, err := validateStringArray(metadata["redirect_uris"], "redirect_uris")
	if err != nil {
		return nil, err
	}
	if len(redirectUris) == 0 {
		return nil, fmt.Errorf("at least one redirect URI is required")
	}
	for _, uri := range redirectUris {
		parsed, err := url.Parse(uri)
		if err != nil || !parsed.IsAbs() {
			return nil, fmt.Errorf("redirect URI %q is not a valid absolute URI", uri)
		}
	}

	clientName, err := validateStringField(metadata["client_name"], "client_name")
	if err != nil {
		return nil, err
	}

	clientURI, err := validateStringField(metadata["client_uri"], "client_uri")
	if err != nil {
		return nil, err
	}

	logoURI, err := validateStringField(metadata["logo_uri"], "logo_uri")
	if err != nil {
		return nil, err
	}

	contacts, err := validateStringArray(metadata["contacts"], "contacts")
	if err != nil {
		return nil, err
	}

	grantTypes, err := validateStringArray(metadata["grant_types"], "grant_types")
	if err != nil {
		return nil, err
	}
	if len(grantTypes) == 0 {
		grantTypes = slices.Clone(allowedGrantTypes)
	}
	for _, gt := range grantTypes {
		if !slices.Contains(allowedGrantTypes, gt) {
			return nil, fmt.Errorf("unsupported grant type %q", gt)
		}
	}

	responseTypes, err := validateStringArray(metadata["response_types"], "response_types")
	if err != nil {
		return nil, err
	}
	if len(responseTypes) == 0 {
		responseTypes = slices.Clone(allowedResponseTypes)
	}
	for _, rt := range responseTypes {
		if !slices.Contains(allowedResponseTypes, rt) {
			return nil, fmt.Errorf("unsupported response type %q", rt)
		}
	}

	return &types.ClientInfo{
		RedirectUris:            redirectUris,
		ClientName:              clientName,
		ClientURI:               clientURI,
		LogoURI:                 logoURI,
		Contacts:                contacts,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
	}, nil
}
