// Package authorize implements the consent leg of the authorization
// endpoint: GET renders the consent form, POST packs the approved grant into
// a signed state payload and redirects to the upstream provider.
package authorize

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/access"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/grant"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/handlerutils"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/oauth/state"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/toolsets"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/types"
)

type AuthorizationStore interface {
	GetClient(clientID string) (*types.ClientInfo, error)
}

type UpstreamProvider interface {
	AuthorizationURL(ctx context.Context, redirectURI, scope, state string) (string, error)
}

type Handler struct {
	db       AuthorizationStore
	provider UpstreamProvider
	codec    *state.Codec
}

func NewHandler(db AuthorizationStore, provider UpstreamProvider, codec *state.Codec) http.Handler {
	return &Handler{
		db:       db,
		provider: provider,
		codec:    codec,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var params url.Values
	if r.Method == "GET" {
		params = r.URL.Query()
	} else {
		if err := r.ParseForm(); err != nil {
			handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
				Error:            "invalid_request",
				ErrorDescription: "Failed to parse form data",
			})
			return
		}
		params = r.Form
	}

	authReq := types.AuthRequest{
		ResponseType:        params.Get("response_type"),
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	}

	if authReq.ResponseType == "" || authReq.ClientID == "" || authReq.RedirectURI == "" {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Missing required parameters",
		})
		return
	}

	if authReq.ResponseType != "code" {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "unsupported_response_type",
			ErrorDescription: "Only the 'code' response type is supported",
		})
		return
	}

	clientInfo, err := p.db.GetClient(authReq.ClientID)
	if err != nil || clientInfo == nil {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_client",
			ErrorDescription: "Client not found",
		})
		return
	}

	if !slices.Contains(clientInfo.RedirectUris, authReq.RedirectURI) {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Invalid redirect URI",
		})
		return
	}

	if r.Method == "GET" {
		p.renderConsent(w, r, authReq, clientInfo)
		return
	}

	p.redirectUpstream(w, r, params, authReq)
}

// overrides captures the header-sourced grant fields. A locked field was set
// by a header and is rendered read-only on the consent form.
type overrides struct {
	Grant    grant.Grant
	ReadOnly bool

	PresetLocked    bool
	ScopesLocked    bool
	ProjectIDLocked bool
	ReadOnlyLocked  bool
}

func headerOverrides(r *http.Request) overrides {
	o := overrides{Grant: grant.Default()}

	if v := r.Header.Get(access.HeaderScopes); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" && toolsets.ValidCategory(s) {
				o.Grant.Scopes = append(o.Grant.Scopes, s)
			}
		}
		o.Grant.Preset = grant.PresetCustom
		o.ScopesLocked = true
	}
	if v := r.Header.Get(access.HeaderPreset); v != "" {
		if preset, err := grant.ParsePreset(v); err == nil {
			o.Grant.Preset = preset
			o.PresetLocked = true
		}
	}
	if v := r.Header.Get(access.HeaderProjectID); v != "" {
		o.Grant.ProjectID = v
		o.ProjectIDLocked = true
	}
	readOnly := r.Header.Get(access.HeaderReadOnly)
	if readOnly == "" {
		readOnly = r.Header.Get(access.HeaderReadOnlyLegacy)
	}
	if readOnly != "" {
		o.ReadOnly = strings.EqualFold(readOnly, "true") || readOnly == "1"
		o.ReadOnlyLocked = true
	}
	return o
}

type consentPage struct {
	Request    types.AuthRequest
	ClientName string
	Presets    []grant.Preset
	Categories []toolsets.Category
	Overrides  overrides
}

func (p *Handler) renderConsent(w http.ResponseWriter, r *http.Request, authReq types.AuthRequest, clientInfo *types.ClientInfo) {
	page := consentPage{
		Request:    authReq,
		ClientName: clientInfo.ClientName,
		Presets:    grant.Presets(),
		Categories: toolsets.Categories(),
		Overrides:  headerOverrides(r),
	}
	if page.ClientName == "" {
		page.ClientName = authReq.ClientID
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consentTemplate.Execute(w, page); err != nil {
		log.Printf("Failed to render consent form: %v", err)
	}
}

func (p *Handler) redirectUpstream(w http.ResponseWriter, r *http.Request, params url.Values, authReq types.AuthRequest) {
	o := headerOverrides(r)

	g := o.Grant
	if !o.PresetLocked {
		if preset, err := grant.ParsePreset(params.Get("preset")); err == nil {
			g.Preset = preset
		}
	}
	if !o.ScopesLocked && g.Preset == grant.PresetCustom {
		g.Scopes = nil
		for _, s := range params["scopes"] {
			if toolsets.ValidCategory(s) {
				g.Scopes = append(g.Scopes, s)
			}
		}
	}
	if !o.ProjectIDLocked {
		g.ProjectID = strings.TrimSpace(params.Get("project_id"))
	}
	g.ProtectProduction = params.Get("protect_production") == "on"

	// The read-only choice becomes the requested OAuth scope on the issued
	// token: read-only drops the write scope.
	readOnly := o.ReadOnly
	if !o.ReadOnlyLocked {
		readOnly = params.Get("read_only") == "on"
	}
	if readOnly {
		authReq.Scope = "read"
	} else {
		authReq.Scope = "read " + grant.ScopeWrite
	}

	encodedState, err := p.codec.Encode(authReq, g)
	if err != nil {
		log.Printf("Failed to encode state payload: %v", err)
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            "server_error",
			ErrorDescription: "Failed to encode state",
		})
		return
	}

	redirectURI := fmt.Sprintf("%s/callback", handlerutils.GetBaseURL(r))
	authURL, err := p.provider.AuthorizationURL(r.Context(), redirectURI, "", encodedState)
	if err != nil {
		log.Printf("Upstream discovery failed: %v", err)
		handlerutils.JSON(w, http.StatusBadGateway, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Upstream provider unavailable",
		})
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize {{.ClientName}}</title></head>
<body>
<h1>Authorize {{.ClientName}}</h1>
<p>{{.ClientName}} is requesting access to your Neon account.</p>
<form method="POST" action="/authorize">
<input type="hidden" name="response_type" value="{{.Request.ResponseType}}">
<input type="hidden" name="client_id" value="{{.Request.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.Request.RedirectURI}}">
<input type="hidden" name="state" value="{{.Request.State}}">
<input type="hidden" name="code_challenge" value="{{.Request.CodeChallenge}}">
<input type="hidden" name="code_challenge_method" value="{{.Request.CodeChallengeMethod}}">
<fieldset>
<legend>Access preset</legend>
<select name="preset" {{if .Overrides.PresetLocked}}disabled{{end}}>
{{$selected := .Overrides.Grant.Preset}}
{{range .Presets}}<option value="{{.}}" {{if eq . $selected}}selected{{end}}>{{.}}</option>
{{end}}</select>
{{if .Overrides.PresetLocked}}<input type="hidden" name="preset" value="{{.Overrides.Grant.Preset}}">{{end}}
</fieldset>
<fieldset>
<legend>Scope categories (custom preset only)</legend>
{{$o := .Overrides}}
{{range .Categories}}<label><input type="checkbox" name="scopes" value="{{.}}" {{if $o.ScopesLocked}}disabled{{end}}> {{.}}</label><br>
{{end}}</fieldset>
<fieldset>
<legend>Restrictions</legend>
<label>Project ID <input type="text" name="project_id" value="{{.Overrides.Grant.ProjectID}}" {{if .Overrides.ProjectIDLocked}}readonly{{end}}></label><br>
<label><input type="checkbox" name="read_only" {{if .Overrides.ReadOnly}}checked{{end}} {{if .Overrides.ReadOnlyLocked}}disabled{{end}}> Read-only access</label><br>
<label><input type="checkbox" name="protect_production"> Protect production branches</label>
</fieldset>
<button type="submit">Authorize</button>
</form>
</body>
</html>
`))
