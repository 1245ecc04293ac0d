// Package access computes which MCP tools a caller may see. It layers
// request-time header overrides on top of the grant stored with the
// credential, resolves the effective read-only flag, and filters the tool
// catalog.
package access

import (
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/grant"
	"github.com/neondatabase/mcp-oauth-gateway/pkg/toolsets"
)

// Headers recognized as request-time grant overrides.
const (
	HeaderPreset         = "X-Neon-Preset"
	HeaderScopes         = "X-Neon-Scopes"
	HeaderProjectID      = "X-Neon-Project-Id"
	HeaderReadOnly       = "X-Neon-Read-Only"
	HeaderReadOnlyLegacy = "x-read-only"
)

// OverrideHeaders lists every header the engine consumes, for CORS
// allow-listing.
func OverrideHeaders() []string {
	return []string{HeaderPreset, HeaderScopes, HeaderProjectID, HeaderReadOnly, HeaderReadOnlyLegacy}
}

// Context is the input to a tool-list resolution: the grant and OAuth scopes
// carried by the credential (zero values when the caller presented a raw API
// key) plus the request headers.
type Context struct {
	Grant       grant.Grant
	OAuthScopes []string
	Header      http.Header
}

// GrantDescriptor reports the resolved grant back to the caller.
type GrantDescriptor struct {
	Preset    string  `json:"preset"`
	ProjectID *string `json:"project_id"`
}

// Result is the outcome of a tool-list resolution.
type Result struct {
	Tools    []mcp.Tool      `json:"tools"`
	ReadOnly bool            `json:"readOnly"`
	Grant    GrantDescriptor `json:"grant"`
	Warnings []string        `json:"warnings,omitempty"`
}

// ListTools resolves the visible tool set for the given context. Header
// overrides take precedence over the stored grant; the stored grant over the
// defaults.
func ListTools(ctx Context) Result {
	g := ctx.Grant
	if g.Preset == "" {
		g = grant.Default()
	}

	if v := ctx.Header.Get(HeaderScopes); v != "" {
		g.Scopes = parseScopes(v)
		g.Preset = grant.PresetCustom
	}
	if v := ctx.Header.Get(HeaderPreset); v != "" {
		if preset, err := grant.ParsePreset(v); err == nil {
			g.Preset = preset
		}
	}
	if v := ctx.Header.Get(HeaderProjectID); v != "" {
		g.ProjectID = v
	}

	canonical := parseBoolHeader(ctx.Header.Get(HeaderReadOnly))
	legacy := parseBoolHeader(ctx.Header.Get(HeaderReadOnlyLegacy))
	readOnly := grant.ResolveReadOnly(canonical, legacy, g, ctx.OAuthScopes)

	var warnings []string
	if g.Preset == grant.PresetProductionUse && explicitlyFalse(canonical, legacy) {
		warnings = append(warnings, "the production_use preset limits tools to the read-only safe set; the read-only=false override does not widen it")
	}

	tools := g.Tools()
	if readOnly {
		tools = readOnlySafe(tools)
	}

	descriptor := GrantDescriptor{Preset: string(g.Preset)}
	if g.ProjectID != "" {
		projectID := g.ProjectID
		descriptor.ProjectID = &projectID
	}

	return Result{
		Tools:    toolsets.Definitions(tools),
		ReadOnly: readOnly,
		Grant:    descriptor,
		Warnings: warnings,
	}
}

func readOnlySafe(tools []toolsets.Tool) []toolsets.Tool {
	var out []toolsets.Tool
	for _, t := range tools {
		if t.ReadOnlySafe {
			out = append(out, t)
		}
	}
	return out
}

func explicitlyFalse(canonical, legacy *bool) bool {
	if canonical != nil {
		return !*canonical
	}
	if legacy != nil {
		return !*legacy
	}
	return false
}

func parseScopes(value string) []string {
	var scopes []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" && toolsets.ValidCategory(s) {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// parseBoolHeader returns nil for absent or unparseable values so the next
// source in the precedence chain applies.
func parseBoolHeader(value string) *bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		v := true
		return &v
	case "false", "0", "no":
		v := false
		return &v
	default:
		return nil
	}
}
