// Package grant models what a credential is allowed to do: a preset, an
// optional set of scope categories, and an optional project restriction. It
// resolves a grant to the concrete tool set and read-only policy.
package grant

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/toolsets"
)

// Preset names a fixed mapping from intent to tool/read-only policy.
type Preset string

const (
	PresetFullAccess       Preset = "full_access"
	PresetProductionUse    Preset = "production_use"
	PresetLocalDevelopment Preset = "local_development"
	PresetCustom           Preset = "custom"
)

// Presets lists the supported presets.
func Presets() []Preset {
	return []Preset{PresetFullAccess, PresetProductionUse, PresetLocalDevelopment, PresetCustom}
}

// ParsePreset validates a preset name.
func ParsePreset(s string) (Preset, error) {
	switch Preset(s) {
	case PresetFullAccess, PresetProductionUse, PresetLocalDevelopment, PresetCustom:
		return Preset(s), nil
	}
	return "", fmt.Errorf("unknown preset %q", s)
}

// ScopeWrite is the OAuth scope that enables write access on issued tokens.
const ScopeWrite = "write"

// Grant describes the access a credential carries. Scopes holds category
// names and is only meaningful when Preset is custom.
type Grant struct {
	Preset            Preset   `json:"preset"`
	Scopes            []string `json:"scopes,omitempty"`
	ProjectID         string   `json:"project_id,omitempty"`
	ProtectProduction bool     `json:"protect_production,omitempty"`
}

// Default is the grant applied when nothing else is specified.
func Default() Grant {
	return Grant{Preset: PresetFullAccess}
}

// ToMap converts the grant for storage in a JSON record.
func (g Grant) ToMap() map[string]any {
	data, _ := json.Marshal(g)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

// FromMap rebuilds a grant from a stored JSON record. Unknown or missing
// presets fall back to the default grant.
func FromMap(m map[string]any) Grant {
	data, err := json.Marshal(m)
	if err != nil {
		return Default()
	}
	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return Default()
	}
	if _, err := ParsePreset(string(g.Preset)); err != nil {
		return Default()
	}
	return g
}

// Tools resolves the grant to its visible tool set. A project restriction
// hides project-agnostic tools regardless of preset.
func (g Grant) Tools() []toolsets.Tool {
	var tools []toolsets.Tool
	for _, t := range toolsets.Catalog() {
		if !g.allows(t) {
			continue
		}
		if g.ProjectID != "" && t.ProjectAgnostic {
			continue
		}
		tools = append(tools, t)
	}
	return tools
}

func (g Grant) allows(t toolsets.Tool) bool {
	switch g.Preset {
	case PresetProductionUse:
		return t.ReadOnlySafe
	case PresetLocalDevelopment:
		return !t.Destructive
	case PresetCustom:
		return slices.Contains(g.Scopes, string(t.Category))
	default:
		// full_access, and any grant that predates presets
		return true
	}
}

// ReadOnlyForced reports whether the grant itself pins the credential to
// read-only: production_use always does, and a custom grant does unless the
// sensitive SQL execution category was selected.
func (g Grant) ReadOnlyForced() bool {
	switch g.Preset {
	case PresetProductionUse:
		return true
	case PresetCustom:
		return !slices.Contains(g.Scopes, string(toolsets.SensitiveCategory))
	default:
		return false
	}
}

// ResolveReadOnly computes the effective read-only flag. Precedence, highest
// first: the canonical header override, the legacy header override, a grant
// that forces read-only, absence of the write OAuth scope, then false. An
// empty oauthScopes slice means no token scope context exists and step four
// is skipped.
func ResolveReadOnly(canonical, legacy *bool, g Grant, oauthScopes []string) bool {
	if canonical != nil {
		return *canonical
	}
	if legacy != nil {
		return *legacy
	}
	if g.ReadOnlyForced() {
		return true
	}
	if len(oauthScopes) > 0 && !slices.Contains(oauthScopes, ScopeWrite) {
		return true
	}
	return false
}
