package grant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neondatabase/mcp-oauth-gateway/pkg/toolsets"
)

func TestPresetTools(t *testing.T) {
	t.Run("FullAccess", func(t *testing.T) {
		tools := Grant{Preset: PresetFullAccess}.Tools()
		assert.Len(t, tools, 29)
	})

	t.Run("ProductionUse", func(t *testing.T) {
		tools := Grant{Preset: PresetProductionUse}.Tools()
		assert.Len(t, tools, 18)
		for _, tool := range tools {
			assert.True(t, tool.ReadOnlySafe, "tool %s is not read-only safe", tool.Name())
		}
	})

	t.Run("LocalDevelopment", func(t *testing.T) {
		tools := Grant{Preset: PresetLocalDevelopment}.Tools()
		assert.Len(t, tools, 27)
		assert.NotContains(t, toolsets.Names(tools), "delete_project")
		assert.NotContains(t, toolsets.Names(tools), "delete_database")
	})

	t.Run("CustomQuerying", func(t *testing.T) {
		tools := Grant{Preset: PresetCustom, Scopes: []string{"querying"}}.Tools()
		assert.Len(t, tools, 6)
		for _, tool := range tools {
			assert.Equal(t, toolsets.CategoryQuerying, tool.Category)
		}
	})

	t.Run("CustomEmptyScopes", func(t *testing.T) {
		assert.Empty(t, Grant{Preset: PresetCustom}.Tools())
	})
}

func TestProjectRestriction(t *testing.T) {
	tools := Grant{Preset: PresetFullAccess, ProjectID: "damp-dew-12345678"}.Tools()
	assert.Len(t, tools, 24)

	names := toolsets.Names(tools)
	for _, hidden := range []string{"list_projects", "list_shared_projects", "list_organizations", "create_project", "delete_project"} {
		assert.NotContains(t, names, hidden)
	}
}

func TestReadOnlyForced(t *testing.T) {
	assert.True(t, Grant{Preset: PresetProductionUse}.ReadOnlyForced())
	assert.False(t, Grant{Preset: PresetFullAccess}.ReadOnlyForced())
	assert.False(t, Grant{Preset: PresetLocalDevelopment}.ReadOnlyForced())

	// Custom grants stay read-only until the SQL execution category is chosen.
	assert.True(t, Grant{Preset: PresetCustom, Scopes: []string{"branches"}}.ReadOnlyForced())
	assert.False(t, Grant{Preset: PresetCustom, Scopes: []string{"branches", "querying"}}.ReadOnlyForced())
}

func TestResolveReadOnly(t *testing.T) {
	boolPtr := func(v bool) *bool { return &v }
	full := Grant{Preset: PresetFullAccess}
	production := Grant{Preset: PresetProductionUse}

	t.Run("CanonicalHeaderWins", func(t *testing.T) {
		assert.False(t, ResolveReadOnly(boolPtr(false), boolPtr(true), full, nil))
		assert.True(t, ResolveReadOnly(boolPtr(true), boolPtr(false), full, []string{"read", "write"}))
	})

	t.Run("LegacyHeaderNext", func(t *testing.T) {
		assert.True(t, ResolveReadOnly(nil, boolPtr(true), full, []string{"read", "write"}))
	})

	t.Run("GrantForces", func(t *testing.T) {
		assert.True(t, ResolveReadOnly(nil, nil, production, []string{"read", "write"}))
	})

	t.Run("MissingWriteScope", func(t *testing.T) {
		assert.True(t, ResolveReadOnly(nil, nil, full, []string{"read"}))
		assert.False(t, ResolveReadOnly(nil, nil, full, []string{"read", "write"}))
	})

	t.Run("NoScopeContextDefaultsWritable", func(t *testing.T) {
		assert.False(t, ResolveReadOnly(nil, nil, full, nil))
	})
}

func TestMapRoundTrip(t *testing.T) {
	g := Grant{
		Preset:            PresetCustom,
		Scopes:            []string{"projects", "querying"},
		ProjectID:         "damp-dew-12345678",
		ProtectProduction: true,
	}

	restored := FromMap(g.ToMap())
	assert.Equal(t, g, restored)
}

func TestFromMapFallsBackToDefault(t *testing.T) {
	assert.Equal(t, Default(), FromMap(nil))
	assert.Equal(t, Default(), FromMap(map[string]any{"preset": "root"}))
	assert.Equal(t, Default(), FromMap(map[string]any{"preset": 42}))
}

func TestParsePreset(t *testing.T) {
	for _, p := range Presets() {
		parsed, err := ParsePreset(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}

	_, err := ParsePreset("admin")
	assert.Error(t, err)
}
