package toolsets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogSize(t *testing.T) {
	assert.Len(t, Catalog(), 29)
}

func TestCatalogCategoryCounts(t *testing.T) {
	counts := map[Category]int{}
	for _, tool := range Catalog() {
		counts[tool.Category]++
	}

	assert.Equal(t, map[Category]int{
		CategoryProjects:   7,
		CategoryBranches:   6,
		CategoryComputes:   2,
		CategoryQuerying:   6,
		CategoryMigrations: 2,
		CategoryStorage:    5,
		CategoryAuth:       1,
	}, counts)
}

func TestCatalogMetadataCounts(t *testing.T) {
	var readOnly, agnostic, destructive int
	for _, tool := range Catalog() {
		if tool.ReadOnlySafe {
			readOnly++
		}
		if tool.ProjectAgnostic {
			agnostic++
		}
		if tool.Destructive {
			destructive++
		}
	}

	assert.Equal(t, 18, readOnly)
	assert.Equal(t, 5, agnostic)
	assert.Equal(t, 2, destructive)
}

func TestCatalogNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, name := range Names(Catalog()) {
		assert.False(t, seen[name], "duplicate tool name %s", name)
		seen[name] = true
	}
}

func TestValidCategory(t *testing.T) {
	for _, c := range Categories() {
		assert.True(t, ValidCategory(string(c)))
	}
	assert.False(t, ValidCategory("networking"))
	assert.False(t, ValidCategory(""))
}
