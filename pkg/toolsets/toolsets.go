// Package toolsets defines the catalog of Neon MCP tools together with the
// access metadata the grant resolver filters on.
package toolsets

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Category groups tools for custom-scope grants.
type Category string

const (
	CategoryProjects   Category = "projects"
	CategoryBranches   Category = "branches"
	CategoryComputes   Category = "computes"
	CategoryQuerying   Category = "querying"
	CategoryMigrations Category = "migrations"
	CategoryStorage    Category = "storage"
	CategoryAuth       Category = "auth"
)

// Categories lists the seven fixed scope categories in display order.
func Categories() []Category {
	return []Category{
		CategoryProjects,
		CategoryBranches,
		CategoryComputes,
		CategoryQuerying,
		CategoryMigrations,
		CategoryStorage,
		CategoryAuth,
	}
}

// ValidCategory reports whether s names a known category.
func ValidCategory(s string) bool {
	for _, c := range Categories() {
		if string(c) == s {
			return true
		}
	}
	return false
}

// SensitiveCategory is the single category whose selection enables write
// access on custom grants.
const SensitiveCategory = CategoryQuerying

// Tool is a catalog entry: the MCP tool definition plus access metadata.
type Tool struct {
	Definition mcp.Tool
	Category   Category

	// ReadOnlySafe marks tools that cannot mutate any Neon resource.
	ReadOnlySafe bool
	// ProjectAgnostic marks tools that operate outside a single project and
	// are hidden when the grant carries a project restriction.
	ProjectAgnostic bool
	// Destructive marks tools the deployment excludes from the
	// local_development preset.
	Destructive bool
}

// Name returns the tool's MCP name.
func (t Tool) Name() string {
	return t.Definition.Name
}

func tool(name, description string, category Category, opts ...func(*Tool)) Tool {
	t := Tool{
		Definition: mcp.NewTool(name, mcp.WithDescription(description)),
		Category:   category,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func readOnly(t *Tool)        { t.ReadOnlySafe = true }
func projectAgnostic(t *Tool) { t.ProjectAgnostic = true }
func destructive(t *Tool)     { t.Destructive = true }

var catalog = []Tool{
	// Projects and organizations
	tool("list_projects", "List all Neon projects the account can access", CategoryProjects, readOnly, projectAgnostic),
	tool("list_shared_projects", "List Neon projects shared with the account", CategoryProjects, readOnly, projectAgnostic),
	tool("list_organizations", "List organizations the account belongs to", CategoryProjects, readOnly, projectAgnostic),
	tool("describe_project", "Describe a Neon project", CategoryProjects, readOnly),
	tool("list_operations", "List recent operations for a project", CategoryProjects, readOnly),
	tool("create_project", "Create a new Neon project", CategoryProjects, projectAgnostic),
	tool("delete_project", "Delete a Neon project and all its data", CategoryProjects, projectAgnostic, destructive),

	// Branches
	tool("list_branches", "List branches in a project", CategoryBranches, readOnly),
	tool("describe_branch", "Describe a branch and its child objects", CategoryBranches, readOnly),
	tool("get_branch_schema_diff", "Compare the schema of a branch against its parent", CategoryBranches, readOnly),
	tool("create_branch", "Create a branch in a project", CategoryBranches),
	tool("delete_branch", "Delete a branch from a project", CategoryBranches),
	tool("reset_from_parent", "Reset a branch to the state of its parent", CategoryBranches),

	// Computes
	tool("list_branch_computes", "List compute endpoints for a branch", CategoryComputes, readOnly),
	tool("get_connection_string", "Build a Postgres connection string for a branch", CategoryComputes, readOnly),

	// SQL query execution
	tool("run_sql", "Execute a single SQL statement against a database", CategoryQuerying),
	tool("run_sql_transaction", "Execute multiple SQL statements in a transaction", CategoryQuerying),
	tool("get_database_tables", "List tables in a database", CategoryQuerying, readOnly),
	tool("describe_table_schema", "Describe the schema of a table", CategoryQuerying, readOnly),
	tool("explain_sql_statement", "Run EXPLAIN ANALYZE on a SQL statement", CategoryQuerying, readOnly),
	tool("list_slow_queries", "List slow queries recorded by pg_stat_statements", CategoryQuerying, readOnly),

	// Migrations
	tool("prepare_database_migration", "Apply a migration to a temporary branch for review", CategoryMigrations),
	tool("complete_database_migration", "Apply a prepared migration to the main branch", CategoryMigrations),

	// Databases, roles, snapshots, extensions
	tool("list_databases", "List databases in a branch", CategoryStorage, readOnly),
	tool("list_roles", "List Postgres roles in a branch", CategoryStorage, readOnly),
	tool("list_extensions", "List installed Postgres extensions", CategoryStorage, readOnly),
	tool("list_snapshots", "List snapshots for a project", CategoryStorage, readOnly),
	tool("delete_database", "Delete a database from a branch", CategoryStorage, destructive),

	// Neon Auth
	tool("provision_neon_auth", "Provision Neon Auth for a project", CategoryAuth),
}

// Catalog returns the full tool catalog in stable order.
func Catalog() []Tool {
	out := make([]Tool, len(catalog))
	copy(out, catalog)
	return out
}

// Names extracts the MCP tool names from a catalog slice.
func Names(tools []Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name())
	}
	return names
}

// Definitions extracts the MCP tool definitions from a catalog slice.
func Definitions(tools []Tool) []mcp.Tool {
	defs := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.Definition)
	}
	return defs
}
