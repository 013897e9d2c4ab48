package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beastmode.db")

	for i := range 3 {
		s, err := Open(path)
		require.NoError(t, err, "open #%d", i)
		require.NoError(t, s.Close())
	}
	_, err := os.Stat(path)
	require.NoError(t, err, "database file should exist")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	for _, table := range []string{"audit", "proposals", "learned_rules"} {
		assert.NotEmpty(t, columns(t, s.db, table), "table %s", table)
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM audit").Scan(&n))
	assert.Zero(t, n)
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "beastmode.db"))
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())

	s := createTestStore(t)
	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { _ = s.Close() })
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.pragma(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchema(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		table   string
		columns []string
		indexes []string
	}{
		{
			table:   "audit",
			columns: []string{"seq", "id", "timestamp", "session_id", "workflow_id", "inputs", "actor", "run_reference", "dispatch_key"},
			indexes: []string{"idx_audit_session", "idx_audit_dispatch_key"},
		},
		{
			table:   "proposals",
			columns: []string{"id", "pattern", "topic", "workflow", "source_input", "slots", "reply", "status", "rule_id", "created_at", "decided_at"},
			indexes: []string{"idx_proposals_status"},
		},
		{
			table:   "learned_rules",
			columns: []string{"seq", "rule_id", "proposal_id", "definition", "created_at"},
			indexes: []string{"idx_learned_rules_proposal"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			assert.Subset(t, columns(t, s.db, tt.table), tt.columns)
			assert.Subset(t, indexes(t, s.db, tt.table), tt.indexes)
		})
	}
}

func TestConstraints(t *testing.T) {
	tests := []struct {
		name  string
		setup string
		stmt  string
	}{
		{
			name: "audit id unique",
			setup: `INSERT INTO audit (id, timestamp, session_id, workflow_id, inputs, actor, dispatch_key)
				VALUES ('a1', '2025-01-02T03:04:05Z', 's1', 'create-tenants', '{}', 'alice', 'k')`,
			stmt: `INSERT INTO audit (id, timestamp, session_id, workflow_id, inputs, actor, dispatch_key)
				VALUES ('a1', '2025-01-02T03:04:06Z', 's2', 'health-check', '{}', 'bob', 'k2')`,
		},
		{
			name: "proposal status checked",
			stmt: `INSERT INTO proposals (id, workflow, source_input, status, created_at)
				VALUES ('p1', 'create-tenants', 'make 3 tenants', 'maybe', '2025-01-02T03:04:05Z')`,
		},
		{
			name: "learned rule needs its proposal",
			stmt: `INSERT INTO learned_rules (rule_id, proposal_id, definition, created_at)
				VALUES ('r1', 'nonexistent', '{}', '2025-01-02T03:04:05Z')`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestStore(t)
			if tt.setup != "" {
				_, err := s.db.Exec(tt.setup)
				require.NoError(t, err)
			}
			_, err := s.db.Exec(tt.stmt)
			assert.Error(t, err)
		})
	}
}

func TestMigrate_FromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beastmode.db")

	// A file written before any migration: base tables only.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	require.NotContains(t, indexes(t, db, "audit"), "idx_audit_dispatch_key")
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	assert.Contains(t, indexes(t, s.db, "audit"), "idx_audit_dispatch_key")
	assert.Contains(t, indexes(t, s.db, "learned_rules"), "idx_learned_rules_proposal")
}

func TestMigrate_VersionIsLatest(t *testing.T) {
	s := createTestStore(t)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, schemaVersion, version)
	assert.True(t, slices.IsSortedFunc(migrations, func(a, b migration) int { return a.version - b.version }))
}

func columns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	return queryNames(t, db, "SELECT name FROM pragma_table_info(?)", table)
}

func indexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	return queryNames(t, db, "SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?", table)
}

func queryNames(t *testing.T, db *sql.DB, query string, args ...any) []string {
	t.Helper()
	rows, err := db.Query(query, args...)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}
