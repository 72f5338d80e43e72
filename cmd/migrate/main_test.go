package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init_schema_migrations.sql", true, "0001", "init_schema_migrations"},
		{"001_invalid.sql", false, "", ""},
		{"0001_test", false, "", ""},
		{"0001.sql", false, "", ""},
		{"invalid_0001_test.sql", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := migrationPattern.FindStringSubmatch(tt.filename)
			if !tt.valid {
				assert.Nil(t, m)
				return
			}
			require.Len(t, m, 3)
			assert.Equal(t, tt.version, m[1])
			assert.Equal(t, tt.name, m[2])
		})
	}
}

func TestReadMigrations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("0002_create_transactions.sql", "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.transactions` (id STRING);")
	write("0001_init.sql", "SELECT 1;")
	write("README.md", "not a migration")

	migrations, err := readMigrations(dir, "acme", "statements", zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "create_transactions", migrations[1].Name)
	assert.Equal(t, "CREATE TABLE `acme.statements.transactions` (id STRING);", migrations[1].SQL)

	// Checksums cover the file before placeholder substitution.
	other, err := readMigrations(dir, "other", "ds", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, migrations[1].Checksum, other[1].Checksum)
	assert.NotEqual(t, migrations[0].Checksum, migrations[1].Checksum)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_a.sql"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_b.sql"), []byte("b"), 0o644))

	_, err := readMigrations(dir, "p", "d", zerolog.Nop())
	assert.Error(t, err)
}

func TestRepoMigrations(t *testing.T) {
	dir, err := resolveDir("migrations/bigquery")
	require.NoError(t, err)

	migrations, err := readMigrations(dir, "p", "d", zerolog.Nop())
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "migration versions must be contiguous")
		assert.NotContains(t, m.SQL, "{{")
	}
}

func TestPendingMigrations(t *testing.T) {
	all := []Migration{
		{Version: 1, Name: "init", Checksum: "aaa"},
		{Version: 2, Name: "tables", Checksum: "bbb"},
		{Version: 3, Name: "formats", Checksum: "ccc"},
	}
	applied := []AppliedMigration{
		{Version: 1, Checksum: "aaa"},
		{Version: 2, Checksum: "old"},
	}

	pending, changed := pendingMigrations(all, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Version)
	require.Len(t, changed, 1)
	assert.Equal(t, 2, changed[0].Version)
}
