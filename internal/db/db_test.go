package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitStatementsDropsCommentsAndBlanks(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (id TEXT);\n\n;CREATE INDEX i ON a (id);\n")
	require.Equal(t, []string{"CREATE TABLE a (id TEXT)", "CREATE INDEX i ON a (id)"}, stmts)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, entry := range entries {
		content, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		require.NoError(t, err)
		require.NotEmpty(t, splitStatements(string(content)), entry.Name())
	}
}
