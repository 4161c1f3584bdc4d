package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)
}

func TestSourceOpensFirstMigration(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)

	first, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)
}

func TestPaymentsHaveUniqueTransactionID(t *testing.T) {
	body, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000002_payments.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(body), "ux_payments_processor_txn ON payments (processor, processor_transaction_id)")
}
