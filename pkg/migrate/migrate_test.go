package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var testFS = fstest.MapFS{
	"001_create_zones.up.sql":   {Data: []byte("CREATE TABLE zones (name TEXT PRIMARY KEY);")},
	"001_create_zones.down.sql": {Data: []byte("DROP TABLE zones;")},
	"002_add_depth.up.sql":      {Data: []byte("ALTER TABLE zones ADD COLUMN depth REAL;")},
	"002_add_depth.down.sql":    {Data: []byte("ALTER TABLE zones DROP COLUMN depth;")},
	"README.md":                 {Data: []byte("ignored")},
}

func openDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadSortsAndPairs(t *testing.T) {
	migrations, err := Load(testFS)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "create zones", migrations[0].Name)
	assert.Contains(t, migrations[0].Down, "DROP TABLE")
	assert.Equal(t, 2, migrations[1].Version)
}

func TestUpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m, err := NewMigrator(db, testFS, nil)
	require.NoError(t, err)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	v, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = db.Exec("INSERT INTO zones (name, depth) VALUES ('lawn', 0.3)")
	require.NoError(t, err)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDownReverts(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m, err := NewMigrator(db, testFS, nil)
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx, 1))
	v, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.Error(t, m.Down(ctx, 1))

	require.NoError(t, m.Down(ctx, 0))
	_, err = db.Exec("INSERT INTO zones (name) VALUES ('lawn')")
	assert.Error(t, err)
}
