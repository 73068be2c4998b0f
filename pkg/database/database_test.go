package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bgde/vocab-platform/pkg/config"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteAndInTx(t *testing.T) {
	c, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.DB.ExecContext(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	err = c.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO kv (k, v) VALUES (?, ?)`), "a", "1")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = c.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('b', '2')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, c.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM kv`))
	assert.Equal(t, 1, count)
}

func TestOpenUsesDataDir(t *testing.T) {
	cfg := &config.Config{Review: config.ReviewConfig{Driver: "sqlite", DataDir: filepath.Join(t.TempDir(), "nested")}}
	c, err := Open(cfg)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, DriverSQLite, c.Driver)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(&config.Config{Review: config.ReviewConfig{Driver: "mysql"}})
	assert.Error(t, err)
}
