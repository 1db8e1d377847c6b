package storage

import (
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestParseDialect(t *testing.T) {
	for name, want := range map[string]Dialect{"": DialectMySQL, "MySQL": DialectMySQL, "postgres": DialectPostgres, "pgx": DialectPostgres} {
		got, err := ParseDialect(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseDialect("sqlite")
	assert.Error(t, err)
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := DialectMySQL.NormalizeDSN("coop:secret@tcp(db:3306)/coopx")
	require.NoError(t, err)
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, cfg.ParseTime)
	assert.True(t, cfg.ClientFoundRows)
	assert.Equal(t, "coopx", cfg.DBName)

	pg := "postgres://coop@localhost/coopx?sslmode=disable"
	dsn, err = DialectPostgres.NormalizeDSN(pg)
	require.NoError(t, err)
	assert.Equal(t, pg, dsn)

	_, err = DialectMySQL.NormalizeDSN("not a dsn")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := "UPDATE offers SET status = ? WHERE id = ? AND version = ?"
	assert.Equal(t, q, DialectMySQL.rebind(q))
	assert.Equal(t, "UPDATE offers SET status = $1 WHERE id = $2 AND version = $3", DialectPostgres.rebind(q))
}

func TestConflictClassification(t *testing.T) {
	deadlock := xerrors.Errorf("commit: %w", &mysql.MySQLError{Number: 1213})
	assert.True(t, DialectMySQL.isConflict(deadlock))
	assert.False(t, DialectMySQL.isConflict(&mysql.MySQLError{Number: 1062}))
	assert.True(t, DialectMySQL.isDuplicate(&mysql.MySQLError{Number: 1062}))

	serial := &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	assert.True(t, DialectPostgres.isConflict(serial))
	assert.True(t, DialectPostgres.isDuplicate(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	assert.False(t, DialectPostgres.isConflict(errors.New("boom")))
}
