package pgxutil

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestTxOptions(t *testing.T) {
	assert.Equal(t, pgx.TxOptions{}, TxOptions(nil))

	tests := []struct {
		name string
		in   sql.TxOptions
		want pgx.TxOptions
	}{
		{"default", sql.TxOptions{}, pgx.TxOptions{AccessMode: pgx.ReadWrite}},
		{"serializable", sql.TxOptions{Isolation: sql.LevelSerializable}, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite}},
		{"snapshot", sql.TxOptions{Isolation: sql.LevelSnapshot}, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadWrite}},
		{"read only", sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true}, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			assert.Equal(t, tt.want, TxOptions(&in))
		})
	}
}
