package dbutil

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalizeRewritesLimitAndPlaceholders(t *testing.T) {
	query, args := Finalize("SELECT id FROM documents WHERE user_id=? LIMIT ?,?", []interface{}{"u1", 20, 10})
	require.Equal(t, "SELECT id FROM documents WHERE user_id=$1 LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{"u1", 10, 20}, args)
}

func TestFinalizeWithoutLimit(t *testing.T) {
	query, args := Finalize("UPDATE users SET role=? WHERE id=?", []interface{}{"admin", "u1"})
	require.Equal(t, "UPDATE users SET role=$1 WHERE id=$2", query)
	require.Len(t, args, 2)
}

func TestIsConflict(t *testing.T) {
	require.True(t, IsConflict(&pq.Error{Code: "23505"}))
	require.False(t, IsConflict(&pq.Error{Code: "23503"}))
	require.False(t, IsConflict(nil))
}
