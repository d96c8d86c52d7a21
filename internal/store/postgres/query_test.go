package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/suhyunle/coin-trader/internal/domain"
)

func TestListQueryPlain(t *testing.T) {
	q, args := listQuery("SELECT id FROM audit_log WHERE 1=1", "created_at", domain.ListOpts{})
	assert.Equal(t, "SELECT id FROM audit_log WHERE 1=1 ORDER BY created_at DESC, id DESC", q)
	assert.Empty(t, args)
}

func TestListQueryNumbersPlaceholders(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	q, args := listQuery("SELECT id FROM t WHERE 1=1", "exit_time", domain.ListOpts{
		Since: &since, Limit: 10, Offset: 20,
	})
	assert.Equal(t,
		"SELECT id FROM t WHERE 1=1 AND exit_time >= $1 ORDER BY exit_time DESC, id DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 20}, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/trader?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "trader"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	assert.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, names)
}
