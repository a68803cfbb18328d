// Package testutil wires throwaway stores for package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/roomkit/internal/database"
	gormlogger "gorm.io/gorm/logger"
)

// NewDatabase returns an in-memory SQLite store private to the test.
func NewDatabase(t *testing.T) *database.Database {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := database.Connect(dsn, gormlogger.Default.LogMode(gormlogger.Silent))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// NewRedis starts a miniredis server and a client pointed at it.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}
