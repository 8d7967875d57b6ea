// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"lingochat/internal/database"
	"lingochat/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewTestDB opens an isolated in-memory SQLite database with the chat schema.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open(sqlite.Open(dsn))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateUsers inserts users whose id and name are both the given id.
func CreateUsers(t testing.TB, db *gorm.DB, ids ...string) []models.User {
	t.Helper()
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		u := models.User{ID: id, Name: id, Email: id + "@example.com"}
		require.NoError(t, db.Create(&u).Error)
		users = append(users, u)
	}
	return users
}

// NewRedis starts a miniredis server and returns it with a connected client.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// Clock is a manually advanced time source for services under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed UTC instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
