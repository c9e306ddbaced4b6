// Package testutil sets up throwaway databases and fixtures for tests.
package testutil

import (
	"chaguasmart/internal/db"
	"chaguasmart/internal/models"
	"chaguasmart/internal/utils"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const Password = "correct-horse"

// NewDB opens a private in-memory SQLite database with the full schema and
// default categories.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", uuid.NewString())
	conn, err := db.Open(sqlite.Open(dsn))
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// one connection serializes transactions, so concurrent tests only
	// contend on the unique indexes. Row locks need postgres.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(conn))
	require.NoError(t, db.SeedCategories(conn))
	return conn
}

func NewCache(t testing.TB) *utils.Cache {
	t.Helper()
	cache, err := utils.NewCache(64)
	require.NoError(t, err)
	return cache
}

// CreateUser inserts a user whose password is Password.
func CreateUser(t testing.TB, conn *gorm.DB, username, campus, role string) *models.User {
	t.Helper()

	hash, err := utils.HashPassword(Password)
	require.NoError(t, err)
	user := &models.User{
		Username: username,
		Email:    username + "@campus.test",
		Password: hash,
		Campus:   campus,
		Role:     role,
	}
	require.NoError(t, conn.Create(user).Error)
	return user
}

// PollFixture describes a poll inserted directly, bypassing creation rules so
// tests can place windows in the past.
type PollFixture struct {
	Title              string
	Start, End         time.Time
	Options            []string
	AllowMultipleVotes bool
	IsAnonymous        bool
	CampusRestricted   string
}

func CreatePoll(t testing.TB, conn *gorm.DB, creator *models.User, f PollFixture) *models.Poll {
	t.Helper()

	if f.Title == "" {
		f.Title = "Fixture poll"
	}
	if len(f.Options) == 0 {
		f.Options = []string{"A", "B"}
	}
	poll := &models.Poll{
		Title:              f.Title,
		CreatorID:          creator.ID,
		StartTime:          f.Start.UTC(),
		EndTime:            f.End.UTC(),
		IsActive:           true,
		AllowMultipleVotes: f.AllowMultipleVotes,
		IsAnonymous:        f.IsAnonymous,
		CampusRestricted:   f.CampusRestricted,
	}
	for _, text := range f.Options {
		poll.Options = append(poll.Options, models.Option{Text: text})
	}
	require.NoError(t, conn.Omit("Creator", "Category").Create(poll).Error)
	return poll
}

// ActivePoll is open from an hour ago until an hour from now.
func ActivePoll(t testing.TB, conn *gorm.DB, creator *models.User, options ...string) *models.Poll {
	t.Helper()
	now := time.Now().UTC()
	return CreatePoll(t, conn, creator, PollFixture{
		Start:   now.Add(-time.Hour),
		End:     now.Add(time.Hour),
		Options: options,
	})
}
