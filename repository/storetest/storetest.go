// Package storetest opens throwaway stores for tests in other packages.
package storetest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/database"
	"github.com/camden-git/familytree/repository"
)

// Stores bundles the person and task repositories of one backend.
type Stores struct {
	Name   string
	People repository.PersonRepositoryInterface
	Tasks  repository.TaskRepositoryInterface
}

// SQLite opens a private in-memory sqlite database shared across pooled connections.
func SQLite(t *testing.T) Stores {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.InitGormDB(dsn, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// shared-cache writers on separate connections fail with SQLITE_LOCKED instead of waiting
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return Stores{
		Name:   "sqlite",
		People: repository.NewPersonRepository(db),
		Tasks:  repository.NewTaskRepository(db),
	}
}

// Badger opens an in-memory badger instance.
func Badger(t *testing.T) Stores {
	t.Helper()
	db, err := database.OpenBadger(database.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return Stores{
		Name:   "badger",
		People: repository.NewBadgerPersonRepository(db),
		Tasks:  repository.NewBadgerTaskRepository(db),
	}
}

// All returns one Stores per backend.
func All(t *testing.T) []Stores {
	return []Stores{SQLite(t), Badger(t)}
}
