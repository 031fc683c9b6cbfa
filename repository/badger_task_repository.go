package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/camden-git/familytree/models"
)

const taskKeyPrefix = "task/"

func taskKey(id string) []byte {
	return []byte(taskKeyPrefix + id)
}

// BadgerTaskRepository keeps propagation tasks next to the person documents
type BadgerTaskRepository struct {
	DB    *badger.DB
	Clock Clock
}

// NewBadgerTaskRepository creates a new instance of BadgerTaskRepository
func NewBadgerTaskRepository(db *badger.DB) *BadgerTaskRepository {
	return &BadgerTaskRepository{DB: db}
}

func (r *BadgerTaskRepository) Save(ctx context.Context, task *models.PropagationTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := r.Clock.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.Writes == nil {
		task.Writes = []models.PeerWrite{}
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode propagation task %s: %w", task.ID, err)
	}
	if err := r.DB.Update(func(txn *badger.Txn) error {
		return txn.Set(taskKey(task.ID), data)
	}); err != nil {
		return fmt.Errorf("failed to save propagation task %s: %w", task.ID, err)
	}
	return nil
}

func (r *BadgerTaskRepository) Get(ctx context.Context, id string) (*models.PropagationTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var task models.PropagationTask
	err := r.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &task)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, taskNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get propagation task %s: %w", id, err)
	}
	return &task, nil
}

func (r *BadgerTaskRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.DB.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(taskKey(id)); err != nil {
			return err
		}
		return txn.Delete(taskKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return taskNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete propagation task %s: %w", id, err)
	}
	return nil
}

func (r *BadgerTaskRepository) ListByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]models.PropagationTask, error) {
	tasks := []models.PropagationTask{}
	err := r.DB.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(taskKeyPrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var task models.PropagationTask
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &task)
			}); err != nil {
				return err
			}
			if len(statuses) == 0 || slices.Contains(statuses, task.Status) {
				tasks = append(tasks, task)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list propagation tasks: %w", err)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}
