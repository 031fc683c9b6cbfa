package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camden-git/familytree/models"
)

// TaskRepository persists propagation tasks in the same database as people
type TaskRepository struct {
	DB    *gorm.DB
	Clock Clock
}

// NewTaskRepository creates a new instance of TaskRepository
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{DB: db}
}

// Save inserts or replaces a task
func (r *TaskRepository) Save(ctx context.Context, task *models.PropagationTask) error {
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

	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(task).Error
	if err != nil {
		return fmt.Errorf("failed to save propagation task %s: %w", task.ID, err)
	}
	return nil
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*models.PropagationTask, error) {
	var task models.PropagationTask
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, taskNotFound(id)
		}
		return nil, fmt.Errorf("failed to get propagation task %s: %w", id, err)
	}
	return &task, nil
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	result := r.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.PropagationTask{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete propagation task %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return taskNotFound(id)
	}
	return nil
}

// ListByStatus returns tasks oldest first
func (r *TaskRepository) ListByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]models.PropagationTask, error) {
	var tasks []models.PropagationTask
	q := r.DB.WithContext(ctx).Order("created_at ASC").Order("id ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list propagation tasks: %w", err)
	}
	return tasks, nil
}
