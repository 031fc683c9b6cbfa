package repository

import (
	"context"

	"github.com/camden-git/familytree/models"
)

// QueryOptions controls the inactive-person filter. The zero value excludes
// soft-deleted people; callers opt in explicitly to see them.
type QueryOptions struct {
	IncludeInactive bool
}

var (
	ActiveOnly   = QueryOptions{}
	WithInactive = QueryOptions{IncludeInactive: true}
)

// PersonRepositoryInterface defines the methods for person data operations.
// Every write touches exactly one document; there are no cross-document transactions.
type PersonRepositoryInterface interface {
	Create(ctx context.Context, person *models.Person) error
	GetByID(ctx context.Context, id string, opts QueryOptions) (*models.Person, error)
	// GetMany returns the people found among ids keyed by id; missing ids are simply absent.
	GetMany(ctx context.Context, ids []string, opts QueryOptions) (map[string]models.Person, error)
	List(ctx context.Context, opts QueryOptions) ([]models.Person, error)
	// FindBySpouse returns everyone whose spouse field names spouseID.
	FindBySpouse(ctx context.Context, spouseID string, opts QueryOptions) ([]models.Person, error)
	// SearchCandidates returns people whose name or local name contains any term.
	SearchCandidates(ctx context.Context, terms []string, opts QueryOptions) ([]models.Person, error)
	// Update replaces the stored document if its version still equals expectedVersion,
	// bumping Version and UpdatedAt on person.
	Update(ctx context.Context, person *models.Person, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
}

// TaskRepositoryInterface defines the methods for the durable propagation task queue
type TaskRepositoryInterface interface {
	Save(ctx context.Context, task *models.PropagationTask) error
	Get(ctx context.Context, id string) (*models.PropagationTask, error)
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]models.PropagationTask, error)
}
