package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/camden-git/familytree/database"
	"github.com/camden-git/familytree/models"
)

// PersonRepository handles database operations for Person documents using GORM
type PersonRepository struct {
	DB    *gorm.DB
	Clock Clock
}

// NewPersonRepository creates a new instance of PersonRepository
func NewPersonRepository(db *gorm.DB) *PersonRepository {
	return &PersonRepository{DB: db}
}

func activeScope(opts QueryOptions) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if opts.IncludeInactive {
			return db
		}
		return db.Where("active = ?", true)
	}
}

// Create creates a new person record in the database
func (r *PersonRepository) Create(ctx context.Context, person *models.Person) error {
	now := r.Clock.now()
	if person.CreatedAt.IsZero() {
		person.CreatedAt = now
	}
	person.UpdatedAt = now
	if person.Version == 0 {
		person.Version = 1
	}
	person.Normalize()

	if err := r.DB.WithContext(ctx).Create(person).Error; err != nil {
		return fmt.Errorf("failed to create person %s: %w", person.Name, err)
	}
	return nil
}

// GetByID retrieves a person by id, honouring the inactive filter
func (r *PersonRepository) GetByID(ctx context.Context, id string, opts QueryOptions) (*models.Person, error) {
	var person models.Person
	err := r.DB.WithContext(ctx).Scopes(activeScope(opts)).Where("id = ?", id).First(&person).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, personNotFound(id)
		}
		return nil, fmt.Errorf("failed to get person by ID %s: %w", id, err)
	}
	person.Normalize()
	return &person, nil
}

// GetMany retrieves the people matching ids in one query
func (r *PersonRepository) GetMany(ctx context.Context, ids []string, opts QueryOptions) (map[string]models.Person, error) {
	ids = uniqueIDs(ids)
	out := make(map[string]models.Person, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var people []models.Person
	err := r.DB.WithContext(ctx).Scopes(activeScope(opts)).Where("id IN ?", ids).Find(&people).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get %d people by ID: %w", len(ids), err)
	}
	for _, p := range people {
		p.Normalize()
		out[p.ID] = p
	}
	return out, nil
}

// List retrieves all people ordered by name
func (r *PersonRepository) List(ctx context.Context, opts QueryOptions) ([]models.Person, error) {
	var people []models.Person
	err := r.DB.WithContext(ctx).Scopes(activeScope(opts)).Order("name ASC").Order("id ASC").Find(&people).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	for i := range people {
		people[i].Normalize()
	}
	return people, nil
}

// FindBySpouse retrieves everyone whose spouse_id is spouseID
func (r *PersonRepository) FindBySpouse(ctx context.Context, spouseID string, opts QueryOptions) ([]models.Person, error) {
	var people []models.Person
	err := r.DB.WithContext(ctx).Scopes(activeScope(opts)).Where("spouse_id = ?", spouseID).Order("id ASC").Find(&people).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find people married to %s: %w", spouseID, err)
	}
	for i := range people {
		people[i].Normalize()
	}
	return people, nil
}

// SearchCandidates runs the LIKE prefilter built by the database package
func (r *PersonRepository) SearchCandidates(ctx context.Context, terms []string, opts QueryOptions) ([]models.Person, error) {
	if len(terms) == 0 {
		return []models.Person{}, nil
	}
	sqlStr, args, err := database.BuildSearchCandidatesQuery(terms, opts.IncludeInactive)
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := r.DB.WithContext(ctx).Raw(sqlStr, args...).Scan(&ids).Error; err != nil {
		return nil, fmt.Errorf("failed to search people for %v: %w", terms, err)
	}

	found, err := r.GetMany(ctx, ids, opts)
	if err != nil {
		return nil, err
	}
	people := make([]models.Person, 0, len(found))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			people = append(people, p)
		}
	}
	return people, nil
}

// Update writes the whole document guarded by its version (compare-and-swap)
func (r *PersonRepository) Update(ctx context.Context, person *models.Person, expectedVersion int64) error {
	updated := person.Clone()
	updated.Normalize()
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = r.Clock.now()

	result := r.DB.WithContext(ctx).
		Model(&models.Person{}).
		Where("id = ? AND version = ?", person.ID, expectedVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(&updated)
	if result.Error != nil {
		return fmt.Errorf("failed to update person ID %s: %w", person.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, person.ID, WithInactive); err != nil {
			return err
		}
		return fmt.Errorf("person %s at version %d: %w", person.ID, expectedVersion, ErrVersionConflict)
	}

	*person = updated
	return nil
}

// Delete removes a person document
func (r *PersonRepository) Delete(ctx context.Context, id string) error {
	result := r.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.Person{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete person ID %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return personNotFound(id)
	}
	return nil
}
