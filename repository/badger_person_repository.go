package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/camden-git/familytree/models"
)

const personKeyPrefix = "person/"

func personKey(id string) []byte {
	return []byte(personKeyPrefix + id)
}

// BadgerPersonRepository stores each person as one JSON document keyed by id.
// A badger transaction only ever touches a single key, mirroring a document
// store with per-document atomicity.
type BadgerPersonRepository struct {
	DB    *badger.DB
	Clock Clock
}

// NewBadgerPersonRepository creates a new instance of BadgerPersonRepository
func NewBadgerPersonRepository(db *badger.DB) *BadgerPersonRepository {
	return &BadgerPersonRepository{DB: db}
}

func readPerson(txn *badger.Txn, id string) (*models.Person, error) {
	item, err := txn.Get(personKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, personNotFound(id)
		}
		return nil, fmt.Errorf("failed to read person %s: %w", id, err)
	}
	var person models.Person
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &person)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode person %s: %w", id, err)
	}
	person.Normalize()
	return &person, nil
}

func writePerson(txn *badger.Txn, person *models.Person) error {
	data, err := json.Marshal(person)
	if err != nil {
		return fmt.Errorf("failed to encode person %s: %w", person.ID, err)
	}
	return txn.Set(personKey(person.ID), data)
}

// scan walks every person document, calling fn for those passing opts.
func (r *BadgerPersonRepository) scan(ctx context.Context, opts QueryOptions, fn func(models.Person)) error {
	return r.DB.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(personKeyPrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var person models.Person
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &person)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			if !opts.IncludeInactive && !person.Active {
				continue
			}
			person.Normalize()
			fn(person)
		}
		return nil
	})
}

func (r *BadgerPersonRepository) Create(ctx context.Context, person *models.Person) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := r.Clock.now()
	if person.CreatedAt.IsZero() {
		person.CreatedAt = now
	}
	person.UpdatedAt = now
	if person.Version == 0 {
		person.Version = 1
	}
	person.Normalize()

	err := r.DB.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(personKey(person.ID)); err == nil {
			return fmt.Errorf("person %s already exists", person.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return writePerson(txn, person)
	})
	if err != nil {
		return fmt.Errorf("failed to create person %s: %w", person.Name, err)
	}
	return nil
}

func (r *BadgerPersonRepository) GetByID(ctx context.Context, id string, opts QueryOptions) (*models.Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var person *models.Person
	err := r.DB.View(func(txn *badger.Txn) error {
		var err error
		person, err = readPerson(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !opts.IncludeInactive && !person.Active {
		return nil, personNotFound(id)
	}
	return person, nil
}

func (r *BadgerPersonRepository) GetMany(ctx context.Context, ids []string, opts QueryOptions) (map[string]models.Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids = uniqueIDs(ids)
	out := make(map[string]models.Person, len(ids))
	err := r.DB.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			person, err := readPerson(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !opts.IncludeInactive && !person.Active {
				continue
			}
			out[id] = *person
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %d people by ID: %w", len(ids), err)
	}
	return out, nil
}

func (r *BadgerPersonRepository) List(ctx context.Context, opts QueryOptions) ([]models.Person, error) {
	people := []models.Person{}
	if err := r.scan(ctx, opts, func(p models.Person) { people = append(people, p) }); err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	sort.SliceStable(people, func(i, j int) bool {
		if people[i].Name != people[j].Name {
			return people[i].Name < people[j].Name
		}
		return people[i].ID < people[j].ID
	})
	return people, nil
}

// FindBySpouse scans every document; badger keeps no secondary index here.
func (r *BadgerPersonRepository) FindBySpouse(ctx context.Context, spouseID string, opts QueryOptions) ([]models.Person, error) {
	people := []models.Person{}
	err := r.scan(ctx, opts, func(p models.Person) {
		if p.SpouseIs(spouseID) {
			people = append(people, p)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find people married to %s: %w", spouseID, err)
	}
	sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })
	return people, nil
}

func (r *BadgerPersonRepository) SearchCandidates(ctx context.Context, terms []string, opts QueryOptions) ([]models.Person, error) {
	people := []models.Person{}
	if len(terms) == 0 {
		return people, nil
	}
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	err := r.scan(ctx, opts, func(p models.Person) {
		name, local := strings.ToLower(p.Name), strings.ToLower(p.LocalName)
		for _, t := range lowered {
			if strings.Contains(name, t) || strings.Contains(local, t) {
				people = append(people, p)
				return
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search people for %v: %w", terms, err)
	}
	sort.SliceStable(people, func(i, j int) bool { return people[i].Name < people[j].Name })
	return people, nil
}

func (r *BadgerPersonRepository) Update(ctx context.Context, person *models.Person, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	updated := person.Clone()
	updated.Normalize()
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = r.Clock.now()

	err := r.DB.Update(func(txn *badger.Txn) error {
		stored, err := readPerson(txn, person.ID)
		if err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return fmt.Errorf("person %s at version %d: %w", person.ID, expectedVersion, ErrVersionConflict)
		}
		updated.CreatedAt = stored.CreatedAt
		return writePerson(txn, &updated)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("person %s at version %d: %w", person.ID, expectedVersion, ErrVersionConflict)
	}
	if err != nil {
		return err
	}

	*person = updated
	return nil
}

func (r *BadgerPersonRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.DB.Update(func(txn *badger.Txn) error {
		if _, err := readPerson(txn, id); err != nil {
			return err
		}
		return txn.Delete(personKey(id))
	})
}
