package propagation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/repository"
	"github.com/camden-git/familytree/repository/storetest"
)

// conflictingPeople fails the first n updates with a version conflict.
type conflictingPeople struct {
	repository.PersonRepositoryInterface
	mu        sync.Mutex
	conflicts int
	updates   int
}

func (c *conflictingPeople) Update(ctx context.Context, p *models.Person, expectedVersion int64) error {
	c.mu.Lock()
	c.updates++
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return repository.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.PersonRepositoryInterface.Update(ctx, p, expectedVersion)
}

func seed(t *testing.T, people repository.PersonRepositoryInterface, persons ...models.Person) {
	t.Helper()
	for i := range persons {
		p := persons[i]
		p.Active = true
		require.NoError(t, people.Create(context.Background(), &p))
	}
}

func get(t *testing.T, people repository.PersonRepositoryInterface, id string) *models.Person {
	t.Helper()
	p, err := people.GetByID(context.Background(), id, repository.WithInactive)
	require.NoError(t, err)
	return p
}

func taskFor(before, after *models.Person) models.PropagationTask {
	var id string
	if after != nil {
		id = after.ID
	} else {
		id = before.ID
	}
	return models.PropagationTask{ID: "t-" + id, PersonID: id, Writes: Plan(before, after)}
}

func TestExecuteSpouseIsIdempotent(t *testing.T) {
	for _, stores := range storetest.All(t) {
		t.Run(stores.Name, func(t *testing.T) {
			ctx := context.Background()
			people := stores.People
			seed(t, people,
				models.Person{ID: "alice", Name: "Alice", Gender: models.GenderFemale, SpouseID: strPtr("bob")},
				models.Person{ID: "bob", Name: "Bob", Gender: models.GenderMale},
			)
			exec := NewExecutor(people, zap.NewNop(), 3)
			task := taskFor(nil, get(t, people, "alice"))

			report, err := exec.Execute(ctx, task)
			require.NoError(t, err)
			assert.Len(t, report.Applied, 1)
			bob := get(t, people, "bob")
			assert.Equal(t, "alice", bob.Spouse())

			report, err = exec.Execute(ctx, task)
			require.NoError(t, err)
			assert.Empty(t, report.Applied)
			assert.Len(t, report.Skipped, 1)
			assert.Equal(t, bob.Version, get(t, people, "bob").Version)
		})
	}
}

func TestExecuteSkipsEdgeAlreadySatisfied(t *testing.T) {
	stores := storetest.SQLite(t)
	people := stores.People
	seed(t, people,
		models.Person{ID: "alice", Name: "Alice", Gender: models.GenderFemale, SpouseID: strPtr("bob")},
		models.Person{ID: "bob", Name: "Bob", Gender: models.GenderMale, SpouseID: strPtr("alice")},
	)

	report, err := NewExecutor(people, nil, 3).Execute(context.Background(), taskFor(nil, get(t, people, "alice")))
	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.Equal(t, int64(1), get(t, people, "bob").Version)
}

func TestExecuteHardDeleteCascade(t *testing.T) {
	for _, stores := range storetest.All(t) {
		t.Run(stores.Name, func(t *testing.T) {
			ctx := context.Background()
			people := stores.People
			seed(t, people,
				models.Person{ID: "alice", Name: "Alice", Gender: models.GenderFemale, SpouseID: strPtr("bob"), Children: []string{"c", "d"}},
				models.Person{ID: "bob", Name: "Bob", Gender: models.GenderMale, SpouseID: strPtr("alice"), Children: []string{"c"}},
				models.Person{ID: "c", Name: "Cee", Gender: models.GenderMale, Parents: []string{"alice", "bob"}},
				models.Person{ID: "d", Name: "Dee", Gender: models.GenderFemale, Parents: []string{"alice"}},
			)
			alice := get(t, people, "alice")
			task := taskFor(alice, nil)
			require.NoError(t, people.Delete(ctx, "alice"))

			report, err := NewExecutor(people, zap.NewNop(), 3).Execute(ctx, task)
			require.NoError(t, err)
			assert.Len(t, report.Applied, 3)

			assert.Nil(t, get(t, people, "bob").SpouseID)
			assert.Equal(t, []string{"bob"}, get(t, people, "c").Parents)
			assert.Equal(t, []string{}, get(t, people, "d").Parents)
		})
	}
}

func TestExecuteGuardsAgainstStaleTasks(t *testing.T) {
	stores := storetest.SQLite(t)
	ctx := context.Background()
	people := stores.People
	seed(t, people,
		models.Person{ID: "p", Name: "Parent", Gender: models.GenderMale},
		models.Person{ID: "c", Name: "Child", Gender: models.GenderMale},
	)

	// the task promises an edge the subject no longer has
	stale := models.PropagationTask{ID: "t", PersonID: "c", Writes: []models.PeerWrite{
		{Op: models.OpAddChild, PeerID: "p", SubjectID: "c"},
		{Op: models.OpSetSpouse, PeerID: "p", SubjectID: "c"},
		{Op: models.OpAddParent, PeerID: "missing", SubjectID: "c"},
	}}
	report, err := NewExecutor(people, nil, 3).Execute(ctx, stale)
	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.Len(t, report.Skipped, 3)
	assert.Empty(t, get(t, people, "p").Children)
	assert.Nil(t, get(t, people, "p").SpouseID)
}

func TestExecuteRefusesThirdParent(t *testing.T) {
	stores := storetest.SQLite(t)
	people := stores.People
	seed(t, people,
		models.Person{ID: "m", Name: "Mom", Gender: models.GenderFemale, Children: []string{"c"}},
		models.Person{ID: "f", Name: "Dad", Gender: models.GenderMale, Children: []string{"c"}},
		models.Person{ID: "x", Name: "Extra", Gender: models.GenderMale, Children: []string{"c"}},
		models.Person{ID: "c", Name: "Child", Gender: models.GenderMale, Parents: []string{"m", "f"}},
	)
	task := models.PropagationTask{ID: "t", PersonID: "x", Writes: []models.PeerWrite{{Op: models.OpAddParent, PeerID: "c", SubjectID: "x"}}}

	report, err := NewExecutor(people, nil, 3).Execute(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParentLimit))
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "x", report.Failures[0].PersonID)
	assert.Equal(t, task.Writes, report.Remaining)
	assert.Equal(t, []string{"m", "f"}, get(t, people, "c").Parents)
}

func TestExecuteRetriesVersionConflicts(t *testing.T) {
	stores := storetest.SQLite(t)
	seed(t, stores.People,
		models.Person{ID: "p", Name: "Parent", Gender: models.GenderMale},
		models.Person{ID: "c", Name: "Child", Gender: models.GenderMale, Parents: []string{"p"}},
	)
	task := taskFor(nil, get(t, stores.People, "c"))

	t.Run("within budget", func(t *testing.T) {
		people := &conflictingPeople{PersonRepositoryInterface: stores.People, conflicts: 2}
		report, err := NewExecutor(people, nil, 2).Execute(context.Background(), task)
		require.NoError(t, err)
		assert.Len(t, report.Applied, 1)
		assert.Equal(t, 3, people.updates)
		assert.Equal(t, []string{"c"}, get(t, stores.People, "p").Children)
	})

	t.Run("budget exhausted", func(t *testing.T) {
		p := get(t, stores.People, "p")
		p.Children = []string{}
		require.NoError(t, stores.People.Update(context.Background(), p, p.Version))

		people := &conflictingPeople{PersonRepositoryInterface: stores.People, conflicts: 5}
		report, err := NewExecutor(people, nil, 1).Execute(context.Background(), task)
		require.Error(t, err)
		assert.True(t, errors.Is(err, repository.ErrVersionConflict))
		var pe *PropagationError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, models.OpAddChild, pe.Write.Op)
		assert.Equal(t, 2, people.updates)
		assert.Len(t, report.Remaining, 1)
	})
}

// Two spouse proposals for the same peer that both pass validation before
// either commits race on the peer document. The last writer wins and the
// audit surfaces the broken exclusivity.
func TestConcurrentSpouseProposalsLastWriterWins(t *testing.T) {
	stores := storetest.SQLite(t)
	ctx := context.Background()
	people := stores.People
	seed(t, people,
		models.Person{ID: "alice", Name: "Alice", Gender: models.GenderFemale, SpouseID: strPtr("bob")},
		models.Person{ID: "carol", Name: "Carol", Gender: models.GenderFemale, SpouseID: strPtr("bob")},
		models.Person{ID: "bob", Name: "Bob", Gender: models.GenderMale},
	)
	exec := NewExecutor(people, nil, 3)

	_, err := exec.Execute(ctx, taskFor(nil, get(t, people, "alice")))
	require.NoError(t, err)
	_, err = exec.Execute(ctx, taskFor(nil, get(t, people, "carol")))
	require.NoError(t, err)

	assert.Equal(t, "carol", get(t, people, "bob").Spouse())

	all, err := people.List(ctx, repository.WithInactive)
	require.NoError(t, err)
	found := Audit(all)
	assert.Contains(t, kinds(found), KindSpouseExclusivity)
	assert.Contains(t, kinds(found), KindSpouseAsymmetry)
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	stores := storetest.SQLite(t)
	seed(t, stores.People, models.Person{ID: "p", Name: "Parent", Gender: models.GenderMale})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := models.PropagationTask{ID: "t", PersonID: "c", Writes: []models.PeerWrite{{Op: models.OpRemoveChild, PeerID: "p", SubjectID: "c"}}}
	report, err := NewExecutor(stores.People, nil, 3).Execute(ctx, task)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Remaining, 1)
}
