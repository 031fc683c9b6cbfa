package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/propagation"
	"github.com/camden-git/familytree/realtime"
	"github.com/camden-git/familytree/repository"
	"github.com/camden-git/familytree/repository/storetest"
)

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Broadcast(e realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// flakyPeople fails the first n updates with a storage error.
type flakyPeople struct {
	repository.PersonRepositoryInterface
	mu       sync.Mutex
	failures int
}

func (f *flakyPeople) Update(ctx context.Context, p *models.Person, expectedVersion int64) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("disk unavailable")
	}
	f.mu.Unlock()
	return f.PersonRepositoryInterface.Update(ctx, p, expectedVersion)
}

func setup(t *testing.T, failures int) (storetest.Stores, *PropagationWorker, *recorder) {
	t.Helper()
	stores := storetest.SQLite(t)
	ctx := context.Background()
	for _, p := range []models.Person{
		{ID: "mom", Name: "Mom", Gender: models.GenderFemale, Active: true},
		{ID: "kid", Name: "Kid", Gender: models.GenderMale, Active: true, Parents: []string{"mom"}},
	} {
		require.NoError(t, stores.People.Create(ctx, &p))
	}

	people := &flakyPeople{PersonRepositoryInterface: stores.People, failures: failures}
	rec := &recorder{}
	pw := NewPropagationWorker(PropagationConfig{
		QueueSize:      4,
		NumWorkers:     1,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}, stores.Tasks, propagation.NewExecutor(people, zap.NewNop(), 0), rec, zap.NewNop())
	return stores, pw, rec
}

func addChildTask(id string) models.PropagationTask {
	return models.PropagationTask{
		ID:       id,
		PersonID: "kid",
		Status:   models.TaskPending,
		Writes:   []models.PeerWrite{{Op: models.OpAddChild, PeerID: "mom", SubjectID: "kid"}},
	}
}

func TestProcessRetriesUntilApplied(t *testing.T) {
	stores, pw, rec := setup(t, 2)
	ctx := context.Background()
	task := addChildTask("t-1")
	require.NoError(t, stores.Tasks.Save(ctx, &task))

	assert.True(t, pw.Process(ctx, task))

	mom, err := stores.People.GetByID(ctx, "mom", repository.ActiveOnly)
	require.NoError(t, err)
	assert.Equal(t, []string{"kid"}, mom.Children)
	_, err = stores.Tasks.Get(ctx, "t-1")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
	assert.Empty(t, rec.types())
}

func TestProcessMarksTaskFailedAfterMaxAttempts(t *testing.T) {
	stores, pw, rec := setup(t, 10)
	ctx := context.Background()
	task := addChildTask("t-2")
	require.NoError(t, stores.Tasks.Save(ctx, &task))

	assert.False(t, pw.Process(ctx, task))

	stored, err := stores.Tasks.Get(ctx, "t-2")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.Contains(t, stored.LastError, "disk unavailable")
	assert.Equal(t, []string{realtime.EventGraphDegraded}, rec.types())

	// once storage recovers a drain restores the graph
	pw.Executor = propagation.NewExecutor(stores.People, zap.NewNop(), 0)
	done, failed, err := pw.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{realtime.EventGraphDegraded, realtime.EventGraphRestored}, rec.types())
}

func TestProcessRejectsParentLimit(t *testing.T) {
	stores, pw, rec := setup(t, 0)
	ctx := context.Background()
	for _, p := range []models.Person{
		{ID: "dad", Name: "Dad", Gender: models.GenderMale, Active: true, Children: []string{"kid2"}},
		{ID: "other", Name: "Other", Gender: models.GenderMale, Active: true, Children: []string{"kid2"}},
		{ID: "kid2", Name: "Kid", Gender: models.GenderMale, Active: true, Parents: []string{"mom", "dad"}},
	} {
		require.NoError(t, stores.People.Create(ctx, &p))
	}
	task := models.PropagationTask{ID: "t-3", PersonID: "other", Writes: []models.PeerWrite{{Op: models.OpAddParent, PeerID: "kid2", SubjectID: "other"}}}
	require.NoError(t, stores.Tasks.Save(ctx, &task))

	assert.False(t, pw.Process(ctx, task))
	stored, err := stores.Tasks.Get(ctx, "t-3")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, models.TaskRejected, stored.Status)
	assert.Equal(t, []string{realtime.EventGraphDegraded}, rec.types())

	// rejected tasks stay stored but are never picked up again
	assert.Zero(t, pw.Sweep(ctx))
	done, failed, err := pw.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, done)
	assert.Zero(t, failed)
	assert.Len(t, rec.types(), 1)
	_, err = stores.Tasks.Get(ctx, "t-3")
	assert.NoError(t, err)
}

func TestRecordedTasksWaitForGrace(t *testing.T) {
	stores, pw, _ := setup(t, 0)
	pw.Config.RecordedGrace = time.Minute
	ctx := context.Background()
	task := addChildTask("t-5")
	task.Status = models.TaskRecorded
	require.NoError(t, stores.Tasks.Save(ctx, &task))

	assert.Zero(t, pw.Sweep(ctx))
	done, failed, err := pw.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, done+failed)

	// a recorded task older than the grace period is an orphan of a crashed write
	pw.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	done, failed, err = pw.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Zero(t, failed)

	mom, err := stores.People.GetByID(ctx, "mom", repository.ActiveOnly)
	require.NoError(t, err)
	assert.Equal(t, []string{"kid"}, mom.Children)
}

func TestQueueTaskDeduplicatesAndBounds(t *testing.T) {
	_, pw, _ := setup(t, 0)

	assert.True(t, pw.QueueTask(addChildTask("a")))
	assert.False(t, pw.QueueTask(addChildTask("a")))
	assert.True(t, pw.QueueTask(addChildTask("b")))
	assert.True(t, pw.QueueTask(addChildTask("c")))
	assert.True(t, pw.QueueTask(addChildTask("d")))
	assert.False(t, pw.QueueTask(addChildTask("e")), "queue holds four tasks")
}

func TestStartedWorkerSweepsStoredTasks(t *testing.T) {
	stores, pw, _ := setup(t, 0)
	pw.Config.RetryInterval = 20 * time.Millisecond
	ctx := context.Background()
	task := addChildTask("t-4")
	require.NoError(t, stores.Tasks.Save(ctx, &task))

	pw.Start()
	defer pw.Stop()

	require.Eventually(t, func() bool {
		_, err := stores.Tasks.Get(ctx, "t-4")
		return errors.Is(err, repository.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	mom, err := stores.People.GetByID(ctx, "mom", repository.ActiveOnly)
	require.NoError(t, err)
	assert.Equal(t, []string{"kid"}, mom.Children)
}
