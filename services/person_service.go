package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/config"
	"github.com/camden-git/familytree/database"
	"github.com/camden-git/familytree/metrics"
	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/propagation"
	"github.com/camden-git/familytree/realtime"
	"github.com/camden-git/familytree/repository"
	"github.com/camden-git/familytree/search"
	"github.com/camden-git/familytree/tree"
	"github.com/camden-git/familytree/validation"
)

// TaskQueue hands a propagation task to background workers.
type TaskQueue interface {
	QueueTask(task models.PropagationTask) bool
}

// Notifier publishes graph events.
type Notifier interface {
	Broadcast(event realtime.Event)
}

// PersonServiceDeps holds everything PersonService is built from. Queue and
// Notifier are optional.
type PersonServiceDeps struct {
	People    repository.PersonRepositoryInterface
	Tasks     repository.TaskRepositoryInterface
	Fields    *validation.FieldValidator
	Relations *validation.RelationshipValidator
	Executor  *propagation.Executor
	Assembler *tree.Assembler
	Index     *search.Index
	Queue     TaskQueue
	Notifier  Notifier
	Logger    *zap.Logger

	// PropagationMode is config.PropagationModeSync or config.PropagationModeAsync.
	PropagationMode string
	// MaxAncestryScan bounds how many generations are loaded for cycle checks.
	MaxAncestryScan int

	Now   func() time.Time
	NewID func() string
}

// PersonService runs the person operations: validate against hydrated
// snapshots, record the owed peer writes, commit the primary write, then propagate.
type PersonService struct {
	people    repository.PersonRepositoryInterface
	tasks     repository.TaskRepositoryInterface
	fields    *validation.FieldValidator
	relations *validation.RelationshipValidator
	executor  *propagation.Executor
	assembler *tree.Assembler
	index     *search.Index
	queue     TaskQueue
	notifier  Notifier
	logger    *zap.Logger

	mode            string
	maxAncestryScan int
	now             func() time.Time
	newID           func() string
}

// NewPersonService creates a new person service
func NewPersonService(deps PersonServiceDeps) *PersonService {
	s := &PersonService{
		people:          deps.People,
		tasks:           deps.Tasks,
		fields:          deps.Fields,
		relations:       deps.Relations,
		executor:        deps.Executor,
		assembler:       deps.Assembler,
		index:           deps.Index,
		queue:           deps.Queue,
		notifier:        deps.Notifier,
		logger:          deps.Logger,
		mode:            deps.PropagationMode,
		maxAncestryScan: deps.MaxAncestryScan,
		now:             deps.Now,
		newID:           deps.NewID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.relations == nil {
		s.relations = validation.NewRelationshipValidator(deps.MaxAncestryScan)
	}
	if s.maxAncestryScan <= 0 {
		s.maxAncestryScan = s.relations.MaxAncestryDepth
	}
	if s.mode == "" {
		s.mode = config.PropagationModeSync
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// SetQueue attaches the background queue once the worker pool exists.
func (s *PersonService) SetQueue(queue TaskQueue) {
	s.queue = queue
}

// --- inputs and results ---

// CreatePersonInput carries the fields of a new person.
type CreatePersonInput struct {
	Name              string
	LocalName         string
	Gender            string
	BirthDate         *time.Time
	Parents           []string
	Spouse            *string
	Children          []string
	ProfilePictureURL string
	Bio               string
	LocalBio          string

	// UnsafeSkipChildSideChecks skips the two-parent and existence checks made
	// from each child's side. The resulting graph may break the parent invariants.
	UnsafeSkipChildSideChecks bool
}

// UpdatePersonInput is a partial update; nil fields are left unchanged.
type UpdatePersonInput struct {
	Name              *string
	LocalName         *string
	Gender            *string
	BirthDate         *time.Time
	ClearBirthDate    bool
	Parents           *[]string
	Spouse            *string
	ClearSpouse       bool
	Children          *[]string
	ProfilePictureURL *string
	Bio               *string
	LocalBio          *string

	UnsafeSkipChildSideChecks bool
}

// MutationResult is returned by every write. The primary write succeeded;
// Consistency tells whether peers already reflect it.
type MutationResult struct {
	Person      *models.Person          `json:"person,omitempty"`
	Consistency propagation.Consistency `json:"consistency"`
	TaskID      string                  `json:"task_id,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

// --- mutations ---

// CreatePerson validates and stores a new person, then links it into its relatives.
func (s *PersonService) CreatePerson(ctx context.Context, in CreatePersonInput) (*MutationResult, error) {
	p := models.Person{
		ID:                s.newID(),
		Name:              strings.TrimSpace(in.Name),
		LocalName:         strings.TrimSpace(in.LocalName),
		Gender:            normalizeGender(in.Gender),
		BirthDate:         in.BirthDate,
		Parents:           slices.Clone(in.Parents),
		Children:          slices.Clone(in.Children),
		ProfilePictureURL: strings.TrimSpace(in.ProfilePictureURL),
		Bio:               in.Bio,
		LocalBio:          in.LocalBio,
		Active:            true,
	}
	if in.Spouse != nil && *in.Spouse != "" {
		spouse := *in.Spouse
		p.SpouseID = &spouse
	}
	p.Normalize()

	if err := s.reject(s.fields.ValidatePerson(p)); err != nil {
		return nil, err
	}
	change := validation.Change{
		Candidate:           p,
		ParentsChanged:      len(p.Parents) > 0,
		SpouseChanged:       p.SpouseID != nil,
		ChildrenChanged:     len(p.Children) > 0,
		SkipChildSideChecks: in.UnsafeSkipChildSideChecks,
	}
	if err := s.validateRelations(ctx, change); err != nil {
		return nil, err
	}

	task, err := s.recordTask(ctx, p.ID, propagation.Plan(nil, &p))
	if err != nil {
		return nil, err
	}
	if err := s.people.Create(ctx, &p); err != nil {
		s.discardTask(ctx, task)
		return nil, fmt.Errorf("failed to create person: %w", err)
	}

	s.logger.Info("Person created", zap.String("person_id", p.ID), zap.Bool("unsafe_child_side", in.UnsafeSkipChildSideChecks))
	result := s.propagate(ctx, &p, task)
	s.notify(realtime.EventPersonCreated, p.ID, result)
	return result, nil
}

// UpdatePerson applies a partial update. Only the relationship fields that
// actually change are re-validated and propagated.
func (s *PersonService) UpdatePerson(ctx context.Context, id string, in UpdatePersonInput) (*MutationResult, error) {
	before, err := s.people.GetByID(ctx, id, repository.ActiveOnly)
	if err != nil {
		return nil, err
	}
	after := before.Clone()
	applyUpdate(&after, in)
	after.Normalize()

	if err := s.reject(s.fields.ValidatePerson(after)); err != nil {
		return nil, err
	}
	change := validation.Change{
		Candidate:           after,
		Before:              before,
		ParentsChanged:      !slices.Equal(before.Parents, after.Parents),
		SpouseChanged:       before.Spouse() != after.Spouse(),
		ChildrenChanged:     !slices.Equal(before.Children, after.Children),
		GenderChanged:       before.Gender != after.Gender,
		SkipChildSideChecks: in.UnsafeSkipChildSideChecks,
	}
	if change.ParentsChanged || change.SpouseChanged || change.ChildrenChanged || change.GenderChanged {
		if err := s.validateRelations(ctx, change); err != nil {
			return nil, err
		}
	}

	task, err := s.recordTask(ctx, id, propagation.Plan(before, &after))
	if err != nil {
		return nil, err
	}
	if err := s.people.Update(ctx, &after, before.Version); err != nil {
		s.discardTask(ctx, task)
		return nil, fmt.Errorf("failed to update person %s: %w", id, err)
	}

	s.logger.Info("Person updated", zap.String("person_id", id), zap.Int64("version", after.Version))
	result := s.propagate(ctx, &after, task)
	s.notify(realtime.EventPersonUpdated, id, result)
	return result, nil
}

// SoftDeletePerson marks a person inactive. Relatives keep their references.
func (s *PersonService) SoftDeletePerson(ctx context.Context, id string) error {
	p, err := s.people.GetByID(ctx, id, repository.ActiveOnly)
	if err != nil {
		return err
	}
	p.Active = false
	if err := s.people.Update(ctx, p, p.Version); err != nil {
		return fmt.Errorf("failed to deactivate person %s: %w", id, err)
	}
	s.logger.Info("Person deactivated", zap.String("person_id", id))
	s.notify(realtime.EventPersonDeleted, id, &MutationResult{Consistency: propagation.Consistent})
	return nil
}

// HardDeletePerson removes a person and strips every reference to it from
// its spouse, parents and children.
func (s *PersonService) HardDeletePerson(ctx context.Context, id string) (*MutationResult, error) {
	before, err := s.people.GetByID(ctx, id, repository.WithInactive)
	if err != nil {
		return nil, err
	}

	writes := propagation.Plan(before, nil)
	holders, err := s.people.FindBySpouse(ctx, id, repository.WithInactive)
	if err != nil {
		return nil, err
	}
	for _, h := range holders {
		w := models.PeerWrite{Op: models.OpClearSpouse, PeerID: h.ID, SubjectID: id}
		if !slices.Contains(writes, w) {
			writes = append(writes, w)
		}
	}

	task, err := s.recordTask(ctx, id, writes)
	if err != nil {
		return nil, err
	}
	if err := s.people.Delete(ctx, id); err != nil {
		s.discardTask(ctx, task)
		return nil, fmt.Errorf("failed to delete person %s: %w", id, err)
	}

	s.logger.Info("Person deleted", zap.String("person_id", id), zap.Int("peer_writes", len(writes)))
	result := s.propagate(ctx, nil, task)
	s.notify(realtime.EventPersonDeleted, id, result)
	return result, nil
}

// RestorePerson reactivates a soft-deleted person. Its spouse must still be available.
func (s *PersonService) RestorePerson(ctx context.Context, id string) (*MutationResult, error) {
	p, err := s.people.GetByID(ctx, id, repository.WithInactive)
	if err != nil {
		return nil, err
	}
	if p.Active {
		return &MutationResult{Person: p, Consistency: propagation.Consistent}, nil
	}

	restored := p.Clone()
	restored.Active = true
	if restored.SpouseID != nil {
		change := validation.Change{Candidate: restored, Before: p, SpouseChanged: true}
		if err := s.validateRelations(ctx, change); err != nil {
			return nil, err
		}
	}
	if err := s.people.Update(ctx, &restored, p.Version); err != nil {
		return nil, fmt.Errorf("failed to restore person %s: %w", id, err)
	}

	s.logger.Info("Person restored", zap.String("person_id", id))
	result := &MutationResult{Person: &restored, Consistency: propagation.Consistent}
	s.notify(realtime.EventPersonUpdated, id, result)
	return result, nil
}

// --- queries ---

func (s *PersonService) GetPerson(ctx context.Context, id string, includeInactive bool) (*models.Person, error) {
	return s.people.GetByID(ctx, id, repository.QueryOptions{IncludeInactive: includeInactive})
}

// ListPeople returns everyone, sorted by one of the database sort orders.
func (s *PersonService) ListPeople(ctx context.Context, includeInactive bool, sortOrder string) ([]models.Person, error) {
	people, err := s.people.List(ctx, repository.QueryOptions{IncludeInactive: includeInactive})
	if err != nil {
		return nil, err
	}
	database.SortPeople(people, sortOrder)
	return people, nil
}

func (s *PersonService) GetImmediateFamily(ctx context.Context, id string) (*models.ImmediateFamily, error) {
	return s.assembler.ImmediateFamily(ctx, id)
}

// GetFamilyTree returns nil for depth <= 0.
func (s *PersonService) GetFamilyTree(ctx context.Context, id string, depth int) (*models.TreeNode, error) {
	return s.assembler.Assemble(ctx, id, depth)
}

func (s *PersonService) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	return s.index.Search(ctx, query, limit)
}

// Audit reports every invariant breach currently stored. It repairs nothing.
func (s *PersonService) Audit(ctx context.Context) ([]propagation.Inconsistency, error) {
	people, err := s.people.List(ctx, repository.WithInactive)
	if err != nil {
		return nil, err
	}
	return propagation.Audit(people), nil
}

// --- helpers ---

func (s *PersonService) validateRelations(ctx context.Context, change validation.Change) error {
	snaps, err := s.hydrate(ctx, change.Candidate)
	if err != nil {
		return err
	}
	return s.reject(s.relations.Validate(change, snaps))
}

// reject counts the violated rules of a validation error and passes it through.
func (s *PersonService) reject(err error) error {
	if verr, ok := validation.AsValidationError(err); ok {
		for _, v := range verr.Violations {
			metrics.ValidationRejections.WithLabelValues(string(v.Rule)).Inc()
		}
	}
	return err
}

// recordTask persists the owed writes before the primary write so a crash in
// between leaves a task to replay. The task stays recorded, which workers leave
// alone, until propagate takes it over. It returns nil when nothing is owed.
func (s *PersonService) recordTask(ctx context.Context, personID string, writes []models.PeerWrite) (*models.PropagationTask, error) {
	if len(writes) == 0 {
		return nil, nil
	}
	task := &models.PropagationTask{
		ID:       s.newID(),
		PersonID: personID,
		Writes:   writes,
		Status:   models.TaskRecorded,
	}
	if err := s.tasks.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to record propagation task: %w", err)
	}
	return task, nil
}

// discardTask drops the task of a primary write that did not commit. A task
// left behind is harmless since every write is guarded by the subject's state.
func (s *PersonService) discardTask(ctx context.Context, task *models.PropagationTask) {
	if task == nil {
		return
	}
	if err := s.tasks.Delete(context.WithoutCancel(ctx), task.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("Failed to discard propagation task", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// propagate runs or queues the task of a committed primary write. The caller's
// cancellation no longer applies once the primary write is durable.
func (s *PersonService) propagate(ctx context.Context, p *models.Person, task *models.PropagationTask) *MutationResult {
	result := &MutationResult{Person: p, Consistency: propagation.Consistent}
	if task == nil {
		return result
	}
	result.TaskID = task.ID
	ctx = context.WithoutCancel(ctx)

	if s.mode == config.PropagationModeAsync && s.queue != nil {
		task.Status = models.TaskPending
		if err := s.tasks.Save(ctx, task); err != nil {
			s.logger.Error("Failed to mark propagation task pending", zap.String("task_id", task.ID), zap.Error(err))
		}
		if !s.queue.QueueTask(*task) {
			s.logger.Warn("Propagation queue full, task left for the sweeper", zap.String("task_id", task.ID))
		}
		result.Consistency = propagation.Pending
		return result
	}

	report, err := s.executor.Execute(ctx, *task)
	if err == nil {
		if delErr := s.tasks.Delete(ctx, task.ID); delErr != nil {
			s.logger.Warn("Failed to delete completed propagation task", zap.String("task_id", task.ID), zap.Error(delErr))
		}
		return result
	}

	task.Writes = report.Remaining
	task.Attempts++
	task.LastError = err.Error()
	task.Status = models.TaskPending
	if report.Rejected() {
		task.Status = models.TaskRejected
	}
	if saveErr := s.tasks.Save(ctx, task); saveErr != nil {
		s.logger.Error("Failed to save degraded propagation task", zap.String("task_id", task.ID), zap.Error(saveErr))
	}
	for _, f := range report.Failures {
		result.Warnings = append(result.Warnings, f.Error())
	}
	result.Consistency = propagation.Degraded
	s.logger.Warn("Propagation degraded",
		zap.String("task_id", task.ID),
		zap.String("status", string(task.Status)),
		zap.String("person_id", task.PersonID),
		zap.Int("remaining", len(report.Remaining)),
		zap.Error(err))

	if s.queue != nil && task.Status == models.TaskPending {
		s.queue.QueueTask(*task)
	}
	if s.notifier != nil {
		s.notifier.Broadcast(realtime.Event{
			Type:     realtime.EventGraphDegraded,
			PersonID: task.PersonID,
			TaskID:   task.ID,
			Error:    err.Error(),
		})
	}
	return result
}

func (s *PersonService) notify(eventType, personID string, result *MutationResult) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(realtime.Event{
		Type:      eventType,
		PersonID:  personID,
		TaskID:    result.TaskID,
		Status:    string(result.Consistency),
		Timestamp: s.now().UnixMilli(),
	})
}

// normalizeGender lowercases known values and leaves anything else for the field validator.
func normalizeGender(raw string) models.Gender {
	if g, ok := models.ParseGender(raw); ok {
		return g
	}
	return models.Gender(strings.TrimSpace(raw))
}

func applyUpdate(p *models.Person, in UpdatePersonInput) {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.LocalName != nil {
		p.LocalName = strings.TrimSpace(*in.LocalName)
	}
	if in.Gender != nil {
		p.Gender = normalizeGender(*in.Gender)
	}
	if in.ClearBirthDate {
		p.BirthDate = nil
	} else if in.BirthDate != nil {
		b := *in.BirthDate
		p.BirthDate = &b
	}
	if in.Parents != nil {
		p.Parents = slices.Clone(*in.Parents)
	}
	if in.ClearSpouse {
		p.SpouseID = nil
	} else if in.Spouse != nil {
		spouse := *in.Spouse
		p.SpouseID = &spouse
	}
	if in.Children != nil {
		p.Children = slices.Clone(*in.Children)
	}
	if in.ProfilePictureURL != nil {
		p.ProfilePictureURL = strings.TrimSpace(*in.ProfilePictureURL)
	}
	if in.Bio != nil {
		p.Bio = *in.Bio
	}
	if in.LocalBio != nil {
		p.LocalBio = *in.LocalBio
	}
}
