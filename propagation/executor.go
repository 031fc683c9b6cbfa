package propagation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/camden-git/familytree/metrics"
	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/repository"
)

// DefaultConflictRetries bounds re-reads of a peer whose version moved under us.
const DefaultConflictRetries = 3

// Report is the outcome of one task execution.
type Report struct {
	Applied   []models.PeerWrite
	Skipped   []models.PeerWrite // already satisfied or no longer owed
	Remaining []models.PeerWrite // failed, still owed
	Failures  []*PropagationError
}

// Executor applies peer writes one document at a time.
type Executor struct {
	people          repository.PersonRepositoryInterface
	logger          *zap.Logger
	conflictRetries int
}

// NewExecutor creates a new executor
func NewExecutor(people repository.PersonRepositoryInterface, logger *zap.Logger, conflictRetries int) *Executor {
	if conflictRetries < 0 {
		conflictRetries = DefaultConflictRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{people: people, logger: logger, conflictRetries: conflictRetries}
}

// Rejected reports whether every remaining write failed for a reason retries cannot fix.
func (r Report) Rejected() bool {
	if len(r.Failures) == 0 {
		return false
	}
	for _, f := range r.Failures {
		if !errors.Is(f, ErrParentLimit) {
			return false
		}
	}
	return true
}

// Execute applies every write of task. Each write is guarded by the subject's
// current state, so running a task twice, or after the subject changed again,
// converges instead of restoring stale edges. A failed write does not stop the
// others; the returned error joins every failure.
func (e *Executor) Execute(ctx context.Context, task models.PropagationTask) (Report, error) {
	var report Report
	var errs []error
	for _, w := range task.Writes {
		if err := ctx.Err(); err != nil {
			pe := &PropagationError{PersonID: task.PersonID, Write: w, Err: err}
			report.Remaining = append(report.Remaining, w)
			report.Failures = append(report.Failures, pe)
			errs = append(errs, pe)
			continue
		}

		applied, err := e.apply(ctx, w)
		switch {
		case err != nil:
			pe := &PropagationError{PersonID: task.PersonID, Write: w, Err: err}
			report.Remaining = append(report.Remaining, w)
			report.Failures = append(report.Failures, pe)
			errs = append(errs, pe)
			metrics.PropagationWrites.WithLabelValues(string(w.Op), metrics.ResultFailed).Inc()
			e.logger.Warn("Peer write failed",
				zap.String("task_id", task.ID),
				zap.String("person_id", task.PersonID),
				zap.String("peer_id", w.PeerID),
				zap.String("op", string(w.Op)),
				zap.Error(err))
		case applied:
			report.Applied = append(report.Applied, w)
			metrics.PropagationWrites.WithLabelValues(string(w.Op), metrics.ResultApplied).Inc()
		default:
			report.Skipped = append(report.Skipped, w)
		}
	}
	return report, errors.Join(errs...)
}

// apply performs one guarded write, re-reading both documents after a version conflict.
func (e *Executor) apply(ctx context.Context, w models.PeerWrite) (bool, error) {
	for attempt := 0; ; attempt++ {
		subject, err := e.load(ctx, w.SubjectID)
		if err != nil {
			return false, err
		}
		peer, err := e.load(ctx, w.PeerID)
		if err != nil {
			return false, err
		}
		if peer == nil {
			metrics.PropagationWrites.WithLabelValues(string(w.Op), metrics.ResultStale).Inc()
			return false, nil
		}

		updated, changed, err := mutate(*peer, w, subject)
		if err != nil {
			return false, err
		}
		if !changed {
			metrics.PropagationWrites.WithLabelValues(string(w.Op), metrics.ResultNoop).Inc()
			return false, nil
		}

		err = e.people.Update(ctx, &updated, peer.Version)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, repository.ErrNotFound) {
			metrics.PropagationWrites.WithLabelValues(string(w.Op), metrics.ResultStale).Inc()
			return false, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= e.conflictRetries {
			return false, err
		}
		metrics.PropagationWrites.WithLabelValues(string(w.Op), metrics.ResultConflict).Inc()
		e.logger.Debug("Version conflict on peer, retrying",
			zap.String("peer_id", w.PeerID),
			zap.String("op", string(w.Op)),
			zap.Int("attempt", attempt+1))
	}
}

// load returns nil for a person that no longer exists.
func (e *Executor) load(ctx context.Context, id string) (*models.Person, error) {
	p, err := e.people.GetByID(ctx, id, repository.WithInactive)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load person %s: %w", id, err)
	}
	return p, nil
}

// mutate returns peer after w, and whether anything changed. subject is nil
// when the subject was hard deleted.
func mutate(peer models.Person, w models.PeerWrite, subject *models.Person) (models.Person, bool, error) {
	out := peer.Clone()
	sid := w.SubjectID

	switch w.Op {
	case models.OpSetSpouse:
		if subject == nil || !subject.SpouseIs(peer.ID) || peer.SpouseIs(sid) {
			return peer, false, nil
		}
		out.SpouseID = &sid

	case models.OpClearSpouse:
		if (subject != nil && subject.SpouseIs(peer.ID)) || !peer.SpouseIs(sid) {
			return peer, false, nil
		}
		out.SpouseID = nil

	case models.OpAddChild:
		if subject == nil || !subject.HasParent(peer.ID) || peer.HasChild(sid) {
			return peer, false, nil
		}
		out.Children = append(out.Children, sid)

	case models.OpRemoveChild:
		if (subject != nil && subject.HasParent(peer.ID)) || !peer.HasChild(sid) {
			return peer, false, nil
		}
		out.Children = slices.DeleteFunc(out.Children, func(id string) bool { return id == sid })

	case models.OpAddParent:
		if subject == nil || !subject.HasChild(peer.ID) || peer.HasParent(sid) {
			return peer, false, nil
		}
		if len(peer.Parents) >= 2 {
			return peer, false, ErrParentLimit
		}
		out.Parents = append(out.Parents, sid)

	case models.OpRemoveParent:
		if (subject != nil && subject.HasChild(peer.ID)) || !peer.HasParent(sid) {
			return peer, false, nil
		}
		out.Parents = slices.DeleteFunc(out.Parents, func(id string) bool { return id == sid })

	default:
		return peer, false, fmt.Errorf("unknown peer op %q", w.Op)
	}
	return out, true, nil
}
