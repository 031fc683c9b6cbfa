package propagation

import (
	"errors"
	"fmt"

	"github.com/camden-git/familytree/models"
)

// ErrParentLimit is returned when adding a parent would give the peer a third parent.
var ErrParentLimit = errors.New("peer already has two parents")

// PropagationError reports a peer write that did not land after the primary write committed.
// The primary write stands; the graph is degraded until the task is retried.
type PropagationError struct {
	PersonID string
	Write    models.PeerWrite
	Err      error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("failed to propagate %s to %s for %s: %v", e.Write.Op, e.Write.PeerID, e.PersonID, e.Err)
}

func (e *PropagationError) Unwrap() error {
	return e.Err
}

// Consistency tells a caller whether peers already reflect its mutation.
type Consistency string

const (
	Consistent Consistency = "consistent" // every peer write landed
	Pending    Consistency = "pending"    // queued for the background worker
	Degraded   Consistency = "degraded"   // a peer write failed and awaits retry
)
