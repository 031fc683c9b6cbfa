package repository

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist, or is inactive
	// and the query did not opt in to inactive records.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by Update when the stored version moved on.
	ErrVersionConflict = errors.New("version conflict")
)

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func personNotFound(id string) error {
	return &NotFoundError{Kind: "person", ID: id}
}

func taskNotFound(id string) error {
	return &NotFoundError{Kind: "propagation task", ID: id}
}

// Clock returns the current time; repositories take one so tests can pin timestamps.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
