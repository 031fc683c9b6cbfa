// Package propagation keeps relationship edges symmetric after a person is written.
// Planning is pure: it diffs the stored state before and after a primary write and
// emits the peer writes that make every edge bidirectional again.
package propagation

import (
	"slices"

	"github.com/camden-git/familytree/models"
)

// Plan returns the peer writes owed after before became after.
// before is nil for a create and after is nil for a hard delete.
func Plan(before, after *models.Person) []models.PeerWrite {
	var subjectID string
	switch {
	case after != nil:
		subjectID = after.ID
	case before != nil:
		subjectID = before.ID
	default:
		return nil
	}

	var old, cur models.Person
	if before != nil {
		old = *before
	}
	if after != nil {
		cur = *after
	}

	var writes []models.PeerWrite
	add := func(op models.PeerOp, peers ...string) {
		for _, peer := range peers {
			if peer != "" && peer != subjectID {
				writes = append(writes, models.PeerWrite{Op: op, PeerID: peer, SubjectID: subjectID})
			}
		}
	}

	if oldSpouse, newSpouse := old.Spouse(), cur.Spouse(); oldSpouse != newSpouse {
		add(models.OpClearSpouse, oldSpouse)
		add(models.OpSetSpouse, newSpouse)
	}

	add(models.OpRemoveChild, difference(old.Parents, cur.Parents)...)
	add(models.OpAddChild, difference(cur.Parents, old.Parents)...)
	add(models.OpRemoveParent, difference(old.Children, cur.Children)...)
	add(models.OpAddParent, difference(cur.Children, old.Children)...)

	return writes
}

// difference returns the ids of a missing from b, in a's order and without repeats.
func difference(a, b []string) []string {
	var out []string
	for _, id := range a {
		if !slices.Contains(b, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
