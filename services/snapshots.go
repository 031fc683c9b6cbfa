package services

import (
	"context"
	"fmt"

	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/repository"
	"github.com/camden-git/familytree/validation"
)

// hydrate loads every person the relationship checks may consult for cand:
// its referenced relatives, the spouse's current spouse and every other holder
// of that spouse, the children's other parents, and the ancestry up to
// maxAncestryScan generations. Inactive people are included so the validator
// can tell them apart from missing ones.
func (s *PersonService) hydrate(ctx context.Context, cand models.Person) (validation.Snapshots, error) {
	snaps := validation.Snapshots{}
	load := func(ids []string) error {
		var missing []string
		for _, id := range ids {
			if _, ok := snaps[id]; !ok && id != "" && id != cand.ID {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		found, err := s.people.GetMany(ctx, missing, repository.WithInactive)
		if err != nil {
			return fmt.Errorf("failed to load relationship snapshots: %w", err)
		}
		for id, p := range found {
			snaps[id] = p
		}
		return nil
	}

	if err := load(cand.RelatedIDs()); err != nil {
		return nil, err
	}

	var second []string
	if spouse, ok := snaps[cand.Spouse()]; ok {
		second = append(second, spouse.Spouse())
		holders, err := s.people.FindBySpouse(ctx, spouse.ID, repository.ActiveOnly)
		if err != nil {
			return nil, fmt.Errorf("failed to load holders of spouse %s: %w", spouse.ID, err)
		}
		for _, h := range holders {
			if _, ok := snaps[h.ID]; !ok && h.ID != cand.ID {
				snaps[h.ID] = h
			}
		}
	}
	for _, id := range cand.Children {
		if child, ok := snaps[id]; ok {
			second = append(second, child.Parents...)
		}
	}
	if err := load(second); err != nil {
		return nil, err
	}

	frontier := cand.Parents
	for gen := 0; gen < s.maxAncestryScan && len(frontier) > 0; gen++ {
		var next []string
		for _, id := range frontier {
			if p, ok := snaps[id]; ok {
				next = append(next, p.Parents...)
			}
		}
		var unseen []string
		for _, id := range next {
			if _, ok := snaps[id]; !ok && id != cand.ID {
				unseen = append(unseen, id)
			}
		}
		if err := load(unseen); err != nil {
			return nil, err
		}
		frontier = unseen
	}
	return snaps, nil
}
