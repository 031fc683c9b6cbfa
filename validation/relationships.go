package validation

import (
	"fmt"
	"maps"
	"slices"

	"github.com/camden-git/familytree/models"
)

// DefaultMaxAncestryDepth bounds the ancestry walk when no limit is configured.
const DefaultMaxAncestryDepth = 64

// Snapshots holds read-only copies of every person a check may need, keyed by id.
// It should include inactive people so missing and inactive references can be told apart.
type Snapshots map[string]models.Person

// Change describes one proposed write of Candidate.
type Change struct {
	Candidate models.Person
	// Before is the stored state for updates and nil for creates. References
	// already present before the write are not re-checked for existence or activity.
	Before *models.Person

	ParentsChanged  bool
	SpouseChanged   bool
	ChildrenChanged bool
	GenderChanged   bool

	// SkipChildSideChecks disables the cardinality, gender and existence checks
	// made from each child's point of view. Self-reference and duplicates are still rejected.
	SkipChildSideChecks bool
}

// RelationshipValidator checks relationship edges against the graph invariants.
type RelationshipValidator struct {
	MaxAncestryDepth int
}

// NewRelationshipValidator creates a validator walking at most maxAncestryDepth generations.
func NewRelationshipValidator(maxAncestryDepth int) *RelationshipValidator {
	if maxAncestryDepth <= 0 {
		maxAncestryDepth = DefaultMaxAncestryDepth
	}
	return &RelationshipValidator{MaxAncestryDepth: maxAncestryDepth}
}

// Validate runs every check relevant to the fields the change touches.
// It returns nil or a *ValidationError and is deterministic for equal inputs.
func (rv *RelationshipValidator) Validate(change Change, snaps Snapshots) error {
	cand := change.Candidate
	arena := make(Snapshots, len(snaps)+1)
	maps.Copy(arena, snaps)
	arena[cand.ID] = cand

	var violations []Violation
	if change.ParentsChanged {
		violations = append(violations, checkParents(cand.ID, cand.Parents, arena)...)
	}
	if change.SpouseChanged && cand.Spouse() != "" {
		violations = append(violations, checkSpouse(cand.ID, cand.Spouse(), arena)...)
	}
	if change.ChildrenChanged {
		violations = append(violations, checkChildren(cand.ID, cand.Children, arena, change.SkipChildSideChecks)...)
	}
	if change.GenderChanged {
		violations = append(violations, checkGenderAgainstRelatives(cand, arena, change)...)
	}
	if change.ParentsChanged || change.ChildrenChanged || change.SpouseChanged {
		violations = append(violations, checkLineage(cand, arena, rv.depth())...)
	}

	return toError(dropKnownReferences(violations, change.Before))
}

func (rv *RelationshipValidator) depth() int {
	if rv == nil || rv.MaxAncestryDepth <= 0 {
		return DefaultMaxAncestryDepth
	}
	return rv.MaxAncestryDepth
}

// ValidateParents rejects more than two parents, duplicates, self-reference,
// missing or inactive parents and two parents of the same gender.
func ValidateParents(candidateID string, parentIDs []string, snaps Snapshots) error {
	return toError(checkParents(candidateID, parentIDs, snaps))
}

// ValidateSpouse rejects self-reference, a missing or inactive spouse, a spouse
// of the same gender and a spouse already held by someone else. snaps must
// hold the candidate, otherwise the candidate is reported as not found.
func ValidateSpouse(candidateID, spouseID string, snaps Snapshots) error {
	return toError(checkSpouse(candidateID, spouseID, snaps))
}

// ValidateChildren rejects self-reference and duplicates. Unless skipChildSide is
// set it also rejects missing or inactive children and children whose resulting
// parent set would break the two-parent rule.
func ValidateChildren(candidateID string, childIDs []string, snaps Snapshots, skipChildSide bool) error {
	return toError(checkChildren(candidateID, childIDs, snaps, skipChildSide))
}

func checkParents(candidateID string, parentIDs []string, snaps Snapshots) []Violation {
	var out []Violation
	if len(parentIDs) > 2 {
		out = append(out, Violation{
			Rule:    RuleMaxTwoParents,
			Field:   "parents",
			Message: fmt.Sprintf("a person can have at most 2 parents, got %d", len(parentIDs)),
		})
	}

	seen := make(map[string]bool, len(parentIDs))
	var present []models.Person
	for _, id := range parentIDs {
		switch {
		case id == candidateID:
			out = append(out, selfReference("parents", id))
			continue
		case seen[id]:
			out = append(out, Violation{Rule: RuleDuplicateParent, Field: "parents", PersonID: id, Message: fmt.Sprintf("parent %s is listed more than once", id)})
			continue
		}
		seen[id] = true

		if v, ok := checkReference("parents", id, snaps); !ok {
			out = append(out, v)
		}
		// inactive parents still count toward the gender rule
		if p, ok := snaps[id]; ok {
			present = append(present, p)
		}
	}

	if len(parentIDs) == 2 && len(present) == 2 && present[0].Gender == present[1].Gender {
		out = append(out, Violation{
			Rule:     RuleParentGenderConflict,
			Field:    "parents",
			PersonID: present[1].ID,
			Message:  fmt.Sprintf("parents %s and %s are both %s", present[0].ID, present[1].ID, present[0].Gender),
		})
	}
	return out
}

func checkSpouse(candidateID, spouseID string, snaps Snapshots) []Violation {
	if spouseID == candidateID {
		return []Violation{selfReference("spouse", spouseID)}
	}
	if v, ok := checkReference("spouse", spouseID, snaps); !ok {
		return []Violation{v}
	}

	cand, ok := snaps[candidateID]
	if !ok {
		return []Violation{{Rule: RuleReferenceNotFound, Field: "id", PersonID: candidateID, Message: fmt.Sprintf("person %s does not exist", candidateID)}}
	}

	var out []Violation
	spouse := snaps[spouseID]
	if cand.Gender == spouse.Gender {
		out = append(out, Violation{
			Rule:     RuleSpouseSameGender,
			Field:    "spouse",
			PersonID: spouseID,
			Message:  fmt.Sprintf("spouse %s has the same gender (%s)", spouseID, spouse.Gender),
		})
	}

	if current := spouse.Spouse(); current != "" && current != candidateID {
		if holder, ok := snaps[current]; ok && holder.Active {
			out = append(out, spouseUnavailable(spouseID, current))
			return out
		}
	}
	for _, id := range slices.Sorted(maps.Keys(snaps)) {
		p := snaps[id]
		if id != candidateID && id != spouseID && p.Active && p.SpouseIs(spouseID) {
			out = append(out, spouseUnavailable(spouseID, id))
			break
		}
	}
	return out
}

func spouseUnavailable(spouseID, holderID string) Violation {
	return Violation{
		Rule:     RuleSpouseUnavailable,
		Field:    "spouse",
		PersonID: spouseID,
		Message:  fmt.Sprintf("%s is already married to %s", spouseID, holderID),
	}
}

func checkChildren(candidateID string, childIDs []string, snaps Snapshots, skipChildSide bool) []Violation {
	var out []Violation
	seen := make(map[string]bool, len(childIDs))
	for _, id := range childIDs {
		switch {
		case id == candidateID:
			out = append(out, selfReference("children", id))
			continue
		case seen[id]:
			out = append(out, Violation{Rule: RuleDuplicateChild, Field: "children", PersonID: id, Message: fmt.Sprintf("child %s is listed more than once", id)})
			continue
		}
		seen[id] = true
		if skipChildSide {
			continue
		}

		if v, ok := checkReference("children", id, snaps); !ok {
			out = append(out, v)
		}
		if child, ok := snaps[id]; ok {
			out = append(out, checkChildParents(candidateID, child, snaps)...)
		}
	}
	return out
}

// checkChildParents applies the two-parent rule to child's parent set once candidate joins it.
func checkChildParents(candidateID string, child models.Person, snaps Snapshots) []Violation {
	parents := child.Parents
	if !child.HasParent(candidateID) {
		parents = append(append([]string{}, child.Parents...), candidateID)
	}
	if len(parents) > 2 {
		return []Violation{{
			Rule:     RuleMaxTwoParents,
			Field:    "children",
			PersonID: child.ID,
			Message:  fmt.Sprintf("child %s already has %d parents", child.ID, len(child.Parents)),
		}}
	}
	if len(parents) < 2 {
		return nil
	}
	a, aok := snaps[parents[0]]
	b, bok := snaps[parents[1]]
	if aok && bok && a.Gender == b.Gender {
		return []Violation{{
			Rule:     RuleParentGenderConflict,
			Field:    "children",
			PersonID: child.ID,
			Message:  fmt.Sprintf("child %s would have two %s parents", child.ID, a.Gender),
		}}
	}
	return nil
}

// checkGenderAgainstRelatives re-checks gender rules on edges the change did not touch.
func checkGenderAgainstRelatives(cand models.Person, snaps Snapshots, change Change) []Violation {
	var out []Violation
	if !change.SpouseChanged {
		if spouse, ok := snaps[cand.Spouse()]; ok && spouse.Active && spouse.Gender == cand.Gender {
			out = append(out, Violation{
				Rule:     RuleSpouseSameGender,
				Field:    "gender",
				PersonID: spouse.ID,
				Message:  fmt.Sprintf("spouse %s has the same gender (%s)", spouse.ID, spouse.Gender),
			})
		}
	}
	if !change.ChildrenChanged {
		for _, id := range cand.Children {
			if child, ok := snaps[id]; ok && child.Active {
				for _, v := range checkChildParents(cand.ID, child, snaps) {
					if v.Rule == RuleParentGenderConflict {
						v.Field = "gender"
						out = append(out, v)
					}
				}
			}
		}
	}
	return out
}

// checkLineage rejects edges that would make someone their own ancestor or
// marry a parent or child.
func checkLineage(cand models.Person, snaps Snapshots, maxDepth int) []Violation {
	var out []Violation
	for _, id := range cand.Parents {
		if id != cand.ID && cand.HasChild(id) {
			out = append(out, Violation{Rule: RuleAncestryCycle, Field: "children", PersonID: id, Message: fmt.Sprintf("%s cannot be both a parent and a child", id)})
		}
	}
	if spouse := cand.Spouse(); spouse != "" && (cand.HasParent(spouse) || cand.HasChild(spouse)) {
		out = append(out, Violation{Rule: RuleRelativeAsSpouse, Field: "spouse", PersonID: spouse, Message: fmt.Sprintf("%s is already a parent or child", spouse)})
	}

	ancestors, selfReached := collectAncestors(cand, snaps, maxDepth)
	if selfReached {
		out = append(out, Violation{Rule: RuleAncestryCycle, Field: "parents", Message: fmt.Sprintf("%s would become their own ancestor", cand.ID)})
	}
	for _, id := range cand.Children {
		if ancestors[id] && !cand.HasParent(id) {
			out = append(out, Violation{Rule: RuleAncestryCycle, Field: "children", PersonID: id, Message: fmt.Sprintf("%s is an ancestor and cannot be a child", id)})
		}
	}
	return out
}

// collectAncestors walks parent links breadth first from cand. It reports the
// ancestor set and whether the walk came back to cand.
func collectAncestors(cand models.Person, snaps Snapshots, maxDepth int) (map[string]bool, bool) {
	ancestors := make(map[string]bool)
	var frontier []string
	for _, id := range cand.Parents {
		if id != cand.ID {
			frontier = append(frontier, id)
		}
	}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			if id == cand.ID {
				return ancestors, true
			}
			if ancestors[id] {
				continue
			}
			ancestors[id] = true
			if p, ok := snaps[id]; ok {
				next = append(next, p.Parents...)
			}
		}
		frontier = next
	}
	return ancestors, false
}

func checkReference(field, id string, snaps Snapshots) (Violation, bool) {
	p, ok := snaps[id]
	if !ok {
		return Violation{Rule: RuleReferenceNotFound, Field: field, PersonID: id, Message: fmt.Sprintf("person %s does not exist", id)}, false
	}
	if !p.Active {
		return Violation{Rule: RuleReferenceInactive, Field: field, PersonID: id, Message: fmt.Sprintf("person %s is inactive", id)}, false
	}
	return Violation{}, true
}

func selfReference(field, id string) Violation {
	return Violation{Rule: RuleSelfReference, Field: field, PersonID: id, Message: fmt.Sprintf("%s cannot reference itself in %s", id, field)}
}

// dropKnownReferences forgives missing or inactive references that were
// already linked before the write.
func dropKnownReferences(violations []Violation, before *models.Person) []Violation {
	if before == nil {
		return violations
	}
	out := violations[:0]
	for _, v := range violations {
		if v.Rule == RuleReferenceNotFound || v.Rule == RuleReferenceInactive {
			switch v.Field {
			case "parents":
				if before.HasParent(v.PersonID) {
					continue
				}
			case "children":
				if before.HasChild(v.PersonID) {
					continue
				}
			case "spouse":
				if before.SpouseIs(v.PersonID) {
					continue
				}
			}
		}
		out = append(out, v)
	}
	return out
}
