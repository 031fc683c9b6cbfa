package propagation

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/camden-git/familytree/models"
)

// InconsistencyKind names the invariant an Inconsistency breaks.
type InconsistencyKind string

const (
	KindSelfReference        InconsistencyKind = "self-reference"
	KindParentCardinality    InconsistencyKind = "parent-cardinality"
	KindParentGender         InconsistencyKind = "parent-gender"
	KindParentChildAsymmetry InconsistencyKind = "parent-child-asymmetry"
	KindSpouseAsymmetry      InconsistencyKind = "spouse-asymmetry"
	KindSpouseExclusivity    InconsistencyKind = "spouse-exclusivity"
	KindDanglingReference    InconsistencyKind = "dangling-reference"
)

// Inconsistency is one invariant breach found at rest.
type Inconsistency struct {
	Kind     InconsistencyKind `json:"kind"`
	PersonID string            `json:"person_id"`
	PeerID   string            `json:"peer_id,omitempty"`
	Detail   string            `json:"detail"`
}

// Audit checks every invariant over people, which should include inactive
// records. It only reports; nothing is repaired.
func Audit(people []models.Person) []Inconsistency {
	byID := make(map[string]models.Person, len(people))
	for _, p := range people {
		byID[p.ID] = p
	}

	var out []Inconsistency
	report := func(kind InconsistencyKind, personID, peerID, format string, args ...any) {
		out = append(out, Inconsistency{Kind: kind, PersonID: personID, PeerID: peerID, Detail: fmt.Sprintf(format, args...)})
	}

	holders := make(map[string][]string)
	for _, p := range people {
		for _, id := range p.RelatedIDs() {
			if id == p.ID {
				report(KindSelfReference, p.ID, id, "%s references itself", p.ID)
			}
		}

		if len(p.Parents) > 2 || len(p.Parents) != len(difference(p.Parents, nil)) {
			report(KindParentCardinality, p.ID, "", "%s has parents %v", p.ID, p.Parents)
		}
		if len(p.Parents) == 2 {
			a, aok := byID[p.Parents[0]]
			b, bok := byID[p.Parents[1]]
			if aok && bok && a.ID != b.ID && a.Gender == b.Gender {
				report(KindParentGender, p.ID, "", "both parents of %s are %s", p.ID, a.Gender)
			}
		}

		for _, id := range p.Parents {
			parent, ok := byID[id]
			switch {
			case !ok:
				report(KindDanglingReference, p.ID, id, "parent %s does not exist", id)
			case !parent.HasChild(p.ID):
				report(KindParentChildAsymmetry, p.ID, id, "%s lists parent %s but %s does not list the child", p.ID, id, id)
			}
		}
		for _, id := range p.Children {
			child, ok := byID[id]
			switch {
			case !ok:
				report(KindDanglingReference, p.ID, id, "child %s does not exist", id)
			case !child.HasParent(p.ID):
				report(KindParentChildAsymmetry, p.ID, id, "%s lists child %s but %s does not list the parent", p.ID, id, id)
			}
		}

		if s := p.Spouse(); s != "" {
			spouse, ok := byID[s]
			switch {
			case !ok:
				report(KindDanglingReference, p.ID, s, "spouse %s does not exist", s)
			case !spouse.SpouseIs(p.ID):
				report(KindSpouseAsymmetry, p.ID, s, "%s names spouse %s but %s names %q", p.ID, s, s, spouse.Spouse())
			}
			if p.Active {
				holders[s] = append(holders[s], p.ID)
			}
		}
	}

	for spouseID, ids := range holders {
		if len(ids) > 1 {
			slices.Sort(ids)
			report(KindSpouseExclusivity, spouseID, "", "%s is the spouse of %d active people: %v", spouseID, len(ids), ids)
		}
	}

	slices.SortFunc(out, func(a, b Inconsistency) int {
		return cmp.Or(
			cmp.Compare(a.PersonID, b.PersonID),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.PeerID, b.PeerID),
		)
	})
	return out
}
