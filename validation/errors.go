// Package validation decides whether a proposed person write is acceptable
// before anything is persisted. Relationship rules run over hydrated snapshots
// and never touch the store.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// RuleCode is the machine readable name of a violated rule.
type RuleCode string

const (
	RuleSelfReference        RuleCode = "self-reference"
	RuleMaxTwoParents        RuleCode = "max-two-parents"
	RuleDuplicateParent      RuleCode = "duplicate-parent"
	RuleParentGenderConflict RuleCode = "parent-gender-conflict"
	RuleReferenceNotFound    RuleCode = "reference-not-found"
	RuleReferenceInactive    RuleCode = "reference-inactive"
	RuleSpouseSameGender     RuleCode = "spouse-same-gender"
	RuleSpouseUnavailable    RuleCode = "spouse-unavailable"
	RuleDuplicateChild       RuleCode = "duplicate-child"
	RuleAncestryCycle        RuleCode = "ancestry-cycle"
	RuleRelativeAsSpouse     RuleCode = "relative-as-spouse"

	RuleMissingField      RuleCode = "missing-field"
	RuleInvalidName       RuleCode = "invalid-name"
	RuleInvalidLocalName  RuleCode = "invalid-local-name"
	RuleInvalidGender     RuleCode = "invalid-gender"
	RuleBirthDateInFuture RuleCode = "birth-date-in-future"
	RuleInvalidPhotoURL   RuleCode = "invalid-photo-url"
	RuleBioTooLong        RuleCode = "bio-too-long"
)

// Violation is a single broken rule.
type Violation struct {
	Rule     RuleCode `json:"rule"`
	Field    string   `json:"field"`
	PersonID string   `json:"person_id,omitempty"` // the referenced peer, when there is one
	Message  string   `json:"message"`
}

// ValidationError rejects a write before it reaches the store.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether any violation carries code.
func (e *ValidationError) Has(code RuleCode) bool {
	for _, v := range e.Violations {
		if v.Rule == code {
			return true
		}
	}
	return false
}

// Codes lists the rule codes in violation order, without repeats.
func (e *ValidationError) Codes() []RuleCode {
	seen := make(map[RuleCode]bool, len(e.Violations))
	codes := make([]RuleCode, 0, len(e.Violations))
	for _, v := range e.Violations {
		if !seen[v.Rule] {
			seen[v.Rule] = true
			codes = append(codes, v.Rule)
		}
	}
	return codes
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

func toError(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}
