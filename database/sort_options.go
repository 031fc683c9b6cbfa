package database

import (
	"sort"
	"strings"

	"github.com/facette/natsort"

	"github.com/camden-git/familytree/models"
)

const (
	SortNameAsc     = "name_asc"
	SortNameNat     = "name_nat"
	SortCreatedDesc = "created_desc"
	SortCreatedAsc  = "created_asc"
)

const DefaultSortOrder = SortNameAsc

// IsValidSortOrder checks if a string is a valid sort order constant
func IsValidSortOrder(order string) bool {
	switch order {
	case SortNameAsc, SortNameNat, SortCreatedDesc, SortCreatedAsc:
		return true
	default:
		return false
	}
}

// SortPeople orders people in place. Unknown orders fall back to DefaultSortOrder.
// Ties are broken by id so listings are stable across stores.
func SortPeople(people []models.Person, order string) {
	if !IsValidSortOrder(order) {
		order = DefaultSortOrder
	}
	sort.SliceStable(people, func(i, j int) bool {
		a, b := people[i], people[j]
		switch order {
		case SortNameNat:
			if a.Name != b.Name {
				return natsort.Compare(a.Name, b.Name)
			}
		case SortCreatedDesc:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		case SortCreatedAsc:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		default:
			an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
			if an != bn {
				return an < bn
			}
		}
		return a.ID < b.ID
	})
}
