package models

import (
	"slices"
	"strings"
	"time"
)

// Gender is the binary gender enum used by the relationship rules.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender accepts any casing of "male" or "female".
func ParseGender(s string) (Gender, bool) {
	g := Gender(strings.ToLower(strings.TrimSpace(s)))
	return g, g.IsValid()
}

// IsValid reports whether g is one of the two known values.
func (g Gender) IsValid() bool {
	return g == GenderMale || g == GenderFemale
}

// Person represents a person in the family graph using GORM.
// It corresponds to the 'people' table. Relationship fields are stored inline
// (document style) with no foreign keys, so the engine keeps them consistent itself.
type Person struct {
	ID                string     `gorm:"primaryKey;type:text" json:"id"`
	Name              string     `gorm:"not null;index" json:"name"`
	LocalName         string     `gorm:"not null;index" json:"local_name"`
	BirthDate         *time.Time `json:"birth_date,omitempty"`
	Gender            Gender     `gorm:"type:text;not null" json:"gender"`
	Parents           []string   `gorm:"serializer:json;not null" json:"parents"`
	SpouseID          *string    `gorm:"column:spouse_id;index" json:"spouse"`
	Children          []string   `gorm:"serializer:json;not null" json:"children"`
	ProfilePictureURL string     `json:"profile_picture_url,omitempty"`
	Bio               string     `json:"bio,omitempty"`
	LocalBio          string     `json:"local_bio,omitempty"`
	Active            bool       `gorm:"not null;index" json:"active"`
	Version           int64      `gorm:"not null" json:"version"`
	CreatedAt         time.Time  `gorm:"autoCreateTime:false;not null" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime:false;not null" json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (Person) TableName() string {
	return "people"
}

// Clone returns a deep copy so callers can mutate relationship slices freely.
func (p Person) Clone() Person {
	out := p
	out.Parents = slices.Clone(p.Parents)
	out.Children = slices.Clone(p.Children)
	if p.SpouseID != nil {
		s := *p.SpouseID
		out.SpouseID = &s
	}
	if p.BirthDate != nil {
		b := *p.BirthDate
		out.BirthDate = &b
	}
	return out
}

// Spouse returns the spouse id or "" when unset.
func (p Person) Spouse() string {
	if p.SpouseID == nil {
		return ""
	}
	return *p.SpouseID
}

// SpouseIs reports whether p currently names id as spouse.
func (p Person) SpouseIs(id string) bool {
	return id != "" && p.Spouse() == id
}

func (p Person) HasParent(id string) bool {
	return slices.Contains(p.Parents, id)
}

func (p Person) HasChild(id string) bool {
	return slices.Contains(p.Children, id)
}

// RelatedIDs lists parents, spouse and children in that order.
func (p Person) RelatedIDs() []string {
	ids := make([]string, 0, len(p.Parents)+len(p.Children)+1)
	ids = append(ids, p.Parents...)
	if s := p.Spouse(); s != "" {
		ids = append(ids, s)
	}
	return append(ids, p.Children...)
}

// Ref returns the minimal display fields used for un-expanded references.
func (p Person) Ref() PersonRef {
	return PersonRef{
		ID:                p.ID,
		Name:              p.Name,
		LocalName:         p.LocalName,
		Gender:            p.Gender,
		ProfilePictureURL: p.ProfilePictureURL,
	}
}

// Normalize replaces nil relationship slices with empty ones.
func (p *Person) Normalize() {
	if p.Parents == nil {
		p.Parents = []string{}
	}
	if p.Children == nil {
		p.Children = []string{}
	}
	if p.SpouseID != nil && *p.SpouseID == "" {
		p.SpouseID = nil
	}
}

// PersonRef is a reference to a person carrying only display fields.
type PersonRef struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	LocalName         string `json:"local_name"`
	Gender            Gender `json:"gender"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
}

// ImmediateFamily is the one-hop neighbourhood of a person, active peers only.
type ImmediateFamily struct {
	Parents  []Person `json:"parents"`
	Spouse   *Person  `json:"spouse"`
	Children []Person `json:"children"`
}
