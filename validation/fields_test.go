package validation

import (
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/familytree/models"
)

var fixedNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func newFieldValidator(t *testing.T) *FieldValidator {
	t.Helper()
	fv, err := NewFieldValidator(FieldRules{
		LocalScript:  unicode.Devanagari,
		PhotoHost:    regexp.MustCompile(`^([a-z0-9-]+\.)*cloudinary\.com$`),
		BioMaxLength: 20,
		Now:          func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return fv
}

func validPerson() models.Person {
	born := fixedNow.AddDate(-30, 0, 0)
	return models.Person{
		ID:                "p-1",
		Name:              "Ram O'Neil-Kumar",
		LocalName:         "राम कुमार",
		Gender:            models.GenderMale,
		BirthDate:         &born,
		ProfilePictureURL: "https://res.cloudinary.com/demo/image/upload/ram.jpg",
		Bio:               "farmer",
		LocalBio:          "किसान",
	}
}

func TestValidatePersonAcceptsValidFields(t *testing.T) {
	fv := newFieldValidator(t)
	assert.NoError(t, fv.ValidatePerson(validPerson()))

	p := validPerson()
	p.BirthDate = nil
	p.ProfilePictureURL = ""
	p.Bio = ""
	assert.NoError(t, fv.ValidatePerson(p))
}

func TestValidatePersonRules(t *testing.T) {
	future := fixedNow.Add(24 * time.Hour)
	cases := []struct {
		name   string
		mutate func(p *models.Person)
		rule   RuleCode
		field  string
	}{
		{"missing name", func(p *models.Person) { p.Name = "" }, RuleMissingField, "name"},
		{"short name", func(p *models.Person) { p.Name = "R" }, RuleInvalidName, "name"},
		{"long name", func(p *models.Person) { p.Name = strings.Repeat("a", 51) }, RuleInvalidName, "name"},
		{"digits in name", func(p *models.Person) { p.Name = "R2D2" }, RuleInvalidName, "name"},
		{"hyphens only", func(p *models.Person) { p.Name = "--" }, RuleInvalidName, "name"},
		{"punctuation only", func(p *models.Person) { p.Name = "' '" }, RuleInvalidName, "name"},
		{"latin local name", func(p *models.Person) { p.LocalName = "Ram" }, RuleInvalidLocalName, "local_name"},
		{"punctuation only local name", func(p *models.Person) { p.LocalName = "- -" }, RuleInvalidLocalName, "local_name"},
		{"missing gender", func(p *models.Person) { p.Gender = "" }, RuleMissingField, "gender"},
		{"unknown gender", func(p *models.Person) { p.Gender = "other" }, RuleInvalidGender, "gender"},
		{"future birth date", func(p *models.Person) { p.BirthDate = &future }, RuleBirthDateInFuture, "birth_date"},
		{"http photo", func(p *models.Person) { p.ProfilePictureURL = "http://res.cloudinary.com/x.jpg" }, RuleInvalidPhotoURL, "profile_picture_url"},
		{"foreign photo host", func(p *models.Person) { p.ProfilePictureURL = "https://evil.example/x.jpg" }, RuleInvalidPhotoURL, "profile_picture_url"},
		{"long bio", func(p *models.Person) { p.Bio = strings.Repeat("b", 21) }, RuleBioTooLong, "bio"},
		{"long local bio", func(p *models.Person) { p.LocalBio = strings.Repeat("क", 21) }, RuleBioTooLong, "local_bio"},
	}

	fv := newFieldValidator(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPerson()
			tc.mutate(&p)
			verr := requireRule(t, fv.ValidatePerson(p), tc.rule)
			require.Len(t, verr.Violations, 1)
			assert.Equal(t, tc.field, verr.Violations[0].Field)
		})
	}
}

func TestLocalNameLengthCountsCharacters(t *testing.T) {
	fv := newFieldValidator(t)
	p := validPerson()
	// 50 devanagari letters are 150 bytes but within the limit
	p.LocalName = strings.Repeat("क", 50)
	assert.NoError(t, fv.ValidatePerson(p))
	p.LocalBio = strings.Repeat("क", 20)
	assert.NoError(t, fv.ValidatePerson(p))
}

func TestNewFieldValidatorRequiresPhotoHost(t *testing.T) {
	_, err := NewFieldValidator(FieldRules{})
	assert.Error(t, err)
}
