package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/camden-git/familytree/models"
)

// DefaultBioMaxLength caps bio and local bio when no limit is configured.
const DefaultBioMaxLength = 500

// latinNamePattern allows spaces, apostrophes and hyphens around at least one letter.
var latinNamePattern = regexp.MustCompile(`^[A-Za-z '\-]*[A-Za-z][A-Za-z '\-]*$`)

// FieldRules configures the scalar field checks.
type FieldRules struct {
	// LocalScript is the unicode script local names must be written in.
	LocalScript *unicode.RangeTable
	// PhotoHost must match the host of a profile picture URL.
	PhotoHost    *regexp.Regexp
	BioMaxLength int
	Now          func() time.Time
}

// FieldValidator checks the non-relationship fields of a person.
type FieldValidator struct {
	validate *validator.Validate
	rules    FieldRules
}

// personFields mirrors the validated scalar fields of models.Person.
type personFields struct {
	Name              string     `json:"name" validate:"required,min=2,max=50,latinname"`
	LocalName         string     `json:"local_name" validate:"required,min=2,max=50,localscript"`
	Gender            string     `json:"gender" validate:"required,oneof=male female"`
	BirthDate         *time.Time `json:"birth_date" validate:"omitempty,notfuture"`
	ProfilePictureURL string     `json:"profile_picture_url" validate:"omitempty,photourl"`
	Bio               string     `json:"bio" validate:"biolen"`
	LocalBio          string     `json:"local_bio" validate:"biolen"`
}

// NewFieldValidator registers the custom tags against rules.
func NewFieldValidator(rules FieldRules) (*FieldValidator, error) {
	if rules.LocalScript == nil {
		rules.LocalScript = unicode.Devanagari
	}
	if rules.PhotoHost == nil {
		return nil, errors.New("photo host pattern is required")
	}
	if rules.BioMaxLength <= 0 {
		rules.BioMaxLength = DefaultBioMaxLength
	}
	if rules.Now == nil {
		rules.Now = time.Now
	}

	fv := &FieldValidator{validate: validator.New(), rules: rules}
	fv.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	custom := map[string]validator.Func{
		"latinname":   fv.latinName,
		"localscript": fv.localScript,
		"notfuture":   fv.notFuture,
		"photourl":    fv.photoURL,
		"biolen":      fv.bioLength,
	}
	for tag, fn := range custom {
		if err := fv.validate.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("failed to register %s validation: %w", tag, err)
		}
	}
	return fv, nil
}

// ValidatePerson returns a *ValidationError listing every invalid scalar field.
func (fv *FieldValidator) ValidatePerson(p models.Person) error {
	fields := personFields{
		Name:              p.Name,
		LocalName:         p.LocalName,
		Gender:            string(p.Gender),
		BirthDate:         p.BirthDate,
		ProfilePictureURL: p.ProfilePictureURL,
		Bio:               p.Bio,
		LocalBio:          p.LocalBio,
	}

	err := fv.validate.Struct(fields)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate person fields: %w", err)
	}

	violations := make([]Violation, 0, len(verrs))
	for _, fe := range verrs {
		violations = append(violations, Violation{
			Rule:    ruleForField(fe),
			Field:   fe.Field(),
			Message: fieldMessage(fe, fv.rules),
		})
	}
	return &ValidationError{Violations: violations}
}

func ruleForField(fe validator.FieldError) RuleCode {
	if fe.Tag() == "required" {
		return RuleMissingField
	}
	switch fe.StructField() {
	case "Name":
		return RuleInvalidName
	case "LocalName":
		return RuleInvalidLocalName
	case "Gender":
		return RuleInvalidGender
	case "BirthDate":
		return RuleBirthDateInFuture
	case "ProfilePictureURL":
		return RuleInvalidPhotoURL
	default:
		return RuleBioTooLong
	}
}

func fieldMessage(fe validator.FieldError, rules FieldRules) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min", "max":
		return fmt.Sprintf("%s must be between 2 and 50 characters", fe.Field())
	case "latinname":
		return fmt.Sprintf("%s may only contain Latin letters, spaces, hyphens and apostrophes", fe.Field())
	case "localscript":
		return fmt.Sprintf("%s must be written in the configured local script", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "notfuture":
		return fmt.Sprintf("%s cannot be in the future", fe.Field())
	case "photourl":
		return fmt.Sprintf("%s must be an https URL on an allowed host", fe.Field())
	case "biolen":
		return fmt.Sprintf("%s cannot exceed %d characters", fe.Field(), rules.BioMaxLength)
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// --- custom tags ---

func (fv *FieldValidator) latinName(fl validator.FieldLevel) bool {
	return latinNamePattern.MatchString(fl.Field().String())
}

// localScript accepts letters and marks of the configured script plus spaces
// and hyphens, with at least one script character.
func (fv *FieldValidator) localScript(fl validator.FieldLevel) bool {
	scriptRunes := 0
	for _, r := range fl.Field().String() {
		switch {
		case unicode.Is(fv.rules.LocalScript, r):
			scriptRunes++
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return scriptRunes > 0
}

func (fv *FieldValidator) notFuture(fl validator.FieldLevel) bool {
	t, ok := fl.Field().Interface().(time.Time)
	if !ok {
		return false
	}
	return !t.After(fv.rules.Now())
}

func (fv *FieldValidator) photoURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return false
	}
	return fv.rules.PhotoHost.MatchString(strings.ToLower(u.Hostname()))
}

func (fv *FieldValidator) bioLength(fl validator.FieldLevel) bool {
	return utf8.RuneCountInString(fl.Field().String()) <= fv.rules.BioMaxLength
}
