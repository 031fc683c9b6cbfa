package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/database"
	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/propagation"
	"github.com/camden-git/familytree/services"
)

// ConsistencyHeader tells clients whether peers already reflect a mutation.
const ConsistencyHeader = "X-Graph-Consistency"

const defaultTreeDepth = 3

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

type PersonHandler struct {
	Service      *services.PersonService
	Logger       *zap.Logger
	MaxTreeDepth int
}

type createPersonRequest struct {
	Name                      string   `json:"name"`
	LocalName                 string   `json:"local_name"`
	Gender                    string   `json:"gender"`
	BirthDate                 string   `json:"birth_date"`
	Parents                   []string `json:"parents"`
	Spouse                    *string  `json:"spouse"`
	Children                  []string `json:"children"`
	ProfilePictureURL         string   `json:"profile_picture_url"`
	Bio                       string   `json:"bio"`
	LocalBio                  string   `json:"local_bio"`
	UnsafeSkipChildSideChecks bool     `json:"unsafe_skip_child_side_checks"`
}

// updatePersonRequest is a partial update. spouse and birth_date are kept raw
// so an explicit null can be told apart from an absent key.
type updatePersonRequest struct {
	Name                      *string         `json:"name"`
	LocalName                 *string         `json:"local_name"`
	Gender                    *string         `json:"gender"`
	BirthDate                 json.RawMessage `json:"birth_date"`
	Parents                   *[]string       `json:"parents"`
	Spouse                    json.RawMessage `json:"spouse"`
	Children                  *[]string       `json:"children"`
	ProfilePictureURL         *string         `json:"profile_picture_url"`
	Bio                       *string         `json:"bio"`
	LocalBio                  *string         `json:"local_bio"`
	UnsafeSkipChildSideChecks bool            `json:"unsafe_skip_child_side_checks"`
}

func (ph *PersonHandler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req createPersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}

	in := services.CreatePersonInput{
		Name:                      req.Name,
		LocalName:                 req.LocalName,
		Gender:                    req.Gender,
		Parents:                   req.Parents,
		Spouse:                    req.Spouse,
		Children:                  req.Children,
		ProfilePictureURL:         req.ProfilePictureURL,
		Bio:                       req.Bio,
		LocalBio:                  req.LocalBio,
		UnsafeSkipChildSideChecks: req.UnsafeSkipChildSideChecks,
	}
	if req.BirthDate != "" {
		birth, err := parseDate(req.BirthDate)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_birth_date", err.Error())
			return
		}
		in.BirthDate = &birth
	}

	result, err := ph.Service.CreatePerson(r.Context(), in)
	if err != nil {
		writeServiceError(w, ph.Logger, err, "create person")
		return
	}
	writeMutation(w, http.StatusCreated, result)
}

func (ph *PersonHandler) ListPeople(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := boolParam(r, "include_inactive")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	sortOrder := r.URL.Query().Get("sort")
	if sortOrder != "" && !database.IsValidSortOrder(sortOrder) {
		WriteAPIError(w, http.StatusBadRequest, "invalid_sort_order", fmt.Sprintf("Unknown sort order %q", sortOrder))
		return
	}

	people, err := ph.Service.ListPeople(r.Context(), includeInactive, sortOrder)
	if err != nil {
		writeServiceError(w, ph.Logger, err, "list people")
		return
	}
	if people == nil {
		people = []models.Person{}
	}
	writeJSON(w, http.StatusOK, people)
}

func (ph *PersonHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := boolParam(r, "include_inactive")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	person, err := ph.Service.GetPerson(r.Context(), chi.URLParam(r, "person_id"), includeInactive)
	if err != nil {
		writeServiceError(w, ph.Logger, err, "retrieve person")
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (ph *PersonHandler) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	var req updatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}

	in := services.UpdatePersonInput{
		Name:                      req.Name,
		LocalName:                 req.LocalName,
		Gender:                    req.Gender,
		Parents:                   req.Parents,
		Children:                  req.Children,
		ProfilePictureURL:         req.ProfilePictureURL,
		Bio:                       req.Bio,
		LocalBio:                  req.LocalBio,
		UnsafeSkipChildSideChecks: req.UnsafeSkipChildSideChecks,
	}
	if req.Spouse != nil {
		if isNull(req.Spouse) {
			in.ClearSpouse = true
		} else {
			var spouse string
			if err := json.Unmarshal(req.Spouse, &spouse); err != nil {
				WriteAPIError(w, http.StatusBadRequest, "invalid_spouse", "spouse must be a person id or null")
				return
			}
			if spouse == "" {
				in.ClearSpouse = true
			} else {
				in.Spouse = &spouse
			}
		}
	}
	if req.BirthDate != nil {
		if isNull(req.BirthDate) {
			in.ClearBirthDate = true
		} else {
			var raw string
			if err := json.Unmarshal(req.BirthDate, &raw); err != nil {
				WriteAPIError(w, http.StatusBadRequest, "invalid_birth_date", "birth_date must be a date string or null")
				return
			}
			birth, err := parseDate(raw)
			if err != nil {
				WriteAPIError(w, http.StatusBadRequest, "invalid_birth_date", err.Error())
				return
			}
			in.BirthDate = &birth
		}
	}

	result, err := ph.Service.UpdatePerson(r.Context(), chi.URLParam(r, "person_id"), in)
	if err != nil {
		writeServiceError(w, ph.Logger, err, "update person")
		return
	}
	writeMutation(w, http.StatusOK, result)
}

// DeletePerson soft deletes; relatives keep their references.
func (ph *PersonHandler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	if err := ph.Service.SoftDeletePerson(r.Context(), chi.URLParam(r, "person_id")); err != nil {
		writeServiceError(w, ph.Logger, err, "delete person")
		return
	}
	w.Header().Set(ConsistencyHeader, string(propagation.Consistent))
	writeJSON(w, http.StatusNoContent, nil)
}

func (ph *PersonHandler) HardDeletePerson(w http.ResponseWriter, r *http.Request) {
	result, err := ph.Service.HardDeletePerson(r.Context(), chi.URLParam(r, "person_id"))
	if err != nil {
		writeServiceError(w, ph.Logger, err, "delete person")
		return
	}
	writeMutation(w, http.StatusOK, result)
}

func (ph *PersonHandler) RestorePerson(w http.ResponseWriter, r *http.Request) {
	result, err := ph.Service.RestorePerson(r.Context(), chi.URLParam(r, "person_id"))
	if err != nil {
		writeServiceError(w, ph.Logger, err, "restore person")
		return
	}
	writeMutation(w, http.StatusOK, result)
}

func (ph *PersonHandler) GetImmediateFamily(w http.ResponseWriter, r *http.Request) {
	family, err := ph.Service.GetImmediateFamily(r.Context(), chi.URLParam(r, "person_id"))
	if err != nil {
		writeServiceError(w, ph.Logger, err, "retrieve family")
		return
	}
	writeJSON(w, http.StatusOK, family)
}

// GetFamilyTree serves ?depth=, defaulting to 3 and capped by MaxTreeDepth.
func (ph *PersonHandler) GetFamilyTree(w http.ResponseWriter, r *http.Request) {
	depth := defaultTreeDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_depth", "depth must be an integer")
			return
		}
		depth = d
	}
	if ph.MaxTreeDepth > 0 && depth > ph.MaxTreeDepth {
		depth = ph.MaxTreeDepth
	}

	node, err := ph.Service.GetFamilyTree(r.Context(), chi.URLParam(r, "person_id"), depth)
	if err != nil {
		writeServiceError(w, ph.Logger, err, "build family tree")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"depth": depth, "tree": node})
}

func (ph *PersonHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 0 {
			WriteAPIError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = l
	}

	results, err := ph.Service.Search(r.Context(), query, limit)
	if err != nil {
		writeServiceError(w, ph.Logger, err, "search people")
		return
	}
	if results == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Audit lists every stored invariant breach. Nothing is repaired.
func (ph *PersonHandler) Audit(w http.ResponseWriter, r *http.Request) {
	found, err := ph.Service.Audit(r.Context())
	if err != nil {
		writeServiceError(w, ph.Logger, err, "audit graph")
		return
	}
	if found == nil {
		found = []propagation.Inconsistency{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(found), "inconsistencies": found})
}

func writeMutation(w http.ResponseWriter, status int, result *services.MutationResult) {
	w.Header().Set(ConsistencyHeader, string(result.Consistency))
	writeJSON(w, status, result)
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("birth_date %q must be YYYY-MM-DD or RFC 3339", raw)
	}
	return t.UTC(), nil
}
