package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/config"
	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/propagation"
	"github.com/camden-git/familytree/repository/storetest"
	"github.com/camden-git/familytree/search"
	"github.com/camden-git/familytree/services"
	"github.com/camden-git/familytree/tree"
	"github.com/camden-git/familytree/validation"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	stores := storetest.SQLite(t)
	fields, err := validation.NewFieldValidator(validation.FieldRules{
		LocalScript: unicode.Devanagari,
		PhotoHost:   regexp.MustCompile(config.DefaultPhotoHostPattern),
	})
	require.NoError(t, err)

	svc := services.NewPersonService(services.PersonServiceDeps{
		People:    stores.People,
		Tasks:     stores.Tasks,
		Fields:    fields,
		Relations: validation.NewRelationshipValidator(16),
		Executor:  propagation.NewExecutor(stores.People, zap.NewNop(), 2),
		Assembler: tree.NewAssembler(stores.People, 4),
		Index:     search.NewIndex(stores.People, 10),
		Logger:    zap.NewNop(),
	})
	ph := &PersonHandler{Service: svc, Logger: zap.NewNop(), MaxTreeDepth: 4}
	return NewRouter(ph, RouterConfig{AllowedOrigins: []string{"http://localhost:5173"}})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createPerson(t *testing.T, h http.Handler, body map[string]interface{}) models.Person {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/people", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "consistent", rec.Header().Get(ConsistencyHeader))
	return *decode[services.MutationResult](t, rec).Person
}

func getPerson(t *testing.T, h http.Handler, id string) models.Person {
	t.Helper()
	rec := doRequest(t, h, http.MethodGet, "/api/people/"+id+"?include_inactive=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[models.Person](t, rec)
}

func errorCodes(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var codes []string
	for _, e := range decode[APIErrorResponse](t, rec).Errors {
		codes = append(codes, e.Code)
	}
	return codes
}

func TestPersonLifecycleOverHTTP(t *testing.T) {
	h := newTestRouter(t)

	alice := createPerson(t, h, map[string]interface{}{"name": "Alice", "local_name": "एलिस", "gender": "female", "birth_date": "1970-04-01"})
	bob := createPerson(t, h, map[string]interface{}{"name": "Bob", "local_name": "बॉब", "gender": "male"})
	require.NotNil(t, alice.BirthDate)
	assert.Equal(t, 1970, alice.BirthDate.Year())

	rec := doRequest(t, h, http.MethodPatch, "/api/people/"+alice.ID, map[string]interface{}{"spouse": bob.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "consistent", rec.Header().Get(ConsistencyHeader))
	assert.Equal(t, alice.ID, getPerson(t, h, bob.ID).Spouse())

	child := createPerson(t, h, map[string]interface{}{
		"name": "Child", "local_name": "बच्चा", "gender": "male",
		"parents": []string{alice.ID, bob.ID},
	})
	assert.Equal(t, []string{child.ID}, getPerson(t, h, alice.ID).Children)

	rec = doRequest(t, h, http.MethodGet, "/api/people/"+child.ID+"/family", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	family := decode[models.ImmediateFamily](t, rec)
	assert.Len(t, family.Parents, 2)

	rec = doRequest(t, h, http.MethodGet, "/api/people/"+child.ID+"/tree?depth=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"depth":2`)

	rec = doRequest(t, h, http.MethodDelete, "/api/people/"+alice.ID+"/hard", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "consistent", rec.Header().Get(ConsistencyHeader))

	assert.Nil(t, getPerson(t, h, bob.ID).SpouseID)
	assert.Equal(t, []string{bob.ID}, getPerson(t, h, child.ID).Parents)

	rec = doRequest(t, h, http.MethodGet, "/api/people/"+alice.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"not_found"}, errorCodes(t, rec))

	rec = doRequest(t, h, http.MethodGet, "/api/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestUpdateReportsEveryViolatedRule(t *testing.T) {
	h := newTestRouter(t)
	mom := createPerson(t, h, map[string]interface{}{"name": "Mom", "local_name": "माँ", "gender": "female"})
	dad := createPerson(t, h, map[string]interface{}{"name": "Dad", "local_name": "पिता", "gender": "male"})
	extra := createPerson(t, h, map[string]interface{}{"name": "Extra", "local_name": "अतिरिक्त", "gender": "male"})
	child := createPerson(t, h, map[string]interface{}{
		"name": "Child", "local_name": "बच्चा", "gender": "female",
		"parents": []string{mom.ID, dad.ID},
	})

	rec := doRequest(t, h, http.MethodPatch, "/api/people/"+child.ID, map[string]interface{}{
		"parents": []string{mom.ID, dad.ID, extra.ID},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, errorCodes(t, rec), "max-two-parents")
	assert.Equal(t, []string{mom.ID, dad.ID}, getPerson(t, h, child.ID).Parents)

	rec = doRequest(t, h, http.MethodPost, "/api/people", map[string]interface{}{"name": "", "local_name": "x", "gender": "other"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	codes := errorCodes(t, rec)
	assert.Contains(t, codes, "missing-field")
	assert.Contains(t, codes, "invalid-gender")
}

func TestPatchNullClearsFields(t *testing.T) {
	h := newTestRouter(t)
	alice := createPerson(t, h, map[string]interface{}{"name": "Alice", "local_name": "एलिस", "gender": "female", "birth_date": "1970-04-01"})
	bob := createPerson(t, h, map[string]interface{}{"name": "Bob", "local_name": "बॉब", "gender": "male"})

	rec := doRequest(t, h, http.MethodPatch, "/api/people/"+alice.ID, map[string]interface{}{"spouse": bob.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	// absent keys leave fields alone
	rec = doRequest(t, h, http.MethodPatch, "/api/people/"+alice.ID, `{"bio":"Teacher"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := getPerson(t, h, alice.ID)
	assert.Equal(t, bob.ID, got.Spouse())
	assert.NotNil(t, got.BirthDate)
	assert.Equal(t, "Teacher", got.Bio)

	rec = doRequest(t, h, http.MethodPatch, "/api/people/"+alice.ID, `{"spouse":null,"birth_date":null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = getPerson(t, h, alice.ID)
	assert.Nil(t, got.SpouseID)
	assert.Nil(t, got.BirthDate)
	assert.Nil(t, getPerson(t, h, bob.ID).SpouseID)
}

func TestSoftDeleteRestoreOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	p := createPerson(t, h, map[string]interface{}{"name": "Asha", "local_name": "आशा", "gender": "female"})

	rec := doRequest(t, h, http.MethodDelete, "/api/people/"+p.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/people/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, getPerson(t, h, p.ID).Active)

	rec = doRequest(t, h, http.MethodGet, "/api/people", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Person](t, rec))

	rec = doRequest(t, h, http.MethodPost, "/api/people/"+p.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, getPerson(t, h, p.ID).Active)
}

func TestSearchOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	createPerson(t, h, map[string]interface{}{"name": "Ram Kumar", "local_name": "राम कुमार", "gender": "male"})
	createPerson(t, h, map[string]interface{}{"name": "Ramesh", "local_name": "रमेश", "gender": "male"})
	createPerson(t, h, map[string]interface{}{"name": "Sita", "local_name": "सीता", "gender": "female"})

	rec := doRequest(t, h, http.MethodGet, "/api/people/search?q=ram", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]search.Result](t, rec)
	require.Len(t, results, 2)
	assert.Equal(t, "Ram Kumar", results[0].Person.Name)

	rec = doRequest(t, h, http.MethodGet, "/api/people/search?q=zzz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestBadRequests(t *testing.T) {
	h := newTestRouter(t)
	cases := []struct {
		name, method, path, body, code string
	}{
		{"malformed body", http.MethodPost, "/api/people", "{", "invalid_body"},
		{"bad birth date", http.MethodPost, "/api/people", `{"name":"Asha","local_name":"आशा","gender":"female","birth_date":"yesterday"}`, "invalid_birth_date"},
		{"bad sort", http.MethodGet, "/api/people?sort=random", "", "invalid_sort_order"},
		{"bad flag", http.MethodGet, "/api/people?include_inactive=maybe", "", "invalid_parameter"},
		{"bad depth", http.MethodGet, "/api/people/x/tree?depth=deep", "", "invalid_depth"},
		{"bad limit", http.MethodGet, "/api/people/search?q=a&limit=-1", "", "invalid_limit"},
		{"bad spouse", http.MethodPatch, "/api/people/x", `{"spouse":42}`, "invalid_spouse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body interface{}
			if tc.body != "" {
				body = tc.body
			}
			rec := doRequest(t, h, tc.method, tc.path, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, []string{tc.code}, errorCodes(t, rec))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t)
	rec := doRequest(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
