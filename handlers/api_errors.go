package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/camden-git/familytree/repository"
	"github.com/camden-git/familytree/validation"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code     string `json:"code"`
	Status   string `json:"status"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
	PersonID string `json:"person_id,omitempty"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	writeAPIErrors(w, httpStatus, []APIErrorDetail{{
		Code:   code,
		Status: strconv.Itoa(httpStatus),
		Detail: detail,
	}})
}

func writeAPIErrors(w http.ResponseWriter, httpStatus int, details []APIErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(APIErrorResponse{Errors: details})
}

// writeServiceError maps a service error onto the envelope: one 422 entry per
// violated rule, 404 for missing people, 409 for version conflicts.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, action string) {
	if verr, ok := validation.AsValidationError(err); ok {
		status := strconv.Itoa(http.StatusUnprocessableEntity)
		details := make([]APIErrorDetail, 0, len(verr.Violations))
		for _, v := range verr.Violations {
			details = append(details, APIErrorDetail{
				Code:     string(v.Rule),
				Status:   status,
				Detail:   v.Message,
				Field:    v.Field,
				PersonID: v.PersonID,
			})
		}
		writeAPIErrors(w, http.StatusUnprocessableEntity, details)
		return
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		WriteAPIError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, repository.ErrVersionConflict):
		WriteAPIError(w, http.StatusConflict, "version_conflict", "Person was modified concurrently, reload and retry")
	default:
		logger.Error("Request failed", zap.String("action", action), zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to "+action)
	}
}
