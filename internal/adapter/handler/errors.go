package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rl1809/coop-exchange/internal/core/domain"
)

type jsonError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, jsonError{Error: message, Details: details})
}

// httpStatus maps an error kind onto the response status.
func httpStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindBusinessRule:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {error, details}. Internal errors are logged and
// never leak their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	message := de.Code
	if message == "" {
		message = de.Kind.String()
	}
	writeJSONError(w, httpStatus(de.Kind), message, de.Error())
}
