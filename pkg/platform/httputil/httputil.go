// Package httputil maps domain errors onto HTTP responses so transport
// handlers never hand-roll status codes.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "agora/pkg/domain-errors"
)

// statusByCode translates error classifications to HTTP statuses. Trust
// policy rejections all surface as 403 so remote instances cannot probe
// which list matched.
var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:           http.StatusBadRequest,
	dErrors.CodeValidation:           http.StatusBadRequest,
	dErrors.CodeURLWithoutDomain:     http.StatusBadRequest,
	dErrors.CodeUnauthorized:         http.StatusUnauthorized,
	dErrors.CodeVerificationFailed:   http.StatusUnauthorized,
	dErrors.CodeForbidden:            http.StatusForbidden,
	dErrors.CodeFederationDisabled:   http.StatusForbidden,
	dErrors.CodeDomainBlocked:        http.StatusForbidden,
	dErrors.CodeDomainNotInAllowList: http.StatusForbidden,
	dErrors.CodeStrictAllowList:      http.StatusForbidden,
	dErrors.CodeNotFound:             http.StatusNotFound,
	dErrors.CodeConflict:             http.StatusConflict,
	dErrors.CodeFetchLimitExceeded:   http.StatusUnprocessableEntity,
	dErrors.CodeTimeout:              http.StatusGatewayTimeout,
}

// StatusOf returns the HTTP status for an error's classification.
func StatusOf(err error) int {
	if status, ok := statusByCode[dErrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a classified error response. Internal errors omit the
// description so storage details never leak to remote instances.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusOf(err)

	body := map[string]string{"error": string(code)}
	if status != http.StatusInternalServerError {
		body["error_description"] = err.Error()
	}
	WriteJSON(w, status, body)
}

// Decode unmarshals the request body into T, answering 400 on malformed
// input. The boolean reports whether the handler should continue.
func Decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed request body"))
		var zero T
		return zero, false
	}
	return v, true
}
