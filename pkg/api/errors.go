package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/poiesis-run/poiesis/pkg/auth"
	"github.com/poiesis-run/poiesis/pkg/log"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
)

// ErrorResponse is the TES error body shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

var statusByKind = map[poiesiserr.Kind]int{
	poiesiserr.KindValidation:             http.StatusBadRequest,
	poiesiserr.KindAuth:                   http.StatusUnauthorized,
	poiesiserr.KindNotFound:               http.StatusNotFound,
	poiesiserr.KindConflict:               http.StatusConflict,
	poiesiserr.KindStorageUnavailable:     http.StatusServiceUnavailable,
	poiesiserr.KindBusUnavailable:         http.StatusServiceUnavailable,
	poiesiserr.KindClusterUnavailable:     http.StatusServiceUnavailable,
	poiesiserr.KindObjectStoreUnavailable: http.StatusServiceUnavailable,
	poiesiserr.KindExecutorNonZero:        http.StatusInternalServerError,
	poiesiserr.KindSystemFailure:          http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("encode response body", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := poiesiserr.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, ErrorResponse{
		Error:   string(kind),
		Message: err.Error(),
	})
}

type contextKey string

const subjectContextKey contextKey = "subject"

// requireAuth wraps a handler so it only runs once the bearer token has
// been verified; the resolved Subject is attached to the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := s.Auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), subjectContextKey, sub)
		next(w, r.WithContext(ctx))
	}
}

func subjectFrom(r *http.Request) auth.Subject {
	sub, _ := r.Context().Value(subjectContextKey).(auth.Subject)
	return sub
}
