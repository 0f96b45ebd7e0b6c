package http

import (
	"encoding/json"
	"net/http"

	"ledgerindex/internal/log"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Failed to encode response", log.FieldError, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorBody{Error: msg})
}

// writeInternal logs err and answers with a generic message.
func writeInternal(w http.ResponseWriter, r *http.Request, msg string, err error, operation string) {
	log.FromContext(r.Context()).LogError(r.Context(), msg, err, operation)
	writeError(w, r, http.StatusInternalServerError, msg)
}
