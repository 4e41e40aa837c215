package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/session"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Kind: kind, Status: status, Message: message},
	})
}

// writeError maps core errors onto HTTP. Upstream failures keep their status;
// CredentialsMissing becomes 400 and failures without a response become 502.
// Retired real-time subscriptions answer 410.
func writeError(w http.ResponseWriter, err error) {
	var ue *upstream.Error
	switch {
	case errors.As(err, &ue):
		status := ue.Status
		switch {
		case ue.Kind == upstream.KindCredentialsMissing:
			status = http.StatusBadRequest
		case status == 0:
			status = http.StatusBadGateway
		}
		writeErrorMessage(w, status, string(ue.Kind), ue.Message)
	case errors.Is(err, mailapi.ErrMercureUnsupported):
		writeErrorMessage(w, http.StatusGone, "unsupported", err.Error())
	case errors.Is(err, session.ErrAccountNotFound):
		writeErrorMessage(w, http.StatusNotFound, string(upstream.KindNotFound), err.Error())
	default:
		writeErrorMessage(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, string(upstream.KindInvalidRequest), "Invalid request body")
		return false
	}
	return true
}
