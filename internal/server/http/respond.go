package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ozgurakan/marconi/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	SucceededIDs []string `json:"succeeded_ids,omitempty"`
}

// writeError maps the storage error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		conflict  *storage.MessageConflictError
		notPerm   *storage.ClaimNotPermittedError
		empty     *storage.QueueIsEmptyError
		badID     *storage.MalformedIDError
		badMarker *storage.MalformedMarkerError
		invalid   *storage.ValidationError
		conn      *storage.ConnectionError
	)
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorBody{
			Title:        "Conflict",
			Description:  conflict.Error(),
			SucceededIDs: conflict.SucceededIDs,
		})
	case storage.IsDoesNotExist(err):
		writeJSON(w, http.StatusNotFound, errorBody{Title: "Not Found", Description: err.Error()})
	case errors.As(err, &empty):
		// an empty queue is not an error condition, just nothing to claim
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &notPerm):
		writeJSON(w, http.StatusForbidden, errorBody{Title: "Forbidden", Description: err.Error()})
	case errors.As(err, &badID), errors.As(err, &badMarker), errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Title: "Bad Request", Description: err.Error()})
	case errors.As(err, &conn):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Title: "Service Unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Title: "Internal Server Error"})
	}
}

// badRequest writes a 400 with a plain description.
func badRequest(w http.ResponseWriter, desc string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Title: "Bad Request", Description: desc})
}
