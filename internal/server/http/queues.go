package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type queueEntry struct {
	Name     string          `json:"name"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type queueListing struct {
	Queues []queueEntry `json:"queues"`
	Marker string       `json:"marker,omitempty"`
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}
	detailed := q.Get("detailed") == "true"

	queues, marker, err := s.engine.ListQueues(r.Context(), proj, q.Get("marker"), limit, detailed)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(queues) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	out := queueListing{Marker: marker}
	for _, info := range queues {
		out.Queues = append(out.Queues, queueEntry{Name: info.Name, Metadata: info.Metadata})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	created, err := s.engine.CreateQueue(r.Context(), proj, chi.URLParam(r, "queue"), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueExists(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	exists, err := s.engine.QueueExists(r.Context(), proj, chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	if err := s.engine.DeleteQueue(r.Context(), proj, chi.URLParam(r, "queue")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	md, err := s.engine.QueueMetadata(r.Context(), proj, chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(md)
}

func (s *Server) handleSetMetadata(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "unreadable body")
		return
	}
	if err := s.engine.SetQueueMetadata(r.Context(), proj, chi.URLParam(r, "queue"), body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queueStats struct {
	Messages struct {
		Free    int64 `json:"free"`
		Claimed int64 `json:"claimed"`
		Total   int64 `json:"total"`
	} `json:"messages"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	st, err := s.engine.QueueStats(r.Context(), proj, chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, err)
		return
	}
	var out queueStats
	out.Messages.Free = st.Free
	out.Messages.Claimed = st.Claimed
	out.Messages.Total = st.Total
	writeJSON(w, http.StatusOK, out)
}
