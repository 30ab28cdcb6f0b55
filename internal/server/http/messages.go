package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ozgurakan/marconi/internal/queue"
)

// messageIn is one element of a POST batch. TTL is in seconds; zero takes
// the server default. The body is an arbitrary JSON document.
type messageIn struct {
	TTL  int64           `json:"ttl"`
	Body json.RawMessage `json:"body"`
}

type messageOut struct {
	ID   string          `json:"id"`
	TTL  int64           `json:"ttl"`
	Age  int64           `json:"age"`
	Body json.RawMessage `json:"body"`
}

type messageListing struct {
	Messages []messageOut `json:"messages"`
	Marker   string       `json:"marker,omitempty"`
}

func toMessageOut(m queue.Message) messageOut {
	return messageOut{
		ID:   m.ID,
		TTL:  int64(m.TTL / time.Second),
		Age:  int64(m.Age / time.Second),
		Body: json.RawMessage(m.Body),
	}
}

func (s *Server) handlePostMessages(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	client := r.Header.Get(headerClient)
	if client == "" {
		badRequest(w, "Client-ID header is required")
		return
	}

	var batch []messageIn
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		badRequest(w, "body must be a JSON array of messages")
		return
	}
	drafts := make([]queue.Draft, len(batch))
	for i, m := range batch {
		drafts[i] = queue.Draft{
			Body: []byte(m.Body),
			TTL:  time.Duration(m.TTL) * time.Second,
		}
	}

	ids, err := s.engine.Post(r.Context(), proj, chi.URLParam(r, "queue"), client, drafts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ids": ids})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	client := r.Header.Get(headerClient)
	if client == "" {
		badRequest(w, "Client-ID header is required")
		return
	}
	q := r.URL.Query()

	// GET with ids= fetches specific messages instead of paging
	if raw := q.Get("ids"); raw != "" {
		msgs, err := s.engine.GetMany(r.Context(), proj, chi.URLParam(r, "queue"), strings.Split(raw, ","))
		if err != nil {
			writeError(w, err)
			return
		}
		if len(msgs) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		out := make([]messageOut, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, toMessageOut(m))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	opts := queue.ListOptions{
		Marker:         q.Get("marker"),
		Echo:           q.Get("echo") == "true",
		IncludeClaimed: q.Get("include_claimed") == "true",
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "limit must be an integer")
			return
		}
		opts.Limit = n
	}

	msgs, marker, err := s.engine.List(r.Context(), proj, chi.URLParam(r, "queue"), client, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(msgs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	out := messageListing{Marker: marker}
	for _, m := range msgs {
		out.Messages = append(out.Messages, toMessageOut(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	m, err := s.engine.Get(r.Context(), proj, chi.URLParam(r, "queue"), chi.URLParam(r, "message"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageOut(m))
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	err := s.engine.Delete(r.Context(), proj, chi.URLParam(r, "queue"),
		chi.URLParam(r, "message"), r.URL.Query().Get("claim_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		badRequest(w, "ids query parameter is required")
		return
	}
	err := s.engine.DeleteMany(r.Context(), proj, chi.URLParam(r, "queue"), strings.Split(raw, ","))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
