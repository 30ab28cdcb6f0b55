package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ozgurakan/marconi/internal/queue"
)

// claimIn is the POST/PATCH body. TTL and grace are in seconds.
type claimIn struct {
	TTL   int64 `json:"ttl"`
	Grace int64 `json:"grace"`
}

type claimOut struct {
	ID       string       `json:"id"`
	TTL      int64        `json:"ttl"`
	Age      int64        `json:"age"`
	Messages []messageOut `json:"messages"`
}

func toClaimOut(c queue.Claim) claimOut {
	out := claimOut{
		ID:  c.ID,
		TTL: int64(c.TTL / time.Second),
		Age: int64(c.Age / time.Second),
	}
	for _, m := range c.Messages {
		out.Messages = append(out.Messages, toMessageOut(m))
	}
	return out
}

func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	var in claimIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "body must be a JSON object with ttl and grace")
		return
	}
	opts := queue.ClaimOptions{
		TTL:   time.Duration(in.TTL) * time.Second,
		Grace: time.Duration(in.Grace) * time.Second,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "limit must be an integer")
			return
		}
		opts.Limit = n
	}

	queueName := chi.URLParam(r, "queue")
	claim, err := s.engine.CreateClaim(r.Context(), proj, queueName, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/queues/%s/claims/%s", queueName, claim.ID))
	writeJSON(w, http.StatusCreated, toClaimOut(claim))
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	claim, err := s.engine.GetClaim(r.Context(), proj, chi.URLParam(r, "queue"), chi.URLParam(r, "claim"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimOut(claim))
}

func (s *Server) handleRenewClaim(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	var in claimIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "body must be a JSON object with ttl")
		return
	}
	err := s.engine.RenewClaim(r.Context(), proj, chi.URLParam(r, "queue"),
		chi.URLParam(r, "claim"), time.Duration(in.TTL)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReleaseClaim(w http.ResponseWriter, r *http.Request) {
	proj, ok := project(r)
	if !ok {
		badRequest(w, "X-Project-ID header is required")
		return
	}
	err := s.engine.ReleaseClaim(r.Context(), proj, chi.URLParam(r, "queue"), chi.URLParam(r, "claim"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
