// Package httpserver exposes the v1 REST API.
//
// Every request is scoped to a tenant by the X-Project-ID header. Message
// producers and consumers also identify themselves with a Client-ID header,
// which drives the echo filter on listings and duplicate detection on post.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ozgurakan/marconi/internal/queue"
	"github.com/ozgurakan/marconi/internal/runtime"
	"github.com/ozgurakan/marconi/pkg/log"
)

const (
	headerProject = "X-Project-ID"
	headerClient  = "Client-ID"
)

type Server struct {
	rt     *runtime.Runtime
	engine *queue.Engine
	logger log.Logger
	srv    *http.Server
	lis    net.Listener
}

// New builds a Server routing the v1 API onto rt's engine.
func New(rt *runtime.Runtime, logger log.Logger) *Server {
	s := &Server{
		rt:     rt,
		engine: rt.Engine(),
		logger: logger.With(log.Component("http")),
	}

	r := chi.NewRouter()
	r.Use(s.observe)

	r.Get("/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/queues", func(r chi.Router) {
		r.Get("/", s.handleListQueues)
		r.Route("/{queue}", func(r chi.Router) {
			r.Put("/", s.handleCreateQueue)
			r.Get("/", s.handleQueueExists)
			r.Delete("/", s.handleDeleteQueue)
			r.Get("/metadata", s.handleGetMetadata)
			r.Put("/metadata", s.handleSetMetadata)
			r.Get("/stats", s.handleQueueStats)

			r.Post("/messages", s.handlePostMessages)
			r.Get("/messages", s.handleListMessages)
			r.Delete("/messages", s.handleDeleteMessages)
			r.Get("/messages/{message}", s.handleGetMessage)
			r.Delete("/messages/{message}", s.handleDeleteMessage)

			r.Post("/claims", s.handleCreateClaim)
			r.Get("/claims/{claim}", s.handleGetClaim)
			r.Patch("/claims/{claim}", s.handleRenewClaim)
			r.Delete("/claims/{claim}", s.handleReleaseClaim)
		})
	})

	s.srv = &http.Server{Handler: r}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		timeout := s.rt.Config().HTTP.ShutdownTimeout.Std()
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		cctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
