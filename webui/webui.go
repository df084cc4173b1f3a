// Package webui serves a small HTTP dashboard over a connection's
// request events: a static page plus a server-sent-events stream, so an
// operator can watch FastCGI traffic in a browser without a TUI.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"

	fastcgi "github.com/mickamy/fastcgi"
	"github.com/mickamy/fastcgi/internal/eventbus"
)

//go:embed static/index.html
var staticFS embed.FS

// Server serves the dashboard over HTTP. Construct with New and run it
// with ListenAndServe or by mounting Handler into an existing mux.
type Server struct {
	bus    *eventbus.Bus[fastcgi.Event]
	mux    *http.ServeMux
	server *http.Server
}

// New builds a Server that streams events published to bus.
func New(addr string, bus *eventbus.Bus[fastcgi.Event]) *Server {
	s := &Server{bus: bus, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /", s.handleIndex)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.server = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

// Handler returns the dashboard's http.Handler, for embedding into a
// larger mux instead of running a standalone server.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe runs the dashboard's HTTP server until ctx is done or
// an unrecoverable server error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.server.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	b, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
