package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loadnetwork/load-el/log"
)

// DefaultMaxRequestBytes caps the body of one engine request. A full
// newPayload with 1024 blob hashes and large calldata stays well below it.
const DefaultMaxRequestBytes = 200 << 20

// Server exposes an API over HTTP, authenticated with the engine JWT.
type Server struct {
	api      *API
	auth     *jwtAuthenticator
	maxBytes int64
	log      *log.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates an engine server. A nil secret disables authentication,
// which is only meant for tests.
func NewServer(api *API, jwtSecret []byte, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{api: api, maxBytes: DefaultMaxRequestBytes, log: logger.Module("engine-http")}
	if jwtSecret != nil {
		s.auth = &jwtAuthenticator{secret: jwtSecret, now: time.Now}
	}
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(s.httpHandler)
	if s.auth != nil {
		h = s.auth.wrap(h)
	}
	return h
}

// Start binds addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	s.log.Info("Engine API server starting", "addr", ln.Addr().String(), "auth", s.auth != nil)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Engine API server failed", "err", err)
		}
	}()
	return nil
}

// Addr returns the listener address, useful when started on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// httpHandler handles incoming HTTP requests and dispatches them as JSON-RPC.
func (s *Server) httpHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	resp := s.api.HandleRequest(r.Context(), body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}
