package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loadnetwork/load-el/log"
)

// DefaultMaxRequestBytes caps one request body. A blob transaction with
// the per-transaction maximum of sidecars fits with room to spare.
const DefaultMaxRequestBytes = 16 << 20

// Server exposes the eth API over plain HTTP.
type Server struct {
	api      *EthAPI
	maxBytes int64
	log      *log.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	errc     chan error
}

// NewServer creates an HTTP server for api.
func NewServer(api *EthAPI, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		api:      api,
		maxBytes: DefaultMaxRequestBytes,
		log:      logger.Module("http"),
		errc:     make(chan error, 1),
	}
}

// Start binds addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	s.log.Info("HTTP RPC server starting", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP RPC server failed", "err", err)
			s.errc <- err
		}
	}()
	return nil
}

// Err delivers the error that stopped the server, if it fails while
// serving.
func (s *Server) Err() <-chan error { return s.errc }

// Addr returns the listener address, or nil before Start.
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

// handleRPC handles one JSON-RPC request or batch.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
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
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var reqs []Request
		if err := json.Unmarshal(body, &reqs); err != nil {
			writeJSON(w, errorResponse(nil, ErrCodeParse, "parse error"))
			return
		}
		if len(reqs) == 0 {
			writeJSON(w, errorResponse(nil, ErrCodeInvalidRequest, "empty batch"))
			return
		}
		out := make([]*Response, len(reqs))
		for i := range reqs {
			out[i] = s.api.HandleRequest(&reqs[i])
		}
		writeJSON(w, out)
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, errorResponse(nil, ErrCodeParse, "parse error"))
		return
	}
	writeJSON(w, s.api.HandleRequest(&req))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
