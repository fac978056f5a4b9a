package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HealthServer exposes /healthz, /status, and any additionally registered
// routes (the OAuth callback).
type HealthServer struct {
	addr      string
	sessions  sessionCounter
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

type sessionCounter interface {
	Len() int
}

type healthResponse struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	Sessions   int       `json:"sessions"`
}

// NewHealthServer configures the HTTP server without starting it.
func NewHealthServer(addr string, sessions sessionCounter) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		sessions:  sessions,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("/healthz", hs.handleHealth)
	mux.HandleFunc("/status", hs.handleStatus)
	return hs
}

// ServeHTTP implements http.Handler so the server can be exercised with
// httptest without a live listener.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Handle registers an extra route. Call before Start.
func (h *HealthServer) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Start begins listening in the background. It blocks until the listener
// is established so the caller knows the port is open.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.server = &http.Server{Handler: h.mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", "error", err)
		}
	}()
	slog.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down gracefully.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown failed", "error", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
		Sessions:   h.sessions.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}
