// Package server provides the HTTP server for steadyscan.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ayusman/steadyscan/internal/inventory"
	"github.com/ayusman/steadyscan/internal/server/api"
	"github.com/ayusman/steadyscan/internal/store"
)

// Config holds the server configuration. Routes whose dependency is nil are
// not registered.
type Config struct {
	StaticDir string
	Store     *store.Store
	Inventory *inventory.Inventory
	Events    Subscriber
	// ClientQueue bounds each WebSocket client's backlog.
	ClientQueue int
}

// Server represents the HTTP server for the steadyscan application.
type Server struct {
	config Config
	router *mux.Router
	events *EventsHandler
	start  time.Time

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: mux.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	if s.config.Inventory != nil {
		entities := api.NewEntityHandler(s.config.Inventory)
		r.HandleFunc("/api/entities", entities.List).Methods(http.MethodGet)
		r.HandleFunc("/api/entities/{id}", entities.Get).Methods(http.MethodGet)
	}

	if s.config.Store != nil {
		sightings := api.NewSightingHandler(s.config.Store)
		r.HandleFunc("/api/sightings", sightings.List).Methods(http.MethodGet)
		r.HandleFunc("/api/sightings/{id}", sightings.Get).Methods(http.MethodGet)
	}

	if s.config.Events != nil {
		s.events = NewEventsHandler(s.config.Events, s.config.ClientQueue)
		r.Handle("/api/events", s.events).Methods(http.MethodGet)
	}

	if s.config.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.events != nil {
		response["clients"] = s.events.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns nil
// after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects WebSocket clients and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.events != nil {
		s.events.Close()
	}

	s.mu.Lock()
	s.closed = true
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
