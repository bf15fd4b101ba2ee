// Package api provides the local HTTP control server and the WebSocket status relay.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"d4macro/internal/config"
	"d4macro/internal/engine"
	"d4macro/internal/macro"
	"d4macro/internal/protocol"
)

// Controller is the lifecycle surface exposed over HTTP
type Controller interface {
	StartProfile(id string) error
	StopProfile(id string) error
	PauseProfile(id string) error
	ResumeProfile(id string) error
	StopAllProfiles()
	PauseAll() []string
	ResumeAll() []string
	Status() macro.Status
}

// Server provides HTTP API for local control
type Server struct {
	configMgr *config.Manager
	ctrl      Controller
	token     string
	wsMgr     *WSManager

	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(configMgr *config.Manager, ctrl Controller) *Server {
	s := &Server{
		configMgr: configMgr,
		ctrl:      ctrl,
		token:     configMgr.Get().General.APIToken,
	}
	s.wsMgr = newWSManager(s)
	go s.wsMgr.start()
	return s
}

// Handler returns the HTTP handler with every route and middleware attached
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/profiles", s.handleProfiles)
	mux.HandleFunc("/api/profiles/{id}/{action}", s.handleProfileAction)
	mux.HandleFunc("/api/stop-all", s.handleStopAll)
	mux.HandleFunc("/api/pause-all", s.handlePauseAll)
	mux.HandleFunc("/api/resume-all", s.handleResumeAll)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/ws", s.wsMgr.handleWebSocket)

	return s.authMiddleware(s.recoverMiddleware(mux))
}

// Start listens on the loopback interface and serves until Shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		log.Printf("API: Failed to listen on %s: %v", addr, err)
		return err
	}
	log.Printf("API: Listening on %s", addr)

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// This is blocking
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Printf("API: Server stopped: %v", err)
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and the WebSocket hub
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsMgr.stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("API: Recovered panic: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks API token if configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("API: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		// Skip auth for health check
		if r.URL.Path == "/health" || s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Browsers cannot set headers on a WebSocket handshake
		if r.Header.Get("Authorization") != "Bearer "+s.token && r.URL.Query().Get("token") != s.token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps lifecycle errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, macro.ErrUnknownProfile):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrProfileCap):
		return http.StatusConflict
	case errors.Is(err, engine.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, StatusPayload(s.ctrl.Status()))
}

// handleProfiles handles GET /api/profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type profileView struct {
		config.Profile
		State engine.State `json:"state"`
	}

	status := s.ctrl.Status()
	states := make(map[string]engine.State, len(status.Profiles))
	for _, p := range status.Profiles {
		states[p.ID] = p.State
	}

	profiles := s.configMgr.GetProfiles()
	out := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		state, ok := states[p.ID]
		if !ok {
			state = engine.StateStopped
		}
		out = append(out, profileView{Profile: p, State: state})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleProfileAction handles POST /api/profiles/{id}/{start|stop|pause|resume}
func (s *Server) handleProfileAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.PathValue("id")
	action := strings.ToLower(r.PathValue("action"))

	var err error
	switch action {
	case protocol.CommandStart:
		err = s.ctrl.StartProfile(id)
	case protocol.CommandStop:
		err = s.ctrl.StopProfile(id)
	case protocol.CommandPause:
		err = s.ctrl.PauseProfile(id)
	case protocol.CommandResume:
		err = s.ctrl.ResumeProfile(id)
	default:
		http.Error(w, "Unknown action", http.StatusNotFound)
		return
	}

	if err != nil {
		log.Printf("API: %s %s failed: %v", action, id, err)
		writeJSON(w, errorStatus(err), map[string]string{"status": "error", "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"profile": id,
		"state":   StatusPayload(s.ctrl.Status()),
	})
}

// handleStopAll handles POST /api/stop-all
func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctrl.StopAllProfiles()
	writeJSON(w, http.StatusOK, StatusPayload(s.ctrl.Status()))
}

// handlePauseAll handles POST /api/pause-all
func (s *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctrl.PauseAll()
	writeJSON(w, http.StatusOK, StatusPayload(s.ctrl.Status()))
}

// handleResumeAll handles POST /api/resume-all
func (s *Server) handleResumeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctrl.ResumeAll()
	writeJSON(w, http.StatusOK, StatusPayload(s.ctrl.Status()))
}

// handleConfig handles GET (read) and POST (update) for configuration
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		writeJSON(w, http.StatusOK, s.configMgr.Get())

	case "POST":
		var newCfg config.Config
		if err := json.NewDecoder(r.Body).Decode(&newCfg); err != nil {
			http.Error(w, "Invalid configuration data", http.StatusBadRequest)
			return
		}

		log.Printf("API: Receiving configuration update from %s", r.RemoteAddr)

		if err := s.configMgr.Set(&newCfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
			return
		}
		if err := s.configMgr.Save(); err != nil {
			log.Printf("API: Failed to save received config: %v", err)
			http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// StatusPayload converts a controller status into its wire form
func StatusPayload(status macro.Status) protocol.StatusPayload {
	out := protocol.StatusPayload{
		State:     string(status.State),
		Running:   status.Running,
		Profiles:  make([]protocol.ProfileState, 0, len(status.Profiles)),
		Timestamp: time.Now().UnixMilli(),
	}
	for _, p := range status.Profiles {
		out.Profiles = append(out.Profiles, protocol.ProfileState{
			ID:        p.ID,
			Name:      p.Name,
			State:     string(p.State),
			StartedAt: p.StartedAt,
		})
	}
	return out
}

// BroadcastStatus pushes a status update to every WebSocket client
func (s *Server) BroadcastStatus(status macro.Status) {
	if s.wsMgr != nil {
		s.wsMgr.BroadcastStatus(StatusPayload(status))
	}
}
