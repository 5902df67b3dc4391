package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/doclens/backend/internal/config"
	"github.com/doclens/backend/internal/health"
	"github.com/doclens/backend/internal/hub"
	"github.com/doclens/backend/internal/metrics"
	"github.com/doclens/backend/internal/orchestrator"
	"github.com/doclens/backend/internal/session"
	"github.com/doclens/backend/internal/stage"
)

const maxUploadBytes = 32 << 20

type Server struct {
	store          *session.Store
	hub            *hub.Hub
	orch           *orchestrator.Orchestrator
	extractor      stage.Extractor
	metrics        *metrics.Metrics
	reporter       *health.Reporter
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(cfg *config.Config, store *session.Store, h *hub.Hub, orch *orchestrator.Orchestrator, extractor stage.Extractor, m *metrics.Metrics, reporter *health.Reporter) *Server {
	s := &Server{
		store:          store,
		hub:            h,
		orch:           orch,
		extractor:      extractor,
		metrics:        m,
		reporter:       reporter,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/updates", s.handleUpdates)
	r.HandleFunc("/api/analyze-text", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/api/extract-text", s.handleExtract).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}", s.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

// handleUpdates upgrades the connection and bridges it to a hub observer.
// The write pump drains the observer channel onto the socket; the read loop
// exists only to detect disconnects. A disconnecting observer never cancels
// the underlying sessions.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("observer connected: %s", r.RemoteAddr)
	obs := s.hub.Register()
	s.metrics.Observers.Set(float64(s.hub.Count()))

	go func() {
		defer conn.Close()
		for ev := range obs.Events() {
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("event marshal error: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.hub.Unregister(obs)
				return
			}
		}
	}()

	go func() {
		defer func() {
			s.hub.Unregister(obs)
			s.metrics.Observers.Set(float64(s.hub.Count()))
			conn.Close()
			log.Printf("observer disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type analyzeRequest struct {
	Text   string `json:"text"`
	UseRAG bool   `json:"useRAG"`
}

type analyzeResponse struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := s.orch.StartAnalysis(req.Text, req.UseRAG)
	if errors.Is(err, orchestrator.ErrNoText) {
		http.Error(w, "no text provided", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to start analysis: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(analyzeResponse{SessionID: id})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.store.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

type extractResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	text, err := s.extractor.Extract(r.Context(), data, header.Header.Get("Content-Type"))
	if errors.Is(err, stage.ErrUnsupportedType) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("extraction failed for %s: %v", header.Filename, err)
		http.Error(w, "failed to extract text", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(extractResponse{Text: text})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.reporter.Status(s.store.ActiveCount(), s.hub.Count()))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, handler)
}
