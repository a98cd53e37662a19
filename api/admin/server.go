// Package admin provides the REST administration surface for voicebridge:
// health/stats, active-call inspection, and SIP user/trunk CRUD.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dialtone/voicebridge/internal/app"
	"github.com/dialtone/voicebridge/internal/trunk"
	"github.com/dialtone/voicebridge/internal/users"
)

// Server serves voicebridge's admin REST API.
type Server struct {
	addr       string
	app        *app.Server
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates an admin API server bound to addr, serving data from
// the given app.Server.
func NewServer(addr string, a *app.Server) *Server {
	s := &Server{addr: addr, app: a, startTime: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/calls", s.handleCalls)
	mux.HandleFunc("/api/v1/registrations", s.handleRegistrations)
	mux.HandleFunc("/api/v1/users", s.handleUsers)
	mux.HandleFunc("/api/v1/users/", s.handleUserByName)
	mux.HandleFunc("/api/v1/trunks", s.handleTrunks)
	mux.HandleFunc("/api/v1/trunks/", s.handleTrunkByID)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() error {
	slog.Info("starting admin api", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin api server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the admin API down.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("admin api: failed to encode json", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

// --- Health & stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	regs := s.app.Registrar().GetAllRegistrations()
	totalBindings := 0
	for _, b := range regs {
		totalBindings += len(b)
	}
	s.writeJSON(w, map[string]interface{}{
		"active_calls":        s.app.CallManager().ActiveCalls(),
		"total_registrations": len(regs),
		"total_bindings":      totalBindings,
		"total_users":         len(s.app.Users().List()),
		"total_trunks":        len(s.app.Trunks().All()),
	})
}

// --- Calls ---

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, s.app.CallManager().ListCalls())
}

// --- Registrations ---

func (s *Server) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, s.app.Registrar().GetAllRegistrations())
}

// --- SIP users ---

type userPayload struct {
	Username           string `json:"username"`
	Password           string `json:"password,omitempty"`
	HA1                string `json:"ha1,omitempty"`
	AOR                string `json:"aor,omitempty"`
	Active             bool   `json:"active"`
	Blocked            bool   `json:"blocked"`
	MaxConcurrentCalls int    `json:"max_concurrent_calls"`
}

func toUserPayload(u *users.User) userPayload {
	return userPayload{
		Username:           u.Username,
		HA1:                u.HA1,
		AOR:                u.AOR,
		Active:             u.Active,
		Blocked:            u.Blocked,
		MaxConcurrentCalls: u.MaxConcurrentCalls,
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.app.Users().List()
		out := make([]userPayload, 0, len(list))
		for _, u := range list {
			out = append(out, toUserPayload(u))
		}
		s.writeJSON(w, out)
	case http.MethodPost:
		var p userPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if p.Username == "" {
			s.writeError(w, http.StatusBadRequest, "username is required")
			return
		}
		ha1 := p.HA1
		if ha1 == "" && p.Password != "" {
			ha1 = users.ComputeHA1(p.Username, "voicebridge", p.Password)
		}
		s.app.Users().Put(&users.User{
			Username:           p.Username,
			HA1:                ha1,
			AOR:                p.AOR,
			Active:             true,
			MaxConcurrentCalls: p.MaxConcurrentCalls,
		})
		w.WriteHeader(http.StatusCreated)
		s.writeJSON(w, p)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleUserByName(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/v1/users/"))
	if err != nil || name == "" {
		s.writeError(w, http.StatusBadRequest, "username required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		u, ok := s.app.Users().Get(name)
		if !ok {
			s.writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.writeJSON(w, toUserPayload(u))
	case http.MethodDelete:
		s.app.Users().Delete(name)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPatch:
		u, ok := s.app.Users().Get(name)
		if !ok {
			s.writeError(w, http.StatusNotFound, "not found")
			return
		}
		var p struct {
			Blocked *bool `json:"blocked"`
			Active  *bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if p.Blocked != nil {
			u.Blocked = *p.Blocked
		}
		if p.Active != nil {
			u.Active = *p.Active
		}
		s.writeJSON(w, toUserPayload(u))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Trunks ---

type trunkPayload struct {
	ID                 string   `json:"id"`
	ProxyAddress       string   `json:"proxy_address"`
	ProxyPort          int      `json:"proxy_port"`
	Transport          string   `json:"transport"`
	SupportsInbound    bool     `json:"supports_inbound"`
	SupportsOutbound   bool     `json:"supports_outbound"`
	MaxConcurrentCalls int      `json:"max_concurrent_calls"`
	CallsPerSecond     float64  `json:"calls_per_second"`
	PreferredCodecs    []string `json:"preferred_codecs,omitempty"`
	Reachable          bool     `json:"reachable"`
	ActiveCalls        int      `json:"active_calls"`
}

func toTrunkPayload(t *trunk.Trunk) trunkPayload {
	return trunkPayload{
		ID:                 t.ID,
		ProxyAddress:       t.ProxyAddress,
		ProxyPort:          t.ProxyPort,
		Transport:          t.Transport,
		SupportsInbound:    t.SupportsInbound,
		SupportsOutbound:   t.SupportsOutbound,
		MaxConcurrentCalls: t.MaxConcurrentCalls,
		CallsPerSecond:     t.CallsPerSecond,
		PreferredCodecs:    t.PreferredCodecs,
		Reachable:          t.Reachable(),
		ActiveCalls:        t.ActiveCalls(),
	}
}

func (s *Server) handleTrunks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all := s.app.Trunks().All()
		out := make([]trunkPayload, 0, len(all))
		for _, t := range all {
			out = append(out, toTrunkPayload(t))
		}
		s.writeJSON(w, out)
	case http.MethodPost:
		var p trunkPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if p.ID == "" || p.ProxyAddress == "" {
			s.writeError(w, http.StatusBadRequest, "id and proxy_address are required")
			return
		}
		t := trunk.New(p.ID, p.ProxyAddress, p.ProxyPort, p.Transport, p.CallsPerSecond, p.MaxConcurrentCalls)
		t.SupportsInbound = p.SupportsInbound
		t.SupportsOutbound = p.SupportsOutbound
		t.PreferredCodecs = p.PreferredCodecs
		s.app.Trunks().Add(t)
		w.WriteHeader(http.StatusCreated)
		s.writeJSON(w, toTrunkPayload(t))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTrunkByID(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/v1/trunks/"))
	if err != nil || id == "" {
		s.writeError(w, http.StatusBadRequest, "trunk id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		t, ok := s.app.Trunks().Get(id)
		if !ok {
			s.writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.writeJSON(w, toTrunkPayload(t))
	case http.MethodDelete:
		s.app.Trunks().Remove(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
