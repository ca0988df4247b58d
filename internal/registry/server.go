package registry

import (
	"encoding/json"
	"net"
	"net/http"
)

// HandshakeRequest is sent by uploaders before their first upload.
type HandshakeRequest struct {
	InstanceID string `json:"instance_id"`
	AppName    string `json:"app_name"`
	HostName   string `json:"host_name"`
	Platform   string `json:"platform"`
	Version    string `json:"version"`
}

// HandshakeResponse acknowledges a handshake.
type HandshakeResponse struct {
	Status string `json:"status"`
}

// Server handles registry-related HTTP requests.
type Server struct {
	store *Store
}

func NewServer(store *Store) *Server {
	return &Server{
		store: store,
	}
}

// HandleHandshake registers or refreshes an instance.
// POST /api/registry/handshake
func (s *Server) HandleHandshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.InstanceID == "" {
		http.Error(w, "instance_id is required", http.StatusBadRequest)
		return
	}

	s.store.RegisterOrUpdate(Instance{
		InstanceID: req.InstanceID,
		AppName:    req.AppName,
		Hostname:   req.HostName,
		IP:         RemoteIP(r),
		Platform:   req.Platform,
		Version:    req.Version,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HandshakeResponse{Status: "ok"})
}

// HandleListInstances returns all known instances.
// GET /api/registry/instances
func (s *Server) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.ListInstances())
}

// RemoteIP strips the port from r.RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
