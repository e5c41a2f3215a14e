package controlplane

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Server exposes a Store over the HTTP control-plane API of §6: JSON
// bodies, bearer-token auth, 404 on missing party/peer, 401 on a
// missing or expired token.
type Server struct {
	store *Store
	mux   *http.ServeMux
}

// NewServer wires a Server around store.
func NewServer(store *Store) *Server {
	s := &Server{store: store, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /parties", s.handleCreateParty)
	s.mux.HandleFunc("POST /parties/{id}/join", s.requireAuth(s.handleJoinParty))
	s.mux.HandleFunc("DELETE /parties/{id}/peers/{peer_id}", s.requireAuth(s.handleLeaveParty))
	s.mux.HandleFunc("GET /parties/{id}", s.requireAuth(s.handleGetParty))
	s.mux.HandleFunc("GET /parties/{id}/peers", s.requireAuth(s.handleGetPeers))
	s.mux.HandleFunc("GET /parties/{id}/peers/{peer_id}", s.requireAuth(s.handleGetPeer))
	s.mux.HandleFunc("POST /parties/{id}/peers/{peer_id}/heartbeat", s.requireAuth(s.handleHeartbeat))
	s.mux.HandleFunc("POST /relays", s.requireAuth(s.handleRegisterRelay))
	s.mux.HandleFunc("GET /relays", s.requireAuth(s.handleListRelays))
	s.mux.HandleFunc("GET /relays/{region}", s.requireAuth(s.handleListRelaysByRegion))
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, ErrTokenInvalid)
			return
		}
		if _, err := s.store.ValidateToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")

	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(status)
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if err := json.NewEncoder(gz).Encode(v); err != nil {
			slog.Error("controlplane: encode gzip response", "error", err)
		}
		return
	}

	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("controlplane: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrPartyNotFound), errors.Is(err, ErrPeerNotFound), errors.Is(err, ErrRelayNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTokenInvalid):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer_id")
	if peerID == "" {
		writeError(w, http.StatusBadRequest, errors.New("controlplane: peer_id is required"))
		return
	}
	token, err := s.store.RegisterPeer(peerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"token":      token.Token,
		"peer_id":    token.PeerID,
		"expires_at": token.ExpiresAt,
	})
}

func (s *Server) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string   `json:"name"`
		HostPeerInfo PeerInfo `json:"host_peer_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	party, err := s.store.CreateParty(body.Name, body.HostPeerInfo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"party_id": party.PartyID, "party": party})
}

func (s *Server) handleJoinParty(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PartyID  string   `json:"party_id"`
		PeerInfo PeerInfo `json:"peer_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	party, err := s.store.JoinParty(r.PathValue("id"), body.PeerInfo)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"party": party})
}

func (s *Server) handleLeaveParty(w http.ResponseWriter, r *http.Request) {
	if err := s.store.LeaveParty(r.PathValue("id"), r.PathValue("peer_id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetParty(w http.ResponseWriter, r *http.Request) {
	party, err := s.store.GetParty(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"party": party})
}

func (s *Server) handleGetPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.store.GetPeers(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"peers": peers})
}

func (s *Server) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	peer, err := s.store.DiscoverPeer(r.PathValue("id"), r.PathValue("peer_id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"peer": peer})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Heartbeat(r.PathValue("id"), r.PathValue("peer_id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterRelay(w http.ResponseWriter, r *http.Request) {
	var relay RelayCandidate
	if err := json.NewDecoder(r.Body).Decode(&relay); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	registered := s.store.RegisterRelay(relay)
	writeJSON(w, r, http.StatusOK, map[string]any{"relay": registered})
}

func (s *Server) handleListRelays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"relays": s.store.ListRelays()})
}

func (s *Server) handleListRelaysByRegion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"relays": s.store.ListRelaysByRegion(r.PathValue("region"))})
}
