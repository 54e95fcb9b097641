// Package api exposes the operator surface over HTTP: per-repository
// version tables and the thaw escape hatch for frozen repositories.
//
// This is an unauthenticated loopback surface for operators and their
// tooling; it is not the product's user-facing API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okpadd/phabricator/internal/store"
)

const contentTypeJSON = "application/json"

// VersionStatus is the wire form of one working copy version row.
type VersionStatus struct {
	DeviceID   string `json:"deviceId"`
	Version    int64  `json:"version"`
	IsWriting  bool   `json:"isWriting"`
	WriteOwner string `json:"writeOwner,omitempty"`
	WriteUser  string `json:"writeUser,omitempty"`
	WriteEpoch int64  `json:"writeEpoch,omitempty"`
}

// Server serves the admin routes from a store.
type Server struct {
	store *store.Store
	log   *slog.Logger
}

// NewServer creates a Server.
func NewServer(st *store.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, log: log}
}

// Router builds the chi router for the admin surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Get("/repositories/{repository}/versions", s.handleVersions)
	r.Post("/repositories/{repository}/thaw", s.handleThaw)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		s.log.Info("admin request",
			"method", req.Method,
			"path", req.URL.Path,
			"elapsed", time.Since(start))
	})
}

// handleVersions returns the version table for a repository, ordered by
// device id.
func (s *Server) handleVersions(w http.ResponseWriter, req *http.Request) {
	repositoryID := chi.URLParam(req, "repository")

	rows, err := s.store.LoadVersions(req.Context(), repositoryID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]VersionStatus, 0, len(rows))
	for _, row := range rows {
		v := VersionStatus{
			DeviceID:   row.DeviceID,
			Version:    row.Version,
			IsWriting:  row.IsWriting,
			WriteOwner: row.WriteOwner,
		}
		if row.WriteProperties != nil {
			v.WriteUser = row.WriteProperties.UserID
			v.WriteEpoch = row.WriteProperties.Epoch
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })

	s.writeJSON(w, http.StatusOK, map[string]any{
		"repository": repositoryID,
		"versions":   out,
	})
}

type thawRequest struct {
	DeviceID string `json:"deviceId"`
}

// handleThaw clears an interrupted write marker. The operator names the
// device whose write was interrupted; a request for a device with no
// marker is a 409.
func (s *Server) handleThaw(w http.ResponseWriter, req *http.Request) {
	repositoryID := chi.URLParam(req, "repository")

	var body thawRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.DeviceID == "" {
		http.Error(w, "deviceId is required", http.StatusBadRequest)
		return
	}

	cleared, err := s.store.ClearWriteMarker(req.Context(), repositoryID, body.DeviceID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !cleared {
		http.Error(w, "no interrupted write marker for that device", http.StatusConflict)
		return
	}

	s.log.Warn("write marker cleared by operator",
		"repository", repositoryID,
		"device", body.DeviceID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"repository": repositoryID,
		"device":     body.DeviceID,
		"thawed":     true,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("admin response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Warn("admin request failed", "status", status, "error", err)
	http.Error(w, err.Error(), status)
}
