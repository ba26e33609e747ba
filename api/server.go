// Copyright 2025 The Modbus Driver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api is the driver's management surface: a small net/http
// adapter in front of a lifecycle.Manager, exposing status, start/stop/
// restart, debug toggling, and point read/write over plain JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ironspan/modbus-driver/lifecycle"
	"github.com/ironspan/modbus-driver/point"
)

// Server is the control API's http.Handler.
type Server struct {
	mux     *http.ServeMux
	manager *lifecycle.Manager
	logger  *slog.Logger
}

// NewServer builds a control API server fronting manager.
func NewServer(manager *lifecycle.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{manager: manager, logger: logger}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /start", s.handleStart)
	s.mux.HandleFunc("POST /stop", s.handleStop)
	s.mux.HandleFunc("POST /restart", s.handleRestart)
	s.mux.HandleFunc("POST /debug/on", s.handleDebugOn)
	s.mux.HandleFunc("POST /debug/off", s.handleDebugOff)
	s.mux.HandleFunc("GET /points", s.handlePointsGet)
	s.mux.HandleFunc("POST /points", s.handlePointsPost)
	s.mux.HandleFunc("GET /points/changed", s.handlePointsChanged)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusResponse struct {
	State        string `json:"state"`
	ManualStop   bool   `json:"manual_stop"`
	DebugMode    bool   `json:"debug_mode"`
	StartCount   int64  `json:"start_count"`
	StopCount    int64  `json:"stop_count"`
	RestartCount int64  `json:"restart_count"`
	ErrorCount   int64  `json:"error_count"`
	LastError    string `json:"last_error,omitempty"`
	ActiveConns  int    `json:"active_connections"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.manager.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		State:        st.State.String(),
		ManualStop:   st.ManualStop,
		DebugMode:    st.DebugMode,
		StartCount:   st.StartCount,
		StopCount:    st.StopCount,
		RestartCount: st.RestartCount,
		ErrorCount:   st.ErrorCount,
		LastError:    st.LastError,
		ActiveConns:  st.ActiveConns,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Start(r.Context()); err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Stop(true); err != nil {
		if errors.Is(err, lifecycle.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.manager.Restart(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleDebugOn(w http.ResponseWriter, r *http.Request) {
	s.manager.SetDebugMode(true)
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleDebugOff(w http.ResponseWriter, r *http.Request) {
	s.manager.SetDebugMode(false)
	writeJSON(w, http.StatusOK, s.manager.Status())
}

type pointResponse struct {
	Area      string    `json:"area"`
	Address   int       `json:"address"`
	Value     uint16    `json:"value"`
	Quality   string    `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) store(w http.ResponseWriter) (*point.Store, bool) {
	st := s.manager.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "driver not running")
		return nil, false
	}
	return st, true
}

func parseArea(r *http.Request, w http.ResponseWriter) (point.Area, bool) {
	raw := r.URL.Query().Get("area")
	area, ok := point.ParseArea(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown area: "+raw)
		return 0, false
	}
	return area, true
}

func (s *Server) handlePointsGet(w http.ResponseWriter, r *http.Request) {
	store, ok := s.store(w)
	if !ok {
		return
	}
	area, ok := parseArea(r, w)
	if !ok {
		return
	}

	snap := store.Snapshot(area)
	out := make([]pointResponse, 0, len(snap))
	for addr, p := range snap {
		out = append(out, pointResponse{
			Area: area.String(), Address: addr, Value: p.Value,
			Quality: string(p.Quality), Timestamp: p.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePointsChanged(w http.ResponseWriter, r *http.Request) {
	store, ok := s.store(w)
	if !ok {
		return
	}
	area, ok := parseArea(r, w)
	if !ok {
		return
	}

	since := time.Unix(0, 0).UTC()
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		since = parsed
	}

	changed := store.ChangedSince(area, since)
	out := make([]pointResponse, 0, len(changed))
	for addr, p := range changed {
		out = append(out, pointResponse{
			Area: area.String(), Address: addr, Value: p.Value,
			Quality: string(p.Quality), Timestamp: p.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type writePointRequest struct {
	Area    string `json:"area"`
	Address int    `json:"address"`
	Value   int32  `json:"value"`
}

func (s *Server) handlePointsPost(w http.ResponseWriter, r *http.Request) {
	store, ok := s.store(w)
	if !ok {
		return
	}

	var req writePointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	area, ok := point.ParseArea(req.Area)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown area: "+req.Area)
		return
	}

	if err := store.Write(area, req.Address, req.Value); err != nil {
		switch {
		case errors.Is(err, point.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, point.ErrPermissionDenied):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, point.ErrOutOfRange):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	p, err := store.Read(area, req.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pointResponse{
		Area: area.String(), Address: req.Address, Value: p.Value,
		Quality: string(p.Quality), Timestamp: p.Timestamp,
	})
}
