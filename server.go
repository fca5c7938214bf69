package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"i4.energy/across/espmux/esp8266"
	"i4.energy/across/espmux/modem"
)

// maxPayload is the largest payload the firmware accepts in one send.
const maxPayload = 2048

// Server handles incoming HTTP requests for interacting with the
// connections of the configured module. Requests are served one at a time
// because the engine allows a single command in flight.
type Server struct {
	Logger *slog.Logger
	Device *esp8266.Device

	mu  sync.Mutex
	mux *http.ServeMux
}

func NewServer(logger *slog.Logger, device *esp8266.Device) *Server {
	s := &Server{Logger: logger, Device: device}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /connections/{id}", s.handleOpen)
	s.mux.HandleFunc("POST /connections/{id}/send", s.handleSend)
	s.mux.HandleFunc("GET /connections/{id}", s.handleReceive)
	s.mux.HandleFunc("DELETE /connections/{id}", s.handleClose)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	return s
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mux.ServeHTTP(w, r)
}

// Run services the module every interval until ctx is done, so inbound data
// and close notices are absorbed between requests.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.Device.Modem().Maintain(ctx)
			s.mu.Unlock()
			if err != nil && ctx.Err() == nil {
				s.Logger.Error("Failed to service module", "error", err)
			}
		}
	}
}

// Close shuts the module down once in-flight requests are done.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Device.Modem().Close()
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// sendModemError maps an engine error to a status code.
func (s *Server) sendModemError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, modem.ErrInvalidID):
		s.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, modem.ErrAlreadyConnected):
		s.sendError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, modem.ErrAlreadyClosed):
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.sendError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) connectionID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, "connection id must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// handleOpen connects a slot to a remote host
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	id, ok := s.connectionID(w, r)
	if !ok {
		return
	}

	type OpenRequest struct {
		Host           string `json:"host"`
		Port           int    `json:"port"`
		Secure         bool   `json:"secure"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Host == "" || req.Port <= 0 || req.Port > 65535 {
		s.sendError(w, "'host' and a valid 'port' are required", http.StatusBadRequest)
		return
	}

	connected, err := s.Device.Modem().Open(r.Context(), id, modem.OpenOptions{
		Host:    req.Host,
		Port:    req.Port,
		Secure:  req.Secure,
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		s.Logger.Error("Failed to open connection", "error", err, "id", id, "host", req.Host)
		s.sendModemError(w, err)
		return
	}
	if !connected {
		s.sendError(w, "module refused the connection", http.StatusBadGateway)
		return
	}

	s.Logger.Info("Connection opened", "id", id, "host", req.Host, "port", req.Port)
	s.sendJSON(w, map[string]any{"id": id, "connected": true})
}

// handleSend writes the request body to a connection
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := s.connectionID(w, r)
	if !ok {
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayload+1))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(payload) == 0 {
		s.sendError(w, "empty payload", http.StatusBadRequest)
		return
	}
	if len(payload) > maxPayload {
		s.sendError(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	n, err := s.Device.Modem().Send(r.Context(), id, payload)
	if err != nil {
		s.Logger.Error("Failed to send", "error", err, "id", id)
		s.sendModemError(w, err)
		return
	}
	if n == 0 {
		s.sendError(w, "module did not accept the payload", http.StatusBadGateway)
		return
	}

	s.sendJSON(w, map[string]any{"id": id, "sent": n})
}

// handleReceive drains the buffered bytes of a connection
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := s.connectionID(w, r)
	if !ok {
		return
	}

	m := s.Device.Modem()
	conn, ok := m.Connection(id)
	if !ok {
		s.sendError(w, "unknown connection", http.StatusNotFound)
		return
	}
	if err := m.Maintain(r.Context()); err != nil {
		s.sendModemError(w, err)
		return
	}

	body := make([]byte, conn.Available())
	n, _ := m.Receive(id, body)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Connected", strconv.FormatBool(conn.Connected()))
	w.WriteHeader(http.StatusOK)
	w.Write(body[:n])
}

// handleClose closes a connection
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, ok := s.connectionID(w, r)
	if !ok {
		return
	}

	if err := s.Device.Modem().CloseConnection(r.Context(), id, modem.DefaultCloseWait); err != nil {
		s.Logger.Error("Failed to close connection", "error", err, "id", id)
		s.sendModemError(w, err)
		return
	}

	s.Logger.Info("Connection closed", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus reports the module's link state and every connection
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m := s.Device.Modem()

	connections, err := m.PollAllStatuses(r.Context())
	if err != nil {
		s.sendModemError(w, err)
		return
	}
	if connections == nil {
		s.sendError(w, "module did not report", http.StatusGatewayTimeout)
		return
	}

	status, err := m.PollStatus(r.Context())
	if err != nil {
		s.sendModemError(w, err)
		return
	}

	type StatusResponse struct {
		Status      string      `json:"status"`
		Connections []bool      `json:"connections"`
		Stats       modem.Stats `json:"stats"`
	}
	s.sendJSON(w, StatusResponse{
		Status:      status.String(),
		Connections: connections,
		Stats:       m.Stats(),
	})
}
