// Package http exposes the query, update, and subscription surfaces over
// HTTP and WebSocket.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"ghostbus/internal/domain"
	"ghostbus/internal/fanout"
	"ghostbus/internal/gtfs"
	"ghostbus/internal/ingest"
	"ghostbus/internal/metrics"
)

type Server struct {
	svc  *ingest.Service
	fan  *fanout.Manager
	gtfs *gtfs.Loader
	auth *AuthMiddleware
	log  *logrus.Logger
}

func NewServer(
	svc *ingest.Service,
	fan *fanout.Manager,
	loader *gtfs.Loader,
	auth *AuthMiddleware,
	log *logrus.Logger,
) *Server {
	return &Server{svc: svc, fan: fan, gtfs: loader, auth: auth, log: log}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /buses", s.handleAllBuses)
	mux.HandleFunc("GET /buses/{id}", s.handleBus)
	mux.HandleFunc("GET /buses/{id}/stats", s.handleBusStats)
	mux.Handle("POST /buses/{id}/update", s.auth.Wrap(http.HandlerFunc(s.handleUpdate)))
	mux.HandleFunc("GET /routes", s.handleRoutes)
	mux.HandleFunc("GET /stops", s.handleStops)
	mux.HandleFunc("GET /metrics", metrics.HandleMetrics)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "ghost bus detector is running",
		"status":  "healthy",
	})
}

func (s *Server) handleAllBuses(w http.ResponseWriter, r *http.Request) {
	buses := s.svc.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"buses": buses,
		"total": len(buses),
	})
}

func (s *Server) handleBus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "bus not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBusStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "bus not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var report domain.PositionReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed JSON body"})
		return
	}
	if report.ID == "" {
		report.ID = r.PathValue("id")
	}
	if bound := boundVehicle(r); bound != "" && bound != report.ID {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "API key not valid for this vehicle"})
		return
	}

	status, err := s.svc.Submit(r.Context(), &report)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": verr.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "bus position updated",
		"bus_id":  status.ID,
		"status":  status,
	})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := s.gtfs.Routes()
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": routes,
		"total":  len(routes),
	})
}

func (s *Server) handleStops(w http.ResponseWriter, r *http.Request) {
	stops := s.gtfs.Stops()
	writeJSON(w, http.StatusOK, map[string]any{
		"stops": stops,
		"total": len(stops),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
