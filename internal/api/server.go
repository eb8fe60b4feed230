// Package api exposes the operational HTTP surface: health, metrics,
// incident inspection, and plan approval.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/catherinevee/remedymgr/internal/coordinator"
	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/models"
)

// Server wraps the HTTP listener and routes.
type Server struct {
	coord  *coordinator.Coordinator
	server *http.Server
	log    logger.Logger
}

// NewServer builds the router and HTTP server. The metrics endpoint
// serves the given gatherer so tests can use a private registry.
func NewServer(addr string, coord *coordinator.Coordinator, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		coord: coord,
		log:   logger.New("api"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/incidents", s.handleListIncidents).Methods(http.MethodGet)
	v1.HandleFunc("/incidents", s.handleSubmitIncident).Methods(http.MethodPost)
	v1.HandleFunc("/incidents/{id}", s.handleGetIncident).Methods(http.MethodGet)
	v1.HandleFunc("/plans", s.handleListPlans).Methods(http.MethodGet)
	v1.HandleFunc("/plans/{id}/approve", s.handleApprovePlan).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", logger.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents := s.coord.ListIncidents()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := incidents[:0]
		for _, inc := range incidents {
			if string(inc.Status) == status {
				filtered = append(filtered, inc)
			}
		}
		incidents = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// submitRequest is the payload for operator-raised incidents.
type submitRequest struct {
	ResourceID     string  `json:"resource_id"`
	ResourceName   string  `json:"resource_name"`
	ResourceType   string  `json:"resource_type"`
	Metric         string  `json:"metric"`
	CurrentValue   float64 `json:"current_value"`
	ThresholdValue float64 `json:"threshold_value"`
	Severity       string  `json:"severity"`
	Description    string  `json:"description"`
	Instance       string  `json:"instance,omitempty"`
}

func (s *Server) handleSubmitIncident(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ResourceID == "" || req.Metric == "" {
		writeError(w, http.StatusBadRequest, "resource_id and metric are required")
		return
	}

	incident := models.NewIncident()
	incident.ResourceID = req.ResourceID
	incident.ResourceName = req.ResourceName
	incident.ResourceType = models.ResourceType(req.ResourceType)
	incident.Metric = models.MetricType(req.Metric)
	incident.CurrentValue = req.CurrentValue
	incident.ThresholdValue = req.ThresholdValue
	incident.Severity = models.Severity(req.Severity)
	incident.Description = req.Description
	if incident.Severity == "" {
		incident.Severity = models.SeverityMedium
	}
	if req.Instance != "" {
		incident.Metadata["instance"] = req.Instance
	}

	if err := s.coord.Submit(incident); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"incident_id": incident.ID,
		"status":      string(incident.Status),
	})
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, ok := s.coord.GetIncident(id)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans := s.coord.PendingPlans()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plans": plans,
		"count": len(plans),
	})
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.coord.Approve(id)
	if err != nil {
		status := http.StatusConflict
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
