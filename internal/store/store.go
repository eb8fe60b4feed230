// Package store holds incident and remediation records for the
// control loop and the operational API.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/catherinevee/remedymgr/internal/models"
)

// IncidentStore persists incidents and their remediation artifacts.
type IncidentStore interface {
	SaveIncident(incident *models.Incident) error
	GetIncident(id string) (*models.Incident, bool)
	ListIncidents() []*models.Incident
	ListIncidentsByStatus(status models.IncidentStatus) []*models.Incident
	UpdateIncidentStatus(id string, status models.IncidentStatus) error

	SaveDiagnosis(incidentID string, diagnosis *models.Diagnosis) error
	GetDiagnosis(incidentID string) (*models.Diagnosis, bool)

	SavePlan(plan *models.RemediationPlan) error
	GetPlan(planID string) (*models.RemediationPlan, bool)
	GetPlanByIncident(incidentID string) (*models.RemediationPlan, bool)
	ListPendingPlans() []*models.RemediationPlan

	SaveResult(result *models.RemediationResult) error
	GetResult(incidentID string) (*models.RemediationResult, bool)
}

// MemoryStore is an in-memory IncidentStore safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]*models.Incident
	diagnoses map[string]*models.Diagnosis
	plans     map[string]*models.RemediationPlan
	results   map[string]*models.RemediationResult
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]*models.Incident),
		diagnoses: make(map[string]*models.Diagnosis),
		plans:     make(map[string]*models.RemediationPlan),
		results:   make(map[string]*models.RemediationResult),
	}
}

// cloneIncident copies an incident so callers never share the stored
// record. Incidents are the only mutable record kind; diagnoses, plans,
// and results are immutable once saved.
func cloneIncident(incident *models.Incident) *models.Incident {
	clone := *incident
	if incident.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(incident.Metadata))
		for k, v := range incident.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// SaveIncident inserts or replaces an incident record. The store keeps
// its own copy; later writes through the caller's pointer do not reach
// the store.
func (s *MemoryStore) SaveIncident(incident *models.Incident) error {
	if incident == nil || incident.ID == "" {
		return fmt.Errorf("incident must have an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = cloneIncident(incident)
	return nil
}

// GetIncident returns a copy of the incident with the given id.
func (s *MemoryStore) GetIncident(id string) (*models.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	incident, ok := s.incidents[id]
	if !ok {
		return nil, false
	}
	return cloneIncident(incident), true
}

// ListIncidents returns all incidents ordered by detection time,
// newest first.
func (s *MemoryStore) ListIncidents() []*models.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Incident, 0, len(s.incidents))
	for _, incident := range s.incidents {
		out = append(out, cloneIncident(incident))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// ListIncidentsByStatus returns incidents currently in the given status.
func (s *MemoryStore) ListIncidentsByStatus(status models.IncidentStatus) []*models.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Incident
	for _, incident := range s.incidents {
		if incident.Status == status {
			out = append(out, cloneIncident(incident))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// UpdateIncidentStatus moves an incident to status, enforcing the
// incident state machine.
func (s *MemoryStore) UpdateIncidentStatus(id string, status models.IncidentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, ok := s.incidents[id]
	if !ok {
		return fmt.Errorf("incident %s not found", id)
	}
	if !incident.Status.CanTransitionTo(status) {
		return fmt.Errorf("incident %s: cannot transition from %s to %s", id, incident.Status, status)
	}

	incident.Status = status
	if incident.Metadata == nil {
		incident.Metadata = make(map[string]interface{})
	}
	incident.Metadata["status_changed_at"] = time.Now().UTC()
	return nil
}

// SaveDiagnosis attaches a diagnosis to an incident.
func (s *MemoryStore) SaveDiagnosis(incidentID string, diagnosis *models.Diagnosis) error {
	if diagnosis == nil {
		return fmt.Errorf("diagnosis must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[incidentID]; !ok {
		return fmt.Errorf("incident %s not found", incidentID)
	}
	s.diagnoses[incidentID] = diagnosis
	return nil
}

// GetDiagnosis returns the diagnosis recorded for an incident.
func (s *MemoryStore) GetDiagnosis(incidentID string) (*models.Diagnosis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.diagnoses[incidentID]
	return d, ok
}

// SavePlan inserts or replaces a remediation plan.
func (s *MemoryStore) SavePlan(plan *models.RemediationPlan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan must have an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
	return nil
}

// GetPlan returns a plan by its own id.
func (s *MemoryStore) GetPlan(planID string) (*models.RemediationPlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	return p, ok
}

// GetPlanByIncident returns the most recently saved plan for an incident.
func (s *MemoryStore) GetPlanByIncident(incidentID string) (*models.RemediationPlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.RemediationPlan
	for _, p := range s.plans {
		if p.IncidentID != incidentID {
			continue
		}
		if latest == nil || p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}
	return latest, latest != nil
}

// ListPendingPlans returns plans whose recorded result is PENDING. The
// recorded result is authoritative: a safety validator can force a plan
// into approval even when planning did not flag it, so the plan's own
// RequiresApproval field is not consulted.
func (s *MemoryStore) ListPendingPlans() []*models.RemediationPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RemediationPlan
	for _, result := range s.results {
		if result.Status != models.RemediationPending {
			continue
		}
		if p, ok := s.plans[result.PlanID]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// SaveResult records the outcome of a remediation attempt, keyed by
// incident id.
func (s *MemoryStore) SaveResult(result *models.RemediationResult) error {
	if result == nil || result.IncidentID == "" {
		return fmt.Errorf("result must reference an incident")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.IncidentID] = result
	return nil
}

// GetResult returns the latest remediation result for an incident.
func (s *MemoryStore) GetResult(incidentID string) (*models.RemediationResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[incidentID]
	return r, ok
}
