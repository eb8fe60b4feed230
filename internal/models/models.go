package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity represents incident severity levels
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IncidentStatus represents the incident lifecycle status
type IncidentStatus string

const (
	IncidentDetected    IncidentStatus = "detected"
	IncidentDiagnosing  IncidentStatus = "diagnosing"
	IncidentDiagnosed   IncidentStatus = "diagnosed"
	IncidentRemediating IncidentStatus = "remediating"
	IncidentResolved    IncidentStatus = "resolved"
	IncidentFailed      IncidentStatus = "failed"
)

// incidentTransitions enumerates the legal lifecycle transitions. There is
// no way out of resolved/failed; re-detection creates a new incident.
var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentDetected:    {IncidentDiagnosing},
	IncidentDiagnosing:  {IncidentDiagnosed, IncidentFailed},
	IncidentDiagnosed:   {IncidentRemediating, IncidentFailed},
	IncidentRemediating: {IncidentResolved, IncidentFailed},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	for _, allowed := range incidentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is an end state.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentResolved || s == IncidentFailed
}

// MetricType represents a monitored metric
type MetricType string

const (
	MetricCPUUsage     MetricType = "cpu_usage"
	MetricMemoryUsage  MetricType = "memory_usage"
	MetricDiskUsage    MetricType = "disk_usage"
	MetricNetworkIn    MetricType = "network_in"
	MetricNetworkOut   MetricType = "network_out"
	MetricResponseTime MetricType = "response_time"
	MetricErrorRate    MetricType = "error_rate"
)

// ResourceType represents an infrastructure resource type
type ResourceType string

const (
	ResourceDroplet      ResourceType = "droplet"
	ResourceVolume       ResourceType = "volume"
	ResourceDatabase     ResourceType = "database"
	ResourceKubernetes   ResourceType = "kubernetes"
	ResourceLoadBalancer ResourceType = "load_balancer"
	ResourceFirewall     ResourceType = "firewall"
)

// Incident represents a detected metric threshold violation on a resource.
// Created by the detector; its status is advanced only by the coordinator.
type Incident struct {
	ID             string                 `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	ResourceID     string                 `json:"resource_id"`
	ResourceName   string                 `json:"resource_name"`
	ResourceType   ResourceType           `json:"resource_type"`
	Metric         MetricType             `json:"metric"`
	CurrentValue   float64                `json:"current_value"`
	ThresholdValue float64                `json:"threshold_value"`
	Severity       Severity               `json:"severity"`
	Status         IncidentStatus         `json:"status"`
	Description    string                 `json:"description"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewIncident creates an incident in the detected state with a fresh ID.
func NewIncident() *Incident {
	return &Incident{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Status:    IncidentDetected,
		Metadata:  make(map[string]interface{}),
	}
}

// Diagnosis represents the root-cause analysis of an incident. Immutable
// once created; one-to-one with its incident (latest wins if re-diagnosed).
type Diagnosis struct {
	ID                string                 `json:"id"`
	IncidentID        string                 `json:"incident_id"`
	Timestamp         time.Time              `json:"timestamp"`
	RootCause         string                 `json:"root_cause"`
	RootCauseCategory string                 `json:"root_cause_category"`
	Confidence        float64                `json:"confidence"`
	Reasoning         string                 `json:"reasoning"`
	Evidence          []string               `json:"evidence,omitempty"`
	Recommendations   []string               `json:"recommendations,omitempty"`
	EstimatedCost     *float64               `json:"estimated_cost,omitempty"`
	EstimatedDuration *int                   `json:"estimated_duration,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// NewDiagnosis creates a diagnosis for the given incident.
func NewDiagnosis(incidentID string) *Diagnosis {
	return &Diagnosis{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Timestamp:  time.Now().UTC(),
		Metadata:   make(map[string]interface{}),
	}
}

// RemediationAction represents a remediation action type
type RemediationAction string

const (
	ActionResizeDroplet      RemediationAction = "resize_droplet"
	ActionAddVolume          RemediationAction = "add_volume"
	ActionRestartService     RemediationAction = "restart_service"
	ActionUpdateFirewall     RemediationAction = "update_firewall"
	ActionCleanDisk          RemediationAction = "clean_disk"
	ActionScaleKubernetes    RemediationAction = "scale_kubernetes"
	ActionUpdateLoadBalancer RemediationAction = "update_load_balancer"
)

// RollbackPlan describes how to undo a remediation.
type RollbackPlan struct {
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

// RemediationPlan represents a concrete, safety-checked proposal to change
// infrastructure. Immutable.
type RemediationPlan struct {
	ID                string                 `json:"id"`
	DiagnosisID       string                 `json:"diagnosis_id"`
	IncidentID        string                 `json:"incident_id"`
	Timestamp         time.Time              `json:"timestamp"`
	Action            RemediationAction      `json:"action"`
	Description       string                 `json:"description"`
	ChangeDocument    string                 `json:"change_document,omitempty"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`
	SafetyChecks      []string               `json:"safety_checks,omitempty"`
	Rollback          *RollbackPlan          `json:"rollback,omitempty"`
	RequiresApproval  bool                   `json:"requires_approval"`
	EstimatedCost     *float64               `json:"estimated_cost,omitempty"`
	EstimatedDuration *int                   `json:"estimated_duration,omitempty"`
}

// NewRemediationPlan creates a plan linked to a diagnosis and incident.
func NewRemediationPlan(diagnosisID, incidentID string) *RemediationPlan {
	return &RemediationPlan{
		ID:          uuid.NewString(),
		DiagnosisID: diagnosisID,
		IncidentID:  incidentID,
		Timestamp:   time.Now().UTC(),
		Parameters:  make(map[string]interface{}),
	}
}

// RemediationStatus represents the status of a remediation run
type RemediationStatus string

const (
	RemediationPending    RemediationStatus = "pending"
	RemediationValidating RemediationStatus = "validating"
	RemediationPlanning   RemediationStatus = "planning"
	RemediationExecuting  RemediationStatus = "executing"
	RemediationVerifying  RemediationStatus = "verifying"
	RemediationSuccess    RemediationStatus = "success"
	RemediationFailed     RemediationStatus = "failed"
	RemediationRolledBack RemediationStatus = "rolled_back"
)

// RemediationResult records the outcome of executing a plan. Every branch of
// the executor populates Logs with an ordered human-readable trace.
type RemediationResult struct {
	ID                 string                 `json:"id"`
	PlanID             string                 `json:"plan_id"`
	IncidentID         string                 `json:"incident_id"`
	Timestamp          time.Time              `json:"timestamp"`
	Status             RemediationStatus      `json:"status"`
	Success            bool                   `json:"success"`
	ActionTaken        string                 `json:"action_taken"`
	Duration           time.Duration          `json:"duration"`
	ActualCost         *float64               `json:"actual_cost,omitempty"`
	VerificationPassed bool                   `json:"verification_passed"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	RollbackExecuted   bool                   `json:"rollback_executed"`
	Logs               []string               `json:"logs"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// NewRemediationResult creates a result linked to a plan and incident.
func NewRemediationResult(planID, incidentID string) *RemediationResult {
	return &RemediationResult{
		ID:         uuid.NewString(),
		PlanID:     planID,
		IncidentID: incidentID,
		Timestamp:  time.Now().UTC(),
		Metadata:   make(map[string]interface{}),
	}
}
