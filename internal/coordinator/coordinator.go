// Package coordinator runs the incident remediation control loop:
// detect, diagnose, gate, plan, execute, verify.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/catherinevee/remedymgr/internal/detector"
	"github.com/catherinevee/remedymgr/internal/diagnosis"
	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/models"
	"github.com/catherinevee/remedymgr/internal/remediation"
	"github.com/catherinevee/remedymgr/internal/store"
	"github.com/catherinevee/remedymgr/internal/telemetry"
)

const diagnoseTimeout = 2 * time.Minute

// Config carries the loop's tunables.
type Config struct {
	CheckInterval          time.Duration
	ConfidenceThreshold    float64
	AutoRemediationEnabled bool
	MaxConcurrent          int
	Thresholds             detector.Thresholds
}

// Stats are the loop's running counters.
type Stats struct {
	IncidentsDetected      int     `json:"incidents_detected"`
	IncidentsResolved      int     `json:"incidents_resolved"`
	RemediationsExecuted   int     `json:"remediations_executed"`
	RemediationsSuccessful int     `json:"remediations_successful"`
	TotalCost              float64 `json:"total_cost"`
}

// IncidentView bundles everything known about one incident.
type IncidentView struct {
	Incident  *models.Incident          `json:"incident"`
	Diagnosis *models.Diagnosis         `json:"diagnosis,omitempty"`
	Plan      *models.RemediationPlan   `json:"plan,omitempty"`
	Result    *models.RemediationResult `json:"result,omitempty"`
}

// Status is the operational snapshot exposed to the service layer.
type Status struct {
	Running             bool                `json:"running"`
	ActiveIncidents     int                 `json:"active_incidents"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	AutoRemediation     bool                `json:"auto_remediation_enabled"`
	Thresholds          detector.Thresholds `json:"thresholds"`
	Stats               Stats               `json:"stats"`
}

// Coordinator owns cross-incident state and drives each incident
// through its lifecycle. Incidents are processed concurrently up to
// MaxConcurrent with per-incident mutual exclusion.
type Coordinator struct {
	cfg      Config
	detector detector.Detector
	provider diagnosis.Provider
	executor *remediation.Executor
	store    store.IncidentStore
	metrics  *telemetry.Metrics
	log      logger.Logger

	mu         sync.Mutex
	running    bool
	inFlight   map[string]struct{}
	stats      Stats
	stopCh     chan struct{}
	loopDone   chan struct{}
	loopCancel context.CancelFunc
	sem        chan struct{}
}

// New wires a coordinator. metrics may be nil, in which case no
// counters are recorded.
func New(cfg Config, det detector.Detector, provider diagnosis.Provider, executor *remediation.Executor, st store.IncidentStore, metrics *telemetry.Metrics) *Coordinator {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.85
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Coordinator{
		cfg:      cfg,
		detector: det,
		provider: provider,
		executor: executor,
		store:    st,
		metrics:  metrics,
		log:      logger.New("coordinator"),
		inFlight: make(map[string]struct{}),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start launches the control loop. Idempotent while running.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.loopDone = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.mu.Unlock()

	c.log.Info("Control loop starting",
		logger.Duration("check_interval", c.cfg.CheckInterval),
		logger.Float64("confidence_threshold", c.cfg.ConfidenceThreshold),
		logger.Bool("auto_remediation", c.cfg.AutoRemediationEnabled),
	)
	go c.runLoop(ctx)
}

// Stop cancels in-tick diagnose/verify calls, signals the loop to
// exit, and waits for it. An apply already underway is detached from
// cancellation and finishes on its own.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.loopCancel()
	close(c.stopCh)
	done := c.loopDone
	c.mu.Unlock()

	<-done
	c.log.Info("Control loop stopped")
}

func (c *Coordinator) runLoop(ctx context.Context) {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	// First sweep immediately rather than one interval in.
	c.tick(ctx)

	for {
		select {
		case <-ticker.C:
			c.tick(ctx)
		case <-c.stopCh:
			return
		}
	}
}

// tick runs one detection sweep and dispatches workflows for new
// incidents. A detector failure is logged and retried next tick.
func (c *Coordinator) tick(ctx context.Context) {
	incidents, err := c.detector.DetectAll(ctx)
	if err != nil {
		c.log.Warn("Detection sweep failed", logger.Err(err))
		return
	}
	if c.metrics != nil {
		c.metrics.DetectorCycles.Inc()
	}

	var wg sync.WaitGroup
	for _, incident := range incidents {
		if c.alreadyTracked(incident) {
			continue
		}

		wg.Add(1)
		c.sem <- struct{}{}
		go func(inc *models.Incident) {
			defer wg.Done()
			defer func() { <-c.sem }()
			if err := c.HandleIncident(ctx, inc); err != nil {
				c.log.Error("Incident workflow failed",
					logger.String("incident_id", inc.ID), logger.Err(err))
			}
		}(incident)
	}
	wg.Wait()
}

// alreadyTracked reports whether an open incident exists for the same
// resource and metric. Re-detection after a terminal state creates a
// new incident.
func (c *Coordinator) alreadyTracked(incident *models.Incident) bool {
	for _, existing := range c.store.ListIncidents() {
		if existing.ResourceID == incident.ResourceID &&
			existing.Metric == incident.Metric &&
			!existing.Status.Terminal() {
			return true
		}
	}
	return false
}

// Submit begins the workflow for an externally-supplied incident.
func (c *Coordinator) Submit(incident *models.Incident) error {
	if incident == nil || incident.ID == "" {
		return fmt.Errorf("incident must have an id")
	}
	go func() {
		if err := c.HandleIncident(context.Background(), incident); err != nil {
			c.log.Error("Submitted incident failed",
				logger.String("incident_id", incident.ID), logger.Err(err))
		}
	}()
	return nil
}

// HandleIncident drives one incident through the full lifecycle. Any
// failure downgrades the incident to failed and is returned for
// logging; it never propagates a panic to the loop.
func (c *Coordinator) HandleIncident(ctx context.Context, incident *models.Incident) (err error) {
	if !c.acquire(incident.ID) {
		return fmt.Errorf("incident %s is already being processed", incident.ID)
	}
	defer c.release(incident.ID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("incident workflow panicked: %v", r)
			c.markFailed(incident.ID)
		}
	}()

	if _, ok := c.store.GetIncident(incident.ID); !ok {
		if err := c.store.SaveIncident(incident); err != nil {
			return err
		}
		c.bumpDetected()
	}
	if c.metrics != nil {
		c.metrics.IncidentsInFlight.Inc()
		defer c.metrics.IncidentsInFlight.Dec()
	}

	// Diagnose.
	if err := c.store.UpdateIncidentStatus(incident.ID, models.IncidentDiagnosing); err != nil {
		return err
	}

	diagCtx, cancel := context.WithTimeout(ctx, diagnoseTimeout)
	diag, err := c.provider.Diagnose(diagCtx, incident)
	cancel()
	if err != nil {
		c.markFailed(incident.ID)
		return fmt.Errorf("diagnosis failed: %w", err)
	}
	if err := c.store.SaveDiagnosis(incident.ID, diag); err != nil {
		return err
	}
	if err := c.store.UpdateIncidentStatus(incident.ID, models.IncidentDiagnosed); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.DiagnosisConfidence.Observe(diag.Confidence)
	}

	// Gate: remain diagnosed unless auto-remediation is on and the
	// diagnosis is confident enough.
	if !c.cfg.AutoRemediationEnabled || diag.Confidence < c.cfg.ConfidenceThreshold {
		c.log.Info("Remediation gated, incident left for manual handling",
			logger.String("incident_id", incident.ID),
			logger.Float64("confidence", diag.Confidence),
			logger.Bool("auto_remediation", c.cfg.AutoRemediationEnabled),
		)
		return nil
	}

	// Plan.
	planCtx, cancel := context.WithTimeout(ctx, diagnoseTimeout)
	plan, err := c.provider.Plan(planCtx, diag)
	cancel()
	if err != nil {
		c.markFailed(incident.ID)
		return fmt.Errorf("planning failed: %w", err)
	}
	if err := c.store.SavePlan(plan); err != nil {
		return err
	}

	if err := c.store.UpdateIncidentStatus(incident.ID, models.IncidentRemediating); err != nil {
		return err
	}

	result := c.executor.Execute(ctx, plan, incident, false)
	return c.recordOutcome(incident, plan, result)
}

// Approve lets a pending plan proceed with approval granted. The
// incident must not be mid-execution.
func (c *Coordinator) Approve(planID string) (*models.RemediationResult, error) {
	plan, ok := c.store.GetPlan(planID)
	if !ok {
		return nil, fmt.Errorf("plan %s not found", planID)
	}
	incident, ok := c.store.GetIncident(plan.IncidentID)
	if !ok {
		return nil, fmt.Errorf("incident %s not found", plan.IncidentID)
	}
	if result, ok := c.store.GetResult(plan.IncidentID); !ok || result.Status != models.RemediationPending {
		return nil, fmt.Errorf("plan %s is not awaiting approval", planID)
	}

	if !c.acquire(incident.ID) {
		return nil, fmt.Errorf("incident %s is already being processed", incident.ID)
	}
	defer c.release(incident.ID)

	c.log.Info("Plan approved",
		logger.String("plan_id", planID),
		logger.String("incident_id", incident.ID),
	)
	if c.metrics != nil {
		c.metrics.PlansAwaitingApproval.Dec()
	}

	result := c.executor.Execute(context.Background(), plan, incident, true)
	if err := c.recordOutcome(incident, plan, result); err != nil {
		return result, err
	}
	return result, nil
}

// recordOutcome persists a remediation result, advances the incident
// state machine, and updates counters.
func (c *Coordinator) recordOutcome(incident *models.Incident, plan *models.RemediationPlan, result *models.RemediationResult) error {
	if err := c.store.SaveResult(result); err != nil {
		return err
	}

	switch result.Status {
	case models.RemediationPending:
		// Plan waits for an operator; the incident keeps its
		// remediating status until approved or abandoned.
		if c.metrics != nil {
			c.metrics.PlansAwaitingApproval.Inc()
		}
		return nil

	case models.RemediationSuccess:
		c.mu.Lock()
		c.stats.RemediationsExecuted++
		c.stats.RemediationsSuccessful++
		c.stats.IncidentsResolved++
		if result.ActualCost != nil {
			c.stats.TotalCost += *result.ActualCost
		}
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.RemediationsExecuted.Inc()
			c.metrics.RemediationsSuccessful.Inc()
			c.metrics.IncidentsResolved.Inc()
			c.metrics.RemediationDuration.Observe(result.Duration.Seconds())
			if result.ActualCost != nil {
				c.metrics.TotalRemediationCost.Add(*result.ActualCost)
			}
		}
		return c.store.UpdateIncidentStatus(incident.ID, models.IncidentResolved)

	default:
		c.mu.Lock()
		c.stats.RemediationsExecuted++
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.RemediationsExecuted.Inc()
			c.metrics.RemediationsFailed.Inc()
			c.metrics.RemediationDuration.Observe(result.Duration.Seconds())
			if result.Status == models.RemediationRolledBack {
				c.metrics.RemediationsRolledBack.Inc()
			}
			if failed, ok := result.Metadata["failed_checks"].([]string); ok {
				for _, check := range failed {
					c.metrics.SafetyChecksFailed.WithLabelValues(check).Inc()
				}
			}
			if strings.HasPrefix(result.ErrorMessage, "verification failed") {
				c.metrics.VerificationFailures.Inc()
			}
		}
		return c.store.UpdateIncidentStatus(incident.ID, models.IncidentFailed)
	}
}

// Status returns the loop's operational snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := 0
	for _, inc := range c.store.ListIncidents() {
		if !inc.Status.Terminal() {
			active++
		}
	}
	return Status{
		Running:             c.running,
		ActiveIncidents:     active,
		ConfidenceThreshold: c.cfg.ConfidenceThreshold,
		AutoRemediation:     c.cfg.AutoRemediationEnabled,
		Thresholds:          c.cfg.Thresholds,
		Stats:               c.stats,
	}
}

// GetIncident returns everything recorded for one incident.
func (c *Coordinator) GetIncident(id string) (*IncidentView, bool) {
	incident, ok := c.store.GetIncident(id)
	if !ok {
		return nil, false
	}
	view := &IncidentView{Incident: incident}
	if d, ok := c.store.GetDiagnosis(id); ok {
		view.Diagnosis = d
	}
	if p, ok := c.store.GetPlanByIncident(id); ok {
		view.Plan = p
	}
	if r, ok := c.store.GetResult(id); ok {
		view.Result = r
	}
	return view, true
}

// ListIncidents returns all tracked incidents, newest first.
func (c *Coordinator) ListIncidents() []*models.Incident {
	return c.store.ListIncidents()
}

// PendingPlans returns plans awaiting approval.
func (c *Coordinator) PendingPlans() []*models.RemediationPlan {
	return c.store.ListPendingPlans()
}

func (c *Coordinator) acquire(incidentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[incidentID]; busy {
		return false
	}
	c.inFlight[incidentID] = struct{}{}
	return true
}

func (c *Coordinator) release(incidentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, incidentID)
}

// markFailed downgrades an incident after a workflow error. An
// illegal transition here means a bug in the state machine and is
// surfaced in the log rather than swallowed.
func (c *Coordinator) markFailed(incidentID string) {
	if err := c.store.UpdateIncidentStatus(incidentID, models.IncidentFailed); err != nil {
		c.log.Error("Could not mark incident failed",
			logger.String("incident_id", incidentID), logger.Err(err))
	}
}

func (c *Coordinator) bumpDetected() {
	c.mu.Lock()
	c.stats.IncidentsDetected++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.IncidentsDetected.Inc()
	}
}
