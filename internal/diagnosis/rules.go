package diagnosis

import (
	"context"
	"fmt"

	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/models"
)

// RuleProvider diagnoses incidents from a fixed rule table. It is the
// fallback when no language-model provider is configured and the only
// provider used in tests.
type RuleProvider struct {
	kb  *KnowledgeBase
	log logger.Logger
}

// NewRuleProvider returns a deterministic provider backed by kb. A nil
// kb is treated as empty.
func NewRuleProvider(kb *KnowledgeBase) *RuleProvider {
	if kb == nil {
		kb = &KnowledgeBase{}
	}
	return &RuleProvider{
		kb:  kb,
		log: logger.New("diagnosis.rules"),
	}
}

// Diagnose maps the violated metric to a root cause and recommendation
// set. Confidence is derived from severity so that only clear-cut
// incidents clear the auto-remediation gate.
func (p *RuleProvider) Diagnose(ctx context.Context, incident *models.Incident) (*models.Diagnosis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := models.NewDiagnosis(incident.ID)
	d.Metadata["resource_id"] = incident.ResourceID
	d.Metadata["resource_name"] = incident.ResourceName
	d.Metadata["provider"] = "rules"

	switch incident.Metric {
	case models.MetricCPUUsage:
		d.RootCause = fmt.Sprintf("CPU saturated on %s: sustained usage above the %.0f%% threshold", incident.ResourceName, incident.ThresholdValue)
		d.RootCauseCategory = "capacity"
		d.Recommendations = []string{
			"Resize the droplet to the next size up",
			"Profile the workload for runaway processes",
		}
	case models.MetricMemoryUsage:
		d.RootCause = fmt.Sprintf("Memory pressure on %s: usage above the %.0f%% threshold", incident.ResourceName, incident.ThresholdValue)
		d.RootCauseCategory = "capacity"
		d.Recommendations = []string{
			"Resize the droplet to a memory-optimized size",
			"Check for memory leaks in long-running services",
		}
	case models.MetricDiskUsage:
		d.RootCause = fmt.Sprintf("Disk nearly full on %s: usage above the %.0f%% threshold", incident.ResourceName, incident.ThresholdValue)
		d.RootCauseCategory = "capacity"
		d.Recommendations = []string{
			"Attach an additional volume",
			"Clean up logs and temporary files",
		}
	case models.MetricErrorRate, models.MetricResponseTime:
		d.RootCause = fmt.Sprintf("Service degradation on %s: %s above threshold", incident.ResourceName, incident.Metric)
		d.RootCauseCategory = "performance"
		d.Recommendations = []string{
			"Restart the affected service",
			"Inspect recent deploys for regressions",
		}
	default:
		d.RootCause = fmt.Sprintf("Anomalous %s on %s", incident.Metric, incident.ResourceName)
		d.RootCauseCategory = "other"
		d.Recommendations = []string{"Investigate resource usage", "Enable detailed monitoring"}
	}

	d.Reasoning = fmt.Sprintf("Rule table matched %s.", describeIncident(incident))
	d.Confidence = ruleConfidence(incident.Severity)

	cost, duration := estimateRemediation(incident.Metric)
	d.EstimatedCost = &cost
	d.EstimatedDuration = &duration

	if matches := p.kb.Match(describeIncident(incident)); len(matches) > 0 {
		for _, m := range matches {
			d.Evidence = append(d.Evidence, fmt.Sprintf("knowledge base: %s (relevance %.2f)", m.Source, m.Relevance))
		}
	}

	p.log.Info("Diagnosis complete",
		logger.String("incident_id", incident.ID),
		logger.String("root_cause", d.RootCause),
		logger.Float64("confidence", d.Confidence),
	)
	return d, nil
}

// Plan converts a diagnosis into a remediation plan using the action
// keyword rules and the built-in document templates.
func (p *RuleProvider) Plan(ctx context.Context, diagnosis *models.Diagnosis) (*models.RemediationPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	planText := joinRecommendations(diagnosis)
	action := determineAction(diagnosis.RootCauseCategory, planText)

	plan := models.NewRemediationPlan(diagnosis.ID, diagnosis.IncidentID)
	plan.Action = action
	plan.Description = planText
	plan.Parameters = extractParameters(planText, diagnosis)
	plan.SafetyChecks = defaultSafetyChecks()
	plan.Rollback = defaultRollback()
	plan.EstimatedCost = diagnosis.EstimatedCost
	plan.EstimatedDuration = diagnosis.EstimatedDuration

	fillActionDefaults(plan)

	plan.RequiresApproval = (diagnosis.EstimatedCost != nil && *diagnosis.EstimatedCost > 50.0) ||
		action == models.ActionUpdateFirewall

	p.log.Info("Remediation plan created",
		logger.String("incident_id", diagnosis.IncidentID),
		logger.String("action", string(action)),
		logger.Bool("requires_approval", plan.RequiresApproval),
	)
	return plan, nil
}

// GenerateChangeDocument renders the template for the plan's action.
func (p *RuleProvider) GenerateChangeDocument(ctx context.Context, plan *models.RemediationPlan) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return renderChangeDocument(plan), nil
}

// ruleConfidence maps severity to a fixed confidence. Critical and high
// severity incidents are unambiguous threshold breaches; lower
// severities warrant human review.
func ruleConfidence(severity models.Severity) float64 {
	switch severity {
	case models.SeverityCritical:
		return 0.9
	case models.SeverityHigh:
		return 0.85
	case models.SeverityMedium:
		return 0.75
	default:
		return 0.6
	}
}

// fillActionDefaults supplies the parameters each action requires when
// the diagnosis did not provide them.
func fillActionDefaults(plan *models.RemediationPlan) {
	ensure := func(key string, value interface{}) {
		if _, ok := plan.Parameters[key]; !ok {
			plan.Parameters[key] = value
		}
	}

	switch plan.Action {
	case models.ActionResizeDroplet:
		ensure("new_size", "s-2vcpu-4gb")
	case models.ActionAddVolume:
		ensure("size_gb", 100)
	case models.ActionRestartService:
		ensure("service_name", "app")
	case models.ActionUpdateFirewall:
		ensure("rules", []string{"allow tcp 443"})
	case models.ActionCleanDisk:
		ensure("paths", []string{"/var/log", "/tmp"})
	case models.ActionScaleKubernetes:
		ensure("cluster_id", plan.Parameters["resource_id"])
		ensure("node_count", 3)
	}
}

func joinRecommendations(diagnosis *models.Diagnosis) string {
	if len(diagnosis.Recommendations) == 0 {
		return diagnosis.RootCause
	}
	text := ""
	for i, rec := range diagnosis.Recommendations {
		if i > 0 {
			text += "; "
		}
		text += rec
	}
	return text
}
