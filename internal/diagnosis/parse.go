package diagnosis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/catherinevee/remedymgr/internal/models"
)

var sizeSlugRe = regexp.MustCompile(`s-\d+vcpu-\d+gb`)

type parsedDiagnosis struct {
	rootCause       string
	category        string
	reasoning       string
	recommendations []string
}

// parseDiagnosisText splits an analysis response into its labelled
// sections, with fallbacks when a section is missing.
func parseDiagnosisText(text string) parsedDiagnosis {
	var parsed parsedDiagnosis
	section := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ROOT CAUSE:"):
			parsed.rootCause = strings.TrimSpace(strings.TrimPrefix(line, "ROOT CAUSE:"))
			section = "root_cause"
		case strings.HasPrefix(line, "CATEGORY:"):
			parsed.category = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "CATEGORY:")))
			section = "category"
		case strings.HasPrefix(line, "REASONING:"):
			parsed.reasoning = strings.TrimSpace(strings.TrimPrefix(line, "REASONING:"))
			section = "reasoning"
		case strings.HasPrefix(line, "RECOMMENDATIONS:"):
			section = "recommendations"
		case section == "reasoning" && line != "":
			parsed.reasoning += " " + line
		case section == "recommendations" && line != "":
			if line[0] >= '0' && line[0] <= '9' || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
				rec := strings.TrimSpace(strings.TrimLeft(line, "0123456789.-*) "))
				if rec != "" {
					parsed.recommendations = append(parsed.recommendations, rec)
				}
			}
		}
	}

	if parsed.rootCause == "" {
		parsed.rootCause = "High resource usage detected"
	}
	if parsed.category == "" {
		parsed.category = "performance"
	}
	if parsed.reasoning == "" {
		if len(text) > 200 {
			text = text[:200]
		}
		parsed.reasoning = strings.TrimSpace(text)
	}
	if len(parsed.recommendations) == 0 {
		parsed.recommendations = []string{
			"Scale up resources",
			"Investigate resource usage",
			"Enable monitoring",
		}
	}
	return parsed
}

// determineAction picks the remediation action from keywords in the
// plan text, falling back to the diagnosis category.
func determineAction(category, planText string) models.RemediationAction {
	lower := strings.ToLower(planText)

	switch {
	case strings.Contains(lower, "resize") || strings.Contains(lower, "scale"):
		return models.ActionResizeDroplet
	case strings.Contains(lower, "volume") || strings.Contains(lower, "disk"):
		return models.ActionAddVolume
	case strings.Contains(lower, "restart") || strings.Contains(lower, "reboot"):
		return models.ActionRestartService
	case strings.Contains(lower, "firewall") || strings.Contains(lower, "security"):
		return models.ActionUpdateFirewall
	case strings.Contains(lower, "clean"):
		return models.ActionCleanDisk
	}

	switch category {
	case "capacity":
		return models.ActionResizeDroplet
	case "security":
		return models.ActionUpdateFirewall
	default:
		return models.ActionRestartService
	}
}

// extractParameters builds the plan parameter map from the diagnosis
// context and any size slug mentioned in the plan text.
func extractParameters(planText string, diagnosis *models.Diagnosis) map[string]interface{} {
	params := map[string]interface{}{
		"diagnosis_id": diagnosis.ID,
		"incident_id":  diagnosis.IncidentID,
		"root_cause":   diagnosis.RootCause,
	}

	if id, ok := diagnosis.Metadata["resource_id"]; ok {
		params["resource_id"] = id
	}
	if name, ok := diagnosis.Metadata["resource_name"]; ok {
		params["resource_name"] = name
	}
	if ip, ok := diagnosis.Metadata["resource_ip"]; ok {
		params["resource_ip"] = ip
	}

	if slug := sizeSlugRe.FindString(planText); slug != "" {
		params["new_size"] = slug
	}
	return params
}

// estimateRemediation returns rough cost and duration for fixing the
// incident's violated metric.
func estimateRemediation(metric models.MetricType) (cost float64, durationSec int) {
	switch metric {
	case models.MetricCPUUsage, models.MetricMemoryUsage:
		return 12.0, 90
	case models.MetricDiskUsage:
		return 10.0, 60
	default:
		return 0.0, 30
	}
}

// defaultSafetyChecks lists the checks every generated plan declares.
func defaultSafetyChecks() []string {
	return []string{
		"Validate change document",
		"Check estimated cost is within acceptable range",
		"Verify no destructive operations on production resources",
		"Ensure rollback plan is available",
	}
}

// defaultRollback builds the state-file rollback every generated plan
// carries.
func defaultRollback() *models.RollbackPlan {
	return &models.RollbackPlan{
		Description: "Roll back to the previous state snapshot",
		Steps: []string{
			"terraform state pull > rollback.tfstate",
			"terraform apply -auto-approve -state=rollback.tfstate",
		},
	}
}

// describeIncident renders the one-line summary used in prompts and
// rule diagnoses.
func describeIncident(incident *models.Incident) string {
	return fmt.Sprintf("%s on %s (%s) at %.2f%% against threshold %.2f%%",
		incident.Metric, incident.ResourceName, incident.ResourceType,
		incident.CurrentValue, incident.ThresholdValue)
}
