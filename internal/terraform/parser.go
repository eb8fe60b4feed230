package terraform

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	planSummaryRe  = regexp.MustCompile(`Plan: (\d+) to add, (\d+) to change, (\d+) to destroy`)
	applySummaryRe = regexp.MustCompile(`Apply complete! Resources: (\d+) added, (\d+) changed, (\d+) destroyed`)
)

// parsePlanOutput extracts diff counts from terraform plan output.
// "No changes" output yields all-zero counts with Success true.
func parsePlanOutput(output string) *PlanResult {
	result := &PlanResult{Success: true}

	if m := planSummaryRe.FindStringSubmatch(output); m != nil {
		result.ToAdd, _ = strconv.Atoi(m[1])
		result.ToChange, _ = strconv.Atoi(m[2])
		result.ToDestroy, _ = strconv.Atoi(m[3])
	}
	return result
}

// parseApplyOutput extracts resource counts from terraform apply
// output, preferring the summary line and falling back to counting the
// per-resource progress markers.
func parseApplyOutput(output string) *ApplyResult {
	result := &ApplyResult{Success: true}

	if m := applySummaryRe.FindStringSubmatch(output); m != nil {
		result.Created, _ = strconv.Atoi(m[1])
		result.Updated, _ = strconv.Atoi(m[2])
		result.Destroyed, _ = strconv.Atoi(m[3])
		return result
	}

	result.Created = strings.Count(output, "Creation complete")
	result.Updated = strings.Count(output, "Modifications complete")
	result.Destroyed = strings.Count(output, "Destruction complete")
	return result
}

// parseValidateOutput decodes terraform validate -json output. Plain
// text output is treated as valid only when it carries the success
// marker.
func parseValidateOutput(output string) *ValidateResult {
	var decoded struct {
		Valid       bool `json:"valid"`
		Diagnostics []struct {
			Severity string `json:"severity"`
			Summary  string `json:"summary"`
			Detail   string `json:"detail"`
		} `json:"diagnostics"`
	}

	if err := json.Unmarshal([]byte(output), &decoded); err == nil {
		result := &ValidateResult{Valid: decoded.Valid}
		for _, d := range decoded.Diagnostics {
			msg := d.Summary
			if d.Detail != "" {
				msg += ": " + d.Detail
			}
			if d.Severity == "error" {
				result.Errors = append(result.Errors, msg)
			} else {
				result.Warnings = append(result.Warnings, msg)
			}
		}
		return result
	}

	if strings.Contains(output, "Success!") {
		return &ValidateResult{Valid: true}
	}
	return &ValidateResult{Valid: false, Errors: []string{strings.TrimSpace(output)}}
}
