// Package safety evaluates remediation plans against execution policy.
// The validator is a pure function of the plan and its configuration;
// it performs no I/O.
package safety

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/catherinevee/remedymgr/internal/models"
)

// DefaultCostThreshold is the monthly cost above which a plan always
// requires operator approval.
const DefaultCostThreshold = 50.0

// destructiveKeywords flag operations that can remove infrastructure.
var destructiveKeywords = []string{"delete", "destroy", "terminate", "drop", "remove"}

// requiredParameters maps each action to the parameters it cannot run
// without.
var requiredParameters = map[models.RemediationAction][]string{
	models.ActionResizeDroplet:      {"resource_id", "new_size"},
	models.ActionAddVolume:          {"resource_id", "size_gb"},
	models.ActionRestartService:     {"resource_id", "service_name"},
	models.ActionUpdateFirewall:     {"resource_id", "rules"},
	models.ActionCleanDisk:          {"resource_id", "paths"},
	models.ActionScaleKubernetes:    {"cluster_id", "node_count"},
	models.ActionUpdateLoadBalancer: {"resource_id"},
}

// Result is the transient outcome of validating one plan.
type Result struct {
	IsSafe           bool         `json:"is_safe"`
	RequiresApproval bool         `json:"requires_approval"`
	PassedChecks     []string     `json:"passed_checks"`
	FailedChecks     []string     `json:"failed_checks"`
	Warnings         []string     `json:"warnings"`
	Cost             CostEstimate `json:"cost"`
}

// Validator applies execution policy to remediation plans.
type Validator struct {
	costThreshold float64
}

// NewValidator returns a validator gating auto-approval at costThreshold.
// A non-positive threshold falls back to the default.
func NewValidator(costThreshold float64) *Validator {
	if costThreshold <= 0 {
		costThreshold = DefaultCostThreshold
	}
	return &Validator{costThreshold: costThreshold}
}

// Validate runs every policy check against the plan. IsSafe is true
// when no hard failure occurred; RequiresApproval is the OR of the
// plan's own flag and any gating triggered here.
func (v *Validator) Validate(plan *models.RemediationPlan) Result {
	result := Result{
		RequiresApproval: plan.RequiresApproval,
	}

	v.checkRollback(plan, &result)
	v.checkDestructive(plan, &result)
	v.checkCost(plan, &result)
	v.checkDeclaredChecks(plan, &result)
	v.checkRequiredParameters(plan, &result)
	v.checkChangeDocument(plan, &result)

	result.IsSafe = len(result.FailedChecks) == 0
	return result
}

func (v *Validator) checkRollback(plan *models.RemediationPlan, result *Result) {
	rb := plan.Rollback
	if rb == nil || len(rb.Steps) == 0 {
		result.FailedChecks = append(result.FailedChecks, "No valid rollback plan found")
		return
	}
	for _, step := range rb.Steps {
		if strings.TrimSpace(step) == "" {
			result.FailedChecks = append(result.FailedChecks, "No valid rollback plan found")
			return
		}
	}
	result.PassedChecks = append(result.PassedChecks, "Rollback plan validated")
}

func (v *Validator) checkDestructive(plan *models.RemediationPlan, result *Result) {
	var matched []string

	haystacks := []string{
		string(plan.Action),
		plan.ChangeDocument,
	}
	seen := make(map[string]struct{})
	for _, text := range haystacks {
		for _, token := range letterTokens(text) {
			for _, keyword := range destructiveKeywords {
				if token != keyword {
					continue
				}
				if _, dup := seen[keyword]; dup {
					continue
				}
				seen[keyword] = struct{}{}
				matched = append(matched, keyword)
			}
		}
	}

	for key := range plan.Parameters {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "force") || strings.Contains(lower, "destroy") {
			matched = append(matched, key)
		}
	}

	if len(matched) == 0 {
		result.PassedChecks = append(result.PassedChecks, "No destructive operations detected")
		return
	}

	sort.Strings(matched)
	result.RequiresApproval = true
	result.Warnings = append(result.Warnings,
		fmt.Sprintf("Destructive operation indicators found (%s), approval required", strings.Join(matched, ", ")))
}

// letterTokens splits text into lowercase letter runs. Keyword matching
// works on whole tokens so "drop" cannot fire inside "droplet" or
// "digitalocean_droplet".
func letterTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r < 'a' || r > 'z'
	})
}

func (v *Validator) checkCost(plan *models.RemediationPlan, result *Result) {
	result.Cost = EstimateCost(plan)

	if result.Cost.TotalFirstMonth > v.costThreshold {
		result.RequiresApproval = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Estimated first-month cost $%.2f exceeds auto-approve threshold $%.2f",
				result.Cost.TotalFirstMonth, v.costThreshold))
		return
	}
	result.PassedChecks = append(result.PassedChecks,
		fmt.Sprintf("Estimated first-month cost $%.2f within threshold", result.Cost.TotalFirstMonth))
}

func (v *Validator) checkDeclaredChecks(plan *models.RemediationPlan, result *Result) {
	if len(plan.SafetyChecks) == 0 {
		result.FailedChecks = append(result.FailedChecks, "Plan declares no safety checks")
		return
	}
	result.PassedChecks = append(result.PassedChecks,
		fmt.Sprintf("Plan declares %d safety checks", len(plan.SafetyChecks)))
}

func (v *Validator) checkRequiredParameters(plan *models.RemediationPlan, result *Result) {
	required, ok := requiredParameters[plan.Action]
	if !ok {
		result.FailedChecks = append(result.FailedChecks,
			fmt.Sprintf("Unknown remediation action: %s", plan.Action))
		return
	}

	var missing []string
	for _, name := range required {
		if _, present := plan.Parameters[name]; !present {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		result.FailedChecks = append(result.FailedChecks,
			fmt.Sprintf("Missing required parameters for %s: %s", plan.Action, strings.Join(missing, ", ")))
		return
	}
	result.PassedChecks = append(result.PassedChecks, "All required parameters present")
}

func (v *Validator) checkChangeDocument(plan *models.RemediationPlan, result *Result) {
	doc := strings.TrimSpace(plan.ChangeDocument)
	if doc == "" {
		result.Warnings = append(result.Warnings, "Plan has no change document attached")
		return
	}

	if !strings.Contains(doc, "{") {
		result.FailedChecks = append(result.FailedChecks, "Change document contains no declarative blocks")
		return
	}

	parser := hclparse.NewParser()
	_, diags := parser.ParseHCL([]byte(doc), plan.ID+".tf")
	if diags.HasErrors() {
		var msgs []string
		for _, d := range diags.Errs() {
			msgs = append(msgs, d.Error())
		}
		result.FailedChecks = append(result.FailedChecks,
			fmt.Sprintf("Change document is not well-formed: %s", strings.Join(msgs, "; ")))
		return
	}
	result.PassedChecks = append(result.PassedChecks, "Change document is well-formed")
}
