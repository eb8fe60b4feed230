package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/remedymgr/internal/models"
)

func safePlan() *models.RemediationPlan {
	plan := models.NewRemediationPlan("diag-1", "inc-1")
	plan.Action = models.ActionResizeDroplet
	plan.Description = "Resize droplet to next size up"
	plan.ChangeDocument = `resource "digitalocean_droplet" "web" {
  name = "web-1"
  size = "s-2vcpu-4gb"
}`
	plan.Parameters = map[string]interface{}{
		"resource_id": "droplet-123",
		"new_size":    "s-2vcpu-4gb",
	}
	plan.SafetyChecks = []string{"rollback_plan", "cost_estimate"}
	plan.Rollback = &models.RollbackPlan{
		Description: "Resize back to original slug",
		Steps:       []string{"terraform apply with previous size", "verify droplet active"},
	}
	return plan
}

func TestValidatePassesSafePlan(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)
	result := v.Validate(safePlan())

	assert.True(t, result.IsSafe)
	assert.False(t, result.RequiresApproval)
	assert.Empty(t, result.FailedChecks)
	assert.Contains(t, result.PassedChecks, "Rollback plan validated")
	assert.Contains(t, result.PassedChecks, "No destructive operations detected")
}

func TestValidateMissingRollbackIsHardFailure(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.RemediationPlan)
	}{
		{"nil rollback", func(p *models.RemediationPlan) { p.Rollback = nil }},
		{"empty steps", func(p *models.RemediationPlan) { p.Rollback.Steps = nil }},
		{"blank step", func(p *models.RemediationPlan) { p.Rollback.Steps = []string{"  "} }},
	}

	v := NewValidator(DefaultCostThreshold)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := safePlan()
			tt.mutate(plan)

			result := v.Validate(plan)
			assert.False(t, result.IsSafe)
			assert.Contains(t, result.FailedChecks, "No valid rollback plan found")
		})
	}
}

func TestValidateDestructiveActionForcesApproval(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)

	plan := safePlan()
	plan.Action = models.RemediationAction("delete_volume")
	plan.RequiresApproval = false

	result := v.Validate(plan)
	assert.True(t, result.RequiresApproval)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "Destructive operation")
}

func TestValidateKeywordMatchesWholeTokensOnly(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)

	// "drop" inside resize_droplet and digitalocean_droplet must not
	// count as destructive; the whole fleet is droplets.
	plan := safePlan()
	result := v.Validate(plan)
	assert.False(t, result.RequiresApproval)
	assert.Contains(t, result.PassedChecks, "No destructive operations detected")

	// The same keyword as a standalone token in the document does.
	plan = safePlan()
	plan.ChangeDocument += "\n# rollback runs terraform destroy\n"
	result = v.Validate(plan)
	assert.True(t, result.RequiresApproval)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "destroy")
}

func TestValidateForceParameterForcesApproval(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)

	plan := safePlan()
	plan.Parameters["force_rebuild"] = true

	result := v.Validate(plan)
	assert.True(t, result.IsSafe)
	assert.True(t, result.RequiresApproval)
}

func TestValidateCostGating(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)

	plan := safePlan()
	cost := 120.0
	plan.EstimatedCost = &cost
	plan.RequiresApproval = false

	result := v.Validate(plan)
	assert.True(t, result.IsSafe)
	assert.True(t, result.RequiresApproval)
	assert.Equal(t, 120.0, result.Cost.TotalFirstMonth)

	cheap := 5.0
	plan.EstimatedCost = &cheap
	result = v.Validate(plan)
	assert.False(t, result.RequiresApproval)
}

func TestValidateEmptySafetyChecksIsHardFailure(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)

	plan := safePlan()
	plan.SafetyChecks = nil

	result := v.Validate(plan)
	assert.False(t, result.IsSafe)
	assert.Contains(t, result.FailedChecks, "Plan declares no safety checks")
}

func TestValidateMissingParameters(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)

	plan := safePlan()
	delete(plan.Parameters, "new_size")

	result := v.Validate(plan)
	assert.False(t, result.IsSafe)
	require.Len(t, result.FailedChecks, 1)
	assert.Contains(t, result.FailedChecks[0], "new_size")
}

func TestValidateMalformedChangeDocument(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)

	plan := safePlan()
	plan.ChangeDocument = `resource "digitalocean_droplet" "web" {
  name = "web-1"
`

	result := v.Validate(plan)
	assert.False(t, result.IsSafe)

	found := false
	for _, failed := range result.FailedChecks {
		if strings.Contains(failed, "not well-formed") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateMissingDocumentIsWarningOnly(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)

	plan := safePlan()
	plan.ChangeDocument = ""

	result := v.Validate(plan)
	assert.True(t, result.IsSafe)
	assert.Contains(t, result.Warnings, "Plan has no change document attached")
}

func TestValidatePlanApprovalFlagIsSticky(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)

	plan := safePlan()
	plan.RequiresApproval = true

	result := v.Validate(plan)
	assert.True(t, result.RequiresApproval)
}

func TestEstimateCostTable(t *testing.T) {
	tests := []struct {
		name    string
		action  models.RemediationAction
		params  map[string]interface{}
		monthly float64
	}{
		{"resize", models.ActionResizeDroplet, map[string]interface{}{}, 12.0},
		{"volume 50gb", models.ActionAddVolume, map[string]interface{}{"size_gb": 50}, 5.0},
		{"volume default size", models.ActionAddVolume, map[string]interface{}{}, 10.0},
		{"firewall free", models.ActionUpdateFirewall, map[string]interface{}{}, 0.0},
		{"load balancer", models.ActionUpdateLoadBalancer, map[string]interface{}{}, 12.0},
		{"scale k8s 3 nodes", models.ActionScaleKubernetes, map[string]interface{}{"node_count": 3}, 36.0},
		{"restart free", models.ActionRestartService, map[string]interface{}{}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := models.NewRemediationPlan("diag-1", "inc-1")
			plan.Action = tt.action
			plan.Parameters = tt.params

			estimate := EstimateCost(plan)
			assert.InDelta(t, tt.monthly, estimate.Monthly, 0.001)
			assert.InDelta(t, tt.monthly, estimate.TotalFirstMonth, 0.001)
		})
	}
}

func TestEstimateCostDeclaredOverridesTable(t *testing.T) {
	plan := models.NewRemediationPlan("diag-1", "inc-1")
	plan.Action = models.ActionResizeDroplet
	declared := 42.0
	plan.EstimatedCost = &declared

	estimate := EstimateCost(plan)
	assert.Equal(t, 42.0, estimate.Monthly)
	assert.Equal(t, 42.0, estimate.Breakdown["declared"])
}

func TestValidateIdempotent(t *testing.T) {
	v := NewValidator(DefaultCostThreshold)
	plan := safePlan()

	first := v.Validate(plan)
	second := v.Validate(plan)
	assert.Equal(t, first, second)
}
