package diagnosis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/remedymgr/internal/models"
)

func cpuIncident() *models.Incident {
	inc := models.NewIncident()
	inc.ResourceID = "droplet-123"
	inc.ResourceName = "web-1"
	inc.ResourceType = models.ResourceDroplet
	inc.Metric = models.MetricCPUUsage
	inc.CurrentValue = 96.0
	inc.ThresholdValue = 80.0
	inc.Severity = models.SeverityCritical
	inc.Description = "CPU usage above threshold"
	return inc
}

func TestParseDiagnosisText(t *testing.T) {
	text := `ROOT CAUSE: CPU exhausted by a runaway worker process
CATEGORY: Capacity
REASONING: The droplet clearly shows sustained CPU saturation
across all cores.
RECOMMENDATIONS:
1. Resize the droplet to s-4vcpu-8gb
2. Kill the runaway process
- Enable per-process monitoring`

	parsed := parseDiagnosisText(text)
	assert.Equal(t, "CPU exhausted by a runaway worker process", parsed.rootCause)
	assert.Equal(t, "capacity", parsed.category)
	assert.Contains(t, parsed.reasoning, "across all cores")
	require.Len(t, parsed.recommendations, 3)
	assert.Equal(t, "Resize the droplet to s-4vcpu-8gb", parsed.recommendations[0])
	assert.Equal(t, "Enable per-process monitoring", parsed.recommendations[2])
}

func TestParseDiagnosisTextFallbacks(t *testing.T) {
	parsed := parseDiagnosisText("the model rambled without structure")
	assert.NotEmpty(t, parsed.rootCause)
	assert.Equal(t, "performance", parsed.category)
	assert.NotEmpty(t, parsed.reasoning)
	assert.NotEmpty(t, parsed.recommendations)
}

func TestDetermineAction(t *testing.T) {
	tests := []struct {
		name     string
		category string
		planText string
		want     models.RemediationAction
	}{
		{"resize keyword", "capacity", "Resize the droplet to the next size", models.ActionResizeDroplet},
		{"volume keyword", "capacity", "Attach a new volume for data", models.ActionAddVolume},
		{"restart keyword", "performance", "Restart the nginx service", models.ActionRestartService},
		{"firewall keyword", "security", "Tighten the firewall rules", models.ActionUpdateFirewall},
		{"clean keyword", "capacity", "Clean old log files", models.ActionCleanDisk},
		{"capacity fallback", "capacity", "do something", models.ActionResizeDroplet},
		{"security fallback", "security", "do something", models.ActionUpdateFirewall},
		{"default fallback", "other", "do something", models.ActionRestartService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineAction(tt.category, tt.planText))
		})
	}
}

func TestExtractParametersFindsSizeSlug(t *testing.T) {
	d := models.NewDiagnosis("inc-1")
	d.RootCause = "cpu saturated"
	d.Metadata["resource_id"] = "droplet-123"

	params := extractParameters("resize to s-2vcpu-4gb immediately", d)
	assert.Equal(t, "s-2vcpu-4gb", params["new_size"])
	assert.Equal(t, "droplet-123", params["resource_id"])
	assert.Equal(t, "inc-1", params["incident_id"])
}

func TestScoreConfidence(t *testing.T) {
	fullState := map[string]interface{}{
		"resource_type":   "droplet",
		"current_size":    "s-1vcpu-1gb",
		"affected_metric": "cpu_usage",
	}
	matches := []KnowledgeMatch{
		{Source: "a.md", Relevance: 1.0},
		{Source: "b.md", Relevance: 1.0},
		{Source: "c.md", Relevance: 1.0},
	}

	// Strong support on every axis.
	high := scoreConfidence(matches, fullState, "this is clearly a capacity issue, confirmed")
	assert.InDelta(t, 1.0, high, 0.001)

	// No KB matches, empty state, uncertain language.
	low := scoreConfidence(nil, map[string]interface{}{}, "possibly a leak, unclear")
	assert.InDelta(t, 0.12, low, 0.001)

	// Neutral text scores the 0.6 default on the language axis.
	neutral := scoreConfidence(nil, fullState, "usage is above threshold")
	assert.InDelta(t, 0.4*0.3+0.3*1.0+0.3*0.6, neutral, 0.001)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", `resource "x" "y" {}`, `resource "x" "y" {}`},
		{
			"hcl fence",
			"Here you go:\n```hcl\nresource \"x\" \"y\" {}\n```\nDone.",
			`resource "x" "y" {}`,
		},
		{
			"terraform fence",
			"```terraform\nprovider \"digitalocean\" {}\n```",
			`provider "digitalocean" {}`,
		},
		{
			"bare fence",
			"```\nresource \"x\" \"y\" {}\n```",
			`resource "x" "y" {}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestKnowledgeBaseMatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cpu.md"),
		[]byte("Droplet cpu_usage saturation resolved by resizing to a larger slug."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dns.md"),
		[]byte("DNS outage caused by expired zone delegation."), 0644))

	kb, err := LoadKnowledgeBase(dir)
	require.NoError(t, err)

	matches := kb.Match("cpu_usage on web-1 (droplet) at 96.00% against threshold 80.00%")
	require.NotEmpty(t, matches)
	assert.Equal(t, "cpu.md", matches[0].Source)

	assert.Empty(t, kb.Match(""))
}

func TestLoadKnowledgeBaseMissingDir(t *testing.T) {
	kb, err := LoadKnowledgeBase("")
	require.NoError(t, err)
	assert.Empty(t, kb.Match("anything"))
}

func TestRuleProviderDiagnose(t *testing.T) {
	p := NewRuleProvider(nil)

	d, err := p.Diagnose(context.Background(), cpuIncident())
	require.NoError(t, err)

	assert.Equal(t, "capacity", d.RootCauseCategory)
	assert.Contains(t, d.RootCause, "CPU saturated")
	assert.Equal(t, 0.9, d.Confidence)
	require.NotNil(t, d.EstimatedCost)
	assert.Equal(t, 12.0, *d.EstimatedCost)
}

func TestRuleProviderConfidenceBySeverity(t *testing.T) {
	p := NewRuleProvider(nil)

	inc := cpuIncident()
	inc.Severity = models.SeverityLow

	d, err := p.Diagnose(context.Background(), inc)
	require.NoError(t, err)
	assert.Equal(t, 0.6, d.Confidence)
}

func TestRuleProviderPlan(t *testing.T) {
	p := NewRuleProvider(nil)

	d, err := p.Diagnose(context.Background(), cpuIncident())
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, models.ActionResizeDroplet, plan.Action)
	assert.Equal(t, "droplet-123", plan.Parameters["resource_id"])
	assert.Contains(t, plan.Parameters, "new_size")
	require.NotNil(t, plan.Rollback)
	assert.NotEmpty(t, plan.Rollback.Steps)
	assert.NotEmpty(t, plan.SafetyChecks)
	assert.False(t, plan.RequiresApproval)
}

func TestRuleProviderPlanFirewallRequiresApproval(t *testing.T) {
	p := NewRuleProvider(nil)

	d := models.NewDiagnosis("inc-1")
	d.RootCauseCategory = "security"
	d.Recommendations = []string{"Tighten the firewall"}

	plan, err := p.Plan(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, models.ActionUpdateFirewall, plan.Action)
	assert.True(t, plan.RequiresApproval)
}

func TestRuleProviderGenerateChangeDocument(t *testing.T) {
	p := NewRuleProvider(nil)

	plan := models.NewRemediationPlan("diag-1", "inc-1")
	plan.Action = models.ActionResizeDroplet
	plan.Parameters = map[string]interface{}{
		"resource_name": "web-1",
		"new_size":      "s-4vcpu-8gb",
	}

	doc, err := p.GenerateChangeDocument(context.Background(), plan)
	require.NoError(t, err)
	assert.Contains(t, doc, `resource "digitalocean_droplet" "web_1"`)
	assert.Contains(t, doc, "s-4vcpu-8gb")

	// Restart renders as a provisioner run.
	plan.Action = models.ActionRestartService
	plan.Parameters["service_name"] = "nginx"
	doc, err = p.GenerateChangeDocument(context.Background(), plan)
	require.NoError(t, err)
	assert.Contains(t, doc, "null_resource")
	assert.Contains(t, doc, "systemctl restart nginx")
}

func TestRuleProviderHonorsCancelledContext(t *testing.T) {
	p := NewRuleProvider(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Diagnose(ctx, cpuIncident())
	assert.Error(t, err)
}
