package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tfjson "github.com/hashicorp/terraform-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/remedymgr/internal/coordinator"
	"github.com/catherinevee/remedymgr/internal/models"
	"github.com/catherinevee/remedymgr/internal/remediation"
	"github.com/catherinevee/remedymgr/internal/safety"
	"github.com/catherinevee/remedymgr/internal/store"
	"github.com/catherinevee/remedymgr/internal/telemetry"
	"github.com/catherinevee/remedymgr/internal/terraform"
)

type stubDetector struct{}

func (stubDetector) DetectAll(ctx context.Context) ([]*models.Incident, error) {
	return nil, nil
}

type stubProvider struct {
	requiresApproval bool
}

func (p *stubProvider) Diagnose(ctx context.Context, incident *models.Incident) (*models.Diagnosis, error) {
	diag := models.NewDiagnosis(incident.ID)
	diag.RootCause = "sustained load above capacity"
	diag.RootCauseCategory = "capacity"
	diag.Confidence = 0.95
	return diag, nil
}

func (p *stubProvider) Plan(ctx context.Context, diag *models.Diagnosis) (*models.RemediationPlan, error) {
	plan := models.NewRemediationPlan(diag.ID, diag.IncidentID)
	plan.Action = models.ActionResizeDroplet
	plan.Parameters = map[string]interface{}{
		"resource_id": "droplet-1",
		"new_size":    "s-2vcpu-4gb",
	}
	plan.SafetyChecks = []string{"Terraform validate passed"}
	plan.Rollback = &models.RollbackPlan{Description: "resize back", Steps: []string{"terraform destroy"}}
	plan.RequiresApproval = p.requiresApproval
	return plan, nil
}

func (p *stubProvider) GenerateChangeDocument(ctx context.Context, plan *models.RemediationPlan) (string, error) {
	return `resource "digitalocean_droplet" "target" {}`, nil
}

type stubTerraform struct{}

func (stubTerraform) Validate(ctx context.Context, doc string) (*terraform.ValidateResult, error) {
	return &terraform.ValidateResult{Valid: true}, nil
}

func (stubTerraform) Plan(ctx context.Context, doc string, vars map[string]interface{}) (*terraform.PlanResult, error) {
	return &terraform.PlanResult{Success: true, ToChange: 1}, nil
}

func (stubTerraform) Apply(ctx context.Context, doc string, vars map[string]interface{}, autoApprove bool) (*terraform.ApplyResult, error) {
	return &terraform.ApplyResult{Success: true, Updated: 1}, nil
}

func (stubTerraform) ShowState(ctx context.Context) (*tfjson.State, error) {
	return &tfjson.State{}, nil
}

func (stubTerraform) Destroy(ctx context.Context, vars map[string]interface{}) error {
	return nil
}

type stubVerifier struct{}

func (stubVerifier) ReCheck(ctx context.Context, incident *models.Incident) (bool, error) {
	return true, nil
}

func newTestServer(t *testing.T, requiresApproval bool) (*Server, store.IncidentStore) {
	t.Helper()

	st := store.NewMemoryStore()
	reg := prometheus.NewRegistry()
	provider := &stubProvider{requiresApproval: requiresApproval}
	executor := remediation.NewExecutor(stubTerraform{}, provider, safety.NewValidator(50.0), stubVerifier{})
	coord := coordinator.New(
		coordinator.Config{AutoRemediationEnabled: true, ConfidenceThreshold: 0.85},
		stubDetector{}, provider, executor, st, telemetry.New(reg),
	)
	return NewServer(":0", coord, reg), st
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status coordinator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.InDelta(t, 0.85, status.ConfidenceThreshold, 0.001)
	assert.True(t, status.AutoRemediation)
}

func TestSubmitIncidentEndToEnd(t *testing.T) {
	srv, st := newTestServer(t, false)

	payload := []byte(`{
		"resource_id": "droplet-1",
		"resource_name": "web-1",
		"resource_type": "droplet",
		"metric": "cpu_usage",
		"current_value": 96,
		"threshold_value": 80,
		"severity": "critical",
		"description": "CPU usage above threshold"
	}`)
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/v1/incidents", payload)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	incidentID := resp["incident_id"]
	require.NotEmpty(t, incidentID)

	require.Eventually(t, func() bool {
		inc, ok := st.GetIncident(incidentID)
		return ok && inc.Status == models.IncidentResolved
	}, 2*time.Second, 10*time.Millisecond)

	rec = doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/incidents/"+incidentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view coordinator.IncidentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, incidentID, view.Incident.ID)
	require.NotNil(t, view.Result)
	assert.Equal(t, models.RemediationSuccess, view.Result.Status)
}

func TestSubmitIncidentValidation(t *testing.T) {
	srv, _ := newTestServer(t, false)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/v1/incidents", []byte(`{"metric":"cpu_usage"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv.Handler(), http.MethodPost, "/api/v1/incidents", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetIncidentNotFound(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/incidents/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprovalEndpoints(t *testing.T) {
	srv, st := newTestServer(t, true)

	payload := []byte(`{"resource_id":"droplet-1","metric":"cpu_usage","current_value":96,"threshold_value":80}`)
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/v1/incidents", payload)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return len(st.ListPendingPlans()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec = doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Plans []*models.RemediationPlan `json:"plans"`
		Count int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	planID := listing.Plans[0].ID

	rec = doRequest(t, srv.Handler(), http.MethodPost, fmt.Sprintf("/api/v1/plans/%s/approve", planID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.RemediationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, models.RemediationSuccess, result.Status)

	// Approving twice conflicts.
	rec = doRequest(t, srv.Handler(), http.MethodPost, fmt.Sprintf("/api/v1/plans/%s/approve", planID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveUnknownPlanReturns404(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/v1/plans/nope/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "remedymgr_")
}
