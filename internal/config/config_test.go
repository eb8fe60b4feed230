package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.85, cfg.Coordinator.ConfidenceThreshold)
	assert.False(t, cfg.Coordinator.AutoRemediationEnabled)
	assert.Equal(t, 50.0, cfg.Safety.CostThreshold)
	assert.Equal(t, 80.0, cfg.Detector.CPUThreshold)
	assert.Equal(t, 85.0, cfg.Detector.MemoryThreshold)
	assert.Equal(t, 90.0, cfg.Detector.DiskThreshold)
	assert.NoError(t, Validate(cfg))
}

func TestManagerMissingFileUsesDefaults(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	defer m.Stop()

	cfg := m.Get()
	assert.Equal(t, "60s", cfg.Coordinator.CheckInterval)
	assert.Equal(t, "rules", cfg.Diagnosis.Provider)
}

func TestManagerLoadsYAMLWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remedymgr.yaml")
	data := `
coordinator:
  check_interval: 30s
  auto_remediation_enabled: true
safety:
  cost_threshold: 25.5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Stop()

	cfg := m.Get()
	assert.Equal(t, "30s", cfg.Coordinator.CheckInterval)
	assert.True(t, cfg.Coordinator.AutoRemediationEnabled)
	assert.Equal(t, 25.5, cfg.Safety.CostThreshold)

	// Unset fields fall back to defaults.
	assert.Equal(t, 0.85, cfg.Coordinator.ConfidenceThreshold)
	assert.Equal(t, "terraform", cfg.Terraform.BinaryPath)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("REMEDYMGR_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("REMEDYMGR_AUTO_REMEDIATION", "true")
	t.Setenv("REMEDYMGR_COST_THRESHOLD", "10")
	t.Setenv("REMEDYMGR_LOG_LEVEL", "debug")

	m, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	defer m.Stop()

	cfg := m.Get()
	assert.Equal(t, 0.9, cfg.Coordinator.ConfidenceThreshold)
	assert.True(t, cfg.Coordinator.AutoRemediationEnabled)
	assert.Equal(t, 10.0, cfg.Safety.CostThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad check interval", func(c *Config) { c.Coordinator.CheckInterval = "soon" }},
		{"confidence above one", func(c *Config) { c.Coordinator.ConfidenceThreshold = 1.5 }},
		{"zero workers", func(c *Config) { c.Coordinator.MaxConcurrent = 0 }},
		{"threshold above 100", func(c *Config) { c.Detector.CPUThreshold = 120 }},
		{"unknown provider", func(c *Config) { c.Diagnosis.Provider = "oracle" }},
		{"negative cost threshold", func(c *Config) { c.Safety.CostThreshold = -1 }},
		{"bad terraform timeout", func(c *Config) { c.Terraform.Timeout = "forever" }},
		{"bad prometheus url", func(c *Config) { c.Metrics.PrometheusURL = "localhost:9090" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "1m0s", cfg.Coordinator.CheckIntervalDuration().String())
	assert.Equal(t, "10m0s", cfg.Terraform.TimeoutDuration().String())
	assert.Equal(t, "30s", cfg.Verifier.StabilizationDuration().String())
	assert.Equal(t, "15s", cfg.Metrics.QueryTimeoutDuration().String())
}
