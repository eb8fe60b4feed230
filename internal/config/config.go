package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level remedymgr configuration.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Detector    DetectorConfig    `yaml:"detector"`
	Diagnosis   DiagnosisConfig   `yaml:"diagnosis"`
	Safety      SafetyConfig      `yaml:"safety"`
	Terraform   TerraformConfig   `yaml:"terraform"`
	Verifier    VerifierConfig    `yaml:"verifier"`
	Inventory   InventoryConfig   `yaml:"inventory"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CoordinatorConfig controls the remediation control loop.
type CoordinatorConfig struct {
	CheckInterval          string  `yaml:"check_interval"`
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
	AutoRemediationEnabled bool    `yaml:"auto_remediation_enabled"`
	MaxConcurrent          int     `yaml:"max_concurrent"`
}

// DetectorConfig holds metric polling thresholds.
type DetectorConfig struct {
	CPUThreshold    float64 `yaml:"cpu_threshold"`
	MemoryThreshold float64 `yaml:"memory_threshold"`
	DiskThreshold   float64 `yaml:"disk_threshold"`
}

// DiagnosisConfig selects and tunes the diagnosis provider.
type DiagnosisConfig struct {
	Provider         string  `yaml:"provider"`
	Model            string  `yaml:"model"`
	RequestsPerMin   int     `yaml:"requests_per_min"`
	FallbackToRules  bool    `yaml:"fallback_to_rules"`
	KnowledgeBaseDir string  `yaml:"knowledge_base_dir"`
	Temperature      float64 `yaml:"temperature"`
}

// SafetyConfig gates plan execution.
type SafetyConfig struct {
	CostThreshold    float64 `yaml:"cost_threshold"`
	ApprovalRequired bool    `yaml:"approval_required"`
}

// TerraformConfig locates the terraform binary and workspace.
type TerraformConfig struct {
	BinaryPath string `yaml:"binary_path"`
	WorkingDir string `yaml:"working_dir"`
	Timeout    string `yaml:"timeout"`
}

// VerifierConfig controls post-remediation verification.
type VerifierConfig struct {
	StabilizationWait string `yaml:"stabilization_wait"`
	MaxChecks         int    `yaml:"max_checks"`
	CheckInterval     string `yaml:"check_interval"`
}

// InventoryConfig configures the DigitalOcean inventory source.
type InventoryConfig struct {
	TokenEnv string   `yaml:"token_env"`
	Regions  []string `yaml:"regions"`
	TagEnv   string   `yaml:"tag_env,omitempty"`
	Tag      string   `yaml:"tag,omitempty"`
}

// MetricsConfig points at the Prometheus endpoint used for detection
// and verification.
type MetricsConfig struct {
	PrometheusURL string `yaml:"prometheus_url"`
	QueryTimeout  string `yaml:"query_timeout"`
}

// ServerConfig configures the operational HTTP endpoint.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LoggingConfig mirrors logger.Config in yaml form.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Manager loads configuration from a YAML file and reloads it when the
// file changes on disk.
type Manager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
	watcher    *fsnotify.Watcher
	callbacks  []func(*Config)
	stopCh     chan struct{}
}

// NewManager loads the configuration at configPath and starts watching
// it for changes. A missing file yields the default configuration.
func NewManager(configPath string) (*Manager, error) {
	m := &Manager{
		configPath: expandPath(configPath),
		callbacks:  []func(*Config){},
		stopCh:     make(chan struct{}),
	}

	if err := m.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return m, nil
	}
	m.watcher = watcher

	if err := watcher.Add(m.configPath); err != nil {
		watcher.Close()
		m.watcher = nil
		return m, nil
	}

	go m.watchChanges()

	return m, nil
}

// Load reads and validates the configuration file, applying defaults
// and environment overrides.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.config = Default()
	} else {
		data, err := os.ReadFile(m.configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}

		var config Config
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		m.config = &config
	}

	applyDefaults(m.config)
	applyEnvironmentOverrides(m.config)

	if err := Validate(m.config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback invoked after a successful reload.
func (m *Manager) OnChange(callback func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Stop stops the file watcher.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.watcher != nil {
		m.watcher.Close()
	}
}

func (m *Manager) watchChanges() {
	if m.watcher == nil {
		return
	}
	defer m.watcher.Close()

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			if err := m.Load(); err != nil {
				continue
			}

			m.mu.RLock()
			config := m.config
			callbacks := m.callbacks
			m.mu.RUnlock()

			for _, callback := range callbacks {
				callback(config)
			}

		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}

		case <-m.stopCh:
			return
		}
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			CheckInterval:          "60s",
			ConfidenceThreshold:    0.85,
			AutoRemediationEnabled: false,
			MaxConcurrent:          4,
		},
		Detector: DetectorConfig{
			CPUThreshold:    80.0,
			MemoryThreshold: 85.0,
			DiskThreshold:   90.0,
		},
		Diagnosis: DiagnosisConfig{
			Provider:        "rules",
			Model:           "gpt-4o-mini",
			RequestsPerMin:  20,
			FallbackToRules: true,
			Temperature:     0.1,
		},
		Safety: SafetyConfig{
			CostThreshold:    50.0,
			ApprovalRequired: true,
		},
		Terraform: TerraformConfig{
			BinaryPath: "terraform",
			WorkingDir: ".",
			Timeout:    "10m",
		},
		Verifier: VerifierConfig{
			StabilizationWait: "30s",
			MaxChecks:         3,
			CheckInterval:     "20s",
		},
		Inventory: InventoryConfig{
			TokenEnv: "DIGITALOCEAN_TOKEN",
			Regions:  []string{"nyc3"},
		},
		Metrics: MetricsConfig{
			PrometheusURL: "http://localhost:9090",
			QueryTimeout:  "15s",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func applyDefaults(config *Config) {
	defaults := Default()

	if config.Coordinator.CheckInterval == "" {
		config.Coordinator.CheckInterval = defaults.Coordinator.CheckInterval
	}
	if config.Coordinator.ConfidenceThreshold == 0 {
		config.Coordinator.ConfidenceThreshold = defaults.Coordinator.ConfidenceThreshold
	}
	if config.Coordinator.MaxConcurrent == 0 {
		config.Coordinator.MaxConcurrent = defaults.Coordinator.MaxConcurrent
	}

	if config.Detector.CPUThreshold == 0 {
		config.Detector.CPUThreshold = defaults.Detector.CPUThreshold
	}
	if config.Detector.MemoryThreshold == 0 {
		config.Detector.MemoryThreshold = defaults.Detector.MemoryThreshold
	}
	if config.Detector.DiskThreshold == 0 {
		config.Detector.DiskThreshold = defaults.Detector.DiskThreshold
	}

	if config.Diagnosis.Provider == "" {
		config.Diagnosis.Provider = defaults.Diagnosis.Provider
	}
	if config.Diagnosis.Model == "" {
		config.Diagnosis.Model = defaults.Diagnosis.Model
	}
	if config.Diagnosis.RequestsPerMin == 0 {
		config.Diagnosis.RequestsPerMin = defaults.Diagnosis.RequestsPerMin
	}

	if config.Safety.CostThreshold == 0 {
		config.Safety.CostThreshold = defaults.Safety.CostThreshold
	}

	if config.Terraform.BinaryPath == "" {
		config.Terraform.BinaryPath = defaults.Terraform.BinaryPath
	}
	if config.Terraform.WorkingDir == "" {
		config.Terraform.WorkingDir = defaults.Terraform.WorkingDir
	}
	if config.Terraform.Timeout == "" {
		config.Terraform.Timeout = defaults.Terraform.Timeout
	}

	if config.Verifier.StabilizationWait == "" {
		config.Verifier.StabilizationWait = defaults.Verifier.StabilizationWait
	}
	if config.Verifier.MaxChecks == 0 {
		config.Verifier.MaxChecks = defaults.Verifier.MaxChecks
	}
	if config.Verifier.CheckInterval == "" {
		config.Verifier.CheckInterval = defaults.Verifier.CheckInterval
	}

	if config.Inventory.TokenEnv == "" {
		config.Inventory.TokenEnv = defaults.Inventory.TokenEnv
	}
	if len(config.Inventory.Regions) == 0 {
		config.Inventory.Regions = defaults.Inventory.Regions
	}

	if config.Metrics.PrometheusURL == "" {
		config.Metrics.PrometheusURL = defaults.Metrics.PrometheusURL
	}
	if config.Metrics.QueryTimeout == "" {
		config.Metrics.QueryTimeout = defaults.Metrics.QueryTimeout
	}

	if config.Server.Addr == "" {
		config.Server.Addr = defaults.Server.Addr
	}
	if config.Server.ShutdownTimeout == "" {
		config.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}

	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Logging.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Logging.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Logging.Output
	}
}

func applyEnvironmentOverrides(config *Config) {
	if v := os.Getenv("REMEDYMGR_CHECK_INTERVAL"); v != "" {
		config.Coordinator.CheckInterval = v
	}
	if v := os.Getenv("REMEDYMGR_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Coordinator.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("REMEDYMGR_AUTO_REMEDIATION"); v != "" {
		config.Coordinator.AutoRemediationEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("REMEDYMGR_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Coordinator.MaxConcurrent = n
		}
	}
	if v := os.Getenv("REMEDYMGR_COST_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Safety.CostThreshold = f
		}
	}
	if v := os.Getenv("REMEDYMGR_APPROVAL_REQUIRED"); v != "" {
		config.Safety.ApprovalRequired = v == "true" || v == "1"
	}
	if v := os.Getenv("REMEDYMGR_DIAGNOSIS_PROVIDER"); v != "" {
		config.Diagnosis.Provider = v
	}
	if v := os.Getenv("REMEDYMGR_TERRAFORM_DIR"); v != "" {
		config.Terraform.WorkingDir = v
	}
	if v := os.Getenv("REMEDYMGR_PROMETHEUS_URL"); v != "" {
		config.Metrics.PrometheusURL = v
	}
	if v := os.Getenv("REMEDYMGR_SERVER_ADDR"); v != "" {
		config.Server.Addr = v
	}
	if v := os.Getenv("REMEDYMGR_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("REMEDYMGR_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
}

// Validate checks cross-field constraints on a loaded configuration.
func Validate(config *Config) error {
	if _, err := time.ParseDuration(config.Coordinator.CheckInterval); err != nil {
		return fmt.Errorf("invalid coordinator.check_interval: %v", err)
	}
	if config.Coordinator.ConfidenceThreshold < 0 || config.Coordinator.ConfidenceThreshold > 1 {
		return fmt.Errorf("coordinator.confidence_threshold must be between 0 and 1")
	}
	if config.Coordinator.MaxConcurrent < 1 || config.Coordinator.MaxConcurrent > 64 {
		return fmt.Errorf("coordinator.max_concurrent must be between 1 and 64")
	}

	for name, threshold := range map[string]float64{
		"detector.cpu_threshold":    config.Detector.CPUThreshold,
		"detector.memory_threshold": config.Detector.MemoryThreshold,
		"detector.disk_threshold":   config.Detector.DiskThreshold,
	} {
		if threshold <= 0 || threshold > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}

	switch config.Diagnosis.Provider {
	case "rules", "openai":
	default:
		return fmt.Errorf("invalid diagnosis.provider: %s", config.Diagnosis.Provider)
	}

	if config.Safety.CostThreshold < 0 {
		return fmt.Errorf("safety.cost_threshold must not be negative")
	}

	for name, d := range map[string]string{
		"terraform.timeout":           config.Terraform.Timeout,
		"verifier.stabilization_wait": config.Verifier.StabilizationWait,
		"verifier.check_interval":     config.Verifier.CheckInterval,
		"metrics.query_timeout":       config.Metrics.QueryTimeout,
		"server.shutdown_timeout":     config.Server.ShutdownTimeout,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s: %v", name, err)
		}
	}

	if !strings.HasPrefix(config.Metrics.PrometheusURL, "http://") &&
		!strings.HasPrefix(config.Metrics.PrometheusURL, "https://") {
		return fmt.Errorf("metrics.prometheus_url must be an http(s) URL")
	}

	return nil
}

// CheckIntervalDuration returns the parsed coordinator check interval.
func (c *CoordinatorConfig) CheckIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.CheckInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// TimeoutDuration returns the parsed terraform command timeout.
func (c *TerraformConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// StabilizationDuration returns the parsed stabilization wait.
func (c *VerifierConfig) StabilizationDuration() time.Duration {
	d, err := time.ParseDuration(c.StabilizationWait)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// CheckIntervalDuration returns the parsed verification recheck interval.
func (c *VerifierConfig) CheckIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.CheckInterval)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// QueryTimeoutDuration returns the parsed Prometheus query timeout.
func (c *MetricsConfig) QueryTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.QueryTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// ShutdownTimeoutDuration returns the parsed server shutdown timeout.
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
