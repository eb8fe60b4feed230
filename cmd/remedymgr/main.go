// remedymgr watches infrastructure metrics, diagnoses threshold
// violations, and executes safety-gated terraform remediations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/catherinevee/remedymgr/internal/api"
	"github.com/catherinevee/remedymgr/internal/config"
	"github.com/catherinevee/remedymgr/internal/coordinator"
	"github.com/catherinevee/remedymgr/internal/detector"
	"github.com/catherinevee/remedymgr/internal/diagnosis"
	"github.com/catherinevee/remedymgr/internal/inventory"
	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/metricsource"
	"github.com/catherinevee/remedymgr/internal/remediation"
	"github.com/catherinevee/remedymgr/internal/safety"
	"github.com/catherinevee/remedymgr/internal/store"
	"github.com/catherinevee/remedymgr/internal/telemetry"
	"github.com/catherinevee/remedymgr/internal/terraform"
	"github.com/catherinevee/remedymgr/internal/verifier"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("remedymgr %s\n", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "remedymgr: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	manager, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	defer manager.Stop()
	cfg := manager.Get()

	logger.Initialize(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	log := logger.New("main")
	log.Info("Starting remedymgr",
		logger.String("version", version),
		logger.String("config", configPath),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(registry)

	// Metric source and inventory feed both detection and verification.
	promSource, err := metricsource.NewPrometheusSource(cfg.Metrics.PrometheusURL, cfg.Metrics.QueryTimeoutDuration())
	if err != nil {
		return fmt.Errorf("connecting to prometheus: %w", err)
	}

	token := os.Getenv(cfg.Inventory.TokenEnv)
	if token == "" {
		return fmt.Errorf("inventory token environment variable %s is not set", cfg.Inventory.TokenEnv)
	}
	tag := cfg.Inventory.Tag
	if cfg.Inventory.TagEnv != "" {
		if v := os.Getenv(cfg.Inventory.TagEnv); v != "" {
			tag = v
		}
	}
	inv := inventory.NewDigitalOceanInventory(token, tag)

	thresholds := detector.Thresholds{
		CPU:    cfg.Detector.CPUThreshold,
		Memory: cfg.Detector.MemoryThreshold,
		Disk:   cfg.Detector.DiskThreshold,
	}
	det := detector.NewMetricsDetector(inv, promSource, thresholds)

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("building diagnosis provider: %w", err)
	}

	verify := verifier.NewMetricsVerifier(
		promSource,
		cfg.Verifier.StabilizationDuration(),
		cfg.Verifier.CheckIntervalDuration(),
		cfg.Verifier.MaxChecks,
	)

	tf := terraform.NewCLIExecutor(cfg.Terraform.BinaryPath, cfg.Terraform.WorkingDir, cfg.Terraform.TimeoutDuration())
	executor := remediation.NewExecutor(tf, provider, safety.NewValidator(cfg.Safety.CostThreshold), verify)

	st := store.NewMemoryStore()
	coord := coordinator.New(coordinator.Config{
		CheckInterval:          cfg.Coordinator.CheckIntervalDuration(),
		ConfidenceThreshold:    cfg.Coordinator.ConfidenceThreshold,
		AutoRemediationEnabled: cfg.Coordinator.AutoRemediationEnabled && !cfg.Safety.ApprovalRequired,
		MaxConcurrent:          cfg.Coordinator.MaxConcurrent,
		Thresholds:             thresholds,
	}, det, provider, executor, st, metrics)

	server := api.NewServer(cfg.Server.Addr, coord, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord.Start()
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			coord.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	coord.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	log.Info("Shutdown complete")
	return nil
}

// buildProvider selects the diagnosis provider from configuration. The
// OpenAI provider falls back to rules on API failure; a missing API key
// falls back to rules outright.
func buildProvider(cfg *config.Config) (diagnosis.Provider, error) {
	kb, err := diagnosis.LoadKnowledgeBase(cfg.Diagnosis.KnowledgeBaseDir)
	if err != nil {
		return nil, fmt.Errorf("loading knowledge base: %w", err)
	}
	rules := diagnosis.NewRuleProvider(kb)

	if cfg.Diagnosis.Provider != "openai" {
		return rules, nil
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		if cfg.Diagnosis.FallbackToRules {
			return rules, nil
		}
		return nil, fmt.Errorf("OPENAI_API_KEY is not set and fallback_to_rules is disabled")
	}

	return diagnosis.NewOpenAIProvider(diagnosis.OpenAIOptions{
		APIKey:         apiKey,
		Model:          cfg.Diagnosis.Model,
		Temperature:    cfg.Diagnosis.Temperature,
		RequestsPerMin: cfg.Diagnosis.RequestsPerMin,
		KnowledgeBase:  kb,
		Fallback:       rules,
	})
}
