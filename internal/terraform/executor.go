// Package terraform adapts remediation change documents onto the
// terraform CLI: validate, plan, apply, state snapshot, destroy.
package terraform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	tfjson "github.com/hashicorp/terraform-json"

	"github.com/catherinevee/remedymgr/internal/logger"
)

// ValidateResult reports syntactic validation of a change document.
type ValidateResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// PlanResult reports a dry-run diff.
type PlanResult struct {
	Success   bool   `json:"success"`
	ToAdd     int    `json:"to_add"`
	ToChange  int    `json:"to_change"`
	ToDestroy int    `json:"to_destroy"`
	RawOutput string `json:"raw_output,omitempty"`
}

// ApplyResult reports an executed change.
type ApplyResult struct {
	Success   bool                   `json:"success"`
	Created   int                    `json:"created"`
	Updated   int                    `json:"updated"`
	Destroyed int                    `json:"destroyed"`
	Outputs   map[string]interface{} `json:"outputs,omitempty"`
	RawOutput string                 `json:"raw_output,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Executor is the adapter the remediation pipeline drives changes
// through.
type Executor interface {
	Validate(ctx context.Context, doc string) (*ValidateResult, error)
	Plan(ctx context.Context, doc string, vars map[string]interface{}) (*PlanResult, error)
	Apply(ctx context.Context, doc string, vars map[string]interface{}, autoApprove bool) (*ApplyResult, error)
	ShowState(ctx context.Context) (*tfjson.State, error)
	Destroy(ctx context.Context, vars map[string]interface{}) error
}

// CLIExecutor runs the terraform binary against a working directory.
type CLIExecutor struct {
	binary  string
	workDir string
	timeout time.Duration
	log     logger.Logger
}

// NewCLIExecutor returns an Executor backed by the terraform CLI.
func NewCLIExecutor(binary, workDir string, timeout time.Duration) *CLIExecutor {
	if binary == "" {
		binary = "terraform"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CLIExecutor{
		binary:  binary,
		workDir: workDir,
		timeout: timeout,
		log:     logger.New("terraform"),
	}
}

// Validate writes the document into the working directory and runs
// terraform init and validate over it.
func (e *CLIExecutor) Validate(ctx context.Context, doc string) (*ValidateResult, error) {
	if doc == "" {
		return &ValidateResult{Valid: false, Errors: []string{"change document is empty"}}, nil
	}

	if err := e.writeDocument(doc); err != nil {
		return nil, err
	}

	if output, err := e.run(ctx, "init", "-backend=false", "-input=false"); err != nil {
		return &ValidateResult{Valid: false, Errors: []string{fmt.Sprintf("init failed: %v: %s", err, output)}}, nil
	}

	output, err := e.run(ctx, "validate", "-json")
	result := parseValidateOutput(output)
	if err != nil && len(result.Errors) == 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("validate failed: %v", err))
		result.Valid = false
	}
	return result, nil
}

// Plan runs a dry-run against the document and parses the diff counts.
func (e *CLIExecutor) Plan(ctx context.Context, doc string, vars map[string]interface{}) (*PlanResult, error) {
	if err := e.writeDocument(doc); err != nil {
		return nil, err
	}

	args := append([]string{"plan", "-input=false", "-no-color"}, varArgs(vars)...)
	output, err := e.run(ctx, args...)
	if err != nil {
		return &PlanResult{Success: false, RawOutput: output}, fmt.Errorf("terraform plan failed: %w", err)
	}

	result := parsePlanOutput(output)
	result.RawOutput = output
	e.log.Info("Dry-run completed",
		logger.Int("to_add", result.ToAdd),
		logger.Int("to_change", result.ToChange),
		logger.Int("to_destroy", result.ToDestroy),
	)
	return result, nil
}

// Apply executes the change. Refuses to run without autoApprove since
// the CLI would block on interactive confirmation.
func (e *CLIExecutor) Apply(ctx context.Context, doc string, vars map[string]interface{}, autoApprove bool) (*ApplyResult, error) {
	if !autoApprove {
		return nil, fmt.Errorf("apply requires auto-approval in non-interactive mode")
	}

	if err := e.writeDocument(doc); err != nil {
		return nil, err
	}

	args := append([]string{"apply", "-input=false", "-no-color", "-auto-approve"}, varArgs(vars)...)
	output, err := e.run(ctx, args...)
	if err != nil {
		return &ApplyResult{
			Success:   false,
			RawOutput: output,
			Error:     err.Error(),
		}, nil
	}

	result := parseApplyOutput(output)
	result.RawOutput = output

	if outOutput, outErr := e.run(ctx, "output", "-json"); outErr == nil {
		var outputs map[string]struct {
			Value interface{} `json:"value"`
		}
		if json.Unmarshal([]byte(outOutput), &outputs) == nil {
			result.Outputs = make(map[string]interface{}, len(outputs))
			for name, o := range outputs {
				result.Outputs[name] = o.Value
			}
		}
	}

	e.log.Info("Apply completed",
		logger.Int("created", result.Created),
		logger.Int("updated", result.Updated),
		logger.Int("destroyed", result.Destroyed),
	)
	return result, nil
}

// ShowState returns the current state as a structured snapshot.
func (e *CLIExecutor) ShowState(ctx context.Context) (*tfjson.State, error) {
	output, err := e.run(ctx, "show", "-json")
	if err != nil {
		return nil, fmt.Errorf("terraform show failed: %w", err)
	}

	var state tfjson.State
	if err := json.Unmarshal([]byte(output), &state); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	return &state, nil
}

// Destroy tears down managed resources. Used only by rollback runners.
func (e *CLIExecutor) Destroy(ctx context.Context, vars map[string]interface{}) error {
	args := append([]string{"destroy", "-input=false", "-no-color", "-auto-approve"}, varArgs(vars)...)
	output, err := e.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("terraform destroy failed: %w: %s", err, output)
	}
	return nil
}

func (e *CLIExecutor) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Dir = e.workDir
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func (e *CLIExecutor) writeDocument(doc string) error {
	if err := os.MkdirAll(e.workDir, 0755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	path := filepath.Join(e.workDir, "main.tf")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return fmt.Errorf("failed to write change document: %w", err)
	}
	return nil
}

func varArgs(vars map[string]interface{}) []string {
	args := make([]string, 0, len(vars))
	for key, value := range vars {
		args = append(args, "-var", fmt.Sprintf("%s=%v", key, value))
	}
	return args
}
