// Package remediation drives a safety-checked plan through validation,
// state backup, dry-run, apply, verification, and rollback on failure.
package remediation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tfjson "github.com/hashicorp/terraform-json"

	"github.com/catherinevee/remedymgr/internal/diagnosis"
	"github.com/catherinevee/remedymgr/internal/errors"
	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/models"
	"github.com/catherinevee/remedymgr/internal/safety"
	"github.com/catherinevee/remedymgr/internal/terraform"
	"github.com/catherinevee/remedymgr/internal/verifier"
)

// Executor runs one remediation plan end to end. Safe for concurrent
// use across distinct plans; per-incident exclusion is the caller's
// responsibility.
type Executor struct {
	tf        terraform.Executor
	documents diagnosis.Provider
	validator *safety.Validator
	verify    verifier.Verifier
	log       logger.Logger

	mu      sync.Mutex
	backups map[string]*tfjson.State
}

// NewExecutor wires the remediation pipeline.
func NewExecutor(tf terraform.Executor, documents diagnosis.Provider, validator *safety.Validator, verify verifier.Verifier) *Executor {
	return &Executor{
		tf:        tf,
		documents: documents,
		validator: validator,
		verify:    verify,
		log:       logger.New("remediation"),
		backups:   make(map[string]*tfjson.State),
	}
}

// Execute drives the plan through the full pipeline. It always returns
// a result; errors along the way are folded into the result's status,
// error message, and log trace. incident supplies the verification
// target.
func (e *Executor) Execute(ctx context.Context, plan *models.RemediationPlan, incident *models.Incident, autoApprove bool) *models.RemediationResult {
	start := time.Now()
	result := models.NewRemediationResult(plan.ID, plan.IncidentID)
	trace := newTrace(result)

	trace.addf("Starting remediation: %s", plan.Action)
	e.log.Info("Starting remediation",
		logger.String("plan_id", plan.ID),
		logger.String("incident_id", plan.IncidentID),
		logger.String("action", string(plan.Action)),
	)

	defer func() {
		result.Duration = time.Since(start)
	}()

	// Step 1: obtain the change document.
	doc := plan.ChangeDocument
	if doc == "" {
		generated, err := e.documents.GenerateChangeDocument(ctx, plan)
		if err != nil || strings.TrimSpace(generated) == "" {
			trace.add("Failed to generate change document")
			return e.fail(result, errors.ErrorTypeValidation, "could not generate change document")
		}
		doc = diagnosis.Sanitize(generated)
	}
	trace.addf("Obtained change document (%d bytes)", len(doc))

	// Step 2: syntactic validation.
	result.Status = models.RemediationValidating
	validation, err := e.tf.Validate(ctx, doc)
	if err != nil {
		trace.addf("Validation call failed: %v", err)
		return e.fail(result, errors.TypeOf(err), fmt.Sprintf("validation failed: %v", err))
	}
	if !validation.Valid {
		trace.addf("Change document invalid: %s", strings.Join(validation.Errors, "; "))
		return e.fail(result, errors.ErrorTypeValidation,
			fmt.Sprintf("change document invalid: %s", strings.Join(validation.Errors, "; ")))
	}
	trace.add("Change document validated")

	// Step 3: safety policy.
	safetyResult := e.validator.Validate(plan)
	if !safetyResult.IsSafe {
		trace.addf("Safety checks failed: %s", strings.Join(safetyResult.FailedChecks, "; "))
		result.Metadata["failed_checks"] = safetyResult.FailedChecks
		return e.fail(result, errors.ErrorTypeSafetyRejected,
			fmt.Sprintf("safety validation failed: %s", strings.Join(safetyResult.FailedChecks, "; ")))
	}
	trace.addf("Safety checks passed (%d checks)", len(safetyResult.PassedChecks))

	if safetyResult.RequiresApproval && !autoApprove {
		trace.add("Plan requires approval, awaiting operator")
		result.Status = models.RemediationPending
		result.ActionTaken = "Awaiting approval"
		result.Metadata["error_type"] = string(errors.ErrorTypeApprovalPending)
		result.Metadata["warnings"] = safetyResult.Warnings
		result.Metadata["estimated_cost"] = safetyResult.Cost.TotalFirstMonth
		e.log.Info("Remediation pending approval", logger.String("plan_id", plan.ID))
		return result
	}

	// Step 4: state backup, the rollback anchor.
	if state, err := e.tf.ShowState(ctx); err != nil {
		trace.addf("State backup unavailable: %v", err)
	} else {
		e.mu.Lock()
		e.backups[plan.ID] = state
		e.mu.Unlock()
		trace.add("Backed up current state")
	}

	// Step 5: dry run.
	result.Status = models.RemediationPlanning
	dryRun, err := e.tf.Plan(ctx, doc, plan.Parameters)
	if err != nil {
		trace.addf("Dry-run failed: %v", err)
		return e.fail(result, errors.TypeOf(err), fmt.Sprintf("dry-run failed: %v", err))
	}
	trace.addf("Dry-run: %d to add, %d to change, %d to destroy",
		dryRun.ToAdd, dryRun.ToChange, dryRun.ToDestroy)

	// Step 6: apply. Detached from loop cancellation so a shutdown
	// mid-apply cannot leave infrastructure half-changed.
	result.Status = models.RemediationExecuting
	applyCtx := context.WithoutCancel(ctx)
	applied, err := e.tf.Apply(applyCtx, doc, plan.Parameters, true)
	if err != nil || !applied.Success {
		msg := "apply failed"
		if err != nil {
			msg = fmt.Sprintf("apply failed: %v", err)
		} else if applied.Error != "" {
			msg = fmt.Sprintf("apply failed: %s", applied.Error)
		}
		trace.addf("%s, attempting rollback", msg)

		rollbackOK := e.rollback(applyCtx, plan, trace)
		result.RollbackExecuted = rollbackOK
		if rollbackOK {
			result.Status = models.RemediationRolledBack
		} else {
			result.Status = models.RemediationFailed
		}
		result.ErrorMessage = msg
		result.ActionTaken = fmt.Sprintf("Failed: %s", plan.Action)
		result.Metadata["error_type"] = string(errors.ErrorTypeExecution)
		e.log.Error("Remediation failed", logger.String("plan_id", plan.ID), logger.String("error", msg))
		return result
	}
	trace.addf("Apply complete: %d created, %d updated, %d destroyed",
		applied.Created, applied.Updated, applied.Destroyed)
	result.Metadata["created"] = applied.Created
	result.Metadata["updated"] = applied.Updated
	result.Metadata["destroyed"] = applied.Destroyed
	if len(applied.Outputs) > 0 {
		result.Metadata["outputs"] = applied.Outputs
	}

	// Step 7: verification against the originating condition.
	result.Status = models.RemediationVerifying
	passed, err := e.verify.ReCheck(ctx, incident)
	if err != nil {
		trace.addf("Verification errored: %v", err)
		passed = false
	}
	result.VerificationPassed = passed
	if !passed {
		trace.add("Fix did not resolve the issue, consider rollback")
		result.Status = models.RemediationFailed
		result.ErrorMessage = "verification failed: condition persists after apply"
		result.ActionTaken = plan.Description
		result.Metadata["error_type"] = string(errors.ErrorTypeVerification)
		if cost := safetyResult.Cost.TotalFirstMonth; cost > 0 {
			result.ActualCost = &cost
		}
		return result
	}
	trace.add("Verification passed")

	// Step 8: record the outcome.
	result.Status = models.RemediationSuccess
	result.Success = true
	result.ActionTaken = plan.Description
	if cost := safetyResult.Cost.TotalFirstMonth; cost > 0 {
		result.ActualCost = &cost
	}
	e.log.Info("Remediation succeeded",
		logger.String("plan_id", plan.ID),
		logger.Duration("duration", time.Since(start)),
	)
	return result
}

// rollback replays the plan's declared rollback steps. Best effort:
// its failure is reported, never retried, and never panics the
// pipeline.
func (e *Executor) rollback(ctx context.Context, plan *models.RemediationPlan, trace *trace) bool {
	e.mu.Lock()
	backup, hasBackup := e.backups[plan.ID]
	e.mu.Unlock()

	if plan.Rollback == nil || len(plan.Rollback.Steps) == 0 {
		trace.add("Rollback skipped: no rollback plan declared")
		return false
	}
	if !hasBackup || backup == nil {
		trace.add("Rollback skipped: no state backup recorded")
		return false
	}

	for i, step := range plan.Rollback.Steps {
		trace.addf("Rollback step %d: %s", i+1, step)
	}

	if err := e.tf.Destroy(ctx, plan.Parameters); err != nil {
		trace.addf("Rollback failed: %v", err)
		return false
	}
	trace.add("Rollback succeeded")
	return true
}

// StateBackup returns the snapshot recorded for a plan, if any.
func (e *Executor) StateBackup(planID string) (*tfjson.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.backups[planID]
	return s, ok
}

func (e *Executor) fail(result *models.RemediationResult, errType errors.ErrorType, msg string) *models.RemediationResult {
	result.Status = models.RemediationFailed
	result.Success = false
	result.ErrorMessage = msg
	result.Metadata["error_type"] = string(errType)
	if result.ActionTaken == "" {
		result.ActionTaken = "Failed before apply"
	}
	return result
}

// trace appends ordered human-readable steps to a result's log.
type trace struct {
	result *models.RemediationResult
}

func newTrace(result *models.RemediationResult) *trace {
	return &trace{result: result}
}

func (t *trace) add(msg string) {
	t.result.Logs = append(t.result.Logs, msg)
}

func (t *trace) addf(format string, args ...interface{}) {
	t.add(fmt.Sprintf(format, args...))
}
