// Package verifier re-checks remediated incidents against live metrics.
package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/metricsource"
	"github.com/catherinevee/remedymgr/internal/models"
)

// Verifier decides whether an incident's originating condition has
// cleared after a remediation was applied.
type Verifier interface {
	ReCheck(ctx context.Context, incident *models.Incident) (bool, error)
}

// MetricsVerifier waits for the infrastructure to stabilize, then polls
// the violated metric until it drops below the threshold or the check
// budget is spent.
type MetricsVerifier struct {
	metrics           metricsource.Source
	stabilizationWait time.Duration
	checkInterval     time.Duration
	maxChecks         int
	log               logger.Logger
}

// NewMetricsVerifier builds a verifier over the metrics source.
func NewMetricsVerifier(metrics metricsource.Source, stabilizationWait, checkInterval time.Duration, maxChecks int) *MetricsVerifier {
	if maxChecks < 1 {
		maxChecks = 1
	}
	return &MetricsVerifier{
		metrics:           metrics,
		stabilizationWait: stabilizationWait,
		checkInterval:     checkInterval,
		maxChecks:         maxChecks,
		log:               logger.New("verifier"),
	}
}

// ReCheck returns true when the incident's metric has fallen below its
// threshold. A metric with no data is treated as cleared (the resource
// may have been replaced); other errors fail the verification.
func (v *MetricsVerifier) ReCheck(ctx context.Context, incident *models.Incident) (bool, error) {
	instance, _ := incident.Metadata["instance"].(string)
	if instance == "" {
		return false, errors.New("incident has no metric instance recorded")
	}

	if err := sleepCtx(ctx, v.stabilizationWait); err != nil {
		return false, err
	}

	for attempt := 1; attempt <= v.maxChecks; attempt++ {
		value, err := v.metrics.MetricValue(ctx, incident.Metric, instance)
		if errors.Is(err, metricsource.ErrNoData) {
			v.log.Warn("No data during verification, treating as cleared",
				logger.String("incident_id", incident.ID))
			return true, nil
		}
		if err != nil {
			return false, err
		}

		if value < incident.ThresholdValue {
			v.log.Info("Verification passed",
				logger.String("incident_id", incident.ID),
				logger.Float64("value", value),
				logger.Int("attempt", attempt),
			)
			return true, nil
		}

		v.log.Warn("Condition persists",
			logger.String("incident_id", incident.ID),
			logger.Float64("value", value),
			logger.Int("attempt", attempt),
		)
		if attempt < v.maxChecks {
			if err := sleepCtx(ctx, v.checkInterval); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
