// Package detector polls resource metrics and raises incidents for
// threshold violations.
package detector

import (
	"context"
	"errors"
	"fmt"

	"github.com/catherinevee/remedymgr/internal/inventory"
	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/metricsource"
	"github.com/catherinevee/remedymgr/internal/models"
)

// Detector reports the currently-violating resources. A transient
// failure returns an error; the caller retries next tick.
type Detector interface {
	DetectAll(ctx context.Context) ([]*models.Incident, error)
}

// Thresholds are the utilization percentages above which an incident
// is raised.
type Thresholds struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Disk   float64 `json:"disk"`
}

// DefaultThresholds returns the standard monitoring thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{CPU: 80, Memory: 85, Disk: 90}
}

// MetricsDetector checks every inventoried resource against the
// thresholds using the metrics source.
type MetricsDetector struct {
	inventory  inventory.Source
	metrics    metricsource.Source
	thresholds Thresholds
	log        logger.Logger
}

// NewMetricsDetector wires an inventory and metrics source together.
func NewMetricsDetector(inv inventory.Source, metrics metricsource.Source, thresholds Thresholds) *MetricsDetector {
	return &MetricsDetector{
		inventory:  inv,
		metrics:    metrics,
		thresholds: thresholds,
		log:        logger.New("detector"),
	}
}

// DetectAll checks every resource and returns one incident per
// violated metric. A failure probing one resource is logged and
// skipped; only an inventory failure aborts the sweep.
func (d *MetricsDetector) DetectAll(ctx context.Context) ([]*models.Incident, error) {
	resources, err := d.inventory.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory listing failed: %w", err)
	}

	var incidents []*models.Incident
	for _, resource := range resources {
		found, err := d.checkResource(ctx, resource)
		if err != nil {
			d.log.Warn("Resource check failed",
				logger.String("resource", resource.Name), logger.Err(err))
			continue
		}
		incidents = append(incidents, found...)
	}

	if len(incidents) > 0 {
		d.log.Info("Detection sweep complete",
			logger.Int("resources", len(resources)),
			logger.Int("incidents", len(incidents)),
		)
	}
	return incidents, nil
}

func (d *MetricsDetector) checkResource(ctx context.Context, resource inventory.Resource) ([]*models.Incident, error) {
	checks := []struct {
		metric    models.MetricType
		threshold float64
	}{
		{models.MetricCPUUsage, d.thresholds.CPU},
		{models.MetricMemoryUsage, d.thresholds.Memory},
		{models.MetricDiskUsage, d.thresholds.Disk},
	}

	var incidents []*models.Incident
	for _, check := range checks {
		value, err := d.metrics.MetricValue(ctx, check.metric, resource.Instance())
		if errors.Is(err, metricsource.ErrNoData) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if value < check.threshold {
			continue
		}
		incidents = append(incidents, d.newIncident(resource, check.metric, value, check.threshold))
	}
	return incidents, nil
}

func (d *MetricsDetector) newIncident(resource inventory.Resource, metric models.MetricType, value, threshold float64) *models.Incident {
	inc := models.NewIncident()
	inc.ResourceID = resource.ID
	inc.ResourceName = resource.Name
	inc.ResourceType = resource.Type
	inc.Metric = metric
	inc.CurrentValue = value
	inc.ThresholdValue = threshold
	inc.Severity = ClassifySeverity(value, threshold)
	inc.Description = fmt.Sprintf("%s on %s is %.2f%%, above the %.2f%% threshold",
		metric, resource.Name, value, threshold)
	inc.Metadata["instance"] = resource.Instance()
	inc.Metadata["size"] = resource.Size
	inc.Metadata["region"] = resource.Region

	d.log.Warn("Incident detected",
		logger.String("incident_id", inc.ID),
		logger.String("resource", resource.Name),
		logger.String("metric", string(metric)),
		logger.Float64("value", value),
		logger.String("severity", string(inc.Severity)),
	)
	return inc
}

// ClassifySeverity rates a violation by absolute level and by how far
// it overshoots the threshold.
func ClassifySeverity(value, threshold float64) models.Severity {
	if value >= 95 {
		return models.SeverityCritical
	}

	overagePercent := (value - threshold) / threshold * 100
	switch {
	case overagePercent >= 20:
		return models.SeverityHigh
	case overagePercent >= 10:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
