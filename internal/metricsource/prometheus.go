// Package metricsource reads resource utilization from Prometheus
// node-exporter metrics.
package metricsource

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/models"
)

// ErrNoData is returned when a query matches no series.
var ErrNoData = fmt.Errorf("no data for query")

// Source reads current metric values for a scrape instance.
type Source interface {
	MetricValue(ctx context.Context, metric models.MetricType, instance string) (float64, error)
}

// PrometheusSource queries a Prometheus server over its HTTP API.
type PrometheusSource struct {
	api     v1.API
	timeout time.Duration
	log     logger.Logger
}

// NewPrometheusSource connects to the Prometheus server at baseURL.
func NewPrometheusSource(baseURL string, timeout time.Duration) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: baseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PrometheusSource{
		api:     v1.NewAPI(client),
		timeout: timeout,
		log:     logger.New("metricsource"),
	}, nil
}

// MetricValue evaluates the PromQL expression for the metric against
// the given node-exporter instance and returns the current value.
func (s *PrometheusSource) MetricValue(ctx context.Context, metric models.MetricType, instance string) (float64, error) {
	expr, err := queryFor(metric, instance)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, warnings, err := s.api.Query(ctx, expr, time.Now())
	if err != nil {
		return 0, fmt.Errorf("prometheus query failed: %w", err)
	}
	for _, w := range warnings {
		s.log.Warn("Prometheus query warning", logger.String("warning", w))
	}

	vector, ok := value.(model.Vector)
	if !ok || vector.Len() == 0 {
		return 0, ErrNoData
	}
	return float64(vector[0].Value), nil
}

// queryFor maps a metric type onto its node-exporter PromQL expression.
func queryFor(metric models.MetricType, instance string) (string, error) {
	switch metric {
	case models.MetricCPUUsage:
		return fmt.Sprintf(
			`100 - (avg by (instance) (rate(node_cpu_seconds_total{instance=%q,mode="idle"}[5m])) * 100)`,
			instance), nil
	case models.MetricMemoryUsage:
		return fmt.Sprintf(
			`100 * (1 - ((node_memory_MemAvailable_bytes{instance=%q} or node_memory_MemFree_bytes{instance=%q}) / node_memory_MemTotal_bytes{instance=%q}))`,
			instance, instance, instance), nil
	case models.MetricDiskUsage:
		return fmt.Sprintf(
			`100 - ((node_filesystem_avail_bytes{instance=%q,mountpoint="/"} / node_filesystem_size_bytes{instance=%q,mountpoint="/"}) * 100)`,
			instance, instance), nil
	default:
		return "", fmt.Errorf("no query defined for metric %s", metric)
	}
}
