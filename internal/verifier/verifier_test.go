package verifier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/remedymgr/internal/metricsource"
	"github.com/catherinevee/remedymgr/internal/models"
)

type sequenceMetrics struct {
	values []float64
	errs   []error
	calls  int
}

func (s *sequenceMetrics) MetricValue(ctx context.Context, metric models.MetricType, instance string) (float64, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if i < len(s.values) {
		return s.values[i], nil
	}
	return 0, metricsource.ErrNoData
}

func remediatedIncident() *models.Incident {
	inc := models.NewIncident()
	inc.ResourceName = "web-1"
	inc.Metric = models.MetricCPUUsage
	inc.CurrentValue = 92.0
	inc.ThresholdValue = 80.0
	inc.Metadata["instance"] = "203.0.113.10:9100"
	return inc
}

func TestReCheckPassesWhenMetricDrops(t *testing.T) {
	metrics := &sequenceMetrics{values: []float64{35.0}}
	v := NewMetricsVerifier(metrics, 0, 0, 3)

	passed, err := v.ReCheck(context.Background(), remediatedIncident())
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, 1, metrics.calls)
}

func TestReCheckRetriesThenPasses(t *testing.T) {
	metrics := &sequenceMetrics{values: []float64{90.0, 85.0, 40.0}}
	v := NewMetricsVerifier(metrics, 0, time.Millisecond, 3)

	passed, err := v.ReCheck(context.Background(), remediatedIncident())
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, 3, metrics.calls)
}

func TestReCheckFailsWhenConditionPersists(t *testing.T) {
	metrics := &sequenceMetrics{values: []float64{90.0, 91.0, 92.0}}
	v := NewMetricsVerifier(metrics, 0, time.Millisecond, 3)

	passed, err := v.ReCheck(context.Background(), remediatedIncident())
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestReCheckNoDataTreatedAsCleared(t *testing.T) {
	metrics := &sequenceMetrics{errs: []error{metricsource.ErrNoData}}
	v := NewMetricsVerifier(metrics, 0, 0, 3)

	passed, err := v.ReCheck(context.Background(), remediatedIncident())
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestReCheckQueryErrorFails(t *testing.T) {
	metrics := &sequenceMetrics{errs: []error{fmt.Errorf("prometheus down")}}
	v := NewMetricsVerifier(metrics, 0, 0, 3)

	_, err := v.ReCheck(context.Background(), remediatedIncident())
	assert.Error(t, err)
}

func TestReCheckMissingInstance(t *testing.T) {
	inc := remediatedIncident()
	delete(inc.Metadata, "instance")

	v := NewMetricsVerifier(&sequenceMetrics{}, 0, 0, 1)
	_, err := v.ReCheck(context.Background(), inc)
	assert.Error(t, err)
}

func TestReCheckCancelledDuringStabilization(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewMetricsVerifier(&sequenceMetrics{}, time.Second, 0, 1)
	_, err := v.ReCheck(ctx, remediatedIncident())
	assert.Error(t, err)
}
