// Package metrics publishes dispatch observability counters to CloudWatch.
// Failures to publish are logged and swallowed; metrics are never allowed
// to fail a dispatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"lodgemail/internal/types"
)

// Metric and dimension names.
const (
	metricDispatchOutcome  = "DispatchOutcome"
	metricDispatchLatency  = "DispatchLatency"
	metricTickBatchSize    = "TickBatchSize"
	metricRetentionDeleted = "RetentionDeleted"

	dimKind   = "Kind"
	dimResult = "Result"
)

// Result labels for the DispatchOutcome metric.
type Result string

const (
	ResultSent   Result = "sent"
	ResultFailed Result = "failed"
)

// DispatchMetrics is the metrics surface used by the tick and retention
// services.
type DispatchMetrics interface {
	// RecordOutcome counts one record reaching a terminal delivery state.
	RecordOutcome(ctx context.Context, kind types.DispatchKind, result Result)
	// RecordLatency records how long one record's delivery took.
	RecordLatency(ctx context.Context, kind types.DispatchKind, d time.Duration)
	// RecordBatchSize records how many due records a tick picked up.
	RecordBatchSize(ctx context.Context, n int)
	// RecordRetentionDeleted records how many rows a sweep removed.
	RecordRetentionDeleted(ctx context.Context, n int)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchDispatchMetrics implements DispatchMetrics against CloudWatch.
type CloudWatchDispatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchDispatchMetrics creates a publisher for the given namespace.
func NewCloudWatchDispatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchDispatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchDispatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchDispatchMetrics) RecordOutcome(ctx context.Context, kind types.DispatchKind, result Result) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricDispatchOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimKind), Value: aws.String(string(kind))},
			{Name: aws.String(dimResult), Value: aws.String(string(result))},
		},
	})
}

func (m *CloudWatchDispatchMetrics) RecordLatency(ctx context.Context, kind types.DispatchKind, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricDispatchLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimKind), Value: aws.String(string(kind))},
		},
	})
}

func (m *CloudWatchDispatchMetrics) RecordBatchSize(ctx context.Context, n int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricTickBatchSize),
		Value:      aws.Float64(float64(n)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchDispatchMetrics) RecordRetentionDeleted(ctx context.Context, n int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricRetentionDeleted),
		Value:      aws.Float64(float64(n)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchDispatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}

// NoopMetrics implements DispatchMetrics by doing nothing. Used in local
// mode and in tests that do not assert on metrics.
type NoopMetrics struct{}

func (NoopMetrics) RecordOutcome(context.Context, types.DispatchKind, Result) {}
func (NoopMetrics) RecordLatency(context.Context, types.DispatchKind, time.Duration) {}
func (NoopMetrics) RecordBatchSize(context.Context, int)                     {}
func (NoopMetrics) RecordRetentionDeleted(context.Context, int)              {}

var _ DispatchMetrics = (*CloudWatchDispatchMetrics)(nil)
var _ DispatchMetrics = NoopMetrics{}
