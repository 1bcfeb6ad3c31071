package metrics

import "liqflow/logger"

// EmitMetric logs a metric through the shared logger, which publishes it to
// CloudWatch when the client is initialised.
func EmitMetric(log *logger.Log, component, metric string, value interface{}, metricType string, fields logger.Fields) {
	if log == nil {
		return
	}
	log.LogMetric(component, metric, value, metricType, fields)
}

// DropMetric identifies the metric name emitted when queued messages are dropped.
type DropMetric string

const (
	// DropMetricNotification records notification messages dropped because the
	// outbound queue was full.
	DropMetricNotification DropMetric = "notifications_dropped"
	// DropMetricArchive records trade records dropped before archival.
	DropMetricArchive DropMetric = "archive_records_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped queue message.
// The value is always one so callers invoke this helper per dropped message.
func EmitDropMetric(log *logger.Log, metric DropMetric, component, stage string) {
	fields := logger.Fields{}
	if stage != "" {
		fields["stage"] = stage
	}
	EmitMetric(log, component, string(metric), 1, "counter", fields)
}
