package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncRequestCount increments the counter of an OWS operation.
	IncRequestCount(service, operation string, success bool)

	// ObserveRequestDuration records the duration of an OWS operation.
	ObserveRequestDuration(service, operation string, duration time.Duration)

	// ObserveRecordsReturned records how many records a query returned.
	ObserveRecordsReturned(typeName string, count int)

	// SetRecordsLoaded sets the number of records loaded from seeds.
	SetRecordsLoaded(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncRequestCount implements MetricsCollector.
func (n *NoOpMetrics) IncRequestCount(_, _ string, _ bool) {}

// ObserveRequestDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveRequestDuration(_, _ string, _ time.Duration) {}

// ObserveRecordsReturned implements MetricsCollector.
func (n *NoOpMetrics) ObserveRecordsReturned(_ string, _ int) {}

// SetRecordsLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetRecordsLoaded(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
