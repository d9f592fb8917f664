package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments used across the conflict detector and notification
// dispatcher. All constructors fall back to no-op on error, so callers
// never branch on telemetry state.
var (
	instrumentsOnce sync.Once

	detectionsRun         metric.Int64Counter
	conflictsFound        metric.Int64Counter
	notificationsEnqueued metric.Int64Counter
	detectionSeconds      metric.Float64Histogram
)

func instruments() {
	instrumentsOnce.Do(func() {
		m := Meter()
		detectionsRun, _ = m.Int64Counter("digcoord.detections",
			metric.WithDescription("conflict detections run"))
		conflictsFound, _ = m.Int64Counter("digcoord.conflicts",
			metric.WithDescription("detections that found a conflict"))
		notificationsEnqueued, _ = m.Int64Counter("digcoord.notifications",
			metric.WithDescription("notification messages enqueued"))
		detectionSeconds, _ = m.Float64Histogram("digcoord.detection.duration",
			metric.WithDescription("conflict detection duration"),
			metric.WithUnit("s"))
	})
}

// RecordDetection counts one detection and its duration.
func RecordDetection(ctx context.Context, seconds float64, hasConflict bool) {
	instruments()
	if detectionsRun != nil {
		detectionsRun.Add(ctx, 1)
		detectionSeconds.Record(ctx, seconds)
		if hasConflict {
			conflictsFound.Add(ctx, 1)
		}
	}
}

// RecordNotification counts one enqueued notification message.
func RecordNotification(ctx context.Context, template string) {
	instruments()
	if notificationsEnqueued != nil {
		notificationsEnqueued.Add(ctx, 1,
			metric.WithAttributes(attribute.String("template", template)))
	}
}
