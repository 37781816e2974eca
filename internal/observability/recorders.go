package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ThrottleMetrics counts rate limiter decisions per route class.
type ThrottleMetrics struct {
	decisions metric.Int64Counter
}

func NewThrottleMetrics() (*ThrottleMetrics, error) {
	counter, err := otel.Meter("authify/ratelimit").Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limiter decisions by route class and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return &ThrottleMetrics{decisions: counter}, nil
}

func (m *ThrottleMetrics) RecordDecision(ctx context.Context, class string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("outcome", outcome),
	))
}

// NotificationMetrics counts outbound mail by template and outcome.
type NotificationMetrics struct {
	messages metric.Int64Counter
}

func NewNotificationMetrics() (*NotificationMetrics, error) {
	counter, err := otel.Meter("authify/notify").Int64Counter(
		"notification.messages",
		metric.WithDescription("Outbound notifications by kind and outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}
	return &NotificationMetrics{messages: counter}, nil
}

func (m *NotificationMetrics) RecordNotification(ctx context.Context, kind string, outcome string) {
	m.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
