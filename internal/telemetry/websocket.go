package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// HubMetrics instruments the session hub: manager lifecycle, connection
// counts and event broadcast outcomes. It satisfies the session package's
// Observer interface.
type HubMetrics struct {
	tracer trace.Tracer
	meter  metric.Meter

	managersActive    metric.Int64UpDownCounter
	managersCreated   metric.Int64Counter
	connectionsActive metric.Int64UpDownCounter
	eventsTotal       metric.Int64Counter
	deliveryFailures  metric.Int64Counter
	broadcastDuration metric.Float64Histogram
}

// NewHubMetrics creates the hub instrument bundle.
func NewHubMetrics(tracer trace.Tracer, meter metric.Meter) (*HubMetrics, error) {
	h := &HubMetrics{
		tracer: tracer,
		meter:  meter,
	}

	var err error

	h.managersActive, err = meter.Int64UpDownCounter(
		"sessionhub_managers_active",
		metric.WithDescription("Number of active session managers"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create managers counter: %w", err)
	}

	h.managersCreated, err = meter.Int64Counter(
		"sessionhub_managers_created_total",
		metric.WithDescription("Total number of session managers created"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create managers created counter: %w", err)
	}

	h.connectionsActive, err = meter.Int64UpDownCounter(
		"sessionhub_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}

	h.eventsTotal, err = meter.Int64Counter(
		"sessionhub_events_total",
		metric.WithDescription("Total number of events emitted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}

	h.deliveryFailures, err = meter.Int64Counter(
		"sessionhub_delivery_failures_total",
		metric.WithDescription("Total number of per-connection delivery failures"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery failures counter: %w", err)
	}

	h.broadcastDuration, err = meter.Float64Histogram(
		"sessionhub_broadcast_duration_seconds",
		metric.WithDescription("Duration of event broadcast operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast duration histogram: %w", err)
	}

	return h, nil
}

// ManagerCreated records a new session manager for the given user.
func (h *HubMetrics) ManagerCreated(userID string) {
	ctx := context.Background()
	h.managersCreated.Add(ctx, 1)
	h.managersActive.Add(ctx, 1)
}

// ManagerCleaned records a torn-down session manager.
func (h *HubMetrics) ManagerCleaned(userID string) {
	h.managersActive.Add(context.Background(), -1)
}

// ConnectionAdded records an admitted connection.
func (h *HubMetrics) ConnectionAdded(userID string) {
	h.connectionsActive.Add(context.Background(), 1)
}

// ConnectionRemoved records a detached connection.
func (h *HubMetrics) ConnectionRemoved(userID string) {
	h.connectionsActive.Add(context.Background(), -1)
}

// EventEmitted records one broadcast: counts per event type and outcome plus
// the broadcast latency.
func (h *HubMetrics) EventEmitted(eventType string, delivered, failed int, elapsed time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))

	h.eventsTotal.Add(ctx, 1, attrs)
	if failed > 0 {
		h.deliveryFailures.Add(ctx, int64(failed), attrs)
	}
	h.broadcastDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// TraceConnection traces a WebSocket connection's lifecycle. The returned
// func ends the span; pass the terminal error, if any.
func (h *HubMetrics) TraceConnection(ctx context.Context, userID, connectionID string) (context.Context, func(err error)) {
	startTime := time.Now()

	ctx, span := h.tracer.Start(ctx, "websocket.connection",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("websocket.user_id", userID),
		attribute.String("websocket.connection_id", connectionID),
	)

	return ctx, func(err error) {
		span.SetAttributes(
			attribute.Float64("websocket.duration_seconds", time.Since(startTime).Seconds()),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
