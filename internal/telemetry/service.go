package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds telemetry configuration
type Config struct {
	ServiceName    string
	MetricsEnabled bool
}

// Service manages the OpenTelemetry meter provider and the Prometheus
// registry metrics are exported through.
type Service struct {
	config *Config

	meterProvider *sdkmetric.MeterProvider
	registry      *prometheus.Registry

	tracer trace.Tracer
	meter  metric.Meter
}

// NewService creates a new telemetry service. Metrics flow through the otel
// SDK into a dedicated Prometheus registry, which the server exposes on
// /metrics.
func NewService(config *Config) (*Service, error) {
	service := &Service{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	if config.MetricsEnabled {
		exporter, err := otelprom.New(otelprom.WithRegisterer(service.registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}

		res := resource.NewSchemaless(
			attribute.String("service.name", config.ServiceName),
		)

		service.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(service.meterProvider)
	}

	service.tracer = otel.Tracer(config.ServiceName)
	service.meter = otel.Meter(config.ServiceName)

	return service, nil
}

// Tracer returns the service tracer
func (s *Service) Tracer() trace.Tracer {
	return s.tracer
}

// Meter returns the service meter
func (s *Service) Meter() metric.Meter {
	return s.meter
}

// Registry returns the Prometheus registry for the /metrics endpoint
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Shutdown flushes and stops the meter provider
func (s *Service) Shutdown(ctx context.Context) error {
	if s.meterProvider == nil {
		return nil
	}
	if err := s.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down meter provider: %w", err)
	}
	return nil
}
