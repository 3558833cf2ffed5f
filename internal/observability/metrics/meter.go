// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps an OpenTelemetry meter with the counters and histograms this
// provider actually records: tokens issued (by grant type), authorization
// codes consumed, and federation callback latency (by provider).
type Meter struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	tokensIssued    metric.Int64Counter
	codesConsumed   metric.Int64Counter
	federationCalls metric.Float64Histogram
}

// New creates a meter instance. When cfg.Enabled is false it wraps the
// no-op global meter so instrument calls are harmless but inert.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return newInstruments(otel.Meter("noop"), nil)
	}

	exporter, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(provider)

	return newInstruments(provider.Meter(serviceName), provider)
}

func newInstruments(meter metric.Meter, provider *sdkmetric.MeterProvider) (*Meter, error) {
	tokensIssued, err := meter.Int64Counter(
		"idp.tokens.issued",
		metric.WithDescription("access/refresh/id tokens issued, by grant type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter idp.tokens.issued: %w", err)
	}

	codesConsumed, err := meter.Int64Counter(
		"idp.authorization_codes.consumed",
		metric.WithDescription("authorization codes exchanged at the token endpoint"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter idp.authorization_codes.consumed: %w", err)
	}

	federationCalls, err := meter.Float64Histogram(
		"idp.federation.callback.latency",
		metric.WithDescription("federation callback handling latency, by provider"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram idp.federation.callback.latency: %w", err)
	}

	return &Meter{
		meter:           meter,
		provider:        provider,
		tokensIssued:    tokensIssued,
		codesConsumed:   codesConsumed,
		federationCalls: federationCalls,
	}, nil
}

// Shutdown flushes and stops the underlying meter provider, when one was
// constructed (cfg.Enabled was true).
func (m *Meter) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// RecordTokenIssued increments the tokens-issued counter for grantType.
func (m *Meter) RecordTokenIssued(ctx context.Context, grantType string) {
	m.tokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("grant_type", grantType)))
}

// RecordCodeConsumed increments the authorization-codes-consumed counter.
func (m *Meter) RecordCodeConsumed(ctx context.Context) {
	m.codesConsumed.Add(ctx, 1)
}

// RecordFederationCallback records how long a federation callback took to
// handle, labeled by provider.
func (m *Meter) RecordFederationCallback(ctx context.Context, provider string, seconds float64) {
	m.federationCalls.Record(ctx, seconds, metric.WithAttributes(attribute.String("provider", provider)))
}
