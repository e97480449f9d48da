// Copyright 2026 The SecureDocs Authors
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
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Get meter from global meter provider
	// In production, configure a proper meter provider with exporters
	meter := otel.Meter(serviceName)

	return &Meter{
		meter: meter,
	}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// EnforcementMetrics groups the counters recorded by the enforcement
// pipeline. A nil receiver is valid and records nothing, so callers can
// wire metrics in without guarding every call site.
type EnforcementMetrics struct {
	decisions        metric.Int64Counter
	otpVerifications metric.Int64Counter
	lockouts         metric.Int64Counter
}

// NewEnforcementMetrics creates the enforcement counters on the meter.
func NewEnforcementMetrics(m *Meter) (*EnforcementMetrics, error) {
	decisions, err := m.CreateCounter("enforcement_decisions_total",
		"Enforcement pipeline outcomes by decision and reason")
	if err != nil {
		return nil, err
	}
	otpVerifications, err := m.CreateCounter("otp_verifications_total",
		"TOTP verification attempts by result")
	if err != nil {
		return nil, err
	}
	lockouts, err := m.CreateCounter("account_lockouts_total",
		"Accounts transitioned to the locked state")
	if err != nil {
		return nil, err
	}
	return &EnforcementMetrics{
		decisions:        decisions,
		otpVerifications: otpVerifications,
		lockouts:         lockouts,
	}, nil
}

// RecordDecision counts one pipeline outcome.
func (em *EnforcementMetrics) RecordDecision(ctx context.Context, decision, reason string) {
	if em == nil {
		return
	}
	em.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", decision),
		attribute.String("reason", reason),
	))
}

// RecordOtpVerification counts one TOTP verification attempt.
func (em *EnforcementMetrics) RecordOtpVerification(ctx context.Context, ok bool) {
	if em == nil {
		return
	}
	em.otpVerifications.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("valid", ok),
	))
}

// RecordLockout counts one account lockout.
func (em *EnforcementMetrics) RecordLockout(ctx context.Context) {
	if em == nil {
		return
	}
	em.lockouts.Add(ctx, 1)
}
