// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the inference router.
//
// Description:
//
//	Provides counters and histograms for tier attempts, fallbacks,
//	circuit-breaker activity, and context trimming. All metrics use the
//	"lineage_inference_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// AttemptsTotal counts tier attempts by backend and outcome.
	AttemptsTotal metric.Int64Counter

	// AttemptDuration records per-tier attempt duration in seconds.
	AttemptDuration metric.Float64Histogram

	// FallbacksTotal counts requests served by a non-first tier.
	FallbacksTotal metric.Int64Counter

	// CircuitOpenTotal counts tiers skipped because their breaker was open.
	CircuitOpenTotal metric.Int64Counter

	// OutOfMemoryTotal counts local-engine out-of-memory failures.
	OutOfMemoryTotal metric.Int64Counter

	// ExhaustedTotal counts requests that exhausted every tier.
	ExhaustedTotal metric.Int64Counter

	// TrimmedTotal counts requests whose context was trimmed to budget.
	TrimmedTotal metric.Int64Counter
}

// NewMetrics registers all router metrics with the provided meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AttemptsTotal, err = meter.Int64Counter(
		"lineage_inference_attempts_total",
		metric.WithDescription("Total tier attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create attempts_total: %w", err)
	}

	m.AttemptDuration, err = meter.Float64Histogram(
		"lineage_inference_attempt_duration_seconds",
		metric.WithDescription("Per-tier attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create attempt_duration: %w", err)
	}

	m.FallbacksTotal, err = meter.Int64Counter(
		"lineage_inference_fallbacks_total",
		metric.WithDescription("Requests served by a non-first tier"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fallbacks_total: %w", err)
	}

	m.CircuitOpenTotal, err = meter.Int64Counter(
		"lineage_inference_circuit_open_total",
		metric.WithDescription("Tiers skipped with an open circuit"),
		metric.WithUnit("{skip}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create circuit_open_total: %w", err)
	}

	m.OutOfMemoryTotal, err = meter.Int64Counter(
		"lineage_inference_oom_total",
		metric.WithDescription("Local engine out-of-memory failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oom_total: %w", err)
	}

	m.ExhaustedTotal, err = meter.Int64Counter(
		"lineage_inference_exhausted_total",
		metric.WithDescription("Requests that exhausted every tier"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create exhausted_total: %w", err)
	}

	m.TrimmedTotal, err = meter.Int64Counter(
		"lineage_inference_trimmed_total",
		metric.WithDescription("Requests whose context was trimmed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create trimmed_total: %w", err)
	}

	return m, nil
}
