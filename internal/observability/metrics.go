package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OTel metric instruments for the call script service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SelectionCycles     metric.Int64Counter
	IndexCorrections    metric.Int64Counter
	CommandFailures     metric.Int64Counter
	SubmissionsCreated  metric.Int64Counter
	ModerationDecisions metric.Int64Counter
	ModerationLatency   metric.Float64Histogram
}

// NewMetrics creates the instruments from the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("callscript")

	cycles, err := meter.Int64Counter("callscript.selection.cycles",
		metric.WithDescription("Number of candidate cycles requested by agents"),
	)
	if err != nil {
		return nil, err
	}

	corrections, err := meter.Int64Counter("callscript.selection.corrections",
		metric.WithDescription("Number of out-of-range stored indices clamped"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("callscript.commands.failures",
		metric.WithDescription("Persistence commands that failed after retries"),
	)
	if err != nil {
		return nil, err
	}

	submissions, err := meter.Int64Counter("callscript.submissions.created",
		metric.WithDescription("Alternate wordings submitted for moderation"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter("callscript.moderation.decisions",
		metric.WithDescription("Moderation decisions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("callscript.moderation.latency_seconds",
		metric.WithDescription("Time from submission to moderation decision"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		SelectionCycles:     cycles,
		IndexCorrections:    corrections,
		CommandFailures:     failures,
		SubmissionsCreated:  submissions,
		ModerationDecisions: decisions,
		ModerationLatency:   latency,
	}, nil
}

func (m *Metrics) RecordCycle(ctx context.Context) {
	if m == nil {
		return
	}
	m.SelectionCycles.Add(ctx, 1)
}

func (m *Metrics) RecordCorrection(ctx context.Context) {
	if m == nil {
		return
	}
	m.IndexCorrections.Add(ctx, 1)
}

// RecordCommandFailure records a command that exhausted its retries.
func (m *Metrics) RecordCommandFailure(ctx context.Context, command string) {
	if m == nil {
		return
	}
	m.CommandFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("command", command)),
	)
}

func (m *Metrics) RecordSubmission(ctx context.Context) {
	if m == nil {
		return
	}
	m.SubmissionsCreated.Add(ctx, 1)
}

// RecordDecision records a moderation outcome and how long the submission waited.
func (m *Metrics) RecordDecision(ctx context.Context, decision string, waited time.Duration) {
	if m == nil {
		return
	}
	m.ModerationDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("decision", decision)),
	)
	if waited > 0 {
		m.ModerationLatency.Record(ctx, waited.Seconds())
	}
}
