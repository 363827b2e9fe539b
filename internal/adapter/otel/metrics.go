package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "revclaw"

// Metrics holds all RevClaw metric instruments.
type Metrics struct {
	Registrations       metric.Int64Counter
	ClaimsApproved      metric.Int64Counter
	ClaimsDenied        metric.Int64Counter
	TokensIssued        metric.Int64Counter
	IntentsCreated      metric.Int64Counter
	IntentsApproved     metric.Int64Counter
	IntentsDenied       metric.Int64Counter
	IntentsExecuted     metric.Int64Counter
	PlansCreated        metric.Int64Counter
	PlansApproved       metric.Int64Counter
	RateLimitRejections metric.Int64Counter
	ApprovalLatency     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Registrations, err = meter.Int64Counter("revclaw.registrations",
		metric.WithDescription("Agent registrations received"))
	if err != nil {
		return nil, err
	}

	m.ClaimsApproved, err = meter.Int64Counter("revclaw.claims.approved",
		metric.WithDescription("Claims approved by owners"))
	if err != nil {
		return nil, err
	}

	m.ClaimsDenied, err = meter.Int64Counter("revclaw.claims.denied",
		metric.WithDescription("Claims denied by owners"))
	if err != nil {
		return nil, err
	}

	m.TokensIssued, err = meter.Int64Counter("revclaw.tokens.issued",
		metric.WithDescription("Access token pairs issued"))
	if err != nil {
		return nil, err
	}

	m.IntentsCreated, err = meter.Int64Counter("revclaw.intents.created",
		metric.WithDescription("Intents filed by agents"))
	if err != nil {
		return nil, err
	}

	m.IntentsApproved, err = meter.Int64Counter("revclaw.intents.approved",
		metric.WithDescription("Intents approved by owners"))
	if err != nil {
		return nil, err
	}

	m.IntentsDenied, err = meter.Int64Counter("revclaw.intents.denied",
		metric.WithDescription("Intents denied by owners"))
	if err != nil {
		return nil, err
	}

	m.IntentsExecuted, err = meter.Int64Counter("revclaw.intents.executed",
		metric.WithDescription("Approved intents consumed by execution"))
	if err != nil {
		return nil, err
	}

	m.PlansCreated, err = meter.Int64Counter("revclaw.plans.created",
		metric.WithDescription("Plans drafted by agents"))
	if err != nil {
		return nil, err
	}

	m.PlansApproved, err = meter.Int64Counter("revclaw.plans.approved",
		metric.WithDescription("Plans approved by owners"))
	if err != nil {
		return nil, err
	}

	m.RateLimitRejections, err = meter.Int64Counter("revclaw.ratelimit.rejections",
		metric.WithDescription("Requests rejected by the sliding-window limiter"))
	if err != nil {
		return nil, err
	}

	m.ApprovalLatency, err = meter.Float64Histogram("revclaw.approval.latency_seconds",
		metric.WithDescription("Time from intent creation to human decision"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
