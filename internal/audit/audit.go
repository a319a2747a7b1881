// Package audit is the fire-and-forget side channel for coupon lifecycle
// events. Publishing never blocks the caller and never reports failure to it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event types.
const (
	TypeCouponIssued             = "coupon.issued"
	TypeCouponRedeemed           = "coupon.redeemed"
	TypeCouponRedemptionRejected = "coupon.redemption_rejected"
)

// Event is one audit record.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SubjectID  string    `json:"subjectId,omitempty"`
	ProviderID string    `json:"providerId,omitempty"`
	CouponID   string    `json:"couponId,omitempty"`
	Code       string    `json:"code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Sink persists or forwards events.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Observer receives delivery outcomes: published, dropped, delivered, failed.
type Observer interface {
	ObserveAudit(outcome string)
}

// Publisher buffers events in memory and hands them to a Sink from Run.
type Publisher struct {
	sink         Sink
	inbox        chan Event
	writeTimeout time.Duration
	observer     Observer
}

// NewPublisher creates a Publisher with a buffer of size events.
func NewPublisher(sink Sink, size int, writeTimeout time.Duration, observer Observer) *Publisher {
	if size < 1 {
		size = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Publisher{
		sink:         sink,
		inbox:        make(chan Event, size),
		writeTimeout: writeTimeout,
		observer:     observer,
	}
}

// Publish enqueues event without blocking. A full buffer drops the event.
func (p *Publisher) Publish(_ context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	select {
	case p.inbox <- event:
		p.observe("published")
	default:
		p.observe("dropped")
		log.Warn().
			Str("event_type", event.Type).
			Str("coupon_id", event.CouponID).
			Msg("audit buffer full, event dropped")
	}
}

// Run delivers events until ctx is cancelled, then flushes what is already
// buffered and returns.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case event := <-p.inbox:
			p.deliver(context.Background(), event)
		}
	}
}

func (p *Publisher) flush() {
	for {
		select {
		case event := <-p.inbox:
			p.deliver(context.Background(), event)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(parent context.Context, event Event) {
	ctx, cancel := context.WithTimeout(parent, p.writeTimeout)
	defer cancel()

	if err := p.sink.Write(ctx, event); err != nil {
		p.observe("failed")
		log.Warn().
			Err(err).
			Str("event_id", event.ID).
			Str("event_type", event.Type).
			Msg("audit event delivery failed")
		return
	}
	p.observe("delivered")
}

func (p *Publisher) observe(outcome string) {
	if p.observer != nil {
		p.observer.ObserveAudit(outcome)
	}
}

// LogSink writes events to the structured log. Used when no broker is configured.
type LogSink struct{}

// Write implements Sink.
func (LogSink) Write(_ context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("subject_id", event.SubjectID).
		Str("provider_id", event.ProviderID).
		Str("coupon_id", event.CouponID).
		Str("reason", event.Reason).
		Time("occurred_at", event.OccurredAt).
		Msg("audit")
	return nil
}
