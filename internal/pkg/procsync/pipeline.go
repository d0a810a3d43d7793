package procsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/audit"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/lifecycle"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/notify"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
)

const (
	defaultRetryLimit = 3
	defaultRetryDelay = 5 * time.Second
)

// Config carries the pipeline policy. Built once in main from the
// environment and injected; the pipeline never reads ambient state at call
// time.
type Config struct {
	Provider      string
	WebhookSecret string
	RetryLimit    int
	RetryDelay    time.Duration
}

// Result describes how a delivery was handled.
type Result struct {
	EventType string
	Duplicate bool
	Ignored   bool
}

// Pipeline converts processor events into idempotent local mutations:
// verify authenticity, dedupe by delivery id, dispatch by type, retry
// transient failures.
type Pipeline struct {
	cfg      Config
	subs     repository.SubscriptionRepository
	plans    repository.PlanRepository
	events   repository.WebhookEventRepository
	machine  *lifecycle.Machine
	auditor  audit.Sink
	notifier notify.Notifier
}

// NewPipeline creates a webhook ingestion pipeline.
func NewPipeline(
	cfg Config,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	events repository.WebhookEventRepository,
	machine *lifecycle.Machine,
	auditor audit.Sink,
	notifier notify.Notifier,
) *Pipeline {
	if cfg.Provider == "" {
		cfg.Provider = "processor"
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = defaultRetryLimit
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Pipeline{cfg: cfg, subs: subs, plans: plans, events: events, machine: machine, auditor: auditor, notifier: notifier}
}

// VerifySignature checks a delivery against the configured webhook secret.
func (p *Pipeline) VerifySignature(rawBody []byte, signatureHeader string) bool {
	return payproc.VerifyEventSignature(rawBody, signatureHeader, p.cfg.WebhookSecret)
}

// Ingest processes one signed delivery. Signature failures return
// errs.ErrValidation before anything is persisted. Deliveries whose earlier
// attempt completed acknowledge as duplicates without reprocessing; a
// redelivery of an unfinished attempt runs again. Exhausted retries leave the
// stored event unprocessed and surface as errs.ErrUpstreamUnavailable so the
// endpoint answers 5xx and the processor redelivers.
func (p *Pipeline) Ingest(ctx context.Context, rawBody []byte, signatureHeader string) (*Result, error) {
	if !p.VerifySignature(rawBody, signatureHeader) {
		return nil, errs.Validationf("invalid webhook signature")
	}

	event, err := ParseEvent(rawBody)
	if err != nil {
		return nil, err
	}

	created, stored, err := p.events.CreateIfNotExists(&models.ProcessorWebhookEvent{
		Provider:       p.cfg.Provider,
		DeliveryID:     event.DeliveryID,
		EventType:      event.Type,
		PayloadJSON:    string(rawBody),
		SignatureValid: true,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		if stored.ProcessedAt != nil {
			log.Infof("[ProcSync] Duplicate delivery %s (%s), acknowledged", event.DeliveryID, event.Type)
			return &Result{EventType: event.Type, Duplicate: true}, nil
		}
		log.Infof("[ProcSync] Redelivery of unfinished delivery %s (%s), reprocessing", event.DeliveryID, event.Type)
	}

	handler := p.handlerFor(event.Type)
	if handler == nil {
		log.Warnf("[ProcSync] Unrecognized event type %q (delivery %s), acknowledged", event.Type, event.DeliveryID)
		p.markProcessed(stored.ID, nil)
		return &Result{EventType: event.Type, Ignored: true}, nil
	}

	err = p.runWithRetry(ctx, event, handler)
	if err != nil {
		if errs.IsRetryable(err) {
			// The event stays unprocessed so the processor's redelivery
			// gets a fresh run instead of a duplicate ack.
			p.recordFailure(stored.ID, err)
			return nil, fmt.Errorf("%w: delivery %s after %d attempts: %v",
				errs.ErrUpstreamUnavailable, event.DeliveryID, p.cfg.RetryLimit, err)
		}
		// Permanent failures are recorded for operator inspection and
		// acknowledged: redelivery cannot fix them.
		p.markProcessed(stored.ID, err)
		log.Errorf("[ProcSync] Delivery %s (%s) failed permanently: %v", event.DeliveryID, event.Type, err)
		return &Result{EventType: event.Type, Ignored: true}, nil
	}

	p.markProcessed(stored.ID, nil)
	return &Result{EventType: event.Type}, nil
}

// Dispatch runs the handler for an already-authenticated event, with the
// same retry policy as Ingest but without signature or dedupe checks. Used
// for locally-originated outcomes (recurring billing charges) so state
// transition logic stays single-sourced in the handlers.
func (p *Pipeline) Dispatch(ctx context.Context, event *Event) error {
	handler := p.handlerFor(event.Type)
	if handler == nil {
		return errs.Validationf("no handler for event type %q", event.Type)
	}
	return p.runWithRetry(ctx, event, handler)
}

type handlerFunc func(ctx context.Context, event *Event) error

func (p *Pipeline) handlerFor(eventType string) handlerFunc {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return p.handleSubscriptionUpsert
	case EventSubscriptionDeleted:
		return p.handleSubscriptionDeleted
	case EventPaymentSucceeded:
		return p.handlePaymentSucceeded
	case EventPaymentFailed:
		return p.handlePaymentFailed
	case EventPaymentActionRequired:
		return p.handlePaymentActionRequired
	case EventTrialWillEnd:
		return p.handleTrialWillEnd
	case EventCustomerCreated, EventCustomerUpdated, EventCustomerDeleted:
		return p.handleCustomerEvent
	default:
		return nil
	}
}

// runWithRetry retries transient failures with a fixed delay. Permanent
// errors surface immediately.
func (p *Pipeline) runWithRetry(ctx context.Context, event *Event, handler handlerFunc) error {
	var err error
	for attempt := 1; attempt <= p.cfg.RetryLimit; attempt++ {
		err = handler(ctx, event)
		if err == nil || !errs.IsRetryable(err) {
			return err
		}
		log.Warnf("[ProcSync] Delivery %s attempt %d/%d failed: %v", event.DeliveryID, attempt, p.cfg.RetryLimit, err)
		if attempt < p.cfg.RetryLimit {
			select {
			case <-ctx.Done():
				return errs.Transientf("ingest cancelled: %v", ctx.Err())
			case <-time.After(p.cfg.RetryDelay):
			}
		}
	}
	return err
}

func (p *Pipeline) markProcessed(eventID uint, processingErr error) {
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	if err := p.events.MarkProcessed(eventID, msg); err != nil {
		log.Errorf("[ProcSync] Failed to mark delivery %d processed: %v", eventID, err)
	}
}

func (p *Pipeline) recordFailure(eventID uint, processingErr error) {
	if err := p.events.RecordFailure(eventID, processingErr.Error()); err != nil {
		log.Errorf("[ProcSync] Failed to record failure for delivery %d: %v", eventID, err)
	}
}

// findTracked resolves an external subscription id, treating unknown ids as a
// deliberate no-op: a late-arriving create for a subscription this system
// does not track.
func (p *Pipeline) findTracked(externalID string) (*models.Subscription, bool, error) {
	sub, err := p.subs.FindByExternalID(externalID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			log.Infof("[ProcSync] Ignoring event for untracked subscription %q", externalID)
			return nil, false, nil
		}
		return nil, false, err
	}
	return sub, true, nil
}
