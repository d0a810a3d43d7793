package procsync

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
)

// Processor event types handled by the pipeline.
const (
	EventSubscriptionCreated   = "subscription_created"
	EventSubscriptionUpdated   = "subscription_updated"
	EventSubscriptionDeleted   = "subscription_deleted"
	EventPaymentSucceeded      = "payment_succeeded"
	EventPaymentFailed         = "payment_failed"
	EventPaymentActionRequired = "payment_action_required"
	EventTrialWillEnd          = "trial_will_end"
	EventCustomerCreated       = "customer_created"
	EventCustomerUpdated       = "customer_updated"
	EventCustomerDeleted       = "customer_deleted"
)

// SubscriptionPayload is the typed body of subscription_* and trial_will_end
// events. Amounts are minor units as sent by the processor.
type SubscriptionPayload struct {
	ExternalID        string     `json:"id"`
	CustomerID        string     `json:"customer_id"`
	PlanID            string     `json:"plan_id"`
	Status            string     `json:"status"`
	PriceMinor        int64      `json:"price_minor"`
	Currency          string     `json:"currency"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	TrialEnd          *time.Time `json:"trial_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// PaymentPayload is the typed body of payment_* events.
type PaymentPayload struct {
	SubscriptionID string     `json:"subscription_id"`
	InvoiceID      string     `json:"invoice_id"`
	AmountMinor    int64      `json:"amount_minor"`
	Currency       string     `json:"currency"`
	FailureMessage string     `json:"failure_message,omitempty"`
	PeriodEnd      *time.Time `json:"period_end,omitempty"`
}

// CustomerPayload is the typed body of customer_* events.
type CustomerPayload struct {
	ExternalID string `json:"id"`
	Email      string `json:"email"`
}

// Event is the decoded webhook envelope. Exactly one payload field is set,
// matching the event type; decoding happens once at the pipeline boundary and
// handlers never touch raw JSON.
type Event struct {
	DeliveryID string
	Type       string
	CreatedAt  time.Time

	Subscription *SubscriptionPayload
	Payment      *PaymentPayload
	Customer     *CustomerPayload
}

type rawEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// ParseEvent decodes a webhook body into a typed event. Unknown event types
// parse successfully with no payload attached; the pipeline acknowledges them
// without dispatching.
func ParseEvent(raw []byte) (*Event, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.Validationf("malformed event envelope: %v", err)
	}
	if strings.TrimSpace(env.ID) == "" {
		return nil, errs.Validationf("event envelope missing delivery id")
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, errs.Validationf("event envelope missing type")
	}

	ev := &Event{
		DeliveryID: strings.TrimSpace(env.ID),
		Type:       strings.TrimSpace(env.Type),
		CreatedAt:  env.CreatedAt,
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted, EventTrialWillEnd:
		var p SubscriptionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, errs.Validationf("malformed %s payload: %v", ev.Type, err)
		}
		if strings.TrimSpace(p.ExternalID) == "" {
			return nil, errs.Validationf("%s payload missing subscription id", ev.Type)
		}
		ev.Subscription = &p
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentActionRequired:
		var p PaymentPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, errs.Validationf("malformed %s payload: %v", ev.Type, err)
		}
		if strings.TrimSpace(p.SubscriptionID) == "" {
			return nil, errs.Validationf("%s payload missing subscription id", ev.Type)
		}
		ev.Payment = &p
	case EventCustomerCreated, EventCustomerUpdated, EventCustomerDeleted:
		var p CustomerPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, errs.Validationf("malformed %s payload: %v", ev.Type, err)
		}
		ev.Customer = &p
	}

	return ev, nil
}
