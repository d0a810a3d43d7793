package payproc

import (
	"context"
	"time"
)

// Processor subscription status strings as reported on the wire. The mapping
// onto local lifecycle statuses lives in internal/pkg/procsync.
const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusPastDue           = "past_due"
	StatusUnpaid            = "unpaid"
	StatusCanceled          = "canceled"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
)

// Customer is the processor's view of a billable person.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Subscription is the processor's view of a subscription. PriceMinor is an
// integer amount in the smallest currency unit.
type Subscription struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	PriceMinor         int64      `json:"price_minor"`
	Currency           string     `json:"currency"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
}

// Plan is the processor's view of a purchasable price.
type Plan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceMinor  int64  `json:"price_minor"`
	Currency    string `json:"currency"`
	Interval    string `json:"interval"`
}

// PaymentMethod describes a stored payment instrument.
type PaymentMethod struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Last4     string `json:"last4"`
	ExpMonth  int    `json:"exp_month"`
	ExpYear   int    `json:"exp_year"`
	IsDefault bool   `json:"is_default"`
}

// Invoice is the result of a charge attempt. AmountMinor is in the smallest
// currency unit.
type Invoice struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// Refund is the result of refunding an invoice.
type Refund struct {
	ID          string `json:"id"`
	InvoiceID   string `json:"invoice_id"`
	AmountMinor int64  `json:"amount_minor"`
	Status      string `json:"status"`
}

// CreateSubscriptionParams configures a new processor subscription.
type CreateSubscriptionParams struct {
	CustomerID string `json:"customer_id"`
	PlanID     string `json:"plan_id"`
	TrialDays  int    `json:"trial_days,omitempty"`
}

// UpdatePlanParams pushes locally-owned descriptive fields to the processor.
type UpdatePlanParams struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Gateway is the capability surface of the external payment processor. The
// processor is the system of record for financial truth; every call is a
// potential blocking I/O point and carries a bounded timeout via ctx or the
// client configuration.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	UpdatePlan(ctx context.Context, planID string, params UpdatePlanParams) (*Plan, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
	ChargeInvoice(ctx context.Context, subscriptionID string, amountMinor int64, currency string) (*Invoice, error)
	Refund(ctx context.Context, invoiceID string, amountMinor int64) (*Refund, error)
}
