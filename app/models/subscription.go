package models

import (
	"time"
)

// Subscription statuses. The external processor reports its own status strings;
// internal/pkg/procsync maps them onto these.
const (
	SubscriptionStatusPending              = "pending"
	SubscriptionStatusActive               = "active"
	SubscriptionStatusTrialActive          = "trial_active"
	SubscriptionStatusPaymentFailed        = "payment_failed"
	SubscriptionStatusPaymentActionNeeded  = "payment_action_required"
	SubscriptionStatusSuspended            = "suspended"
	SubscriptionStatusCancelled            = "cancelled"
	SubscriptionStatusExpired              = "expired"
)

// Subscription is the local projection of a processor subscription. The
// processor owns the financial truth; this row is an eventually-consistent
// cache of it, mutated only through the lifecycle state machine.
//
// ExternalSubscriptionID is nullable until the first sync and immutable once
// set. Rows are never hard-deleted: cancellation is a terminal status.
type Subscription struct {
	ID                        uint       `gorm:"primaryKey" json:"id"`
	UUID                      string     `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID                    uint       `gorm:"not null;index;index:ux_subscriptions_user_external,unique,priority:1" json:"user_id"`
	PlanID                    uint       `gorm:"not null;index" json:"plan_id"`
	ExternalSubscriptionID    *string    `gorm:"type:varchar(191);uniqueIndex;index:ux_subscriptions_user_external,unique,priority:2" json:"external_subscription_id,omitempty"`
	ExternalCustomerID        string     `gorm:"type:varchar(191);index" json:"external_customer_id"`
	Status                    string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	CurrentPrice              float64    `gorm:"type:decimal(10,2);not null;default:0" json:"current_price"`
	Currency                  string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	NextBillingDate           *time.Time `gorm:"type:timestamp;default:null;index" json:"next_billing_date,omitempty"`
	LastPaymentDate           *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_date,omitempty"`
	LastPaymentError          string     `gorm:"type:text" json:"last_payment_error,omitempty"`
	FailedPaymentAttemptCount int        `gorm:"not null;default:0" json:"failed_payment_attempt_count"`
	TrialEndDate              *time.Time `gorm:"type:timestamp;default:null" json:"trial_end_date,omitempty"`
	BillingAnchor             time.Time  `gorm:"type:timestamp;not null" json:"billing_anchor"`
	LastSyncedAt              *time.Time `gorm:"type:timestamp;default:null" json:"last_synced_at,omitempty"`
	Version                   int64      `gorm:"not null;default:1" json:"version"`
	CreatedAt                 time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the subscription can no longer leave its status.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCancelled || s.Status == SubscriptionStatusExpired
}

// IsBillable reports whether recurring billing should consider this row.
func (s *Subscription) IsBillable() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialActive
}
