package models

import "time"

// Notification template kinds emitted by the lifecycle engine.
const (
	NotificationPaymentSucceeded     = "payment_succeeded"
	NotificationPaymentFailed        = "payment_failed"
	NotificationPaymentActionNeeded  = "payment_action_required"
	NotificationTrialWillEnd         = "trial_will_end"
	NotificationSubscriptionChanged  = "subscription_changed"
	NotificationSubscriptionCanceled = "subscription_cancelled"
)

// Notification is a fire-and-forget outbox row for the delivery sink. Failures
// to deliver are logged, never propagated to the triggering operation.
type Notification struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"index" json:"user_id"`
	TemplateKind string     `gorm:"type:varchar(50);not null;index" json:"template_kind"`
	ParamsJSON   string     `gorm:"type:text" json:"params_json"`
	SentAt       *time.Time `gorm:"type:timestamp;default:null" json:"sent_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
