package models

import "time"

const (
	BillingRecordTypeCharge     = "charge"
	BillingRecordTypeRefund     = "refund"
	BillingRecordTypeAdjustment = "adjustment"
)

const (
	BillingRecordStatusPending  = "pending"
	BillingRecordStatusPaid     = "paid"
	BillingRecordStatusFailed   = "failed"
	BillingRecordStatusRefunded = "refunded"
)

// BillingRecord is one financial event tied to a subscription. Records are
// immutable once paid or refunded, except for refund-amount amendments.
type BillingRecord struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID    uint       `gorm:"not null;index" json:"subscription_id"`
	Type              string     `gorm:"type:varchar(16);not null;default:'charge'" json:"type"`
	Status            string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Amount            float64    `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency          string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	RefundedAmount    float64    `gorm:"type:decimal(10,2);not null;default:0" json:"refunded_amount"`
	ExternalInvoiceID string     `gorm:"type:varchar(191);index" json:"external_invoice_id"`
	FailureMessage    string     `gorm:"type:text" json:"failure_message,omitempty"`
	BilledAt          time.Time  `gorm:"type:timestamp;not null" json:"billed_at"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFinal reports whether the record may still change besides refund amendments.
func (b *BillingRecord) IsFinal() bool {
	return b.Status == BillingRecordStatusPaid || b.Status == BillingRecordStatusRefunded
}
