package models

import "time"

// ProcessorWebhookEvent stores processor webhook deliveries with deduplication
// metadata for idempotent processing. The unique (provider, delivery_id) index
// makes replayed deliveries visible as no-ops.
type ProcessorWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_processor_webhook_events_delivery,unique,priority:1" json:"provider"`
	DeliveryID      string     `gorm:"type:varchar(191);not null;index:ux_processor_webhook_events_delivery,unique,priority:2" json:"delivery_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
