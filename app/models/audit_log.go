package models

import "time"

// AuditLog records who changed what. Every lifecycle transition and every
// reconciliation repair writes one row; writes are best-effort and never block
// the operation they describe.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Actor      string    `gorm:"type:varchar(100);not null;index" json:"actor"`
	Action     string    `gorm:"type:varchar(100);not null;index" json:"action"`
	EntityType string    `gorm:"type:varchar(50);not null;index:idx_audit_logs_entity,priority:1" json:"entity_type"`
	EntityID   string    `gorm:"type:varchar(100);not null;index:idx_audit_logs_entity,priority:2" json:"entity_id"`
	BeforeJSON string    `gorm:"type:text" json:"before_json"`
	AfterJSON  string    `gorm:"type:text" json:"after_json"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
