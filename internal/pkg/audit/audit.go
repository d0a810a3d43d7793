package audit

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/VitalCareHQ/VitalCare/app/models"
)

// Entry is one audit record. Before and After are marshaled to JSON when the
// entry is written.
type Entry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Before     any
	After      any
}

// Sink receives audit entries. Writes are best-effort: callers log failures
// and continue.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

type gormSink struct {
	db *gorm.DB
}

// NewSink creates an audit sink backed by the audit_logs table.
func NewSink(db *gorm.DB) Sink {
	return &gormSink{db: db}
}

func (s *gormSink) Record(_ context.Context, entry Entry) error {
	row := &models.AuditLog{
		Actor:      entry.Actor,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		BeforeJSON: marshal(entry.Before),
		AfterJSON:  marshal(entry.After),
	}
	return s.db.Create(row).Error
}

func marshal(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.Warnf("[Audit] Failed to marshal audit payload: %v", err)
		return ""
	}
	return string(raw)
}

// NopSink discards entries. Used in tests.
type NopSink struct{}

func (NopSink) Record(context.Context, Entry) error { return nil }
