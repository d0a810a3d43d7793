package repository

import (
	"time"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// CreateIfNotExists inserts the delivery unless its (provider, delivery_id)
// pair was already seen. The boolean reports whether this call created the
// row; a false return marks a duplicate delivery.
func (r *webhookEventRepository) CreateIfNotExists(event *models.ProcessorWebhookEvent) (bool, *models.ProcessorWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "delivery_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.ProcessorWebhookEvent
	if err := r.db.Where("provider = ? AND delivery_id = ?", event.Provider, event.DeliveryID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkProcessed marks an event as processed and stores an optional error.
func (r *webhookEventRepository) MarkProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.ProcessorWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// RecordFailure stores the processing error without touching processed_at.
func (r *webhookEventRepository) RecordFailure(id uint, processingError string) error {
	return r.db.Model(&models.ProcessorWebhookEvent{}).
		Where("id = ?", id).
		Update("processing_error", processingError).Error
}

// List returns stored deliveries newest first, for operator inspection.
func (r *webhookEventRepository) List(offset, limit int) ([]models.ProcessorWebhookEvent, error) {
	var events []models.ProcessorWebhookEvent
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&events).Error
	return events, err
}
