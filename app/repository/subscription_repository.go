package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"gorm.io/gorm"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create creates a new subscription in the database
func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// GetByID retrieves a subscription by its primary key
func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.First(&sub, id).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &sub, nil
}

// GetByUUID retrieves a subscription by its public identifier
func (r *subscriptionRepository) GetByUUID(uuid string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("uuid = ?", uuid).First(&sub).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &sub, nil
}

// FindByExternalID resolves a processor subscription id to the local row.
// Returns errs.ErrNotFound for subscriptions this system does not track.
func (r *subscriptionRepository) FindByExternalID(externalID string) (*models.Subscription, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, errs.ErrNotFound
	}
	var sub models.Subscription
	err := r.db.Where("external_subscription_id = ?", trimmed).First(&sub).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &sub, nil
}

// ListByUser returns all subscriptions belonging to a user
func (r *subscriptionRepository) ListByUser(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

// ListDueForBilling returns billable subscriptions whose next billing date has arrived
func (r *subscriptionRepository) ListDueForBilling(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("next_billing_date IS NOT NULL AND next_billing_date <= ?", now).
		Where("status IN ?", []string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialActive}).
		Find(&subs).Error
	return subs, err
}

// UpdateWithVersion writes the subscription guarded by an expected-version
// check. Losing the race returns errs.ErrConflict; the caller re-reads and
// retries.
func (r *subscriptionRepository) UpdateWithVersion(sub *models.Subscription) error {
	expected := sub.Version
	updates := map[string]interface{}{
		"plan_id":                      sub.PlanID,
		"external_subscription_id":     sub.ExternalSubscriptionID,
		"external_customer_id":         sub.ExternalCustomerID,
		"status":                       sub.Status,
		"current_price":                sub.CurrentPrice,
		"currency":                     sub.Currency,
		"next_billing_date":            sub.NextBillingDate,
		"last_payment_date":            sub.LastPaymentDate,
		"last_payment_error":           sub.LastPaymentError,
		"failed_payment_attempt_count": sub.FailedPaymentAttemptCount,
		"trial_end_date":               sub.TrialEndDate,
		"billing_anchor":               sub.BillingAnchor,
		"last_synced_at":               sub.LastSyncedAt,
		"version":                      expected + 1,
	}
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, expected).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return errs.ErrConflict
	}
	sub.Version = expected + 1
	return nil
}

// CreateBillingRecord creates a financial event row for a subscription
func (r *subscriptionRepository) CreateBillingRecord(rec *models.BillingRecord) error {
	return r.db.Create(rec).Error
}

// GetBillingRecordByID retrieves a billing record by its primary key
func (r *subscriptionRepository) GetBillingRecordByID(id uint) (*models.BillingRecord, error) {
	var rec models.BillingRecord
	err := r.db.First(&rec, id).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &rec, nil
}

// FindBillingRecordByInvoiceID resolves a processor invoice id to the local record
func (r *subscriptionRepository) FindBillingRecordByInvoiceID(externalInvoiceID string) (*models.BillingRecord, error) {
	trimmed := strings.TrimSpace(externalInvoiceID)
	if trimmed == "" {
		return nil, errs.ErrNotFound
	}
	var rec models.BillingRecord
	err := r.db.Where("external_invoice_id = ?", trimmed).First(&rec).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &rec, nil
}

// ListBillingRecords returns the billing history of a subscription
func (r *subscriptionRepository) ListBillingRecords(subscriptionID uint) ([]models.BillingRecord, error) {
	var recs []models.BillingRecord
	err := r.db.Where("subscription_id = ?", subscriptionID).Order("billed_at DESC").Find(&recs).Error
	return recs, err
}

// UpdateBillingRecord persists changes to a billing record
func (r *subscriptionRepository) UpdateBillingRecord(rec *models.BillingRecord) error {
	return r.db.Save(rec).Error
}

// GetPrivilegeUsage returns the usage row whose window contains the given
// instant, or errs.ErrNotFound when no window is open yet.
func (r *subscriptionRepository) GetPrivilegeUsage(subscriptionID uint, privilege string, interval string, at time.Time) (*models.PrivilegeUsage, error) {
	var usage models.PrivilegeUsage
	err := r.db.
		Where("subscription_id = ? AND privilege = ? AND `interval` = ?", subscriptionID, privilege, interval).
		Where("window_start <= ? AND window_end > ?", at, at).
		First(&usage).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &usage, nil
}

// SavePrivilegeUsage creates or updates a privilege usage row
func (r *subscriptionRepository) SavePrivilegeUsage(usage *models.PrivilegeUsage) error {
	return r.db.Save(usage).Error
}

// SavePrivilegeUsages writes all usage windows in one transaction so a partial
// failure never leaves some windows incremented and others not.
func (r *subscriptionRepository) SavePrivilegeUsages(usages []*models.PrivilegeUsage) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, usage := range usages {
			if err := tx.Save(usage).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePrivilegeUsages removes all usage windows of a subscription. Used when
// a plan change resets plan-dependent windows.
func (r *subscriptionRepository) DeletePrivilegeUsages(subscriptionID uint) error {
	return r.db.Where("subscription_id = ?", subscriptionID).Delete(&models.PrivilegeUsage{}).Error
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrNotFound
	}
	return err
}
