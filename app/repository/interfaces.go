package repository

import (
	"time"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	Update(user *models.User) error
}

// PlanRepository defines the interface for plan-related database operations
type PlanRepository interface {
	Create(plan *models.Plan) error
	GetByID(id uint) (*models.Plan, error)
	GetByExternalID(externalID string) (*models.Plan, error)
	ListActive() ([]models.Plan, error)
	Update(plan *models.Plan) error
}

// SubscriptionRepository owns subscriptions together with their lifetime-bound
// billing records and privilege usage rows. Subscription updates go through
// UpdateWithVersion, which enforces optimistic concurrency.
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	GetByUUID(uuid string) (*models.Subscription, error)
	FindByExternalID(externalID string) (*models.Subscription, error)
	ListByUser(userID uint) ([]models.Subscription, error)
	ListDueForBilling(now time.Time) ([]models.Subscription, error)
	// UpdateWithVersion persists the subscription only if the stored version
	// still matches sub.Version, then bumps the version. A lost race returns
	// errs.ErrConflict and leaves the row untouched.
	UpdateWithVersion(sub *models.Subscription) error

	CreateBillingRecord(rec *models.BillingRecord) error
	GetBillingRecordByID(id uint) (*models.BillingRecord, error)
	FindBillingRecordByInvoiceID(externalInvoiceID string) (*models.BillingRecord, error)
	ListBillingRecords(subscriptionID uint) ([]models.BillingRecord, error)
	UpdateBillingRecord(rec *models.BillingRecord) error

	GetPrivilegeUsage(subscriptionID uint, privilege string, interval string, at time.Time) (*models.PrivilegeUsage, error)
	SavePrivilegeUsage(usage *models.PrivilegeUsage) error
	// SavePrivilegeUsages persists the rows atomically: either every window
	// lands or none does.
	SavePrivilegeUsages(usages []*models.PrivilegeUsage) error
	DeletePrivilegeUsages(subscriptionID uint) error
}

// WebhookEventRepository persists processor webhook deliveries for idempotent
// processing.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.ProcessorWebhookEvent) (bool, *models.ProcessorWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
	// RecordFailure stores the last processing error while leaving the event
	// unprocessed, so a later redelivery is retried rather than acknowledged.
	RecordFailure(id uint, processingError string) error
	List(offset, limit int) ([]models.ProcessorWebhookEvent, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Plan         PlanRepository
	Subscription SubscriptionRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Plan:         NewPlanRepository(db),
		Subscription: NewSubscriptionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
