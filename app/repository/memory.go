package repository

import (
	"strings"
	"sync"
	"time"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
)

// In-memory repository implementations. They back unit tests of the lifecycle
// machine, webhook pipeline, ledger and orchestrator without a database, and
// honor the same contracts as the GORM implementations, including the
// optimistic-concurrency check.

// MemorySubscriptionRepository is an in-memory SubscriptionRepository.
type MemorySubscriptionRepository struct {
	mu          sync.Mutex
	subs        map[uint]models.Subscription
	records     map[uint]models.BillingRecord
	usages      map[uint]models.PrivilegeUsage
	nextSubID   uint
	nextRecID   uint
	nextUsageID uint
}

// NewMemorySubscriptionRepository creates an empty in-memory repository.
func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{
		subs:    make(map[uint]models.Subscription),
		records: make(map[uint]models.BillingRecord),
		usages:  make(map[uint]models.PrivilegeUsage),
	}
}

func (r *MemorySubscriptionRepository) Create(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubID++
	sub.ID = r.nextSubID
	if sub.Version == 0 {
		sub.Version = 1
	}
	r.subs[sub.ID] = *sub
	return nil
}

func (r *MemorySubscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := sub
	return &cp, nil
}

func (r *MemorySubscriptionRepository) GetByUUID(uuid string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.UUID == uuid {
			cp := sub
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *MemorySubscriptionRepository) FindByExternalID(externalID string) (*models.Subscription, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, errs.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ExternalSubscriptionID != nil && *sub.ExternalSubscriptionID == trimmed {
			cp := sub
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *MemorySubscriptionRepository) ListByUser(userID uint) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *MemorySubscriptionRepository) ListDueForBilling(now time.Time) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.NextBillingDate == nil || sub.NextBillingDate.After(now) {
			continue
		}
		if sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusTrialActive {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *MemorySubscriptionRepository) UpdateWithVersion(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.subs[sub.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if stored.Version != sub.Version {
		return errs.ErrConflict
	}
	sub.Version++
	r.subs[sub.ID] = *sub
	return nil
}

func (r *MemorySubscriptionRepository) CreateBillingRecord(rec *models.BillingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRecID++
	rec.ID = r.nextRecID
	r.records[rec.ID] = *rec
	return nil
}

func (r *MemorySubscriptionRepository) GetBillingRecordByID(id uint) (*models.BillingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := rec
	return &cp, nil
}

func (r *MemorySubscriptionRepository) FindBillingRecordByInvoiceID(externalInvoiceID string) (*models.BillingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ExternalInvoiceID == externalInvoiceID && externalInvoiceID != "" {
			cp := rec
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *MemorySubscriptionRepository) ListBillingRecords(subscriptionID uint) ([]models.BillingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingRecord
	for _, rec := range r.records {
		if rec.SubscriptionID == subscriptionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *MemorySubscriptionRepository) UpdateBillingRecord(rec *models.BillingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; !ok {
		return errs.ErrNotFound
	}
	r.records[rec.ID] = *rec
	return nil
}

func (r *MemorySubscriptionRepository) GetPrivilegeUsage(subscriptionID uint, privilege string, interval string, at time.Time) (*models.PrivilegeUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, usage := range r.usages {
		if usage.SubscriptionID != subscriptionID || usage.Privilege != privilege || usage.Interval != interval {
			continue
		}
		if !usage.WindowStart.After(at) && usage.WindowEnd.After(at) {
			cp := usage
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *MemorySubscriptionRepository) SavePrivilegeUsage(usage *models.PrivilegeUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if usage.ID == 0 {
		r.nextUsageID++
		usage.ID = r.nextUsageID
	}
	r.usages[usage.ID] = *usage
	return nil
}

func (r *MemorySubscriptionRepository) SavePrivilegeUsages(usages []*models.PrivilegeUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, usage := range usages {
		if usage.ID == 0 {
			r.nextUsageID++
			usage.ID = r.nextUsageID
		}
		r.usages[usage.ID] = *usage
	}
	return nil
}

func (r *MemorySubscriptionRepository) DeletePrivilegeUsages(subscriptionID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, usage := range r.usages {
		if usage.SubscriptionID == subscriptionID {
			delete(r.usages, id)
		}
	}
	return nil
}

// MemoryWebhookEventRepository is an in-memory WebhookEventRepository.
type MemoryWebhookEventRepository struct {
	mu     sync.Mutex
	events map[string]models.ProcessorWebhookEvent
	nextID uint
}

// NewMemoryWebhookEventRepository creates an empty in-memory repository.
func NewMemoryWebhookEventRepository() *MemoryWebhookEventRepository {
	return &MemoryWebhookEventRepository{events: make(map[string]models.ProcessorWebhookEvent)}
}

func (r *MemoryWebhookEventRepository) CreateIfNotExists(event *models.ProcessorWebhookEvent) (bool, *models.ProcessorWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "|" + event.DeliveryID
	if stored, ok := r.events[key]; ok {
		cp := stored
		return false, &cp, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[key] = *event
	cp := *event
	return true, &cp, nil
}

func (r *MemoryWebhookEventRepository) MarkProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for key, ev := range r.events {
		if ev.ID == id {
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			r.events[key] = ev
			return nil
		}
	}
	return errs.ErrNotFound
}

func (r *MemoryWebhookEventRepository) RecordFailure(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, ev := range r.events {
		if ev.ID == id {
			ev.ProcessingError = processingError
			r.events[key] = ev
			return nil
		}
	}
	return errs.ErrNotFound
}

func (r *MemoryWebhookEventRepository) List(offset, limit int) ([]models.ProcessorWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProcessorWebhookEvent
	for _, ev := range r.events {
		out = append(out, ev)
	}
	return out, nil
}

// MemoryPlanRepository is an in-memory PlanRepository.
type MemoryPlanRepository struct {
	mu     sync.Mutex
	plans  map[uint]models.Plan
	nextID uint
}

// NewMemoryPlanRepository creates an empty in-memory repository.
func NewMemoryPlanRepository() *MemoryPlanRepository {
	return &MemoryPlanRepository{plans: make(map[uint]models.Plan)}
}

func (r *MemoryPlanRepository) Create(plan *models.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if plan.ID == 0 {
		r.nextID++
		plan.ID = r.nextID
	} else if plan.ID > r.nextID {
		r.nextID = plan.ID
	}
	r.plans[plan.ID] = *plan
	return nil
}

func (r *MemoryPlanRepository) GetByID(id uint) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := plan
	return &cp, nil
}

func (r *MemoryPlanRepository) GetByExternalID(externalID string) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, plan := range r.plans {
		if plan.ExternalPlanID == externalID && externalID != "" {
			cp := plan
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *MemoryPlanRepository) ListActive() ([]models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Plan
	for _, plan := range r.plans {
		if plan.IsActive {
			out = append(out, plan)
		}
	}
	return out, nil
}

func (r *MemoryPlanRepository) Update(plan *models.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[plan.ID]; !ok {
		return errs.ErrNotFound
	}
	r.plans[plan.ID] = *plan
	return nil
}
