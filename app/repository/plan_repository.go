package repository

import (
	"strings"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"gorm.io/gorm"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

// Create creates a new plan in the database
func (r *planRepository) Create(plan *models.Plan) error {
	return r.db.Create(plan).Error
}

// GetByID retrieves a plan with its privileges preloaded
func (r *planRepository) GetByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Preload("Privileges").First(&plan, id).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &plan, nil
}

// GetByExternalID resolves a processor plan id to the local plan
func (r *planRepository) GetByExternalID(externalID string) (*models.Plan, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, errs.ErrNotFound
	}
	var plan models.Plan
	err := r.db.Preload("Privileges").Where("external_plan_id = ?", trimmed).First(&plan).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &plan, nil
}

// ListActive returns all purchasable plans
func (r *planRepository) ListActive() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Preload("Privileges").Where("is_active = ?", true).Find(&plans).Error
	return plans, err
}

// Update persists changes to a plan
func (r *planRepository) Update(plan *models.Plan) error {
	return r.db.Save(plan).Error
}
