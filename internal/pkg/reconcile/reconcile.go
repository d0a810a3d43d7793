package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/audit"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/lifecycle"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/procsync"
)

// Entity types accepted by Validate and Repair.
const (
	EntitySubscription = "subscription"
	EntityPlan         = "plan"
	EntityCustomer     = "customer"
)

// Discrepancy severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Discrepancy is one field-level disagreement between the local record and
// the processor's view of the same entity. Ephemeral: produced per run, never
// persisted.
type Discrepancy struct {
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Field         string `json:"field"`
	LocalValue    string `json:"local_value"`
	ExternalValue string `json:"external_value"`
	Severity      string `json:"severity"`
}

// FieldRepair reports the outcome of repairing one discrepant field.
// Direction says which side was taken as authoritative.
type FieldRepair struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
	Repaired  bool   `json:"repaired"`
	Error     string `json:"error,omitempty"`
}

// Directions a field repair can take.
const (
	DirectionPulled = "external_to_local"
	DirectionPushed = "local_to_external"
)

// RepairResult is the per-field report of one repair run. Repairs are
// independent; a failed field never rolls back the others.
type RepairResult struct {
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Fields     []FieldRepair `json:"fields"`
}

// Service detects and fixes drift between local records and the processor.
// The processor is authoritative for financial and status fields; the local
// system is authoritative for descriptive fields it owns and pushes them
// outward.
type Service struct {
	gateway payproc.Gateway
	subs    repository.SubscriptionRepository
	plans   repository.PlanRepository
	machine *lifecycle.Machine
	auditor audit.Sink
}

// NewService creates a reconciliation service.
func NewService(
	gateway payproc.Gateway,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	machine *lifecycle.Machine,
	auditor audit.Sink,
) *Service {
	return &Service{gateway: gateway, subs: subs, plans: plans, machine: machine, auditor: auditor}
}

// Validate compares both sides of one entity and reports every discrepant
// field without mutating anything. An unreachable processor surfaces as
// errs.ErrUpstreamUnavailable, never as an empty report.
func (s *Service) Validate(ctx context.Context, entityType string, id uint) ([]Discrepancy, error) {
	switch entityType {
	case EntitySubscription:
		return s.validateSubscription(ctx, id)
	case EntityPlan:
		return s.validatePlan(ctx, id)
	case EntityCustomer:
		return s.validateCustomer(ctx, id)
	default:
		return nil, errs.Validationf("unknown entity type %q", entityType)
	}
}

// Repair re-validates and fixes each discrepant field independently. Partial
// success is reported per field, not rolled back.
func (s *Service) Repair(ctx context.Context, entityType string, id uint) (*RepairResult, error) {
	discrepancies, err := s.Validate(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	result := &RepairResult{EntityType: entityType, EntityID: strconv.FormatUint(uint64(id), 10)}
	for _, d := range discrepancies {
		field := s.repairField(ctx, entityType, id, d)
		result.Fields = append(result.Fields, field)
		s.auditRepair(ctx, d, field)
	}
	return result, nil
}

func (s *Service) validateSubscription(ctx context.Context, id uint) ([]Discrepancy, error) {
	sub, err := s.subs.GetByID(id)
	if err != nil {
		return nil, err
	}
	entityID := strconv.FormatUint(uint64(id), 10)

	if sub.ExternalSubscriptionID == nil {
		return []Discrepancy{{
			EntityType:    EntitySubscription,
			EntityID:      entityID,
			Field:         "external_subscription_id",
			LocalValue:    "",
			ExternalValue: "unknown",
			Severity:      SeverityCritical,
		}}, nil
	}

	ext, err := s.gateway.GetSubscription(ctx, *sub.ExternalSubscriptionID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return []Discrepancy{{
				EntityType:    EntitySubscription,
				EntityID:      entityID,
				Field:         "existence",
				LocalValue:    sub.Status,
				ExternalValue: "missing",
				Severity:      SeverityCritical,
			}}, nil
		}
		return nil, upstreamErr("subscription", *sub.ExternalSubscriptionID, err)
	}

	var out []Discrepancy
	if mapped := procsync.MapExternalStatus(ext.Status); mapped != sub.Status {
		out = append(out, Discrepancy{
			EntityType: EntitySubscription, EntityID: entityID,
			Field: "status", LocalValue: sub.Status, ExternalValue: mapped,
			Severity: SeverityCritical,
		})
	}
	if extPrice := payproc.MinorToDecimal(ext.PriceMinor); extPrice != sub.CurrentPrice {
		out = append(out, Discrepancy{
			EntityType: EntitySubscription, EntityID: entityID,
			Field:      "current_price",
			LocalValue: formatAmount(sub.CurrentPrice), ExternalValue: formatAmount(extPrice),
			Severity: SeverityCritical,
		})
	}
	return out, nil
}

func (s *Service) validatePlan(ctx context.Context, id uint) ([]Discrepancy, error) {
	plan, err := s.plans.GetByID(id)
	if err != nil {
		return nil, err
	}
	entityID := strconv.FormatUint(uint64(id), 10)

	ext, err := s.gateway.GetPlan(ctx, plan.ExternalPlanID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return []Discrepancy{{
				EntityType: EntityPlan, EntityID: entityID,
				Field: "existence", LocalValue: plan.Name, ExternalValue: "missing",
				Severity: SeverityCritical,
			}}, nil
		}
		return nil, upstreamErr("plan", plan.ExternalPlanID, err)
	}

	var out []Discrepancy
	if extPrice := payproc.MinorToDecimal(ext.PriceMinor); extPrice != plan.Price {
		out = append(out, Discrepancy{
			EntityType: EntityPlan, EntityID: entityID,
			Field:      "price",
			LocalValue: formatAmount(plan.Price), ExternalValue: formatAmount(extPrice),
			Severity: SeverityCritical,
		})
	}
	if ext.Name != plan.Name {
		out = append(out, Discrepancy{
			EntityType: EntityPlan, EntityID: entityID,
			Field: "name", LocalValue: plan.Name, ExternalValue: ext.Name,
			Severity: SeverityWarning,
		})
	}
	if ext.Description != plan.Description {
		out = append(out, Discrepancy{
			EntityType: EntityPlan, EntityID: entityID,
			Field: "description", LocalValue: plan.Description, ExternalValue: ext.Description,
			Severity: SeverityWarning,
		})
	}
	return out, nil
}

// validateCustomer checks that the customer behind a subscription still
// exists at the processor. The id is the local subscription id.
func (s *Service) validateCustomer(ctx context.Context, id uint) ([]Discrepancy, error) {
	sub, err := s.subs.GetByID(id)
	if err != nil {
		return nil, err
	}
	entityID := strconv.FormatUint(uint64(id), 10)

	if sub.ExternalCustomerID == "" {
		return []Discrepancy{{
			EntityType: EntityCustomer, EntityID: entityID,
			Field: "external_customer_id", LocalValue: "", ExternalValue: "unknown",
			Severity: SeverityCritical,
		}}, nil
	}

	if _, err := s.gateway.GetCustomer(ctx, sub.ExternalCustomerID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return []Discrepancy{{
				EntityType: EntityCustomer, EntityID: entityID,
				Field: "existence", LocalValue: sub.ExternalCustomerID, ExternalValue: "missing",
				Severity: SeverityCritical,
			}}, nil
		}
		return nil, upstreamErr("customer", sub.ExternalCustomerID, err)
	}
	return nil, nil
}

func (s *Service) repairField(ctx context.Context, entityType string, id uint, d Discrepancy) FieldRepair {
	switch entityType {
	case EntitySubscription:
		return s.repairSubscriptionField(ctx, id, d)
	case EntityPlan:
		return s.repairPlanField(ctx, id, d)
	default:
		return FieldRepair{
			Field:     d.Field,
			Direction: DirectionPulled,
			Error:     fmt.Sprintf("no automatic repair for %s.%s", entityType, d.Field),
		}
	}
}

func (s *Service) repairSubscriptionField(ctx context.Context, id uint, d Discrepancy) FieldRepair {
	field := FieldRepair{Field: d.Field, Direction: DirectionPulled}

	sub, err := s.subs.GetByID(id)
	if err != nil {
		field.Error = err.Error()
		return field
	}

	switch d.Field {
	case "status":
		if _, err := s.machine.Sync(ctx, sub, d.ExternalValue, "reconciliation repair"); err != nil {
			field.Error = err.Error()
			return field
		}
	case "current_price":
		price, err := strconv.ParseFloat(d.ExternalValue, 64)
		if err != nil {
			field.Error = err.Error()
			return field
		}
		sub.CurrentPrice = price
		if err := s.subs.UpdateWithVersion(sub); err != nil {
			field.Error = err.Error()
			return field
		}
	default:
		field.Error = fmt.Sprintf("no automatic repair for subscription.%s", d.Field)
		return field
	}

	field.Repaired = true
	return field
}

func (s *Service) repairPlanField(ctx context.Context, id uint, d Discrepancy) FieldRepair {
	plan, err := s.plans.GetByID(id)
	if err != nil {
		return FieldRepair{Field: d.Field, Direction: DirectionPulled, Error: err.Error()}
	}

	switch d.Field {
	case "price":
		// Financial truth lives at the processor.
		field := FieldRepair{Field: d.Field, Direction: DirectionPulled}
		price, err := strconv.ParseFloat(d.ExternalValue, 64)
		if err != nil {
			field.Error = err.Error()
			return field
		}
		plan.Price = price
		if err := s.plans.Update(plan); err != nil {
			field.Error = err.Error()
			return field
		}
		field.Repaired = true
		return field
	case "name", "description":
		// Descriptive fields are owned locally and pushed outward.
		field := FieldRepair{Field: d.Field, Direction: DirectionPushed}
		if _, err := s.gateway.UpdatePlan(ctx, plan.ExternalPlanID, payproc.UpdatePlanParams{
			Name:        plan.Name,
			Description: plan.Description,
		}); err != nil {
			field.Error = err.Error()
			return field
		}
		field.Repaired = true
		return field
	default:
		return FieldRepair{
			Field:     d.Field,
			Direction: DirectionPulled,
			Error:     fmt.Sprintf("no automatic repair for plan.%s", d.Field),
		}
	}
}

func (s *Service) auditRepair(ctx context.Context, d Discrepancy, field FieldRepair) {
	if err := s.auditor.Record(ctx, audit.Entry{
		Actor:      "reconciliation",
		Action:     "sync.repair",
		EntityType: d.EntityType,
		EntityID:   d.EntityID,
		Before:     map[string]any{"field": d.Field, "local": d.LocalValue},
		After:      map[string]any{"external": d.ExternalValue, "repaired": field.Repaired, "error": field.Error},
	}); err != nil {
		log.Errorf("[Reconcile] Audit write failed for %s %s: %v", d.EntityType, d.EntityID, err)
	}
}

func upstreamErr(entity, externalID string, err error) error {
	if errs.IsRetryable(err) || errors.Is(err, errs.ErrUpstreamUnavailable) {
		return fmt.Errorf("%w: fetching %s %s: %v", errs.ErrUpstreamUnavailable, entity, externalID, err)
	}
	return err
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
