package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/procsync"
)

// BillingReport summarizes one recurring billing run.
type BillingReport struct {
	Scanned   int `json:"scanned"`
	Charged   int `json:"charged"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Erroneous int `json:"erroneous"`
}

// PlanChangeResult reports a completed plan change with its proration.
type PlanChangeResult struct {
	SubscriptionID   uint    `json:"subscription_id"`
	OldPlanID        uint    `json:"old_plan_id"`
	NewPlanID        uint    `json:"new_plan_id"`
	ProratedAmount   float64 `json:"prorated_amount"`
	AdjustmentStatus string  `json:"adjustment_status"`
}

// Orchestrator drives renewals, plan changes and recurring billing. Charge
// outcomes are routed through the webhook pipeline's payment handlers so the
// transition logic has a single source.
type Orchestrator struct {
	gateway  payproc.Gateway
	subs     repository.SubscriptionRepository
	plans    repository.PlanRepository
	pipeline *procsync.Pipeline

	now func() time.Time
}

// NewOrchestrator creates a billing orchestrator.
func NewOrchestrator(
	gateway payproc.Gateway,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	pipeline *procsync.Pipeline,
) *Orchestrator {
	return &Orchestrator{gateway: gateway, subs: subs, plans: plans, pipeline: pipeline, now: time.Now}
}

// ProcessRecurringBilling charges every subscription whose next billing date
// has arrived. One subscription failing never stops the scan.
func (o *Orchestrator) ProcessRecurringBilling(ctx context.Context) (*BillingReport, error) {
	now := o.now()
	due, err := o.subs.ListDueForBilling(now)
	if err != nil {
		return nil, err
	}

	report := &BillingReport{Scanned: len(due)}
	for i := range due {
		sub := &due[i]
		outcome, err := o.chargeSubscription(ctx, sub)
		switch {
		case err != nil:
			report.Erroneous++
			log.Errorf("[Orchestrator] Billing subscription %d failed: %v", sub.ID, err)
		case outcome == outcomeSkipped:
			report.Skipped++
		case outcome == outcomeCharged:
			report.Charged++
		default:
			report.Failed++
		}
	}
	log.Infof("[Orchestrator] Recurring billing run: %d scanned, %d charged, %d failed, %d skipped, %d errors",
		report.Scanned, report.Charged, report.Failed, report.Skipped, report.Erroneous)
	return report, nil
}

// Renew charges one subscription now. Idempotent: before the next billing
// date it is a no-op, not an error.
func (o *Orchestrator) Renew(ctx context.Context, subscriptionID uint) error {
	sub, err := o.subs.GetByID(subscriptionID)
	if err != nil {
		return err
	}
	if sub.NextBillingDate != nil && sub.NextBillingDate.After(o.now()) {
		return nil
	}
	if !sub.IsBillable() {
		return errs.Validationf("subscription %d is %s, not renewable", sub.ID, sub.Status)
	}
	_, err = o.chargeSubscription(ctx, sub)
	return err
}

// ChangePlan moves a subscription to a new plan with linear proration of the
// price difference over the remaining period. Privilege windows depend on the
// plan's limits and are reset.
func (o *Orchestrator) ChangePlan(ctx context.Context, subscriptionID uint, newPlanID uint) (*PlanChangeResult, error) {
	sub, err := o.subs.GetByID(subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsBillable() {
		return nil, errs.Validationf("subscription %d is %s, plan cannot change", sub.ID, sub.Status)
	}
	if sub.PlanID == newPlanID {
		return nil, errs.Validationf("subscription %d already on plan %d", sub.ID, newPlanID)
	}

	oldPlan, err := o.plans.GetByID(sub.PlanID)
	if err != nil {
		return nil, err
	}
	newPlan, err := o.plans.GetByID(newPlanID)
	if err != nil {
		return nil, err
	}
	if !newPlan.IsActive {
		return nil, errs.Validationf("plan %d is not purchasable", newPlanID)
	}

	now := o.now()
	amount := Prorate(sub.CurrentPrice, newPlan.Price, remainingDays(sub, now), oldPlan.IntervalDays)

	result := &PlanChangeResult{
		SubscriptionID: sub.ID,
		OldPlanID:      sub.PlanID,
		NewPlanID:      newPlanID,
		ProratedAmount: amount,
	}

	// Upgrades are invoiced through the gateway; downgrades are recorded as a
	// local credit adjustment applied against the next invoice.
	record := &models.BillingRecord{
		SubscriptionID: sub.ID,
		Type:           models.BillingRecordTypeAdjustment,
		Amount:         amount,
		Currency:       sub.Currency,
		BilledAt:       now,
	}
	if amount > 0 && sub.ExternalSubscriptionID != nil {
		invoice, err := o.gateway.ChargeInvoice(ctx, *sub.ExternalSubscriptionID, payproc.DecimalToMinor(amount), sub.Currency)
		if err != nil {
			return nil, fmt.Errorf("prorated charge for subscription %d: %w", sub.ID, err)
		}
		record.ExternalInvoiceID = invoice.ID
		record.Status = models.BillingRecordStatusPaid
		record.PaidAt = &now
		result.AdjustmentStatus = invoice.Status
	} else {
		record.Status = models.BillingRecordStatusPaid
		record.PaidAt = &now
		result.AdjustmentStatus = "credited"
	}
	if err := o.subs.CreateBillingRecord(record); err != nil {
		return nil, err
	}

	sub.PlanID = newPlanID
	sub.CurrentPrice = newPlan.Price
	if err := o.subs.UpdateWithVersion(sub); err != nil {
		return nil, err
	}

	if err := o.subs.DeletePrivilegeUsages(sub.ID); err != nil {
		log.Errorf("[Orchestrator] Resetting privilege windows for subscription %d failed: %v", sub.ID, err)
	}
	return result, nil
}

type chargeOutcome int

const (
	outcomeCharged chargeOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// chargeSubscription attempts one charge and feeds the outcome to the
// pipeline's payment handlers as a synthetic event. The handlers dedupe by
// invoice id, so a later webhook for the same invoice is harmless.
func (o *Orchestrator) chargeSubscription(ctx context.Context, sub *models.Subscription) (chargeOutcome, error) {
	if sub.ExternalSubscriptionID == nil {
		log.Warnf("[Orchestrator] Subscription %d has no external link, skipping charge", sub.ID)
		return outcomeSkipped, nil
	}

	invoice, err := o.gateway.ChargeInvoice(ctx, *sub.ExternalSubscriptionID, payproc.DecimalToMinor(sub.CurrentPrice), sub.Currency)
	if err != nil {
		return outcomeFailed, fmt.Errorf("charging subscription %d: %w", sub.ID, err)
	}

	event := o.outcomeEvent(sub, invoice)
	if err := o.pipeline.Dispatch(ctx, event); err != nil {
		return outcomeFailed, fmt.Errorf("applying charge outcome for subscription %d: %w", sub.ID, err)
	}
	if event.Type == procsync.EventPaymentSucceeded {
		return outcomeCharged, nil
	}
	return outcomeFailed, nil
}

func (o *Orchestrator) outcomeEvent(sub *models.Subscription, invoice *payproc.Invoice) *procsync.Event {
	eventType := procsync.EventPaymentFailed
	if invoice.Status == "paid" {
		eventType = procsync.EventPaymentSucceeded
	}
	periodEnd := nextPeriodEnd(sub, o.now(), o.intervalDaysFor(sub))
	return &procsync.Event{
		DeliveryID: "local-" + uuid.NewString(),
		Type:       eventType,
		CreatedAt:  o.now(),
		Payment: &procsync.PaymentPayload{
			SubscriptionID: *sub.ExternalSubscriptionID,
			InvoiceID:      invoice.ID,
			AmountMinor:    invoice.AmountMinor,
			Currency:       invoice.Currency,
			FailureMessage: invoice.FailureMessage,
			PeriodEnd:      &periodEnd,
		},
	}
}

// Prorate computes the linear proration charge (positive) or credit
// (negative) for changing price mid-period, rounded to cents.
func Prorate(oldPrice, newPrice float64, remainingDays, periodDays int) float64 {
	if periodDays <= 0 {
		return 0
	}
	if remainingDays < 0 {
		remainingDays = 0
	}
	if remainingDays > periodDays {
		remainingDays = periodDays
	}
	raw := float64(remainingDays) / float64(periodDays) * (newPrice - oldPrice)
	return math.Round(raw*100) / 100
}

func remainingDays(sub *models.Subscription, now time.Time) int {
	if sub.NextBillingDate == nil {
		return 0
	}
	remaining := sub.NextBillingDate.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Round(remaining.Hours() / 24))
}

// nextPeriodEnd is provisional; the authoritative period end arrives with
// the processor's own payment_succeeded webhook and overwrites it.
func nextPeriodEnd(sub *models.Subscription, now time.Time, intervalDays int) time.Time {
	if sub.NextBillingDate != nil {
		return sub.NextBillingDate.AddDate(0, 0, intervalDays)
	}
	return now.AddDate(0, 0, intervalDays)
}

func (o *Orchestrator) intervalDaysFor(sub *models.Subscription) int {
	if plan, err := o.plans.GetByID(sub.PlanID); err == nil && plan.IntervalDays > 0 {
		return plan.IntervalDays
	}
	return 30
}
