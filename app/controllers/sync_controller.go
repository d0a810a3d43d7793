package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/usercontext"
)

// HandleSyncValidate compares one entity against the processor and reports
// the field-level discrepancies without repairing.
func HandleSyncValidate(c *fiber.Ctx) error {
	entityType := c.Params("entityType")
	id, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	discrepancies, err := getEngine().reconciler.Validate(ctx, entityType, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"entity_type":   entityType,
		"entity_id":     id,
		"in_sync":       len(discrepancies) == 0,
		"discrepancies": discrepancies,
	})
}

// HandleSyncRepair re-validates and repairs each discrepant field
// independently, reporting per-field outcomes.
func HandleSyncRepair(c *fiber.Ctx) error {
	entityType := c.Params("entityType")
	id, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := getEngine().reconciler.Repair(ctx, entityType, id)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Sync] %s repaired %s %d: %d fields", usercontext.GetUsername(c), entityType, id, len(result.Fields))
	return c.JSON(result)
}

// HandleRunRecurringBilling triggers a billing scan outside the cron cadence.
func HandleRunRecurringBilling(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := getEngine().orchestrator.ProcessRecurringBilling(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}

// HandleRenewSubscription forces a renewal attempt for one subscription.
// Idempotent before the next billing date.
func HandleRenewSubscription(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := getEngine().orchestrator.Renew(ctx, id); err != nil {
		return respondError(c, err)
	}
	sub, err := repository.GetGlobalFactory().GetSubscriptionRepository().GetByID(id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

type refundRequest struct {
	Amount float64 `json:"amount" validate:"omitempty,gt=0"`
}

// HandleRefundBillingRecord refunds a paid charge at the processor and
// amends the local record. Partial refunds accumulate up to the charge
// amount.
func HandleRefundBillingRecord(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	subs := repository.GetGlobalFactory().GetSubscriptionRepository()
	rec, err := subs.GetBillingRecordByID(id)
	if err != nil {
		return respondError(c, err)
	}
	if rec.Status != models.BillingRecordStatusPaid && rec.Status != models.BillingRecordStatusRefunded {
		return respondError(c, errs.Validationf("billing record %d is %s, only paid charges refund", rec.ID, rec.Status))
	}
	if rec.ExternalInvoiceID == "" {
		return respondError(c, errs.Validationf("billing record %d has no processor invoice", rec.ID))
	}

	var req refundRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, errs.Validationf("invalid request body"))
		}
	}
	amount := req.Amount
	if amount == 0 {
		amount = rec.Amount - rec.RefundedAmount
	}
	if amount <= 0 || rec.RefundedAmount+amount > rec.Amount {
		return respondError(c, errs.Validationf("refund of %.2f exceeds refundable %.2f", amount, rec.Amount-rec.RefundedAmount))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	refund, err := getEngine().gateway.Refund(ctx, rec.ExternalInvoiceID, payproc.DecimalToMinor(amount))
	if err != nil {
		return respondError(c, err)
	}

	rec.RefundedAmount += amount
	if rec.RefundedAmount >= rec.Amount {
		rec.Status = models.BillingRecordStatusRefunded
	}
	if err := subs.UpdateBillingRecord(rec); err != nil {
		return respondError(c, err)
	}

	log.Infof("[Billing] %s refunded %.2f on record %d (processor refund %s)",
		usercontext.GetUsername(c), amount, rec.ID, refund.ID)
	return c.JSON(fiber.Map{"billing_record": rec, "refund_id": refund.ID})
}

// HandleListWebhookEvents pages stored deliveries for operators.
func HandleListWebhookEvents(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	events, err := repository.GetGlobalFactory().GetWebhookEventRepository().List(offset, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"events": events, "offset": offset, "limit": limit})
}
