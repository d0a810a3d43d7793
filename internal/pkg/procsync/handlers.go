package procsync

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/audit"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
)

// handleSubscriptionUpsert applies price/status/next-billing-date changes from
// subscription_created and subscription_updated events. Events older than the
// stored sync point are discarded: webhook delivery order is not guaranteed.
func (p *Pipeline) handleSubscriptionUpsert(ctx context.Context, event *Event) error {
	payload := event.Subscription
	sub, tracked, err := p.findTracked(payload.ExternalID)
	if err != nil || !tracked {
		return err
	}

	if sub.LastSyncedAt != nil && event.CreatedAt.Before(*sub.LastSyncedAt) {
		log.Infof("[ProcSync] Discarding stale %s for subscription %d (event %s predates last sync %s)",
			event.Type, sub.ID, event.CreatedAt.Format(time.RFC3339), sub.LastSyncedAt.Format(time.RFC3339))
		return nil
	}

	target := MapExternalStatus(payload.Status)
	price := payproc.MinorToDecimal(payload.PriceMinor)
	planID := p.localPlanID(sub, payload.PlanID)

	// Idempotent no-op: replaying this mutation would change nothing.
	if sub.Status == target && sub.CurrentPrice == price && sub.PlanID == planID && samePeriodEnd(sub.NextBillingDate, payload.CurrentPeriodEnd) {
		return nil
	}

	sub.PlanID = planID
	sub.CurrentPrice = price
	if payload.Currency != "" {
		sub.Currency = payload.Currency
	}
	if payload.CurrentPeriodEnd != nil {
		sub.NextBillingDate = payload.CurrentPeriodEnd
	}
	if payload.TrialEnd != nil {
		sub.TrialEndDate = payload.TrialEnd
	}
	syncedAt := event.CreatedAt
	sub.LastSyncedAt = &syncedAt

	if sub.Status == target {
		return p.subs.UpdateWithVersion(sub)
	}
	_, err = p.machine.Apply(ctx, sub, target, "synced from processor "+event.Type)
	return err
}

// handleSubscriptionDeleted cancels the matched subscription.
func (p *Pipeline) handleSubscriptionDeleted(ctx context.Context, event *Event) error {
	sub, tracked, err := p.findTracked(event.Subscription.ExternalID)
	if err != nil || !tracked {
		return err
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}
	syncedAt := event.CreatedAt
	sub.LastSyncedAt = &syncedAt
	_, err = p.machine.Apply(ctx, sub, models.SubscriptionStatusCancelled, "cancelled via processor")
	return err
}

// handlePaymentSucceeded records a paid billing record, resets the failure
// counter and activates the subscription. The invoice id dedupes replays.
func (p *Pipeline) handlePaymentSucceeded(ctx context.Context, event *Event) error {
	payload := event.Payment
	sub, tracked, err := p.findTracked(payload.SubscriptionID)
	if err != nil || !tracked {
		return err
	}

	if _, err := p.subs.FindBillingRecordByInvoiceID(payload.InvoiceID); err == nil {
		return nil
	}

	now := time.Now()
	if err := p.subs.CreateBillingRecord(&models.BillingRecord{
		SubscriptionID:    sub.ID,
		Type:              models.BillingRecordTypeCharge,
		Status:            models.BillingRecordStatusPaid,
		Amount:            payproc.MinorToDecimal(payload.AmountMinor),
		Currency:          defaultCurrency(payload.Currency, sub.Currency),
		ExternalInvoiceID: payload.InvoiceID,
		BilledAt:          event.CreatedAt,
		PaidAt:            &now,
	}); err != nil {
		return err
	}

	sub.LastPaymentDate = &now
	sub.LastPaymentError = ""
	if payload.PeriodEnd != nil {
		sub.NextBillingDate = payload.PeriodEnd
	}
	syncedAt := event.CreatedAt
	sub.LastSyncedAt = &syncedAt

	if sub.Status == models.SubscriptionStatusActive {
		sub.FailedPaymentAttemptCount = 0
		return p.subs.UpdateWithVersion(sub)
	}
	_, err = p.machine.Apply(ctx, sub, models.SubscriptionStatusActive, "payment succeeded")
	return err
}

// handlePaymentFailed records a failed billing record and routes the failure
// through the state machine, which owns the suspension policy.
func (p *Pipeline) handlePaymentFailed(ctx context.Context, event *Event) error {
	payload := event.Payment
	sub, tracked, err := p.findTracked(payload.SubscriptionID)
	if err != nil || !tracked {
		return err
	}

	if _, err := p.subs.FindBillingRecordByInvoiceID(payload.InvoiceID); err == nil {
		return nil
	}

	if err := p.subs.CreateBillingRecord(&models.BillingRecord{
		SubscriptionID:    sub.ID,
		Type:              models.BillingRecordTypeCharge,
		Status:            models.BillingRecordStatusFailed,
		Amount:            payproc.MinorToDecimal(payload.AmountMinor),
		Currency:          defaultCurrency(payload.Currency, sub.Currency),
		ExternalInvoiceID: payload.InvoiceID,
		FailureMessage:    payload.FailureMessage,
		BilledAt:          event.CreatedAt,
	}); err != nil {
		return err
	}

	sub.LastPaymentError = payload.FailureMessage
	syncedAt := event.CreatedAt
	sub.LastSyncedAt = &syncedAt

	_, err = p.machine.Apply(ctx, sub, models.SubscriptionStatusPaymentFailed, "payment failed")
	return err
}

// handlePaymentActionRequired notifies the user and parks the subscription
// until the payment is confirmed.
func (p *Pipeline) handlePaymentActionRequired(ctx context.Context, event *Event) error {
	sub, tracked, err := p.findTracked(event.Payment.SubscriptionID)
	if err != nil || !tracked {
		return err
	}
	if sub.Status == models.SubscriptionStatusPaymentActionNeeded {
		return nil
	}
	syncedAt := event.CreatedAt
	sub.LastSyncedAt = &syncedAt
	_, err = p.machine.Apply(ctx, sub, models.SubscriptionStatusPaymentActionNeeded, "payment action required")
	return err
}

// handleTrialWillEnd notifies the user; no state change.
func (p *Pipeline) handleTrialWillEnd(ctx context.Context, event *Event) error {
	sub, tracked, err := p.findTracked(event.Subscription.ExternalID)
	if err != nil || !tracked {
		return err
	}
	p.notifier.Notify(ctx, sub.UserID, models.NotificationTrialWillEnd, map[string]string{
		"subscription_id": fmt.Sprint(sub.ID),
	})
	return nil
}

// handleCustomerEvent audit-logs only. Customer lifecycle is managed locally
// at registration time.
func (p *Pipeline) handleCustomerEvent(ctx context.Context, event *Event) error {
	if err := p.auditor.Record(ctx, audit.Entry{
		Actor:      "processor",
		Action:     event.Type,
		EntityType: "customer",
		EntityID:   event.Customer.ExternalID,
		After:      event.Customer,
	}); err != nil {
		log.Errorf("[ProcSync] Audit write failed for %s: %v", event.Type, err)
	}
	return nil
}

// localPlanID maps the processor's plan id onto a local plan. Unknown
// external plans keep the stored plan id; the reconciliation service surfaces
// the mismatch.
func (p *Pipeline) localPlanID(sub *models.Subscription, externalPlanID string) uint {
	if externalPlanID == "" {
		return sub.PlanID
	}
	plan, err := p.plans.GetByExternalID(externalPlanID)
	if err != nil {
		return sub.PlanID
	}
	return plan.ID
}

func samePeriodEnd(local *time.Time, external *time.Time) bool {
	if external == nil {
		return true
	}
	return local != nil && local.Equal(*external)
}

func defaultCurrency(eventCurrency, subCurrency string) string {
	if eventCurrency != "" {
		return eventCurrency
	}
	return subCurrency
}
