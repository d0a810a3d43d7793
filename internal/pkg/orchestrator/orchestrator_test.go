package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/audit"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/lifecycle"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/notify"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/procsync"
)

// chargeGateway fakes the processor's invoicing. Each charge returns an
// invoice with the configured status.
type chargeGateway struct {
	invoiceStatus  string
	failureMessage string
	unreachable    bool
	charges        []int64
	nextInvoice    int
}

func (g *chargeGateway) ChargeInvoice(_ context.Context, subscriptionID string, amountMinor int64, currency string) (*payproc.Invoice, error) {
	if g.unreachable {
		return nil, errs.Transientf("connection refused")
	}
	g.charges = append(g.charges, amountMinor)
	g.nextInvoice++
	return &payproc.Invoice{
		ID:             fmt.Sprintf("in_%d", g.nextInvoice),
		SubscriptionID: subscriptionID,
		AmountMinor:    amountMinor,
		Currency:       currency,
		Status:         g.invoiceStatus,
		FailureMessage: g.failureMessage,
	}, nil
}

func (g *chargeGateway) CreateCustomer(context.Context, string, string) (*payproc.Customer, error) {
	return nil, errs.Validationf("not supported in fake")
}
func (g *chargeGateway) GetCustomer(context.Context, string) (*payproc.Customer, error) {
	return nil, errs.ErrNotFound
}
func (g *chargeGateway) CreateSubscription(context.Context, payproc.CreateSubscriptionParams) (*payproc.Subscription, error) {
	return nil, errs.Validationf("not supported in fake")
}
func (g *chargeGateway) GetSubscription(context.Context, string) (*payproc.Subscription, error) {
	return nil, errs.ErrNotFound
}
func (g *chargeGateway) CancelSubscription(context.Context, string) error { return nil }
func (g *chargeGateway) GetPlan(context.Context, string) (*payproc.Plan, error) {
	return nil, errs.ErrNotFound
}
func (g *chargeGateway) UpdatePlan(context.Context, string, payproc.UpdatePlanParams) (*payproc.Plan, error) {
	return nil, errs.Validationf("not supported in fake")
}
func (g *chargeGateway) ListPaymentMethods(context.Context, string) ([]payproc.PaymentMethod, error) {
	return nil, nil
}
func (g *chargeGateway) Refund(context.Context, string, int64) (*payproc.Refund, error) {
	return nil, errs.Validationf("not supported in fake")
}

func newTestOrchestrator(t *testing.T, gw *chargeGateway) (*Orchestrator, *repository.MemorySubscriptionRepository, *repository.MemoryPlanRepository) {
	t.Helper()
	subs := repository.NewMemorySubscriptionRepository()
	plans := repository.NewMemoryPlanRepository()
	machine := lifecycle.NewMachine(subs, audit.NopSink{}, notify.NopNotifier{}, lifecycle.Config{})
	pipeline := procsync.NewPipeline(procsync.Config{
		Provider:      "testproc",
		WebhookSecret: "whsec_test",
		RetryLimit:    1,
		RetryDelay:    time.Millisecond,
	}, subs, plans, repository.NewMemoryWebhookEventRepository(), machine, audit.NopSink{}, notify.NopNotifier{})
	return NewOrchestrator(gw, subs, plans, pipeline), subs, plans
}

func seedBillable(t *testing.T, subs *repository.MemorySubscriptionRepository, plans *repository.MemoryPlanRepository, due time.Time) *models.Subscription {
	t.Helper()
	plan := &models.Plan{Name: "Basic Care", Price: 10.00, Currency: "USD", IntervalDays: 30, IsActive: true}
	if err := plans.Create(plan); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	ext := "sub_1"
	sub := &models.Subscription{
		UserID:                 1,
		PlanID:                 plan.ID,
		ExternalSubscriptionID: &ext,
		Status:                 models.SubscriptionStatusActive,
		CurrentPrice:           10.00,
		Currency:               "USD",
		NextBillingDate:        &due,
		BillingAnchor:          time.Now().AddDate(0, -1, 0),
	}
	if err := subs.Create(sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func TestProrate(t *testing.T) {
	cases := []struct {
		name          string
		oldPrice      float64
		newPrice      float64
		remainingDays int
		periodDays    int
		want          float64
	}{
		{"upgrade mid-period", 10.00, 20.00, 15, 30, 5.00},
		{"downgrade mid-period", 20.00, 10.00, 15, 30, -5.00},
		{"full period remaining", 10.00, 20.00, 30, 30, 10.00},
		{"nothing remaining", 10.00, 20.00, 0, 30, 0},
		{"rounded to cents", 9.99, 19.99, 10, 30, 3.33},
		{"remaining clamped to period", 10.00, 20.00, 45, 30, 10.00},
		{"degenerate period", 10.00, 20.00, 15, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Prorate(tc.oldPrice, tc.newPrice, tc.remainingDays, tc.periodDays); got != tc.want {
				t.Fatalf("Prorate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProcessRecurringBillingChargesDue(t *testing.T) {
	gw := &chargeGateway{invoiceStatus: "paid"}
	orc, subs, plans := newTestOrchestrator(t, gw)
	sub := seedBillable(t, subs, plans, time.Now().Add(-time.Hour))

	report, err := orc.ProcessRecurringBilling(context.Background())
	if err != nil {
		t.Fatalf("ProcessRecurringBilling: %v", err)
	}
	if report.Scanned != 1 || report.Charged != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(gw.charges) != 1 || gw.charges[0] != 1000 {
		t.Fatalf("charges = %v, want one charge of 1000 minor units", gw.charges)
	}

	got, _ := subs.GetByID(sub.ID)
	if got.Status != models.SubscriptionStatusActive {
		t.Errorf("status = %q, want active", got.Status)
	}
	if got.NextBillingDate == nil || !got.NextBillingDate.After(time.Now()) {
		t.Errorf("next billing date not advanced: %v", got.NextBillingDate)
	}

	records, _ := subs.ListBillingRecords(sub.ID)
	if len(records) != 1 || records[0].Status != models.BillingRecordStatusPaid {
		t.Fatalf("billing records = %+v, want one paid charge", records)
	}
}

func TestProcessRecurringBillingRoutesFailures(t *testing.T) {
	gw := &chargeGateway{invoiceStatus: "failed", failureMessage: "card_declined"}
	orc, subs, plans := newTestOrchestrator(t, gw)
	sub := seedBillable(t, subs, plans, time.Now().Add(-time.Hour))

	report, err := orc.ProcessRecurringBilling(context.Background())
	if err != nil {
		t.Fatalf("ProcessRecurringBilling: %v", err)
	}
	if report.Failed != 1 || report.Charged != 0 {
		t.Fatalf("report = %+v", report)
	}

	got, _ := subs.GetByID(sub.ID)
	if got.Status != models.SubscriptionStatusPaymentFailed {
		t.Errorf("status = %q, want payment_failed", got.Status)
	}
	if got.FailedPaymentAttemptCount != 1 {
		t.Errorf("failure counter = %d, want 1", got.FailedPaymentAttemptCount)
	}
	if got.LastPaymentError != "card_declined" {
		t.Errorf("LastPaymentError = %q", got.LastPaymentError)
	}

	records, _ := subs.ListBillingRecords(sub.ID)
	if len(records) != 1 || records[0].Status != models.BillingRecordStatusFailed {
		t.Fatalf("billing records = %+v, want one failed charge", records)
	}
}

func TestProcessRecurringBillingToleratesUnreachableGateway(t *testing.T) {
	gw := &chargeGateway{unreachable: true}
	orc, subs, plans := newTestOrchestrator(t, gw)
	sub := seedBillable(t, subs, plans, time.Now().Add(-time.Hour))

	report, err := orc.ProcessRecurringBilling(context.Background())
	if err != nil {
		t.Fatalf("ProcessRecurringBilling: %v", err)
	}
	if report.Erroneous != 1 {
		t.Fatalf("report = %+v, want one erroneous", report)
	}

	got, _ := subs.GetByID(sub.ID)
	if got.Status != models.SubscriptionStatusActive {
		t.Fatalf("unreachable gateway mutated status to %q", got.Status)
	}
}

func TestRenewBeforeDueDateIsNoOp(t *testing.T) {
	gw := &chargeGateway{invoiceStatus: "paid"}
	orc, subs, plans := newTestOrchestrator(t, gw)
	sub := seedBillable(t, subs, plans, time.Now().Add(10*24*time.Hour))

	if err := orc.Renew(context.Background(), sub.ID); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if len(gw.charges) != 0 {
		t.Fatalf("early renew issued %d charges", len(gw.charges))
	}
}

func TestRenewWhenDueCharges(t *testing.T) {
	gw := &chargeGateway{invoiceStatus: "paid"}
	orc, subs, plans := newTestOrchestrator(t, gw)
	sub := seedBillable(t, subs, plans, time.Now().Add(-time.Hour))

	if err := orc.Renew(context.Background(), sub.ID); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if len(gw.charges) != 1 {
		t.Fatalf("charges = %d, want 1", len(gw.charges))
	}
}

func TestChangePlanProratesAndResets(t *testing.T) {
	gw := &chargeGateway{invoiceStatus: "paid"}
	orc, subs, plans := newTestOrchestrator(t, gw)
	due := time.Now().Add(15 * 24 * time.Hour)
	sub := seedBillable(t, subs, plans, due)

	newPlan := &models.Plan{Name: "Premium Care", Price: 20.00, Currency: "USD", IntervalDays: 30, IsActive: true}
	if err := plans.Create(newPlan); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	// Seed an open privilege window; the plan change must reset it.
	if err := subs.SavePrivilegeUsage(&models.PrivilegeUsage{
		SubscriptionID: sub.ID,
		Privilege:      "video_consultations",
		Interval:       models.PrivilegeIntervalMonthly,
		WindowStart:    time.Now().Add(-24 * time.Hour),
		WindowEnd:      time.Now().Add(29 * 24 * time.Hour),
		LimitValue:     4,
		Consumed:       2,
	}); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	result, err := orc.ChangePlan(context.Background(), sub.ID, newPlan.ID)
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if result.ProratedAmount != 5.00 {
		t.Fatalf("prorated amount = %v, want 5.00", result.ProratedAmount)
	}
	if len(gw.charges) != 1 || gw.charges[0] != 500 {
		t.Fatalf("charges = %v, want one adjustment of 500 minor units", gw.charges)
	}

	got, _ := subs.GetByID(sub.ID)
	if got.PlanID != newPlan.ID || got.CurrentPrice != 20.00 {
		t.Fatalf("subscription = plan %d price %v", got.PlanID, got.CurrentPrice)
	}

	if _, err := subs.GetPrivilegeUsage(sub.ID, "video_consultations", models.PrivilegeIntervalMonthly, time.Now()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("privilege windows not reset: %v", err)
	}

	records, _ := subs.ListBillingRecords(sub.ID)
	if len(records) != 1 || records[0].Type != models.BillingRecordTypeAdjustment {
		t.Fatalf("billing records = %+v, want one adjustment", records)
	}
}

func TestChangePlanDowngradeCreditsLocally(t *testing.T) {
	gw := &chargeGateway{invoiceStatus: "paid"}
	orc, subs, plans := newTestOrchestrator(t, gw)
	due := time.Now().Add(15 * 24 * time.Hour)
	sub := seedBillable(t, subs, plans, due)

	cheaper := &models.Plan{Name: "Lite Care", Price: 5.00, Currency: "USD", IntervalDays: 30, IsActive: true}
	if err := plans.Create(cheaper); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	result, err := orc.ChangePlan(context.Background(), sub.ID, cheaper.ID)
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if result.ProratedAmount != -2.50 {
		t.Fatalf("prorated amount = %v, want -2.50", result.ProratedAmount)
	}
	if len(gw.charges) != 0 {
		t.Fatalf("downgrade issued %d gateway charges, want none", len(gw.charges))
	}

	records, _ := subs.ListBillingRecords(sub.ID)
	if len(records) != 1 || records[0].Amount != -2.50 {
		t.Fatalf("billing records = %+v, want one -2.50 credit", records)
	}
}

func TestChangePlanValidation(t *testing.T) {
	gw := &chargeGateway{invoiceStatus: "paid"}
	orc, subs, plans := newTestOrchestrator(t, gw)
	sub := seedBillable(t, subs, plans, time.Now().Add(15*24*time.Hour))

	if _, err := orc.ChangePlan(context.Background(), sub.ID, sub.PlanID); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("same-plan change: err = %v, want ErrValidation", err)
	}

	sub.Status = models.SubscriptionStatusCancelled
	if err := subs.UpdateWithVersion(sub); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := orc.ChangePlan(context.Background(), sub.ID, 999); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("cancelled change: err = %v, want ErrValidation", err)
	}
}
