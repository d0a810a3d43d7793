package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
)

func newTestLedger(t *testing.T, grants []models.PlanPrivilege, status string) (*Ledger, *models.Subscription) {
	t.Helper()
	subs := repository.NewMemorySubscriptionRepository()
	plans := repository.NewMemoryPlanRepository()

	plan := &models.Plan{Name: "Premium Care", Price: 49.99, IntervalDays: 30, IsActive: true, Privileges: grants}
	if err := plans.Create(plan); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	sub := &models.Subscription{
		UserID:        1,
		PlanID:        plan.ID,
		Status:        status,
		BillingAnchor: time.Now().Add(-48 * time.Hour),
	}
	if err := subs.Create(sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	return NewLedger(subs, plans), sub
}

func TestRemainingUnlimited(t *testing.T) {
	led, sub := newTestLedger(t, []models.PlanPrivilege{
		{Privilege: "messaging", Interval: models.PrivilegeIntervalMonthly, LimitValue: models.PrivilegeUnlimited},
	}, models.SubscriptionStatusActive)

	got, err := led.Remaining(context.Background(), sub.ID, "messaging")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if got != models.PrivilegeUnlimited {
		t.Fatalf("Remaining = %d, want unlimited sentinel", got)
	}
}

func TestUseConsumesUntilExhausted(t *testing.T) {
	led, sub := newTestLedger(t, []models.PlanPrivilege{
		{Privilege: "video_consultations", Interval: models.PrivilegeIntervalMonthly, LimitValue: 3},
	}, models.SubscriptionStatusActive)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := led.Use(ctx, sub.ID, "video_consultations", 1)
		if err != nil {
			t.Fatalf("Use %d: %v", i+1, err)
		}
		if !ok {
			t.Fatalf("Use %d rejected with quota left", i+1)
		}
		left, err := led.Remaining(ctx, sub.ID, "video_consultations")
		if err != nil {
			t.Fatalf("Remaining after use %d: %v", i+1, err)
		}
		if left != 3-(i+1) {
			t.Fatalf("Remaining after use %d = %d, want %d", i+1, left, 3-(i+1))
		}
	}

	ok, err := led.Use(ctx, sub.ID, "video_consultations", 1)
	if err != nil {
		t.Fatalf("Use over quota: %v", err)
	}
	if ok {
		t.Fatalf("Use succeeded with quota exhausted")
	}
	left, _ := led.Remaining(ctx, sub.ID, "video_consultations")
	if left != 0 {
		t.Fatalf("rejected Use mutated consumption, remaining = %d", left)
	}
}

func TestUseInsufficientForAmountIsNoMutation(t *testing.T) {
	led, sub := newTestLedger(t, []models.PlanPrivilege{
		{Privilege: "lab_orders", Interval: models.PrivilegeIntervalMonthly, LimitValue: 5},
	}, models.SubscriptionStatusActive)
	ctx := context.Background()

	ok, err := led.Use(ctx, sub.ID, "lab_orders", 6)
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if ok {
		t.Fatalf("Use of 6 succeeded against limit 5")
	}
	left, _ := led.Remaining(ctx, sub.ID, "lab_orders")
	if left != 5 {
		t.Fatalf("remaining = %d, want untouched 5", left)
	}
}

func TestTightestBoundWins(t *testing.T) {
	led, sub := newTestLedger(t, []models.PlanPrivilege{
		{Privilege: "video_consultations", Interval: models.PrivilegeIntervalDaily, LimitValue: 1},
		{Privilege: "video_consultations", Interval: models.PrivilegeIntervalMonthly, LimitValue: 20},
	}, models.SubscriptionStatusActive)
	ctx := context.Background()

	left, err := led.Remaining(ctx, sub.ID, "video_consultations")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if left != 1 {
		t.Fatalf("Remaining = %d, want daily bound 1", left)
	}

	if ok, _ := led.Use(ctx, sub.ID, "video_consultations", 1); !ok {
		t.Fatalf("first daily use rejected")
	}
	if ok, _ := led.Use(ctx, sub.ID, "video_consultations", 1); ok {
		t.Fatalf("second use in the same day allowed past daily bound")
	}

	// The next day the daily window reopens while the monthly bound keeps
	// counting.
	led.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	left, err = led.Remaining(ctx, sub.ID, "video_consultations")
	if err != nil {
		t.Fatalf("Remaining next day: %v", err)
	}
	if left != 1 {
		t.Fatalf("Remaining next day = %d, want 1", left)
	}
	if ok, _ := led.Use(ctx, sub.ID, "video_consultations", 1); !ok {
		t.Fatalf("use rejected after daily window rolled")
	}
}

func TestWindowRollsForwardAtBoundary(t *testing.T) {
	led, sub := newTestLedger(t, []models.PlanPrivilege{
		{Privilege: "prescriptions", Interval: models.PrivilegeIntervalWeekly, LimitValue: 2},
	}, models.SubscriptionStatusActive)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := led.Use(ctx, sub.ID, "prescriptions", 1); !ok {
			t.Fatalf("use %d rejected", i+1)
		}
	}
	if left, _ := led.Remaining(ctx, sub.ID, "prescriptions"); left != 0 {
		t.Fatalf("remaining = %d, want 0", left)
	}

	led.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	left, err := led.Remaining(ctx, sub.ID, "prescriptions")
	if err != nil {
		t.Fatalf("Remaining after roll: %v", err)
	}
	if left != 2 {
		t.Fatalf("remaining after window roll = %d, want full limit 2", left)
	}
}

func TestPrivilegesGatedByLifecycleState(t *testing.T) {
	for _, status := range []string{
		models.SubscriptionStatusSuspended,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusPaymentFailed,
	} {
		led, sub := newTestLedger(t, []models.PlanPrivilege{
			{Privilege: "messaging", Interval: models.PrivilegeIntervalMonthly, LimitValue: 10},
		}, status)

		if _, err := led.Remaining(context.Background(), sub.ID, "messaging"); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("Remaining on %s subscription: err = %v, want ErrValidation", status, err)
		}
		if _, err := led.Use(context.Background(), sub.ID, "messaging", 1); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("Use on %s subscription: err = %v, want ErrValidation", status, err)
		}
	}
}

func TestUnknownPrivilegeRejected(t *testing.T) {
	led, sub := newTestLedger(t, []models.PlanPrivilege{
		{Privilege: "messaging", Interval: models.PrivilegeIntervalMonthly, LimitValue: 10},
	}, models.SubscriptionStatusActive)

	if _, err := led.Use(context.Background(), sub.ID, "teleportation", 1); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestUseRejectsNonPositiveAmount(t *testing.T) {
	led, sub := newTestLedger(t, []models.PlanPrivilege{
		{Privilege: "messaging", Interval: models.PrivilegeIntervalMonthly, LimitValue: 10},
	}, models.SubscriptionStatusActive)

	for _, amount := range []int{0, -3} {
		if _, err := led.Use(context.Background(), sub.ID, "messaging", amount); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("Use(%d): err = %v, want ErrValidation", amount, err)
		}
	}
}

// failingUsageStore fails the batch usage write on demand.
type failingUsageStore struct {
	repository.SubscriptionRepository
	fail bool
}

func (r *failingUsageStore) SavePrivilegeUsages(usages []*models.PrivilegeUsage) error {
	if r.fail {
		return errs.Transientf("store unavailable")
	}
	return r.SubscriptionRepository.SavePrivilegeUsages(usages)
}

func TestUseFailedPersistLeavesNoPartialWindows(t *testing.T) {
	subs := repository.NewMemorySubscriptionRepository()
	store := &failingUsageStore{SubscriptionRepository: subs, fail: true}
	plans := repository.NewMemoryPlanRepository()

	plan := &models.Plan{Name: "Premium Care", Price: 49.99, IntervalDays: 30, IsActive: true, Privileges: []models.PlanPrivilege{
		{Privilege: "video_consultations", Interval: models.PrivilegeIntervalDaily, LimitValue: 2},
		{Privilege: "video_consultations", Interval: models.PrivilegeIntervalMonthly, LimitValue: 6},
	}}
	if err := plans.Create(plan); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	sub := &models.Subscription{
		UserID:        1,
		PlanID:        plan.ID,
		Status:        models.SubscriptionStatusActive,
		BillingAnchor: time.Now().Add(-48 * time.Hour),
	}
	if err := subs.Create(sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	led := NewLedger(store, plans)
	ctx := context.Background()

	ok, err := led.Use(ctx, sub.ID, "video_consultations", 1)
	if err == nil || ok {
		t.Fatalf("Use with failing store = (%v, %v), want error", ok, err)
	}

	// Neither the daily nor the monthly window may carry the increment.
	store.fail = false
	left, err := led.Remaining(ctx, sub.ID, "video_consultations")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if left != 2 {
		t.Fatalf("remaining after failed persist = %d, want untouched 2", left)
	}
	if ok, err := led.Use(ctx, sub.ID, "video_consultations", 1); err != nil || !ok {
		t.Fatalf("Use after store healed = (%v, %v)", ok, err)
	}
	if left, _ := led.Remaining(ctx, sub.ID, "video_consultations"); left != 1 {
		t.Fatalf("remaining = %d, want 1", left)
	}
}

func TestConcurrentUseNeverOversells(t *testing.T) {
	const limit = 10
	led, sub := newTestLedger(t, []models.PlanPrivilege{
		{Privilege: "video_consultations", Interval: models.PrivilegeIntervalMonthly, LimitValue: limit},
	}, models.SubscriptionStatusActive)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := led.Use(ctx, sub.ID, "video_consultations", 1)
			if err != nil {
				t.Errorf("Use: %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != limit {
		t.Fatalf("granted %d uses, want exactly %d", granted, limit)
	}
	if left, _ := led.Remaining(ctx, sub.ID, "video_consultations"); left != 0 {
		t.Fatalf("remaining = %d, want 0", left)
	}
}

func TestWindowForAnchoredToBillingAnchor(t *testing.T) {
	anchor := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

	cases := []struct {
		name      string
		interval  string
		at        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "daily window starts at anchor time of day",
			interval:  models.PrivilegeIntervalDaily,
			at:        time.Date(2026, 3, 17, 8, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 17, 9, 30, 0, 0, time.UTC),
		},
		{
			name:      "weekly window steps in sevens from anchor",
			interval:  models.PrivilegeIntervalWeekly,
			at:        time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 3, 29, 9, 30, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 4, 5, 9, 30, 0, 0, time.UTC),
		},
		{
			name:      "monthly window follows calendar months",
			interval:  models.PrivilegeIntervalMonthly,
			at:        time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 4, 15, 9, 30, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 5, 15, 9, 30, 0, 0, time.UTC),
		},
		{
			name:      "instant before anchor clamps to first window",
			interval:  models.PrivilegeIntervalMonthly,
			at:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			wantStart: anchor,
			wantEnd:   time.Date(2026, 4, 15, 9, 30, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := windowFor(anchor, tc.interval, tc.at)
			if !start.Equal(tc.wantStart) || !end.Equal(tc.wantEnd) {
				t.Fatalf("windowFor = [%v, %v), want [%v, %v)", start, end, tc.wantStart, tc.wantEnd)
			}
		})
	}
}
