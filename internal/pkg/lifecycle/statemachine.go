package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/audit"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/notify"
)

// DefaultSuspendAfterFailures is the policy default for consecutive failed
// payments before a subscription is suspended.
const DefaultSuspendAfterFailures = 3

// Config carries lifecycle policy knobs. Injected at construction; the
// machine never reads ambient state.
type Config struct {
	SuspendAfterFailures int
}

// allowedTransitions is the full transition table. Cancelled and Expired are
// terminal. PaymentFailed allows a self-transition so repeated payment
// failures keep counting.
var allowedTransitions = map[string][]string{
	models.SubscriptionStatusPending: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusTrialActive,
		models.SubscriptionStatusPaymentActionNeeded,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
	models.SubscriptionStatusActive: {
		models.SubscriptionStatusPaymentFailed,
		models.SubscriptionStatusPaymentActionNeeded,
		models.SubscriptionStatusSuspended,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
	models.SubscriptionStatusTrialActive: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPaymentFailed,
		models.SubscriptionStatusPaymentActionNeeded,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
	models.SubscriptionStatusPaymentFailed: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPaymentFailed,
		models.SubscriptionStatusSuspended,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
	models.SubscriptionStatusPaymentActionNeeded: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPaymentFailed,
		models.SubscriptionStatusSuspended,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
	models.SubscriptionStatusSuspended: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
	models.SubscriptionStatusCancelled: {},
	models.SubscriptionStatusExpired:   {},
}

// CanTransition reports whether the pair is in the allowed table.
func CanTransition(from, to string) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Machine applies lifecycle transitions atomically against the repository.
type Machine struct {
	subs     repository.SubscriptionRepository
	auditor  audit.Sink
	notifier notify.Notifier
	cfg      Config
}

// NewMachine creates a lifecycle state machine.
func NewMachine(subs repository.SubscriptionRepository, auditor audit.Sink, notifier notify.Notifier, cfg Config) *Machine {
	if cfg.SuspendAfterFailures <= 0 {
		cfg.SuspendAfterFailures = DefaultSuspendAfterFailures
	}
	return &Machine{subs: subs, auditor: auditor, notifier: notifier, cfg: cfg}
}

// Transition moves a subscription to target and persists the change under
// optimistic concurrency. A concurrent writer surfaces as errs.ErrConflict;
// the caller re-reads and retries. Audit and notification side effects are
// best-effort and never block the transition.
func (m *Machine) Transition(ctx context.Context, subscriptionID uint, target string, reason string) (*models.Subscription, error) {
	sub, err := m.subs.GetByID(subscriptionID)
	if err != nil {
		return nil, err
	}
	return m.Apply(ctx, sub, target, reason)
}

// Apply is Transition for an already-loaded subscription. The loaded version
// is the optimistic-concurrency witness.
func (m *Machine) Apply(ctx context.Context, sub *models.Subscription, target string, reason string) (*models.Subscription, error) {
	before := *sub

	if !CanTransition(sub.Status, target) {
		return nil, errs.InvalidTransitionf("%s -> %s (subscription %d)", sub.Status, target, sub.ID)
	}

	applyStatus(sub, target, m.cfg.SuspendAfterFailures)

	if err := m.subs.UpdateWithVersion(sub); err != nil {
		return nil, err
	}

	m.recordSideEffects(ctx, &before, sub, reason)
	return sub, nil
}

// Sync mirrors an externally observed status onto the subscription without
// the failed-payment bookkeeping: the caller reports processor truth, not a
// new payment outcome, so the attempt counter stays untouched. The transition
// table still applies and terminal statuses stay terminal.
func (m *Machine) Sync(ctx context.Context, sub *models.Subscription, target string, reason string) (*models.Subscription, error) {
	before := *sub

	if !CanTransition(sub.Status, target) {
		return nil, errs.InvalidTransitionf("%s -> %s (subscription %d)", sub.Status, target, sub.ID)
	}

	sub.Status = target
	if err := m.subs.UpdateWithVersion(sub); err != nil {
		return nil, err
	}

	m.recordSideEffects(ctx, &before, sub, reason)
	return sub, nil
}

// applyStatus mutates the subscription for the target status, including the
// failed-payment escalation policy.
func applyStatus(sub *models.Subscription, target string, suspendAfter int) {
	switch target {
	case models.SubscriptionStatusPaymentFailed:
		sub.FailedPaymentAttemptCount++
		if sub.FailedPaymentAttemptCount >= suspendAfter {
			target = models.SubscriptionStatusSuspended
		}
	case models.SubscriptionStatusActive:
		sub.FailedPaymentAttemptCount = 0
		sub.LastPaymentError = ""
	}
	sub.Status = target
}

func (m *Machine) recordSideEffects(ctx context.Context, before, after *models.Subscription, reason string) {
	if err := m.auditor.Record(ctx, audit.Entry{
		Actor:      "lifecycle",
		Action:     "subscription.transition",
		EntityType: "subscription",
		EntityID:   fmt.Sprint(after.ID),
		Before:     map[string]any{"status": before.Status, "failed_attempts": before.FailedPaymentAttemptCount, "reason": reason},
		After:      map[string]any{"status": after.Status, "failed_attempts": after.FailedPaymentAttemptCount},
	}); err != nil {
		log.Errorf("[Lifecycle] Audit write failed for subscription %d: %v", after.ID, err)
	}

	if kind := notificationFor(after.Status); kind != "" {
		params := map[string]string{
			"status": after.Status,
			"reason": reason,
		}
		if kind == models.NotificationPaymentSucceeded {
			params["amount"] = strconv.FormatFloat(after.CurrentPrice, 'f', 2, 64)
			params["currency"] = after.Currency
		}
		m.notifier.Notify(ctx, after.UserID, kind, params)
	}
}

func notificationFor(status string) string {
	switch status {
	case models.SubscriptionStatusActive:
		return models.NotificationPaymentSucceeded
	case models.SubscriptionStatusPaymentFailed, models.SubscriptionStatusSuspended:
		return models.NotificationPaymentFailed
	case models.SubscriptionStatusPaymentActionNeeded:
		return models.NotificationPaymentActionNeeded
	case models.SubscriptionStatusCancelled:
		return models.NotificationSubscriptionCanceled
	default:
		return models.NotificationSubscriptionChanged
	}
}

// RetryOnConflict runs fn and retries it after re-reads when the repository
// reports an optimistic-concurrency loss.
func RetryOnConflict(attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 3
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, errs.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}
