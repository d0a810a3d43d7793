package ledger

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
)

const lockStripes = 64

// Ledger enforces time-windowed privilege quotas per subscription. Use is
// serialized per subscription through striped in-process mutexes; no lock is
// held across repository calls by any other component, so the stripes are the
// only mutual exclusion in the system.
type Ledger struct {
	subs  repository.SubscriptionRepository
	plans repository.PlanRepository
	locks [lockStripes]sync.Mutex

	now func() time.Time
}

// NewLedger creates a privilege ledger over the given stores.
func NewLedger(subs repository.SubscriptionRepository, plans repository.PlanRepository) *Ledger {
	return &Ledger{subs: subs, plans: plans, now: time.Now}
}

func (l *Ledger) lockFor(subscriptionID uint) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatUint(uint64(subscriptionID), 10)))
	return &l.locks[h.Sum32()%lockStripes]
}

// Remaining reports how many uses of a privilege are left in the current
// windows: the tightest of the still-open daily/weekly/monthly bounds minus
// what was consumed. models.PrivilegeUnlimited means the plan sets no limit.
func (l *Ledger) Remaining(ctx context.Context, subscriptionID uint, privilege string) (int, error) {
	sub, grants, err := l.loadGrants(subscriptionID, privilege)
	if err != nil {
		return 0, err
	}

	now := l.now()
	remaining := models.PrivilegeUnlimited
	for _, grant := range grants {
		if grant.LimitValue == models.PrivilegeUnlimited {
			continue
		}
		usage, err := l.currentUsage(sub, grant, now)
		if err != nil {
			return 0, err
		}
		left := grant.LimitValue - usage.Consumed
		if left < 0 {
			left = 0
		}
		if remaining == models.PrivilegeUnlimited || left < remaining {
			remaining = left
		}
	}
	return remaining, nil
}

// Use consumes amount units of a privilege. It atomically checks that every
// open window has enough left, rolls expired windows forward and increments
// consumption. Returns false without mutating anything when the quota is
// insufficient.
func (l *Ledger) Use(ctx context.Context, subscriptionID uint, privilege string, amount int) (bool, error) {
	if amount <= 0 {
		return false, errs.Validationf("usage amount must be positive, got %d", amount)
	}

	mu := l.lockFor(subscriptionID)
	mu.Lock()
	defer mu.Unlock()

	sub, grants, err := l.loadGrants(subscriptionID, privilege)
	if err != nil {
		return false, err
	}

	now := l.now()
	var touched []*models.PrivilegeUsage
	for _, grant := range grants {
		if grant.LimitValue == models.PrivilegeUnlimited {
			continue
		}
		usage, err := l.currentUsage(sub, grant, now)
		if err != nil {
			return false, err
		}
		if grant.LimitValue-usage.Consumed < amount {
			return false, nil
		}
		touched = append(touched, usage)
	}

	for _, usage := range touched {
		usage.Consumed += amount
	}
	if err := l.subs.SavePrivilegeUsages(touched); err != nil {
		return false, err
	}
	return true, nil
}

// loadGrants resolves the subscription and its plan's grants for a privilege.
// Privileges are gated by lifecycle state: only billable subscriptions may
// hold or consume quota.
func (l *Ledger) loadGrants(subscriptionID uint, privilege string) (*models.Subscription, []models.PlanPrivilege, error) {
	sub, err := l.subs.GetByID(subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if !sub.IsBillable() {
		return nil, nil, errs.Validationf("subscription %d is %s, privileges unavailable", sub.ID, sub.Status)
	}

	plan, err := l.plans.GetByID(sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	grants := plan.PrivilegesFor(privilege)
	if len(grants) == 0 {
		return nil, nil, errs.Validationf("plan %q does not grant privilege %q", plan.Name, privilege)
	}
	return sub, grants, nil
}

// currentUsage returns the usage row for the window containing now, creating
// a fresh zero-consumption row when the previous window expired or none was
// ever opened. The row is not persisted until Use commits an increment.
func (l *Ledger) currentUsage(sub *models.Subscription, grant models.PlanPrivilege, now time.Time) (*models.PrivilegeUsage, error) {
	usage, err := l.subs.GetPrivilegeUsage(sub.ID, grant.Privilege, grant.Interval, now)
	if err == nil {
		usage.LimitValue = grant.LimitValue
		return usage, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	start, end := windowFor(sub.BillingAnchor, grant.Interval, now)
	return &models.PrivilegeUsage{
		SubscriptionID: sub.ID,
		Privilege:      grant.Privilege,
		Interval:       grant.Interval,
		WindowStart:    start,
		WindowEnd:      end,
		LimitValue:     grant.LimitValue,
		Consumed:       0,
	}, nil
}
