package controllers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/lifecycle"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/usercontext"
)

var validate = validator.New()

type createSubscriptionRequest struct {
	PlanID uint `json:"plan_id" validate:"required,min=1"`
}

type changePlanRequest struct {
	PlanID uint `json:"plan_id" validate:"required,min=1"`
}

type usePrivilegeRequest struct {
	Amount int `json:"amount" validate:"omitempty,min=1"`
}

// HandleCreateSubscription purchases a plan: creates the processor customer
// on first purchase, opens the processor subscription and stores the local
// record as Pending until the processor confirms it by webhook.
func HandleCreateSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req createSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondError(c, errs.Validationf("plan_id is required"))
	}

	repos := repository.GetGlobalFactory()
	plan, err := repos.GetPlanRepository().GetByID(req.PlanID)
	if err != nil {
		return respondError(c, err)
	}
	if !plan.IsActive {
		return respondError(c, errs.Validationf("plan %d is not purchasable", plan.ID))
	}

	user, err := repos.GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return respondError(c, err)
	}

	eng := getEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	customerID, err := ensureCustomer(ctx, eng.gateway, repos.GetSubscriptionRepository(), user)
	if err != nil {
		return respondError(c, err)
	}

	extSub, err := eng.gateway.CreateSubscription(ctx, payproc.CreateSubscriptionParams{
		CustomerID: customerID,
		PlanID:     plan.ExternalPlanID,
		TrialDays:  plan.TrialDays,
	})
	if err != nil {
		return respondError(c, err)
	}

	now := time.Now()
	sub := &models.Subscription{
		UUID:                   uuid.NewString(),
		UserID:                 user.ID,
		PlanID:                 plan.ID,
		ExternalSubscriptionID: &extSub.ID,
		ExternalCustomerID:     customerID,
		Status:                 models.SubscriptionStatusPending,
		CurrentPrice:           plan.Price,
		Currency:               plan.Currency,
		BillingAnchor:          now,
		NextBillingDate:        &extSub.CurrentPeriodEnd,
		TrialEndDate:           extSub.TrialEnd,
	}
	if err := repos.GetSubscriptionRepository().Create(sub); err != nil {
		return respondError(c, err)
	}

	log.Infof("[Subscription] User %d purchased plan %d (external %s)", user.ID, plan.ID, extSub.ID)
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// HandleListSubscriptions returns the caller's subscriptions.
func HandleListSubscriptions(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	subs, err := repository.GetGlobalFactory().GetSubscriptionRepository().ListByUser(userCtx.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

// HandleGetSubscription returns one subscription with its billing history.
func HandleGetSubscription(c *fiber.Ctx) error {
	sub, err := loadOwnedSubscription(c)
	if err != nil {
		return respondError(c, err)
	}
	records, err := repository.GetGlobalFactory().GetSubscriptionRepository().ListBillingRecords(sub.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub, "billing_records": records})
}

// HandleCancelSubscription cancels at the processor first, then locally. A
// concurrent webhook racing the cancel loses the version check and retries.
func HandleCancelSubscription(c *fiber.Ctx) error {
	sub, err := loadOwnedSubscription(c)
	if err != nil {
		return respondError(c, err)
	}
	if sub.IsTerminal() {
		return respondError(c, errs.InvalidTransitionf("%s -> %s (subscription %d)",
			sub.Status, models.SubscriptionStatusCancelled, sub.ID))
	}

	eng := getEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if sub.ExternalSubscriptionID != nil {
		if err := eng.gateway.CancelSubscription(ctx, *sub.ExternalSubscriptionID); err != nil {
			return respondError(c, err)
		}
	}

	var updated *models.Subscription
	err = lifecycle.RetryOnConflict(3, func() error {
		updated, err = eng.machine.Transition(ctx, sub.ID, models.SubscriptionStatusCancelled, "cancelled by user")
		return err
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// HandleChangePlan moves a subscription to another plan with proration.
func HandleChangePlan(c *fiber.Ctx) error {
	sub, err := loadOwnedSubscription(c)
	if err != nil {
		return respondError(c, err)
	}

	var req changePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondError(c, errs.Validationf("plan_id is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := getEngine().orchestrator.ChangePlan(ctx, sub.ID, req.PlanID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// HandleGetPrivilege reports the remaining quota for one privilege.
func HandleGetPrivilege(c *fiber.Ctx) error {
	sub, err := loadOwnedSubscription(c)
	if err != nil {
		return respondError(c, err)
	}
	name := c.Params("name")

	remaining, err := getEngine().ledger.Remaining(c.Context(), sub.ID, name)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"privilege": name,
		"remaining": remaining,
		"unlimited": remaining == models.PrivilegeUnlimited,
	})
}

// HandleUsePrivilege consumes privilege quota. Insufficient quota is an
// outcome, not an error.
func HandleUsePrivilege(c *fiber.Ctx) error {
	sub, err := loadOwnedSubscription(c)
	if err != nil {
		return respondError(c, err)
	}
	name := c.Params("name")

	req := usePrivilegeRequest{Amount: 1}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, errs.Validationf("invalid request body"))
		}
		if req.Amount == 0 {
			req.Amount = 1
		}
	}

	led := getEngine().ledger
	allowed, err := led.Use(c.Context(), sub.ID, name, req.Amount)
	if err != nil {
		return respondError(c, err)
	}
	remaining, err := led.Remaining(c.Context(), sub.ID, name)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"privilege": name,
		"allowed":   allowed,
		"remaining": remaining,
	})
}

// HandleListPlans lists purchasable plans with their privilege grants.
func HandleListPlans(c *fiber.Ctx) error {
	plans, err := repository.GetGlobalFactory().GetPlanRepository().ListActive()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// ensureCustomer returns the user's processor customer id, creating the
// customer on first purchase and reusing the id stored on any prior
// subscription afterwards.
func ensureCustomer(ctx context.Context, gateway payproc.Gateway, subs repository.SubscriptionRepository, user *models.User) (string, error) {
	existing, err := subs.ListByUser(user.ID)
	if err != nil {
		return "", err
	}
	for _, sub := range existing {
		if sub.ExternalCustomerID != "" {
			return sub.ExternalCustomerID, nil
		}
	}

	customer, err := gateway.CreateCustomer(ctx, user.Email, user.Name)
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

// loadOwnedSubscription resolves the :id parameter (numeric id or UUID) and
// enforces ownership; admins may address any subscription.
func loadOwnedSubscription(c *fiber.Ctx) (*models.Subscription, error) {
	repo := repository.GetGlobalFactory().GetSubscriptionRepository()

	var sub *models.Subscription
	if id, err := parseIDParam(c, "id"); err == nil {
		sub, err = repo.GetByID(id)
		if err != nil {
			return nil, err
		}
	} else if raw := c.Params("id"); uuid.Validate(raw) == nil {
		sub, err = repo.GetByUUID(raw)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, errs.Validationf("invalid subscription id %q", raw)
	}

	userCtx := usercontext.GetUserContext(c)
	if sub.UserID != userCtx.UserID && !userCtx.IsAdmin {
		return nil, errs.ErrNotFound
	}
	return sub, nil
}
