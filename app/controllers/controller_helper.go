package controllers

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/audit"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/database"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/env"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/ledger"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/lifecycle"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/notify"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/orchestrator"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/procsync"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/reconcile"
)

// engine bundles the billing components shared by the controllers. Built once
// from the environment and the global repository factory.
type engine struct {
	gateway      payproc.Gateway
	machine      *lifecycle.Machine
	pipeline     *procsync.Pipeline
	ledger       *ledger.Ledger
	orchestrator *orchestrator.Orchestrator
	reconciler   *reconcile.Service
	notifier     notify.Notifier
}

var (
	engineOnce sync.Once
	engineInst *engine
)

func getEngine() *engine {
	engineOnce.Do(func() {
		repos := repository.GetGlobalFactory()
		subs := repos.GetSubscriptionRepository()
		plans := repos.GetPlanRepository()
		events := repos.GetWebhookEventRepository()

		auditor := audit.NewSink(database.GetDB())
		notifier := notify.NewMailNotifier(database.GetDB(), notify.NewMailerFromEnv())
		gateway := payproc.NewClientFromEnv()

		machine := lifecycle.NewMachine(subs, auditor, notifier, lifecycle.Config{
			SuspendAfterFailures: env.GetEnvInt("SUSPEND_AFTER_FAILURES", lifecycle.DefaultSuspendAfterFailures),
		})
		pipeline := procsync.NewPipeline(procsync.Config{
			Provider:      env.GetEnv("PROCESSOR_NAME", "vitalpay"),
			WebhookSecret: env.GetEnv("PROCESSOR_WEBHOOK_SECRET", ""),
			RetryLimit:    env.GetEnvInt("WEBHOOK_RETRY_LIMIT", 3),
			RetryDelay:    env.GetEnvDuration("WEBHOOK_RETRY_DELAY", 5*time.Second),
		}, subs, plans, events, machine, auditor, notifier)

		engineInst = &engine{
			gateway:      gateway,
			machine:      machine,
			pipeline:     pipeline,
			ledger:       ledger.NewLedger(subs, plans),
			orchestrator: orchestrator.NewOrchestrator(gateway, subs, plans, pipeline),
			reconciler:   reconcile.NewService(gateway, subs, plans, machine, auditor),
			notifier:     notifier,
		}
	})
	return engineInst
}

// BillingOrchestrator exposes the shared orchestrator so the entry point can
// hang the recurring billing scheduler off it.
func BillingOrchestrator() *orchestrator.Orchestrator {
	return getEngine().orchestrator
}

// SetEngineForTesting swaps the shared engine. Test hook only.
func SetEngineForTesting(
	gateway payproc.Gateway,
	machine *lifecycle.Machine,
	pipeline *procsync.Pipeline,
	led *ledger.Ledger,
	orc *orchestrator.Orchestrator,
	rec *reconcile.Service,
) {
	engineOnce.Do(func() {})
	engineInst = &engine{
		gateway:      gateway,
		machine:      machine,
		pipeline:     pipeline,
		ledger:       led,
		orchestrator: orc,
		reconciler:   rec,
		notifier:     notify.NopNotifier{},
	}
}

// respondError maps the error taxonomy onto HTTP statuses with a stable kind
// in the payload.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		status = fiber.StatusConflict
	case errors.Is(err, errs.ErrInvalidTransition):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrUpstreamUnavailable), errors.Is(err, errs.ErrTransientUpstream):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"error": errs.Kind(err), "message": err.Error()})
}

func parseIDParam(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errs.Validationf("invalid %s %q", name, raw)
	}
	return uint(id), nil
}
