package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/audit"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/ledger"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/lifecycle"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/notify"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/orchestrator"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/procsync"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/reconcile"
)

const webhookTestSecret = "whsec_controller_test"

func newWebhookTestApp(t *testing.T) (*fiber.App, *repository.MemorySubscriptionRepository) {
	t.Helper()

	subs := repository.NewMemorySubscriptionRepository()
	plans := repository.NewMemoryPlanRepository()
	events := repository.NewMemoryWebhookEventRepository()

	machine := lifecycle.NewMachine(subs, audit.NopSink{}, notify.NopNotifier{}, lifecycle.Config{})
	pipeline := procsync.NewPipeline(procsync.Config{
		Provider:      "vitalpay",
		WebhookSecret: webhookTestSecret,
		RetryLimit:    2,
		RetryDelay:    time.Millisecond,
	}, subs, plans, events, machine, audit.NopSink{}, notify.NopNotifier{})

	gateway := payproc.NewClientFromEnv()
	SetEngineForTesting(
		gateway,
		machine,
		pipeline,
		ledger.NewLedger(subs, plans),
		orchestrator.NewOrchestrator(gateway, subs, plans, pipeline),
		reconcile.NewService(gateway, subs, plans, machine, audit.NopSink{}),
	)

	app := fiber.New()
	app.Post("/api/v1/webhooks/processor", HandleProcessorWebhook)
	return app, subs
}

func signWebhookBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, app *fiber.App, body []byte, signature string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/v1/webhooks/processor", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Processor-Signature", signature)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	return resp.StatusCode, payload
}

func TestHandleProcessorWebhookRejectsBadSignature(t *testing.T) {
	app, _ := newWebhookTestApp(t)

	body := []byte(`{"id":"evt_sig_1","type":"subscription_updated","data":{"id":"sub_ext_1","status":"active"}}`)
	status, payload := postWebhook(t, app, body, "sha256=deadbeef")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload["error"])
}

func TestHandleProcessorWebhookAppliesTrackedUpdate(t *testing.T) {
	app, subs := newWebhookTestApp(t)

	extID := "sub_ext_hook"
	require.NoError(t, subs.Create(&models.Subscription{
		UserID:                 1,
		PlanID:                 1,
		ExternalSubscriptionID: &extID,
		Status:                 models.SubscriptionStatusPending,
		CurrentPrice:           29.99,
		Currency:               "USD",
		BillingAnchor:          time.Now().Add(-time.Hour),
	}))

	body := []byte(`{"id":"evt_hook_1","type":"subscription_updated","data":{"id":"sub_ext_hook","status":"active","price_minor":2999,"currency":"USD"}}`)
	status, payload := postWebhook(t, app, body, signWebhookBody(body))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, payload["ok"])
	assert.Equal(t, "subscription_updated", payload["event_type"])

	sub, err := subs.FindByExternalID(extID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestHandleProcessorWebhookBadSignatureOnSeenDeliveryID(t *testing.T) {
	app, subs := newWebhookTestApp(t)

	extID := "sub_ext_replay"
	require.NoError(t, subs.Create(&models.Subscription{
		UserID:                 1,
		PlanID:                 1,
		ExternalSubscriptionID: &extID,
		Status:                 models.SubscriptionStatusPending,
		CurrentPrice:           29.99,
		Currency:               "USD",
		BillingAnchor:          time.Now().Add(-time.Hour),
	}))

	body := []byte(`{"id":"evt_replay_1","type":"subscription_updated","data":{"id":"sub_ext_replay","status":"active","price_minor":2999}}`)
	status, _ := postWebhook(t, app, body, signWebhookBody(body))
	require.Equal(t, fiber.StatusOK, status)

	// Replaying a seen delivery id with a bad signature must fail signature
	// verification, never ride the dedupe path to an ack.
	status, payload := postWebhook(t, app, body, "sha256=deadbeef")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload["error"])
}

func TestHandleProcessorWebhookAcksUntrackedSubscription(t *testing.T) {
	app, _ := newWebhookTestApp(t)

	body := []byte(`{"id":"evt_hook_2","type":"subscription_updated","data":{"id":"sub_unknown","status":"active"}}`)
	status, payload := postWebhook(t, app, body, signWebhookBody(body))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, payload["ok"])
}

func TestPeekDeliveryID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "valid envelope", body: `{"id":"evt_1","type":"x"}`, want: "evt_1"},
		{name: "missing id", body: `{"type":"x"}`, want: ""},
		{name: "padded id", body: `{"id":" evt_2 "}`, want: "evt_2"},
		{name: "not json", body: `nope`, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, peekDeliveryID([]byte(tc.body)))
		})
	}
}

func TestParseIDParam(t *testing.T) {
	app := fiber.New()
	app.Get("/things/:id", func(c *fiber.Ctx) error {
		id, err := parseIDParam(c, "id")
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"id": id})
	})

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "numeric id", path: "/things/42", status: fiber.StatusOK},
		{name: "zero id", path: "/things/0", status: fiber.StatusBadRequest},
		{name: "non numeric id", path: "/things/abc", status: fiber.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tc.path, nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestRespondErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "validation", err: errs.Validationf("bad input"), status: fiber.StatusBadRequest, kind: "validation_error"},
		{name: "not found", err: errs.ErrNotFound, status: fiber.StatusNotFound, kind: "not_found"},
		{name: "conflict", err: errs.ErrConflict, status: fiber.StatusConflict, kind: "conflict"},
		{name: "invalid transition", err: errs.InvalidTransitionf("a -> b"), status: fiber.StatusUnprocessableEntity, kind: "invalid_transition"},
		{name: "upstream unavailable", err: errs.ErrUpstreamUnavailable, status: fiber.StatusServiceUnavailable, kind: "upstream_unavailable"},
		{name: "transient upstream", err: errs.Transientf("flaky"), status: fiber.StatusServiceUnavailable, kind: "transient_upstream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/fail", func(c *fiber.Ctx) error {
				return respondError(c, tc.err)
			})
			resp, err := app.Test(httptest.NewRequest("GET", "/fail", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var payload map[string]any
			require.NoError(t, json.Unmarshal(raw, &payload))
			assert.Equal(t, tc.kind, payload["error"])
		})
	}
}
