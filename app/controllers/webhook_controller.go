package controllers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/VitalCareHQ/VitalCare/internal/pkg/cache"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
)

const webhookDedupeTTL = 24 * time.Hour

// HandleProcessorWebhook is the single signed-event endpoint. 200 means
// processed or idempotent no-op, 400 means the signature or payload failed
// verification, 5xx means exhausted retries and asks the processor to
// redeliver.
func HandleProcessorWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Processor-Signature"))

	pipeline := getEngine().pipeline

	// Signature verification comes before everything, including the dedupe
	// fast path: a replayed delivery id never buys a forged body an ack.
	if !pipeline.VerifySignature(rawBody, signature) {
		return respondError(c, errs.Validationf("invalid webhook signature"))
	}

	// Redis fast path in front of the durable unique index. Marked only
	// after successful processing so unfinished deliveries stay retryable;
	// a cache miss or error falls through to the database dedupe.
	deliveryID := peekDeliveryID(rawBody)
	if deliveryID != "" {
		if _, err := cache.Get("webhook:delivery:" + deliveryID); err == nil {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := pipeline.Ingest(ctx, rawBody, signature)
	if err != nil {
		log.Errorf("[Webhook] Ingest failed: %v", err)
		return respondError(c, err)
	}

	if deliveryID != "" {
		if _, err := cache.SetNX("webhook:delivery:"+deliveryID, "1", webhookDedupeTTL); err != nil {
			log.Warnf("[Webhook] Dedupe cache write failed for %s: %v", deliveryID, err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":         true,
		"event_type": result.EventType,
		"duplicate":  result.Duplicate,
		"ignored":    result.Ignored,
	})
}

// peekDeliveryID reads only the envelope id; full decoding happens in the
// pipeline after signature verification.
func peekDeliveryID(rawBody []byte) string {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.ID)
}
