package procsync

import (
	"strings"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/payproc"
)

// MapExternalStatus translates a processor status string to the local
// lifecycle status. Both the webhook pipeline and the reconciliation service
// use this table; unknown statuses map to Pending.
func MapExternalStatus(external string) string {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case payproc.StatusActive:
		return models.SubscriptionStatusActive
	case payproc.StatusTrialing:
		return models.SubscriptionStatusTrialActive
	case payproc.StatusPastDue, payproc.StatusUnpaid:
		return models.SubscriptionStatusPaymentFailed
	case payproc.StatusCanceled:
		return models.SubscriptionStatusCancelled
	case payproc.StatusIncomplete:
		return models.SubscriptionStatusPending
	case payproc.StatusIncompleteExpired:
		return models.SubscriptionStatusExpired
	default:
		return models.SubscriptionStatusPending
	}
}
