package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/VitalCareHQ/VitalCare/app/models"
)

// Notifier is the fire-and-forget notification sink. Implementations must
// never propagate delivery failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, userID uint, templateKind string, params map[string]string)
}

// MailNotifier records a notification row and emails the user. Both steps are
// best-effort.
type MailNotifier struct {
	db     *gorm.DB
	mailer *Mailer
}

// NewMailNotifier creates the default notification sink.
func NewMailNotifier(db *gorm.DB, mailer *Mailer) *MailNotifier {
	return &MailNotifier{db: db, mailer: mailer}
}

func (n *MailNotifier) Notify(_ context.Context, userID uint, templateKind string, params map[string]string) {
	paramsJSON := ""
	if len(params) > 0 {
		if raw, err := json.Marshal(params); err == nil {
			paramsJSON = string(raw)
		}
	}

	now := time.Now()
	row := &models.Notification{
		UserID:       userID,
		TemplateKind: templateKind,
		ParamsJSON:   paramsJSON,
		SentAt:       &now,
	}
	if err := n.db.Create(row).Error; err != nil {
		log.Errorf("[Notify] Failed to record notification %s for user %d: %v", templateKind, userID, err)
	}

	var user models.User
	if err := n.db.First(&user, userID).Error; err != nil {
		log.Warnf("[Notify] No user %d for notification %s", userID, templateKind)
		return
	}

	subject, body := renderTemplate(templateKind, params)
	if err := n.mailer.Send(user.Email, subject, body); err != nil {
		log.Errorf("[Notify] Failed to email %s to user %d: %v", templateKind, userID, err)
	}
}

func renderTemplate(templateKind string, params map[string]string) (string, string) {
	switch templateKind {
	case models.NotificationPaymentSucceeded:
		if params["amount"] == "" {
			return "Payment received", "<p>We received your payment. Thank you!</p>"
		}
		return "Payment received", fmt.Sprintf("<p>We received your payment of %s %s. Thank you!</p>", params["amount"], params["currency"])
	case models.NotificationPaymentFailed:
		return "Payment failed", "<p>Your last payment did not go through. Please check your payment method.</p>"
	case models.NotificationPaymentActionNeeded:
		return "Action required for your payment", "<p>Your payment needs additional confirmation. Please complete it to keep your subscription active.</p>"
	case models.NotificationTrialWillEnd:
		return "Your trial is ending soon", "<p>Your trial period ends soon. Your subscription will start billing automatically.</p>"
	case models.NotificationSubscriptionCanceled:
		return "Subscription cancelled", "<p>Your subscription has been cancelled.</p>"
	default:
		return "Subscription update", fmt.Sprintf("<p>Your subscription status changed: %s</p>", params["status"])
	}
}

// NopNotifier discards notifications. Used in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, uint, string, map[string]string) {}
