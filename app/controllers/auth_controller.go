package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/VitalCareHQ/VitalCare/app/models"
	"github.com/VitalCareHQ/VitalCare/app/repository"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/database"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/usercontext"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleRegister creates a patient account and issues the API key used on all
// authenticated endpoints. The key is returned once and stored only as a
// hash.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondError(c, errs.Validationf("name, email and password are required"))
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	if _, err := repo.GetByEmail(req.Email); err == nil {
		return respondError(c, errs.Validationf("email already registered"))
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return respondError(c, errs.Validationf("%v", err))
	}
	if err := repo.Create(user); err != nil {
		return respondError(c, err)
	}

	apiKey, err := issueAPIKeyForUser(user.ID)
	if err != nil {
		return respondError(c, err)
	}

	log.Infof("[Auth] Registered user %d (%s)", user.ID, user.Email)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":    user,
		"api_key": apiKey,
	})
}

// HandleLogin verifies credentials and rotates the caller's API key.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondError(c, errs.Validationf("email and password are required"))
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, errs.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid credentials"})
		}
		return respondError(c, err)
	}
	if !models.CheckPasswordHash(req.Password, user.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid credentials"})
	}
	if !user.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Account inactive"})
	}

	apiKey, err := issueAPIKeyForUser(user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"user": user, "api_key": apiKey})
}

// HandleGetAccount returns the authenticated user's profile.
func HandleGetAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// HandleListPaymentMethods returns the payment methods the processor holds
// for the caller. Users without a processor customer have none.
func HandleListPaymentMethods(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	subs, err := repository.GetGlobalFactory().GetSubscriptionRepository().ListByUser(userCtx.UserID)
	if err != nil {
		return respondError(c, err)
	}

	customerID := ""
	for _, sub := range subs {
		if sub.ExternalCustomerID != "" {
			customerID = sub.ExternalCustomerID
			break
		}
	}
	if customerID == "" {
		return c.JSON(fiber.Map{"payment_methods": []any{}})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	methods, err := getEngine().gateway.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payment_methods": methods})
}

func issueAPIKeyForUser(userID uint) (string, error) {
	db := database.GetDB()
	settings, err := models.GetOrCreateUserSettings(db, userID)
	if err != nil {
		return "", err
	}
	apiKey, err := settings.IssueAPIKey()
	if err != nil {
		return "", err
	}
	if err := db.Save(settings).Error; err != nil {
		return "", err
	}
	return apiKey, nil
}
