package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/crowdfund/internal/logging"
)

// ProvisionFunc runs after a successful registration and returns the id of
// the resource it created for the user (their wallet).
type ProvisionFunc func(ctx context.Context, user User) (string, error)

// Handler exposes identity endpoints.
type Handler struct {
	service   *Service
	provision ProvisionFunc
	logger    *slog.Logger
}

// NewHandler constructs an identity HTTP handler. provision may be nil.
func NewHandler(service *Service, provision ProvisionFunc, logger *slog.Logger) *Handler {
	return &Handler{service: service, provision: provision, logger: logging.Component(logger, "identity")}
}

type credentialsRequest struct {
	Phone    string `json:"phone"`
	PIN      string `json:"pin"`
	DeviceID string `json:"device_id"`
}

type userResponse struct {
	UserID   string `json:"user_id"`
	Phone    string `json:"phone"`
	DeviceID string `json:"device_id"`
	WalletID string `json:"wallet_id,omitempty"`
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Register(c.UserContext(), Credentials{Phone: req.Phone, PIN: req.PIN, DeviceID: req.DeviceID})
	if errors.Is(err, ErrUserExists) {
		return fiber.NewError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	resp := userResponse{UserID: user.ID, Phone: user.Phone, DeviceID: user.DeviceID}
	if h.provision != nil {
		walletID, err := h.provision(c.UserContext(), user)
		if err != nil {
			h.logger.Error("wallet provisioning failed", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		resp.WalletID = walletID
	}
	h.logger.Info("identity registered",
		slog.String("user_id", user.ID),
		slog.String("wallet_id", resp.WalletID),
	)
	return c.Status(http.StatusCreated).JSON(resp)
}

// Authenticate verifies login credentials without issuing tokens.
func (h *Handler) Authenticate(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Authenticate(c.UserContext(), Credentials{Phone: req.Phone, PIN: req.PIN, DeviceID: req.DeviceID})
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return c.Status(http.StatusOK).JSON(userResponse{UserID: user.ID, Phone: user.Phone, DeviceID: user.DeviceID})
}

// Me returns the profile of the authenticated user.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	user, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "user not found")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user_id":       user.ID,
		"phone":         user.Phone,
		"device_id":     user.DeviceID,
		"token_version": user.TokenVersion,
		"created_at":    user.CreatedAt,
		"last_login":    user.LastLogin,
	})
}
