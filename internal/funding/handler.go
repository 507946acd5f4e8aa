package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/ledger"
	"github.com/congo-pay/crowdfund/internal/wallet"
)

// Handler exposes HTTP endpoints for card funding flows.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type cardInRequest struct {
	CardNumber string          `json:"card_number"`
	Expiry     string          `json:"expiry"`
	CVV        string          `json:"cvv"`
	Amount     decimal.Decimal `json:"amount"`
	ClientTxID string          `json:"client_tx_id"`
}

type cardOutRequest struct {
	CardNumber string          `json:"card_number"`
	Amount     decimal.Decimal `json:"amount"`
	ClientTxID string          `json:"client_tx_id"`
}

type fundingResponse struct {
	TransactionID     string `json:"transaction_id"`
	Status            string `json:"status"`
	WalletBalance     string `json:"wallet_balance"`
	AcquirerReference string `json:"acquirer_reference"`
}

// CardIn tops up one of the caller's wallets from a card.
func (h *Handler) CardIn(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req cardInRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.CardIn(c.UserContext(), CardInInput{
		WalletID:   c.Params("walletId"),
		OwnerID:    uid,
		Amount:     req.Amount,
		ClientTxID: req.ClientTxID,
		CardNumber: req.CardNumber,
		Expiry:     req.Expiry,
		CVV:        req.CVV,
	})
	return respond(c, result, err)
}

// CardOut pays funds from one of the caller's wallets out to a card.
func (h *Handler) CardOut(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req cardOutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.CardOut(c.UserContext(), CardOutInput{
		WalletID:   c.Params("walletId"),
		OwnerID:    uid,
		Amount:     req.Amount,
		ClientTxID: req.ClientTxID,
		CardNumber: req.CardNumber,
	})
	return respond(c, result, err)
}

func respond(c *fiber.Ctx, result Result, err error) error {
	switch {
	case err == nil:
		return c.Status(http.StatusCreated).JSON(toResponse(result))
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return c.Status(http.StatusOK).JSON(toResponse(result))
	case errors.Is(err, ErrNotWalletOwner):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, wallet.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDeclined):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}

func toResponse(result Result) fundingResponse {
	return fundingResponse{
		TransactionID:     result.TransactionID,
		Status:            result.Status,
		WalletBalance:     result.WalletBalance.String(),
		AcquirerReference: result.AcquirerReference,
	}
}
