package crowdfund

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes the ledger over HTTP. The caller identity is the
// authenticated user id placed in the request locals by the auth middleware.
type Handler struct {
	ledger *Ledger
}

// NewHandler constructs a crowdfund handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type fundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type contributionResponse struct {
	Contributor string `json:"contributor"`
	Amount      string `json:"amount"`
}

// Summary returns the ledger's configuration and totals.
func (h *Handler) Summary(c *fiber.Ctx) error {
	resp := fiber.Map{
		"owner":             string(h.ledger.Owner()),
		"price_feed":        h.ledger.PriceOracleAddress(),
		"minimum_usd":       h.ledger.MinimumUSD().String(),
		"native_decimals":   h.ledger.NativeDecimals(),
		"balance":           h.ledger.Balance().String(),
		"contributor_count": h.ledger.ContributorCount(),
	}
	if minimum, err := h.ledger.MinimumContribution(c.UserContext()); err == nil {
		resp["minimum_native"] = minimum.String()
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// Fund records a contribution from the authenticated caller.
func (h *Handler) Fund(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req fundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.ledger.Fund(c.UserContext(), caller, req.Amount); err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"contributor": string(caller),
		"amount":      req.Amount.String(),
		"total":       h.ledger.ContributionOf(caller).String(),
	})
}

// Withdraw pays the balance to the owner.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	amount, err := h.ledger.Withdraw(c.UserContext(), caller)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"owner":     string(caller),
		"withdrawn": amount.String(),
	})
}

// ContributorAt returns the contributor at the given position.
func (h *Handler) ContributorAt(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "index must be an integer")
	}
	id, err := h.ledger.ContributorAt(index)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(contributionResponse{
		Contributor: string(id),
		Amount:      h.ledger.ContributionOf(id).String(),
	})
}

// ContributionOf returns the cumulative contribution of an identity.
func (h *Handler) ContributionOf(c *fiber.Ctx) error {
	id := Identity(c.Params("identity"))
	return c.Status(http.StatusOK).JSON(contributionResponse{
		Contributor: string(id),
		Amount:      h.ledger.ContributionOf(id).String(),
	})
}

// Contributors lists every contribution in first-contribution order.
func (h *Handler) Contributors(c *fiber.Ctx) error {
	snapshot := h.ledger.Snapshot()
	out := make([]contributionResponse, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, contributionResponse{Contributor: string(s.Contributor), Amount: s.Amount.String()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"contributors": out})
}

func callerFrom(c *fiber.Ctx) (Identity, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return Identity(uid), nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInsufficientAmount), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidIdentity):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPaymentRejected):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrIndexOutOfRange):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOracleUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrTransferFailed):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
