package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
)

// sendEngineError maps the economy error taxonomy onto HTTP status codes.
// Typed denials carry their fields into the response details; everything
// unrecognized is a 500 with no internals leaked.
func sendEngineError(c *fiber.Ctx, err error) error {
	var (
		ve  *economy.ValidationError
		ife *economy.InsufficientFundsError
		qe  *economy.QuantityExceededError
		ist *economy.InvalidStateTransitionError
		pae *economy.PenaltyActiveError
		abe *economy.AlreadyBannedError
		nee *economy.NotEligibleError
	)

	switch {
	case errors.As(err, &ve):
		return sendError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), map[string]string{
			"field": ve.Field,
		})
	case errors.As(err, &qe):
		return sendError(c, http.StatusBadRequest, "QUANTITY_EXCEEDED", err.Error(), map[string]string{
			"requested": strconv.Itoa(qe.Requested),
			"max":       strconv.Itoa(qe.Max),
		})
	case errors.As(err, &ife):
		return sendError(c, http.StatusConflict, "INSUFFICIENT_POINTS", err.Error(), map[string]string{
			"required":  strconv.FormatInt(ife.Required, 10),
			"available": strconv.FormatInt(ife.Available, 10),
		})
	case errors.As(err, &ist):
		return sendError(c, http.StatusConflict, "INVALID_STATE", err.Error(), map[string]string{
			"from": ist.From,
			"to":   ist.To,
		})
	case errors.As(err, &pae):
		return sendError(c, http.StatusForbidden, "PENALTY_ACTIVE", err.Error(), map[string]string{
			"offense_number":    strconv.Itoa(pae.OffenseNumber),
			"minutes_remaining": strconv.Itoa(pae.MinutesRemaining),
		})
	case errors.As(err, &abe):
		return sendError(c, http.StatusForbidden, "BANNED", err.Error(), nil)
	case errors.As(err, &nee):
		return sendError(c, http.StatusConflict, "NOT_ELIGIBLE", err.Error(), nil)
	case errors.Is(err, economy.ErrAlreadyPending):
		return sendError(c, http.StatusConflict, "ALREADY_PENDING", err.Error(), nil)
	case errors.Is(err, economy.ErrAlreadyDecided):
		return sendError(c, http.StatusConflict, "ALREADY_DECIDED", err.Error(), nil)
	case errors.Is(err, economy.ErrExpired):
		return sendError(c, http.StatusGone, "EXPIRED", err.Error(), nil)
	case errors.Is(err, economy.ErrNotFound):
		return sendError(c, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	}

	return sendError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error", nil)
}
