package web

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/forgiveness"
)

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return sendSuccess(c, fiber.Map{
		"status":  "running",
		"version": s.app.Version,
		"commit":  s.app.Commit,
	}, "")
}

type openAccountRequest struct {
	OwnerID   string `json:"owner_id"`
	OwnerKind string `json:"owner_kind"`
}

func (s *Server) openAccount(c *fiber.Ctx) error {
	var req openAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBadRequest(c, "invalid request body")
	}
	kind := models.OwnerKind(req.OwnerKind)
	if kind != models.OwnerKindCustomer && kind != models.OwnerKindPartner {
		return sendBadRequest(c, "owner_kind must be CUSTOMER or PARTNER")
	}

	account, err := s.app.Ledger.OpenAccount(c.Context(), req.OwnerID, kind)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendCreated(c, account, "account opened")
}

func (s *Server) getBalance(c *fiber.Ctx) error {
	balance, err := s.app.Ledger.Balance(c.Context(), c.Params("id"))
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, fiber.Map{"account_id": c.Params("id"), "balance": balance}, "")
}

func (s *Server) getHistory(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	transactions, err := s.app.Ledger.History(c.Context(), c.Params("id"), limit)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, transactions, "")
}

type publishOfferRequest struct {
	PartnerID     string    `json:"partner_id"`
	Title         string    `json:"title"`
	PointsPerUnit int64     `json:"points_per_unit"`
	Quantity      int       `json:"quantity"`
	PickupStart   time.Time `json:"pickup_start"`
	PickupEnd     time.Time `json:"pickup_end"`
}

func (s *Server) publishOffer(c *fiber.Ctx) error {
	var req publishOfferRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBadRequest(c, "invalid request body")
	}

	offer, err := s.app.Offers.Publish(c.Context(), req.PartnerID, req.Title, req.PointsPerUnit, req.Quantity, req.PickupStart, req.PickupEnd)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendCreated(c, offer, "offer published")
}

func (s *Server) getOffer(c *fiber.Ctx) error {
	offer, err := s.app.Offers.Get(c.Context(), c.Params("id"))
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, offer, "")
}

type createReservationRequest struct {
	OfferID    string `json:"offer_id"`
	CustomerID string `json:"customer_id"`
	Quantity   int    `json:"quantity"`
}

func (s *Server) createReservation(c *fiber.Ctx) error {
	var req createReservationRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBadRequest(c, "invalid request body")
	}

	reservation, err := s.app.Reservations.Create(c.Context(), req.OfferID, req.CustomerID, req.Quantity)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendCreated(c, reservation, "reservation created")
}

type partnerActionRequest struct {
	PartnerID string `json:"partner_id"`
}

func (s *Server) markPickedUp(c *fiber.Ctx) error {
	var req partnerActionRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBadRequest(c, "invalid request body")
	}

	reservation, err := s.app.Reservations.MarkPickedUp(c.Context(), c.Params("id"), req.PartnerID)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, reservation, "pickup recorded")
}

type customerActionRequest struct {
	CustomerID string `json:"customer_id"`
}

func (s *Server) confirmPickup(c *fiber.Ctx) error {
	var req customerActionRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBadRequest(c, "invalid request body")
	}

	if err := s.app.Reservations.ConfirmPickup(c.Context(), c.Params("id"), req.CustomerID); err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, nil, "pickup confirmed")
}

func (s *Server) cancelReservation(c *fiber.Ctx) error {
	var req customerActionRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBadRequest(c, "invalid request body")
	}

	reservation, err := s.app.Reservations.Cancel(c.Context(), c.Params("id"), req.CustomerID)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, reservation, "reservation cancelled")
}

func (s *Server) listReservations(c *fiber.Ctx) error {
	reservations, err := s.app.Reservations.ListForCustomer(c.Context(), c.Params("id"))
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, reservations, "")
}

func (s *Server) cleanupHistory(c *fiber.Ctx) error {
	if err := s.app.Reservations.CleanupHistory(c.Context(), c.Params("id")); err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, nil, "history cleaned up")
}

func (s *Server) validateQR(c *fiber.Ctx) error {
	reservation, err := s.app.Reservations.ValidateQR(c.Context(), c.Params("code"))
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, reservation, "")
}

func (s *Server) penaltyStatus(c *fiber.Ctx) error {
	status, err := s.app.Penalties.CheckStatus(c.Context(), c.Params("id"))
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, status, "")
}

func (s *Server) penaltyHistory(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	penalties, err := s.app.Penalties.History(c.Context(), c.Params("id"), limit)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, penalties, "")
}

type liftRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) liftPenalty(c *fiber.Ctx) error {
	var req liftRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBadRequest(c, "invalid request body")
	}

	balance, err := s.app.Cooldowns.LiftWithPoints(c.Context(), c.Params("id"), req.AccountID)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, fiber.Map{"balance": balance}, "penalty lifted")
}

type forgivenessRequest struct {
	PenaltyID  string `json:"penalty_id"`
	CustomerID string `json:"customer_id"`
	Message    string `json:"message"`
}

func (s *Server) requestForgiveness(c *fiber.Ctx) error {
	var req forgivenessRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBadRequest(c, "invalid request body")
	}

	request, err := s.app.Forgiveness.Request(c.Context(), req.PenaltyID, req.CustomerID, req.Message)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendCreated(c, request, "forgiveness requested")
}

type decideRequest struct {
	PartnerID string `json:"partner_id"`
	Decision  string `json:"decision"`
	Note      string `json:"note"`
}

func (s *Server) decideForgiveness(c *fiber.Ctx) error {
	var req decideRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBadRequest(c, "invalid request body")
	}

	request, err := s.app.Forgiveness.Decide(c.Context(), c.Params("id"), req.PartnerID, forgiveness.Decision(req.Decision), req.Note)
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, request, "forgiveness decided")
}

func (s *Server) pendingForgiveness(c *fiber.Ctx) error {
	requests, err := s.app.Forgiveness.PendingForPartner(c.Context(), c.Params("id"))
	if err != nil {
		return sendEngineError(c, err)
	}
	return sendSuccess(c, requests, "")
}
