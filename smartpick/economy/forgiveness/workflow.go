// Package forgiveness runs the partner-mediated path out of a no-show
// penalty: the customer petitions, the affected partner decides, a grant
// lifts the suspension and restores one offense step.
package forgiveness

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/database/repositories"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/penalty"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

// Decision is the partner's verdict on a pending request.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// Workflow coordinates forgiveness requests against the penalty engine.
type Workflow struct {
	requests  repositories.ForgivenessRepository
	penalties repositories.PenaltyRepository
	engine    *penalty.Engine
	txm       utils.TxRunner
	now       func() time.Time
}

func NewWorkflow(requests repositories.ForgivenessRepository, penalties repositories.PenaltyRepository, engine *penalty.Engine, txm utils.TxRunner) *Workflow {
	return &Workflow{
		requests:  requests,
		penalties: penalties,
		engine:    engine,
		txm:       txm,
		now:       time.Now,
	}
}

// Request opens a petition against an active penalty. One PENDING request
// per penalty; the request expires on its own after the TTL.
func (w *Workflow) Request(ctx context.Context, penaltyID, customerID, message string) (*models.ForgivenessRequest, error) {
	penaltyRow, err := w.penalties.GetPenaltyByID(ctx, penaltyID)
	if err != nil {
		return nil, economy.Storagef("get penalty", err)
	}
	if penaltyRow.UserID != customerID {
		return nil, &economy.ValidationError{Field: "penalty_id", Reason: "penalty belongs to another user"}
	}
	if !penaltyRow.IsActive {
		return nil, &economy.NotEligibleError{Reason: "penalty is no longer active"}
	}
	if penaltyRow.IsBan {
		return nil, &economy.NotEligibleError{Reason: "bans cannot be forgiven"}
	}

	now := w.now()
	if penaltyRow.SuspendedUntil != nil && now.After(*penaltyRow.SuspendedUntil) {
		return nil, &economy.NotEligibleError{Reason: "penalty has already lapsed"}
	}

	request := &models.ForgivenessRequest{
		ID:          uuid.New().String(),
		PenaltyID:   penaltyID,
		UserID:      customerID,
		PartnerID:   penaltyRow.PartnerID,
		Message:     message,
		Status:      models.ForgivenessPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(utils.ForgivenessTTL),
	}
	err = w.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		pending, err := w.requests.HasPending(txCtx, db, penaltyID)
		if err != nil {
			return economy.Storagef("check pending", err)
		}
		if pending {
			return economy.ErrAlreadyPending
		}
		if err := w.requests.Create(txCtx, db, request); err != nil {
			return economy.Storagef("create request", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Forgiveness requested",
		slog.String("request_id", request.ID),
		slog.String("penalty_id", penaltyID),
		slog.String("user_id", customerID),
		slog.String("partner_id", request.PartnerID))
	return request, nil
}

// Decide settles a pending request. Only the affected partner may decide,
// exactly once. A request past its TTL is marked EXPIRED on touch and the
// decision rejected. ACCEPT lifts the suspension and steps the offense down
// one tier; REJECT records the verdict and changes nothing else.
func (w *Workflow) Decide(ctx context.Context, requestID, partnerID string, decision Decision, note string) (*models.ForgivenessRequest, error) {
	if decision != DecisionAccept && decision != DecisionReject {
		return nil, &economy.ValidationError{Field: "decision", Reason: "must be ACCEPT or REJECT"}
	}

	var (
		request *models.ForgivenessRequest
		lapsed  bool
	)
	err := w.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		var err error
		request, err = w.requests.GetForUpdate(txCtx, db, requestID)
		if err != nil {
			return economy.Storagef("lock request", err)
		}
		if request.PartnerID != partnerID {
			return &economy.ValidationError{Field: "partner_id", Reason: "request is addressed to another partner"}
		}
		if request.Status == models.ForgivenessExpired {
			return economy.ErrExpired
		}
		if request.Status.Decided() {
			return economy.ErrAlreadyDecided
		}

		now := w.now()
		if now.After(request.ExpiresAt) {
			// Lazy expiry: persist the EXPIRED mark, then reject the
			// decision after commit.
			lapsed = true
			request.Status = models.ForgivenessExpired
			return w.requests.Update(txCtx, db, request)
		}

		if decision == DecisionAccept {
			if err := w.engine.ClearTx(txCtx, db, request.UserID, false); err != nil {
				return err
			}
			if err := w.engine.StepDownOffense(txCtx, db, request.UserID); err != nil {
				return err
			}
			request.Status = models.ForgivenessAccepted
		} else {
			request.Status = models.ForgivenessRejected
		}
		request.DecidedBy = partnerID
		request.DecidedAt = &now
		request.ResponseNote = note
		if err := w.requests.Update(txCtx, db, request); err != nil {
			return economy.Storagef("update request", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		return nil, economy.ErrExpired
	}

	slog.Info("Forgiveness decided",
		slog.String("request_id", requestID),
		slog.String("partner_id", partnerID),
		slog.String("decision", string(decision)))
	return request, nil
}

// PendingForPartner lists the partner's open requests, newest first.
// Requests past their TTL are filtered out; they get their EXPIRED mark when
// next touched.
func (w *Workflow) PendingForPartner(ctx context.Context, partnerID string) ([]*models.ForgivenessRequest, error) {
	requests, err := w.requests.ListPendingByPartner(ctx, partnerID)
	if err != nil {
		return nil, economy.Storagef("list pending requests", err)
	}
	now := w.now()
	open := requests[:0]
	for _, r := range requests {
		if now.After(r.ExpiresAt) {
			continue
		}
		open = append(open, r)
	}
	return open, nil
}
