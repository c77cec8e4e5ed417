// Package penalty escalates no-show offenses into timed suspensions and
// permanent bans, and sells the paid early-lift path back out of them.
package penalty

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/database/repositories"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

// Duration maps an offense number to its suspension length. The second
// return is true when the offense is a permanent ban, in which case the
// duration is zero and meaningless.
func Duration(offense int) (time.Duration, bool) {
	switch {
	case offense <= 0:
		return 0, false
	case offense == 1:
		return utils.FirstOffenseMinutes * time.Minute, false
	case offense == 2:
		return utils.SecondOffenseMinutes * time.Minute, false
	case offense == 3:
		return utils.ThirdOffenseMinutes * time.Minute, false
	default:
		return 0, true
	}
}

// Status is a point-in-time read of a user's standing. Expiry is lazy: a
// penalty whose window has passed reports as inactive without any write.
type Status struct {
	IsPenalized      bool
	IsBanned         bool
	OffenseNumber    int
	MinutesRemaining int
	Until            *time.Time
}

// Engine owns penalty state transitions. All writes go through serializable
// transactions with the state row locked.
type Engine struct {
	penalties    repositories.PenaltyRepository
	reservations repositories.ReservationRepository
	txm          utils.TxRunner
	now          func() time.Time
}

func NewEngine(penalties repositories.PenaltyRepository, reservations repositories.ReservationRepository, txm utils.TxRunner) *Engine {
	return &Engine{
		penalties:    penalties,
		reservations: reservations,
		txm:          txm,
		now:          time.Now,
	}
}

// WithClock replaces the engine's time source and returns the engine.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ApplyNoShow records a missed pickup: the reservation is flagged no_show
// and the customer's offense escalates, all in one transaction. A banned
// user stays banned; re-applying fails with AlreadyBannedError.
func (e *Engine) ApplyNoShow(ctx context.Context, userID, reservationID string) (*models.Penalty, error) {
	var penalty *models.Penalty
	err := e.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		reservation, err := e.reservations.GetForUpdate(txCtx, db, reservationID)
		if err != nil {
			return economy.Storagef("load reservation", err)
		}
		reservation.NoShow = true
		if err := e.reservations.Update(txCtx, db, reservation); err != nil {
			return economy.Storagef("flag no-show", err)
		}

		penalty, err = e.ApplyNoShowTx(txCtx, db, userID, reservation.ID, reservation.PartnerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return penalty, nil
}

// ApplyNoShowTx escalates inside the caller's transaction. The expiry sweep
// uses this to combine the reservation transition and the penalty in one
// commit.
func (e *Engine) ApplyNoShowTx(ctx context.Context, db bun.IDB, userID, reservationID, partnerID string) (*models.Penalty, error) {
	state, err := e.penalties.GetStateForUpdate(ctx, db, userID)
	if err != nil {
		return nil, economy.Storagef("lock penalty state", err)
	}
	if state.IsBanned {
		return nil, &economy.AlreadyBannedError{UserID: userID}
	}

	now := e.now()
	offense := state.OffenseNumber + 1
	duration, ban := Duration(offense)

	state.OffenseNumber = offense
	state.ResetCount = 0
	state.LastPenaltyAt = &now
	if ban {
		state.IsBanned = true
		state.PenaltyUntil = nil
	} else {
		until := now.Add(duration)
		state.PenaltyUntil = &until
	}
	if err := e.penalties.UpsertState(ctx, db, state); err != nil {
		return nil, economy.Storagef("save penalty state", err)
	}

	penalty := &models.Penalty{
		ID:             uuid.New().String(),
		UserID:         userID,
		ReservationID:  reservationID,
		PartnerID:      partnerID,
		OffenseNumber:  offense,
		SuspendedUntil: state.PenaltyUntil,
		IsBan:          ban,
		IsActive:       true,
	}
	if err := e.penalties.CreatePenalty(ctx, db, penalty); err != nil {
		return nil, economy.Storagef("create penalty", err)
	}

	slog.Info("No-show penalty applied",
		slog.String("user_id", userID),
		slog.String("reservation_id", reservationID),
		slog.Int("offense", offense),
		slog.Bool("ban", ban))
	return penalty, nil
}

// CheckStatus reads the user's standing without writing. A penalty past its
// window reports as inactive; the stored row is reconciled on the next write.
func (e *Engine) CheckStatus(ctx context.Context, userID string) (*Status, error) {
	state, err := e.penalties.GetState(ctx, userID)
	if err != nil {
		return nil, economy.Storagef("get penalty state", err)
	}
	return e.statusOf(state), nil
}

func (e *Engine) statusOf(state *models.PenaltyState) *Status {
	status := &Status{OffenseNumber: state.OffenseNumber}
	if state.IsBanned {
		status.IsBanned = true
		return status
	}
	if state.PenaltyUntil == nil {
		return status
	}
	remaining := state.PenaltyUntil.Sub(e.now())
	if remaining <= 0 {
		return status
	}
	status.IsPenalized = true
	status.MinutesRemaining = int(math.Ceil(remaining.Minutes()))
	status.Until = state.PenaltyUntil
	return status
}

// Clear lifts the current suspension. Offense history and the ban flag are
// kept unless clearBan is set, which resets the user entirely.
func (e *Engine) Clear(ctx context.Context, userID string, clearBan bool) error {
	return e.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		return e.ClearTx(txCtx, db, userID, clearBan)
	})
}

// ClearTx lifts inside the caller's transaction. The latest active penalty
// row is retired so forgiveness and audit views see it as lifted.
func (e *Engine) ClearTx(ctx context.Context, db bun.IDB, userID string, clearBan bool) error {
	state, err := e.penalties.GetStateForUpdate(ctx, db, userID)
	if err != nil {
		return economy.Storagef("lock penalty state", err)
	}

	state.PenaltyUntil = nil
	if clearBan {
		state.OffenseNumber = 0
		state.IsBanned = false
		state.ResetCount = 0
	}
	if err := e.penalties.UpsertState(ctx, db, state); err != nil {
		return economy.Storagef("save penalty state", err)
	}

	if err := e.retireActivePenalty(ctx, db, userID); err != nil {
		return err
	}

	slog.Info("Penalty cleared",
		slog.String("user_id", userID),
		slog.Bool("clear_ban", clearBan))
	return nil
}

// StepDownOffense lowers the offense number by one, floored at zero. Used by
// a granted forgiveness to restore reliability standing.
func (e *Engine) StepDownOffense(ctx context.Context, db bun.IDB, userID string) error {
	state, err := e.penalties.GetStateForUpdate(ctx, db, userID)
	if err != nil {
		return economy.Storagef("lock penalty state", err)
	}
	if state.IsBanned || state.OffenseNumber == 0 {
		return nil
	}
	state.OffenseNumber--
	if err := e.penalties.UpsertState(ctx, db, state); err != nil {
		return economy.Storagef("save penalty state", err)
	}
	return nil
}

// History returns the user's recorded offenses, newest first. Cleared
// penalties remain listed with their lifted timestamp.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]*models.Penalty, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	penalties, err := e.penalties.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, economy.Storagef("list penalties", err)
	}
	return penalties, nil
}

func (e *Engine) retireActivePenalty(ctx context.Context, db bun.IDB, userID string) error {
	penalty, err := e.penalties.GetActivePenaltyForUpdate(ctx, db, userID)
	if err != nil {
		if errors.Is(err, economy.ErrNotFound) {
			return nil
		}
		return economy.Storagef("lock penalty", err)
	}
	now := e.now()
	penalty.IsActive = false
	penalty.LiftedAt = &now
	if err := e.penalties.UpdatePenalty(ctx, db, penalty); err != nil {
		return economy.Storagef("retire penalty", err)
	}
	return nil
}
