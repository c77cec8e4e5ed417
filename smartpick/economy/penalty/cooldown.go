package penalty

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/events"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/ledger"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

// Config tunes the paid-lift policy.
type Config struct {
	// RepeatableLifts allows more than one paid lift against the same
	// offense. Each repeat costs double the previous lift. When false a
	// second lift attempt fails NotEligible.
	RepeatableLifts bool
}

// CooldownManager gates reservation creation during an active penalty and
// sells the paid early-lift path out of offenses one and two.
type CooldownManager struct {
	engine *Engine
	points *ledger.Ledger
	txm    utils.TxRunner
	cfg    Config
}

func NewCooldownManager(engine *Engine, points *ledger.Ledger, txm utils.TxRunner, cfg Config) *CooldownManager {
	return &CooldownManager{
		engine: engine,
		points: points,
		txm:    txm,
		cfg:    cfg,
	}
}

// Gate rejects the user while a penalty is active. Clean and lapsed
// penalties pass.
func (cm *CooldownManager) Gate(ctx context.Context, userID string) error {
	status, err := cm.engine.CheckStatus(ctx, userID)
	if err != nil {
		return err
	}
	if status.IsBanned {
		return &economy.AlreadyBannedError{UserID: userID}
	}
	if status.IsPenalized {
		return &economy.PenaltyActiveError{
			UserID:           userID,
			OffenseNumber:    status.OffenseNumber,
			MinutesRemaining: status.MinutesRemaining,
		}
	}
	return nil
}

// liftCost returns the price of the next paid lift for an offense tier.
// The base cost equals the original penalty duration in minutes; repeat
// lifts double it per previous lift.
func liftCost(offense, resetCount int) int64 {
	var base int64
	switch offense {
	case 1:
		base = utils.FirstLiftCost
	case 2:
		base = utils.SecondLiftCost
	default:
		return 0
	}
	for i := 0; i < resetCount; i++ {
		base *= utils.RepeatLiftMultiplier
	}
	return base
}

// LiftWithPoints buys the current suspension off. Offenses one and two
// only; the deduction, the cleared penalty_until and the reset_count bump
// commit together or not at all. The balance-change event fires after
// commit.
func (cm *CooldownManager) LiftWithPoints(ctx context.Context, userID, accountID string) (int64, error) {
	var (
		change *events.BalanceChange
		cost   int64
	)
	err := cm.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		state, err := cm.engine.penalties.GetStateForUpdate(txCtx, db, userID)
		if err != nil {
			return economy.Storagef("lock penalty state", err)
		}

		switch {
		case state.IsBanned:
			return &economy.NotEligibleError{Reason: "permanent bans cannot be lifted"}
		case state.PenaltyUntil == nil || !state.PenaltyUntil.After(cm.engine.now()):
			return &economy.NotEligibleError{Reason: "no active penalty"}
		case state.OffenseNumber >= 3:
			return &economy.NotEligibleError{Reason: "not available for offense 3 or higher"}
		case state.ResetCount > 0 && !cm.cfg.RepeatableLifts:
			return &economy.NotEligibleError{Reason: "lift already used for this offense"}
		}

		cost = liftCost(state.OffenseNumber, state.ResetCount)
		change, err = cm.points.DeductTx(txCtx, db, ledger.Entry{
			AccountID: accountID,
			Amount:    cost,
			Reason:    models.ReasonPenaltyLift,
			Metadata: map[string]any{
				"offense_number": state.OffenseNumber,
				"lift_cost":      cost,
			},
		})
		if err != nil {
			return err
		}

		state.PenaltyUntil = nil
		state.ResetCount++
		if err := cm.engine.penalties.UpsertState(txCtx, db, state); err != nil {
			return economy.Storagef("save penalty state", err)
		}

		return cm.engine.retireActivePenalty(txCtx, db, userID)
	})
	if err != nil {
		return 0, err
	}

	cm.points.Bus().Publish(*change)

	slog.Info("Penalty lifted with points",
		slog.String("user_id", userID),
		slog.Int64("cost", cost),
		slog.Int64("balance", change.NewBalance))
	return change.NewBalance, nil
}
