package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TransactionReason is the closed set of business reasons a balance can move.
type TransactionReason string

const (
	ReasonRegistration       TransactionReason = "REGISTRATION"
	ReasonReservationHold    TransactionReason = "RESERVATION_HOLD"
	ReasonReservationRefund  TransactionReason = "RESERVATION_REFUND"
	ReasonCancelCompensation TransactionReason = "CANCEL_COMPENSATION"
	ReasonPickupReward       TransactionReason = "PICKUP_REWARD"
	ReasonPenaltyForfeit     TransactionReason = "PENALTY_FORFEIT"
	ReasonPenaltyLift        TransactionReason = "PENALTY_LIFT"
	ReasonPurchase           TransactionReason = "PURCHASE"
	ReasonAdminAdjustment    TransactionReason = "ADMIN_ADJUSTMENT"
)

// Valid reports whether the reason belongs to the closed set.
func (r TransactionReason) Valid() bool {
	switch r {
	case ReasonRegistration, ReasonReservationHold, ReasonReservationRefund,
		ReasonCancelCompensation, ReasonPickupReward, ReasonPenaltyForfeit,
		ReasonPenaltyLift, ReasonPurchase, ReasonAdminAdjustment:
		return true
	}
	return false
}

// PointTransaction is an immutable ledger row. The ordered sequence of rows
// for an account must reduce to its current balance.
type PointTransaction struct {
	bun.BaseModel `bun:"table:point_transactions,alias:pt"`

	ID            string            `bun:"id,pk"`
	AccountID     string            `bun:"account_id,notnull"`
	Change        int64             `bun:"change,notnull"`
	Reason        TransactionReason `bun:"reason,notnull"`
	BalanceBefore int64             `bun:"balance_before,notnull"`
	BalanceAfter  int64             `bun:"balance_after,notnull"`
	Metadata      map[string]any    `bun:"metadata,type:jsonb"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
