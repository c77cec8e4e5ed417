package models

import (
	"time"

	"github.com/uptrace/bun"
)

// PenaltyState is the per-user escalation aggregate. IsBanned is true only
// from the fourth offense on; PenaltyUntil is null while banned or clean.
type PenaltyState struct {
	bun.BaseModel `bun:"table:penalty_states,alias:ps"`

	UserID        string     `bun:"user_id,pk"`
	OffenseNumber int        `bun:"offense_number,notnull,default:0"`
	PenaltyUntil  *time.Time `bun:"penalty_until"`
	IsBanned      bool       `bun:"is_banned,notnull,default:false"`
	ResetCount    int        `bun:"reset_count,notnull,default:0"`
	LastPenaltyAt *time.Time `bun:"last_penalty_at"`

	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Penalty is one recorded offense. It survives clearing so the offense
// history stays auditable, and carries the partner for forgiveness routing.
type Penalty struct {
	bun.BaseModel `bun:"table:penalties,alias:p"`

	ID             string     `bun:"id,pk"`
	UserID         string     `bun:"user_id,notnull"`
	ReservationID  string     `bun:"reservation_id,notnull"`
	PartnerID      string     `bun:"partner_id,notnull"`
	OffenseNumber  int        `bun:"offense_number,notnull"`
	SuspendedUntil *time.Time `bun:"suspended_until"`
	IsBan          bool       `bun:"is_ban,notnull,default:false"`
	IsActive       bool       `bun:"is_active,notnull,default:true"`
	LiftedAt       *time.Time `bun:"lifted_at"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
