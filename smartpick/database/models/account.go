package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OwnerKind string

const (
	OwnerKindCustomer OwnerKind = "CUSTOMER"
	OwnerKindPartner  OwnerKind = "PARTNER"
)

// PointsAccount holds a principal's SmartPoints balance. Accounts are created
// at registration and never deleted, only zeroed.
type PointsAccount struct {
	bun.BaseModel `bun:"table:points_accounts,alias:pa"`

	ID        string    `bun:"id,pk"`
	OwnerID   string    `bun:"owner_id,notnull"`
	OwnerKind OwnerKind `bun:"owner_kind,notnull"`
	Balance   int64     `bun:"balance,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
