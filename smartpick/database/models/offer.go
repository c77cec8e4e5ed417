package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OfferStatus string

const (
	OfferStatusActive   OfferStatus = "ACTIVE"
	OfferStatusExpired  OfferStatus = "EXPIRED"
	OfferStatusDisabled OfferStatus = "DISABLED"
)

// Offer is a partner's limited-quantity discounted food offer. Reservation
// creation and cancellation move QuantityAvailable inside the same
// transaction as the reservation row.
type Offer struct {
	bun.BaseModel `bun:"table:offers,alias:o"`

	ID                string      `bun:"id,pk"`
	PartnerID         string      `bun:"partner_id,notnull"`
	Title             string      `bun:"title,notnull"`
	PointsPerUnit     int64       `bun:"points_per_unit,notnull"`
	QuantityTotal     int         `bun:"quantity_total,notnull"`
	QuantityAvailable int         `bun:"quantity_available,notnull"`
	PickupStart       time.Time   `bun:"pickup_start,notnull"`
	PickupEnd         time.Time   `bun:"pickup_end,notnull"`
	Status            OfferStatus `bun:"status,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
