package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusPickedUp  ReservationStatus = "PICKED_UP"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// Terminal reports whether no further transition may leave this status.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationStatusPickedUp, ReservationStatusCancelled, ReservationStatusExpired:
		return true
	}
	return false
}

// Reservation is a customer's hold on offer units. Status transitions are
// append-only; rows are retained for history after reaching a terminal state.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations,alias:r"`

	ID         string            `bun:"id,pk"`
	OfferID    string            `bun:"offer_id,notnull"`
	CustomerID string            `bun:"customer_id,notnull"`
	PartnerID  string            `bun:"partner_id,notnull"`
	Quantity   int               `bun:"quantity,notnull"`
	PointsHeld int64             `bun:"points_held,notnull"`
	Status     ReservationStatus `bun:"status,notnull"`
	QRCode     string            `bun:"qr_code,notnull,unique"`

	ExpiresAt           time.Time  `bun:"expires_at,notnull"`
	PickedUpAt          *time.Time `bun:"picked_up_at"`
	UserConfirmedPickup bool       `bun:"user_confirmed_pickup,notnull,default:false"`
	NoShow              bool       `bun:"no_show,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
