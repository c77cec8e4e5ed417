package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ForgivenessStatus string

const (
	ForgivenessPending  ForgivenessStatus = "PENDING"
	ForgivenessAccepted ForgivenessStatus = "ACCEPTED"
	ForgivenessRejected ForgivenessStatus = "REJECTED"
	ForgivenessExpired  ForgivenessStatus = "EXPIRED"
)

// Decided reports whether the request reached a terminal decision.
func (s ForgivenessStatus) Decided() bool {
	return s == ForgivenessAccepted || s == ForgivenessRejected || s == ForgivenessExpired
}

// ForgivenessRequest is a customer's petition to the affected partner to
// waive an active penalty. At most one PENDING request exists per penalty.
type ForgivenessRequest struct {
	bun.BaseModel `bun:"table:forgiveness_requests,alias:fr"`

	ID        string            `bun:"id,pk"`
	PenaltyID string            `bun:"penalty_id,notnull"`
	UserID    string            `bun:"user_id,notnull"`
	PartnerID string            `bun:"partner_id,notnull"`
	Message   string            `bun:"message"`
	Status    ForgivenessStatus `bun:"status,notnull"`

	RequestedAt  time.Time  `bun:"requested_at,notnull"`
	ExpiresAt    time.Time  `bun:"expires_at,notnull"`
	DecidedBy    string     `bun:"decided_by"`
	DecidedAt    *time.Time `bun:"decided_at"`
	ResponseNote string     `bun:"response_note"`

	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
