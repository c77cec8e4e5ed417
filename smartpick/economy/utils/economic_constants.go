package utils

import "time"

// Reservation Constants
const (
	MaxReservationQuantity = 3 // Per-offer unit cap for one reservation
	MaxActiveReservations  = 1 // Concurrent ACTIVE reservations per customer
	ReservationHoldMinutes = 60
	QRMaxRetries           = 3 // Retries on qr_code unique collision
	HistoryRetentionDays   = 10
)

// Penalty Escalation (minutes per offense; 4+ is a permanent ban)
const (
	FirstOffenseMinutes  = 30
	SecondOffenseMinutes = 90
	ThirdOffenseMinutes  = 1440
	BanOffenseThreshold  = 4
)

// Cooldown Lift Constants
const (
	// Lift cost equals the original penalty duration in minutes.
	FirstLiftCost  = FirstOffenseMinutes
	SecondLiftCost = SecondOffenseMinutes
	// Repeat lifts against the same offense double the previous cost.
	RepeatLiftMultiplier = 2
)

// Forgiveness Constants
const (
	ForgivenessTTL = 24 * time.Hour
)

// Points Constants
const (
	StartingBalance = 100 // REGISTRATION grant for new accounts
)

// Transaction Constants
const (
	DefaultTxTimeout = 30 * time.Second // Default transaction timeout
	SweepInterval    = 15 * time.Second // Expiry sweep ticker interval
	OfferCacheSize   = 10000
	OfferCacheExpiry = 5 * time.Minute
)
