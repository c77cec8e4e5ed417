package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/uptrace/bun"
)

type ReservationRepository interface {
	Create(ctx context.Context, db bun.IDB, reservation *models.Reservation) error
	GetByID(ctx context.Context, id string) (*models.Reservation, error)
	GetForUpdate(ctx context.Context, db bun.IDB, id string) (*models.Reservation, error)
	GetByQRCode(ctx context.Context, qrCode string) (*models.Reservation, error)
	CountActiveByCustomer(ctx context.Context, db bun.IDB, customerID string) (int, error)
	Update(ctx context.Context, db bun.IDB, reservation *models.Reservation) error
	GetExpired(ctx context.Context, now time.Time) ([]*models.Reservation, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*models.Reservation, error)
	DeleteTerminalBefore(ctx context.Context, customerID string, cutoff time.Time) error
}

type reservationRepository struct {
	db *bun.DB
}

func NewReservationRepository(db *bun.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(ctx context.Context, db bun.IDB, reservation *models.Reservation) error {
	reservation.CreatedAt = time.Now()
	reservation.UpdatedAt = time.Now()
	reservation.Status = models.ReservationStatusActive
	_, err := db.NewInsert().Model(reservation).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (r *reservationRepository) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	reservation := new(models.Reservation)
	err := r.db.NewSelect().
		Model(reservation).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		slog.Error("Database error when getting reservation",
			slog.String("type", "db"),
			slog.String("operation", "GetByID"),
			slog.String("reservation_id", id),
			slog.String("error", err.Error()))
		return nil, err
	}
	return reservation, nil
}

func (r *reservationRepository) GetForUpdate(ctx context.Context, db bun.IDB, id string) (*models.Reservation, error) {
	reservation := new(models.Reservation)
	err := db.NewSelect().
		Model(reservation).
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}
	return reservation, nil
}

func (r *reservationRepository) GetByQRCode(ctx context.Context, qrCode string) (*models.Reservation, error) {
	reservation := new(models.Reservation)
	err := r.db.NewSelect().
		Model(reservation).
		Where("qr_code = ?", qrCode).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, err
	}
	return reservation, nil
}

// CountActiveByCustomer runs on the caller's transaction handle so the
// one-active-reservation check cannot race a concurrent create.
func (r *reservationRepository) CountActiveByCustomer(ctx context.Context, db bun.IDB, customerID string) (int, error) {
	count, err := db.NewSelect().
		Model((*models.Reservation)(nil)).
		Where("customer_id = ? AND status = ?", customerID, models.ReservationStatusActive).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count active reservations: %w", err)
	}
	return count, nil
}

func (r *reservationRepository) Update(ctx context.Context, db bun.IDB, reservation *models.Reservation) error {
	reservation.UpdatedAt = time.Now()
	_, err := db.NewUpdate().
		Model(reservation).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return nil
}

func (r *reservationRepository) GetExpired(ctx context.Context, now time.Time) ([]*models.Reservation, error) {
	var reservations []*models.Reservation
	err := r.db.NewSelect().
		Model(&reservations).
		Where("status = ?", models.ReservationStatusActive).
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired reservations: %w", err)
	}
	return reservations, nil
}

func (r *reservationRepository) ListByCustomer(ctx context.Context, customerID string) ([]*models.Reservation, error) {
	var reservations []*models.Reservation
	err := r.db.NewSelect().
		Model(&reservations).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, nil
}

// DeleteTerminalBefore prunes old history rows on explicit request. ACTIVE
// rows are never touched.
func (r *reservationRepository) DeleteTerminalBefore(ctx context.Context, customerID string, cutoff time.Time) error {
	_, err := r.db.NewDelete().
		Model((*models.Reservation)(nil)).
		Where("customer_id = ?", customerID).
		Where("status IN (?)", bun.In([]models.ReservationStatus{
			models.ReservationStatusPickedUp,
			models.ReservationStatusCancelled,
			models.ReservationStatusExpired,
		})).
		Where("updated_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete reservation history: %w", err)
	}
	return nil
}
