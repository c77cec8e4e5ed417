package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/uptrace/bun"
)

type ForgivenessRepository interface {
	Create(ctx context.Context, db bun.IDB, request *models.ForgivenessRequest) error
	GetByID(ctx context.Context, id string) (*models.ForgivenessRequest, error)
	GetForUpdate(ctx context.Context, db bun.IDB, id string) (*models.ForgivenessRequest, error)
	HasPending(ctx context.Context, db bun.IDB, penaltyID string) (bool, error)
	Update(ctx context.Context, db bun.IDB, request *models.ForgivenessRequest) error
	ListPendingByPartner(ctx context.Context, partnerID string) ([]*models.ForgivenessRequest, error)
}

type forgivenessRepository struct {
	db *bun.DB
}

func NewForgivenessRepository(db *bun.DB) ForgivenessRepository {
	return &forgivenessRepository{db: db}
}

func (r *forgivenessRepository) Create(ctx context.Context, db bun.IDB, request *models.ForgivenessRequest) error {
	request.UpdatedAt = time.Now()
	_, err := db.NewInsert().Model(request).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create forgiveness request: %w", err)
	}
	return nil
}

func (r *forgivenessRepository) GetByID(ctx context.Context, id string) (*models.ForgivenessRequest, error) {
	request := new(models.ForgivenessRequest)
	err := r.db.NewSelect().
		Model(request).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, err
	}
	return request, nil
}

func (r *forgivenessRepository) GetForUpdate(ctx context.Context, db bun.IDB, id string) (*models.ForgivenessRequest, error) {
	request := new(models.ForgivenessRequest)
	err := db.NewSelect().
		Model(request).
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock forgiveness request: %w", err)
	}
	return request, nil
}

// HasPending runs on the caller's transaction handle so the check and the
// subsequent insert see the same snapshot.
func (r *forgivenessRepository) HasPending(ctx context.Context, db bun.IDB, penaltyID string) (bool, error) {
	count, err := db.NewSelect().
		Model((*models.ForgivenessRequest)(nil)).
		Where("penalty_id = ? AND status = ?", penaltyID, models.ForgivenessPending).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check pending forgiveness: %w", err)
	}
	return count > 0, nil
}

func (r *forgivenessRepository) Update(ctx context.Context, db bun.IDB, request *models.ForgivenessRequest) error {
	request.UpdatedAt = time.Now()
	_, err := db.NewUpdate().
		Model(request).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update forgiveness request: %w", err)
	}
	return nil
}

func (r *forgivenessRepository) ListPendingByPartner(ctx context.Context, partnerID string) ([]*models.ForgivenessRequest, error) {
	var requests []*models.ForgivenessRequest
	err := r.db.NewSelect().
		Model(&requests).
		Where("partner_id = ? AND status = ?", partnerID, models.ForgivenessPending).
		Order("requested_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending forgiveness requests: %w", err)
	}
	return requests, nil
}
