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

type OfferRepository interface {
	Create(ctx context.Context, offer *models.Offer) error
	GetByID(ctx context.Context, id string) (*models.Offer, error)
	GetForUpdate(ctx context.Context, db bun.IDB, id string) (*models.Offer, error)
	AdjustAvailability(ctx context.Context, db bun.IDB, id string, delta int) error
}

type offerRepository struct {
	db *bun.DB
}

func NewOfferRepository(db *bun.DB) OfferRepository {
	return &offerRepository{db: db}
}

func (r *offerRepository) Create(ctx context.Context, offer *models.Offer) error {
	offer.CreatedAt = time.Now()
	offer.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(offer).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

func (r *offerRepository) GetByID(ctx context.Context, id string) (*models.Offer, error) {
	offer := new(models.Offer)
	err := r.db.NewSelect().
		Model(offer).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, err
	}
	return offer, nil
}

func (r *offerRepository) GetForUpdate(ctx context.Context, db bun.IDB, id string) (*models.Offer, error) {
	offer := new(models.Offer)
	err := db.NewSelect().
		Model(offer).
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock offer: %w", err)
	}
	return offer, nil
}

func (r *offerRepository) AdjustAvailability(ctx context.Context, db bun.IDB, id string, delta int) error {
	_, err := db.NewUpdate().
		Model((*models.Offer)(nil)).
		Set("quantity_available = quantity_available + ?", delta).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to adjust offer availability: %w", err)
	}
	return nil
}
