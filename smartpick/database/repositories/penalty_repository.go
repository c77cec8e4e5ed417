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

type PenaltyRepository interface {
	GetState(ctx context.Context, userID string) (*models.PenaltyState, error)
	GetStateForUpdate(ctx context.Context, db bun.IDB, userID string) (*models.PenaltyState, error)
	UpsertState(ctx context.Context, db bun.IDB, state *models.PenaltyState) error
	CreatePenalty(ctx context.Context, db bun.IDB, penalty *models.Penalty) error
	GetPenaltyByID(ctx context.Context, id string) (*models.Penalty, error)
	GetActivePenaltyForUpdate(ctx context.Context, db bun.IDB, userID string) (*models.Penalty, error)
	UpdatePenalty(ctx context.Context, db bun.IDB, penalty *models.Penalty) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Penalty, error)
}

type penaltyRepository struct {
	db *bun.DB
}

func NewPenaltyRepository(db *bun.DB) PenaltyRepository {
	return &penaltyRepository{db: db}
}

// GetState returns a zero-value state for users with no offense history so
// callers never branch on missing rows.
func (r *penaltyRepository) GetState(ctx context.Context, userID string) (*models.PenaltyState, error) {
	state := new(models.PenaltyState)
	err := r.db.NewSelect().
		Model(state).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.PenaltyState{UserID: userID}, nil
		}
		return nil, err
	}
	return state, nil
}

func (r *penaltyRepository) GetStateForUpdate(ctx context.Context, db bun.IDB, userID string) (*models.PenaltyState, error) {
	state := new(models.PenaltyState)
	err := db.NewSelect().
		Model(state).
		Where("user_id = ?", userID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.PenaltyState{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to lock penalty state: %w", err)
	}
	return state, nil
}

func (r *penaltyRepository) UpsertState(ctx context.Context, db bun.IDB, state *models.PenaltyState) error {
	state.UpdatedAt = time.Now()
	_, err := db.NewInsert().
		Model(state).
		On("CONFLICT (user_id) DO UPDATE").
		Set("offense_number = EXCLUDED.offense_number").
		Set("penalty_until = EXCLUDED.penalty_until").
		Set("is_banned = EXCLUDED.is_banned").
		Set("reset_count = EXCLUDED.reset_count").
		Set("last_penalty_at = EXCLUDED.last_penalty_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert penalty state: %w", err)
	}
	return nil
}

func (r *penaltyRepository) CreatePenalty(ctx context.Context, db bun.IDB, penalty *models.Penalty) error {
	penalty.CreatedAt = time.Now()
	penalty.UpdatedAt = time.Now()
	_, err := db.NewInsert().Model(penalty).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create penalty: %w", err)
	}
	return nil
}

func (r *penaltyRepository) GetPenaltyByID(ctx context.Context, id string) (*models.Penalty, error) {
	penalty := new(models.Penalty)
	err := r.db.NewSelect().
		Model(penalty).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, err
	}
	return penalty, nil
}

// GetActivePenaltyForUpdate row-locks the latest active penalty inside the
// caller's transaction.
func (r *penaltyRepository) GetActivePenaltyForUpdate(ctx context.Context, db bun.IDB, userID string) (*models.Penalty, error) {
	penalty := new(models.Penalty)
	err := db.NewSelect().
		Model(penalty).
		Where("user_id = ? AND is_active = TRUE", userID).
		Order("created_at DESC").
		Limit(1).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock penalty: %w", err)
	}
	return penalty, nil
}

func (r *penaltyRepository) UpdatePenalty(ctx context.Context, db bun.IDB, penalty *models.Penalty) error {
	penalty.UpdatedAt = time.Now()
	_, err := db.NewUpdate().
		Model(penalty).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update penalty: %w", err)
	}
	return nil
}

func (r *penaltyRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Penalty, error) {
	var penalties []*models.Penalty
	err := r.db.NewSelect().
		Model(&penalties).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list penalties: %w", err)
	}
	return penalties, nil
}
