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

type AccountRepository interface {
	Create(ctx context.Context, db bun.IDB, account *models.PointsAccount) error
	GetByID(ctx context.Context, id string) (*models.PointsAccount, error)
	GetByOwner(ctx context.Context, ownerID string, kind models.OwnerKind) (*models.PointsAccount, error)
	GetForUpdate(ctx context.Context, db bun.IDB, id string) (*models.PointsAccount, error)
	UpdateBalance(ctx context.Context, db bun.IDB, id string, balance int64) error
	InsertTransaction(ctx context.Context, db bun.IDB, tx *models.PointTransaction) error
	GetTransactions(ctx context.Context, accountID string, limit int) ([]*models.PointTransaction, error)
}

type accountRepository struct {
	db *bun.DB
}

func NewAccountRepository(db *bun.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, db bun.IDB, account *models.PointsAccount) error {
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()
	_, err := db.NewInsert().Model(account).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create points account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.PointsAccount, error) {
	account := new(models.PointsAccount)
	err := r.db.NewSelect().
		Model(account).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		slog.Error("Database error when getting account",
			slog.String("type", "db"),
			slog.String("operation", "GetByID"),
			slog.String("account_id", id),
			slog.String("error", err.Error()))
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) GetByOwner(ctx context.Context, ownerID string, kind models.OwnerKind) (*models.PointsAccount, error) {
	account := new(models.PointsAccount)
	err := r.db.NewSelect().
		Model(account).
		Where("owner_id = ? AND owner_kind = ?", ownerID, kind).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, err
	}
	return account, nil
}

// GetForUpdate row-locks the account inside the caller's transaction. Two
// concurrent deducts against the same account serialize here.
func (r *accountRepository) GetForUpdate(ctx context.Context, db bun.IDB, id string) (*models.PointsAccount, error) {
	account := new(models.PointsAccount)
	err := db.NewSelect().
		Model(account).
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, economy.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return account, nil
}

func (r *accountRepository) UpdateBalance(ctx context.Context, db bun.IDB, id string, balance int64) error {
	_, err := db.NewUpdate().
		Model((*models.PointsAccount)(nil)).
		Set("balance = ?", balance).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

func (r *accountRepository) InsertTransaction(ctx context.Context, db bun.IDB, tx *models.PointTransaction) error {
	tx.CreatedAt = time.Now()
	_, err := db.NewInsert().Model(tx).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert point transaction: %w", err)
	}
	return nil
}

func (r *accountRepository) GetTransactions(ctx context.Context, accountID string, limit int) ([]*models.PointTransaction, error) {
	var txs []*models.PointTransaction
	err := r.db.NewSelect().
		Model(&txs).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return txs, nil
}
