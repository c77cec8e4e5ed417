package ledger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/database/repositories"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/events"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

// Ledger is the single write path for SmartPoints balances. Every mutation
// row-locks the account, records an audit transaction with before/after
// balances, and announces the new balance on the bus after commit.
type Ledger struct {
	accounts repositories.AccountRepository
	txm      utils.TxRunner
	bus      *events.Bus
}

// Entry describes one balance mutation. Amount is always positive; the
// operation (deduct or add) determines the sign of the recorded change.
type Entry struct {
	AccountID string
	Amount    int64
	Reason    models.TransactionReason
	Metadata  map[string]any
}

func New(accounts repositories.AccountRepository, txm utils.TxRunner, bus *events.Bus) *Ledger {
	return &Ledger{
		accounts: accounts,
		txm:      txm,
		bus:      bus,
	}
}

// Bus exposes the balance-change bus so lifecycle managers can publish the
// changes they collected once their own transaction has committed.
func (l *Ledger) Bus() *events.Bus {
	return l.bus
}

// OpenAccount creates a points account for an owner and seeds it with the
// registration grant. Opening twice for the same owner fails on the unique
// owner constraint.
func (l *Ledger) OpenAccount(ctx context.Context, ownerID string, kind models.OwnerKind) (*models.PointsAccount, error) {
	account := &models.PointsAccount{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		OwnerKind: kind,
		Balance:   0,
	}

	var change *events.BalanceChange
	err := l.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		if err := l.accounts.Create(txCtx, db, account); err != nil {
			return economy.Storagef("open account", err)
		}
		var err error
		change, err = l.AddTx(txCtx, db, Entry{
			AccountID: account.ID,
			Amount:    utils.StartingBalance,
			Reason:    models.ReasonRegistration,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	account.Balance = change.NewBalance
	l.bus.Publish(*change)

	slog.Info("Points account opened",
		slog.String("account_id", account.ID),
		slog.String("owner_id", ownerID),
		slog.String("owner_kind", string(kind)),
		slog.Int64("balance", account.Balance))
	return account, nil
}

// Balance returns the current balance for an account.
func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	account, err := l.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, economy.Storagef("get balance", err)
	}
	return account.Balance, nil
}

// Deduct atomically removes points from an account. Fails with
// InsufficientFundsError when the balance cannot cover the amount, leaving
// the account untouched.
func (l *Ledger) Deduct(ctx context.Context, e Entry) (int64, error) {
	var change *events.BalanceChange
	err := l.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		var err error
		change, err = l.DeductTx(txCtx, db, e)
		return err
	})
	if err != nil {
		return 0, err
	}

	l.bus.Publish(*change)
	return change.NewBalance, nil
}

// Add atomically credits points to an account.
func (l *Ledger) Add(ctx context.Context, e Entry) (int64, error) {
	var change *events.BalanceChange
	err := l.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		var err error
		change, err = l.AddTx(txCtx, db, e)
		return err
	})
	if err != nil {
		return 0, err
	}

	l.bus.Publish(*change)
	return change.NewBalance, nil
}

// PairedCredit credits the given accounts in one transaction. Either all
// credits land or none do. Used for the cancellation split where the held
// points are divided between partner and customer.
func (l *Ledger) PairedCredit(ctx context.Context, entries ...Entry) error {
	var changes []events.BalanceChange
	err := l.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		var err error
		changes, err = l.PairedCreditTx(txCtx, db, entries...)
		return err
	})
	if err != nil {
		return err
	}

	l.bus.Publish(changes...)
	return nil
}

// PairedCreditTx is PairedCredit inside the caller's transaction. The caller
// publishes the returned changes after commit.
func (l *Ledger) PairedCreditTx(ctx context.Context, db bun.IDB, entries ...Entry) ([]events.BalanceChange, error) {
	changes := make([]events.BalanceChange, 0, len(entries))
	for _, e := range entries {
		change, err := l.AddTx(ctx, db, e)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}
	return changes, nil
}

// DeductTx performs a deduction inside the caller's transaction and returns
// the balance change to publish after the caller commits.
func (l *Ledger) DeductTx(ctx context.Context, db bun.IDB, e Entry) (*events.BalanceChange, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}
	metadata, err := SanitizeMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}

	account, err := l.accounts.GetForUpdate(ctx, db, e.AccountID)
	if err != nil {
		return nil, economy.Storagef("lock account", err)
	}
	if account.Balance < e.Amount {
		return nil, &economy.InsufficientFundsError{
			AccountID: e.AccountID,
			Required:  e.Amount,
			Available: account.Balance,
		}
	}

	newBalance := account.Balance - e.Amount
	if err := l.record(ctx, db, account, -e.Amount, newBalance, e.Reason, metadata); err != nil {
		return nil, err
	}

	return &events.BalanceChange{AccountID: e.AccountID, NewBalance: newBalance}, nil
}

// AddTx performs a credit inside the caller's transaction and returns the
// balance change to publish after the caller commits.
func (l *Ledger) AddTx(ctx context.Context, db bun.IDB, e Entry) (*events.BalanceChange, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}
	metadata, err := SanitizeMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}

	account, err := l.accounts.GetForUpdate(ctx, db, e.AccountID)
	if err != nil {
		return nil, economy.Storagef("lock account", err)
	}

	newBalance := account.Balance + e.Amount
	if err := l.record(ctx, db, account, e.Amount, newBalance, e.Reason, metadata); err != nil {
		return nil, err
	}

	return &events.BalanceChange{AccountID: e.AccountID, NewBalance: newBalance}, nil
}

func (l *Ledger) record(ctx context.Context, db bun.IDB, account *models.PointsAccount, change, newBalance int64, reason models.TransactionReason, metadata map[string]any) error {
	tx := &models.PointTransaction{
		ID:            uuid.New().String(),
		AccountID:     account.ID,
		Change:        change,
		Reason:        reason,
		BalanceBefore: account.Balance,
		BalanceAfter:  newBalance,
		Metadata:      metadata,
	}
	if err := l.accounts.InsertTransaction(ctx, db, tx); err != nil {
		return economy.Storagef("insert transaction", err)
	}
	if err := l.accounts.UpdateBalance(ctx, db, account.ID, newBalance); err != nil {
		return economy.Storagef("update balance", err)
	}
	return nil
}

// History returns the most recent transactions for an account, newest first.
func (l *Ledger) History(ctx context.Context, accountID string, limit int) ([]*models.PointTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txs, err := l.accounts.GetTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, economy.Storagef("get transactions", err)
	}
	return txs, nil
}

func validateEntry(e Entry) error {
	if e.AccountID == "" {
		return &economy.ValidationError{Field: "account_id", Reason: "must not be empty"}
	}
	if e.Amount <= 0 {
		return &economy.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !e.Reason.Valid() {
		return &economy.ValidationError{Field: "reason", Reason: "unknown transaction reason"}
	}
	return nil
}
