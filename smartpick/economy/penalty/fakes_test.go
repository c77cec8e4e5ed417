package penalty

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTransaction(ctx context.Context, _ *utils.TransactionOptions, fn func(context.Context, bun.IDB) error) error {
	return fn(ctx, nil)
}

type fakePenaltyRepo struct {
	states    map[string]*models.PenaltyState
	penalties []*models.Penalty
	upserts   int
}

func newFakePenaltyRepo() *fakePenaltyRepo {
	return &fakePenaltyRepo{states: make(map[string]*models.PenaltyState)}
}

func (r *fakePenaltyRepo) setState(state *models.PenaltyState) {
	r.states[state.UserID] = state
}

func (r *fakePenaltyRepo) GetState(_ context.Context, userID string) (*models.PenaltyState, error) {
	if state, ok := r.states[userID]; ok {
		copied := *state
		return &copied, nil
	}
	return &models.PenaltyState{UserID: userID}, nil
}

func (r *fakePenaltyRepo) GetStateForUpdate(ctx context.Context, _ bun.IDB, userID string) (*models.PenaltyState, error) {
	return r.GetState(ctx, userID)
}

func (r *fakePenaltyRepo) UpsertState(_ context.Context, _ bun.IDB, state *models.PenaltyState) error {
	copied := *state
	r.states[state.UserID] = &copied
	r.upserts++
	return nil
}

func (r *fakePenaltyRepo) CreatePenalty(_ context.Context, _ bun.IDB, penalty *models.Penalty) error {
	copied := *penalty
	r.penalties = append(r.penalties, &copied)
	return nil
}

func (r *fakePenaltyRepo) GetPenaltyByID(_ context.Context, id string) (*models.Penalty, error) {
	for _, p := range r.penalties {
		if p.ID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, economy.ErrNotFound
}

func (r *fakePenaltyRepo) GetActivePenaltyForUpdate(_ context.Context, _ bun.IDB, userID string) (*models.Penalty, error) {
	for i := len(r.penalties) - 1; i >= 0; i-- {
		if r.penalties[i].UserID == userID && r.penalties[i].IsActive {
			copied := *r.penalties[i]
			return &copied, nil
		}
	}
	return nil, economy.ErrNotFound
}

func (r *fakePenaltyRepo) UpdatePenalty(_ context.Context, _ bun.IDB, penalty *models.Penalty) error {
	for i, p := range r.penalties {
		if p.ID == penalty.ID {
			copied := *penalty
			r.penalties[i] = &copied
			return nil
		}
	}
	return economy.ErrNotFound
}

func (r *fakePenaltyRepo) ListByUser(_ context.Context, userID string, limit int) ([]*models.Penalty, error) {
	var out []*models.Penalty
	for i := len(r.penalties) - 1; i >= 0 && len(out) < limit; i-- {
		if r.penalties[i].UserID == userID {
			out = append(out, r.penalties[i])
		}
	}
	return out, nil
}

type fakeReservationRepo struct {
	reservations map[string]*models.Reservation
}

func newFakeReservationRepo(reservations ...*models.Reservation) *fakeReservationRepo {
	repo := &fakeReservationRepo{reservations: make(map[string]*models.Reservation)}
	for _, res := range reservations {
		repo.reservations[res.ID] = res
	}
	return repo
}

func (r *fakeReservationRepo) Create(_ context.Context, _ bun.IDB, reservation *models.Reservation) error {
	reservation.Status = models.ReservationStatusActive
	r.reservations[reservation.ID] = reservation
	return nil
}

func (r *fakeReservationRepo) GetByID(_ context.Context, id string) (*models.Reservation, error) {
	res, ok := r.reservations[id]
	if !ok {
		return nil, economy.ErrNotFound
	}
	copied := *res
	return &copied, nil
}

func (r *fakeReservationRepo) GetForUpdate(ctx context.Context, _ bun.IDB, id string) (*models.Reservation, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeReservationRepo) GetByQRCode(_ context.Context, qrCode string) (*models.Reservation, error) {
	for _, res := range r.reservations {
		if res.QRCode == qrCode {
			copied := *res
			return &copied, nil
		}
	}
	return nil, economy.ErrNotFound
}

func (r *fakeReservationRepo) CountActiveByCustomer(_ context.Context, _ bun.IDB, customerID string) (int, error) {
	count := 0
	for _, res := range r.reservations {
		if res.CustomerID == customerID && res.Status == models.ReservationStatusActive {
			count++
		}
	}
	return count, nil
}

func (r *fakeReservationRepo) Update(_ context.Context, _ bun.IDB, reservation *models.Reservation) error {
	if _, ok := r.reservations[reservation.ID]; !ok {
		return economy.ErrNotFound
	}
	copied := *reservation
	r.reservations[reservation.ID] = &copied
	return nil
}

func (r *fakeReservationRepo) GetExpired(_ context.Context, now time.Time) ([]*models.Reservation, error) {
	var out []*models.Reservation
	for _, res := range r.reservations {
		if res.Status == models.ReservationStatusActive && !res.ExpiresAt.After(now) {
			copied := *res
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeReservationRepo) ListByCustomer(_ context.Context, customerID string) ([]*models.Reservation, error) {
	var out []*models.Reservation
	for _, res := range r.reservations {
		if res.CustomerID == customerID {
			copied := *res
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeReservationRepo) DeleteTerminalBefore(_ context.Context, customerID string, cutoff time.Time) error {
	for id, res := range r.reservations {
		if res.CustomerID == customerID && res.Status.Terminal() && res.CreatedAt.Before(cutoff) {
			delete(r.reservations, id)
		}
	}
	return nil
}

type fakeAccountRepo struct {
	accounts map[string]*models.PointsAccount
	txs      []*models.PointTransaction
}

func newFakeAccountRepo(accounts ...*models.PointsAccount) *fakeAccountRepo {
	repo := &fakeAccountRepo{accounts: make(map[string]*models.PointsAccount)}
	for _, a := range accounts {
		repo.accounts[a.ID] = a
	}
	return repo
}

func (r *fakeAccountRepo) Create(_ context.Context, _ bun.IDB, account *models.PointsAccount) error {
	r.accounts[account.ID] = account
	return nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id string) (*models.PointsAccount, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, economy.ErrNotFound
	}
	return account, nil
}

func (r *fakeAccountRepo) GetByOwner(_ context.Context, ownerID string, kind models.OwnerKind) (*models.PointsAccount, error) {
	for _, a := range r.accounts {
		if a.OwnerID == ownerID && a.OwnerKind == kind {
			return a, nil
		}
	}
	return nil, economy.ErrNotFound
}

func (r *fakeAccountRepo) GetForUpdate(_ context.Context, _ bun.IDB, id string) (*models.PointsAccount, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, economy.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *fakeAccountRepo) UpdateBalance(_ context.Context, _ bun.IDB, id string, balance int64) error {
	account, ok := r.accounts[id]
	if !ok {
		return economy.ErrNotFound
	}
	account.Balance = balance
	return nil
}

func (r *fakeAccountRepo) InsertTransaction(_ context.Context, _ bun.IDB, tx *models.PointTransaction) error {
	r.txs = append(r.txs, tx)
	return nil
}

func (r *fakeAccountRepo) GetTransactions(_ context.Context, accountID string, limit int) ([]*models.PointTransaction, error) {
	var out []*models.PointTransaction
	for i := len(r.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.txs[i].AccountID == accountID {
			out = append(out, r.txs[i])
		}
	}
	return out, nil
}
