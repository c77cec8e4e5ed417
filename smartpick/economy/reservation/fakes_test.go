package reservation

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/events"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/ledger"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/penalty"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

// stubTxHandle stands in for the bun.Tx a real runner would hand the
// closure, letting fakes record which handle a query ran on.
type stubTxHandle struct{ bun.IDB }

var txHandle = &stubTxHandle{}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTransaction(ctx context.Context, _ *utils.TransactionOptions, fn func(context.Context, bun.IDB) error) error {
	return fn(ctx, txHandle)
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

type fakeOfferRepo struct {
	offers map[string]*models.Offer
}

func newFakeOfferRepo(offers ...*models.Offer) *fakeOfferRepo {
	repo := &fakeOfferRepo{offers: make(map[string]*models.Offer)}
	for _, o := range offers {
		repo.offers[o.ID] = o
	}
	return repo
}

func (r *fakeOfferRepo) Create(_ context.Context, offer *models.Offer) error {
	r.offers[offer.ID] = offer
	return nil
}

func (r *fakeOfferRepo) GetByID(_ context.Context, id string) (*models.Offer, error) {
	offer, ok := r.offers[id]
	if !ok {
		return nil, economy.ErrNotFound
	}
	copied := *offer
	return &copied, nil
}

func (r *fakeOfferRepo) GetForUpdate(ctx context.Context, _ bun.IDB, id string) (*models.Offer, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeOfferRepo) AdjustAvailability(_ context.Context, _ bun.IDB, id string, delta int) error {
	offer, ok := r.offers[id]
	if !ok {
		return economy.ErrNotFound
	}
	offer.QuantityAvailable += delta
	return nil
}

type fakeReservationRepo struct {
	reservations  map[string]*models.Reservation
	countActiveDB bun.IDB
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
	copied := *reservation
	r.reservations[reservation.ID] = &copied
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

func (r *fakeReservationRepo) CountActiveByCustomer(_ context.Context, db bun.IDB, customerID string) (int, error) {
	r.countActiveDB = db
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
		if res.CustomerID == customerID && res.Status.Terminal() && res.UpdatedAt.Before(cutoff) {
			delete(r.reservations, id)
		}
	}
	return nil
}

type fakePenaltyRepo struct {
	states    map[string]*models.PenaltyState
	penalties []*models.Penalty
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

// fixture wires a full state machine over in-memory fakes.
type fixture struct {
	machine      *StateMachine
	bus          *events.Bus
	accounts     *fakeAccountRepo
	offers       *fakeOfferRepo
	reservations *fakeReservationRepo
	penalties    *fakePenaltyRepo
	now          time.Time
}

func newFixture(now time.Time) *fixture {
	f := &fixture{
		accounts:     newFakeAccountRepo(),
		offers:       newFakeOfferRepo(),
		reservations: newFakeReservationRepo(),
		penalties:    newFakePenaltyRepo(),
		bus:          events.NewBus(),
		now:          now,
	}
	points := ledger.New(f.accounts, fakeTxRunner{}, f.bus)
	engine := penalty.NewEngine(f.penalties, f.reservations, fakeTxRunner{}).
		WithClock(func() time.Time { return f.now })
	cooldown := penalty.NewCooldownManager(engine, points, fakeTxRunner{}, penalty.Config{})
	f.machine = NewStateMachine(
		f.reservations,
		f.accounts,
		NewOfferService(f.offers),
		points,
		engine,
		cooldown,
		fakeTxRunner{},
	)
	f.machine.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addCustomer(userID string, balance int64) *models.PointsAccount {
	account := &models.PointsAccount{
		ID:        "acc-" + userID,
		OwnerID:   userID,
		OwnerKind: models.OwnerKindCustomer,
		Balance:   balance,
	}
	f.accounts.accounts[account.ID] = account
	return account
}

func (f *fixture) addPartner(userID string, balance int64) *models.PointsAccount {
	account := &models.PointsAccount{
		ID:        "acc-" + userID,
		OwnerID:   userID,
		OwnerKind: models.OwnerKindPartner,
		Balance:   balance,
	}
	f.accounts.accounts[account.ID] = account
	return account
}

func (f *fixture) addOffer(id, partnerID string, pointsPerUnit int64, available int) *models.Offer {
	offer := &models.Offer{
		ID:                id,
		PartnerID:         partnerID,
		Title:             "surprise bag",
		PointsPerUnit:     pointsPerUnit,
		QuantityTotal:     available,
		QuantityAvailable: available,
		PickupStart:       f.now.Add(-time.Hour),
		PickupEnd:         f.now.Add(3 * time.Hour),
		Status:            models.OfferStatusActive,
	}
	f.offers.offers[offer.ID] = offer
	return offer
}

func (f *fixture) addReservation(id, offerID, customerID, partnerID string, held int64, status models.ReservationStatus) *models.Reservation {
	res := &models.Reservation{
		ID:         id,
		OfferID:    offerID,
		CustomerID: customerID,
		PartnerID:  partnerID,
		Quantity:   1,
		PointsHeld: held,
		Status:     status,
		QRCode:     generateQRCode(f.now),
		ExpiresAt:  f.now.Add(time.Hour),
		UpdatedAt:  f.now,
	}
	f.reservations.reservations[res.ID] = res
	return res
}
