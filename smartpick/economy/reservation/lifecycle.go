// Package reservation runs a reservation from creation to its terminal
// outcome. Points movement, availability moves and status changes commit in
// one transaction per transition; balance events fire after commit.
package reservation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/database/repositories"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/events"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/ledger"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/penalty"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

// StateMachine owns every reservation transition. ACTIVE is the only state
// transitions leave; attempts against a terminal row fail
// InvalidStateTransitionError without writing anything.
type StateMachine struct {
	reservations repositories.ReservationRepository
	accounts     repositories.AccountRepository
	offers       *OfferService
	points       *ledger.Ledger
	penalties    *penalty.Engine
	cooldown     *penalty.CooldownManager
	txm          utils.TxRunner
	now          func() time.Time
}

func NewStateMachine(
	reservations repositories.ReservationRepository,
	accounts repositories.AccountRepository,
	offers *OfferService,
	points *ledger.Ledger,
	penalties *penalty.Engine,
	cooldown *penalty.CooldownManager,
	txm utils.TxRunner,
) *StateMachine {
	return &StateMachine{
		reservations: reservations,
		accounts:     accounts,
		offers:       offers,
		points:       points,
		penalties:    penalties,
		cooldown:     cooldown,
		txm:          txm,
		now:          time.Now,
	}
}

// Create places a hold on offer units. The penalty gate, the quantity caps,
// the one-active-reservation rule, the points hold and the availability
// decrement all succeed together or the reservation does not exist.
func (sm *StateMachine) Create(ctx context.Context, offerID, customerID string, quantity int) (*models.Reservation, error) {
	if quantity < 1 {
		return nil, &economy.ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	if quantity > utils.MaxReservationQuantity {
		return nil, &economy.QuantityExceededError{Requested: quantity, Max: utils.MaxReservationQuantity}
	}
	if err := sm.cooldown.Gate(ctx, customerID); err != nil {
		return nil, err
	}

	account, err := sm.accounts.GetByOwner(ctx, customerID, models.OwnerKindCustomer)
	if err != nil {
		return nil, economy.Storagef("resolve customer account", err)
	}

	var (
		reservation *models.Reservation
		change      *events.BalanceChange
	)
	err = sm.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		offer, err := sm.offers.getForUpdate(txCtx, db, offerID)
		if err != nil {
			return economy.Storagef("lock offer", err)
		}

		now := sm.now()
		if offer.Status != models.OfferStatusActive {
			return &economy.ValidationError{Field: "offer_id", Reason: "offer is not active"}
		}
		if !now.Before(offer.PickupEnd) {
			return &economy.ValidationError{Field: "offer_id", Reason: "pickup window has closed"}
		}
		if offer.QuantityAvailable < quantity {
			return &economy.QuantityExceededError{Requested: quantity, Max: offer.QuantityAvailable}
		}

		active, err := sm.reservations.CountActiveByCustomer(txCtx, db, customerID)
		if err != nil {
			return economy.Storagef("count active reservations", err)
		}
		if active >= utils.MaxActiveReservations {
			return &economy.ValidationError{Field: "customer_id", Reason: "an active reservation already exists"}
		}

		hold := offer.PointsPerUnit * int64(quantity)
		change, err = sm.points.DeductTx(txCtx, db, ledger.Entry{
			AccountID: account.ID,
			Amount:    hold,
			Reason:    models.ReasonReservationHold,
			Metadata: map[string]any{
				"offer_id": offer.ID,
				"quantity": quantity,
			},
		})
		if err != nil {
			return err
		}

		if err := sm.offers.adjustAvailability(txCtx, db, offer.ID, -quantity); err != nil {
			return economy.Storagef("decrement availability", err)
		}

		qrCode, err := sm.uniqueQRCode(txCtx, now)
		if err != nil {
			return err
		}

		expiresAt := now.Add(utils.ReservationHoldMinutes * time.Minute)
		if expiresAt.After(offer.PickupEnd) {
			expiresAt = offer.PickupEnd
		}

		reservation = &models.Reservation{
			ID:         uuid.New().String(),
			OfferID:    offer.ID,
			CustomerID: customerID,
			PartnerID:  offer.PartnerID,
			Quantity:   quantity,
			PointsHeld: hold,
			QRCode:     qrCode,
			ExpiresAt:  expiresAt,
		}
		if err := sm.reservations.Create(txCtx, db, reservation); err != nil {
			return economy.Storagef("create reservation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sm.points.Bus().Publish(*change)

	slog.Info("Reservation created",
		slog.String("reservation_id", reservation.ID),
		slog.String("customer_id", customerID),
		slog.String("offer_id", offerID),
		slog.Int("quantity", quantity),
		slog.Int64("points_held", reservation.PointsHeld))
	return reservation, nil
}

// MarkPickedUp completes an ACTIVE reservation on the partner's scan. The
// held points become the partner's pickup reward. A reservation past its
// window is expired in place and the pickup rejected.
func (sm *StateMachine) MarkPickedUp(ctx context.Context, reservationID, partnerID string) (*models.Reservation, error) {
	partnerAccount, err := sm.accounts.GetByOwner(ctx, partnerID, models.OwnerKindPartner)
	if err != nil {
		return nil, economy.Storagef("resolve partner account", err)
	}

	var (
		reservation *models.Reservation
		changes     []events.BalanceChange
		overdue     bool
	)
	err = sm.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		var err error
		reservation, err = sm.reservations.GetForUpdate(txCtx, db, reservationID)
		if err != nil {
			return economy.Storagef("lock reservation", err)
		}
		if reservation.PartnerID != partnerID {
			return &economy.ValidationError{Field: "partner_id", Reason: "reservation belongs to another partner"}
		}
		if reservation.Status != models.ReservationStatusActive {
			return &economy.InvalidStateTransitionError{
				ReservationID: reservationID,
				From:          string(reservation.Status),
				To:            string(models.ReservationStatusPickedUp),
			}
		}

		now := sm.now()
		if now.After(reservation.ExpiresAt) {
			// Lazy expiry: the overdue row transitions now, in this
			// transaction, and the pickup is rejected after commit.
			overdue = true
			changes, err = sm.expireTx(txCtx, db, reservation)
			return err
		}

		change, err := sm.points.AddTx(txCtx, db, ledger.Entry{
			AccountID: partnerAccount.ID,
			Amount:    reservation.PointsHeld,
			Reason:    models.ReasonPickupReward,
			Metadata: map[string]any{
				"reservation_id": reservation.ID,
				"offer_id":       reservation.OfferID,
			},
		})
		if err != nil {
			return err
		}
		changes = append(changes, *change)

		reservation.Status = models.ReservationStatusPickedUp
		reservation.PickedUpAt = &now
		if err := sm.reservations.Update(txCtx, db, reservation); err != nil {
			return economy.Storagef("update reservation", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	sm.points.Bus().Publish(changes...)

	if overdue {
		return nil, &economy.InvalidStateTransitionError{
			ReservationID: reservationID,
			From:          string(models.ReservationStatusExpired),
			To:            string(models.ReservationStatusPickedUp),
		}
	}

	slog.Info("Reservation picked up",
		slog.String("reservation_id", reservationID),
		slog.String("partner_id", partnerID),
		slog.Int64("reward", reservation.PointsHeld))
	return reservation, nil
}

// ConfirmPickup records the customer's own confirmation on a PICKED_UP
// reservation. It is a flag, not a state transition.
func (sm *StateMachine) ConfirmPickup(ctx context.Context, reservationID, customerID string) error {
	return sm.txm.WithTransaction(ctx, utils.StandardTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		reservation, err := sm.reservations.GetForUpdate(txCtx, db, reservationID)
		if err != nil {
			return economy.Storagef("lock reservation", err)
		}
		if reservation.CustomerID != customerID {
			return &economy.ValidationError{Field: "customer_id", Reason: "reservation belongs to another customer"}
		}
		if reservation.Status != models.ReservationStatusPickedUp {
			return &economy.InvalidStateTransitionError{
				ReservationID: reservationID,
				From:          string(reservation.Status),
				To:            string(models.ReservationStatusPickedUp),
			}
		}
		if reservation.UserConfirmedPickup {
			return nil
		}
		reservation.UserConfirmedPickup = true
		if err := sm.reservations.Update(txCtx, db, reservation); err != nil {
			return economy.Storagef("update reservation", err)
		}
		return nil
	})
}

// Cancel releases an ACTIVE reservation at the customer's request. The hold
// splits evenly: the partner takes the floor half as compensation, the
// customer gets the remainder back, one paired commit. Availability returns
// to the offer.
func (sm *StateMachine) Cancel(ctx context.Context, reservationID, customerID string) (*models.Reservation, error) {
	customerAccount, err := sm.accounts.GetByOwner(ctx, customerID, models.OwnerKindCustomer)
	if err != nil {
		return nil, economy.Storagef("resolve customer account", err)
	}

	var (
		reservation *models.Reservation
		changes     []events.BalanceChange
	)
	err = sm.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
		var err error
		reservation, err = sm.reservations.GetForUpdate(txCtx, db, reservationID)
		if err != nil {
			return economy.Storagef("lock reservation", err)
		}
		if reservation.CustomerID != customerID {
			return &economy.ValidationError{Field: "customer_id", Reason: "reservation belongs to another customer"}
		}
		if reservation.Status != models.ReservationStatusActive {
			return &economy.InvalidStateTransitionError{
				ReservationID: reservationID,
				From:          string(reservation.Status),
				To:            string(models.ReservationStatusCancelled),
			}
		}

		partnerAccount, err := sm.accounts.GetByOwner(txCtx, reservation.PartnerID, models.OwnerKindPartner)
		if err != nil {
			return economy.Storagef("resolve partner account", err)
		}

		partnerShare := reservation.PointsHeld / 2
		customerShare := reservation.PointsHeld - partnerShare

		var credits []ledger.Entry
		if partnerShare > 0 {
			credits = append(credits, ledger.Entry{
				AccountID: partnerAccount.ID,
				Amount:    partnerShare,
				Reason:    models.ReasonCancelCompensation,
				Metadata:  map[string]any{"reservation_id": reservation.ID},
			})
		}
		if customerShare > 0 {
			credits = append(credits, ledger.Entry{
				AccountID: customerAccount.ID,
				Amount:    customerShare,
				Reason:    models.ReasonReservationRefund,
				Metadata:  map[string]any{"reservation_id": reservation.ID},
			})
		}
		changes, err = sm.points.PairedCreditTx(txCtx, db, credits...)
		if err != nil {
			return err
		}

		if err := sm.offers.adjustAvailability(txCtx, db, reservation.OfferID, reservation.Quantity); err != nil {
			return economy.Storagef("restore availability", err)
		}

		reservation.Status = models.ReservationStatusCancelled
		if err := sm.reservations.Update(txCtx, db, reservation); err != nil {
			return economy.Storagef("update reservation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sm.points.Bus().Publish(changes...)

	slog.Info("Reservation cancelled",
		slog.String("reservation_id", reservationID),
		slog.String("customer_id", customerID),
		slog.Int64("points_held", reservation.PointsHeld))
	return reservation, nil
}

// ExpireDue transitions every ACTIVE reservation past its window. Each row
// expires in its own transaction so one poisoned row cannot stall the rest.
// This is a promptness optimization; reads already treat overdue rows as
// expired.
func (sm *StateMachine) ExpireDue(ctx context.Context) (int, error) {
	due, err := sm.reservations.GetExpired(ctx, sm.now())
	if err != nil {
		return 0, economy.Storagef("list expired reservations", err)
	}

	expired := 0
	for _, candidate := range due {
		var changes []events.BalanceChange
		err := sm.txm.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(txCtx context.Context, db bun.IDB) error {
			reservation, err := sm.reservations.GetForUpdate(txCtx, db, candidate.ID)
			if err != nil {
				return economy.Storagef("lock reservation", err)
			}
			// Re-check under the lock; another path may have won.
			if reservation.Status != models.ReservationStatusActive || sm.now().Before(reservation.ExpiresAt) {
				return nil
			}
			changes, err = sm.expireTx(txCtx, db, reservation)
			return err
		})
		if err != nil {
			slog.Error("Failed to expire reservation",
				slog.String("type", "sys"),
				slog.String("reservation_id", candidate.ID),
				slog.String("error", err.Error()))
			continue
		}
		if len(changes) > 0 {
			sm.points.Bus().Publish(changes...)
			expired++
		}
	}
	return expired, nil
}

// expireTx forfeits the hold to the partner, marks the row EXPIRED with
// no_show, and escalates the customer's penalty, all inside the caller's
// transaction. An already banned customer forfeits without re-escalating.
func (sm *StateMachine) expireTx(ctx context.Context, db bun.IDB, reservation *models.Reservation) ([]events.BalanceChange, error) {
	partnerAccount, err := sm.accounts.GetByOwner(ctx, reservation.PartnerID, models.OwnerKindPartner)
	if err != nil {
		return nil, economy.Storagef("resolve partner account", err)
	}

	change, err := sm.points.AddTx(ctx, db, ledger.Entry{
		AccountID: partnerAccount.ID,
		Amount:    reservation.PointsHeld,
		Reason:    models.ReasonPenaltyForfeit,
		Metadata: map[string]any{
			"reservation_id": reservation.ID,
			"offer_id":       reservation.OfferID,
		},
	})
	if err != nil {
		return nil, err
	}

	reservation.Status = models.ReservationStatusExpired
	reservation.NoShow = true
	if err := sm.reservations.Update(ctx, db, reservation); err != nil {
		return nil, economy.Storagef("update reservation", err)
	}

	if _, err := sm.penalties.ApplyNoShowTx(ctx, db, reservation.CustomerID, reservation.ID, reservation.PartnerID); err != nil {
		var banned *economy.AlreadyBannedError
		if !errors.As(err, &banned) {
			return nil, err
		}
	}

	return []events.BalanceChange{*change}, nil
}

// ValidateQR resolves an ACTIVE, unexpired reservation by its token. Partner
// scanners use this as the read-only preview before MarkPickedUp.
func (sm *StateMachine) ValidateQR(ctx context.Context, qrCode string) (*models.Reservation, error) {
	if !ValidQRFormat(qrCode) {
		return nil, &economy.ValidationError{Field: "qr_code", Reason: "malformed token"}
	}
	reservation, err := sm.reservations.GetByQRCode(ctx, qrCode)
	if err != nil {
		return nil, economy.Storagef("resolve qr code", err)
	}
	if reservation.Status != models.ReservationStatusActive {
		return nil, &economy.InvalidStateTransitionError{
			ReservationID: reservation.ID,
			From:          string(reservation.Status),
			To:            string(models.ReservationStatusPickedUp),
		}
	}
	if sm.now().After(reservation.ExpiresAt) {
		return nil, &economy.ValidationError{Field: "qr_code", Reason: "reservation expired"}
	}
	return reservation, nil
}

// ListForCustomer returns the customer's reservations, newest first.
func (sm *StateMachine) ListForCustomer(ctx context.Context, customerID string) ([]*models.Reservation, error) {
	reservations, err := sm.reservations.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, economy.Storagef("list reservations", err)
	}
	return reservations, nil
}

// CleanupHistory prunes the customer's terminal reservations older than the
// retention window.
func (sm *StateMachine) CleanupHistory(ctx context.Context, customerID string) error {
	cutoff := sm.now().AddDate(0, 0, -utils.HistoryRetentionDays)
	if err := sm.reservations.DeleteTerminalBefore(ctx, customerID, cutoff); err != nil {
		return economy.Storagef("cleanup history", err)
	}
	return nil
}

// uniqueQRCode generates a token and retries on the rare collision with an
// existing row.
func (sm *StateMachine) uniqueQRCode(ctx context.Context, now time.Time) (string, error) {
	for attempt := 0; attempt < utils.QRMaxRetries; attempt++ {
		code := generateQRCode(now)
		_, err := sm.reservations.GetByQRCode(ctx, code)
		if errors.Is(err, economy.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", economy.Storagef("check qr code", err)
		}
	}
	return "", &economy.StorageError{Op: "generate qr code", Err: errors.New("exhausted retries")}
}
