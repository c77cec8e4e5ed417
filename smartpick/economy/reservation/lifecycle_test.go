package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/uptrace/bun"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/events"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStateMachine_Create(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 100)
	f.addPartner("part-1", 0)
	f.addOffer("offer-1", "part-1", 20, 5)

	res, err := f.machine.Create(context.Background(), "offer-1", "cust-1", 2)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if res.PointsHeld != 40 {
		t.Errorf("points_held = %d, want 40", res.PointsHeld)
	}
	if res.Status != models.ReservationStatusActive {
		t.Errorf("status = %s, want ACTIVE", res.Status)
	}
	if !ValidQRFormat(res.QRCode) {
		t.Errorf("qr code %q malformed", res.QRCode)
	}
	if want := testNow.Add(time.Hour); !res.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", res.ExpiresAt, want)
	}
	if got := f.accounts.accounts["acc-cust-1"].Balance; got != 60 {
		t.Errorf("customer balance = %d, want 60", got)
	}
	if got := f.offers.offers["offer-1"].QuantityAvailable; got != 3 {
		t.Errorf("availability = %d, want 3", got)
	}
	if len(f.accounts.txs) != 1 || f.accounts.txs[0].Reason != models.ReasonReservationHold {
		t.Errorf("ledger rows = %v, want one RESERVATION_HOLD", f.accounts.txs)
	}
	if f.reservations.countActiveDB != bun.IDB(txHandle) {
		t.Error("active count ran outside the transaction handle")
	}
}

// The hold window is clamped to the offer's pickup end.
func TestStateMachine_Create_ClampsToPickupEnd(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 100)
	f.addPartner("part-1", 0)
	offer := f.addOffer("offer-1", "part-1", 10, 5)
	offer.PickupEnd = testNow.Add(30 * time.Minute)

	res, err := f.machine.Create(context.Background(), "offer-1", "cust-1", 1)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !res.ExpiresAt.Equal(offer.PickupEnd) {
		t.Errorf("expires_at = %v, want clamped to %v", res.ExpiresAt, offer.PickupEnd)
	}
}

func TestStateMachine_Create_Denials(t *testing.T) {
	until := testNow.Add(time.Hour)
	tests := []struct {
		name     string
		setup    func(f *fixture)
		quantity int
		check    func(t *testing.T, err error)
	}{
		{
			name:     "ZeroQuantity",
			quantity: 0,
			check: func(t *testing.T, err error) {
				var ve *economy.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("error = %v, want ValidationError", err)
				}
			},
		},
		{
			name:     "AboveUnitCap",
			quantity: 4,
			check: func(t *testing.T, err error) {
				var qe *economy.QuantityExceededError
				if !errors.As(err, &qe) || qe.Max != 3 {
					t.Fatalf("error = %v, want QuantityExceededError{Max:3}", err)
				}
			},
		},
		{
			name:     "AboveAvailability",
			quantity: 3,
			setup: func(f *fixture) {
				f.offers.offers["offer-1"].QuantityAvailable = 2
			},
			check: func(t *testing.T, err error) {
				var qe *economy.QuantityExceededError
				if !errors.As(err, &qe) || qe.Max != 2 {
					t.Fatalf("error = %v, want QuantityExceededError{Max:2}", err)
				}
			},
		},
		{
			name:     "ActivePenalty",
			quantity: 1,
			setup: func(f *fixture) {
				f.penalties.setState(&models.PenaltyState{UserID: "cust-1", OffenseNumber: 1, PenaltyUntil: &until})
			},
			check: func(t *testing.T, err error) {
				var pae *economy.PenaltyActiveError
				if !errors.As(err, &pae) {
					t.Fatalf("error = %v, want PenaltyActiveError", err)
				}
			},
		},
		{
			name:     "Banned",
			quantity: 1,
			setup: func(f *fixture) {
				f.penalties.setState(&models.PenaltyState{UserID: "cust-1", OffenseNumber: 4, IsBanned: true})
			},
			check: func(t *testing.T, err error) {
				var abe *economy.AlreadyBannedError
				if !errors.As(err, &abe) {
					t.Fatalf("error = %v, want AlreadyBannedError", err)
				}
			},
		},
		{
			name:     "SecondActiveReservation",
			quantity: 1,
			setup: func(f *fixture) {
				f.addReservation("res-existing", "offer-1", "cust-1", "part-1", 10, models.ReservationStatusActive)
			},
			check: func(t *testing.T, err error) {
				var ve *economy.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("error = %v, want ValidationError", err)
				}
			},
		},
		{
			name:     "OfferDisabled",
			quantity: 1,
			setup: func(f *fixture) {
				f.offers.offers["offer-1"].Status = models.OfferStatusDisabled
			},
			check: func(t *testing.T, err error) {
				var ve *economy.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("error = %v, want ValidationError", err)
				}
			},
		},
		{
			name:     "PickupWindowClosed",
			quantity: 1,
			setup: func(f *fixture) {
				f.offers.offers["offer-1"].PickupEnd = testNow.Add(-time.Minute)
			},
			check: func(t *testing.T, err error) {
				var ve *economy.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("error = %v, want ValidationError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(testNow)
			f.addCustomer("cust-1", 1000)
			f.addPartner("part-1", 0)
			f.addOffer("offer-1", "part-1", 20, 5)
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err := f.machine.Create(context.Background(), "offer-1", "cust-1", tt.quantity)
			tt.check(t, err)
			if got := f.accounts.accounts["acc-cust-1"].Balance; got != 1000 {
				t.Errorf("balance changed on denied create: %d", got)
			}
		})
	}
}

// An insufficient balance rejects the reservation without moving anything.
func TestStateMachine_Create_InsufficientFunds(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 39)
	f.addPartner("part-1", 0)
	f.addOffer("offer-1", "part-1", 20, 5)

	_, err := f.machine.Create(context.Background(), "offer-1", "cust-1", 2)
	var ife *economy.InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("error = %v, want InsufficientFundsError", err)
	}
	if ife.Required != 40 || ife.Available != 39 {
		t.Errorf("amounts = %d/%d, want 40/39", ife.Required, ife.Available)
	}
	if len(f.reservations.reservations) != 0 {
		t.Error("reservation created despite failed hold")
	}
}

func TestStateMachine_MarkPickedUp(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 60)
	f.addPartner("part-1", 5)
	f.addReservation("res-1", "offer-1", "cust-1", "part-1", 40, models.ReservationStatusActive)

	var fired []events.BalanceChange
	f.bus.Subscribe("acc-part-1", func(c events.BalanceChange) { fired = append(fired, c) })

	res, err := f.machine.MarkPickedUp(context.Background(), "res-1", "part-1")
	if err != nil {
		t.Fatalf("MarkPickedUp() error = %v", err)
	}
	if res.Status != models.ReservationStatusPickedUp || res.PickedUpAt == nil {
		t.Errorf("reservation = %+v, want PICKED_UP with timestamp", res)
	}
	if got := f.accounts.accounts["acc-part-1"].Balance; got != 45 {
		t.Errorf("partner balance = %d, want 45", got)
	}
	if len(fired) != 1 || fired[0].NewBalance != 45 {
		t.Errorf("events = %v, want one with 45", fired)
	}
	if len(f.accounts.txs) != 1 || f.accounts.txs[0].Reason != models.ReasonPickupReward {
		t.Errorf("ledger rows = %v, want one PICKUP_REWARD", f.accounts.txs)
	}
}

func TestStateMachine_MarkPickedUp_WrongPartner(t *testing.T) {
	f := newFixture(testNow)
	f.addPartner("part-1", 0)
	f.addPartner("part-2", 0)
	f.addReservation("res-1", "offer-1", "cust-1", "part-1", 40, models.ReservationStatusActive)

	_, err := f.machine.MarkPickedUp(context.Background(), "res-1", "part-2")
	var ve *economy.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

// A cancelled reservation rejects every later transition and mutates nothing.
func TestStateMachine_TerminalStateIsFinal(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 60)
	f.addPartner("part-1", 0)
	f.addOffer("offer-1", "part-1", 20, 5)
	f.addReservation("res-1", "offer-1", "cust-1", "part-1", 25, models.ReservationStatusActive)

	if _, err := f.machine.Cancel(context.Background(), "res-1", "cust-1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	partnerAfter := f.accounts.accounts["acc-part-1"].Balance
	customerAfter := f.accounts.accounts["acc-cust-1"].Balance

	_, err := f.machine.MarkPickedUp(context.Background(), "res-1", "part-1")
	var ist *economy.InvalidStateTransitionError
	if !errors.As(err, &ist) {
		t.Fatalf("pickup after cancel: error = %v, want InvalidStateTransitionError", err)
	}
	if ist.From != string(models.ReservationStatusCancelled) {
		t.Errorf("From = %s, want CANCELLED", ist.From)
	}

	if _, err := f.machine.Cancel(context.Background(), "res-1", "cust-1"); !errors.As(err, &ist) {
		t.Fatalf("second cancel: error = %v, want InvalidStateTransitionError", err)
	}

	if got := f.accounts.accounts["acc-part-1"].Balance; got != partnerAfter {
		t.Errorf("partner balance moved on rejected transition: %d", got)
	}
	if got := f.accounts.accounts["acc-cust-1"].Balance; got != customerAfter {
		t.Errorf("customer balance moved on rejected transition: %d", got)
	}
}

// An odd hold splits with the partner taking the floor half.
func TestStateMachine_Cancel_SplitsHold(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 0)
	f.addPartner("part-1", 0)
	f.addOffer("offer-1", "part-1", 25, 4)
	f.offers.offers["offer-1"].QuantityAvailable = 3
	f.addReservation("res-1", "offer-1", "cust-1", "part-1", 25, models.ReservationStatusActive)

	res, err := f.machine.Cancel(context.Background(), "res-1", "cust-1")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if res.Status != models.ReservationStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", res.Status)
	}
	if got := f.accounts.accounts["acc-part-1"].Balance; got != 12 {
		t.Errorf("partner balance = %d, want 12", got)
	}
	if got := f.accounts.accounts["acc-cust-1"].Balance; got != 13 {
		t.Errorf("customer balance = %d, want 13", got)
	}
	if got := f.offers.offers["offer-1"].QuantityAvailable; got != 4 {
		t.Errorf("availability = %d, want 4 restored", got)
	}
	if len(f.accounts.txs) != 2 {
		t.Errorf("ledger rows = %d, want 2", len(f.accounts.txs))
	}
}

func TestStateMachine_Cancel_WrongCustomer(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 0)
	f.addCustomer("cust-2", 0)
	f.addPartner("part-1", 0)
	f.addReservation("res-1", "offer-1", "cust-1", "part-1", 20, models.ReservationStatusActive)

	_, err := f.machine.Cancel(context.Background(), "res-1", "cust-2")
	var ve *economy.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestStateMachine_ConfirmPickup(t *testing.T) {
	f := newFixture(testNow)
	f.addReservation("res-1", "offer-1", "cust-1", "part-1", 20, models.ReservationStatusPickedUp)

	if err := f.machine.ConfirmPickup(context.Background(), "res-1", "cust-1"); err != nil {
		t.Fatalf("ConfirmPickup() error = %v", err)
	}
	if !f.reservations.reservations["res-1"].UserConfirmedPickup {
		t.Error("flag not set")
	}

	// Idempotent on repeat.
	if err := f.machine.ConfirmPickup(context.Background(), "res-1", "cust-1"); err != nil {
		t.Fatalf("repeat ConfirmPickup() error = %v", err)
	}

	// Not available while still ACTIVE.
	f.addReservation("res-2", "offer-1", "cust-1", "part-1", 20, models.ReservationStatusActive)
	err := f.machine.ConfirmPickup(context.Background(), "res-2", "cust-1")
	var ist *economy.InvalidStateTransitionError
	if !errors.As(err, &ist) {
		t.Fatalf("error = %v, want InvalidStateTransitionError", err)
	}
}

// First no-show: reservation expires, hold forfeits to the partner, and the
// customer lands a 30-minute penalty.
func TestStateMachine_ExpireDue(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 0)
	f.addPartner("part-1", 10)
	overdue := f.addReservation("res-1", "offer-1", "cust-1", "part-1", 20, models.ReservationStatusActive)
	overdue.ExpiresAt = testNow.Add(-time.Minute)
	fresh := f.addReservation("res-2", "offer-1", "cust-2", "part-1", 20, models.ReservationStatusActive)
	fresh.ExpiresAt = testNow.Add(time.Hour)

	expired, err := f.machine.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("ExpireDue() error = %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	row := f.reservations.reservations["res-1"]
	if row.Status != models.ReservationStatusExpired || !row.NoShow {
		t.Errorf("reservation = %+v, want EXPIRED no_show", row)
	}
	if f.reservations.reservations["res-2"].Status != models.ReservationStatusActive {
		t.Error("fresh reservation expired early")
	}
	if got := f.accounts.accounts["acc-part-1"].Balance; got != 30 {
		t.Errorf("partner balance = %d, want 30 after forfeit", got)
	}
	state := f.penalties.states["cust-1"]
	if state == nil || state.OffenseNumber != 1 {
		t.Fatalf("penalty state = %+v, want offense 1", state)
	}
	if state.PenaltyUntil == nil {
		t.Fatal("penalty_until not set")
	}
	if len(f.penalties.penalties) != 1 || f.penalties.penalties[0].PartnerID != "part-1" {
		t.Errorf("penalty rows = %v, want one routed to part-1", f.penalties.penalties)
	}
}

// A banned customer's overdue reservation still forfeits without failing the
// sweep.
func TestStateMachine_ExpireDue_BannedCustomer(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 0)
	f.addPartner("part-1", 0)
	f.penalties.setState(&models.PenaltyState{UserID: "cust-1", OffenseNumber: 4, IsBanned: true})
	overdue := f.addReservation("res-1", "offer-1", "cust-1", "part-1", 15, models.ReservationStatusActive)
	overdue.ExpiresAt = testNow.Add(-time.Minute)

	expired, err := f.machine.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("ExpireDue() error = %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	if f.reservations.reservations["res-1"].Status != models.ReservationStatusExpired {
		t.Error("reservation not expired")
	}
	if got := f.accounts.accounts["acc-part-1"].Balance; got != 15 {
		t.Errorf("partner balance = %d, want 15", got)
	}
	if got := f.penalties.states["cust-1"].OffenseNumber; got != 4 {
		t.Errorf("offense = %d, want 4 unchanged", got)
	}
}

// Scanning an overdue reservation expires it in place and rejects the pickup.
func TestStateMachine_MarkPickedUp_LazyExpiry(t *testing.T) {
	f := newFixture(testNow)
	f.addCustomer("cust-1", 0)
	f.addPartner("part-1", 0)
	overdue := f.addReservation("res-1", "offer-1", "cust-1", "part-1", 20, models.ReservationStatusActive)
	overdue.ExpiresAt = testNow.Add(-time.Minute)

	_, err := f.machine.MarkPickedUp(context.Background(), "res-1", "part-1")
	var ist *economy.InvalidStateTransitionError
	if !errors.As(err, &ist) {
		t.Fatalf("error = %v, want InvalidStateTransitionError", err)
	}
	if f.reservations.reservations["res-1"].Status != models.ReservationStatusExpired {
		t.Error("reservation not expired in place")
	}
	if got := f.accounts.accounts["acc-part-1"].Balance; got != 20 {
		t.Errorf("partner balance = %d, want 20 forfeit not reward", got)
	}
	if got := f.accounts.txs[0].Reason; got != models.ReasonPenaltyForfeit {
		t.Errorf("reason = %s, want PENALTY_FORFEIT", got)
	}
	if f.penalties.states["cust-1"] == nil || f.penalties.states["cust-1"].OffenseNumber != 1 {
		t.Error("no-show penalty not applied")
	}
}

func TestStateMachine_ValidateQR(t *testing.T) {
	f := newFixture(testNow)
	active := f.addReservation("res-1", "offer-1", "cust-1", "part-1", 20, models.ReservationStatusActive)

	t.Run("ResolvesActive", func(t *testing.T) {
		got, err := f.machine.ValidateQR(context.Background(), active.QRCode)
		if err != nil {
			t.Fatalf("ValidateQR() error = %v", err)
		}
		if got.ID != "res-1" {
			t.Errorf("resolved %s, want res-1", got.ID)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := f.machine.ValidateQR(context.Background(), "not-a-token")
		var ve *economy.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("error = %v, want ValidationError", err)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := f.machine.ValidateQR(context.Background(), generateQRCode(testNow))
		if !errors.Is(err, economy.ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Terminal", func(t *testing.T) {
		picked := f.addReservation("res-2", "offer-1", "cust-2", "part-1", 20, models.ReservationStatusPickedUp)
		_, err := f.machine.ValidateQR(context.Background(), picked.QRCode)
		var ist *economy.InvalidStateTransitionError
		if !errors.As(err, &ist) {
			t.Fatalf("error = %v, want InvalidStateTransitionError", err)
		}
	})

	t.Run("Overdue", func(t *testing.T) {
		stale := f.addReservation("res-3", "offer-1", "cust-3", "part-1", 20, models.ReservationStatusActive)
		stale.ExpiresAt = testNow.Add(-time.Minute)
		_, err := f.machine.ValidateQR(context.Background(), stale.QRCode)
		var ve *economy.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("error = %v, want ValidationError", err)
		}
	})
}

func TestStateMachine_CleanupHistory(t *testing.T) {
	f := newFixture(testNow)
	old := f.addReservation("res-old", "offer-1", "cust-1", "part-1", 20, models.ReservationStatusCancelled)
	old.UpdatedAt = testNow.AddDate(0, 0, -11)
	recent := f.addReservation("res-recent", "offer-1", "cust-1", "part-1", 20, models.ReservationStatusExpired)
	recent.UpdatedAt = testNow.AddDate(0, 0, -2)
	active := f.addReservation("res-active", "offer-1", "cust-1", "part-1", 20, models.ReservationStatusActive)
	active.UpdatedAt = testNow.AddDate(0, 0, -30)

	if err := f.machine.CleanupHistory(context.Background(), "cust-1"); err != nil {
		t.Fatalf("CleanupHistory() error = %v", err)
	}
	if _, ok := f.reservations.reservations["res-old"]; ok {
		t.Error("old terminal row survived")
	}
	if _, ok := f.reservations.reservations["res-recent"]; !ok {
		t.Error("recent terminal row deleted")
	}
	if _, ok := f.reservations.reservations["res-active"]; !ok {
		t.Error("active row deleted")
	}
}
