package smartpick

import (
	"context"
	"log/slog"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database"
	"github.com/dave999999/SmartPick1-sub004/smartpick/database/repositories"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/events"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/forgiveness"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/ledger"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/penalty"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/reservation"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

func New(cfg Config, version string, commit string) *App {
	return &App{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// App wires the storage layer, the economy services and the background
// scheduler together.
type App struct {
	Cfg     Config
	Version string
	Commit  string

	DB  *database.DB
	Bus *events.Bus

	AccountRepository     repositories.AccountRepository
	OfferRepository       repositories.OfferRepository
	ReservationRepository repositories.ReservationRepository
	PenaltyRepository     repositories.PenaltyRepository
	ForgivenessRepository repositories.ForgivenessRepository

	Ledger       *ledger.Ledger
	Penalties    *penalty.Engine
	Cooldowns    *penalty.CooldownManager
	Offers       *reservation.OfferService
	Reservations *reservation.StateMachine
	Forgiveness  *forgiveness.Workflow
	Scheduler    *reservation.Scheduler
}

// Setup connects to the database, initializes the schema and builds the
// service graph. It does not start the expiry scheduler; call
// Scheduler.Start once the process is ready to serve.
func (a *App) Setup(ctx context.Context) error {
	db, err := database.New(ctx, a.Cfg.DB)
	if err != nil {
		return err
	}
	if err := db.InitializeSchema(ctx); err != nil {
		db.Close()
		return err
	}
	a.DB = db

	bunDB := db.BunDB()
	a.AccountRepository = repositories.NewAccountRepository(bunDB)
	a.OfferRepository = repositories.NewOfferRepository(bunDB)
	a.ReservationRepository = repositories.NewReservationRepository(bunDB)
	a.PenaltyRepository = repositories.NewPenaltyRepository(bunDB)
	a.ForgivenessRepository = repositories.NewForgivenessRepository(bunDB)

	txm := utils.NewPointsTransactionManager(bunDB)
	a.Bus = events.NewBus()

	a.Ledger = ledger.New(a.AccountRepository, txm, a.Bus)
	a.Penalties = penalty.NewEngine(a.PenaltyRepository, a.ReservationRepository, txm)
	a.Cooldowns = penalty.NewCooldownManager(a.Penalties, a.Ledger, txm, penalty.Config{
		RepeatableLifts: a.Cfg.Economy.RepeatableLifts,
	})
	a.Offers = reservation.NewOfferService(a.OfferRepository)
	a.Reservations = reservation.NewStateMachine(
		a.ReservationRepository,
		a.AccountRepository,
		a.Offers,
		a.Ledger,
		a.Penalties,
		a.Cooldowns,
		txm,
	)
	a.Forgiveness = forgiveness.NewWorkflow(a.ForgivenessRepository, a.PenaltyRepository, a.Penalties, txm)
	a.Scheduler = reservation.NewScheduler(a.Reservations)

	slog.Info("SmartPick services ready",
		slog.String("type", "sys"),
		slog.String("version", a.Version),
		slog.String("commit", a.Commit))
	return nil
}

// Shutdown stops the scheduler and closes the database.
func (a *App) Shutdown() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
