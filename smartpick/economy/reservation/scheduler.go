package reservation

import (
	"context"
	"log/slog"
	"time"

	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

// Scheduler sweeps overdue reservations in the background. It only improves
// promptness; every read and transition already treats overdue rows as
// expired, so a stopped scheduler never breaks correctness.
type Scheduler struct {
	machine     *StateMachine
	sweepTicker *time.Ticker
	shutdown    chan struct{}
}

func NewScheduler(machine *StateMachine) *Scheduler {
	return &Scheduler{
		machine:     machine,
		sweepTicker: time.NewTicker(utils.SweepInterval),
		shutdown:    make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the sweep loop. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.shutdown)
}

func (s *Scheduler) run() {
	defer s.sweepTicker.Stop()

	for {
		select {
		case <-s.sweepTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), utils.DefaultTxTimeout)
			expired, err := s.machine.ExpireDue(ctx)
			cancel()
			if err != nil {
				slog.Error("Reservation sweep failed",
					slog.String("type", "sys"),
					slog.String("error", err.Error()))
				continue
			}
			if expired > 0 {
				slog.Info("Reservation sweep completed",
					slog.Int("expired", expired))
			}
		case <-s.shutdown:
			return
		}
	}
}
