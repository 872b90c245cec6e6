package zipd

import (
	"context"
	"time"
)

// DefaultInterval is the delay between two passes.
const DefaultInterval = time.Second

// Pass is one scan of the tree. *Archiver implements it.
type Pass interface {
	Run(ctx context.Context) (*PassResult, error)
}

var _ Pass = (*Archiver)(nil)

// Scheduler runs a Pass repeatedly, isolating each tick's failures from the
// next.
type Scheduler struct {
	pass     Pass
	ledger   Ledger // nil: passes are not recorded
	logger   Logger
	clock    Clock
	interval time.Duration
}

// NewScheduler creates a Scheduler. ledger may be nil. A non-positive
// interval selects DefaultInterval.
func NewScheduler(pass Pass, ledger Ledger, logger Logger, clock Clock, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		pass:     pass,
		ledger:   ledger,
		logger:   logger,
		clock:    clock,
		interval: interval,
	}
}

// Daemon runs passes until ctx is cancelled. A failing pass is logged and
// the loop carries on after the usual delay. Cancellation is only observed
// while sleeping, never during a pass. Daemon always returns nil.
func (s *Scheduler) Daemon(ctx context.Context) error {
	s.logger.Info("starting main loop", "interval", s.interval.String())

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("something went wrong in main loop while checking", "error", err)
		}

		if ctx.Err() != nil {
			s.logger.Info("shutting down")
			return nil
		}

		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			return nil
		case <-s.clock.After(s.interval):
		}
	}
}

// RunOnce performs a single pass and records it in the ledger. The pass
// error is returned; ledger failures are only logged.
func (s *Scheduler) RunOnce(ctx context.Context) (*PassResult, error) {
	var passID int64
	if s.ledger != nil {
		id, err := s.ledger.StartPass(s.clock.Now())
		if err != nil {
			s.logger.Warn("recording pass start", "error", err)
		} else {
			passID = id
		}
	}

	result, runErr := s.pass.Run(ctx)
	if result == nil {
		result = &PassResult{}
	}

	if s.ledger != nil {
		for _, rec := range result.Archived {
			rec.PassID = passID
			if err := s.ledger.RecordArchive(rec); err != nil {
				s.logger.Warn("recording archive", "archive", rec.ArchivePath, "error", err)
			}
		}
		if passID != 0 {
			if err := s.ledger.FinishPass(passID, s.clock.Now(), result, runErr); err != nil {
				s.logger.Warn("recording pass result", "error", err)
			}
		}
	}

	if runErr == nil {
		s.logger.Debug("pass complete",
			"candidates", result.Candidates,
			"ready", result.Ready,
			"skipped", result.Skipped,
			"archived", len(result.Archived))
	}
	return result, runErr
}
