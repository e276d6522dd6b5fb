package agent

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/xpanddigital/CrateHQ/internal/backend"
	"github.com/xpanddigital/CrateHQ/internal/config"
	"github.com/xpanddigital/CrateHQ/internal/coordlock"
	"github.com/xpanddigital/CrateHQ/internal/instagram"
	"github.com/xpanddigital/CrateHQ/internal/watermark"
)

// CycleRunner is implemented by *Engine.
type CycleRunner interface {
	RunCycle(ctx context.Context, wm watermark.Map) (found, sent int, err error)
}

// SessionRecoverer is implemented by *session.Manager.
type SessionRecoverer interface {
	Recover(ctx context.Context) error
}

// Scheduler owns the outer loop: active-window gating, peer coordination,
// running cycles, reacting to their errors, and pacing the next cycle.
type Scheduler struct {
	Cfg      config.Config
	Location *time.Location
	Engine   CycleRunner
	Sessions SessionRecoverer
	Store    *watermark.Store
	Backend  BackendAPI
	Lock     *coordlock.Checker
	Logger   *slog.Logger

	// Clock and sleep injection points for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

func (s *Scheduler) normalize() {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Sleep == nil {
		s.Sleep = sleepContext
	}
	if s.Rand == nil {
		s.Rand = rand.Float64
	}
	if s.Lock == nil {
		s.Lock = coordlock.NewChecker()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run loops until ctx is cancelled or a terminal session failure occurs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.normalize()

	wm := s.Store.Load()
	s.Logger.Info("watermarks_loaded", "threads", len(wm))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := s.Now().In(s.Location)
		hour := now.Hour()

		if !withinActiveWindow(hour, s.Cfg.ActiveStartHour, s.Cfg.ActiveEndHour) {
			wait := untilHour(now, s.Cfg.ActiveStartHour)
			s.Logger.Info("outside_active_window", "hour", hour, "sleep", wait.Round(time.Second).String())
			// The agent is idle but healthy; say so before the long sleep.
			s.heartbeat(ctx, backend.Heartbeat{
				AccountID: s.Cfg.AccountID,
				Status:    backend.StatusOK,
			})
			if err := s.Sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if s.Lock.PeerActive(s.Now()) {
			s.Logger.Info("peer_agent_active", "path", s.Lock.Path, "sleep", skipSleep.String())
			if err := s.Sleep(ctx, skipSleep); err != nil {
				return err
			}
			continue
		}

		base := s.Cfg.PollIntervalActive
		if hour >= s.Cfg.WinddownStartHour {
			base = s.Cfg.PollIntervalWinddown
		}

		found, sent, err := s.Engine.RunCycle(ctx, wm)

		if saveErr := s.Store.Save(wm); saveErr != nil {
			s.Logger.Warn("watermark_save_failed", "error", saveErr.Error())
		}

		if err != nil {
			if terminal := s.handleCycleError(ctx, err, found, sent); terminal != nil {
				return terminal
			}
			continue
		}

		s.heartbeat(ctx, backend.Heartbeat{
			AccountID:     s.Cfg.AccountID,
			Status:        backend.StatusOK,
			MessagesFound: found,
			MessagesSent:  sent,
		})

		wait := calculateSleep(base, s.Rand)
		s.Logger.Info("cycle_complete", "found", found, "sent", sent, "sleep", wait.Round(time.Second).String())
		if err := s.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// handleCycleError decides whether the loop continues. A nil return means
// keep looping; a non-nil return is the terminal error for Run.
func (s *Scheduler) handleCycleError(ctx context.Context, err error, found, sent int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	switch {
	case instagram.IsFatalSignal(err):
		s.Logger.Error("manual_verification_required", "error", err.Error())
		s.heartbeat(ctx, backend.Heartbeat{
			AccountID:     s.Cfg.AccountID,
			Status:        backend.StatusChallengeRequired,
			MessagesFound: found,
			MessagesSent:  sent,
			ErrorDetail:   err.Error(),
		})
		return err

	case errors.Is(err, instagram.ErrLoginRequired):
		s.Logger.Warn("session_invalid_mid_cycle", "error", err.Error())
		if recErr := s.Sessions.Recover(ctx); recErr != nil {
			status := backend.StatusSessionExpired
			if instagram.IsFatalSignal(recErr) {
				status = backend.StatusChallengeRequired
			}
			s.heartbeat(ctx, backend.Heartbeat{
				AccountID:   s.Cfg.AccountID,
				Status:      status,
				ErrorDetail: recErr.Error(),
			})
			return recErr
		}
		// Recovered; the next cycle starts immediately.
		return nil

	default:
		s.Logger.Error("cycle_failed", "error", err.Error())
		s.heartbeat(ctx, backend.Heartbeat{
			AccountID:     s.Cfg.AccountID,
			Status:        backend.StatusError,
			MessagesFound: found,
			MessagesSent:  sent,
			ErrorDetail:   err.Error(),
		})
		wait := calculateSleep(s.Cfg.PollIntervalActive, s.Rand)
		s.Logger.Info("cycle_retry_scheduled", "sleep", wait.Round(time.Second).String())
		if sleepErr := s.Sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
		return nil
	}
}

// heartbeat is best-effort; delivery failures are already logged by the
// backend client's retry loop.
func (s *Scheduler) heartbeat(ctx context.Context, hb backend.Heartbeat) {
	if err := s.Backend.SendHeartbeat(ctx, hb); err != nil {
		s.Logger.Warn("heartbeat_failed", "status", hb.Status, "error", err.Error())
	}
}
