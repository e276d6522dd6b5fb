// Package session owns the authenticated Instagram client handle and its
// persisted settings. All other components reach the client through
// Manager.Client() so a recovery swap is transparent to them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xpanddigital/CrateHQ/internal/device"
	"github.com/xpanddigital/CrateHQ/internal/fsstore"
	"github.com/xpanddigital/CrateHQ/internal/instagram"
)

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	ExpiredRecovering
	ChallengeBlocked
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case ExpiredRecovering:
		return "expired_recovering"
	case ChallengeBlocked:
		return "challenge_blocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Factory builds a fresh client carrying the given device profile. Injected
// so tests can substitute fakes.
type Factory func(profile device.Profile) (instagram.Client, error)

type Options struct {
	AccountID   string
	Username    string
	Password    string
	SessionPath string
	Factory     Factory
	Logger      *slog.Logger
}

type Manager struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	client instagram.Client
	state  State
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Factory == nil {
		return nil, errors.New("session: missing client factory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{opts: opts, logger: logger, state: Unauthenticated}, nil
}

// Client returns the current authenticated handle. Callers must re-fetch it
// after any recovery rather than holding the value across cycles.
func (m *Manager) Client() instagram.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Establish performs the startup authentication flow: restore persisted
// settings if any, log in (Instagram requires re-presenting credentials even
// with saved state), probe liveness, and rebuild from scratch when the saved
// session is rejected. The resulting settings are persisted.
func (m *Manager) Establish(ctx context.Context) error {
	m.setState(Authenticating)

	profile := device.Pick(m.opts.AccountID)
	m.logger.Info("device_profile_selected",
		"manufacturer", profile.Manufacturer, "model", profile.Model, "android_release", profile.AndroidRelease)

	cl, err := m.opts.Factory(profile)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}

	var saved instagram.Settings
	found, err := fsstore.ReadJSON(m.opts.SessionPath, &saved)
	if err != nil {
		m.logger.Warn("session_load_failed", "path", m.opts.SessionPath, "error", err.Error())
		found = false
	}

	if found {
		m.logger.Info("session_restored", "path", m.opts.SessionPath)
		cl.RestoreSettings(saved)
		if err := cl.Login(ctx, m.opts.Username, m.opts.Password); err != nil {
			return m.classifyLoginFailure(err)
		}
		if err := cl.TimelineFeed(ctx); err != nil {
			if !errors.Is(err, instagram.ErrLoginRequired) {
				return fmt.Errorf("session liveness check: %w", err)
			}
			m.logger.Warn("session_expired_rebuilding")
			cl, err = m.freshLogin(ctx, profile)
			if err != nil {
				return err
			}
		} else {
			m.logger.Info("session_valid")
		}
	} else {
		m.logger.Info("session_absent_fresh_login")
		if err := cl.Login(ctx, m.opts.Username, m.opts.Password); err != nil {
			return m.classifyLoginFailure(err)
		}
	}

	if err := m.persist(cl); err != nil {
		return err
	}

	m.mu.Lock()
	m.client = cl
	m.state = Authenticated
	m.mu.Unlock()
	return nil
}

// Recover handles a mid-cycle session-invalid signal with exactly one fresh
// login attempt. Failure leaves the manager blocked or unauthenticated; the
// caller decides process fate from the returned error.
func (m *Manager) Recover(ctx context.Context) error {
	m.setState(ExpiredRecovering)
	m.logger.Warn("session_recovery_started")

	profile := device.Pick(m.opts.AccountID)
	cl, err := m.freshLogin(ctx, profile)
	if err != nil {
		return err
	}
	if err := m.persist(cl); err != nil {
		return err
	}

	m.mu.Lock()
	m.client = cl
	m.state = Authenticated
	m.mu.Unlock()
	m.logger.Info("session_recovery_succeeded")
	return nil
}

func (m *Manager) freshLogin(ctx context.Context, profile device.Profile) (instagram.Client, error) {
	cl, err := m.opts.Factory(profile)
	if err != nil {
		return nil, fmt.Errorf("rebuild client: %w", err)
	}
	if err := cl.Login(ctx, m.opts.Username, m.opts.Password); err != nil {
		return nil, m.classifyLoginFailure(err)
	}
	return cl, nil
}

func (m *Manager) classifyLoginFailure(err error) error {
	if instagram.IsFatalSignal(err) {
		m.setState(ChallengeBlocked)
		m.logger.Error("manual_verification_required",
			"hint", "complete the challenge on the phone, then restart the agent", "error", err.Error())
		return err
	}
	m.setState(Unauthenticated)
	return fmt.Errorf("login: %w", err)
}

func (m *Manager) persist(cl instagram.Client) error {
	if err := fsstore.WriteJSONAtomic(m.opts.SessionPath, cl.Settings(), fsstore.FileOptions{}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	m.logger.Info("session_saved", "path", m.opts.SessionPath)
	return nil
}
