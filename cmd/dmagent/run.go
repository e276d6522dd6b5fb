package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xpanddigital/CrateHQ/internal/agent"
	"github.com/xpanddigital/CrateHQ/internal/backend"
	"github.com/xpanddigital/CrateHQ/internal/config"
	"github.com/xpanddigital/CrateHQ/internal/coordlock"
	"github.com/xpanddigital/CrateHQ/internal/device"
	"github.com/xpanddigital/CrateHQ/internal/fsstore"
	"github.com/xpanddigital/CrateHQ/internal/healthcheck"
	"github.com/xpanddigital/CrateHQ/internal/instagram"
	"github.com/xpanddigital/CrateHQ/internal/logutil"
	"github.com/xpanddigital/CrateHQ/internal/session"
	"github.com/xpanddigital/CrateHQ/internal/watermark"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the polling agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper()
			if err != nil {
				return err
			}

			if err := fsstore.EnsureDir(cfg.StateDir, 0o700); err != nil {
				return err
			}
			if !viper.IsSet("logging.file") {
				viper.Set("logging.file", cfg.LogPath())
			}

			logger, closer, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			if closer != nil {
				defer func() { _ = closer.Close() }()
			}
			slog.SetDefault(logger)

			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("agent_starting",
				"account_id", cfg.AccountID, "timezone", cfg.Timezone,
				"active_window", cfg.ActiveStartHour, "active_end", cfg.ActiveEndHour)

			if healthListen := healthcheck.NormalizeListen(cfg.HealthListen); healthListen != "" {
				healthServer, err := healthcheck.StartServer(ctx, logger, healthListen, "dm_agent")
				if err != nil {
					logger.Warn("health_server_start_error", "addr", healthListen, "error", err.Error())
				} else {
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
						_ = healthServer.Shutdown(shutdownCtx)
						cancel()
					}()
				}
			}

			api := backend.New(cfg.BackendBaseURL, cfg.WebhookSecret, logger)

			sessions, err := session.NewManager(session.Options{
				AccountID:   cfg.AccountID,
				Username:    cfg.Username,
				Password:    cfg.Password,
				SessionPath: cfg.SessionPath(),
				Factory: func(profile device.Profile) (instagram.Client, error) {
					return instagram.NewClient(instagram.Options{Device: profile, Proxy: cfg.Proxy})
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}

			if err := sessions.Establish(ctx); err != nil {
				reportStartupFailure(ctx, api, cfg.AccountID, err)
				return err
			}

			engine := agent.NewEngine(sessions.Client, api, cfg.AccountID, logger)

			sched := &agent.Scheduler{
				Cfg:      cfg,
				Location: loc,
				Engine:   engine,
				Sessions: sessions,
				Store:    watermark.NewStore(cfg.WatermarkPath(), logger),
				Backend:  api,
				Lock:     coordlock.NewChecker(),
				Logger:   logger,
			}

			err = sched.Run(ctx)
			if errors.Is(err, context.Canceled) {
				logger.Info("agent_stopped")
				return nil
			}
			return err
		},
	}
}

// reportStartupFailure tells CrateHQ why the agent could not come up. The
// process exits either way, so delivery is best-effort.
func reportStartupFailure(ctx context.Context, api *backend.Client, accountID string, err error) {
	_ = api.SendHeartbeat(ctx, backend.Heartbeat{
		AccountID:   accountID,
		Status:      startupFailureStatus(err),
		ErrorDetail: err.Error(),
	})
}

// startupFailureStatus maps an establish failure onto the heartbeat status:
// verification signals report challenge_required, every other login failure
// reports session_expired.
func startupFailureStatus(err error) string {
	if instagram.IsFatalSignal(err) {
		return backend.StatusChallengeRequired
	}
	return backend.StatusSessionExpired
}
