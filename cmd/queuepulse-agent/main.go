package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meridian-eyecare/queuepulse/internal/config"
	"github.com/meridian-eyecare/queuepulse/internal/logging"
	"github.com/meridian-eyecare/queuepulse/internal/lookup"
	"github.com/meridian-eyecare/queuepulse/internal/realtime"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "queuepulse-agent",
		Short: "QueuePulse staff agent: live queue events, alerts, and countdowns",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server-url", defaults.GetString("server.url"), "Queue server base URL")
	cmd.PersistentFlags().String("staff-id", "", "Staff identifier to authenticate as")
	cmd.PersistentFlags().String("role", "", "Staff role (receptionist-type-2, ophthalmologist, doctor, optometrist)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "server.url", "server-url")
	bindFlag(cmd, "staff.id", "staff-id")
	bindFlag(cmd, "staff.role", "role")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

func login(ctx context.Context, serverURL, staffID, role string) (string, error) {
	var response loginResponse
	result, err := resty.New().R().
		SetContext(ctx).
		SetBody(map[string]string{"staff_id": staffID, "role": role}).
		SetResult(&response).
		Post(strings.TrimSuffix(serverURL, "/") + "/auth/login")
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if result.IsError() {
		return "", fmt.Errorf("login: unexpected status %d", result.StatusCode())
	}
	if response.AccessToken == "" {
		return "", errors.New("login: empty access token")
	}
	return response.AccessToken, nil
}

func runAgent(ctx context.Context) error {
	// The agent holds a staff token, not the signing secret; satisfy the
	// shared config validation with a placeholder default.
	viper.SetDefault("auth.signing_secret", "agent-unused")
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	staffID := strings.TrimSpace(viper.GetString("staff.id"))
	role := strings.TrimSpace(viper.GetString("staff.role"))
	if staffID == "" || role == "" {
		return errors.New("--staff-id and --role are required")
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	token, err := login(ctx, appConfig.ServerURL, staffID, role)
	if err != nil {
		return err
	}

	conn, err := realtime.NewClient(realtime.ClientConfig{
		ServerURL:   appConfig.ServerURL,
		Token:       token,
		BaseDelay:   appConfig.ReconnectBaseDelay,
		MaxDelay:    appConfig.ReconnectMaxDelay,
		MaxAttempts: appConfig.ReconnectMaxAttempts,
		Logger:      logging.ForComponent(logger, "connection"),
	})
	if err != nil {
		return err
	}

	membership, err := realtime.NewMembership(realtime.MembershipConfig{
		Connection:  conn,
		Role:        role,
		StaffID:     staffID,
		SettleDelay: appConfig.JoinSettleDelay,
		Logger:      logging.ForComponent(logger, "membership"),
	})
	if err != nil {
		return err
	}
	releaseMembership := membership.Bind()
	defer releaseMembership()

	directory, err := lookup.NewClient(lookup.ClientConfig{
		BaseURL: appConfig.ServerURL,
		Token:   token,
		Timeout: appConfig.LookupTimeout,
		Logger:  logging.ForComponent(logger, "lookup"),
	})
	if err != nil {
		return err
	}

	dispatcher := realtime.NewDispatcher(realtime.DispatcherConfig{
		Alerts:       realtime.NewLogAlertSink(logging.ForComponent(logger, "alerts")),
		Haptics:      realtime.NewLogHaptics(logging.ForComponent(logger, "haptics")),
		DedupeWindow: appConfig.DedupeWindow,
		Logger:       logging.ForComponent(logger, "dispatcher"),
	})

	stale := realtime.NewStaleSet()
	bridge := realtime.NewInvalidationBridge(stale, logging.ForComponent(logger, "invalidation"))

	pipeline, err := realtime.NewPipeline(realtime.PipelineConfig{
		Normalizer: realtime.NewNormalizer(realtime.NormalizerConfig{
			Directory:     directory,
			LookupTimeout: appConfig.LookupTimeout,
			Logger:        logging.ForComponent(logger, "normalizer"),
		}),
		Dispatcher: dispatcher,
		Bridge:     bridge,
		Logger:     logging.ForComponent(logger, "pipeline"),
	})
	if err != nil {
		return err
	}
	releasePipeline := pipeline.Bind(conn)
	defer releasePipeline()

	timerLogger := logging.ForComponent(logger, "timers")
	timers := realtime.NewTimerEngine(realtime.TimerEngineConfig{
		OnExpire: func(queueEntryID string) {
			timerLogger.Info("dilation countdown expired",
				zap.String("queue_entry_id", queueEntryID))
		},
		Logger: timerLogger,
	})

	// Dilation countdowns follow the hold lifecycle: a hold starts one, a
	// resume or removal cancels it.
	releaseTimers := conn.OnRawEvent(func(raw realtime.RawEvent) {
		entryID, _ := raw.Payload["queue_entry_id"].(string)
		if entryID == "" {
			return
		}
		switch raw.Type {
		case realtime.WireHoldAdded:
			timers.Start(entryID, appConfig.DilationDuration)
		case realtime.WireHoldRemoved, realtime.WireResumed:
			timers.Cancel(entryID)
		}
	})
	defer releaseTimers()

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Disconnect()
	logger.Info("agent connected",
		zap.String("staff_id", staffID), zap.String("role", role))

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()

	logger.Info("agent shutting down",
		zap.Int("active_timers", timers.ActiveCount()))
	return nil
}
