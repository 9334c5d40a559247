package main

import (
	"context"
	"errors"
	"fmt"
	"honeyguard/internal/action"
	"honeyguard/internal/audit"
	"honeyguard/internal/classify"
	"honeyguard/internal/config"
	"honeyguard/internal/dashboard"
	"honeyguard/internal/ingest"
	"honeyguard/internal/logging"
	"honeyguard/internal/metrics"
	"honeyguard/internal/mitigate"
	"honeyguard/internal/notify"
	"honeyguard/internal/pipeline"
	"honeyguard/internal/realtime"
	"honeyguard/internal/registry"
	"honeyguard/internal/session"
	"honeyguard/internal/sink"
	"honeyguard/internal/storage"
	"honeyguard/internal/types"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var fromStart bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the analyzer",
	Long: `Follow the honeypot event log, classify attacker sessions and block
high-risk sources. Without mitigation.active_defense the analyzer runs in safe
mode and only logs the firewall commands it would have sent.`,
	RunE: runCommand,
}

func init() {
	runCmd.Flags().BoolVar(&fromStart, "from-start", false, "Replay the existing event log instead of starting at its end")
	rootCmd.AddCommand(runCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Output.LogLevel, cfg.Output.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenOrRecover(ctx, cfg.Storage.DatabasePath, logger.With("component", "storage"))
	if err != nil {
		return err
	}
	defer db.Close()

	reg, err := registry.Open(ctx, db, logger.With("component", "registry"))
	if err != nil {
		return err
	}
	logger.Info("block registry loaded", "path", cfg.Storage.DatabasePath, "blocked", reg.Len())

	var blocker action.Blocker
	if cfg.Mitigation.ActiveDefense {
		blocker = action.NewSocketBlocker(cfg.Action.ExecutorSocket, logger.With("component", "action"))
	} else {
		logger.Warn("safe mode: firewall commands are logged, not executed")
		blocker = action.NewLogBlocker(logger.With("component", "action"))
	}
	controller := mitigate.NewController(reg, blocker, mitigate.Options{
		Threshold: cfg.Mitigation.Threshold,
		Allowlist: cfg.Mitigation.Allowlist,
	}, logger.With("component", "mitigate"))

	if cfg.Classifier.APIKey == "" {
		logger.Warn("classifier token not set, requests will be unauthenticated", "env", cfg.Classifier.APIKeyEnv)
	}
	var classifier classify.Classifier = classify.NewHTTPClient(classify.Options{
		URL:         cfg.Classifier.URL,
		Token:       cfg.Classifier.APIKey,
		Timeout:     cfg.Classifier.Timeout,
		MaxTokens:   cfg.Classifier.MaxTokens,
		Temperature: cfg.Classifier.Temperature,
	})
	if cfg.Classifier.MaxRetries > 0 {
		classifier = classify.NewRetrying(classifier, cfg.Classifier.MaxRetries, logger.With("component", "classify"))
	}

	hub := realtime.NewHub(logger.With("component", "realtime"))
	publishers := []sink.Publisher{hub}
	if cfg.Notification.RedisAddr != "" {
		rp, err := realtime.NewRedisPublisher(ctx, cfg.Notification.RedisAddr, logger.With("component", "redis"))
		if err != nil {
			logger.Warn("redis publishing disabled", "error", err)
		} else {
			defer rp.Close()
			publishers = append(publishers, rp)
		}
	}
	if cfg.Notification.DiscordWebhook != "" {
		publishers = append(publishers, notify.NewDiscord(cfg.Notification.DiscordWebhook, logger.With("component", "notify")))
	}
	resultSink := sink.New(db, logger.With("component", "sink"), sink.Options{}, publishers...)

	p := pipeline.New(pipeline.Components{
		Buffer: session.NewBuffer(session.Options{
			MaxEvents:   cfg.Session.MaxEvents,
			MaxSessions: cfg.Session.MaxSessions,
		}),
		Classifier: classifier,
		Enforcer:   controller,
		Recorder:   resultSink,
		Audit:      audit.NewLogger(cfg.Output.AuditLogPath),
	}, pipeline.Options{
		IdleTimeout:  cfg.Session.IdleTimeout,
		MaxAge:       cfg.Session.MaxAge,
		ScanInterval: cfg.Session.ScanInterval,
		Workers:      cfg.Session.Workers,
	}, logger.With("component", "pipeline"))

	// Sink, hub and servers stop only after the pipeline has flushed
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()

	g, gctx := errgroup.WithContext(ctx)

	tailer := ingest.NewFileTailer(cfg.Input.EventLogPath, ingest.Options{
		Poll:      cfg.Input.Poll,
		FromStart: fromStart,
	}, logger.With("component", "ingest"))
	lines, err := tailer.Start(gctx)
	if err != nil {
		return err
	}

	g.Go(func() error {
		defer stopDrain()
		return p.Run(gctx, lines)
	})
	g.Go(func() error {
		resultSink.Run(drainCtx)
		return nil
	})
	g.Go(func() error {
		hub.Run(drainCtx)
		return nil
	})
	g.Go(func() error {
		return serve(drainCtx, metrics.NewServer(cfg.Metrics.Addr), logger.With("component", "metrics"))
	})
	if cfg.Dashboard.Enabled {
		dash := dashboard.NewServer(dashboard.NewSQLiteStore(db), reg, hub, logger.With("component", "dashboard"))
		g.Go(func() error {
			return serve(drainCtx, dash.NewHTTPServer(cfg.Dashboard.Addr), logger.With("component", "dashboard"))
		})
	}

	apply := func(newCfg *types.Config) {
		controller.SetPolicy(newCfg.Mitigation.Threshold, newCfg.Mitigation.Allowlist)
		metrics.ConfigReloads.Inc()
		logger.Info("config reloaded", "threshold", controller.Threshold(),
			"allowlist", len(newCfg.Mitigation.Allowlist))
		if newCfg.Mitigation.ActiveDefense != cfg.Mitigation.ActiveDefense {
			logger.Warn("mitigation.active_defense changes take effect on restart")
		}
	}
	g.Go(func() error {
		if err := config.Watch(gctx, configPath, logger.With("component", "config"), apply); err != nil {
			logger.Warn("config file watching disabled, SIGHUP still reloads", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("SIGHUP received, reloading configuration")
				newCfg, err := config.LoadConfig(configPath)
				if err != nil {
					logger.Error("config reload failed", "error", err)
					continue
				}
				apply(newCfg)
			}
		}
	})

	logger.Info("honeyguard started", "version", Version, "event_log", cfg.Input.EventLogPath,
		"threshold", controller.Threshold(), "active_defense", cfg.Mitigation.ActiveDefense)

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully
func serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
