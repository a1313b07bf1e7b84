package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/goodtune/tracktime/internal/config"
	"github.com/goodtune/tracktime/internal/hms"
	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/metrics"
	"github.com/goodtune/tracktime/internal/report"
	"github.com/goodtune/tracktime/internal/sampler"
	"github.com/goodtune/tracktime/internal/systemd"
	"github.com/goodtune/tracktime/internal/upload"
	"github.com/goodtune/tracktime/internal/usage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const lockFileName = ".tracktime.pid.lock"

var trackDisplay bool

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run the tracker (default command)",
	Long:  `Sample the foreground application until interrupted, accumulating time into today's ledger and uploading it when configured.`,
	RunE:  runTrack,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, trackCmd} {
		cmd.Flags().BoolVar(&trackDisplay, "display", false, "Redraw today's totals in the terminal after every tick")
	}
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The live display owns stdout.
	var logOut io.Writer = os.Stdout
	if trackDisplay {
		logOut = os.Stderr
	}
	logger, closeLog, err := setupLogger(cfg.Logging, logOut)
	if err != nil {
		return err
	}
	defer closeLog()
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("data_dir", cfg.Tracker.DataDir).
		Msg("Starting tracktime")

	// One tracker per ledger tree.
	if err := os.MkdirAll(cfg.Tracker.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	instance := flock.New(filepath.Join(cfg.Tracker.DataDir, lockFileName))
	locked, err := instance.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another tracker is already running for %s", cfg.Tracker.DataDir)
	}
	defer func() { _ = instance.Unlock() }()

	// Initialize sampler
	probe, err := sampler.NewProbe()
	if err != nil {
		return fmt.Errorf("failed to open foreground probe: %w", err)
	}
	var locks sampler.LockDetector
	if cfg.Tracker.DetectLock {
		if locks, err = sampler.NewLockDetector(); err != nil {
			logger.Warn().Err(err).Msg("Session lock detection unavailable, tracking while locked")
			locks = nil
		}
	}
	s := sampler.New(probe, locks, cfg.Tracker.Exclude, logger)
	defer func() {
		if err := s.Close(); err != nil {
			logger.Debug().Err(err).Msg("Error closing sampler")
		}
	}()

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing storage")
		}
	}()
	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	ledgers := ledger.NewStore(cfg.Tracker.DataDir, logger)
	tracker := usage.NewTracker(s, ledgers, nil, usage.Config{
		Interval: config.Duration(cfg.Tracker.SampleInterval, usage.DefaultInterval),
		MaxGap:   config.Duration(cfg.Tracker.MaxGap, usage.DefaultMaxGap),
	}, logger)
	if trackDisplay {
		tracker.OnTick(newDisplay(os.Stdout).render)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize retention scheduler
	retention := upload.NewRetentionScheduler(store.Uploads(), cfg.Storage.RetentionDays, nil, logger)
	retention.Start()

	// Initialize metrics server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsEnabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, tracker.Snapshot, logger)

		ln, err := systemd.MetricsListener()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to get systemd metrics listener, binding directly")
		} else if ln != nil {
			metricsServer.SetListener(ln)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Start tracker
	trackErr := make(chan error, 1)
	go func() { trackErr <- tracker.Run(ctx) }()

	// The uploader outlives the tracker so it can push the final state.
	uploadCtx, cancelUpload := context.WithCancel(context.Background())
	defer cancelUpload()
	uploadDone := make(chan struct{})
	if cfg.Upload.Enabled {
		uploader, err := newUploader(cfg, store, logger)
		if err != nil {
			stop()
			<-trackErr
			return fmt.Errorf("failed to initialize uploader: %w", err)
		}
		if c, ok := uploader.Destination().(io.Closer); ok {
			defer func() { _ = c.Close() }()
		}
		go func() {
			defer close(uploadDone)
			_ = uploader.Run(uploadCtx, tracker.Snapshot, tracker.Rollovers())
		}()
	} else {
		go func() {
			defer close(uploadDone)
			for {
				select {
				case <-uploadCtx.Done():
					return
				case <-tracker.Rollovers():
				}
			}
		}()
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, systemd.WatchdogInterval(), func() bool {
		snapCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_, err := tracker.Snapshot(snapCtx)
		return err == nil
	}, logger)

	logger.Info().Msg("Tracker running, press Ctrl+C to stop")

	runErr := <-trackErr
	stop()
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Tracker stopped on fatal error")
	} else {
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	cancelUpload()
	<-uploadDone

	retention.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("Tracktime stopped")

	return runErr
}

// display redraws today's totals after each tick.
type display struct {
	out     io.Writer
	current *color.Color
	idle    *color.Color
}

func newDisplay(out io.Writer) *display {
	return &display{
		out:     out,
		current: color.New(color.FgGreen, color.Bold),
		idle:    color.New(color.Faint),
	}
}

func (d *display) render(st usage.Status) {
	// Clear screen and home the cursor.
	fmt.Fprint(d.out, "\033[H\033[2J")

	title := fmt.Sprintf("Tracked time for %s", st.Today.DateString())
	if err := report.Write(d.out, title, st.Today.Entries(), !color.NoColor); err != nil {
		return
	}

	fmt.Fprintln(d.out)
	if st.Session == nil {
		_, _ = d.idle.Fprintf(d.out, "Not tracking (%s)\n", st.Result.Kind)
		return
	}
	_, _ = d.current.Fprintf(d.out, "Now: %s for %s\n", st.Session.App, hms.FromSeconds(st.Session.AccumulatedSeconds))
}
