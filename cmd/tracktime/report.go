package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goodtune/tracktime/internal/config"
	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/report"
	"github.com/goodtune/tracktime/internal/storage"
	"github.com/goodtune/tracktime/internal/upload"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var errUploadDisabled = errors.New("no upload destination configured (set upload.enabled)")

var (
	reportRemote  bool
	reportNoColor bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show tracked time",
	Long:  `Show per-application totals for a day or a month, from the local ledgers or the upload destination.`,
}

var reportTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReportDay(cmd.Context(), time.Now())
	},
}

var reportDayCmd = &cobra.Command{
	Use:     "day YYYY-MM-DD",
	Short:   "Show one day's totals",
	Example: `  tracktime report day 2024-03-09
  tracktime report day --remote 2024-03-09`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := ledger.ParseDate(args[0])
		if err != nil {
			return err
		}
		return runReportDay(cmd.Context(), date)
	},
}

var reportMonthCmd = &cobra.Command{
	Use:   "month [YYYY-MM]",
	Short: "Show a month's totals (default: current month)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		month := time.Now()
		if len(args) == 1 {
			var err error
			month, err = time.ParseInLocation("2006-01", args[0], time.Local)
			if err != nil {
				return fmt.Errorf("invalid month %q, expected YYYY-MM", args[0])
			}
		}
		return runReportMonth(cmd.Context(), month.Year(), month.Month())
	},
}

func init() {
	reportCmd.PersistentFlags().BoolVar(&reportRemote, "remote", false, "Read ledgers from the upload destination instead of the local data directory")
	reportCmd.PersistentFlags().BoolVar(&reportNoColor, "no-color", false, "Disable colored output")

	reportCmd.AddCommand(reportTodayCmd, reportDayCmd, reportMonthCmd)
	rootCmd.AddCommand(reportCmd)
}

func runReportDay(ctx context.Context, date time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadForCommand()
	if err != nil {
		return err
	}
	title := "Tracked time for " + date.Format(ledger.DateLayout)

	if reportRemote {
		dest, closeDest, err := remoteDestination(cfg, logger)
		if err != nil {
			return err
		}
		defer closeDest()

		body, err := dest.Fetch(ctx, date)
		if errors.Is(err, upload.ErrNotFound) {
			return writeReport(os.Stdout, title+" ("+dest.Name()+")", report.Report{})
		}
		if err != nil {
			return fmt.Errorf("fetch from %s: %w", dest.Name(), err)
		}
		rep, err := report.FromBytes(body)
		if err != nil {
			return err
		}
		return writeReport(os.Stdout, title+" ("+dest.Name()+")", rep)
	}

	reader, err := report.NewReader(ledger.NewStore(cfg.Tracker.DataDir, logger), report.DefaultCacheSize, logger)
	if err != nil {
		return err
	}
	rep, err := reader.Day(ctx, date)
	if errors.Is(err, os.ErrNotExist) {
		return writeReport(os.Stdout, title, report.Report{})
	}
	if err != nil {
		return err
	}
	return writeReport(os.Stdout, title, rep)
}

func runReportMonth(ctx context.Context, year int, month time.Month) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadForCommand()
	if err != nil {
		return err
	}
	title := fmt.Sprintf("Tracked time for %s %d", month, year)

	if reportRemote {
		dest, closeDest, err := remoteDestination(cfg, logger)
		if err != nil {
			return err
		}
		defer closeDest()

		rep, err := fetchMonth(ctx, dest, year, month, time.Now(), logger)
		if err != nil {
			return err
		}
		return writeReport(os.Stdout, fmt.Sprintf("%s (%s, %d days)", title, dest.Name(), rep.Days), rep)
	}

	reader, err := report.NewReader(ledger.NewStore(cfg.Tracker.DataDir, logger), report.DefaultCacheSize, logger)
	if err != nil {
		return err
	}
	rep, err := reader.Month(ctx, year, month)
	if err != nil {
		return err
	}
	return writeReport(os.Stdout, fmt.Sprintf("%s (%d days)", title, rep.Days), rep)
}

// fetchMonth downloads every ledger of the month that exists remotely and
// sums them. Days after now are not requested.
func fetchMonth(ctx context.Context, dest upload.Destination, year int, month time.Month, now time.Time, logger zerolog.Logger) (report.Report, error) {
	var dates []time.Time
	if lister, ok := dest.(interface {
		MonthDates(ctx context.Context, year int, month time.Month) ([]string, error)
	}); ok {
		names, err := lister.MonthDates(ctx, year, month)
		if err != nil {
			return report.Report{}, fmt.Errorf("list %s dates: %w", dest.Name(), err)
		}
		for _, name := range names {
			d, err := ledger.ParseDate(name)
			if err != nil {
				logger.Warn().Str("date", name).Msg("Ignoring malformed remote date")
				continue
			}
			dates = append(dates, d)
		}
	} else {
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
		for d := first; d.Month() == month && !d.After(now); d = d.AddDate(0, 0, 1) {
			dates = append(dates, d)
		}
	}

	var bodies [][]byte
	for _, d := range dates {
		body, err := dest.Fetch(ctx, d)
		if errors.Is(err, upload.ErrNotFound) {
			continue
		}
		if err != nil {
			return report.Report{}, fmt.Errorf("fetch %s from %s: %w", d.Format(ledger.DateLayout), dest.Name(), err)
		}
		bodies = append(bodies, body)
	}

	rep, err := report.Merge(bodies...)
	if err != nil {
		logger.Warn().Err(err).Msg("Some remote ledgers could not be parsed")
	}
	return rep, nil
}

func writeReport(w io.Writer, title string, rep report.Report) error {
	return report.Write(w, title, rep.Entries, !reportNoColor)
}

// loadForCommand loads configuration for the short-lived subcommands,
// logging warnings and above to stderr.
func loadForCommand() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()
	return cfg, logger, nil
}

// remoteDestination builds the configured destination. The credential
// store is only opened for rest. The returned func releases both.
func remoteDestination(cfg *config.Config, logger zerolog.Logger) (upload.Destination, func(), error) {
	if !cfg.Upload.Enabled {
		return nil, nil, errUploadDisabled
	}

	var creds storage.CredentialStore
	closeStore := func() {}
	if cfg.Upload.Destination == "rest" {
		store, err := openStorage(cfg.Storage)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		creds = store.Credentials()
		closeStore = func() { _ = store.Close() }
	}

	dest, err := upload.NewDestination(cfg.Upload, creds, logger)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return dest, func() {
		if c, ok := dest.(io.Closer); ok {
			_ = c.Close()
		}
		closeStore()
	}, nil
}
