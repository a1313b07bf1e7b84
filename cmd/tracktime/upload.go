package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/tracktime/internal/config"
	"github.com/goodtune/tracktime/internal/hms"
	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/storage"
	"github.com/goodtune/tracktime/internal/upload"
	"github.com/spf13/cobra"
)

var (
	uploadDate   string
	uploadsDate  string
	uploadsLimit int
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a day's ledger now",
	Long:  `Push one local ledger to the configured destination, with the same retries as the tracker, and record the attempt in the upload journal.`,
	Example: `  tracktime upload
  tracktime upload --date 2024-03-09`,
	Args: cobra.NoArgs,
	RunE: runUpload,
}

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Show the upload journal",
	Args:  cobra.NoArgs,
	RunE:  runUploads,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadDate, "date", "", "Day to upload as YYYY-MM-DD (default: today)")
	uploadsCmd.Flags().StringVar(&uploadsDate, "date", "", "Only show uploads of this day (YYYY-MM-DD)")
	uploadsCmd.Flags().IntVar(&uploadsLimit, "limit", 20, "Maximum number of records to show (0 for all)")
	rootCmd.AddCommand(uploadCmd, uploadsCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadForCommand()
	if err != nil {
		return err
	}

	if !cfg.Upload.Enabled {
		return errUploadDisabled
	}

	date := time.Now()
	if uploadDate != "" {
		if date, err = ledger.ParseDate(uploadDate); err != nil {
			return err
		}
	}

	body, l, err := ledger.NewStore(cfg.Tracker.DataDir, logger).Read(date)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no ledger for %s in %s", date.Format(ledger.DateLayout), cfg.Tracker.DataDir)
	}
	if err != nil {
		return err
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	uploader, err := newUploader(cfg, store, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Upload.Timeout, upload.DefaultTimeout))
	defer cancel()

	record, err := uploader.UploadOnce(ctx, l.Date(), body, storage.TriggerManual)
	if err != nil {
		return fmt.Errorf("upload %s to %s failed after %d attempt(s): %w", record.Date, record.Destination, record.Attempts, err)
	}

	_, _ = color.New(color.FgGreen).Fprintf(os.Stdout, "Uploaded %s (%s tracked) to %s: %s\n",
		record.Date, hms.FromSeconds(l.Total()), record.Destination, record.Remote)
	return nil
}

func runUploads(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadForCommand()
	if err != nil {
		return err
	}
	if uploadsDate != "" {
		if _, err := ledger.ParseDate(uploadsDate); err != nil {
			return err
		}
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.Uploads().List(context.Background(), storage.UploadFilter{Date: uploadsDate, Limit: uploadsLimit})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "No uploads recorded")
		return nil
	}

	failed := color.New(color.FgRed)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDATE\tDESTINATION\tTRIGGER\tATTEMPTS\tDURATION\tRESULT")
	for _, r := range records {
		result := "ok " + r.Remote
		if !r.Success {
			result = failed.Sprint("failed: " + r.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Date,
			r.Destination,
			r.Trigger,
			r.Attempts,
			r.Duration.Round(time.Millisecond),
			result,
		)
	}
	return tw.Flush()
}
