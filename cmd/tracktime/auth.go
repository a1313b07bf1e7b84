package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/tracktime/internal/storage"
	"github.com/goodtune/tracktime/internal/upload"
	"github.com/spf13/cobra"
)

var (
	authAccess  string
	authRefresh string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage REST API credentials",
	Long:  `Store, inspect or remove the JWT pair used by the rest upload destination.`,
}

var authSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store an access/refresh token pair",
	Example: `  tracktime auth set --access eyJhbGci... --refresh eyJhbGci...`,
	Args: cobra.NoArgs,
	RunE: runAuthSet,
}

var authShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored credential's expiry",
	Args:  cobra.NoArgs,
	RunE:  runAuthShow,
}

var authClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored credential",
	Args:  cobra.NoArgs,
	RunE:  runAuthClear,
}

func init() {
	authSetCmd.Flags().StringVar(&authAccess, "access", "", "Access token (required)")
	authSetCmd.Flags().StringVar(&authRefresh, "refresh", "", "Refresh token")
	_ = authSetCmd.MarkFlagRequired("access")

	authCmd.AddCommand(authSetCmd, authShowCmd, authClearCmd)
	rootCmd.AddCommand(authCmd)
}

func withCredentials(fn func(ctx context.Context, creds storage.CredentialStore, name string) error) error {
	cfg, _, err := loadForCommand()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, store.Credentials(), cfg.Upload.REST.CredentialName)
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	return withCredentials(func(ctx context.Context, creds storage.CredentialStore, name string) error {
		cred := upload.NewCredential(name, authAccess, authRefresh)
		if err := creds.Upsert(ctx, cred); err != nil {
			return fmt.Errorf("store credential: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Stored credential %q", name)
		if !cred.ExpiresAt.IsZero() {
			fmt.Fprintf(os.Stdout, " (access token expires %s)", cred.ExpiresAt.Local().Format(time.DateTime))
		}
		fmt.Fprintln(os.Stdout)
		return nil
	})
}

func runAuthShow(cmd *cobra.Command, args []string) error {
	return withCredentials(func(ctx context.Context, creds storage.CredentialStore, name string) error {
		cred, err := creds.Get(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(os.Stdout, "No credential stored as %q\n", name)
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Credential %q updated %s\n", cred.Name, cred.UpdatedAt.Local().Format(time.DateTime))
		switch {
		case cred.ExpiresAt.IsZero():
			fmt.Fprintln(os.Stdout, "  access token has no expiry claim")
		case time.Now().After(cred.ExpiresAt):
			_, _ = color.New(color.FgYellow).Fprintf(os.Stdout, "  access token expired %s\n", cred.ExpiresAt.Local().Format(time.DateTime))
		default:
			fmt.Fprintf(os.Stdout, "  access token valid until %s\n", cred.ExpiresAt.Local().Format(time.DateTime))
		}
		if cred.RefreshToken == "" {
			_, _ = color.New(color.FgYellow).Fprintln(os.Stdout, "  no refresh token, the access token cannot be renewed")
		}
		return nil
	})
}

func runAuthClear(cmd *cobra.Command, args []string) error {
	return withCredentials(func(ctx context.Context, creds storage.CredentialStore, name string) error {
		if err := creds.Delete(ctx, name); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		fmt.Fprintf(os.Stdout, "Removed credential %q\n", name)
		return nil
	})
}
