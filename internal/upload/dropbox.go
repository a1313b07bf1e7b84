package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/goodtune/tracktime/internal/config"
	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/retry"
	"github.com/rs/zerolog"
)

// dropboxFiles is the subset of files.Client used here.
type dropboxFiles interface {
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
}

// Dropbox stores each day as {path_prefix}TrackedTime(date).json, overwriting
// earlier uploads of the same day.
type Dropbox struct {
	client dropboxFiles
	prefix string
	logger zerolog.Logger
}

// NewDropbox creates a Dropbox destination authenticated with a static token.
// timeout bounds each SDK request, since an abandoned call keeps running
// after its context ends.
func NewDropbox(cfg config.DropboxConfig, timeout time.Duration, logger zerolog.Logger) *Dropbox {
	client := files.New(dropboxConfig(cfg, timeout))
	return newDropbox(client, cfg.PathPrefix, logger)
}

func dropboxConfig(cfg config.DropboxConfig, timeout time.Duration) dropbox.Config {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return dropbox.Config{
		Token:    cfg.Token,
		LogLevel: dropbox.LogOff,
		Client:   &http.Client{Timeout: timeout},
	}
}

func newDropbox(client dropboxFiles, prefix string, logger zerolog.Logger) *Dropbox {
	if prefix == "" {
		prefix = "/"
	}
	return &Dropbox{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "upload-dropbox").Logger(),
	}
}

func (d *Dropbox) Name() string { return "dropbox" }

// Path returns the remote path for date.
func (d *Dropbox) Path(date time.Time) string {
	p := path.Join(d.prefix, ledger.FileName(date))
	if !path.IsAbs(p) {
		p = "/" + p
	}
	return p
}

func (d *Dropbox) Put(ctx context.Context, date time.Time, body []byte) (string, error) {
	remote := d.Path(date)

	arg := files.NewUploadArg(remote)
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}

	err := runWithContext(ctx, func() error {
		_, err := d.client.Upload(arg, bytes.NewReader(body))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("dropbox upload %s: %w", remote, err)
	}

	d.logger.Debug().Str("path", remote).Int("bytes", len(body)).Msg("Uploaded ledger")
	return remote, nil
}

func (d *Dropbox) Fetch(ctx context.Context, date time.Time) ([]byte, error) {
	remote := d.Path(date)

	var body []byte
	err := runWithContext(ctx, func() error {
		_, content, err := d.client.Download(files.NewDownloadArg(remote))
		if err != nil {
			return err
		}
		defer content.Close()
		body, err = io.ReadAll(content)
		return err
	})
	if err != nil {
		if isDropboxNotFound(err) {
			return nil, fmt.Errorf("%s: %w", remote, ErrNotFound)
		}
		return nil, fmt.Errorf("dropbox download %s: %w", remote, err)
	}
	return body, nil
}

// runWithContext runs a blocking SDK call, returning early if ctx ends.
func runWithContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isDropboxNotFound(err error) bool {
	var apiErr files.DownloadAPIError
	if !errors.As(err, &apiErr) || apiErr.EndpointError == nil {
		return false
	}
	lookup := apiErr.EndpointError.Path
	return apiErr.EndpointError.Tag == files.DownloadErrorPath &&
		lookup != nil && lookup.Tag == files.LookupErrorNotFound
}

func classifyDropbox(err error) (retry.Action, bool) {
	var rateErr auth.RateLimitAPIError
	var authErr auth.AuthAPIError
	var uploadErr files.UploadAPIError

	switch {
	case errors.As(err, &rateErr):
		return retry.After, true
	case errors.As(err, &authErr):
		return retry.Stop, true
	case errors.As(err, &uploadErr):
		return retry.Stop, true
	case isDropboxNotFound(err):
		return retry.Stop, true
	}
	return retry.Retry, false
}
