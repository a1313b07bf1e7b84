package upload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis stores each day under {prefix}ledger:{date} and indexes the dates
// of a month in the set {prefix}month:{YYYY-MM}.
type Redis struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis creates a Redis destination. The caller owns client.
func NewRedis(client *redis.Client, prefix string, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "upload-redis").Logger(),
	}
}

func (d *Redis) Name() string { return "redis" }

func (d *Redis) ledgerKey(date time.Time) string {
	return d.prefix + "ledger:" + date.Format(ledger.DateLayout)
}

func (d *Redis) monthKey(date time.Time) string {
	return d.prefix + "month:" + date.Format("2006-01")
}

func (d *Redis) Put(ctx context.Context, date time.Time, body []byte) (string, error) {
	key := d.ledgerKey(date)

	pipe := d.client.TxPipeline()
	pipe.Set(ctx, key, body, 0)
	pipe.SAdd(ctx, d.monthKey(date), date.Format(ledger.DateLayout))
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis store %s: %w", key, err)
	}

	d.logger.Debug().Str("key", key).Int("bytes", len(body)).Msg("Uploaded ledger")
	return key, nil
}

func (d *Redis) Fetch(ctx context.Context, date time.Time) ([]byte, error) {
	key := d.ledgerKey(date)
	body, err := d.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis fetch %s: %w", key, err)
	}
	return body, nil
}

// MonthDates lists the uploaded dates of a month, sorted.
func (d *Redis) MonthDates(ctx context.Context, year int, month time.Month) ([]string, error) {
	date := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	dates, err := d.client.SMembers(ctx, d.monthKey(date)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(dates)
	return dates, nil
}

// Close releases the client connection.
func (d *Redis) Close() error {
	return d.client.Close()
}
