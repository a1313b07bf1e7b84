package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goodtune/tracktime/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	uploadTimelineKey   = keyPrefix + "uploads"
	uploadRecordPrefix  = keyPrefix + "upload:"
	uploadDateIndexPref = keyPrefix + "uploads:date:"
)

type uploadStore struct {
	client *redis.Client
}

// Add stores an upload record with a 90-day TTL
func (s *uploadStore) Add(ctx context.Context, record storage.UploadRecord) error {
	if record.Date == "" {
		return fmt.Errorf("upload record date is required")
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	script := redis.NewScript(addUploadScript)
	keys := []string{
		uploadRecordPrefix + record.ID,
		uploadTimelineKey,
		uploadDateIndexPref + record.Date,
	}
	args := []interface{}{
		record.ID,
		record.StartedAt.UnixMilli(),
		retentionSeconds,
		record.Date,
		record.Destination,
		record.Remote,
		string(record.Trigger),
		record.Bytes,
		record.Attempts,
		record.StartedAt.Format(time.RFC3339Nano),
		record.Duration.Milliseconds(),
		formatBool(record.Success),
		record.Error,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// List returns records newest first
func (s *uploadStore) List(ctx context.Context, filter storage.UploadFilter) ([]storage.UploadRecord, error) {
	var ids []string
	var err error
	if filter.Date != "" {
		ids, err = s.client.SMembers(ctx, uploadDateIndexPref+filter.Date).Result()
	} else {
		stop := int64(-1)
		if filter.Limit > 0 {
			stop = int64(filter.Limit - 1)
		}
		ids, err = s.client.ZRevRange(ctx, uploadTimelineKey, 0, stop).Result()
	}
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.UploadRecord{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, uploadRecordPrefix+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.UploadRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			// Expired between index read and fetch
			continue
		}
		record, err := parseUploadRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}

	return records, nil
}

// DeleteBefore removes records started before cutoff
func (s *uploadStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	script := redis.NewScript(pruneUploadsScript)
	n, err := script.Run(ctx, s.client,
		[]string{uploadTimelineKey},
		uploadRecordPrefix,
		uploadDateIndexPref,
		strconv.FormatInt(cutoff.UnixMilli(), 10),
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}
