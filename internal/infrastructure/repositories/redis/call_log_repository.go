package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

// CallLogRepository stores entries as JSON in one hash and orders them with
// sorted sets scored by timestamp: a global index and one per recipient.
type CallLogRepository struct {
	client     redis.Cmdable
	maxEntries int64
}

func NewCallLogRepository(client redis.Cmdable, maxEntries int) *CallLogRepository {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &CallLogRepository{client: client, maxEntries: int64(maxEntries)}
}

var _ ports.CallLogRepository = (*CallLogRepository)(nil)

func (r *CallLogRepository) Insert(ctx context.Context, entry domain.CallLogEntry) (err error) {
	ctx, span := tracing.TraceStore(ctx, "redis", "call_log.insert")
	defer span.End()
	defer func() { tracing.RecordError(ctx, err) }()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal call log entry: %w", err)
	}
	score := float64(entry.Timestamp.UnixMilli())

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, callLogEntries, entry.ID, data)
		pipe.ZAdd(ctx, callLogIndex, redis.Z{Score: score, Member: entry.ID})
		pipe.ZAdd(ctx, callLogRecipientIndex(entry.Recipient), redis.Z{Score: score, Member: entry.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert call log entry: %w", err)
	}
	return r.trim(ctx)
}

// trim drops the oldest entries beyond maxEntries. Recipient indexes may keep
// dangling ids for a while; reads skip them.
func (r *CallLogRepository) trim(ctx context.Context) error {
	n, err := r.client.ZCard(ctx, callLogIndex).Result()
	if err != nil || n <= r.maxEntries {
		return err
	}
	stale, err := r.client.ZRange(ctx, callLogIndex, 0, n-r.maxEntries-1).Result()
	if err != nil || len(stale) == 0 {
		return err
	}

	members := make([]interface{}, len(stale))
	for i, id := range stale {
		members[i] = id
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, callLogEntries, stale...)
		pipe.ZRem(ctx, callLogIndex, members...)
		return nil
	})
	return err
}

func (r *CallLogRepository) List(ctx context.Context, limit int) ([]domain.CallLogEntry, error) {
	return r.listIndex(ctx, callLogIndex, limit)
}

func (r *CallLogRepository) ListByRecipient(ctx context.Context, recipient domain.RecipientID, limit int) ([]domain.CallLogEntry, error) {
	return r.listIndex(ctx, callLogRecipientIndex(recipient), limit)
}

func (r *CallLogRepository) listIndex(ctx context.Context, index string, limit int) ([]domain.CallLogEntry, error) {
	ctx, span := tracing.TraceStore(ctx, "redis", "call_log.list")
	defer span.End()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to read call log index: %w", err)
	}

	entries := make([]domain.CallLogEntry, 0, len(ids))
	if len(ids) == 0 {
		return entries, nil
	}

	values, err := r.client.HMGet(ctx, callLogEntries, ids...).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to read call log entries: %w", err)
	}
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e domain.CallLogEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
