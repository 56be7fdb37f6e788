package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"callcore/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Migration moves the Redis key layout from Version-1 to Version.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, client *redis.Client) error
}

func migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "index call log entries per recipient",
			Up:          rebuildRecipientIndexes,
		},
	}
}

func currentSchemaVersion() int {
	all := migrations()
	return all[len(all)-1].Version
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	version, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version >= currentSchemaVersion() {
		if logger != nil {
			logger.Debugw("schema is up to date", "version", version)
		}
		return nil
	}

	for _, m := range migrations() {
		if m.Version <= version {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", m.Version, "description", m.Description)
		}
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// rebuildRecipientIndexes fills the per-recipient sorted sets from the entry
// hash. Entries written before the indexes existed only had the global index.
func rebuildRecipientIndexes(ctx context.Context, client *redis.Client) error {
	var cursor uint64
	for {
		fields, next, err := client.HScan(ctx, callLogEntries, cursor, "*", 200).Result()
		if err != nil {
			return err
		}

		pipe := client.Pipeline()
		for i := 0; i+1 < len(fields); i += 2 {
			var e domain.CallLogEntry
			if err := json.Unmarshal([]byte(fields[i+1]), &e); err != nil {
				continue
			}
			pipe.ZAdd(ctx, callLogRecipientIndex(e.Recipient), redis.Z{
				Score:  float64(e.Timestamp.UnixMilli()),
				Member: e.ID,
			})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}
