package repositories

import (
	"context"

	"callcore/internal/core/ports"
	"callcore/internal/infrastructure/repositories/memory"
	redisrepo "callcore/internal/infrastructure/repositories/redis"
	"callcore/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory picks Redis when it is configured and reachable and falls
// back to memory otherwise.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	capacity    int
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		capacity: cfg.Calls.CallLogLimit * 10,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(redisrepo.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories", "error", err)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}
	return factory, nil
}

func (f *RepositoryFactory) UsesRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// RedisClient is nil when the factory runs on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) CreateCallLogRepository() ports.CallLogRepository {
	if f.UsesRedis() {
		return redisrepo.NewCallLogRepository(f.redisClient, f.capacity)
	}
	return memory.NewCallLogRepository(f.capacity)
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		err := redisrepo.CloseRedisClient(f.redisClient)
		f.redisClient = nil
		return err
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsesRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
