package tracker

import (
	"context"

	"github.com/canopy-network/nodetracker/app/tracker/types"
	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/canopy-network/nodetracker/pkg/live"
	"github.com/canopy-network/nodetracker/pkg/logging"
	"github.com/canopy-network/nodetracker/pkg/redis"
	"github.com/canopy-network/nodetracker/pkg/store"
	"github.com/canopy-network/nodetracker/pkg/store/clickhouse"
	"github.com/canopy-network/nodetracker/pkg/store/file"
	"github.com/canopy-network/nodetracker/pkg/utils"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	st, err := NewStore(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to initialize balance store", zap.Error(err))
	}

	// Redis is only needed to share live events between several tracker instances (optional)
	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - live updates stay local to this instance",
				zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized for live updates")
		}
	} else {
		logger.Info("Redis disabled - live updates stay local to this instance")
	}

	return &types.App{
		Store:        st,
		GapThreshold: utils.EnvDuration("TRACKER_GAP_THRESHOLD", balance.DefaultGapThreshold),
		Hub:          live.NewHub(logger),
		RedisClient:  redisClient,
		RedisChannel: utils.Env("REDIS_CHANNEL", redis.DefaultBalanceChannel),
		Logger:       logger,
	}
}

// NewStore builds the storage backend selected by TRACKER_STORAGE.
func NewStore(ctx context.Context, logger *zap.Logger) (store.Store, error) {
	switch backend := utils.Env("TRACKER_STORAGE", store.BackendFile); backend {
	case store.BackendClickHouse:
		return clickhouse.New(ctx, logger, clickhouse.OptionsFromEnv())
	default:
		if backend != store.BackendFile {
			logger.Warn("Unknown TRACKER_STORAGE, using file backend", zap.String("storage", backend))
		}
		dir := utils.Env("TRACKER_DATA_DIR", "./data")
		logger.Info("Using file balance store", zap.String("dir", dir))
		return file.New(dir, utils.EnvInt("TRACKER_SCAN_WORKERS", 4), logger)
	}
}
