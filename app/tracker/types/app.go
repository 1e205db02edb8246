package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/canopy-network/nodetracker/pkg/live"
	"github.com/canopy-network/nodetracker/pkg/redis"
	"github.com/canopy-network/nodetracker/pkg/store"
	"github.com/oklog/run"
	"go.uber.org/zap"
)

type App struct {
	// Store holds the per-identifier balance logs.
	Store store.Store
	// GapThreshold is the elapsed time from which a sample is treated as a gap.
	GapThreshold time.Duration

	// Hub fans balance events out to connected dashboards.
	Hub *live.Hub
	// RedisClient is optional; when set, events travel through RedisChannel so
	// every tracker instance's hub sees them.
	RedisClient  *redis.Client
	RedisChannel string

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Metrics loads every log and derives the dashboard data. Storage failures are
// logged and produce empty metrics; the report path never fails on them.
func (a *App) Metrics(ctx context.Context) balance.Metrics {
	logs, err := a.Store.Scan(ctx)
	if err != nil {
		a.Logger.Warn("Unable to scan balance logs, rendering empty state", zap.Error(err))
		return balance.Derive(nil, a.GapThreshold)
	}

	m, skipped := balance.Analyze(logs, a.GapThreshold)
	for _, err := range skipped {
		a.Logger.Debug("Skipped balance row", zap.Error(err))
	}
	a.Logger.Debug("Derived balance metrics",
		zap.Int("logs", len(logs)),
		zap.Int("points", len(m.Series)),
		zap.Int("skipped", len(skipped)),
		zap.Int("peers", len(m.Latest)))
	return m
}

// Notify announces an appended entry. Failures are logged only.
func (a *App) Notify(ctx context.Context, e balance.Entry) {
	msg, err := live.NewBalanceUpdated(e).Encode()
	if err != nil {
		a.Logger.Warn("Unable to encode balance event", zap.Error(err))
		return
	}

	if a.RedisClient != nil {
		a.RedisClient.Publish(ctx, a.RedisChannel, msg)
		return
	}
	a.Hub.Broadcast(msg)
}

// Start runs the HTTP server (and the Redis listener when configured) until
// ctx is done or one of them fails, then shuts everything down.
func (a *App) Start(ctx context.Context) {
	var g run.Group

	g.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) {})

	g.Add(func() error {
		a.Logger.Info("Listening", zap.String("addr", a.Server.Addr))
		return a.Server.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("Failed to shut down server", zap.Error(err))
		}
	})

	if a.RedisClient != nil {
		listenCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return a.RedisClient.Listen(listenCtx, a.RedisChannel, a.Hub.Broadcast)
		}, func(error) {
			cancel()
		})
	}

	if err := g.Run(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Error("Tracker stopped", zap.Error(err))
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close store", zap.Error(err))
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis client", zap.Error(err))
		}
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
