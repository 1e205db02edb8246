package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/canopy-network/nodetracker/app/tracker"
	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/canopy-network/nodetracker/pkg/logging"
	"github.com/canopy-network/nodetracker/pkg/redis"
	"github.com/canopy-network/nodetracker/pkg/store"
	"github.com/canopy-network/nodetracker/pkg/utils"
)

const (
	DefaultCronSpec   = "0 */15 * * * *"
	DefaultStaleAfter = 30 * time.Minute

	// each run gets at most this long to scan and publish
	runTimeout = 2 * time.Minute
)

// App periodically summarizes the balance logs: one log line per identifier,
// a warning for identifiers that stopped reporting and, when Redis is
// configured, a published Summary.
type App struct {
	Store        store.Store
	GapThreshold time.Duration
	// StaleAfter is how old an identifier's latest record may be before it is reported as stale.
	StaleAfter time.Duration

	// Cron triggers Report according to CronSpec.
	Cron     *cron.Cron
	CronSpec string

	// RedisClient is optional.
	RedisClient    *redis.Client
	SummaryChannel string

	Logger *zap.Logger

	// Now is replaced in tests.
	Now func() time.Time
}

// PeerSummary is the reporter's view of one identifier.
type PeerSummary struct {
	PeerID     string          `json:"peer_id"`
	Hostname   string          `json:"hostname"`
	Balance    decimal.Decimal `json:"balance"`
	PerHour    float64         `json:"per_hour"`
	LastGrowth decimal.Decimal `json:"last_hour_growth"`
	LastSeen   time.Time       `json:"last_seen"`
	Stale      bool            `json:"stale"`
}

type Summary struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Peers       []PeerSummary `json:"peers"`
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	st, err := tracker.NewStore(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to initialize balance store", zap.Error(err))
	}

	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - summaries are only logged", zap.Error(err))
			redisClient = nil
		}
	}

	app := &App{
		Store:          st,
		GapThreshold:   utils.EnvDuration("TRACKER_GAP_THRESHOLD", balance.DefaultGapThreshold),
		StaleAfter:     StaleAfterFromEnv(),
		CronSpec:       utils.Env("REPORT_CRON", DefaultCronSpec),
		RedisClient:    redisClient,
		SummaryChannel: utils.Env("REPORT_CHANNEL", redis.DefaultSummaryChannel),
		Logger:         logger,
		Now:            time.Now,
	}

	if err := app.SetupScheduler(ctx); err != nil {
		logger.Fatal("Unable to schedule reporter", zap.String("cronSpec", app.CronSpec), zap.Error(err))
	}

	return app
}

// StaleAfterFromEnv reads REPORT_STALE_AFTER; 0 disables the stale check.
func StaleAfterFromEnv() time.Duration {
	return utils.EnvNonNegativeDuration("REPORT_STALE_AFTER", DefaultStaleAfter)
}

// SetupScheduler sets up the cron scheduler.
func (a *App) SetupScheduler(ctx context.Context) error {
	logger := NewCronLogger(a.Logger)
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)), cron.WithLogger(logger))

	_, err := a.Cron.AddFunc(a.CronSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := a.Report(rctx); err != nil {
			a.Logger.Warn("Balance report failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid REPORT_CRON %q: %w", a.CronSpec, err)
	}
	return nil
}

// Start runs the scheduler until ctx is done.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()
	a.Logger.Info("Reporter cron started", zap.String("cronSpec", a.CronSpec))

	<-ctx.Done()
	a.Stop()
}

// Stop waits for a running report, then releases the store and Redis.
func (a *App) Stop() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
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

// Report scans the store and logs the current state of every identifier.
func (a *App) Report(ctx context.Context) (Summary, error) {
	logs, err := a.Store.Scan(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("scan balance logs: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	m, skipped := balance.Analyze(logs, a.GapThreshold)
	summary := Summarize(m, a.Now(), a.StaleAfter)

	for _, p := range summary.Peers {
		fields := []zap.Field{
			zap.String("peer_id", p.PeerID),
			zap.String("hostname", p.Hostname),
			zap.String("balance", p.Balance.String()),
			zap.Float64("per_hour", p.PerHour),
			zap.String("last_hour_growth", p.LastGrowth.String()),
			zap.Time("last_seen", p.LastSeen),
		}
		if p.Stale {
			a.Logger.Warn("Node stopped reporting", append(fields, zap.Duration("stale_after", a.StaleAfter))...)
			continue
		}
		a.Logger.Info("Node balance", fields...)
	}
	a.Logger.Info("Balance report complete",
		zap.Int("peers", len(summary.Peers)),
		zap.Int("skipped_rows", len(skipped)))

	if a.RedisClient != nil {
		payload, err := json.Marshal(summary)
		if err != nil {
			return summary, fmt.Errorf("encode summary: %w", err)
		}
		a.RedisClient.Publish(ctx, a.SummaryChannel, payload)
	}

	return summary, nil
}

// Summarize joins the latest state with the most recent hourly growth of each
// identifier. Identifiers whose latest record is older than staleAfter (as of
// now) are flagged; staleAfter <= 0 disables the check.
func Summarize(m balance.Metrics, now time.Time, staleAfter time.Duration) Summary {
	growth := make(map[string]decimal.Decimal, len(m.Latest))
	// Hourly is ordered by identifier, then hour.
	for _, h := range m.Hourly {
		growth[h.PeerID] = h.Growth
	}

	peers := make([]PeerSummary, 0, len(m.Latest))
	for _, l := range m.Latest {
		peers = append(peers, PeerSummary{
			PeerID:     l.PeerID,
			Hostname:   l.Hostname,
			Balance:    l.Balance,
			PerHour:    l.PerHour,
			LastGrowth: growth[l.PeerID],
			LastSeen:   l.Time,
			Stale:      staleAfter > 0 && now.Sub(l.Time) > staleAfter,
		})
	}
	return Summary{GeneratedAt: now.UTC(), Peers: peers}
}
