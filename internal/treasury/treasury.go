/*

This file contains the treasury orchestrator: the daily recalculation cycle
that samples pool state for each position's range and fans reward
recalculation out across a worker pool. One cycle is one audit row; a cycle
that dies between positions leaves every already-written record valid, since
each position's update is atomic and independent.

*/

package treasury

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/veridian-labs/lmt/internal/analytics"
	"github.com/veridian-labs/lmt/internal/logger"
	"github.com/veridian-labs/lmt/internal/rewards"
	"github.com/veridian-labs/lmt/internal/state"
	"github.com/veridian-labs/lmt/internal/types"
)

const (
	// DEFAULT_CONFIG_VERSION seeds the parameter store on first run.
	DEFAULT_CONFIG_VERSION = 1

	// DefaultCronSpec runs the daily recalculation at 00:05 UTC. Seconds
	// field included, matching the scheduler configuration.
	DefaultCronSpec = "0 5 0 * * *"

	maxWorkers = 8
	queueSize  = 64
)

// PoolStateReader supplies accumulator snapshots for range sampling.
type PoolStateReader interface {
	PoolState(ctx context.Context, pool string, tickLower, tickUpper int) (types.PoolState, error)
}

// Ledger supplies the position set for a cycle.
type Ledger interface {
	ActivePositions() ([]types.Position, error)
}

// Treasury drives the recalculation cycles.
type Treasury struct {
	logger    zerolog.Logger
	engine    *rewards.Engine
	analytics *analytics.Analytics
	ledger    Ledger
	reader    PoolStateReader

	// Persistence hooks, overridable in tests. Default to the state package.
	nextCycle func() (int, error)
	saveRun   func(types.RecalculationRun) error

	pool pond.Pool
	cron *cron.Cron
}

// Config holds the dependencies for creating a Treasury.
type Config struct {
	Engine    *rewards.Engine
	Analytics *analytics.Analytics
	Ledger    Ledger
	Reader    PoolStateReader

	NextCycle func() (int, error)
	SaveRun   func(types.RecalculationRun) error
}

// New creates a Treasury instance with dependency injection.
func New(cfg Config) (*Treasury, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("treasury configuration validation failed: %w", err)
	}

	t := &Treasury{
		logger:    logger.GetForComponent("treasury_core"),
		engine:    cfg.Engine,
		analytics: cfg.Analytics,
		ledger:    cfg.Ledger,
		reader:    cfg.Reader,
		nextCycle: cfg.NextCycle,
		saveRun:   cfg.SaveRun,
		pool:      pond.NewPool(maxWorkers, pond.WithQueueSize(queueSize)),
	}
	if t.nextCycle == nil {
		t.nextCycle = state.IncrementCycleNumber
	}
	if t.saveRun == nil {
		t.saveRun = state.SaveRecalculationRun
	}

	t.logger.Info().Msg("Treasury instance created successfully")
	return t, nil
}

func validateConfig(cfg Config) error {
	if cfg.Engine == nil {
		return fmt.Errorf("reward engine cannot be nil")
	}
	if cfg.Analytics == nil {
		return fmt.Errorf("analytics cannot be nil")
	}
	if cfg.Ledger == nil {
		return fmt.Errorf("position ledger cannot be nil")
	}
	if cfg.Reader == nil {
		return fmt.Errorf("pool state reader cannot be nil")
	}
	return nil
}

// StartScheduler registers the daily cycle on a cron schedule and starts it.
func (t *Treasury) StartScheduler(ctx context.Context, cronSpec string) error {
	if cronSpec == "" {
		cronSpec = DefaultCronSpec
	}
	t.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := t.cron.AddFunc(cronSpec, func() {
		// Keep each run bounded.
		runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
		defer cancel()
		t.RunCycle(runCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to register cycle schedule %q: %w", cronSpec, err)
	}

	t.cron.Start()
	t.logger.Info().Str("cronSpec", cronSpec).Msg("Treasury scheduler started")
	return nil
}

// Stop halts the scheduler and drains the worker pool.
func (t *Treasury) Stop() {
	if t.cron != nil {
		<-t.cron.Stop().Done()
	}
	t.pool.StopAndWait()
	t.logger.Info().Msg("Treasury stopped")
}

// RunLoop runs cycles on a fixed interval instead of the cron schedule,
// starting with an immediate cycle. Used for catch-up and development runs.
func (t *Treasury) RunLoop(ctx context.Context, interval time.Duration) {
	t.logger.Info().
		Dur("interval", interval).
		Msg("Starting treasury loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("Treasury loop stopped due to context cancellation")
			return
		case <-ticker.C:
			t.RunCycle(ctx)
		}
	}
}

// RunCycle executes a complete recalculation cycle.
func (t *Treasury) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()

	// Unique cycle ID for tracing logs across the entire cycle.
	cycleID := uuid.New().String()
	cycleLogger := t.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting treasury cycle ---")

	cycleNumber, err := t.nextCycle()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: failed to advance cycle counter.")
		return
	}

	params := t.engine.ActiveParameters()
	cycleLogger.Info().
		Int("cycleNumber", cycleNumber).
		Str("paramsConfig", params.Name).
		Int("paramsVersion", params.Version).
		Msg("Cycle initialized")

	// --- Step 1: Load the position set ---
	positions, err := t.ledger.ActivePositions()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: failed to load active positions.")
		return
	}
	if len(positions) == 0 {
		cycleLogger.Info().Msg("No active positions, nothing to recalculate.")
		t.persistRun(cycleLogger, types.RecalculationRun{
			RunID:            cycleID,
			CycleNumber:      int64(cycleNumber),
			StartedAt:        cycleStartTime,
			DurationMS:       time.Since(cycleStartTime).Milliseconds(),
			ParameterVersion: params.Version,
		})
		return
	}
	cycleLogger.Info().Int("positions", len(positions)).Msg("Step 1: Position set loaded.")

	// --- Step 2: Range sampling ---
	// One in-range observation per position per cycle. A failed snapshot
	// costs a sample, never the cycle.
	sampled := 0
	for _, pos := range positions {
		if ctx.Err() != nil {
			cycleLogger.Warn().Msg("Cycle aborted during range sampling.")
			return
		}
		poolState, err := t.reader.PoolState(ctx, pos.Pool, pos.TickLower, pos.TickUpper)
		if err != nil {
			cycleLogger.Warn().
				Err(err).
				Uint64("position", uint64(pos.ID)).
				Msg("Skipping range sample, pool state unavailable")
			continue
		}
		t.engine.RecordRangeSample(pos, poolState.CurrentTick)
		sampled++
	}
	cycleLogger.Info().Int("sampled", sampled).Msg("Step 2: Range sampling complete.")

	// --- Step 3: Aggregate snapshot ---
	totalLiquidity, err := t.analytics.TotalActiveLiquidity(params.MinPositionValueUSD)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: failed to compute total active liquidity.")
		return
	}
	cycleLogger.Info().Float64("totalActiveLiquidity", totalLiquidity).Msg("Step 3: Aggregate snapshot taken.")

	// --- Step 4: Parallel recalculation ---
	var (
		mu         sync.Mutex
		processed  int
		failed     int
		totalDaily float64
	)

	group := t.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, pos := range positions {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			record, err := t.engine.Recalculate(pos)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				cycleLogger.Error().
					Err(err).
					Uint64("position", uint64(pos.ID)).
					Msg("Position recalculation failed")
				return
			}
			processed++
			totalDaily += record.DailyReward
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		cycleLogger.Error().Err(err).Msg("Recalculation group finished with error")
	}
	cycleLogger.Info().
		Int("processed", processed).
		Int("failed", failed).
		Float64("totalDailyReward", totalDaily).
		Msg("Step 4: Recalculation complete.")

	// --- Step 5: Audit snapshot ---
	t.persistRun(cycleLogger, types.RecalculationRun{
		RunID:                cycleID,
		CycleNumber:          int64(cycleNumber),
		StartedAt:            cycleStartTime,
		DurationMS:           time.Since(cycleStartTime).Milliseconds(),
		PositionsProcessed:   processed,
		PositionsFailed:      failed,
		TotalDailyReward:     totalDaily,
		TotalActiveLiquidity: totalLiquidity,
		ParameterVersion:     params.Version,
	})

	cycleLogger.Info().
		Dur("duration", time.Since(cycleStartTime)).
		Msg("--- Treasury cycle completed ---")
}

func (t *Treasury) persistRun(cycleLogger zerolog.Logger, run types.RecalculationRun) {
	if err := t.saveRun(run); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist recalculation run")
	}
}
