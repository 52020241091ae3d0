// ./internal/state/run_store.go
package state

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/veridian-labs/lmt/internal/types"
)

// SaveRecalculationRun persists the audit snapshot of one treasury cycle.
func SaveRecalculationRun(run types.RecalculationRun) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO recalculation_runs (
            run_id, cycle_number, started_at, duration_ms,
            positions_processed, positions_failed,
            total_daily_reward, total_active_liquidity, parameter_version
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	_, err := DB.Exec(stmt,
		run.RunID, run.CycleNumber, run.StartedAt, run.DurationMS,
		run.PositionsProcessed, run.PositionsFailed,
		run.TotalDailyReward, run.TotalActiveLiquidity, run.ParameterVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to save recalculation run %s: %w", run.RunID, err)
	}

	log.Debug().
		Str("runID", run.RunID).
		Int64("cycle", run.CycleNumber).
		Msg("Saved recalculation run")
	return nil
}

// RecentRecalculationRuns retrieves the latest runs, newest first.
func RecentRecalculationRuns(limit int) ([]types.RecalculationRun, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	rows, err := DB.Query(`
        SELECT run_id, cycle_number, started_at, duration_ms,
               positions_processed, positions_failed,
               total_daily_reward, total_active_liquidity, parameter_version
        FROM recalculation_runs
        ORDER BY started_at DESC
        LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recalculation runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RecalculationRun
	for rows.Next() {
		var run types.RecalculationRun
		err := rows.Scan(
			&run.RunID, &run.CycleNumber, &run.StartedAt, &run.DurationMS,
			&run.PositionsProcessed, &run.PositionsFailed,
			&run.TotalDailyReward, &run.TotalActiveLiquidity, &run.ParameterVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recalculation run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recalculation run iteration failed: %w", err)
	}
	return runs, nil
}
