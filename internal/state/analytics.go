// ./internal/state/analytics.go
package state

import (
	"database/sql"
	"fmt"
	"time"
)

// ProgramSummary represents high-level program statistics for the web API.
type ProgramSummary struct {
	TotalActiveLiquidityUSD float64   `json:"total_active_liquidity_usd"`
	ParticipantCount        int       `json:"participant_count"`
	TotalDistributed        float64   `json:"total_distributed"`
	TotalCycles             int       `json:"total_cycles"`
	LastRunAt               time.Time `json:"last_run_at"`
}

// GetProgramSummary aggregates the program-level view straight from the
// ledger tables.
func GetProgramSummary() (*ProgramSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &ProgramSummary{}

	var totalLiquidity sql.NullFloat64
	var participants sql.NullInt64
	err := DB.QueryRow(`
        SELECT COALESCE(SUM(value_usd), 0), COUNT(DISTINCT owner_address)
        FROM positions
        WHERE active = TRUE AND reward_eligible = TRUE;`).Scan(&totalLiquidity, &participants)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate positions: %w", err)
	}
	summary.TotalActiveLiquidityUSD = totalLiquidity.Float64
	summary.ParticipantCount = int(participants.Int64)

	distributed, err := TotalDistributed()
	if err != nil {
		return nil, err
	}
	summary.TotalDistributed = distributed

	cycles, err := GetCurrentCycleNumber()
	if err != nil {
		return nil, err
	}
	summary.TotalCycles = cycles

	var lastRun sql.NullTime
	err = DB.QueryRow(`SELECT MAX(started_at) FROM recalculation_runs;`).Scan(&lastRun)
	if err != nil {
		return nil, fmt.Errorf("failed to query last run: %w", err)
	}
	if lastRun.Valid {
		summary.LastRunAt = lastRun.Time
	}

	return summary, nil
}
