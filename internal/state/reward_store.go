// ./internal/state/reward_store.go
package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/veridian-labs/lmt/internal/types"
)

// GetRewardRecord loads the accrual record for a position. The bool reports
// whether a record exists yet; a position that has never been through a
// recalculation has none.
func GetRewardRecord(id types.PositionID) (*types.RewardRecord, bool, error) {
	if DB == nil {
		return nil, false, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT position_id, daily_reward, accumulated_reward, claimed_reward,
               last_calculated, claim_eligible, updated_at
        FROM reward_records
        WHERE position_id = $1;`

	r := &types.RewardRecord{}
	var posID int64
	err := DB.QueryRow(query, int64(id)).Scan(
		&posID, &r.DailyReward, &r.AccumulatedReward, &r.ClaimedReward,
		&r.LastCalculated, &r.ClaimEligible, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load reward record for position %d: %w", id, err)
	}
	r.PositionID = types.PositionID(posID)
	return r, true, nil
}

// UpsertRewardRecord writes a position's accrual record in one statement so
// a concurrent reader sees either the old record or the new one.
func UpsertRewardRecord(record types.RewardRecord) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO reward_records (
            position_id, daily_reward, accumulated_reward, claimed_reward,
            last_calculated, claim_eligible, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
        ON CONFLICT (position_id) DO UPDATE SET
            daily_reward = EXCLUDED.daily_reward,
            accumulated_reward = EXCLUDED.accumulated_reward,
            claimed_reward = EXCLUDED.claimed_reward,
            last_calculated = EXCLUDED.last_calculated,
            claim_eligible = EXCLUDED.claim_eligible,
            updated_at = CURRENT_TIMESTAMP;`

	_, err := DB.Exec(stmt,
		int64(record.PositionID), record.DailyReward, record.AccumulatedReward, record.ClaimedReward,
		record.LastCalculated, record.ClaimEligible,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reward record for position %d: %w", record.PositionID, err)
	}
	return nil
}

// TotalDistributed sums lifetime accrual across all positions.
func TotalDistributed() (float64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var total sql.NullFloat64
	err := DB.QueryRow(`SELECT SUM(accumulated_reward) FROM reward_records;`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum distributed rewards: %w", err)
	}
	return total.Float64, nil
}
