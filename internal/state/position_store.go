// ./internal/state/position_store.go
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/veridian-labs/lmt/internal/types"
)

// UpsertPosition inserts or fully replaces a position row.
func UpsertPosition(pos types.Position) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO positions (
            position_id, owner_address, pool_address, tick_lower, tick_upper,
            liquidity, fee_growth_inside_last0, fee_growth_inside_last1,
            tokens_owed0, tokens_owed1,
            value_usd, active, reward_eligible, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, CURRENT_TIMESTAMP)
        ON CONFLICT (position_id) DO UPDATE SET
            owner_address = EXCLUDED.owner_address,
            pool_address = EXCLUDED.pool_address,
            tick_lower = EXCLUDED.tick_lower,
            tick_upper = EXCLUDED.tick_upper,
            liquidity = EXCLUDED.liquidity,
            fee_growth_inside_last0 = EXCLUDED.fee_growth_inside_last0,
            fee_growth_inside_last1 = EXCLUDED.fee_growth_inside_last1,
            tokens_owed0 = EXCLUDED.tokens_owed0,
            tokens_owed1 = EXCLUDED.tokens_owed1,
            value_usd = EXCLUDED.value_usd,
            active = EXCLUDED.active,
            reward_eligible = EXCLUDED.reward_eligible,
            updated_at = CURRENT_TIMESTAMP;`

	createdAt := pos.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := DB.Exec(stmt,
		int64(pos.ID), pos.Owner, pos.Pool, pos.TickLower, pos.TickUpper,
		decString(pos.Liquidity), decString(pos.FeeGrowthInsideLast0), decString(pos.FeeGrowthInsideLast1),
		decString(pos.TokensOwed0), decString(pos.TokensOwed1),
		pos.ValueUSD, pos.Active, pos.RewardEligible, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %d: %w", pos.ID, err)
	}
	return nil
}

// GetPosition loads a single position by id. Returns ErrNotFound for an
// unknown id.
func GetPosition(id types.PositionID) (*types.Position, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	row := DB.QueryRow(positionSelect+` WHERE position_id = $1;`, int64(id))
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: position %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load position %d: %w", id, err)
	}
	return pos, nil
}

// ActivePositions returns every active, reward-eligible position.
func ActivePositions() ([]types.Position, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(positionSelect + ` WHERE active = TRUE AND reward_eligible = TRUE ORDER BY position_id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active positions: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		positions = append(positions, *pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("position row iteration failed: %w", err)
	}
	return positions, nil
}

// UpdatePositionCheckpoints advances a position's fee checkpoints after a
// settlement, replacing the accumulator snapshots and owed amounts together.
func UpdatePositionCheckpoints(id types.PositionID, inside0, inside1, owed0, owed1 *uint256.Int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	result, err := DB.Exec(`
        UPDATE positions SET
            fee_growth_inside_last0 = $2,
            fee_growth_inside_last1 = $3,
            tokens_owed0 = $4,
            tokens_owed1 = $5,
            updated_at = CURRENT_TIMESTAMP
        WHERE position_id = $1;`,
		int64(id), decString(inside0), decString(inside1), decString(owed0), decString(owed1),
	)
	if err != nil {
		return fmt.Errorf("failed to update checkpoints for position %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: position %d", ErrNotFound, id)
	}
	return nil
}

// UpdatePositionValue refreshes the USD appraisal of a position.
func UpdatePositionValue(id types.PositionID, valueUSD float64) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`UPDATE positions SET value_usd = $2, updated_at = CURRENT_TIMESTAMP WHERE position_id = $1;`,
		int64(id), valueUSD)
	if err != nil {
		return fmt.Errorf("failed to update value for position %d: %w", id, err)
	}
	return nil
}

// DeactivatePosition marks a position inactive, freezing its reward accrual.
func DeactivatePosition(id types.PositionID) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	result, err := DB.Exec(`UPDATE positions SET active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE position_id = $1;`, int64(id))
	if err != nil {
		return fmt.Errorf("failed to deactivate position %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: position %d", ErrNotFound, id)
	}

	log.Info().Uint64("position", uint64(id)).Msg("Deactivated position")
	return nil
}

const positionSelect = `
        SELECT
            position_id, owner_address, pool_address, tick_lower, tick_upper,
            liquidity, fee_growth_inside_last0, fee_growth_inside_last1,
            tokens_owed0, tokens_owed1,
            value_usd, active, reward_eligible, created_at
        FROM positions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*types.Position, error) {
	var (
		pos                                 types.Position
		id                                  int64
		liquidity, inside0, inside1, o0, o1 string
	)
	err := row.Scan(
		&id, &pos.Owner, &pos.Pool, &pos.TickLower, &pos.TickUpper,
		&liquidity, &inside0, &inside1,
		&o0, &o1,
		&pos.ValueUSD, &pos.Active, &pos.RewardEligible, &pos.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	pos.ID = types.PositionID(id)

	if pos.Liquidity, err = parseDec(liquidity); err != nil {
		return nil, fmt.Errorf("liquidity: %w", err)
	}
	if pos.FeeGrowthInsideLast0, err = parseDec(inside0); err != nil {
		return nil, fmt.Errorf("fee_growth_inside_last0: %w", err)
	}
	if pos.FeeGrowthInsideLast1, err = parseDec(inside1); err != nil {
		return nil, fmt.Errorf("fee_growth_inside_last1: %w", err)
	}
	if pos.TokensOwed0, err = parseDec(o0); err != nil {
		return nil, fmt.Errorf("tokens_owed0: %w", err)
	}
	if pos.TokensOwed1, err = parseDec(o1); err != nil {
		return nil, fmt.Errorf("tokens_owed1: %w", err)
	}
	return &pos, nil
}

// decString renders a 256-bit value as the decimal string stored in NUMERIC
// columns. Nil maps to zero.
func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseDec(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}
