// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veridian-labs/lmt/internal/types"
)

// SaveTreasuryParameters saves a new version of the treasury parameter set.
// When makeActive is true any previously active version for the same config
// name is deactivated in the same transaction.
func SaveTreasuryParameters(params types.TreasuryParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE treasury_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO treasury_parameters (
            version, config_name, is_active, activated_at, created_at,
            total_allocation, program_duration_days, daily_budget,
            lock_period_days, min_position_value_usd,
            time_boost_coeff, full_range_bonus, default_in_range_ratio
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7, $8,
            $9, $10,
            $11, $12, $13
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		params.TotalAllocation, params.ProgramDurationDays, params.DailyBudget,
		params.LockPeriodDays, params.MinPositionValueUSD,
		params.TimeBoostCoeff, params.FullRangeBonus, params.DefaultInRangeRatio,
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert treasury parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved treasury parameters")
	return paramsID, nil
}

// LoadActiveTreasuryParameters loads the currently active parameter set for a
// config name. Returns ErrNotFound when no active version exists.
func LoadActiveTreasuryParameters(configName string) (*types.TreasuryParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            params_id, version, config_name, is_active, created_at,
            total_allocation, program_duration_days, daily_budget,
            lock_period_days, min_position_value_usd,
            time_boost_coeff, full_range_bonus, default_in_range_ratio
        FROM treasury_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	p := &types.TreasuryParameters{}
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&p.ID, &p.Version, &p.Name, &p.IsActive, &p.CreatedAt,
		&p.TotalAllocation, &p.ProgramDurationDays, &p.DailyBudget,
		&p.LockPeriodDays, &p.MinPositionValueUSD,
		&p.TimeBoostCoeff, &p.FullRangeBonus, &p.DefaultInRangeRatio,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active treasury parameters for config %s", ErrNotFound, configName)
		}
		return nil, fmt.Errorf("failed to load active treasury parameters: %w", err)
	}

	return p, nil
}

// NextParameterVersion returns the next unused version number for a config name.
func NextParameterVersion(configName string) (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var maxVersion sql.NullInt64
	err := DB.QueryRow(`SELECT MAX(version) FROM treasury_parameters WHERE config_name = $1;`, configName).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to query parameter versions: %w", err)
	}
	if !maxVersion.Valid {
		return 1, nil
	}
	return int(maxVersion.Int64) + 1, nil
}
