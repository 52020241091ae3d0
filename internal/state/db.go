// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// ErrNotFound is returned when a lookup by identifier matches no row.
var ErrNotFound = errors.New("not found")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS treasury_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			total_allocation DECIMAL(20, 8) NOT NULL,
			program_duration_days INTEGER NOT NULL,
			daily_budget DECIMAL(20, 8) NOT NULL,
			lock_period_days INTEGER NOT NULL,
			min_position_value_usd DECIMAL(20, 8) NOT NULL,
			time_boost_coeff DECIMAL(10, 4) NOT NULL,
			full_range_bonus DECIMAL(10, 4) NOT NULL,
			default_in_range_ratio DECIMAL(10, 4) NOT NULL,
			CONSTRAINT uq_treasury_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_treasury_parameters_config_active ON treasury_parameters(config_name, is_active, activated_at DESC);

		-- Position ledger. Fee accumulator checkpoints are 256-bit values
		-- stored as NUMERIC(78, 0) so they round-trip exactly.
		CREATE TABLE IF NOT EXISTS positions (
			position_id BIGINT PRIMARY KEY,
			owner_address VARCHAR(64) NOT NULL,
			pool_address VARCHAR(64) NOT NULL,
			tick_lower INTEGER NOT NULL,
			tick_upper INTEGER NOT NULL,
			liquidity NUMERIC(78, 0) NOT NULL DEFAULT 0,
			fee_growth_inside_last0 NUMERIC(78, 0) NOT NULL DEFAULT 0,
			fee_growth_inside_last1 NUMERIC(78, 0) NOT NULL DEFAULT 0,
			tokens_owed0 NUMERIC(78, 0) NOT NULL DEFAULT 0,
			tokens_owed1 NUMERIC(78, 0) NOT NULL DEFAULT 0,
			value_usd DECIMAL(20, 8) NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			reward_eligible BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_positions_active ON positions(active, reward_eligible);
		CREATE INDEX IF NOT EXISTS idx_positions_owner ON positions(owner_address);

		-- One accrual row per position, updated in place each cycle.
		CREATE TABLE IF NOT EXISTS reward_records (
			position_id BIGINT PRIMARY KEY REFERENCES positions(position_id),
			daily_reward DECIMAL(20, 8) NOT NULL DEFAULT 0,
			accumulated_reward DECIMAL(20, 8) NOT NULL DEFAULT 0,
			claimed_reward DECIMAL(20, 8) NOT NULL DEFAULT 0,
			last_calculated TIMESTAMPTZ NOT NULL,
			claim_eligible BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Audit trail: one row per treasury recalculation cycle.
		CREATE TABLE IF NOT EXISTS recalculation_runs (
			run_id UUID PRIMARY KEY,
			cycle_number BIGINT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			positions_processed INTEGER NOT NULL,
			positions_failed INTEGER NOT NULL,
			total_daily_reward DECIMAL(20, 8) NOT NULL,
			total_active_liquidity DECIMAL(20, 8) NOT NULL,
			parameter_version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_recalculation_runs_started ON recalculation_runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_recalculation_runs_cycle ON recalculation_runs(cycle_number DESC);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
