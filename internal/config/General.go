package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// ErrInvalidConfiguration wraps any configuration failure so callers can
// distinguish config problems from runtime faults.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// ProgramName selects the named treasury parameter set to run with.
	ProgramName string

	// PoolAddress is the hex address of the tracked concentrated-liquidity pool.
	PoolAddress string

	// RewardTokenSymbol is the ticker of the token rewards are denominated in.
	RewardTokenSymbol string

	// Token0Symbol and Token1Symbol are the tickers of the pool pair, used for
	// USD conversion of fee amounts.
	Token0Symbol string
	Token1Symbol string

	// Token0Decimals and Token1Decimals are the on-chain decimals of the pair.
	Token0Decimals uint8
	Token1Decimals uint8
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	ProgramName, err = getEnv("LMT_PROGRAM_NAME")
	if err != nil {
		return err
	}

	PoolAddress, err = getEnv("POOL_ADDRESS")
	if err != nil {
		return err
	}

	RewardTokenSymbol, err = getEnv("REWARD_TOKEN_SYMBOL")
	if err != nil {
		return err
	}

	Token0Symbol, err = getEnv("TOKEN0_SYMBOL")
	if err != nil {
		return err
	}

	Token1Symbol, err = getEnv("TOKEN1_SYMBOL")
	if err != nil {
		return err
	}

	dec0, err := getEnvAsUint64("TOKEN0_DECIMALS")
	if err != nil {
		return err
	}
	dec1, err := getEnvAsUint64("TOKEN1_DECIMALS")
	if err != nil {
		return err
	}
	if dec0 > 30 || dec1 > 30 {
		return errors.Join(ErrInvalidConfiguration, errors.New("token decimals out of range"))
	}
	Token0Decimals = uint8(dec0)
	Token1Decimals = uint8(dec1)

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("ProgramName", ProgramName).
		Str("PoolAddress", PoolAddress).
		Str("RewardToken", RewardTokenSymbol).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64 retrieves an environment variable as a float64. Returns error if not set or invalid.
func getEnvAsFloat64(key string) (float64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}
