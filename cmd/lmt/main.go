package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/veridian-labs/lmt/internal/analytics"
	"github.com/veridian-labs/lmt/internal/cache"
	"github.com/veridian-labs/lmt/internal/chainreader"
	"github.com/veridian-labs/lmt/internal/config"
	"github.com/veridian-labs/lmt/internal/logger"
	"github.com/veridian-labs/lmt/internal/oracle"
	"github.com/veridian-labs/lmt/internal/rewards"
	"github.com/veridian-labs/lmt/internal/state"
	"github.com/veridian-labs/lmt/internal/treasury"
	"github.com/veridian-labs/lmt/internal/types"
	"github.com/veridian-labs/lmt/internal/web"
)

// main is the entry point for the liquidity mining treasury.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Treasury Core Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Treasury Parameters, seeding the defaults on first run
	if _, err := state.LoadActiveTreasuryParameters(config.ProgramName); err != nil {
		log.Warn().Err(err).Msg("Failed to load active treasury parameters, using defaults and saving.")
		defaults := config.DefaultTreasuryParameters()
		if _, err := state.SaveTreasuryParameters(defaults, config.ProgramName, treasury.DEFAULT_CONFIG_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default treasury parameters.")
		}
	}
	log.Info().Str("program", config.ProgramName).Msg("Treasury parameters loaded successfully.")

	// Shared context, cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Data Plane ---
	dataCache := cache.New()

	priceOracle, err := oracle.New(oracle.Config{
		Feed:    oracle.NewCryptoCompareFeed(config.PriceAPI),
		Symbols: []string{config.Token0Symbol, config.Token1Symbol, config.RewardTokenSymbol},
		Cache:   dataCache,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create price oracle")
	}
	priceOracle.Start(ctx)
	defer priceOracle.Stop()

	reader, err := chainreader.NewClient(config.RPCEndpoints, dataCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create chain reader")
	}

	// --- 3. Accounting Plane ---
	ledger := stateLedger{}

	poolAnalytics, err := analytics.New(ledger, dataCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create analytics")
	}

	engine, err := rewards.New(rewards.Config{
		Shares:  poolAnalytics,
		Records: stateRecords{},
		Params:  stateParams{configName: config.ProgramName},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create reward engine")
	}

	// --- 4. Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	handlers, err := web.NewHandlers(reader, engine, poolAnalytics, priceOracle)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create web handlers")
	}
	webServer, err := web.NewWebServer(webPort, handlers)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create web server")
	}
	go func() {
		log.Info().Str("port", webPort).Msg("Starting treasury web server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server stopped")
		}
	}()

	// --- 5. Treasury Cycles ---
	treasuryCore, err := treasury.New(treasury.Config{
		Engine:    engine,
		Analytics: poolAnalytics,
		Ledger:    ledger,
		Reader:    reader,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create treasury")
	}

	if err := treasuryCore.StartScheduler(ctx, os.Getenv("CYCLE_CRON")); err != nil {
		log.Fatal().Err(err).Msg("Failed to start treasury scheduler")
	}

	// CYCLE_INTERVAL switches to a fixed-interval loop for catch-up runs.
	if intervalStr := os.Getenv("CYCLE_INTERVAL"); intervalStr != "" {
		interval, err := time.ParseDuration(intervalStr)
		if err != nil {
			log.Fatal().Err(err).Str("value", intervalStr).Msg("Invalid CYCLE_INTERVAL")
		}
		go treasuryCore.RunLoop(ctx, interval)
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, draining...")

	if err := webServer.Shutdown(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("Web server shutdown failed")
	}
	treasuryCore.Stop()
	log.Info().Msg("Treasury stopped cleanly.")
}

// stateLedger adapts the position store to the ledger interfaces.
type stateLedger struct{}

func (stateLedger) ActivePositions() ([]types.Position, error) {
	return state.ActivePositions()
}

// stateRecords adapts the reward store to the engine's record interface.
type stateRecords struct{}

func (stateRecords) GetRewardRecord(id types.PositionID) (*types.RewardRecord, bool, error) {
	return state.GetRewardRecord(id)
}

func (stateRecords) UpsertRewardRecord(record types.RewardRecord) error {
	return state.UpsertRewardRecord(record)
}

// stateParams yields the active versioned parameter set for the program.
type stateParams struct {
	configName string
}

func (p stateParams) ActiveParameters() (types.TreasuryParameters, error) {
	params, err := state.LoadActiveTreasuryParameters(p.configName)
	if err != nil {
		return types.TreasuryParameters{}, err
	}
	return *params, nil
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
