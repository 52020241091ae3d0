package config

import (
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// PriceAPI is the base URL of the external price feed.
	PriceAPI string

	// RPCEndpoints is the ordered list of EVM JSON-RPC endpoints for pool
	// state reads. The first entry is primary, the rest are fallbacks.
	RPCEndpoints []string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	PriceAPI, err = getEnv("PRICE_API")
	if err != nil {
		return err
	}

	raw, err := getEnv("RPC_ENDPOINTS")
	if err != nil {
		return err
	}
	RPCEndpoints = RPCEndpoints[:0]
	for _, e := range strings.Split(raw, ",") {
		if e = strings.TrimSpace(e); e != "" {
			RPCEndpoints = append(RPCEndpoints, e)
		}
	}
	if len(RPCEndpoints) == 0 {
		return errors.Join(ErrInvalidConfiguration, errors.New("RPC_ENDPOINTS must list at least one endpoint"))
	}

	log.Debug().
		Str("PriceAPI", PriceAPI).
		Int("RPCEndpoints", len(RPCEndpoints)).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
