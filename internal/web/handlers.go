package web

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/veridian-labs/lmt/internal/accountant"
	"github.com/veridian-labs/lmt/internal/chainreader"
	"github.com/veridian-labs/lmt/internal/config"
	"github.com/veridian-labs/lmt/internal/state"
	"github.com/veridian-labs/lmt/internal/types"
)

// PoolStateReader supplies accumulator snapshots for fee queries.
type PoolStateReader interface {
	PoolState(ctx context.Context, pool string, tickLower, tickUpper int) (types.PoolState, error)
}

// RewardReporter answers per-position reward status queries.
type RewardReporter interface {
	Status(pos types.Position) (types.RewardStatus, error)
	ActiveParameters() types.TreasuryParameters
}

// ProgramReporter produces program-wide and per-pool analytics.
type ProgramReporter interface {
	ProgramAnalytics(params types.TreasuryParameters, rewardPriceUSD float64) (types.ProgramAnalytics, error)
	PoolStats(pool string, currentTick int, minValueUSD float64) (types.PoolStats, error)
}

// PriceSource yields current prices for USD denomination of fee queries.
type PriceSource interface {
	CurrentPrice(symbol string) float64
}

// Handlers bundles the treasury components behind the HTTP surface.
// Persistence hooks default to the state package and are overridable in tests.
type Handlers struct {
	Reader  PoolStateReader
	Rewards RewardReporter
	Program ProgramReporter
	Prices  PriceSource

	getPosition       func(types.PositionID) (*types.Position, error)
	upsertPosition    func(types.Position) error
	updateValue       func(types.PositionID, float64) error
	updateCheckpoints func(id types.PositionID, inside0, inside1, owed0, owed1 *uint256.Int) error
	deactivate        func(types.PositionID) error
	recentRuns        func(int) ([]types.RecalculationRun, error)
	programSummary    func() (*state.ProgramSummary, error)
	pingDB            func() error
}

// NewHandlers wires the HTTP handlers against live components.
func NewHandlers(reader PoolStateReader, rewards RewardReporter, program ProgramReporter, prices PriceSource) (*Handlers, error) {
	if reader == nil || rewards == nil || program == nil || prices == nil {
		return nil, errors.New("handlers require reader, rewards, program and price dependencies")
	}
	return &Handlers{
		Reader:            reader,
		Rewards:           rewards,
		Program:           program,
		Prices:            prices,
		getPosition:       state.GetPosition,
		upsertPosition:    state.UpsertPosition,
		updateValue:       state.UpdatePositionValue,
		updateCheckpoints: state.UpdatePositionCheckpoints,
		deactivate:        state.DeactivatePosition,
		recentRuns:        state.RecentRecalculationRuns,
		programSummary:    state.GetProgramSummary,
		pingDB:            state.TestDBConnection,
	}, nil
}

// GetPositionFees computes the exact unclaimed fees for one position from a
// fresh pool snapshot. ?usd=true adds a USD appraisal at current prices.
func (h *Handlers) GetPositionFees(w http.ResponseWriter, r *http.Request) {
	pos, ok := h.lookupPosition(w, r)
	if !ok {
		return
	}

	poolState, err := h.Reader.PoolState(r.Context(), pos.Pool, pos.TickLower, pos.TickUpper)
	if err != nil {
		if errors.Is(err, chainreader.ErrDataUnavailable) {
			writeErrorResponse(w, http.StatusServiceUnavailable, "Pool state unavailable")
			return
		}
		webLogger.Error().Err(err).Uint64("position", uint64(pos.ID)).Msg("Failed to read pool state")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to read pool state")
		return
	}

	fees, err := accountant.ComputeUnclaimedFees(*pos, poolState)
	if err != nil {
		webLogger.Error().Err(err).Uint64("position", uint64(pos.ID)).Msg("Fee computation failed")
		writeErrorResponse(w, http.StatusInternalServerError, "Fee computation failed")
		return
	}

	if r.URL.Query().Get("usd") == "true" {
		price0 := h.Prices.CurrentPrice(config.Token0Symbol)
		price1 := h.Prices.CurrentPrice(config.Token1Symbol)
		usd := accountant.FeesUSD(fees.Amount0, fees.Amount1,
			config.Token0Decimals, config.Token1Decimals, price0, price1)
		fees.ValueUSD = &usd
	}

	writeJSONResponse(w, http.StatusOK, fees)
}

// GetPositionReward returns the accrual status for one position.
func (h *Handlers) GetPositionReward(w http.ResponseWriter, r *http.Request) {
	pos, ok := h.lookupPosition(w, r)
	if !ok {
		return
	}

	status, err := h.Rewards.Status(*pos)
	if err != nil {
		webLogger.Error().Err(err).Uint64("position", uint64(pos.ID)).Msg("Failed to build reward status")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve reward status")
		return
	}

	writeJSONResponse(w, http.StatusOK, status)
}

// GetProgramAnalytics returns the program-wide liquidity and APR snapshot.
func (h *Handlers) GetProgramAnalytics(w http.ResponseWriter, r *http.Request) {
	params := h.Rewards.ActiveParameters()
	rewardPrice := h.Prices.CurrentPrice(config.RewardTokenSymbol)

	report, err := h.Program.ProgramAnalytics(params, rewardPrice)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to compute program analytics")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute program analytics")
		return
	}

	writeJSONResponse(w, http.StatusOK, report)
}

// GetProgramSummary returns lifetime distribution totals from the database.
func (h *Handlers) GetProgramSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.programSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get program summary")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve program summary")
		return
	}

	writeJSONResponse(w, http.StatusOK, summary)
}

// GetTreasuryParameters returns the active parameter set.
func (h *Handlers) GetTreasuryParameters(w http.ResponseWriter, r *http.Request) {
	params := h.Rewards.ActiveParameters()

	response := map[string]interface{}{
		"parameters": params,
		"timestamp":  time.Now().UTC(),
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// GetRecentRuns returns paginated recalculation audit rows.
func (h *Handlers) GetRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 100)

	runs, err := h.recentRuns(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent runs")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve runs")
		return
	}

	response := map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
		"limit": limit,
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// GetPoolStats returns the qualifying-liquidity aggregate for the tracked
// pool at its current tick.
func (h *Handlers) GetPoolStats(w http.ResponseWriter, r *http.Request) {
	params := h.Rewards.ActiveParameters()

	poolState, err := h.Reader.PoolState(r.Context(), config.PoolAddress, types.MinUsableTick, types.MaxUsableTick)
	if err != nil {
		if errors.Is(err, chainreader.ErrDataUnavailable) {
			writeErrorResponse(w, http.StatusServiceUnavailable, "Pool state unavailable")
			return
		}
		webLogger.Error().Err(err).Msg("Failed to read pool state")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to read pool state")
		return
	}

	stats, err := h.Program.PoolStats(config.PoolAddress, poolState.CurrentTick, params.MinPositionValueUSD)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to compute pool stats")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute pool stats")
		return
	}

	writeJSONResponse(w, http.StatusOK, stats)
}

// RegisterPosition creates or replaces a ledger entry. Positions enter the
// program through this endpoint; the next cycle picks them up.
func (h *Handlers) RegisterPosition(w http.ResponseWriter, r *http.Request) {
	var pos types.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid position payload")
		return
	}

	if err := validatePosition(pos); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.upsertPosition(pos); err != nil {
		webLogger.Error().Err(err).Uint64("position", uint64(pos.ID)).Msg("Failed to upsert position")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to store position")
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"position_id": pos.ID,
	})
}

// UpdatePositionValue records a fresh USD appraisal for a position. The
// ledger takes appraisals from the outside; it never prices positions itself.
func (h *Handlers) UpdatePositionValue(w http.ResponseWriter, r *http.Request) {
	pos, ok := h.lookupPosition(w, r)
	if !ok {
		return
	}

	var body struct {
		ValueUSD float64 `json:"value_usd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid appraisal payload")
		return
	}
	if math.IsNaN(body.ValueUSD) || math.IsInf(body.ValueUSD, 0) || body.ValueUSD < 0 {
		writeErrorResponse(w, http.StatusBadRequest, "value_usd must be finite and non-negative")
		return
	}

	if err := h.updateValue(pos.ID, body.ValueUSD); err != nil {
		webLogger.Error().Err(err).Uint64("position", uint64(pos.ID)).Msg("Failed to update position value")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to update position value")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"position_id": pos.ID,
		"value_usd":   body.ValueUSD,
	})
}

// CheckpointPosition settles a position's fee accounting against a fresh
// pool snapshot: the earned delta is folded into tokensOwed and the
// checkpoint advances to the current inside accumulators, mirroring what the
// pool contract does on a poke.
func (h *Handlers) CheckpointPosition(w http.ResponseWriter, r *http.Request) {
	pos, ok := h.lookupPosition(w, r)
	if !ok {
		return
	}

	poolState, err := h.Reader.PoolState(r.Context(), pos.Pool, pos.TickLower, pos.TickUpper)
	if err != nil {
		if errors.Is(err, chainreader.ErrDataUnavailable) {
			writeErrorResponse(w, http.StatusServiceUnavailable, "Pool state unavailable")
			return
		}
		webLogger.Error().Err(err).Uint64("position", uint64(pos.ID)).Msg("Failed to read pool state")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to read pool state")
		return
	}

	inside0, inside1 := accountant.FeeGrowthInside(poolState)
	fees, err := accountant.ComputeUnclaimedFees(*pos, poolState)
	if err != nil {
		webLogger.Error().Err(err).Uint64("position", uint64(pos.ID)).Msg("Fee computation failed")
		writeErrorResponse(w, http.StatusInternalServerError, "Fee computation failed")
		return
	}

	if err := h.updateCheckpoints(pos.ID, inside0, inside1, fees.Amount0, fees.Amount1); err != nil {
		webLogger.Error().Err(err).Uint64("position", uint64(pos.ID)).Msg("Failed to persist checkpoints")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to persist checkpoints")
		return
	}

	writeJSONResponse(w, http.StatusOK, fees)
}

// DeactivatePosition removes a position from reward accrual. The ledger row
// and its reward record stay for audit.
func (h *Handlers) DeactivatePosition(w http.ResponseWriter, r *http.Request) {
	pos, ok := h.lookupPosition(w, r)
	if !ok {
		return
	}

	if err := h.deactivate(pos.ID); err != nil {
		webLogger.Error().Err(err).Uint64("position", uint64(pos.ID)).Msg("Failed to deactivate position")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to deactivate position")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func validatePosition(pos types.Position) error {
	if pos.ID == 0 {
		return errors.New("position_id is required")
	}
	if pos.Owner == "" || pos.Pool == "" {
		return errors.New("owner and pool are required")
	}
	if pos.TickLower >= pos.TickUpper {
		return errors.New("tick_lower must be below tick_upper")
	}
	if pos.TickLower < types.MinUsableTick || pos.TickUpper > types.MaxUsableTick {
		return errors.New("tick bounds outside the usable range")
	}
	if pos.Liquidity == nil {
		return errors.New("liquidity is required")
	}
	if math.IsNaN(pos.ValueUSD) || math.IsInf(pos.ValueUSD, 0) || pos.ValueUSD < 0 {
		return errors.New("value_usd must be finite and non-negative")
	}
	return nil
}

// lookupPosition parses the {id} path variable and loads the position,
// writing the error response itself on failure.
func (h *Handlers) lookupPosition(w http.ResponseWriter, r *http.Request) (*types.Position, bool) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid position ID")
		return nil, false
	}

	pos, err := h.getPosition(types.PositionID(id))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "Position not found")
			return nil, false
		}
		webLogger.Error().Err(err).Uint64("position", id).Msg("Failed to load position")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load position")
		return nil, false
	}

	return pos, true
}
