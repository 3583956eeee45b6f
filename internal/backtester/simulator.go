// Package backtester replays bar series through the strategy catalogue and
// reports trades, equity and performance metrics.
package backtester

import (
	"context"
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
	"github.com/atlas-desktop/signal-engine/pkg/utils"
)

// Exit reasons recorded on trades.
const (
	ExitStopLoss     = "Stop loss hit"
	ExitTakeProfit   = "Take profit hit"
	ExitSessionClose = "Session close"
	ExitEndOfData    = "End of data"
)

// SimulatorConfig configures the bar replay.
type SimulatorConfig struct {
	PositionFraction float64          `mapstructure:"position_fraction" validate:"gt=0,lte=1"`
	CancelCheckEvery int              `mapstructure:"cancel_check_every" validate:"min=1"`
	Indicators       indicator.Config `mapstructure:"indicators"`
}

// DefaultSimulatorConfig returns the standard replay settings: 95% of
// equity per entry.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		PositionFraction: 0.95,
		CancelCheckEvery: 256,
		Indicators:       indicator.DefaultConfig(),
	}
}

// Simulation is the raw output of one replay.
type Simulation struct {
	Trades       []types.Trade
	EquityCurve  []types.EquityPoint
	Diagnostics  types.Diagnostics
	BarsInMarket int
	FinalEquity  decimal.Decimal
}

// Simulator runs the FLAT -> LONG|SHORT -> FLAT state machine over a
// series, one bar per step, with at most one open position.
type Simulator struct {
	logger *zap.Logger
	config SimulatorConfig
}

// NewSimulator creates a simulator.
func NewSimulator(logger *zap.Logger, config SimulatorConfig) *Simulator {
	if config.PositionFraction <= 0 || config.PositionFraction > 1 {
		config.PositionFraction = 0.95
	}
	if config.CancelCheckEvery < 1 {
		config.CancelCheckEvery = 256
	}
	return &Simulator{
		logger: logger.Named("simulator"),
		config: config,
	}
}

// Run replays series through kind. Entries fill at the signal bar's close.
// Exits are checked from the bar after entry in this order: stop, target,
// the strategy's own exit, then the session close for intraday strategies
// on intraday data. Whatever is still open after the last bar closes at
// the last close.
func (s *Simulator) Run(ctx context.Context, series types.Series, kind strategy.Kind, params strategy.Params, cash decimal.Decimal) (*Simulation, error) {
	if !cash.IsPositive() {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "cash must be positive, got %s", cash)
	}

	n := series.Len()
	set := indicator.Compute(series, s.config.Indicators)
	account := NewAccount(cash)
	sessionBound := kind.Intraday() && series.Granularity() == types.GranularityIntraday

	sim := &Simulation{
		Trades:      make([]types.Trade, 0),
		EquityCurve: make([]types.EquityPoint, 0, n),
	}

	closePosition := func(i int, price float64, reason string) {
		exit := decimal.NewFromFloat(price)
		pos, pnl, ok := account.Close(exit)
		if !ok {
			return
		}
		sim.Trades = append(sim.Trades, newTrade(series, pos, i, exit, pnl, reason))
	}

	for i := 0; i < n; i++ {
		if i%s.config.CancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("simulation cancelled at bar %d: %w", i, err)
			}
		}

		snap := set.At(i)
		sim.Diagnostics.BarsProcessed++
		exited := false

		if pos := account.Position(); pos != nil {
			sim.BarsInMarket++
			if i > pos.EntryIndex {
				if price, reason, ok := s.exitFor(kind, pos, snap, params, sessionBound); ok {
					closePosition(i, price, reason)
					exited = true
				}
			}
		}

		canEnter := account.Position() == nil && !exited && i < n-1 && !(sessionBound && snap.SessionEnd)
		if canEnter {
			result := strategy.Evaluate(kind, snap, params)
			switch result.Rejection {
			case strategy.RejectionGeometry:
				sim.Diagnostics.GeometryRejections++
			case strategy.RejectionVolume:
				sim.Diagnostics.VolumeRejections++
			}
			if result.IsEntry() {
				sim.Diagnostics.Signals++
				s.enter(account, kind, i, snap, result)
			}
		}

		sim.EquityCurve = append(sim.EquityCurve, types.EquityPoint{
			Date:    series.FormatDate(snap.Time),
			Balance: account.Equity(decimal.NewFromFloat(snap.Price)).Round(2),
		})
	}

	if n > 0 && account.Position() != nil {
		closePosition(n-1, series.Last().Close, ExitEndOfData)
	}
	if n > 0 {
		sim.FinalEquity = account.Equity(decimal.NewFromFloat(series.Last().Close))
	} else {
		sim.FinalEquity = cash
	}

	s.logger.Debug("Simulation finished",
		zap.String("symbol", series.Symbol),
		zap.String("strategy", kind.String()),
		zap.Int("bars", n),
		zap.Int("trades", len(sim.Trades)),
		zap.Int("signals", sim.Diagnostics.Signals),
	)
	return sim, nil
}

func (s *Simulator) enter(account *Account, kind strategy.Kind, i int, snap indicator.Snapshot, result strategy.SignalResult) {
	price := decimal.NewFromFloat(snap.Price)
	shares := account.SharesFor(price, s.config.PositionFraction)
	if !shares.IsPositive() {
		s.logger.Debug("Skipping entry, equity too small for one share",
			zap.String("strategy", kind.String()),
			zap.Float64("price", snap.Price),
		)
		return
	}
	side := types.PositionSideLong
	if result.Direction == types.DirectionSell {
		side = types.PositionSideShort
	}
	account.Open(Position{
		Side:        side,
		EntryPrice:  price,
		Shares:      shares,
		StopPrice:   result.StopPrice,
		TargetPrice: result.TargetPrice,
		EntryIndex:  i,
		EntryTime:   snap.Time,
		Reason:      result.Reason,
	})
}

// exitFor returns the exit price and reason when the open position must
// close on this bar. Only one exit applies per bar.
func (s *Simulator) exitFor(kind strategy.Kind, pos *Position, snap indicator.Snapshot, params strategy.Params, sessionBound bool) (float64, string, bool) {
	long := pos.Side == types.PositionSideLong

	if stop, err := pos.StopPrice.Take(); err == nil {
		if (long && snap.Low <= stop) || (!long && snap.High >= stop) {
			return stop, ExitStopLoss, true
		}
	}
	if target, err := pos.TargetPrice.Take(); err == nil {
		if (long && snap.High >= target) || (!long && snap.Low <= target) {
			return target, ExitTakeProfit, true
		}
	}

	// The breakout stop sits on the broken level, so a close back through
	// the level has already tripped the stop above.
	entry, _ := pos.EntryPrice.Float64()
	open := strategy.OpenPosition{
		Side:       pos.Side,
		EntryPrice: entry,
		Level:      pos.StopPrice.TakeOr(entry),
	}
	if reason, ok := strategy.ShouldExit(kind, open, snap, params); ok {
		return snap.Price, reason, true
	}

	if sessionBound && snap.SessionEnd {
		return snap.Price, ExitSessionClose, true
	}
	return 0, "", false
}

func newTrade(series types.Series, pos Position, exitIndex int, exit, pnl decimal.Decimal, reason string) types.Trade {
	cost := pos.EntryPrice.Mul(pos.Shares)
	ret := 0.0
	if cost.IsPositive() {
		ret, _ = pnl.Div(cost).Float64()
	}
	return types.Trade{
		ID:         utils.GenerateTradeID(),
		Symbol:     series.Symbol,
		Side:       pos.Side,
		EntryDate:  series.FormatDate(pos.EntryTime),
		ExitDate:   series.FormatDate(series.Bars[exitIndex].Timestamp),
		EntryIndex: pos.EntryIndex,
		ExitIndex:  exitIndex,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		Shares:     pos.Shares,
		ProfitLoss: pnl.Round(2),
		ReturnPct:  ret,
		ExitReason: reason,
		Notes:      pos.Reason,
	}
}

// optionalOf converts a float into an Option, None when not finite.
func optionalOf(v float64) optional.Option[float64] {
	if !utils.IsFinite(v) {
		return optional.None[float64]()
	}
	return optional.Some(v)
}
