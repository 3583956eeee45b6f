package backtester

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// Position is the single open position of a run.
type Position struct {
	Side        types.PositionSide
	EntryPrice  decimal.Decimal
	Shares      decimal.Decimal
	StopPrice   optional.Option[float64]
	TargetPrice optional.Option[float64]
	EntryIndex  int
	EntryTime   time.Time
	Reason      string
}

// Account tracks cash and at most one open position. A short sale credits
// the proceeds to cash and the position is marked against it.
type Account struct {
	initialCash decimal.Decimal
	cash        decimal.Decimal
	position    *Position
}

// NewAccount creates an account holding initialCash.
func NewAccount(initialCash decimal.Decimal) *Account {
	return &Account{
		initialCash: initialCash,
		cash:        initialCash,
	}
}

// Cash returns available cash
func (a *Account) Cash() decimal.Decimal {
	return a.cash
}

// InitialCash returns the starting balance.
func (a *Account) InitialCash() decimal.Decimal {
	return a.initialCash
}

// Position returns the open position, nil when flat.
func (a *Account) Position() *Position {
	return a.position
}

// Side returns the position state.
func (a *Account) Side() types.PositionSide {
	if a.position == nil {
		return types.PositionSideFlat
	}
	return a.position.Side
}

// Equity returns cash plus the mark-to-market value of the open position.
func (a *Account) Equity(price decimal.Decimal) decimal.Decimal {
	if a.position == nil {
		return a.cash
	}
	value := a.position.Shares.Mul(price)
	if a.position.Side == types.PositionSideShort {
		return a.cash.Sub(value)
	}
	return a.cash.Add(value)
}

// SharesFor returns floor(fraction * equity / price).
func (a *Account) SharesFor(price decimal.Decimal, fraction float64) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	budget := a.Equity(price).Mul(decimal.NewFromFloat(fraction))
	if !budget.IsPositive() {
		return decimal.Zero
	}
	return budget.Div(price).Floor()
}

// Open enters a position. It is a no-op returning false when a position
// is already open or shares is not positive.
func (a *Account) Open(pos Position) bool {
	if a.position != nil || !pos.Shares.IsPositive() {
		return false
	}
	value := pos.Shares.Mul(pos.EntryPrice)
	if pos.Side == types.PositionSideShort {
		a.cash = a.cash.Add(value)
	} else {
		a.cash = a.cash.Sub(value)
	}
	a.position = &pos
	return true
}

// Close exits the open position at price and returns it with the realized
// PnL. ok is false when flat.
func (a *Account) Close(price decimal.Decimal) (closed Position, pnl decimal.Decimal, ok bool) {
	if a.position == nil {
		return Position{}, decimal.Zero, false
	}
	pos := *a.position
	value := pos.Shares.Mul(price)
	if pos.Side == types.PositionSideShort {
		a.cash = a.cash.Sub(value)
		pnl = pos.EntryPrice.Sub(price).Mul(pos.Shares)
	} else {
		a.cash = a.cash.Add(value)
		pnl = price.Sub(pos.EntryPrice).Mul(pos.Shares)
	}
	a.position = nil
	return pos, pnl, true
}

// TotalPnL returns equity at price minus the starting balance.
func (a *Account) TotalPnL(price decimal.Decimal) decimal.Decimal {
	return a.Equity(price).Sub(a.initialCash)
}
