package backtester

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// Position is the single open position of a run
type Position struct {
	Direction  types.Direction
	EntryDate  time.Time
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
}

// Simulator tracks balance and the open position for one run. Drawdown is derived
// from the booked trades by CalculateMetrics.
type Simulator struct {
	balance  decimal.Decimal
	position *Position
	trades   []types.Trade
}

// NewSimulator creates a simulator starting at initialBalance
func NewSimulator(initialBalance decimal.Decimal) *Simulator {
	return &Simulator{
		balance: initialBalance,
		trades:  make([]types.Trade, 0),
	}
}

// PositionQuantity sizes a position as balance*size/price
func PositionQuantity(balance, size, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return balance.Mul(size).Div(price)
}

// Open opens a position filled at price
func (s *Simulator) Open(dir types.Direction, at time.Time, price, positionSize decimal.Decimal) error {
	if s.position != nil {
		return fmt.Errorf("position already open since %s", s.position.EntryDate.Format(time.RFC3339))
	}

	qty := PositionQuantity(s.balance, positionSize, price)
	if !qty.IsPositive() {
		return fmt.Errorf("cannot open position: quantity %s at price %s", qty, price)
	}

	s.position = &Position{
		Direction:  dir,
		EntryDate:  at,
		EntryPrice: price,
		Quantity:   qty,
	}
	return nil
}

// Close closes the open position at price and books the trade
func (s *Simulator) Close(at time.Time, price decimal.Decimal, reason string) (types.Trade, error) {
	if s.position == nil {
		return types.Trade{}, fmt.Errorf("no open position to close")
	}

	pos := s.position
	pnl := price.Sub(pos.EntryPrice).Mul(pos.Quantity)
	if pos.Direction == types.DirectionShort {
		pnl = pnl.Neg()
	}

	var pnlPercent decimal.Decimal
	if notional := pos.EntryPrice.Mul(pos.Quantity); !notional.IsZero() {
		pnlPercent = pnl.Div(notional).Mul(decimal.NewFromInt(100))
	}

	trade := types.Trade{
		EntryDate:  pos.EntryDate,
		ExitDate:   at,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		ExitReason: reason,
	}

	s.balance = s.balance.Add(pnl)
	s.trades = append(s.trades, trade)
	s.position = nil

	return trade, nil
}

// Balance returns the realized balance
func (s *Simulator) Balance() decimal.Decimal {
	return s.balance
}

// Position returns the open position, if any
func (s *Simulator) Position() (Position, bool) {
	if s.position == nil {
		return Position{}, false
	}
	return *s.position, true
}

// State returns FLAT, LONG_OPEN or SHORT_OPEN
func (s *Simulator) State() types.PositionState {
	switch {
	case s.position == nil:
		return types.StateFlat
	case s.position.Direction == types.DirectionShort:
		return types.StateShortOpen
	default:
		return types.StateLongOpen
	}
}

// Trades returns the closed trades in entry order
func (s *Simulator) Trades() []types.Trade {
	out := make([]types.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}
