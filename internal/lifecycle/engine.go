// Package lifecycle implements the pure state machine that derives a
// trade's status and P&L from its entry parameters and the current market
// price. Nothing here touches storage or the clock; callers apply the
// results through the store.
package lifecycle

import (
	"math"

	"tradewatch/internal/domain"
)

// Result is the outcome of one evaluation. P&L fields are nil when the
// inputs did not allow a computation (price or entry unknown).
type Result struct {
	Status     domain.Status
	PnlPoints  *float64
	PnlPercent *float64
}

// Round2 rounds a P&L figure to 2 decimal places. Applied only at the
// boundary where figures are persisted or displayed, never inside
// intermediate math.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr(v float64) *float64 { return &v }

// Evaluate computes the trade status and P&L for the given side, entry
// parameters and current price. TakeProfit and stopLoss are optional;
// 0 means unset. A zero entry or currentPrice means unknown and yields
// not_triggered with no P&L.
//
// Terminal triggers are checked before the floating computation, and
// take-profit is checked before stop-loss so that the profitable outcome
// wins when both would fire in the same evaluation.
func Evaluate(side domain.Side, entry, takeProfit, stopLoss, currentPrice float64) Result {
	if currentPrice == 0 || entry == 0 {
		return Result{Status: domain.StatusNotTriggered}
	}

	var pnlPoints float64
	if side == domain.SideLong {
		pnlPoints = currentPrice - entry

		if takeProfit != 0 && currentPrice >= takeProfit {
			return terminalResult(domain.StatusTakeProfitHit, pnlPoints, entry)
		}
		if stopLoss != 0 && currentPrice <= stopLoss {
			return terminalResult(domain.StatusStopLossHit, pnlPoints, entry)
		}
	} else {
		pnlPoints = entry - currentPrice

		if takeProfit != 0 && currentPrice <= takeProfit {
			return terminalResult(domain.StatusTakeProfitHit, pnlPoints, entry)
		}
		if stopLoss != 0 && currentPrice >= stopLoss {
			return terminalResult(domain.StatusStopLossHit, pnlPoints, entry)
		}
	}

	status := domain.StatusFlat
	if pnlPoints > 0 {
		status = domain.StatusFloatingProfit
	} else if pnlPoints < 0 {
		status = domain.StatusFloatingLoss
	}

	return Result{
		Status:     status,
		PnlPoints:  ptr(Round2(pnlPoints)),
		PnlPercent: ptr(Round2(pnlPoints / entry * 100)),
	}
}

func terminalResult(status domain.Status, pnlPoints, entry float64) Result {
	return Result{
		Status:     status,
		PnlPoints:  ptr(Round2(pnlPoints)),
		PnlPercent: ptr(Round2(pnlPoints / entry * 100)),
	}
}

// EntryTriggered reports whether the market price has reached the entry
// price under the strict limit-order rule: a long fills when the price
// drops to the entry or below, a short when it rises to the entry or above.
// Until this holds, the trade stays pending_entry with no P&L.
func EntryTriggered(side domain.Side, entry, currentPrice float64) bool {
	if entry == 0 || currentPrice == 0 {
		return false
	}
	if side == domain.SideLong {
		return currentPrice <= entry
	}
	return currentPrice >= entry
}

// ContinuePartialExit evaluates a trade after a partial exit. The already
// exited portion's realized P&L (exitedPnl, carried forward verbatim from
// the most recent partial-exit update) is added to the remaining position's
// floating P&L from entry vs. current price. Terminal triggers still apply:
// if the price has crossed take-profit or stop-loss the result is the
// corresponding terminal status with the remaining leg fixed at this
// evaluation's price.
func ContinuePartialExit(side domain.Side, entry, takeProfit, stopLoss, currentPrice, exitedPnl float64) Result {
	r := Evaluate(side, entry, takeProfit, stopLoss, currentPrice)

	if r.PnlPoints == nil {
		// No price to value the remaining leg with; report the realized
		// portion only so the total never understates what is locked in.
		res := Result{Status: domain.StatusPartialExit, PnlPoints: ptr(Round2(exitedPnl))}
		if entry != 0 {
			res.PnlPercent = ptr(Round2(exitedPnl / entry * 100))
		}
		return res
	}

	total := exitedPnl + *r.PnlPoints
	status := r.Status
	if !status.IsTerminal() {
		status = domain.StatusPartialExit
	}
	return Result{
		Status:     status,
		PnlPoints:  ptr(Round2(total)),
		PnlPercent: ptr(Round2(total / entry * 100)),
	}
}

// ManualClose computes the terminal result for an administrative close at
// the given price: manual take-profit when the position is at or above
// break-even, manual stop-loss otherwise.
func ManualClose(side domain.Side, entry, currentPrice float64) Result {
	var pnlPoints float64
	if side == domain.SideLong {
		pnlPoints = currentPrice - entry
	} else {
		pnlPoints = entry - currentPrice
	}

	status := domain.StatusManualTakeProfit
	if pnlPoints < 0 {
		status = domain.StatusManualStopLoss
	}

	res := Result{Status: status, PnlPoints: ptr(Round2(pnlPoints))}
	if entry != 0 {
		res.PnlPercent = ptr(Round2(pnlPoints / entry * 100))
	}
	return res
}
