package domain

import "strings"

// Side represents the direction of a tracked position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// IsValid reports whether the side is one of the two known directions.
func (s Side) IsValid() bool {
	return s == SideLong || s == SideShort
}

// Status represents the derived lifecycle state of a trade.
type Status string

const (
	StatusPendingEntry   Status = "pending_entry"  // limit-order entry condition not yet met
	StatusNotTriggered   Status = "not_triggered"  // price or entry unknown, nothing to compute
	StatusFloatingProfit Status = "floating_profit"
	StatusFloatingLoss   Status = "floating_loss"
	StatusFlat           Status = "flat"
	StatusPartialExit    Status = "partial_exit"

	// Terminal statuses. Once persisted, no automatic transition may occur.
	StatusTakeProfitHit    Status = "take_profit_hit"
	StatusStopLossHit      Status = "stop_loss_hit"
	StatusManualTakeProfit Status = "manual_take_profit"
	StatusManualStopLoss   Status = "manual_stop_loss"
)

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusTakeProfitHit, StatusStopLossHit, StatusManualTakeProfit, StatusManualStopLoss:
		return true
	}
	return false
}

// Classifier status labels as they appear in the source messages.
const (
	LabelTakeProfit       = "已止盈"
	LabelStopLoss         = "已止损"
	LabelManualTakeProfit = "带单主动止盈"
	LabelManualStopLoss   = "带单主动止损"

	// partialExitMarker appears in all partial-exit labels
	// (部分止盈, 部分止损, 部分出局).
	partialExitMarker = "部分"
)

// TerminalStatusForLabel maps a classifier status label to a terminal
// status. Returns false for labels that do not close a trade.
func TerminalStatusForLabel(label string) (Status, bool) {
	switch label {
	case LabelTakeProfit:
		return StatusTakeProfitHit, true
	case LabelStopLoss:
		return StatusStopLossHit, true
	case LabelManualTakeProfit:
		return StatusManualTakeProfit, true
	case LabelManualStopLoss:
		return StatusManualStopLoss, true
	}
	return "", false
}

// IsPartialExitLabel reports whether a classifier status label marks a
// partial exit, which leaves the trade non-terminal.
func IsPartialExitLabel(label string) bool {
	return strings.Contains(label, partialExitMarker)
}
