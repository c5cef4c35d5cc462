package domain

// SignalType tags the classifier output variants.
type SignalType string

const (
	SignalNone   SignalType = ""
	SignalEntry  SignalType = "entry"
	SignalUpdate SignalType = "update"
)

// EntrySignal is a classified intent to open a tracked position.
type EntrySignal struct {
	Symbol     string
	Side       Side
	EntryPrice float64
	TakeProfit float64  // 0 when not given
	StopLoss   float64  // 0 when not given
	Confidence *float64 // nullable
}

// UpdateSignal is a classified intent describing a change to an open
// position's outcome (full close, partial close, or informational).
type UpdateSignal struct {
	StatusLabel string
	PnlPoints   *float64 // nil when the message carried no figure
}

// Signal is the closed union of classifier outputs. Exactly one of Entry or
// Update is set according to Type; a zero Signal means "nothing extracted".
// Malformed classifier output is represented as the zero Signal, never as a
// partially filled variant.
type Signal struct {
	Type   SignalType
	Entry  *EntrySignal
	Update *UpdateSignal
}

// IsEmpty reports whether the classifier extracted nothing actionable.
func (s Signal) IsEmpty() bool {
	switch s.Type {
	case SignalEntry:
		return s.Entry == nil
	case SignalUpdate:
		return s.Update == nil
	}
	return true
}
