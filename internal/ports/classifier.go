package ports

import (
	"context"

	"tradewatch/internal/domain"
)

// SignalClassifier maps raw message text to a structured trade signal.
// Implementations must translate any failure mode (unreachable backend,
// malformed output, unrecognized shape) into the empty Signal rather than
// an error that callers would have to special-case; the returned error is
// informational and never carries a partial result.
type SignalClassifier interface {
	// Classify extracts a trade signal from free text.
	Classify(ctx context.Context, text string) (domain.Signal, error)
	// Available reports whether the classifier backend is configured.
	Available() bool
}
