package ports

// PriceFeed exposes the last-known market price per symbol.
// Reads must be non-blocking cache lookups: a stale or missing price is
// reported as ok=false, never by blocking the caller. The core treats
// "no price" and "price fetch exceeded the feed's internal timeout"
// identically as unavailable.
type PriceFeed interface {
	// Price returns the last-known price for the symbol.
	Price(symbol string) (float64, bool)
}
