// Package traders maintains the registered trader directory and the symbol
// allow-list, loaded from a YAML file and hot-reloaded on change.
package traders

import (
	"context"
	"fmt"
	"sync/atomic"

	"tradewatch/internal/ports"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Trader is one registered signal caller with a dedicated source channel.
type Trader struct {
	ID        string `mapstructure:"id" json:"id"`
	Name      string `mapstructure:"name" json:"name"`
	ChannelID string `mapstructure:"channel_id" json:"channel_id"`
}

// Snapshot is an immutable view of the registry at one point in time.
// Callers resolve against a snapshot so a concurrent reload never changes
// the answer mid-operation.
type Snapshot struct {
	traders   []Trader
	byChannel map[string]Trader
	symbols   map[string]struct{}
}

// ResolveChannel returns the trader registered for the channel, if any.
func (s *Snapshot) ResolveChannel(channelID string) (Trader, bool) {
	t, ok := s.byChannel[channelID]
	return t, ok
}

// SymbolAllowed reports whether the symbol is on the allow-list.
// An empty allow-list allows every symbol.
func (s *Snapshot) SymbolAllowed(symbol string) bool {
	if len(s.symbols) == 0 {
		return true
	}
	_, ok := s.symbols[symbol]
	return ok
}

// Symbols returns the allow-list.
func (s *Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// Traders returns all registered traders.
func (s *Snapshot) Traders() []Trader {
	out := make([]Trader, len(s.traders))
	copy(out, s.traders)
	return out
}

// Registry loads the trader directory from a viper-managed YAML file and
// swaps in a fresh Snapshot whenever the file changes on disk.
type Registry struct {
	v       *viper.Viper
	logger  ports.Logger
	current atomic.Value // *Snapshot
}

// NewRegistry reads the file at path and starts watching it for changes.
// A malformed rewrite of the file keeps the previous snapshot in place.
func NewRegistry(path string, logger ports.Logger) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for trader registry")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read traders file '%s': %w: %w", path, ports.ErrConfigurationError, err)
	}

	r := &Registry{v: v, logger: logger}
	snap, err := r.buildSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load traders file '%s': %w", path, err)
	}
	r.current.Store(snap)
	logger.Info(context.Background(), "Trader registry loaded", map[string]interface{}{
		"path": path, "traders": len(snap.traders), "symbols": len(snap.symbols),
	})

	v.OnConfigChange(func(e fsnotify.Event) {
		r.reload(e)
	})
	v.WatchConfig()

	return r, nil
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load().(*Snapshot)
}

// ResolveChannel resolves against the current snapshot.
func (r *Registry) ResolveChannel(channelID string) (Trader, bool) {
	return r.Snapshot().ResolveChannel(channelID)
}

// SymbolAllowed checks against the current snapshot.
func (r *Registry) SymbolAllowed(symbol string) bool {
	return r.Snapshot().SymbolAllowed(symbol)
}

// Symbols returns the current allow-list.
func (r *Registry) Symbols() []string {
	return r.Snapshot().Symbols()
}

func (r *Registry) reload(e fsnotify.Event) {
	ctx := context.Background()
	snap, err := r.buildSnapshot()
	if err != nil {
		r.logger.Error(ctx, err, "Trader registry reload failed, keeping previous snapshot", map[string]interface{}{"event": e.Name})
		return
	}
	r.current.Store(snap)
	r.logger.Info(ctx, "Trader registry reloaded", map[string]interface{}{
		"event": e.Name, "traders": len(snap.traders), "symbols": len(snap.symbols),
	})
}

func (r *Registry) buildSnapshot() (*Snapshot, error) {
	var list []Trader
	if err := r.v.UnmarshalKey("traders", &list); err != nil {
		return nil, fmt.Errorf("failed to decode traders list: %w: %w", ports.ErrConfigurationError, err)
	}

	byChannel := make(map[string]Trader, len(list))
	for _, t := range list {
		if t.ID == "" || t.ChannelID == "" {
			return nil, fmt.Errorf("trader entry missing id or channel_id (id=%q channel_id=%q): %w", t.ID, t.ChannelID, ports.ErrConfigurationError)
		}
		if _, dup := byChannel[t.ChannelID]; dup {
			return nil, fmt.Errorf("duplicate channel_id %q in traders file: %w", t.ChannelID, ports.ErrConfigurationError)
		}
		byChannel[t.ChannelID] = t
	}

	symbolList := r.v.GetStringSlice("symbols")
	symbols := make(map[string]struct{}, len(symbolList))
	for _, s := range symbolList {
		symbols[s] = struct{}{}
	}

	return &Snapshot{traders: list, byChannel: byChannel, symbols: symbols}, nil
}
