package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"risk_engine/internal/core"
	"risk_engine/pkg/telemetry"
)

// ErrUnroutablePosition marks a position whose exchange or symbol failed
// normalization. Such positions are never indexed and therefore never
// trigger automatically; callers surface this loudly.
var ErrUnroutablePosition = errors.New("position has no routable exchange/symbol")

// TrailingConfigResolver resolves trailing parameters for one position
// during a rebuild. Returning (nil, nil) means no trailing config exists.
type TrailingConfigResolver func(ctx context.Context, positionID string) (*core.TrailingConfig, error)

// Registry routes position lifecycle events to per-symbol risk indices.
// It is constructed once at startup and shared by the mutation API and the
// evaluation loop; there is no ambient global instance.
type Registry struct {
	logger core.ILogger

	mu              sync.RWMutex
	symbols         map[SymbolKey]*SymbolRiskIndex
	positionSymbols map[string]SymbolKey
}

// NewRegistry creates an empty registry
func NewRegistry(logger core.ILogger) *Registry {
	return &Registry{
		logger:          logger.WithField("component", "risk_registry"),
		symbols:         make(map[SymbolKey]*SymbolRiskIndex),
		positionSymbols: make(map[string]SymbolKey),
	}
}

// NormalizeSymbolKey canonicalizes an (exchange, symbol) pair: exchanges are
// lower-cased, symbols upper-cased, surrounding whitespace dropped. An empty
// or malformed identifier yields an error.
func NormalizeSymbolKey(exchange, symbol string) (SymbolKey, error) {
	ex := strings.ToLower(strings.TrimSpace(exchange))
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if ex == "" || sym == "" {
		return SymbolKey{}, fmt.Errorf("%w: exchange=%q symbol=%q", ErrUnroutablePosition, exchange, symbol)
	}
	for _, r := range ex {
		if !isIdentRune(r) {
			return SymbolKey{}, fmt.Errorf("%w: exchange=%q", ErrUnroutablePosition, exchange)
		}
	}
	for _, r := range sym {
		if !isIdentRune(r) {
			return SymbolKey{}, fmt.Errorf("%w: symbol=%q", ErrUnroutablePosition, symbol)
		}
	}
	return SymbolKey{Exchange: ex, Symbol: sym}, nil
}

func isIdentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '/':
		return true
	}
	return false
}

// UpsertPosition installs or refreshes the risk entry for a position.
// A position that is no longer open degrades to a removal. A position whose
// identifiers fail normalization is logged, counted and left unindexed.
func (r *Registry) UpsertPosition(pos core.Position, cfg *core.TrailingConfig) error {
	if pos.Status != core.PositionStatusOpen {
		r.RemovePosition(pos.ID)
		return nil
	}

	key, err := NormalizeSymbolKey(pos.Exchange, pos.Symbol)
	if err != nil {
		r.logger.Warn("Position excluded from risk indexing",
			"position_id", pos.ID,
			"exchange", pos.Exchange,
			"symbol", pos.Symbol,
			"error", err.Error())
		telemetry.GetGlobalMetrics().IncPositionsRejected()
		return err
	}

	entry := NewPositionRiskEntry(pos, cfg)

	// The side-table write and the index mutation stay under one lock so a
	// concurrent removal can never interleave between them and orphan the
	// entry inside the symbol index.
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.positionSymbols[pos.ID]; ok && prev != key {
		if idx, ok := r.symbols[prev]; ok {
			idx.Remove(pos.ID)
		}
	}
	idx, ok := r.symbols[key]
	if !ok {
		idx = NewSymbolRiskIndex(key)
		r.symbols[key] = idx
	}
	r.positionSymbols[pos.ID] = key
	idx.Upsert(entry)
	return nil
}

// RemovePosition evicts a position using the side table, so close events
// that arrive without full position context still find the right index.
func (r *Registry) RemovePosition(positionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.positionSymbols[positionID]
	if !ok {
		return false
	}
	delete(r.positionSymbols, positionID)
	idx := r.symbols[key]
	if idx == nil {
		return false
	}
	return idx.Remove(positionID)
}

// Get returns the symbol index for a key
func (r *Registry) Get(key SymbolKey) (*SymbolRiskIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.symbols[key]
	return idx, ok
}

// Keys returns the registered symbol keys in a stable order
func (r *Registry) Keys() []SymbolKey {
	r.mu.RLock()
	keys := make([]SymbolKey, 0, len(r.symbols))
	for k := range r.symbols {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Exchange != keys[j].Exchange {
			return keys[i].Exchange < keys[j].Exchange
		}
		return keys[i].Symbol < keys[j].Symbol
	})
	return keys
}

// PositionCount returns the number of indexed positions across all symbols
func (r *Registry) PositionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positionSymbols)
}

// Snapshots dumps every symbol index for the diagnostic surface
func (r *Registry) Snapshots() []SymbolSnapshot {
	keys := r.Keys()
	snaps := make([]SymbolSnapshot, 0, len(keys))
	for _, k := range keys {
		if idx, ok := r.Get(k); ok {
			snaps = append(snaps, idx.Snapshot())
		}
	}
	return snaps
}

// RebuildFromPositions is the cold-start recovery path: it drops all state
// and re-indexes the given open positions, resolving trailing config per
// position. The resulting membership is identical to upserting each position
// incrementally. Individual bad positions are skipped, not fatal.
func (r *Registry) RebuildFromPositions(ctx context.Context, positions []core.Position, resolve TrailingConfigResolver) error {
	r.mu.Lock()
	r.symbols = make(map[SymbolKey]*SymbolRiskIndex)
	r.positionSymbols = make(map[string]SymbolKey)
	r.mu.Unlock()

	var indexed, skipped int
	for _, pos := range positions {
		if pos.Status != core.PositionStatusOpen {
			continue
		}

		var cfg *core.TrailingConfig
		if resolve != nil && pos.TrailingEnabled {
			var err error
			cfg, err = resolve(ctx, pos.ID)
			if err != nil {
				r.logger.Warn("Failed to resolve trailing config during rebuild",
					"position_id", pos.ID, "error", err.Error())
			}
		}

		if err := r.UpsertPosition(pos, cfg); err != nil {
			skipped++
			continue
		}
		indexed++
	}

	r.logger.Info("Rebuilt risk indices from persisted positions",
		"indexed", indexed, "skipped", skipped, "symbols", len(r.Keys()))
	telemetry.GetGlobalMetrics().SetPositionsIndexed(int64(indexed))
	return nil
}
