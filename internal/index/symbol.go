package index

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Dimension names for the per-symbol threshold indices
const (
	DimStopLoss           = "stop_loss"
	DimTakeProfit         = "take_profit"
	DimTrailingStop       = "trailing_stop"
	DimTrailingActivation = "trailing_activation"
	DimTrailingUpdate     = "trailing_update"
)

// SymbolRiskIndex owns the five threshold indices and the authoritative
// entry table for one (exchange, symbol) pair. One mutex guards all of it so
// multi-field transitions (e.g. trailing activation moving membership from
// the activation index to the stop index) are observed atomically.
type SymbolRiskIndex struct {
	key SymbolKey

	mu                 sync.Mutex
	stopLoss           *PriceThresholdIndex
	takeProfit         *PriceThresholdIndex
	trailingStop       *PriceThresholdIndex
	trailingActivation *PriceThresholdIndex
	trailingUpdate     *PriceThresholdIndex
	entries            map[string]*PositionRiskEntry

	lastPrice    decimal.Decimal
	hasLastPrice bool
}

// SymbolKey identifies a normalized (exchange, symbol) pair
type SymbolKey struct {
	Exchange string
	Symbol   string
}

func (k SymbolKey) String() string {
	return k.Exchange + ":" + k.Symbol
}

// NewSymbolRiskIndex creates an empty index for one symbol
func NewSymbolRiskIndex(key SymbolKey) *SymbolRiskIndex {
	return &SymbolRiskIndex{
		key:                key,
		stopLoss:           NewPriceThresholdIndex(DimStopLoss),
		takeProfit:         NewPriceThresholdIndex(DimTakeProfit),
		trailingStop:       NewPriceThresholdIndex(DimTrailingStop),
		trailingActivation: NewPriceThresholdIndex(DimTrailingActivation),
		trailingUpdate:     NewPriceThresholdIndex(DimTrailingUpdate),
		entries:            make(map[string]*PositionRiskEntry),
	}
}

// Key returns the (exchange, symbol) pair this index serves
func (s *SymbolRiskIndex) Key() SymbolKey {
	return s.key
}

// Upsert installs or replaces the entry and its threshold memberships.
// Any prior membership for the same position is cleared first, so a stale
// threshold can never linger after a config change.
func (s *SymbolRiskIndex) Upsert(entry *PositionRiskEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(entry.PositionID)
	s.entries[entry.PositionID] = entry
	s.indexLocked(entry)
}

// indexLocked inserts the entry into every dimension its fields call for.
// The trailing-related dimensions are mutually exclusive: the activation
// price is indexed before activation, the stop and update prices after.
func (s *SymbolRiskIndex) indexLocked(e *PositionRiskEntry) {
	if e.StopLossPrice.IsPositive() {
		s.stopLoss.Insert(e.PositionID, e.StopLossPrice)
	}
	if e.TakeProfitPrice.IsPositive() {
		s.takeProfit.Insert(e.PositionID, e.TakeProfitPrice)
	}

	switch e.trailingState() {
	case trailingPending:
		s.trailingActivation.Insert(e.PositionID, e.ActivationPrice)
	case trailingManual:
		s.trailingStop.Insert(e.PositionID, e.TrailingStopPrice)
	case trailingActivated:
		s.trailingStop.Insert(e.PositionID, e.TrailingStopPrice)
		if e.UpdatePrice.IsPositive() {
			s.trailingUpdate.Insert(e.PositionID, e.UpdatePrice)
		}
	}
}

func (s *SymbolRiskIndex) removeLocked(positionID string) bool {
	_, ok := s.entries[positionID]
	delete(s.entries, positionID)
	s.stopLoss.Remove(positionID)
	s.takeProfit.Remove(positionID)
	s.trailingStop.Remove(positionID)
	s.trailingActivation.Remove(positionID)
	s.trailingUpdate.Remove(positionID)
	return ok
}

// Remove evicts a position from the entry table and every dimension
func (s *SymbolRiskIndex) Remove(positionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(positionID)
}

// TryGetEntry returns a copy of the entry, safe to read outside the lock
func (s *SymbolRiskIndex) TryGetEntry(positionID string) (*PositionRiskEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[positionID]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Len returns the number of tracked positions
func (s *SymbolRiskIndex) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// QueryCandidates unions the range matches of all five dimensions over
// [low, high]. A position overlapping any one dimension is a candidate; the
// caller re-checks the concrete trigger condition per side.
func (s *SymbolRiskIndex) QueryCandidates(low, high decimal.Decimal) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]struct{})
	s.stopLoss.QueryInto(low, high, set)
	s.takeProfit.QueryInto(low, high, set)
	s.trailingStop.QueryInto(low, high, set)
	s.trailingActivation.QueryInto(low, high, set)
	s.trailingUpdate.QueryInto(low, high, set)

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdateLastPrice stores the latest observed close and returns the previous
// one. The previous close widens the next traversed range so a move that
// happened entirely between two samples is still seen.
func (s *SymbolRiskIndex) UpdateLastPrice(p decimal.Decimal) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.lastPrice, s.hasLastPrice
	s.lastPrice = p
	s.hasLastPrice = true
	return prev, had
}

// EvaluateTrailing runs the trailing machine for one position over the
// traversed range and atomically re-indexes its trailing memberships.
// The second return is false when the position is not tracked.
func (s *SymbolRiskIndex) EvaluateTrailing(positionID string, low, high decimal.Decimal) (TrailingOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[positionID]
	if !ok {
		return TrailingOutcome{}, false
	}

	out := evaluateTrailing(e, low, high)
	if out.Activated || out.StopMoved {
		s.trailingActivation.Remove(positionID)
		s.trailingStop.Insert(positionID, e.TrailingStopPrice)
		if e.UpdatePrice.IsPositive() {
			s.trailingUpdate.Insert(positionID, e.UpdatePrice)
		}
	}
	return out, true
}

// Snapshot produces a read-only diagnostic dump of the entry table and all
// five bucket trees. It never mutates state and is safe to call while the
// evaluation loop runs.
func (s *SymbolRiskIndex) Snapshot() SymbolSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := SymbolSnapshot{
		Exchange: s.key.Exchange,
		Symbol:   s.key.Symbol,
	}
	if s.hasLastPrice {
		snap.LastPrice = s.lastPrice.String()
	}
	for _, e := range s.entries {
		snap.Entries = append(snap.Entries, newEntrySnapshot(e))
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].PositionID < snap.Entries[j].PositionID })

	snap.Dimensions = []DimensionSnapshot{
		s.stopLoss.Snapshot(),
		s.takeProfit.Snapshot(),
		s.trailingStop.Snapshot(),
		s.trailingActivation.Snapshot(),
		s.trailingUpdate.Snapshot(),
	}
	return snap
}
