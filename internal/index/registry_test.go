package index

import (
	"context"
	"errors"
	"sync"
	"testing"

	"risk_engine/internal/core"
	"risk_engine/internal/logging"

	"github.com/shopspring/decimal"
)

func newTestRegistry() *Registry {
	return NewRegistry(logging.NewNop())
}

func TestNormalizeSymbolKey(t *testing.T) {
	key, err := NormalizeSymbolKey(" Binance ", "btcusdt")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if key.Exchange != "binance" || key.Symbol != "BTCUSDT" {
		t.Errorf("key = %+v", key)
	}

	bad := []struct{ exchange, symbol string }{
		{"", "BTCUSDT"},
		{"binance", ""},
		{"bin ance", "BTCUSDT"},
		{"binance", "BTC USDT"},
		{"binance", "BTC$"},
	}
	for _, c := range bad {
		if _, err := NormalizeSymbolKey(c.exchange, c.symbol); !errors.Is(err, ErrUnroutablePosition) {
			t.Errorf("NormalizeSymbolKey(%q, %q) err = %v", c.exchange, c.symbol, err)
		}
	}

	// Perp-style separators survive
	if _, err := NormalizeSymbolKey("hyperliquid", "BTC/USD"); err != nil {
		t.Errorf("slash symbol rejected: %v", err)
	}
}

func TestRegistryUpsertAndRemove(t *testing.T) {
	r := newTestRegistry()
	pos := openPosition("p1", core.SideLong, "100")
	pos.StopLossPrice = d("90")

	if err := r.UpsertPosition(pos, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if r.PositionCount() != 1 {
		t.Fatalf("PositionCount = %d", r.PositionCount())
	}

	idx, ok := r.Get(SymbolKey{Exchange: "binance", Symbol: "BTCUSDT"})
	if !ok {
		t.Fatal("symbol index missing")
	}
	if got := idx.QueryCandidates(d("89"), d("91")); len(got) != 1 {
		t.Errorf("not indexed: %v", got)
	}

	if !r.RemovePosition("p1") {
		t.Fatal("remove returned false")
	}
	if r.PositionCount() != 0 {
		t.Errorf("PositionCount after remove = %d", r.PositionCount())
	}
	if r.RemovePosition("p1") {
		t.Error("second remove returned true")
	}
}

func TestRegistryRejectsUnroutable(t *testing.T) {
	r := newTestRegistry()
	pos := openPosition("p1", core.SideLong, "100")
	pos.Symbol = "BTC USDT"

	err := r.UpsertPosition(pos, nil)
	if !errors.Is(err, ErrUnroutablePosition) {
		t.Fatalf("err = %v", err)
	}
	if r.PositionCount() != 0 {
		t.Errorf("rejected position was indexed")
	}
}

func TestRegistryClosedPositionDegradesToRemoval(t *testing.T) {
	r := newTestRegistry()
	pos := openPosition("p1", core.SideLong, "100")
	pos.StopLossPrice = d("90")
	if err := r.UpsertPosition(pos, nil); err != nil {
		t.Fatal(err)
	}

	pos.Status = core.PositionStatusClosed
	if err := r.UpsertPosition(pos, nil); err != nil {
		t.Fatalf("closed upsert: %v", err)
	}
	if r.PositionCount() != 0 {
		t.Errorf("closed position still indexed")
	}
}

func TestRegistryCrossSymbolMove(t *testing.T) {
	r := newTestRegistry()
	pos := openPosition("p1", core.SideLong, "100")
	pos.StopLossPrice = d("90")
	if err := r.UpsertPosition(pos, nil); err != nil {
		t.Fatal(err)
	}

	pos.Symbol = "ETHUSDT"
	if err := r.UpsertPosition(pos, nil); err != nil {
		t.Fatal(err)
	}

	old, _ := r.Get(SymbolKey{Exchange: "binance", Symbol: "BTCUSDT"})
	if old.Len() != 0 {
		t.Error("position lingers under the old symbol")
	}
	moved, ok := r.Get(SymbolKey{Exchange: "binance", Symbol: "ETHUSDT"})
	if !ok || moved.Len() != 1 {
		t.Error("position missing under the new symbol")
	}
	if r.PositionCount() != 1 {
		t.Errorf("PositionCount = %d", r.PositionCount())
	}
}

// Rebuild must land every position in the same membership as incremental
// upserts would have.
func TestRegistryRebuildMatchesIncremental(t *testing.T) {
	cfg := &core.TrailingConfig{ActivationPct: d("0.05"), DrawdownPct: d("0.02")}

	mkPositions := func() []core.Position {
		long := openPosition("p1", core.SideLong, "100")
		long.StopLossPrice = d("90")
		long.TrailingEnabled = true

		short := openPosition("p2", core.SideShort, "50")
		short.Symbol = "ETHUSDT"
		short.TakeProfitPrice = d("45")

		closed := openPosition("p3", core.SideLong, "10")
		closed.Status = core.PositionStatusClosed
		return []core.Position{long, short, closed}
	}

	incremental := newTestRegistry()
	for _, pos := range mkPositions() {
		if pos.Status != core.PositionStatusOpen {
			continue
		}
		var c *core.TrailingConfig
		if pos.TrailingEnabled {
			c = cfg
		}
		if err := incremental.UpsertPosition(pos, c); err != nil {
			t.Fatal(err)
		}
	}

	rebuilt := newTestRegistry()
	resolve := func(_ context.Context, positionID string) (*core.TrailingConfig, error) {
		if positionID == "p1" {
			return cfg, nil
		}
		return nil, nil
	}
	if err := rebuilt.RebuildFromPositions(context.Background(), mkPositions(), resolve); err != nil {
		t.Fatal(err)
	}

	if got, want := rebuilt.PositionCount(), incremental.PositionCount(); got != want {
		t.Fatalf("PositionCount = %d, want %d", got, want)
	}
	for _, key := range incremental.Keys() {
		a, _ := incremental.Get(key)
		b, ok := rebuilt.Get(key)
		if !ok {
			t.Fatalf("rebuilt registry missing %s", key)
		}
		for _, probe := range []struct{ low, high decimal.Decimal }{
			{d("89"), d("91")},
			{d("104"), d("106")},
			{d("44"), d("46")},
		} {
			wantIDs := a.QueryCandidates(probe.low, probe.high)
			gotIDs := b.QueryCandidates(probe.low, probe.high)
			if len(wantIDs) != len(gotIDs) {
				t.Errorf("%s probe [%s, %s]: rebuilt %v, incremental %v",
					key, probe.low, probe.high, gotIDs, wantIDs)
			}
		}
	}
}

func TestRegistryRebuildDropsStaleState(t *testing.T) {
	r := newTestRegistry()
	stale := openPosition("stale", core.SideLong, "100")
	stale.StopLossPrice = d("90")
	if err := r.UpsertPosition(stale, nil); err != nil {
		t.Fatal(err)
	}

	fresh := openPosition("fresh", core.SideLong, "200")
	fresh.StopLossPrice = d("180")
	if err := r.RebuildFromPositions(context.Background(), []core.Position{fresh}, nil); err != nil {
		t.Fatal(err)
	}

	if r.PositionCount() != 1 {
		t.Fatalf("PositionCount = %d", r.PositionCount())
	}
	if r.RemovePosition("stale") {
		t.Error("stale position survived rebuild")
	}
}

// Concurrent upserts and removals of the same position must never leave an
// entry live in the symbol index without its side-table mapping: such an
// orphan would keep triggering but could never be evicted.
func TestRegistryConcurrentUpsertRemoveNoOrphan(t *testing.T) {
	r := newTestRegistry()
	pos := openPosition("p1", core.SideLong, "100")
	pos.StopLossPrice = d("90")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.UpsertPosition(pos, nil)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.RemovePosition("p1")
			}
		}()
	}
	wg.Wait()

	// Settle: after a final removal nothing may remain anywhere
	r.RemovePosition("p1")
	if r.PositionCount() != 0 {
		t.Fatalf("PositionCount = %d after final removal", r.PositionCount())
	}
	if idx, ok := r.Get(SymbolKey{Exchange: "binance", Symbol: "BTCUSDT"}); ok {
		if idx.Len() != 0 {
			t.Fatal("entry orphaned in symbol index with no side-table mapping")
		}
		if got := idx.QueryCandidates(d("0"), d("1000000")); len(got) != 0 {
			t.Fatalf("orphaned memberships: %v", got)
		}
	}
}

func TestRegistryKeysSorted(t *testing.T) {
	r := newTestRegistry()
	for _, sym := range []string{"ETHUSDT", "BTCUSDT", "ADAUSDT"} {
		pos := openPosition("p-"+sym, core.SideLong, "100")
		pos.Symbol = sym
		pos.StopLossPrice = d("90")
		if err := r.UpsertPosition(pos, nil); err != nil {
			t.Fatal(err)
		}
	}
	keys := r.Keys()
	if len(keys) != 3 {
		t.Fatalf("keys = %v", keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1].Symbol > keys[i].Symbol {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}
