package index

import (
	"testing"

	"risk_engine/internal/core"

	"github.com/shopspring/decimal"
)

func testKey() SymbolKey {
	return SymbolKey{Exchange: "binance", Symbol: "BTCUSDT"}
}

func openPosition(id string, side core.Side, entry string) core.Position {
	return core.Position{
		ID:         id,
		Exchange:   "binance",
		Symbol:     "BTCUSDT",
		Side:       side,
		EntryPrice: d(entry),
		Quantity:   d("1"),
		Status:     core.PositionStatusOpen,
	}
}

func TestSymbolUpsertIndexesDimensions(t *testing.T) {
	s := NewSymbolRiskIndex(testKey())

	pos := openPosition("p1", core.SideLong, "100")
	pos.StopLossPrice = d("90")
	pos.TakeProfitPrice = d("120")
	pos.TrailingEnabled = true
	s.Upsert(NewPositionRiskEntry(pos, &core.TrailingConfig{
		ActivationPct: d("0.05"),
		DrawdownPct:   d("0.02"),
	}))

	if s.Len() != 1 {
		t.Fatalf("Len = %d", s.Len())
	}
	if got := s.QueryCandidates(d("89"), d("91")); len(got) != 1 {
		t.Errorf("stop-loss dimension miss: %v", got)
	}
	if got := s.QueryCandidates(d("119"), d("121")); len(got) != 1 {
		t.Errorf("take-profit dimension miss: %v", got)
	}
	// Pending trailing sits in the activation dimension at 105
	if got := s.QueryCandidates(d("104"), d("106")); len(got) != 1 {
		t.Errorf("activation dimension miss: %v", got)
	}
	if got := s.QueryCandidates(d("95"), d("99")); len(got) != 0 {
		t.Errorf("matched outside all thresholds: %v", got)
	}
}

func TestSymbolUpsertReplacesMemberships(t *testing.T) {
	s := NewSymbolRiskIndex(testKey())

	pos := openPosition("p1", core.SideLong, "100")
	pos.StopLossPrice = d("90")
	s.Upsert(NewPositionRiskEntry(pos, nil))

	// Re-upsert with the stop-loss cleared and a take-profit added
	pos.StopLossPrice = decimal.Zero
	pos.TakeProfitPrice = d("130")
	s.Upsert(NewPositionRiskEntry(pos, nil))

	if got := s.QueryCandidates(d("89"), d("91")); len(got) != 0 {
		t.Errorf("stale stop-loss membership: %v", got)
	}
	if got := s.QueryCandidates(d("129"), d("131")); len(got) != 1 {
		t.Errorf("take-profit not indexed: %v", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestSymbolRemove(t *testing.T) {
	s := NewSymbolRiskIndex(testKey())
	pos := openPosition("p1", core.SideLong, "100")
	pos.StopLossPrice = d("90")
	s.Upsert(NewPositionRiskEntry(pos, nil))

	if !s.Remove("p1") {
		t.Fatal("remove returned false for tracked position")
	}
	if s.Remove("p1") {
		t.Fatal("second remove returned true")
	}
	if got := s.QueryCandidates(d("0"), d("1000000")); len(got) != 0 {
		t.Errorf("membership survived removal: %v", got)
	}
	if _, ok := s.TryGetEntry("p1"); ok {
		t.Error("entry survived removal")
	}
}

// Activation must atomically move the position from the activation dimension
// to the stop and update dimensions.
func TestSymbolEvaluateTrailingMovesMembership(t *testing.T) {
	s := NewSymbolRiskIndex(testKey())
	pos := openPosition("p1", core.SideLong, "100")
	pos.TrailingEnabled = true
	s.Upsert(NewPositionRiskEntry(pos, &core.TrailingConfig{
		ActivationPct: d("0.05"),
		DrawdownPct:   d("0.02"),
	}))

	out, ok := s.EvaluateTrailing("p1", d("103"), d("110"))
	if !ok || !out.Activated {
		t.Fatalf("activation failed: %+v ok=%v", out, ok)
	}

	// Activation price 105 no longer matches
	if got := s.QueryCandidates(d("104.9"), d("105.1")); len(got) != 0 {
		t.Errorf("still in activation dimension: %v", got)
	}
	// Stop 107.8 and update threshold 110 now match
	if got := s.QueryCandidates(d("107.7"), d("107.9")); len(got) != 1 {
		t.Errorf("stop dimension miss: %v", got)
	}
	if got := s.QueryCandidates(d("109.9"), d("110.1")); len(got) != 1 {
		t.Errorf("update dimension miss: %v", got)
	}

	entry, ok := s.TryGetEntry("p1")
	if !ok || !entry.TrailingStopPrice.Equal(d("107.8")) {
		t.Fatalf("entry stop = %v ok=%v", entry, ok)
	}
}

func TestSymbolEvaluateTrailingUnknownPosition(t *testing.T) {
	s := NewSymbolRiskIndex(testKey())
	if _, ok := s.EvaluateTrailing("ghost", d("1"), d("2")); ok {
		t.Error("unknown position reported tracked")
	}
}

func TestSymbolTryGetEntryReturnsCopy(t *testing.T) {
	s := NewSymbolRiskIndex(testKey())
	pos := openPosition("p1", core.SideLong, "100")
	pos.StopLossPrice = d("90")
	s.Upsert(NewPositionRiskEntry(pos, nil))

	entry, _ := s.TryGetEntry("p1")
	entry.StopLossPrice = d("1")

	again, _ := s.TryGetEntry("p1")
	if !again.StopLossPrice.Equal(d("90")) {
		t.Error("mutating the returned entry leaked into the index")
	}
}

func TestSymbolUpdateLastPrice(t *testing.T) {
	s := NewSymbolRiskIndex(testKey())

	if _, had := s.UpdateLastPrice(d("100")); had {
		t.Error("first update reported a previous price")
	}
	prev, had := s.UpdateLastPrice(d("105"))
	if !had || !prev.Equal(d("100")) {
		t.Errorf("prev = %s had=%v", prev, had)
	}
}

func TestSymbolSnapshot(t *testing.T) {
	s := NewSymbolRiskIndex(testKey())
	pos := openPosition("p1", core.SideShort, "50")
	pos.StopLossPrice = d("55")
	s.Upsert(NewPositionRiskEntry(pos, nil))
	s.UpdateLastPrice(d("49.5"))

	snap := s.Snapshot()
	if snap.Exchange != "binance" || snap.Symbol != "BTCUSDT" {
		t.Errorf("snapshot key = %s:%s", snap.Exchange, snap.Symbol)
	}
	if snap.LastPrice != "49.5" {
		t.Errorf("snapshot last price = %q", snap.LastPrice)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].PositionID != "p1" {
		t.Fatalf("snapshot entries: %+v", snap.Entries)
	}
	if len(snap.Dimensions) != 5 {
		t.Fatalf("snapshot dimensions = %d", len(snap.Dimensions))
	}
}
