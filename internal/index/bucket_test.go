package index

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPriceScale(t *testing.T) {
	cases := []struct {
		price string
		scale int
	}{
		{"1", 0},
		{"9.99", 0},
		{"10", 1},
		{"99.5", 1},
		{"100", 2},
		{"64000", 4},
		{"0.5", -1},
		{"0.099", -2},
		{"0.0001234", -4},
	}
	for _, c := range cases {
		if got := priceScale(d(c.price)); got != c.scale {
			t.Errorf("priceScale(%s) = %d, want %d", c.price, got, c.scale)
		}
	}
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	ix := NewPriceThresholdIndex(DimStopLoss)

	if !ix.Insert("p1", d("64000.5")) {
		t.Fatal("insert rejected a valid price")
	}
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
	if p, ok := ix.PriceOf("p1"); !ok || !p.Equal(d("64000.5")) {
		t.Fatalf("PriceOf = %v, %v", p, ok)
	}

	if !ix.Remove("p1") {
		t.Fatal("remove of known ID returned false")
	}
	if ix.Len() != 0 {
		t.Fatalf("Len after remove = %d", ix.Len())
	}
	if ix.Remove("p1") {
		t.Fatal("second remove should be a no-op")
	}
	// Empty buckets must be pruned so scales do not accumulate
	if len(ix.scales) != 0 {
		t.Fatalf("scales not cleaned up: %d remain", len(ix.scales))
	}
}

func TestInsertRejectsInvalid(t *testing.T) {
	ix := NewPriceThresholdIndex(DimStopLoss)

	if ix.Insert("", d("100")) {
		t.Error("accepted empty position ID")
	}
	if ix.Insert("p1", decimal.Zero) {
		t.Error("accepted zero price")
	}
	if ix.Insert("p1", d("-5")) {
		t.Error("accepted negative price")
	}
	if ix.Len() != 0 {
		t.Errorf("Len = %d after invalid inserts", ix.Len())
	}
}

func TestInsertReplacesPrior(t *testing.T) {
	ix := NewPriceThresholdIndex(DimStopLoss)
	ix.Insert("p1", d("100"))
	ix.Insert("p1", d("0.005"))

	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
	if got := ix.Query(d("99"), d("101")); len(got) != 0 {
		t.Errorf("old price still matches: %v", got)
	}
	if got := ix.Query(d("0.004"), d("0.006")); len(got) != 1 {
		t.Errorf("new price does not match: %v", got)
	}
}

func TestQueryBoundsInclusive(t *testing.T) {
	ix := NewPriceThresholdIndex(DimStopLoss)
	ix.Insert("low", d("50"))
	ix.Insert("high", d("60"))
	ix.Insert("out", d("60.0001"))

	got := ix.Query(d("50"), d("60"))
	if _, ok := got["low"]; !ok {
		t.Error("price equal to low bound excluded")
	}
	if _, ok := got["high"]; !ok {
		t.Error("price equal to high bound excluded")
	}
	if _, ok := got["out"]; ok {
		t.Error("price just above high bound included")
	}
}

func TestQuerySwappedAndNegativeBounds(t *testing.T) {
	ix := NewPriceThresholdIndex(DimStopLoss)
	ix.Insert("p1", d("5"))

	if got := ix.Query(d("10"), d("1")); len(got) != 1 {
		t.Errorf("swapped bounds not reordered: %v", got)
	}
	if got := ix.Query(d("-100"), d("5")); len(got) != 1 {
		t.Errorf("negative low not clamped: %v", got)
	}
	if got := ix.Query(d("-100"), d("-1")); len(got) != 0 {
		t.Errorf("fully negative range matched: %v", got)
	}
}

func TestQuerySpansScales(t *testing.T) {
	ix := NewPriceThresholdIndex(DimStopLoss)
	ix.Insert("cent", d("0.04"))
	ix.Insert("unit", d("7"))
	ix.Insert("hundred", d("250"))
	ix.Insert("btc", d("64123.45"))

	got := ix.Query(d("0.01"), d("70000"))
	if len(got) != 4 {
		t.Fatalf("cross-scale query matched %d of 4", len(got))
	}

	got = ix.Query(d("6"), d("300"))
	if len(got) != 2 {
		t.Fatalf("partial query matched %d, want 2: %v", len(got), got)
	}
	if _, ok := got["unit"]; !ok {
		t.Error("missing unit-scale entry")
	}
	if _, ok := got["hundred"]; !ok {
		t.Error("missing hundred-scale entry")
	}
}

func TestQuerySubCentPrecision(t *testing.T) {
	ix := NewPriceThresholdIndex(DimStopLoss)
	ix.Insert("a", d("0.00012345"))
	ix.Insert("b", d("0.00012346"))

	got := ix.Query(d("0.00012345"), d("0.00012345"))
	if len(got) != 1 {
		t.Fatalf("point query matched %d, want 1: %v", len(got), got)
	}
	if _, ok := got["a"]; !ok {
		t.Error("exact sub-cent price not matched")
	}
}

// Randomized cross-check against a brute-force scan
func TestQueryMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ix := NewPriceThresholdIndex(DimStopLoss)
	prices := make(map[string]decimal.Decimal)

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("p%d", i)
		// Magnitudes from sub-cent to five figures
		exp := rng.Intn(9) - 4
		p := decimal.NewFromFloat(1 + rng.Float64()*8.99).Shift(int32(exp)).Round(8)
		if !p.IsPositive() {
			continue
		}
		ix.Insert(id, p)
		prices[id] = p
	}

	for q := 0; q < 200; q++ {
		a := decimal.NewFromFloat(rng.Float64() * 100000).Round(4)
		b := decimal.NewFromFloat(rng.Float64() * 100000).Round(4)
		low, high := decimal.Min(a, b), decimal.Max(a, b)

		got := ix.Query(low, high)
		for id, p := range prices {
			want := p.GreaterThanOrEqual(low) && p.LessThanOrEqual(high)
			if _, ok := got[id]; ok != want {
				t.Fatalf("query [%s, %s] id=%s price=%s: got %v, want %v",
					low, high, id, p, ok, want)
			}
		}
	}
}

func TestSnapshotCounts(t *testing.T) {
	ix := NewPriceThresholdIndex(DimTakeProfit)
	ix.Insert("a", d("50"))
	ix.Insert("b", d("55"))
	ix.Insert("c", d("5000"))

	snap := ix.Snapshot()
	if snap.Name != DimTakeProfit {
		t.Errorf("snapshot name = %q", snap.Name)
	}
	if snap.Entries != 3 {
		t.Errorf("snapshot entries = %d", snap.Entries)
	}
	if len(snap.Scales) != 2 {
		t.Fatalf("snapshot scales = %d, want 2", len(snap.Scales))
	}
	total := 0
	for _, s := range snap.Scales {
		total += s.Count
	}
	if total != 3 {
		t.Errorf("scale counts sum to %d", total)
	}
}
