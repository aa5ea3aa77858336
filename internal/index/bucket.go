// Package index implements the bucketed price-threshold index structures
// used to match open positions against traversed price ranges.
package index

import (
	"sort"

	"github.com/shopspring/decimal"
)

const (
	level1KeyMin = 10
	level1KeyMax = 99
	level2KeyMax = 9
	level3KeyMax = 9
)

// PriceThresholdIndex maps position IDs to a single threshold price and
// answers range-overlap queries without scanning all entries.
//
// Prices are grouped by magnitude scale (floor(log10(p))); each scale owns a
// three-level bucket tree with step sizes 10^(scale-1), 10^(scale-2) and
// 10^(scale-3). A range query walks only the bucket key spans that can
// intersect [low, high], so cost is bounded by candidate buckets rather than
// stored entries.
//
// The structure is not safe for concurrent use; SymbolRiskIndex serializes
// access with its per-symbol lock.
type PriceThresholdIndex struct {
	name    string
	scales  map[int]*magnitudeScale
	entries map[string]indexedPrice
}

// indexedPrice records where a position's price lives so removal is O(1)
type indexedPrice struct {
	price decimal.Decimal
	scale int
	k1    int64
	k2    int64
	k3    int64
}

type magnitudeScale struct {
	scale  int
	lower  decimal.Decimal // 10^scale
	upper  decimal.Decimal // 10^(scale+1)
	step1  decimal.Decimal
	step2  decimal.Decimal
	step3  decimal.Decimal
	level1 map[int64]*level1Bucket
	count  int
}

type level1Bucket struct {
	level2 map[int64]*level2Bucket
}

type level2Bucket struct {
	level3 map[int64]map[string]struct{}
}

// NewPriceThresholdIndex creates an empty index for one risk dimension
func NewPriceThresholdIndex(name string) *PriceThresholdIndex {
	return &PriceThresholdIndex{
		name:    name,
		scales:  make(map[int]*magnitudeScale),
		entries: make(map[string]indexedPrice),
	}
}

// Name returns the dimension name this index serves
func (ix *PriceThresholdIndex) Name() string {
	return ix.name
}

// Len returns the number of indexed positions
func (ix *PriceThresholdIndex) Len() int {
	return len(ix.entries)
}

// PriceOf returns the indexed threshold price for a position
func (ix *PriceThresholdIndex) PriceOf(positionID string) (decimal.Decimal, bool) {
	e, ok := ix.entries[positionID]
	if !ok {
		return decimal.Zero, false
	}
	return e.price, true
}

// priceScale computes floor(log10(p)) exactly for a positive decimal:
// for p = c * 10^e with integer coefficient c, it is digits(c) + e - 1.
func priceScale(p decimal.Decimal) int {
	return p.NumDigits() + int(p.Exponent()) - 1
}

func newMagnitudeScale(scale int) *magnitudeScale {
	return &magnitudeScale{
		scale:  scale,
		lower:  decimal.New(1, int32(scale)),
		upper:  decimal.New(1, int32(scale+1)),
		step1:  decimal.New(1, int32(scale-1)),
		step2:  decimal.New(1, int32(scale-2)),
		step3:  decimal.New(1, int32(scale-3)),
		level1: make(map[int64]*level1Bucket),
	}
}

// locate computes the three bucket keys for a price within this scale.
// Steps are exact powers of ten, so key extraction is a pure exponent
// shift with no division rounding.
func (ms *magnitudeScale) locate(p decimal.Decimal) (k1, k2, k3 int64) {
	k1 = p.Shift(int32(-(ms.scale - 1))).Floor().IntPart()
	rem1 := p.Sub(ms.step1.Mul(decimal.NewFromInt(k1)))
	k2 = rem1.Shift(int32(-(ms.scale - 2))).Floor().IntPart()
	rem2 := rem1.Sub(ms.step2.Mul(decimal.NewFromInt(k2)))
	k3 = rem2.Shift(int32(-(ms.scale - 3))).Floor().IntPart()
	return k1, k2, k3
}

// Insert adds or replaces the threshold price for a position.
// Non-positive prices are invalid and ignored.
func (ix *PriceThresholdIndex) Insert(positionID string, price decimal.Decimal) bool {
	if positionID == "" || !price.IsPositive() {
		return false
	}

	ix.Remove(positionID)

	scale := priceScale(price)
	ms, ok := ix.scales[scale]
	if !ok {
		ms = newMagnitudeScale(scale)
		ix.scales[scale] = ms
	}

	k1, k2, k3 := ms.locate(price)

	b1, ok := ms.level1[k1]
	if !ok {
		b1 = &level1Bucket{level2: make(map[int64]*level2Bucket)}
		ms.level1[k1] = b1
	}
	b2, ok := b1.level2[k2]
	if !ok {
		b2 = &level2Bucket{level3: make(map[int64]map[string]struct{})}
		b1.level2[k2] = b2
	}
	ids, ok := b2.level3[k3]
	if !ok {
		ids = make(map[string]struct{})
		b2.level3[k3] = ids
	}

	ids[positionID] = struct{}{}
	ms.count++
	ix.entries[positionID] = indexedPrice{price: price, scale: scale, k1: k1, k2: k2, k3: k3}
	return true
}

// Remove drops a position from the index. Removing an unknown ID is a no-op.
func (ix *PriceThresholdIndex) Remove(positionID string) bool {
	e, ok := ix.entries[positionID]
	if !ok {
		return false
	}
	delete(ix.entries, positionID)

	ms := ix.scales[e.scale]
	if ms == nil {
		return true
	}
	b1 := ms.level1[e.k1]
	if b1 == nil {
		return true
	}
	b2 := b1.level2[e.k2]
	if b2 == nil {
		return true
	}
	ids := b2.level3[e.k3]
	if ids == nil {
		return true
	}

	delete(ids, positionID)
	ms.count--
	if len(ids) == 0 {
		delete(b2.level3, e.k3)
	}
	if len(b2.level3) == 0 {
		delete(b1.level2, e.k2)
	}
	if len(b1.level2) == 0 {
		delete(ms.level1, e.k1)
	}
	if ms.count <= 0 {
		delete(ix.scales, e.scale)
	}
	return true
}

// QueryInto adds to out every position whose indexed price lies within
// [low, high]. A negative low is clamped to zero; swapped bounds are
// reordered. Bucket granularity is coarser than arbitrary price precision,
// so collected IDs from boundary buckets are re-checked against the exact
// stored price.
func (ix *PriceThresholdIndex) QueryInto(low, high decimal.Decimal, out map[string]struct{}) {
	if low.GreaterThan(high) {
		low, high = high, low
	}
	if low.IsNegative() {
		low = decimal.Zero
	}
	if !high.IsPositive() {
		return
	}

	for _, ms := range ix.scales {
		if high.LessThan(ms.lower) || low.GreaterThanOrEqual(ms.upper) {
			continue
		}
		ms.queryInto(ix, low, high, out)
	}
}

// Query returns the matching position IDs as a fresh set
func (ix *PriceThresholdIndex) Query(low, high decimal.Decimal) map[string]struct{} {
	out := make(map[string]struct{})
	ix.QueryInto(low, high, out)
	return out
}

func (ms *magnitudeScale) queryInto(ix *PriceThresholdIndex, low, high decimal.Decimal, out map[string]struct{}) {
	k1From := int64(level1KeyMin)
	if low.GreaterThan(ms.lower) {
		k1From = low.Shift(int32(-(ms.scale - 1))).Floor().IntPart()
	}
	k1To := int64(level1KeyMax)
	if high.LessThan(ms.upper) {
		k1To = high.Shift(int32(-(ms.scale - 1))).Floor().IntPart()
	}
	if k1From < level1KeyMin {
		k1From = level1KeyMin
	}
	if k1To > level1KeyMax {
		k1To = level1KeyMax
	}

	for k1 := k1From; k1 <= k1To; k1++ {
		b1 := ms.level1[k1]
		if b1 == nil {
			continue
		}
		bucketLow := ms.step1.Mul(decimal.NewFromInt(k1))
		bucketHigh := bucketLow.Add(ms.step1)

		k2From := int64(0)
		if low.GreaterThan(bucketLow) {
			k2From = low.Sub(bucketLow).Shift(int32(-(ms.scale - 2))).Floor().IntPart()
		}
		k2To := int64(level2KeyMax)
		if high.LessThan(bucketHigh) {
			k2To = high.Sub(bucketLow).Shift(int32(-(ms.scale - 2))).Floor().IntPart()
		}
		if k2From < 0 {
			k2From = 0
		}
		if k2To > level2KeyMax {
			k2To = level2KeyMax
		}

		for k2 := k2From; k2 <= k2To; k2++ {
			b2 := b1.level2[k2]
			if b2 == nil {
				continue
			}
			subLow := bucketLow.Add(ms.step2.Mul(decimal.NewFromInt(k2)))
			subHigh := subLow.Add(ms.step2)

			k3From := int64(0)
			if low.GreaterThan(subLow) {
				k3From = low.Sub(subLow).Shift(int32(-(ms.scale - 3))).Floor().IntPart()
			}
			k3To := int64(level3KeyMax)
			if high.LessThan(subHigh) {
				k3To = high.Sub(subLow).Shift(int32(-(ms.scale - 3))).Floor().IntPart()
			}
			if k3From < 0 {
				k3From = 0
			}
			if k3To > level3KeyMax {
				k3To = level3KeyMax
			}

			for k3 := k3From; k3 <= k3To; k3++ {
				for id := range b2.level3[k3] {
					p := ix.entries[id].price
					if p.GreaterThanOrEqual(low) && p.LessThanOrEqual(high) {
						out[id] = struct{}{}
					}
				}
			}
		}
	}
}

// Snapshot dumps the bucket tree with counts for diagnostic inspection
func (ix *PriceThresholdIndex) Snapshot() DimensionSnapshot {
	snap := DimensionSnapshot{
		Name:    ix.name,
		Entries: len(ix.entries),
	}
	for scale, ms := range ix.scales {
		ss := ScaleSnapshot{Scale: scale, Count: ms.count}
		for k1, b1 := range ms.level1 {
			n1 := BucketNodeSnapshot{Key: k1}
			for k2, b2 := range b1.level2 {
				n2 := BucketNodeSnapshot{Key: k2}
				for k3, ids := range b2.level3 {
					n2.Children = append(n2.Children, BucketNodeSnapshot{Key: k3, Count: len(ids)})
					n2.Count += len(ids)
				}
				sortNodes(n2.Children)
				n1.Children = append(n1.Children, n2)
				n1.Count += n2.Count
			}
			sortNodes(n1.Children)
			ss.Level1 = append(ss.Level1, n1)
		}
		sortNodes(ss.Level1)
		snap.Scales = append(snap.Scales, ss)
	}
	sort.Slice(snap.Scales, func(i, j int) bool { return snap.Scales[i].Scale < snap.Scales[j].Scale })
	return snap
}

func sortNodes(nodes []BucketNodeSnapshot) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
}
