package index

// Snapshot types returned by the diagnostic export surface. All prices are
// rendered as strings so the JSON output is exact regardless of magnitude.

// BucketNodeSnapshot is one bucket in a dimension's tree with its entry count
type BucketNodeSnapshot struct {
	Key      int64                `json:"key"`
	Count    int                  `json:"count"`
	Children []BucketNodeSnapshot `json:"children,omitempty"`
}

// ScaleSnapshot is the bucket tree of one magnitude scale
type ScaleSnapshot struct {
	Scale  int                  `json:"scale"`
	Count  int                  `json:"count"`
	Level1 []BucketNodeSnapshot `json:"level1,omitempty"`
}

// DimensionSnapshot is the full bucket tree of one threshold dimension
type DimensionSnapshot struct {
	Name    string          `json:"name"`
	Entries int             `json:"entries"`
	Scales  []ScaleSnapshot `json:"scales,omitempty"`
}

// EntrySnapshot is the externally visible view of one tracked position
type EntrySnapshot struct {
	PositionID        string `json:"position_id"`
	UID               string `json:"uid"`
	StrategyID        string `json:"strategy_id,omitempty"`
	Side              string `json:"side"`
	EntryPrice        string `json:"entry_price"`
	Quantity          string `json:"quantity"`
	StopLossPrice     string `json:"stop_loss_price,omitempty"`
	TakeProfitPrice   string `json:"take_profit_price,omitempty"`
	TrailingEnabled   bool   `json:"trailing_enabled"`
	TrailingStopPrice string `json:"trailing_stop_price,omitempty"`
	TrailingTriggered bool   `json:"trailing_triggered"`
	ActivationPrice   string `json:"activation_price,omitempty"`
	UpdatePrice       string `json:"update_price,omitempty"`
}

// SymbolSnapshot is the diagnostic dump of one SymbolRiskIndex
type SymbolSnapshot struct {
	Exchange   string              `json:"exchange"`
	Symbol     string              `json:"symbol"`
	LastPrice  string              `json:"last_price,omitempty"`
	Entries    []EntrySnapshot     `json:"entries,omitempty"`
	Dimensions []DimensionSnapshot `json:"dimensions"`
}

func newEntrySnapshot(e *PositionRiskEntry) EntrySnapshot {
	snap := EntrySnapshot{
		PositionID:        e.PositionID,
		UID:               e.UID,
		StrategyID:        e.StrategyID,
		Side:              string(e.Side),
		EntryPrice:        e.EntryPrice.String(),
		Quantity:          e.Quantity.String(),
		TrailingEnabled:   e.TrailingEnabled,
		TrailingTriggered: e.TrailingTriggered,
	}
	if e.StopLossPrice.IsPositive() {
		snap.StopLossPrice = e.StopLossPrice.String()
	}
	if e.TakeProfitPrice.IsPositive() {
		snap.TakeProfitPrice = e.TakeProfitPrice.String()
	}
	if e.TrailingStopPrice.IsPositive() {
		snap.TrailingStopPrice = e.TrailingStopPrice.String()
	}
	if e.ActivationPrice.IsPositive() {
		snap.ActivationPrice = e.ActivationPrice.String()
	}
	if e.UpdatePrice.IsPositive() {
		snap.UpdatePrice = e.UpdatePrice.String()
	}
	return snap
}
