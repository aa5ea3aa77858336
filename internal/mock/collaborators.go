// Package mock provides in-memory collaborator implementations for testing
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"risk_engine/internal/core"

	"github.com/shopspring/decimal"
)

// MarketData implements core.IMarketData with settable samples
type MarketData struct {
	mu      sync.RWMutex
	samples map[string]*core.PriceSample
	ready   bool
}

// NewMarketData creates an empty mock feed that reports ready
func NewMarketData() *MarketData {
	return &MarketData{
		samples: make(map[string]*core.PriceSample),
		ready:   true,
	}
}

func sampleKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}

// SetSample installs the sample returned for an (exchange, symbol) pair
func (m *MarketData) SetSample(exchange, symbol string, sample core.PriceSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	m.samples[sampleKey(exchange, symbol)] = &sample
}

// ClearSample makes the pair report no data
func (m *MarketData) ClearSample(exchange, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.samples, sampleKey(exchange, symbol))
}

// SetReady toggles the readiness flag
func (m *MarketData) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

func (m *MarketData) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

func (m *MarketData) GetLatestSample(_ context.Context, exchange, _ string, symbol string) (*core.PriceSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[sampleKey(exchange, symbol)]
	if !ok {
		return nil, fmt.Errorf("no sample for %s:%s", exchange, symbol)
	}
	copied := *s
	return &copied, nil
}

// OrderExecutor implements core.IOrderExecutor and records every request
type OrderExecutor struct {
	mu       sync.Mutex
	requests []*core.PlaceOrderRequest

	FailNext     int // fail this many upcoming placements
	FailMessage  string
	AveragePrice decimal.Decimal
}

// NewOrderExecutor creates a mock executor that succeeds by default
func NewOrderExecutor() *OrderExecutor {
	return &OrderExecutor{}
}

func (m *OrderExecutor) PlaceMarketOrder(_ context.Context, req *core.PlaceOrderRequest) (*core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *req
	m.requests = append(m.requests, &copied)

	if m.FailNext > 0 {
		m.FailNext--
		msg := m.FailMessage
		if msg == "" {
			msg = "mock placement failure"
		}
		return &core.OrderResult{Success: false, ErrorMessage: msg}, nil
	}
	return &core.OrderResult{Success: true, AveragePrice: m.AveragePrice}, nil
}

// Requests returns a copy of all recorded placements
func (m *OrderExecutor) Requests() []*core.PlaceOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.PlaceOrderRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// PositionStore implements core.IPositionStore in memory
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]core.Position

	TrailingUpdates map[string]decimal.Decimal
	CloseReasons    map[string]core.CloseReason
	ClosePrices     map[string]decimal.Decimal
	CloseErr        error
}

// NewPositionStore creates an empty in-memory store
func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions:       make(map[string]core.Position),
		TrailingUpdates: make(map[string]decimal.Decimal),
		CloseReasons:    make(map[string]core.CloseReason),
		ClosePrices:     make(map[string]decimal.Decimal),
	}
}

// Put seeds a position
func (m *PositionStore) Put(pos core.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.ID] = pos
}

// Get returns a stored position
func (m *PositionStore) Get(id string) (core.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	return pos, ok
}

func (m *PositionStore) ListOpenPositions(_ context.Context) ([]core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []core.Position
	for _, pos := range m.positions {
		if pos.Status == core.PositionStatusOpen {
			open = append(open, pos)
		}
	}
	return open, nil
}

func (m *PositionStore) ClosePosition(_ context.Context, positionID string, trailingTriggered bool, closedAt time.Time, reason core.CloseReason, closePrice decimal.Decimal) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return 0, m.CloseErr
	}
	pos, ok := m.positions[positionID]
	if !ok || pos.Status != core.PositionStatusOpen {
		return 0, nil
	}
	pos.Status = core.PositionStatusClosed
	pos.TrailingTriggered = trailingTriggered
	pos.ClosedAt = closedAt
	m.positions[positionID] = pos
	m.CloseReasons[positionID] = reason
	m.ClosePrices[positionID] = closePrice
	return 1, nil
}

func (m *PositionStore) UpdateTrailingStopPrice(_ context.Context, positionID string, price decimal.Decimal) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionID]
	if !ok || pos.Status != core.PositionStatusOpen {
		return 0, nil
	}
	pos.TrailingStopPrice = price
	pos.TrailingTriggered = true
	m.positions[positionID] = pos
	m.TrailingUpdates[positionID] = price
	return 1, nil
}

// Gateway implements order.Gateway for executor tests
type Gateway struct {
	mu       sync.Mutex
	requests []*core.PlaceOrderRequest

	Err    error
	Result *core.OrderResult
	Delay  time.Duration
}

// NewGateway creates a mock venue gateway that succeeds by default
func NewGateway() *Gateway {
	return &Gateway{}
}

func (g *Gateway) SubmitMarketOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.OrderResult, error) {
	if g.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.Delay):
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	copied := *req
	g.requests = append(g.requests, &copied)

	if g.Err != nil {
		return nil, g.Err
	}
	if g.Result != nil {
		r := *g.Result
		return &r, nil
	}
	return &core.OrderResult{Success: true}, nil
}

// Requests returns a copy of all recorded submissions
func (g *Gateway) Requests() []*core.PlaceOrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*core.PlaceOrderRequest, len(g.requests))
	copy(out, g.requests)
	return out
}
