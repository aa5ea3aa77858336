// Package core defines the core interfaces for the risk engine
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IMarketData supplies the latest aggregated price sample per symbol
type IMarketData interface {
	GetLatestSample(ctx context.Context, exchange, timeframe, symbol string) (*PriceSample, error)
	IsReady() bool
}

// IOrderExecutor places market orders against a venue
type IOrderExecutor interface {
	PlaceMarketOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderResult, error)
}

// IPositionStore persists position lifecycle state
type IPositionStore interface {
	ListOpenPositions(ctx context.Context) ([]Position, error)
	ClosePosition(ctx context.Context, positionID string, trailingTriggered bool, closedAt time.Time, reason CloseReason, closePrice decimal.Decimal) (int64, error)
	UpdateTrailingStopPrice(ctx context.Context, positionID string, price decimal.Decimal) (int64, error)
}

// ITrailingConfigStore resolves per-position trailing-stop parameters.
// Get returns (nil, nil) when no config exists for the position.
type ITrailingConfigStore interface {
	Get(ctx context.Context, positionID string) (*TrailingConfig, error)
	Set(ctx context.Context, positionID string, cfg TrailingConfig) error
	Remove(ctx context.Context, positionID string) error
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
