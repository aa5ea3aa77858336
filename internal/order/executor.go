// Package order provides close-order execution with rate limiting and resilience policies
package order

import (
	"context"
	"fmt"
	"time"

	"risk_engine/internal/core"
	"risk_engine/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Gateway submits a market order to a venue. Implementations own exchange
// connectivity; this package only adds the protective plumbing around them.
type Gateway interface {
	SubmitMarketOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.OrderResult, error)
}

// Config tunes the executor's protective policies
type Config struct {
	RateLimit       float64       // orders per second
	RateBurst       int
	CallTimeout     time.Duration // per venue call
	BreakerFailures uint          // failures out of BreakerWindow to open
	BreakerWindow   uint
	BreakerDelay    time.Duration // open-state hold time
}

// DefaultConfig mirrors conservative production settings
func DefaultConfig() Config {
	return Config{
		RateLimit:       25,
		RateBurst:       30,
		CallTimeout:     10 * time.Second,
		BreakerFailures: 5,
		BreakerWindow:   10,
		BreakerDelay:    10 * time.Second,
	}
}

// Executor implements core.IOrderExecutor. It rate-limits submissions,
// bounds each venue call with a timeout so one hung call cannot stall an
// evaluation cycle, and opens a circuit after repeated venue failures.
type Executor struct {
	gateway     Gateway
	logger      core.ILogger
	rateLimiter *rate.Limiter
	pipeline    failsafe.Executor[*core.OrderResult]
	breaker     circuitbreaker.CircuitBreaker[*core.OrderResult]

	orderCounter metric.Int64Counter
	failCounter  metric.Int64Counter
}

// NewExecutor wires the resilience policies around a venue gateway
func NewExecutor(gateway Gateway, logger core.ILogger, cfg Config) *Executor {
	if cfg.RateLimit <= 0 {
		cfg = DefaultConfig()
	}

	breaker := circuitbreaker.NewBuilder[*core.OrderResult]().
		HandleIf(func(result *core.OrderResult, err error) bool {
			return err != nil
		}).
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerWindow).
		WithDelay(cfg.BreakerDelay).
		Build()

	callTimeout := timeout.New[*core.OrderResult](cfg.CallTimeout)

	meter := telemetry.GetMeter("close-executor")
	orderCounter, _ := meter.Int64Counter("close_orders_total",
		metric.WithDescription("Total close orders submitted"))
	failCounter, _ := meter.Int64Counter("close_order_errors_total",
		metric.WithDescription("Total close order submission errors"))

	return &Executor{
		gateway:      gateway,
		logger:       logger.WithField("component", "close_executor"),
		rateLimiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		pipeline:     failsafe.With[*core.OrderResult](callTimeout, breaker),
		breaker:      breaker,
		orderCounter: orderCounter,
		failCounter:  failCounter,
	}
}

// PlaceMarketOrder submits one reduce-only market order through the
// protective pipeline. A missing client order ID is stamped here so venue
// retries stay idempotent.
func (e *Executor) PlaceMarketOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.OrderResult, error) {
	if req == nil {
		return nil, fmt.Errorf("nil order request")
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("non-positive order quantity for %s %s", req.Exchange, req.Symbol)
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = "risk-" + uuid.NewString()
	}

	if err := e.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	e.orderCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("exchange", req.Exchange),
		attribute.String("side", string(req.Side)),
	))

	result, err := e.pipeline.WithContext(ctx).Get(func() (*core.OrderResult, error) {
		return e.gateway.SubmitMarketOrder(ctx, req)
	})
	if err != nil {
		e.failCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("exchange", req.Exchange),
		))
		e.logger.Warn("Close order submission failed",
			"exchange", req.Exchange,
			"symbol", req.Symbol,
			"client_order_id", req.ClientOrderID,
			"error", err.Error())
		return nil, err
	}
	return result, nil
}

// BreakerOpen reports whether the venue circuit is currently open
func (e *Executor) BreakerOpen() bool {
	return e.breaker.IsOpen()
}
