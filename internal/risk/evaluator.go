// Package risk runs the position risk evaluation loop: it matches traversed
// price ranges against the threshold indices and fires protective closes.
package risk

import (
	"context"
	"sync"
	"time"

	"risk_engine/internal/core"
	"risk_engine/internal/index"
	"risk_engine/pkg/concurrency"
	"risk_engine/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Evaluator polls the latest price sample for every registered symbol and
// closes positions whose stop-loss, take-profit or trailing-stop threshold
// was crossed by the traversed range. A position is retired from the index
// the moment its close order succeeds; a failed close leaves it in place so
// the next cycle retries.
type Evaluator struct {
	registry    *index.Registry
	market      core.IMarketData
	orders      core.IOrderExecutor
	store       core.IPositionStore
	trailingCfg core.ITrailingConfigStore
	logger      core.ILogger

	interval  time.Duration
	timeframe string
	pool      *concurrency.WorkerPool

	mu            sync.Mutex
	lastCycleTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEvaluator creates the evaluation loop. pool may be nil, in which case
// symbols are evaluated sequentially within a cycle.
func NewEvaluator(
	registry *index.Registry,
	market core.IMarketData,
	orders core.IOrderExecutor,
	store core.IPositionStore,
	trailingCfg core.ITrailingConfigStore,
	logger core.ILogger,
	interval time.Duration,
	timeframe string,
	pool *concurrency.WorkerPool,
) *Evaluator {
	ctx, cancel := context.WithCancel(context.Background())

	if interval <= 0 {
		interval = time.Second
	}
	if timeframe == "" {
		timeframe = "1m"
	}

	return &Evaluator{
		registry:    registry,
		market:      market,
		orders:      orders,
		store:       store,
		trailingCfg: trailingCfg,
		logger:      logger.WithField("component", "risk_evaluator"),
		interval:    interval,
		timeframe:   timeframe,
		pool:        pool,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the evaluation loop
func (ev *Evaluator) Start(ctx context.Context) error {
	ev.logger.Info("Starting risk evaluator",
		"interval", ev.interval,
		"timeframe", ev.timeframe)
	ev.wg.Add(1)
	go ev.runLoop()
	return nil
}

// Stop stops the loop and waits for the current cycle to finish
func (ev *Evaluator) Stop() error {
	ev.logger.Info("Stopping risk evaluator")
	ev.cancel()
	ev.wg.Wait()
	return nil
}

// CheckHealth returns an error when the loop has stopped making progress
func (ev *Evaluator) CheckHealth() error {
	if ev.ctx.Err() != nil {
		return ev.ctx.Err()
	}
	ev.mu.Lock()
	last := ev.lastCycleTime
	ev.mu.Unlock()
	if last.IsZero() {
		return nil // not yet past the first cycle
	}
	if age := time.Since(last); age > 3*ev.interval {
		return &staleCycleError{age: age}
	}
	return nil
}

type staleCycleError struct{ age time.Duration }

func (e *staleCycleError) Error() string {
	return "last evaluation cycle is " + e.age.String() + " old"
}

func (ev *Evaluator) runLoop() {
	defer ev.wg.Done()

	ev.waitForMarketData()

	ticker := time.NewTicker(ev.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ev.ctx.Done():
			return
		case <-ticker.C:
			ev.safeCycle()
		}
	}
}

// waitForMarketData blocks until the market-data collaborator reports ready
// or the loop is cancelled
func (ev *Evaluator) waitForMarketData() {
	if ev.market.IsReady() {
		return
	}
	ev.logger.Info("Waiting for market data to become ready")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ev.ctx.Done():
			return
		case <-ticker.C:
			if ev.market.IsReady() {
				ev.logger.Info("Market data ready")
				return
			}
		}
	}
}

// safeCycle contains a full cycle; a panic or error inside one cycle must
// never terminate the loop
func (ev *Evaluator) safeCycle() {
	defer func() {
		if r := recover(); r != nil {
			ev.logger.Error("Evaluation cycle panicked", "panic", r)
		}
	}()

	if err := ev.EvaluateCycle(ev.ctx); err != nil {
		ev.logger.Error("Evaluation cycle failed", "error", err.Error())
	}
}

// EvaluateCycle runs one evaluation pass over all registered symbols.
// Exported so tests and manual triggers can run a single cycle.
func (ev *Evaluator) EvaluateCycle(ctx context.Context) error {
	start := time.Now()
	keys := ev.registry.Keys()

	var candMu sync.Mutex
	var totalCandidates int64

	tasks := make([]func(), 0, len(keys))
	for _, key := range keys {
		key := key
		tasks = append(tasks, func() {
			n := ev.evaluateSymbol(ctx, key)
			candMu.Lock()
			totalCandidates += int64(n)
			candMu.Unlock()
		})
	}

	if ev.pool != nil {
		ev.pool.SubmitGroup(tasks)
	} else {
		for _, task := range tasks {
			if ctx.Err() != nil {
				break
			}
			task()
		}
	}

	ev.mu.Lock()
	ev.lastCycleTime = time.Now()
	ev.mu.Unlock()

	elapsed := time.Since(start)
	telemetry.GetGlobalMetrics().RecordCycle(float64(elapsed.Milliseconds()), totalCandidates)
	telemetry.GetGlobalMetrics().SetPositionsIndexed(int64(ev.registry.PositionCount()))

	ev.logger.Debug("Evaluation cycle complete",
		"symbols", len(keys),
		"candidates", totalCandidates,
		"elapsed", elapsed)
	return ctx.Err()
}

// evaluateSymbol processes one symbol and returns the candidate count
func (ev *Evaluator) evaluateSymbol(ctx context.Context, key index.SymbolKey) int {
	idx, ok := ev.registry.Get(key)
	if !ok {
		return 0
	}

	sample, err := ev.market.GetLatestSample(ctx, key.Exchange, ev.timeframe, key.Symbol)
	if err != nil {
		ev.logger.Warn("Market data unavailable, skipping symbol",
			"exchange", key.Exchange, "symbol", key.Symbol, "error", err.Error())
		return 0
	}
	if sample == nil {
		return 0
	}

	prev, hadPrev := idx.UpdateLastPrice(sample.Close)

	// Traversed range, widened by the previous cycle's close so a threshold
	// crossed entirely between two samples is not missed
	low := decimal.Min(sample.Low, sample.Close)
	high := decimal.Max(sample.High, sample.Close)
	if hadPrev {
		low = decimal.Min(low, prev)
		high = decimal.Max(high, prev)
	}

	candidates := idx.QueryCandidates(low, high)
	for _, positionID := range candidates {
		if ctx.Err() != nil {
			return len(candidates)
		}
		ev.evaluateCandidate(ctx, idx, positionID, low, high, sample)
	}
	return len(candidates)
}

// evaluateCandidate re-checks the concrete trigger conditions for one
// candidate and closes the position on a hit. Trigger precedence for the
// reported reason is Trailing > StopLoss > TakeProfit.
func (ev *Evaluator) evaluateCandidate(ctx context.Context, idx *index.SymbolRiskIndex, positionID string, low, high decimal.Decimal, sample *core.PriceSample) {
	entry, ok := idx.TryGetEntry(positionID)
	if !ok {
		return
	}

	slHit := entry.StopLossPrice.IsPositive() && stopLossHit(entry.Side, low, high, entry.StopLossPrice)
	tpHit := entry.TakeProfitPrice.IsPositive() && takeProfitHit(entry.Side, low, high, entry.TakeProfitPrice)

	outcome, ok := idx.EvaluateTrailing(positionID, low, high)
	if !ok {
		return
	}
	if outcome.StopMoved {
		telemetry.GetGlobalMetrics().IncTrailingUpdates()
		if _, err := ev.store.UpdateTrailingStopPrice(ctx, positionID, outcome.NewStop); err != nil {
			ev.logger.Warn("Failed to persist trailing stop update",
				"position_id", positionID, "error", err.Error())
		}
	}

	var reason core.CloseReason
	switch {
	case outcome.Triggered:
		reason = core.CloseReasonTrailing
	case slHit:
		reason = core.CloseReasonStopLoss
	case tpHit:
		reason = core.CloseReasonTakeProfit
	default:
		return
	}

	// Re-read so the close carries any trailing state this cycle just set
	entry, ok = idx.TryGetEntry(positionID)
	if !ok {
		return
	}
	ev.closePosition(ctx, entry, reason, sample)
}

func stopLossHit(side core.Side, low, high, stopLoss decimal.Decimal) bool {
	if side == core.SideShort {
		return high.GreaterThanOrEqual(stopLoss)
	}
	return low.LessThanOrEqual(stopLoss)
}

func takeProfitHit(side core.Side, low, high, takeProfit decimal.Decimal) bool {
	if side == core.SideShort {
		return low.LessThanOrEqual(takeProfit)
	}
	return high.GreaterThanOrEqual(takeProfit)
}

// closePosition issues the reduce-only market close and, on success, retires
// the position. Order placement and persistence happen outside any index
// lock.
func (ev *Evaluator) closePosition(ctx context.Context, entry *index.PositionRiskEntry, reason core.CloseReason, sample *core.PriceSample) {
	req := &core.PlaceOrderRequest{
		UID:              entry.UID,
		ExchangeAPIKeyID: entry.ExchangeAPIKeyID,
		Exchange:         entry.Exchange,
		Symbol:           entry.Symbol,
		Side:             entry.Side.CloseSide(),
		Quantity:         entry.Quantity,
		ReduceOnly:       true,
		ClientOrderID:    "risk-" + uuid.NewString(),
	}

	result, err := ev.orders.PlaceMarketOrder(ctx, req)
	if err != nil || result == nil || !result.Success {
		msg := ""
		if err != nil {
			msg = err.Error()
		} else if result != nil {
			msg = result.ErrorMessage
		}
		ev.logger.Warn("Close order failed, position stays indexed for retry",
			"position_id", entry.PositionID,
			"reason", string(reason),
			"error", msg)
		telemetry.GetGlobalMetrics().IncCloseFailures()
		return
	}

	closePrice := result.AveragePrice
	if !closePrice.IsPositive() {
		closePrice = sample.Close
	}

	ev.logger.Info("Protective close executed",
		"position_id", entry.PositionID,
		"reason", string(reason),
		"side", string(req.Side),
		"qty", entry.Quantity.String(),
		"close_price", closePrice.String())
	telemetry.GetGlobalMetrics().IncTriggersFired(string(reason))

	if _, err := ev.store.ClosePosition(ctx, entry.PositionID, entry.TrailingTriggered, time.Now().UTC(), reason, closePrice); err != nil {
		ev.logger.Warn("Failed to persist position close",
			"position_id", entry.PositionID, "error", err.Error())
	}
	if ev.trailingCfg != nil {
		if err := ev.trailingCfg.Remove(ctx, entry.PositionID); err != nil {
			ev.logger.Warn("Failed to drop trailing config cache entry",
				"position_id", entry.PositionID, "error", err.Error())
		}
	}

	// Removal is what guarantees at-most-once triggering
	ev.registry.RemovePosition(entry.PositionID)
}
