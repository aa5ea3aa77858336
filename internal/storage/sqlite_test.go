package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"risk_engine/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "positions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func samplePosition(id string) core.Position {
	return core.Position{
		ID:              id,
		UID:             "u1",
		StrategyID:      "grid-1",
		Exchange:        "binance",
		Symbol:          "BTCUSDT",
		Side:            core.SideLong,
		EntryPrice:      decimal.RequireFromString("64000.5"),
		Quantity:        decimal.RequireFromString("0.25"),
		StopLossPrice:   decimal.RequireFromString("60000"),
		TakeProfitPrice: decimal.RequireFromString("70000"),
		TrailingEnabled: true,
		Status:          core.PositionStatusOpen,
		OpenedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestInsertAndListRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	want := samplePosition("p1")
	require.NoError(t, store.InsertPosition(ctx, want))

	got, err := store.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	pos := got[0]
	assert.Equal(t, want.ID, pos.ID)
	assert.Equal(t, want.Side, pos.Side)
	assert.True(t, pos.EntryPrice.Equal(want.EntryPrice), "entry price %s", pos.EntryPrice)
	assert.True(t, pos.StopLossPrice.Equal(want.StopLossPrice))
	assert.True(t, pos.TakeProfitPrice.Equal(want.TakeProfitPrice))
	assert.True(t, pos.TrailingEnabled)
	assert.True(t, pos.TrailingStopPrice.IsZero(), "unset trailing stop should scan as zero")
	assert.True(t, pos.OpenedAt.Equal(want.OpenedAt), "opened_at %s != %s", pos.OpenedAt, want.OpenedAt)
}

func TestClosePositionAffectsOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertPosition(ctx, samplePosition("p1")))

	closedAt := time.Now().UTC()
	price := decimal.RequireFromString("59900.5")

	affected, err := store.ClosePosition(ctx, "p1", false, closedAt, core.CloseReasonStopLoss, price)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// Second close finds no open row
	affected, err = store.ClosePosition(ctx, "p1", false, closedAt, core.CloseReasonStopLoss, price)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	open, err := store.ListOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCloseUnknownPosition(t *testing.T) {
	store := newStore(t)

	affected, err := store.ClosePosition(context.Background(), "ghost", false,
		time.Now(), core.CloseReasonTakeProfit, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}

func TestUpdateTrailingStopPrice(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertPosition(ctx, samplePosition("p1")))

	affected, err := store.UpdateTrailingStopPrice(ctx, "p1", decimal.RequireFromString("66000"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	open, err := store.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].TrailingStopPrice.Equal(decimal.RequireFromString("66000")))
	assert.True(t, open[0].TrailingTriggered)

	// A closed position is never updated
	_, err = store.ClosePosition(ctx, "p1", true, time.Now(), core.CloseReasonTrailing, decimal.RequireFromString("65000"))
	require.NoError(t, err)
	affected, err = store.UpdateTrailingStopPrice(ctx, "p1", decimal.RequireFromString("67000"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}

func TestListSkipsClosedPositions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertPosition(ctx, samplePosition("open-1")))
	closed := samplePosition("closed-1")
	closed.Status = core.PositionStatusClosed
	closed.ClosedAt = time.Now().UTC()
	require.NoError(t, store.InsertPosition(ctx, closed))

	open, err := store.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "open-1", open[0].ID)
}

func TestInsertReplacesExisting(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	pos := samplePosition("p1")
	require.NoError(t, store.InsertPosition(ctx, pos))

	pos.StopLossPrice = decimal.RequireFromString("61000")
	require.NoError(t, store.InsertPosition(ctx, pos))

	open, err := store.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].StopLossPrice.Equal(decimal.RequireFromString("61000")))
}
