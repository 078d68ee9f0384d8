package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/okx-scalper/core/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := t.TempDir() + "/test.db"
	store, err := Open(dbPath, "")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertOrderInsertsThenUpdates(t *testing.T) {
	store := openTestStore(t)

	order := &core.Order{
		OrderID:    "o-1",
		ClOrdID:    "cl-1",
		Symbol:     "BTC-USDT-SWAP",
		Side:       core.SideBuy,
		OrderType:  core.OrderTypeMarket,
		Price:      decimal.NewFromInt(50000),
		Size:       decimal.NewFromInt(1),
		FilledSize: decimal.Zero,
		Status:     core.OrderLive,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.UpsertOrder(order))

	order.FilledSize = decimal.NewFromInt(1)
	order.Status = core.OrderFilled
	require.NoError(t, store.UpsertOrder(order))

	recent, err := store.RecentOrders(10)
	require.NoError(t, err)
	require.Len(t, recent, 1, "upsert must not create a duplicate row for the same OrderID")
	require.Equal(t, "filled", recent[0].Status)
	require.Equal(t, "1", recent[0].FilledSize)
}

func TestRecentOrdersOrdersNewestFirst(t *testing.T) {
	store := openTestStore(t)

	for i, id := range []string{"o-1", "o-2", "o-3"} {
		order := &core.Order{
			OrderID:    id,
			ClOrdID:    id,
			Symbol:     "BTC-USDT-SWAP",
			Side:       core.SideBuy,
			OrderType:  core.OrderTypeMarket,
			Price:      decimal.NewFromInt(int64(100 + i)),
			Size:       decimal.NewFromInt(1),
			FilledSize: decimal.Zero,
			Status:     core.OrderLive,
			CreatedAt:  time.Now(),
		}
		require.NoError(t, store.UpsertOrder(order))
		time.Sleep(2 * time.Millisecond)
	}

	recent, err := store.RecentOrders(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "o-3", recent[0].OrderID)
	require.Equal(t, "o-2", recent[1].OrderID)
}

func TestRecordPositionAppendsSnapshot(t *testing.T) {
	store := openTestStore(t)

	pos := core.Position{
		Symbol:        "BTC-USDT-SWAP",
		SignedSize:    decimal.NewFromFloat(0.5),
		AvgEntryPrice: decimal.NewFromInt(50000),
		UnrealizedPnL: decimal.NewFromInt(10),
	}
	require.NoError(t, store.RecordPosition(pos))
	require.NoError(t, store.RecordPosition(pos))

	var count int64
	require.NoError(t, store.db.Model(&PositionSnapshot{}).Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestRecordMeltdownPersistsReasonAndEquity(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordMeltdown("资金雪崩: drawdown exceeded 15%", decimal.NewFromInt(8500)))

	var rec MeltdownSnapshot
	require.NoError(t, store.db.First(&rec).Error)
	require.Contains(t, rec.TriggerReason, "资金雪崩")
	require.Equal(t, "8500", rec.TotalEquity)
}
