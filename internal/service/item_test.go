package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"erp-pricing-api/internal/model"
)

func TestItemService(t *testing.T) {
	store := newStore(t)
	svc := NewItemService(store)
	ctx := context.Background()

	_, err := svc.GetItem(ctx, "A1")
	require.ErrorIs(t, err, ErrItemNotFound)
	_, err = svc.PriceHistory(ctx, "A1", 10)
	require.ErrorIs(t, err, ErrItemNotFound)

	eff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	item, err := svc.UpsertItem(ctx, " A1 ", "Hex bolt M8", decimal.NewNullDecimal(dec("0.42")), &eff)
	require.NoError(t, err)
	require.Equal(t, "A1", item.ItemCode)

	got, err := svc.GetItem(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, "Hex bolt M8", got.Description)
	require.True(t, dec("0.42").Equal(got.CurrentPrice.Decimal))

	_, err = store.ApplyPriceChange(ctx, model.PriceChange{
		ItemCode: "A1", NewPrice: dec("0.45"), EffectiveDate: eff, Reason: "steel surcharge",
		Actor: "alice", OperationID: "op-1", RecordID: "rec-1",
	})
	// No such record, so the change is refused and nothing is logged.
	require.Error(t, err)

	history, err := svc.PriceHistory(ctx, "A1", 0)
	require.NoError(t, err)
	require.Empty(t, history)
}
