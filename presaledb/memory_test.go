package presaledb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gitlab.com/moonship/presale/common"
	"gitlab.com/moonship/presale/pricing"
)

func settleFixed(wallet common.WalletAddress, amount, tokens decimal.Decimal) common.SettleFunc {
	return func(totalRaised decimal.Decimal) (*common.Contribution, error) {
		return &common.Contribution{
			ID:           uuid.NewString(),
			Wallet:       wallet,
			Requested:    amount,
			Accepted:     amount,
			Tokens:       tokens,
			Breakdown:    []pricing.Allocation{{TierIndex: 0, AmountTaken: amount, PriceApplied: decimal.NewFromInt(10), TokensReceived: tokens}},
			RaisedBefore: totalRaised,
			Time:         time.Now().UTC(),
		}, nil
	}
}

func TestMemoryApplyContribution(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB(decimal.NewFromInt(100))
	var wallet common.WalletAddress
	fuzz.New().Fuzz(&wallet)

	_, err := m.Allocation(ctx, wallet)
	require.ErrorIs(t, err, common.ErrNotExists)

	c, err := m.ApplyContribution(ctx, settleFixed(wallet, decimal.NewFromInt(5), decimal.NewFromInt(50)))
	require.NoError(t, err)
	require.True(t, c.RaisedBefore.Equal(decimal.NewFromInt(100)))

	_, err = m.ApplyContribution(ctx, settleFixed(wallet, decimal.NewFromInt(3), decimal.NewFromInt(30)))
	require.NoError(t, err)

	rs, err := m.RaiseState(ctx)
	require.NoError(t, err)
	require.True(t, rs.TotalRaised.Equal(decimal.NewFromInt(108)))

	wa, err := m.Allocation(ctx, wallet)
	require.NoError(t, err)
	require.True(t, wa.Contributed.Equal(decimal.NewFromInt(8)))
	require.True(t, wa.Tokens.Equal(decimal.NewFromInt(80)))
}

func TestMemorySettleErrorLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB(decimal.NewFromInt(7))
	rejected := errors.New("rejected")
	_, err := m.ApplyContribution(ctx, func(totalRaised decimal.Decimal) (*common.Contribution, error) {
		return nil, rejected
	})
	require.ErrorIs(t, err, rejected)
	rs, err := m.RaiseState(ctx)
	require.NoError(t, err)
	require.True(t, rs.TotalRaised.Equal(decimal.NewFromInt(7)))
}

func TestMemoryConcurrentContributions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB(decimal.Zero)
	var wallet common.WalletAddress
	fuzz.New().Fuzz(&wallet)

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := m.ApplyContribution(ctx, settleFixed(wallet, decimal.NewFromInt(1), decimal.NewFromInt(10)))
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	rs, err := m.RaiseState(ctx)
	require.NoError(t, err)
	require.True(t, rs.TotalRaised.Equal(decimal.NewFromInt(workers)))

	// Every contribution saw a distinct raise total.
	seen := make(map[string]bool)
	page, err := m.History(ctx, wallet, "")
	require.NoError(t, err)
	require.Len(t, page.Records, workers)
	for _, c := range page.Records {
		key := c.RaisedBefore.String()
		require.False(t, seen[key], "raise total %s seen twice", key)
		seen[key] = true
	}
}

func TestMemoryHistoryPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB(decimal.Zero)
	var wallet, other common.WalletAddress
	f := fuzz.New()
	f.Fuzz(&wallet)
	f.Fuzz(&other)

	total := HistoryPageSize + 7
	for i := 0; i < total; i++ {
		_, err := m.ApplyContribution(ctx, settleFixed(wallet, decimal.NewFromInt(1), decimal.NewFromInt(1)))
		require.NoError(t, err)
	}

	page, err := m.History(ctx, wallet, "")
	require.NoError(t, err)
	require.Len(t, page.Records, HistoryPageSize)
	require.True(t, page.More)

	next, err := m.History(ctx, wallet, page.NextPageID)
	require.NoError(t, err)
	require.Len(t, next.Records, 7)
	require.False(t, next.More)
	require.Empty(t, next.NextPageID)

	empty, err := m.History(ctx, other, "")
	require.NoError(t, err)
	require.Empty(t, empty.Records)

	_, err = m.History(ctx, wallet, "not-a-page")
	require.Error(t, err)
}

func TestMemoryHistoryRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB(decimal.Zero)
	var wallet common.WalletAddress
	fuzz.New().Fuzz(&wallet)

	c, err := m.ApplyContribution(ctx, settleFixed(wallet, decimal.NewFromInt(5), decimal.NewFromInt(50)))
	require.NoError(t, err)
	c.Breakdown[0].TokensReceived = decimal.NewFromInt(-1)

	page, err := m.History(ctx, wallet, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	page.Records[0].Breakdown[0].TierIndex = 7

	page, err = m.History(ctx, wallet, "")
	require.NoError(t, err)
	require.Equal(t, 0, page.Records[0].Breakdown[0].TierIndex)
	require.True(t, page.Records[0].Breakdown[0].TokensReceived.Equal(decimal.NewFromInt(50)))
}
