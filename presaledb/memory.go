package presaledb

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/moonship/presale/common"
	"gitlab.com/moonship/presale/pricing"
)

// MemoryDB keeps the raise in process memory. It is lost on restart.
type MemoryDB struct {
	mu            sync.Mutex
	raise         common.RaiseState
	allocations   map[common.WalletAddress]*common.WalletAllocation
	contributions map[common.WalletAddress][]common.Contribution
}

func NewMemoryDB(initialRaised decimal.Decimal) *MemoryDB {
	return &MemoryDB{
		raise:         common.RaiseState{TotalRaised: initialRaised, UpdatedAt: time.Now().UTC()},
		allocations:   make(map[common.WalletAddress]*common.WalletAllocation),
		contributions: make(map[common.WalletAddress][]common.Contribution),
	}
}

func (m *MemoryDB) RaiseState(ctx context.Context) (*common.RaiseState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.raise
	return &rs, nil
}

func (m *MemoryDB) ApplyContribution(ctx context.Context, settle common.SettleFunc) (*common.Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := settle(m.raise.TotalRaised)
	if err != nil {
		return nil, err
	}
	m.raise.TotalRaised = m.raise.TotalRaised.Add(c.Accepted)
	m.raise.UpdatedAt = c.Time.UTC()

	wa, ok := m.allocations[c.Wallet]
	if !ok {
		wa = &common.WalletAllocation{Wallet: c.Wallet, Contributed: decimal.Zero, Tokens: decimal.Zero}
		m.allocations[c.Wallet] = wa
	}
	wa.Contributed = wa.Contributed.Add(c.Accepted)
	wa.Tokens = wa.Tokens.Add(c.Tokens)

	m.contributions[c.Wallet] = append(m.contributions[c.Wallet], cloneContribution(*c))
	return c, nil
}

func cloneContribution(c common.Contribution) common.Contribution {
	c.Breakdown = append([]pricing.Allocation(nil), c.Breakdown...)
	return c
}

func (m *MemoryDB) Allocation(ctx context.Context, wallet common.WalletAddress) (*common.WalletAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wa, ok := m.allocations[wallet]
	if !ok {
		return nil, fmt.Errorf("allocation of %s: %w", wallet.String(), common.ErrNotExists)
	}
	copied := *wa
	return &copied, nil
}

// History pages through the wallet's contributions. Page IDs are positions in the
// wallet's list.
func (m *MemoryDB) History(ctx context.Context, wallet common.WalletAddress, pageID string) (*common.HistoryPage, error) {
	start, err := parsePageID(pageID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.contributions[wallet]
	page := &common.HistoryPage{Records: []common.Contribution{}}
	if start >= int64(len(all)) {
		return page, nil
	}
	end := start + HistoryPageSize
	if end < int64(len(all)) {
		page.More = true
		page.NextPageID = strconv.FormatInt(end, 10)
	} else {
		end = int64(len(all))
	}
	for _, c := range all[start:end] {
		page.Records = append(page.Records, cloneContribution(c))
	}
	return page, nil
}

func (m *MemoryDB) Close() error {
	return nil
}
