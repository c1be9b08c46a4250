package presaledb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/moonship/presale/common"
	"gitlab.com/moonship/presale/pricing"
)

const raiseStateID = 1

const (
	insertRaiseState = `
INSERT INTO raise_state (id, total_raised, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
`
	selectRaiseState = `
SELECT total_raised, updated_at FROM raise_state WHERE id = $1
`
	selectRaiseStateForUpdate = selectRaiseState + `FOR UPDATE
`
	increaseRaised = `
UPDATE raise_state SET total_raised = total_raised + $2, updated_at = $3 WHERE id = $1
`
	insertContribution = `
INSERT INTO contributions (id, wallet, requested, accepted, tokens, breakdown, raised_before, time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	upsertAllocation = `
INSERT INTO allocations (wallet, contributed, tokens) VALUES ($1, $2, $3)
ON CONFLICT (wallet) DO UPDATE SET
    contributed = allocations.contributed + EXCLUDED.contributed,
    tokens = allocations.tokens + EXCLUDED.tokens
`
	selectAllocation = `
SELECT contributed, tokens FROM allocations WHERE wallet = $1
`
	selectContributions = `
SELECT seq, id, requested, accepted, tokens, breakdown, raised_before, time
FROM contributions WHERE wallet = $1 AND seq > $2 ORDER BY seq LIMIT $3
`
)

// Queries runs statements inside one transaction.
type Queries struct {
	tx *sql.Tx
}

func (q *Queries) InsertRaiseState(ctx context.Context, totalRaised decimal.Decimal, now time.Time) error {
	_, err := q.tx.ExecContext(ctx, insertRaiseState, raiseStateID, totalRaised, now)
	return err
}

func (q *Queries) RaiseState(ctx context.Context, forUpdate bool) (*common.RaiseState, error) {
	query := selectRaiseState
	if forUpdate {
		query = selectRaiseStateForUpdate
	}
	var (
		rs        common.RaiseState
		updatedAt sql.NullTime
	)
	if err := q.tx.QueryRowContext(ctx, query, raiseStateID).Scan(&rs.TotalRaised, &updatedAt); err != nil {
		return nil, err
	}
	rs.UpdatedAt = timeFromSql(updatedAt)
	return &rs, nil
}

func (q *Queries) IncreaseRaised(ctx context.Context, delta decimal.Decimal, now time.Time) error {
	_, err := q.tx.ExecContext(ctx, increaseRaised, raiseStateID, delta, now)
	return err
}

func (q *Queries) InsertContribution(ctx context.Context, c *common.Contribution) error {
	breakdown, err := json.Marshal(c.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	_, err = q.tx.ExecContext(ctx, insertContribution,
		c.ID,
		c.Wallet.String(),
		c.Requested,
		c.Accepted,
		c.Tokens,
		breakdown,
		c.RaisedBefore,
		c.Time.UTC(),
	)
	return err
}

func (q *Queries) UpsertAllocation(ctx context.Context, wallet common.WalletAddress, contributed, tokens decimal.Decimal) error {
	_, err := q.tx.ExecContext(ctx, upsertAllocation, wallet.String(), contributed, tokens)
	return err
}

func (q *Queries) Allocation(ctx context.Context, wallet common.WalletAddress) (*common.WalletAllocation, error) {
	wa := &common.WalletAllocation{Wallet: wallet}
	if err := q.tx.QueryRowContext(ctx, selectAllocation, wallet.String()).Scan(&wa.Contributed, &wa.Tokens); err != nil {
		return nil, err
	}
	return wa, nil
}

func (q *Queries) Contributions(ctx context.Context, wallet common.WalletAddress, afterSeq int64, limit int) ([]common.Contribution, []int64, error) {
	rows, err := q.tx.QueryContext(ctx, selectContributions, wallet.String(), afterSeq, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var (
		records []common.Contribution
		seqs    []int64
	)
	for rows.Next() {
		var (
			seq       int64
			c         common.Contribution
			breakdown []byte
			t         sql.NullTime
		)
		if err := rows.Scan(&seq, &c.ID, &c.Requested, &c.Accepted, &c.Tokens, &breakdown, &c.RaisedBefore, &t); err != nil {
			return nil, nil, err
		}
		c.Breakdown = []pricing.Allocation{}
		if err := json.Unmarshal(breakdown, &c.Breakdown); err != nil {
			return nil, nil, fmt.Errorf("decode breakdown of %s: %w", c.ID, err)
		}
		c.Wallet = wallet
		c.Time = timeFromSql(t)
		records = append(records, c)
		seqs = append(seqs, seq)
	}
	return records, seqs, rows.Err()
}
