package presaledb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gitlab.com/moonship/presale/common"
)

//go:embed schema.sql
var schemaSql string

var creations = regexp.MustCompile(`CREATE[^;]+;`).FindAllString(schemaSql, -1)

func creationSql(marker string) string {
	hits := make([]string, 0, 1)
	for _, c := range creations {
		if strings.Contains(c, marker) {
			hits = append(hits, c)
		}
	}
	if len(hits) != 1 {
		panic(fmt.Sprintf("expect exactly one hit for %s, got %d: %v", marker, len(hits), hits))
	}
	return hits[0]
}

const (
	dropRaiseStateTable = `
DROP TABLE IF EXISTS raise_state
`
	dropContributionsTable = `
DROP TABLE IF EXISTS contributions
`
	dropAllocationsTable = `
DROP TABLE IF EXISTS allocations
`
)

var (
	createRaiseStateTable     = creationSql("TABLE IF NOT EXISTS raise_state (")
	createContributionsTable  = creationSql("TABLE IF NOT EXISTS contributions (")
	createAllocationsTable    = creationSql("TABLE IF NOT EXISTS allocations (")
	createContributionsWallet = creationSql("INDEX IF NOT EXISTS contributions_wallet_seq ")
)

var dropSchemas = []struct {
	query       string
	description string
}{
	{dropRaiseStateTable, "drop raise state table"},
	{dropContributionsTable, "drop contributions table"},
	{dropAllocationsTable, "drop allocations table"},
}

var createSchemas = []struct {
	query       string
	description string
}{
	{createRaiseStateTable, "create raise state table"},
	{createContributionsTable, "create contributions table"},
	{createAllocationsTable, "create allocations table"},
	{createContributionsWallet, "create contributions wallet index"},
}

const HistoryPageSize = 50

func handleErrorWithRollback(err error, tx *sql.Tx) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return rollbackErr
	}
	return err
}

func timeFromSql(t sql.NullTime) time.Time {
	return t.Time.UTC()
}

func parsePageID(pageID string) (int64, error) {
	if pageID == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(pageID, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("invalid page id %q", pageID)
	}
	return seq, nil
}

// PresaleDB keeps the raise in Postgres. Contributions lock the raise_state row,
// so several service replicas can share one database.
type PresaleDB struct {
	db      *sql.DB
	timeNow func() time.Time
}

func NewDB(db *sql.DB, initialRaised decimal.Decimal) (*PresaleDB, error) {
	pdb := &PresaleDB{db: db, timeNow: time.Now}
	if err := pdb.CreateSchemas(); err != nil {
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}
	if err := pdb.runRetryableTransaction(context.Background(), func(ctx context.Context, tq *Queries) error {
		return tq.InsertRaiseState(ctx, initialRaised, pdb.timeNow().UTC())
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize raise state: %w", err)
	}
	return pdb, nil
}

func (pdb *PresaleDB) CreateSchemas() error {
	lid := uuid.NewString()
	log.Printf("PresaleDB: CreateSchemas started (%s)", lid)
	defer log.Printf("PresaleDB: CreateSchemas exited (%s)", lid)
	tx, err := pdb.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, s := range createSchemas {
		if _, err := tx.Exec(s.query); err != nil {
			return handleErrorWithRollback(fmt.Errorf("failed to %s: %w", s.description, err), tx)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (pdb *PresaleDB) DropSchemas(cascade bool) error {
	lid := uuid.NewString()
	log.Printf("PresaleDB: DropSchemas started (%s)", lid)
	defer log.Printf("PresaleDB: DropSchemas exited (%s)", lid)
	tx, err := pdb.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	suffix := ""
	if cascade {
		suffix = " CASCADE"
	}
	for _, s := range dropSchemas {
		query := s.query + suffix
		if _, err := tx.Exec(query); err != nil {
			return handleErrorWithRollback(fmt.Errorf("failed to %s: %w", s.description, err), tx)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pdbMethod func(ctx context.Context, tq *Queries) error

type txCommitError struct {
	msg string
}

func (txErr txCommitError) Error() string {
	return txErr.msg
}

func retryablePqError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Name() {
	case "unique_violation", "serialization_failure", "deadlock_detected":
		return true
	}
	return false
}

func (pdb *PresaleDB) runRetryableTransaction(ctx context.Context, fn pdbMethod) error {
	return retry.Do(
		func() error {
			tx, err := pdb.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("failed to begin transaction: %w", err)
			}
			if err := fn(ctx, &Queries{tx: tx}); err != nil {
				return handleErrorWithRollback(err, tx)
			}
			if err := tx.Commit(); err != nil {
				return txCommitError{msg: err.Error()}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if errors.As(err, &txCommitError{}) {
				return true
			}
			return retryablePqError(err)
		}),
	)
}

func (pdb *PresaleDB) RaiseState(ctx context.Context) (*common.RaiseState, error) {
	var rs *common.RaiseState
	if err := pdb.runRetryableTransaction(ctx, func(innerCtx context.Context, tq *Queries) error {
		var err error
		rs, err = tq.RaiseState(innerCtx, false)
		if err != nil {
			return fmt.Errorf("failed to select raise state: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return rs, nil
}

func (pdb *PresaleDB) ApplyContribution(ctx context.Context, settle common.SettleFunc) (*common.Contribution, error) {
	lid := uuid.NewString()
	log.Printf("PresaleDB: ApplyContribution started (%s)", lid)
	defer log.Printf("PresaleDB: ApplyContribution exited (%s)", lid)
	var c *common.Contribution
	if err := pdb.runRetryableTransaction(ctx, func(innerCtx context.Context, tq *Queries) error {
		rs, err := tq.RaiseState(innerCtx, true)
		if err != nil {
			return fmt.Errorf("failed to lock raise state: %w", err)
		}
		c, err = settle(rs.TotalRaised)
		if err != nil {
			return err
		}
		if err := tq.InsertContribution(innerCtx, c); err != nil {
			return fmt.Errorf("failed to insert contribution: %w", err)
		}
		if err := tq.IncreaseRaised(innerCtx, c.Accepted, c.Time.UTC()); err != nil {
			return fmt.Errorf("failed to increase total raised: %w", err)
		}
		if err := tq.UpsertAllocation(innerCtx, c.Wallet, c.Accepted, c.Tokens); err != nil {
			return fmt.Errorf("failed to update allocation: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return c, nil
}

func (pdb *PresaleDB) Allocation(ctx context.Context, wallet common.WalletAddress) (*common.WalletAllocation, error) {
	var wa *common.WalletAllocation
	if err := pdb.runRetryableTransaction(ctx, func(innerCtx context.Context, tq *Queries) error {
		var err error
		wa, err = tq.Allocation(innerCtx, wallet)
		if err == sql.ErrNoRows {
			return fmt.Errorf("allocation of %s: %w", wallet.String(), common.ErrNotExists)
		} else if err != nil {
			return fmt.Errorf("failed to select allocation: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return wa, nil
}

func (pdb *PresaleDB) History(ctx context.Context, wallet common.WalletAddress, pageID string) (*common.HistoryPage, error) {
	afterSeq, err := parsePageID(pageID)
	if err != nil {
		return nil, err
	}
	page := &common.HistoryPage{Records: []common.Contribution{}}
	if err := pdb.runRetryableTransaction(ctx, func(innerCtx context.Context, tq *Queries) error {
		records, seqs, err := tq.Contributions(innerCtx, wallet, afterSeq, HistoryPageSize+1)
		if err != nil {
			return fmt.Errorf("failed to select contributions: %w", err)
		}
		if len(records) > HistoryPageSize {
			records = records[:HistoryPageSize]
			page.More = true
			page.NextPageID = strconv.FormatInt(seqs[HistoryPageSize-1], 10)
		}
		page.Records = append(page.Records[:0], records...)
		return nil
	}); err != nil {
		return nil, err
	}
	return page, nil
}

func (pdb *PresaleDB) Close() error {
	return pdb.db.Close()
}
