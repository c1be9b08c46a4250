package presale

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/shopspring/decimal"
	"github.com/starius/api2"
	"github.com/stretchr/testify/require"
	"gitlab.com/moonship/presale/common"
	"gitlab.com/moonship/presale/presaledb"
	"gitlab.com/moonship/presale/pricing"
	"gitlab.com/moonship/presale/wallet"
	"golang.org/x/time/rate"
)

var dropTime = time.Date(2025, time.October, 2, 0, 0, 0, 0, time.UTC)

type fixedAirdrop struct {
	till time.Duration
}

func (a fixedAirdrop) DropTime() time.Time         { return dropTime }
func (a fixedAirdrop) Note() string                { return "no claim required" }
func (a fixedAirdrop) Started() bool               { return a.till == 0 }
func (a fixedAirdrop) TimeTillDrop() time.Duration { return a.till }

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testSchedule(t *testing.T) pricing.Schedule {
	s, err := pricing.NewSchedule(pricing.TokensPerUnit,
		pricing.Band{Price: d("100"), Capacity: d("1")},
		pricing.Band{Price: d("80"), Capacity: d("1")},
	)
	require.NoError(t, err)
	return s
}

func newTestServer(t *testing.T, settings *Settings, initialRaised string) *Server {
	if settings.Currency == "" {
		settings.Currency = "USDC"
	}
	srv, err := New(settings, testSchedule(t), fixedAirdrop{till: 36 * time.Hour}, wallet.NewSessions(time.Hour), presaledb.NewMemoryDB(d(initialRaised)))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
	})
	return srv
}

func connect(t *testing.T, srv *Server) (string, common.WalletAddress) {
	var addr common.WalletAddress
	fuzz.New().Fuzz(&addr)
	res, err := srv.ConnectWallet(context.Background(), &ConnectWalletRequest{Address: addr.String()})
	require.NoError(t, err)
	require.Equal(t, addr, res.Wallet)
	return res.SessionID, addr
}

func raised(t *testing.T, srv *Server) decimal.Decimal {
	res, err := srv.CurrentTier(context.Background(), &CurrentTierRequest{})
	require.NoError(t, err)
	return res.TotalRaised
}

func TestContributeSplitsAcrossTiers(t *testing.T) {
	srv := newTestServer(t, &Settings{}, "0.8")
	ctx := context.Background()
	sessionID, addr := connect(t, srv)

	res, err := srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d("0.5")})
	require.NoError(t, err)
	require.False(t, res.Clamped)
	require.True(t, res.Contribution.Tokens.Equal(d("44")))
	require.Len(t, res.Contribution.Breakdown, 2)
	require.True(t, res.TotalRaised.Equal(d("1.3")))
	require.True(t, raised(t, srv).Equal(d("1.3")))

	alloc, err := srv.Allocation(ctx, &AllocationRequest{Address: addr.String()})
	require.NoError(t, err)
	require.True(t, alloc.Allocation.Contributed.Equal(d("0.5")))
	require.True(t, alloc.Allocation.Tokens.Equal(d("44")))
}

func TestContributeClampsToHardCap(t *testing.T) {
	srv := newTestServer(t, &Settings{}, "1.5")
	ctx := context.Background()
	sessionID, _ := connect(t, srv)

	res, err := srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d("3")})
	require.NoError(t, err)
	require.True(t, res.Clamped)
	require.True(t, res.Contribution.Requested.Equal(d("3")))
	require.True(t, res.Contribution.Accepted.Equal(d("0.5")))
	// Only the accepted half unit is priced.
	require.True(t, res.Contribution.Tokens.Equal(d("40")))
	require.True(t, res.TotalRaised.Equal(d("2")))

	_, err = srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d("1")})
	require.ErrorContains(t, err, "hard cap")
	require.ErrorAs(t, err, &Error{})
	require.True(t, raised(t, srv).Equal(d("2")))
}

func TestContributeRejectsInvalidAmounts(t *testing.T) {
	srv := newTestServer(t, &Settings{MinContribution: d("0.1"), MaxContribution: d("1")}, "0")
	ctx := context.Background()
	sessionID, addr := connect(t, srv)

	for _, amount := range []string{"0", "-1", "0.05", "1.01"} {
		_, err := srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d(amount)})
		require.Error(t, err, "amount %s", amount)
		require.ErrorAs(t, err, &Error{})
	}
	require.True(t, raised(t, srv).IsZero())

	alloc, err := srv.Allocation(ctx, &AllocationRequest{Address: addr.String()})
	require.NoError(t, err)
	require.True(t, alloc.Allocation.Contributed.IsZero())
}

func TestContributeRequiresConnectedWallet(t *testing.T) {
	srv := newTestServer(t, &Settings{}, "0")
	ctx := context.Background()

	_, err := srv.Contribute(ctx, &ContributeRequest{SessionID: "nope", Amount: d("0.5")})
	require.ErrorContains(t, err, "wallet is not connected")

	sessionID, _ := connect(t, srv)
	dres, err := srv.DisconnectWallet(ctx, &DisconnectWalletRequest{SessionID: sessionID})
	require.NoError(t, err)
	require.True(t, dres.Disconnected)
	_, err = srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d("0.5")})
	require.ErrorContains(t, err, "wallet is not connected")
	require.True(t, raised(t, srv).IsZero())

	_, err = srv.ConnectWallet(ctx, &ConnectWalletRequest{Address: "not a wallet"})
	require.ErrorAs(t, err, &Error{})
}

func TestContributeRateLimit(t *testing.T) {
	srv := newTestServer(t, &Settings{WalletRate: rate.Every(time.Hour), WalletBurst: 2}, "0")
	ctx := context.Background()
	sessionID, _ := connect(t, srv)
	otherSession, _ := connect(t, srv)

	for i := 0; i < 2; i++ {
		_, err := srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d("0.1")})
		require.NoError(t, err)
	}
	_, err := srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d("0.1")})
	require.ErrorContains(t, err, "too many contributions")

	_, err = srv.Contribute(ctx, &ContributeRequest{SessionID: otherSession, Amount: d("0.1")})
	require.NoError(t, err)
	require.True(t, raised(t, srv).Equal(d("0.3")))
}

func TestConcurrentContributionsNeverExceedCap(t *testing.T) {
	srv := newTestServer(t, &Settings{}, "0")
	ctx := context.Background()

	const workers = 30
	sessions := make([]string, workers)
	for i := range sessions {
		sessions[i], _ = connect(t, srv)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		tokens   = decimal.Zero
	)
	wg.Add(workers)
	for _, sessionID := range sessions {
		sessionID := sessionID
		go func() {
			defer wg.Done()
			res, err := srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d("0.1")})
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			accepted++
			tokens = tokens.Add(res.Contribution.Tokens)
		}()
	}
	wg.Wait()

	require.Equal(t, 20, accepted)
	require.True(t, raised(t, srv).Equal(d("2")))
	// 1 unit at 100 plus 1 unit at 80.
	require.True(t, tokens.Equal(d("180")), "tokens %s", tokens)
}

func TestQuoteAndCurrentTier(t *testing.T) {
	srv := newTestServer(t, &Settings{}, "0.8")
	ctx := context.Background()

	q, err := srv.Quote(ctx, &QuoteRequest{Amount: d("0.5")})
	require.NoError(t, err)
	require.True(t, q.TotalRaised.Equal(d("0.8")))
	require.True(t, q.Quote.TotalTokens.Equal(d("44")))

	zero := decimal.Zero
	q, err = srv.Quote(ctx, &QuoteRequest{Amount: d("0.5"), TotalRaised: &zero})
	require.NoError(t, err)
	require.True(t, q.Quote.TotalTokens.Equal(d("50")))

	boundary := d("1")
	tier, err := srv.CurrentTier(ctx, &CurrentTierRequest{TotalRaised: &boundary})
	require.NoError(t, err)
	require.Equal(t, 1, tier.TierIndex)

	sched, err := srv.Schedule(ctx, &ScheduleRequest{})
	require.NoError(t, err)
	require.Len(t, sched.Tiers, 2)
	require.True(t, sched.HardCap.Equal(d("2")))
	require.Equal(t, pricing.TokensPerUnit, sched.PriceMeaning)
}

func TestProgressAndHistory(t *testing.T) {
	srv := newTestServer(t, &Settings{SoftCap: d("1")}, "0.5")
	ctx := context.Background()

	p, err := srv.Progress(ctx, &ProgressRequest{})
	require.NoError(t, err)
	require.True(t, p.Percent.Equal(d("25")))
	require.False(t, p.SoftCapReached)
	require.False(t, p.HardCapReached)
	require.False(t, p.Airdrop.Started)
	require.Equal(t, 36*time.Hour, p.Airdrop.TimeTillDrop)

	sessionID, addr := connect(t, srv)
	for i := 0; i < 3; i++ {
		_, err := srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d("0.5")})
		require.NoError(t, err)
	}

	p, err = srv.Progress(ctx, &ProgressRequest{})
	require.NoError(t, err)
	require.True(t, p.SoftCapReached)
	require.True(t, p.HardCapReached)
	require.True(t, p.Percent.Equal(d("100")))

	h, err := srv.History(ctx, &HistoryRequest{Address: addr.String()})
	require.NoError(t, err)
	require.Len(t, h.Records, 3)
	require.False(t, h.More)

	report, err := srv.Report(ctx)
	require.NoError(t, err)
	require.Contains(t, report, "hard cap reached")
	require.Contains(t, report, "soft cap reached")
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, &Settings{}, "0.8")
	mux := http.NewServeMux()
	api2.BindRoutes(mux, GetRoutes(srv))
	ts := httptest.NewServer(mux)
	defer ts.Close()

	body, err := json.Marshal(QuoteRequest{Amount: d("0.5")})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/v1/presale/quote", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res QuoteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.True(t, res.Quote.TotalTokens.Equal(d("44")))
	require.Len(t, res.Quote.Breakdown, 2)
}

func TestPruneDropsIdleLimiters(t *testing.T) {
	srv := newTestServer(t, &Settings{WalletRate: rate.Every(time.Hour), WalletBurst: 2}, "0")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sessionID, _ := connect(t, srv)
		_, err := srv.Contribute(ctx, &ContributeRequest{SessionID: sessionID, Amount: d("0.1")})
		require.NoError(t, err)
	}
	limiters := func() int {
		srv.limitersMu.Lock()
		defer srv.limitersMu.Unlock()
		return len(srv.limiters)
	}
	require.Equal(t, 3, limiters())

	// Buckets are still draining.
	require.NoError(t, srv.pruneSessions(ctx))
	require.Equal(t, 3, limiters())

	later := time.Now().Add(3 * time.Hour)
	srv.now = func() time.Time { return later }
	require.NoError(t, srv.pruneSessions(ctx))
	require.Equal(t, 0, limiters())
}
