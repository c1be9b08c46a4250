package presale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gitlab.com/moonship/presale/common"
	"gitlab.com/moonship/presale/pricing"
	"golang.org/x/time/rate"
)

type Settings struct {
	SoftCap  decimal.Decimal
	Currency string

	// Zero means no bound.
	MinContribution decimal.Decimal
	MaxContribution decimal.Decimal

	// Per wallet contribution rate. Zero rate disables limiting.
	WalletRate  rate.Limit
	WalletBurst int

	SessionPruneInterval time.Duration
}

type Storage interface {
	RaiseState(ctx context.Context) (*common.RaiseState, error)
	// ApplyContribution calls settle with the raise total while holding it
	// exclusively and persists the contribution settle returns.
	ApplyContribution(ctx context.Context, settle common.SettleFunc) (*common.Contribution, error)
	Allocation(ctx context.Context, wallet common.WalletAddress) (*common.WalletAllocation, error)
	History(ctx context.Context, wallet common.WalletAddress, pageID string) (*common.HistoryPage, error)
	Close() error
}

type AirdropRules interface {
	DropTime() time.Time
	Note() string
	Started() bool
	TimeTillDrop() time.Duration
}

type Wallets interface {
	Connect(addr common.WalletAddress) string
	Disconnect(sessionID string) bool
	Wallet(sessionID string) (common.WalletAddress, error)
	Prune() int
}

type Server struct {
	settings *Settings
	schedule pricing.Schedule
	airdrop  AirdropRules
	wallets  Wallets
	storage  Storage
	metrics  metrics

	limitersMu sync.Mutex
	limiters   map[common.WalletAddress]*rate.Limiter

	now    func() time.Time
	cancel context.CancelFunc
	stopWg sync.WaitGroup // Close waits for this WaitGroup.
}

func New(settings *Settings, schedule pricing.Schedule, airdrop AirdropRules, wallets Wallets, storage Storage) (*Server, error) {
	if schedule.Len() == 0 {
		return nil, fmt.Errorf("%w: empty schedule", pricing.ErrInvalidConfiguration)
	}
	if settings.MaxContribution.IsPositive() && settings.MinContribution.GreaterThan(settings.MaxContribution) {
		return nil, fmt.Errorf("min contribution %s exceeds max contribution %s", settings.MinContribution, settings.MaxContribution)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		settings: settings,
		schedule: schedule,
		airdrop:  airdrop,
		wallets:  wallets,
		storage:  storage,
		metrics:  newMetrics(),
		limiters: make(map[common.WalletAddress]*rate.Limiter),
		now:      time.Now,
		cancel:   cancel,
	}
	if rs, err := storage.RaiseState(ctx); err == nil {
		s.metrics.TotalRaised.Set(rs.TotalRaised.InexactFloat64())
	}
	if settings.SessionPruneInterval > 0 {
		s.runInALoop(ctx, "pruneSessions", settings.SessionPruneInterval, s.pruneSessions)
	}
	return s, nil
}

func (s *Server) HardCap() decimal.Decimal {
	return s.schedule.TotalCapacity()
}

func (s *Server) totalRaised(ctx context.Context, override *decimal.Decimal) (decimal.Decimal, error) {
	if override != nil {
		return *override, nil
	}
	rs, err := s.storage.RaiseState(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch raise state: %w", err)
	}
	return rs.TotalRaised, nil
}

func (s *Server) Schedule(ctx context.Context, req *ScheduleRequest) (*ScheduleResponse, error) {
	return &ScheduleResponse{
		Tiers:        s.schedule.Tiers(),
		PriceMeaning: s.schedule.Meaning(),
		HardCap:      s.HardCap(),
		Currency:     s.settings.Currency,
	}, nil
}

func (s *Server) CurrentTier(ctx context.Context, req *CurrentTierRequest) (*CurrentTierResponse, error) {
	totalRaised, err := s.totalRaised(ctx, req.TotalRaised)
	if err != nil {
		return nil, err
	}
	pos, err := pricing.FindCurrentTier(totalRaised, s.schedule)
	if err != nil {
		return nil, err
	}
	return &CurrentTierResponse{Position: pos, TotalRaised: totalRaised}, nil
}

func (s *Server) Quote(ctx context.Context, req *QuoteRequest) (*QuoteResponse, error) {
	totalRaised, err := s.totalRaised(ctx, req.TotalRaised)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.QuoteContribution(totalRaised, req.Amount, s.schedule)
	if err != nil {
		return nil, err
	}
	s.metrics.QuotesCount.Inc()
	return &QuoteResponse{Quote: quote, TotalRaised: totalRaised}, nil
}

func (s *Server) ConnectWallet(ctx context.Context, req *ConnectWalletRequest) (*ConnectWalletResponse, error) {
	addr, err := common.WalletAddressFromString(req.Address)
	if err != nil {
		return nil, errorf("invalid wallet address %q: %v", req.Address, err)
	}
	return &ConnectWalletResponse{SessionID: s.wallets.Connect(addr), Wallet: addr}, nil
}

func (s *Server) DisconnectWallet(ctx context.Context, req *DisconnectWalletRequest) (*DisconnectWalletResponse, error) {
	return &DisconnectWalletResponse{Disconnected: s.wallets.Disconnect(req.SessionID)}, nil
}

func (s *Server) limiter(wallet common.WalletAddress) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[wallet]
	if !ok {
		l = rate.NewLimiter(s.settings.WalletRate, s.settings.WalletBurst)
		s.limiters[wallet] = l
	}
	return l
}

// pruneLimiters drops limiters that have refilled to their burst, which are
// indistinguishable from fresh ones.
func (s *Server) pruneLimiters(now time.Time) int {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	removed := 0
	for wallet, l := range s.limiters {
		if l.TokensAt(now) >= float64(l.Burst()) {
			delete(s.limiters, wallet)
			removed++
		}
	}
	return removed
}

func (s *Server) checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errorf("contribution amount must be positive, got %s", amount)
	}
	if s.settings.MinContribution.IsPositive() && amount.LessThan(s.settings.MinContribution) {
		return errorf("contribution %s is below the minimum of %s %s", amount, s.settings.MinContribution, s.settings.Currency)
	}
	if s.settings.MaxContribution.IsPositive() && amount.GreaterThan(s.settings.MaxContribution) {
		return errorf("contribution %s is above the maximum of %s %s", amount, s.settings.MaxContribution, s.settings.Currency)
	}
	return nil
}

// settle clamps the requested amount to what is left under the hard cap and
// prices the clamped amount.
func (s *Server) settle(wallet common.WalletAddress, requested decimal.Decimal) common.SettleFunc {
	return func(totalRaised decimal.Decimal) (*common.Contribution, error) {
		delta := decimal.Min(requested, common.Remaining(s.HardCap(), totalRaised))
		if !delta.IsPositive() {
			return nil, errorf("hard cap of %s %s is reached", s.HardCap(), s.settings.Currency)
		}
		quote, err := pricing.QuoteContribution(totalRaised, delta, s.schedule)
		if err != nil {
			return nil, err
		}
		return &common.Contribution{
			ID:           uuid.NewString(),
			Wallet:       wallet,
			Requested:    requested,
			Accepted:     quote.Amount,
			Tokens:       quote.TotalTokens,
			Breakdown:    quote.Breakdown,
			RaisedBefore: totalRaised,
			Time:         s.now().UTC(),
		}, nil
	}
}

func (s *Server) Contribute(ctx context.Context, req *ContributeRequest) (*ContributeResponse, error) {
	wallet, err := s.wallets.Wallet(req.SessionID)
	if err != nil {
		s.metrics.RejectedContributionsCount.Inc()
		return nil, errorf("wallet is not connected: %v", err)
	}
	if err := s.checkAmount(req.Amount); err != nil {
		s.metrics.RejectedContributionsCount.Inc()
		return nil, err
	}
	if s.settings.WalletRate > 0 && !s.limiter(wallet).Allow() {
		s.metrics.RejectedContributionsCount.Inc()
		return nil, errorf("too many contributions from %s, try again later", wallet.String())
	}
	c, err := s.storage.ApplyContribution(ctx, s.settle(wallet, req.Amount))
	if err != nil {
		s.metrics.RejectedContributionsCount.Inc()
		if errors.As(err, &Error{}) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply contribution: %w", err)
	}
	s.metrics.ContributionsCount.Inc()
	if c.Clamped() {
		s.metrics.ClampedContributionsCount.Inc()
	}
	s.metrics.RaisedAmount.Add(c.Accepted.InexactFloat64())
	s.metrics.TokensAllocated.Add(c.Tokens.InexactFloat64())
	s.metrics.TotalRaised.Set(c.RaisedAfter().InexactFloat64())
	log.Printf("[Contribute]: %s contributed %s of %s %s for %s tokens (raise %s -> %s)", wallet.String(), c.Accepted, c.Requested, s.settings.Currency, c.Tokens, c.RaisedBefore, c.RaisedAfter())
	return &ContributeResponse{
		Contribution: c,
		Clamped:      c.Clamped(),
		TotalRaised:  c.RaisedAfter(),
	}, nil
}

func (s *Server) Allocation(ctx context.Context, req *AllocationRequest) (*AllocationResponse, error) {
	wallet, err := common.WalletAddressFromString(req.Address)
	if err != nil {
		return nil, errorf("invalid wallet address %q: %v", req.Address, err)
	}
	wa, err := s.storage.Allocation(ctx, wallet)
	if errors.Is(err, common.ErrNotExists) {
		return &AllocationResponse{Allocation: &common.WalletAllocation{Wallet: wallet, Contributed: decimal.Zero, Tokens: decimal.Zero}}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch allocation: %w", err)
	}
	return &AllocationResponse{Allocation: wa}, nil
}

func (s *Server) progress(ctx context.Context) (*common.Progress, error) {
	totalRaised, err := s.totalRaised(ctx, nil)
	if err != nil {
		return nil, err
	}
	pos, err := pricing.FindCurrentTier(totalRaised, s.schedule)
	if err != nil {
		return nil, err
	}
	hardCap := s.HardCap()
	return &common.Progress{
		TotalRaised:    totalRaised,
		HardCap:        hardCap,
		SoftCap:        s.settings.SoftCap,
		Percent:        common.PercentOf(totalRaised, hardCap),
		SoftCapReached: totalRaised.GreaterThanOrEqual(s.settings.SoftCap),
		HardCapReached: totalRaised.GreaterThanOrEqual(hardCap),
		Tier:           pos,
		Airdrop: common.AirdropInfo{
			DropTime:     s.airdrop.DropTime(),
			Started:      s.airdrop.Started(),
			TimeTillDrop: s.airdrop.TimeTillDrop(),
			Note:         s.airdrop.Note(),
		},
	}, nil
}

func (s *Server) Progress(ctx context.Context, req *ProgressRequest) (*ProgressResponse, error) {
	p, err := s.progress(ctx)
	if err != nil {
		return nil, err
	}
	return &ProgressResponse{Progress: *p}, nil
}

func (s *Server) History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	wallet, err := common.WalletAddressFromString(req.Address)
	if err != nil {
		return nil, errorf("invalid wallet address %q: %v", req.Address, err)
	}
	page, err := s.storage.History(ctx, wallet, req.PageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return &HistoryResponse{HistoryPage: *page}, nil
}

func (s *Server) Close() error {
	s.cancel()
	s.stopWg.Wait()
	return s.storage.Close()
}
