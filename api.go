package presale

//go:generate go run ./gen/...

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/starius/api2"
	"gitlab.com/moonship/presale/common"
	"gitlab.com/moonship/presale/pricing"
)

type Service interface {
	Schedule(ctx context.Context, req *ScheduleRequest) (*ScheduleResponse, error)
	CurrentTier(ctx context.Context, req *CurrentTierRequest) (*CurrentTierResponse, error)
	Quote(ctx context.Context, req *QuoteRequest) (*QuoteResponse, error)
	ConnectWallet(ctx context.Context, req *ConnectWalletRequest) (*ConnectWalletResponse, error)
	DisconnectWallet(ctx context.Context, req *DisconnectWalletRequest) (*DisconnectWalletResponse, error)
	Contribute(ctx context.Context, req *ContributeRequest) (*ContributeResponse, error)
	Allocation(ctx context.Context, req *AllocationRequest) (*AllocationResponse, error)
	Progress(ctx context.Context, req *ProgressRequest) (*ProgressResponse, error)
	History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error)
}

type ScheduleRequest struct {
}

type ScheduleResponse struct {
	Tiers        []pricing.Tier       `json:"tiers"`
	PriceMeaning pricing.PriceMeaning `json:"price_meaning"`
	HardCap      decimal.Decimal      `json:"hard_cap"`
	Currency     string               `json:"currency"`
}

type CurrentTierRequest struct {
	// Defaults to the current raise.
	TotalRaised *decimal.Decimal `json:"total_raised,omitempty"`
}

type CurrentTierResponse struct {
	pricing.Position
	TotalRaised decimal.Decimal `json:"total_raised"`
}

type QuoteRequest struct {
	Amount      decimal.Decimal  `json:"amount"`
	TotalRaised *decimal.Decimal `json:"total_raised,omitempty"`
}

type QuoteResponse struct {
	Quote       *pricing.Quote  `json:"quote"`
	TotalRaised decimal.Decimal `json:"total_raised"`
}

type ConnectWalletRequest struct {
	Address string `json:"address"`
}

type ConnectWalletResponse struct {
	SessionID string               `json:"session_id"`
	Wallet    common.WalletAddress `json:"wallet"`
}

type DisconnectWalletRequest struct {
	SessionID string `json:"session_id"`
}

type DisconnectWalletResponse struct {
	Disconnected bool `json:"disconnected"`
}

type ContributeRequest struct {
	SessionID string          `json:"session_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type ContributeResponse struct {
	Contribution *common.Contribution `json:"contribution"`
	Clamped      bool                 `json:"clamped"`
	TotalRaised  decimal.Decimal      `json:"total_raised"`
}

type AllocationRequest struct {
	Address string `json:"address"`
}

type AllocationResponse struct {
	Allocation *common.WalletAllocation `json:"allocation"`
}

type ProgressRequest struct {
}

type ProgressResponse struct {
	common.Progress
}

type HistoryRequest struct {
	Address string `json:"address"`
	PageID  string `json:"page_id"`
}

type HistoryResponse struct {
	common.HistoryPage
}

type Error struct {
	Msg string
}

func (err Error) Error() string {
	return err.Msg
}

func errorf(format string, args ...interface{}) Error {
	return Error{Msg: fmt.Sprintf(format, args...)}
}

func route(s Service, handler, httpMethod string) api2.Route {
	return api2.Route{
		Method:  httpMethod,
		Path:    fmt.Sprintf("/v1/presale/%s", strings.ToLower(handler)),
		Handler: api2.Method(&s, handler),
		Transport: &api2.JsonTransport{
			Errors: map[string]error{
				"Error": Error{},
			},
		},
	}
}

func GetRoutes(s Service) []api2.Route {
	return []api2.Route{
		route(s, "Schedule", http.MethodGet),
		route(s, "CurrentTier", http.MethodPost),
		route(s, "Quote", http.MethodPost),
		route(s, "ConnectWallet", http.MethodPost),
		route(s, "DisconnectWallet", http.MethodPost),
		route(s, "Contribute", http.MethodPost),
		route(s, "Allocation", http.MethodPost),
		route(s, "Progress", http.MethodGet),
		route(s, "History", http.MethodPost),
	}
}
