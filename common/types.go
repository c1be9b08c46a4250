package common

import (
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"gitlab.com/moonship/presale/pricing"
)

var ErrNotExists = errors.New("not exists")

const WalletAddrLen = 32

// WalletAddress identifies a contributor wallet. Its text form is base58.
type WalletAddress [WalletAddrLen]byte

func WalletAddressFromString(addrStr string) (addr WalletAddress, err error) {
	val, err := base58.Decode(addrStr)
	if err != nil {
		return addr, fmt.Errorf("decode: %w", err)
	}
	if len(val) != WalletAddrLen {
		return addr, fmt.Errorf("invalid length, expected %v, got %d", WalletAddrLen, len(val))
	}
	copy(addr[:], val)
	return
}

func (addr WalletAddress) String() string {
	return base58.Encode(addr[:])
}

func (addr WalletAddress) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

func (addr *WalletAddress) UnmarshalText(text []byte) error {
	parsed, err := WalletAddressFromString(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}

type RaiseState struct {
	TotalRaised decimal.Decimal `json:"total_raised"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type WalletAllocation struct {
	Wallet      WalletAddress   `json:"wallet"`
	Contributed decimal.Decimal `json:"contributed"`
	Tokens      decimal.Decimal `json:"tokens"`
}

type Contribution struct {
	ID           string               `json:"id"`
	Wallet       WalletAddress        `json:"wallet"`
	Requested    decimal.Decimal      `json:"requested"`
	Accepted     decimal.Decimal      `json:"accepted"`
	Tokens       decimal.Decimal      `json:"tokens"`
	Breakdown    []pricing.Allocation `json:"breakdown"`
	RaisedBefore decimal.Decimal      `json:"raised_before"`
	Time         time.Time            `json:"time"`
}

// Clamped reports whether less than the requested amount was accepted.
func (c *Contribution) Clamped() bool {
	return c.Accepted.LessThan(c.Requested)
}

func (c *Contribution) RaisedAfter() decimal.Decimal {
	return c.RaisedBefore.Add(c.Accepted)
}

type AirdropInfo struct {
	DropTime     time.Time     `json:"drop_time"`
	Started      bool          `json:"started"`
	TimeTillDrop time.Duration `json:"time_till_drop"`
	Note         string        `json:"note,omitempty"`
}

type Progress struct {
	TotalRaised    decimal.Decimal  `json:"total_raised"`
	HardCap        decimal.Decimal  `json:"hard_cap"`
	SoftCap        decimal.Decimal  `json:"soft_cap"`
	Percent        decimal.Decimal  `json:"percent"`
	SoftCapReached bool             `json:"soft_cap_reached"`
	HardCapReached bool             `json:"hard_cap_reached"`
	Tier           pricing.Position `json:"tier"`
	Airdrop        AirdropInfo      `json:"airdrop"`
}

// SettleFunc turns the raise total observed inside a storage transaction into the
// contribution to persist. Returning an error aborts the transaction.
type SettleFunc func(totalRaised decimal.Decimal) (*Contribution, error)

type HistoryPage struct {
	Records    []Contribution `json:"records"`
	NextPageID string         `json:"next_page_id"`
	More       bool           `json:"more"`
}
