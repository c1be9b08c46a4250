package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

const (
	CurrencyPlaces = 2
	TokenPlaces    = 18
)

type PriceMeaning int

const (
	TokensPerUnit PriceMeaning = iota // tokens = amount * price
	UnitsPerToken                     // tokens = amount / price
)

func (m PriceMeaning) String() string {
	switch m {
	case TokensPerUnit:
		return "tokens_per_unit"
	case UnitsPerToken:
		return "units_per_token"
	default:
		return fmt.Sprintf("PriceMeaning(%d)", int(m))
	}
}

func ParsePriceMeaning(s string) (PriceMeaning, error) {
	switch s {
	case "tokens_per_unit", "tokensPerUnit":
		return TokensPerUnit, nil
	case "units_per_token", "unitsPerToken":
		return UnitsPerToken, nil
	}
	return 0, fmt.Errorf("%w: unknown price meaning %q", ErrInvalidConfiguration, s)
}

func (m PriceMeaning) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *PriceMeaning) UnmarshalText(text []byte) error {
	parsed, err := ParsePriceMeaning(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Tier is one pricing band. CumulativeCapacity is the absolute end boundary of the tier.
type Tier struct {
	Index              int             `json:"index"`
	Price              decimal.Decimal `json:"price"`
	Capacity           decimal.Decimal `json:"capacity"`
	CumulativeCapacity decimal.Decimal `json:"cumulative_capacity"`
}

type Band struct {
	Price    decimal.Decimal
	Capacity decimal.Decimal
}

// Schedule is immutable once built; Tiers returns a copy.
type Schedule struct {
	tiers   []Tier
	meaning PriceMeaning
}

type ScheduleConfig struct {
	TierCount    int
	StartPrice   decimal.Decimal
	EndPrice     decimal.Decimal
	TotalCap     decimal.Decimal
	PriceMeaning PriceMeaning
}

// interpolationPlaces keeps DivisionPrecision significant places below the
// finer of the two endpoint prices.
func interpolationPlaces(a, b decimal.Decimal) int32 {
	places := int32(0)
	for _, p := range []decimal.Decimal{a, b} {
		if e := -p.Exponent(); e > places {
			places = e
		}
	}
	return places + int32(decimal.DivisionPrecision)
}

// GenerateSchedule interpolates prices linearly between StartPrice and EndPrice and
// splits TotalCap evenly, rounded to cents. The rounding residual lands in the last
// tier so the capacities always add up to TotalCap.
func GenerateSchedule(cfg ScheduleConfig) (Schedule, error) {
	n := cfg.TierCount
	if n < 1 {
		return Schedule{}, fmt.Errorf("%w: tier count must be positive, got %d", ErrInvalidConfiguration, n)
	}
	if cfg.TotalCap.IsNegative() {
		return Schedule{}, fmt.Errorf("%w: total cap must not be negative, got %s", ErrInvalidConfiguration, cfg.TotalCap)
	}
	priceSpan := cfg.EndPrice.Sub(cfg.StartPrice)
	pricePlaces := interpolationPlaces(cfg.StartPrice, cfg.EndPrice)
	perTier := cfg.TotalCap.Div(decimal.NewFromInt(int64(n))).Round(CurrencyPlaces)

	tiers := make([]Tier, n)
	cumulative := decimal.Zero
	for i := 0; i < n; i++ {
		var price decimal.Decimal
		switch {
		case i == 0:
			price = cfg.StartPrice
		case i == n-1:
			price = cfg.EndPrice
		default:
			step := priceSpan.Mul(decimal.NewFromInt(int64(i))).DivRound(decimal.NewFromInt(int64(n-1)), pricePlaces)
			price = cfg.StartPrice.Add(step)
		}

		capacity := perTier
		if i == n-1 {
			// Residual of the per-tier rounding.
			capacity = cfg.TotalCap.Sub(cumulative)
		} else if room := cfg.TotalCap.Sub(cumulative); capacity.GreaterThan(room) {
			capacity = room
		}
		cumulative = cumulative.Add(capacity)

		tiers[i] = Tier{
			Index:              i,
			Price:              price,
			Capacity:           capacity,
			CumulativeCapacity: cumulative,
		}
	}
	return Schedule{tiers: tiers, meaning: cfg.PriceMeaning}, nil
}

// NewSchedule builds a schedule from explicit bands in order.
func NewSchedule(meaning PriceMeaning, bands ...Band) (Schedule, error) {
	if len(bands) == 0 {
		return Schedule{}, fmt.Errorf("%w: schedule needs at least one tier", ErrInvalidConfiguration)
	}
	tiers := make([]Tier, len(bands))
	cumulative := decimal.Zero
	for i, b := range bands {
		if b.Capacity.IsNegative() {
			return Schedule{}, fmt.Errorf("%w: tier %d has negative capacity %s", ErrInvalidConfiguration, i, b.Capacity)
		}
		cumulative = cumulative.Add(b.Capacity)
		tiers[i] = Tier{
			Index:              i,
			Price:              b.Price,
			Capacity:           b.Capacity,
			CumulativeCapacity: cumulative,
		}
	}
	return Schedule{tiers: tiers, meaning: meaning}, nil
}

func (s Schedule) Len() int {
	return len(s.tiers)
}

func (s Schedule) Meaning() PriceMeaning {
	return s.meaning
}

func (s Schedule) Tier(i int) Tier {
	return s.tiers[i]
}

func (s Schedule) Tiers() []Tier {
	out := make([]Tier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

// TotalCapacity is the hard cap of the schedule.
func (s Schedule) TotalCapacity() decimal.Decimal {
	if len(s.tiers) == 0 {
		return decimal.Zero
	}
	return s.tiers[len(s.tiers)-1].CumulativeCapacity
}

func (s Schedule) Equal(other Schedule) bool {
	if s.meaning != other.meaning || len(s.tiers) != len(other.tiers) {
		return false
	}
	for i, t := range s.tiers {
		o := other.tiers[i]
		if t.Index != o.Index || !t.Price.Equal(o.Price) || !t.Capacity.Equal(o.Capacity) || !t.CumulativeCapacity.Equal(o.CumulativeCapacity) {
			return false
		}
	}
	return true
}

func (s Schedule) validate() error {
	if len(s.tiers) == 0 {
		return fmt.Errorf("%w: empty schedule", ErrInvalidConfiguration)
	}
	return nil
}
