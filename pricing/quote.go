package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

type Position struct {
	TierIndex       int             `json:"tier_index"`
	RemainingInTier decimal.Decimal `json:"remaining_in_tier"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
}

type Allocation struct {
	TierIndex      int             `json:"tier_index"`
	AmountTaken    decimal.Decimal `json:"amount_taken"`
	PriceApplied   decimal.Decimal `json:"price_applied"`
	TokensReceived decimal.Decimal `json:"tokens_received"`
}

type Quote struct {
	Requested   decimal.Decimal `json:"requested"`
	Amount      decimal.Decimal `json:"amount"`      // Part of Requested placed into tiers.
	Unallocated decimal.Decimal `json:"unallocated"` // Part that did not fit into the schedule.
	TotalTokens decimal.Decimal `json:"total_tokens"`
	Breakdown   []Allocation    `json:"breakdown"`
}

func (q *Quote) PartiallyFilled() bool {
	return q.Unallocated.IsPositive()
}

// AmountFromFloat converts a user-entered amount; NaN, infinities and negatives become zero.
func AmountFromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// FindCurrentTier returns the tier the raise is currently filling. A total that sits
// exactly on a boundary belongs to the next tier. Once the schedule is exhausted the
// last tier is returned with nothing remaining.
func FindCurrentTier(totalRaised decimal.Decimal, schedule Schedule) (Position, error) {
	if err := schedule.validate(); err != nil {
		return Position{}, err
	}
	if totalRaised.IsNegative() {
		totalRaised = decimal.Zero
	}
	for _, t := range schedule.tiers {
		if totalRaised.LessThan(t.CumulativeCapacity) {
			return Position{
				TierIndex:       t.Index,
				RemainingInTier: t.CumulativeCapacity.Sub(totalRaised),
				CurrentPrice:    t.Price,
			}, nil
		}
	}
	last := schedule.tiers[len(schedule.tiers)-1]
	return Position{
		TierIndex:       last.Index,
		RemainingInTier: decimal.Zero,
		CurrentPrice:    last.Price,
	}, nil
}

func tokensFor(amount, price decimal.Decimal, meaning PriceMeaning) (decimal.Decimal, error) {
	switch meaning {
	case TokensPerUnit:
		return amount.Mul(price), nil
	case UnitsPerToken:
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: price %s cannot be used as units per token", ErrInvalidConfiguration, price)
		}
		return amount.DivRound(price, TokenPlaces), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown price meaning %d", ErrInvalidConfiguration, int(meaning))
	}
}

// QuoteContribution prices amount on top of totalRaised, splitting it across tiers
// when it crosses a boundary. Anything beyond the remaining schedule capacity is not
// priced and is reported as Unallocated.
func QuoteContribution(totalRaised, amount decimal.Decimal, schedule Schedule) (*Quote, error) {
	if err := schedule.validate(); err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if totalRaised.IsNegative() {
		totalRaised = decimal.Zero
	}

	q := &Quote{
		Requested:   amount,
		TotalTokens: decimal.Zero,
		Breakdown:   []Allocation{},
	}
	remaining := amount
	accumulated := totalRaised
	for _, t := range schedule.tiers {
		if !remaining.IsPositive() {
			break
		}
		if accumulated.GreaterThanOrEqual(t.CumulativeCapacity) {
			continue
		}
		take := decimal.Min(t.CumulativeCapacity.Sub(accumulated), remaining)
		tokens, err := tokensFor(take, t.Price, schedule.meaning)
		if err != nil {
			return nil, fmt.Errorf("tier %d: %w", t.Index, err)
		}
		q.TotalTokens = q.TotalTokens.Add(tokens)
		q.Breakdown = append(q.Breakdown, Allocation{
			TierIndex:      t.Index,
			AmountTaken:    take,
			PriceApplied:   t.Price,
			TokensReceived: tokens,
		})
		remaining = remaining.Sub(take)
		accumulated = accumulated.Add(take)
	}
	q.Amount = amount.Sub(remaining)
	q.Unallocated = remaining
	return q, nil
}
