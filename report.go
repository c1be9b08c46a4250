package presale

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"gitlab.com/moonship/presale/common"
)

func humanAmount(d decimal.Decimal) string {
	return humanize.CommafWithDigits(d.InexactFloat64(), 2)
}

func formatReport(p *common.Progress, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "raised %s / %s %s (%s%%)", humanAmount(p.TotalRaised), humanAmount(p.HardCap), currency, p.Percent.StringFixed(2))
	if p.HardCapReached {
		b.WriteString(", hard cap reached")
	} else {
		fmt.Fprintf(&b, ", tier %d at %s, %s left in tier", p.Tier.TierIndex+1, p.Tier.CurrentPrice, humanAmount(p.Tier.RemainingInTier))
	}
	if p.SoftCapReached {
		b.WriteString(", soft cap reached")
	}
	if p.Airdrop.Started {
		b.WriteString(", airdrop started")
	} else {
		fmt.Fprintf(&b, ", airdrop in %s", p.Airdrop.TimeTillDrop.Round(time.Minute))
	}
	return b.String()
}
