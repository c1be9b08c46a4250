package app

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/moonship/presale/pricing"
	"gopkg.in/yaml.v3"
)

// PresaleConfig describes the token, the tier schedule and the airdrop. It is read
// from a YAML file; missing values fall back to the MoonShip launch parameters.
type PresaleConfig struct {
	Token struct {
		Name        string `yaml:"name"`
		Symbol      string `yaml:"symbol"`
		Decimals    int    `yaml:"decimals"`
		TotalSupply int64  `yaml:"total_supply"`
	} `yaml:"token"`
	Presale struct {
		Tiers            int                  `yaml:"tiers"`
		StartPrice       string               `yaml:"start_price"`
		EndPrice         string               `yaml:"end_price"`
		TotalCap         string               `yaml:"total_cap"`
		PriceMeaning     pricing.PriceMeaning `yaml:"price_meaning"`
		SoftCap          string               `yaml:"soft_cap"`
		LiquidityPercent int                  `yaml:"liquidity_percent"`
		Accepted         []string             `yaml:"accepted"`
		InitialRaised    string               `yaml:"initial_raised"`
	} `yaml:"presale"`
	Airdrop struct {
		DropTime time.Time `yaml:"drop_time"`
		Note     string    `yaml:"note"`
	} `yaml:"airdrop"`
	Socials struct {
		Twitter  string `yaml:"twitter"`
		Telegram string `yaml:"telegram"`
		Website  string `yaml:"website"`
	} `yaml:"socials"`
}

var defaultDropTime = time.Date(2025, time.October, 2, 0, 0, 0, 0, time.UTC)

func newPresaleConfig() *PresaleConfig {
	cfg := &PresaleConfig{}
	cfg.Presale.PriceMeaning = pricing.UnitsPerToken
	return cfg
}

// LoadPresaleConfig reads path (a missing file is fine), applies environment
// overrides and fills defaults.
func LoadPresaleConfig(path string) (*PresaleConfig, error) {
	cfg := newPresaleConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read presale config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse presale config: %w", err)
			}
		}
	}

	if v := os.Getenv("PRESALE_INITIAL_RAISED"); v != "" {
		cfg.Presale.InitialRaised = v
	}
	if v := os.Getenv("PRESALE_SOFT_CAP"); v != "" {
		cfg.Presale.SoftCap = v
	}
	if v := os.Getenv("AIRDROP_DROP_TIME"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("AIRDROP_DROP_TIME: %w", err)
		}
		cfg.Airdrop.DropTime = t
	}

	if cfg.Token.Name == "" {
		cfg.Token.Name = "MoonShip"
	}
	if cfg.Token.Symbol == "" {
		cfg.Token.Symbol = "MSHP"
	}
	if cfg.Token.Decimals == 0 {
		cfg.Token.Decimals = 9
	}
	if cfg.Token.TotalSupply == 0 {
		cfg.Token.TotalSupply = 1_000_000_000
	}
	if cfg.Presale.Tiers == 0 {
		cfg.Presale.Tiers = 30
	}
	if cfg.Presale.StartPrice == "" {
		cfg.Presale.StartPrice = "0.05"
	}
	if cfg.Presale.EndPrice == "" {
		cfg.Presale.EndPrice = "0.20"
	}
	if cfg.Presale.TotalCap == "" {
		cfg.Presale.TotalCap = "30000000"
	}
	if cfg.Presale.SoftCap == "" {
		cfg.Presale.SoftCap = "500000"
	}
	if cfg.Presale.LiquidityPercent == 0 {
		cfg.Presale.LiquidityPercent = 60
	}
	if len(cfg.Presale.Accepted) == 0 {
		cfg.Presale.Accepted = []string{"USDC"}
	}
	if cfg.Presale.InitialRaised == "" {
		cfg.Presale.InitialRaised = "12870000"
	}
	if cfg.Airdrop.DropTime.IsZero() {
		cfg.Airdrop.DropTime = defaultDropTime
	}
	if cfg.Airdrop.Note == "" {
		cfg.Airdrop.Note = "All allocations will be airdropped directly to contributor wallets. No claim is required."
	}

	return cfg, nil
}

func parseAmount(name, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("presale.%s: %w", name, err)
	}
	return d, nil
}

// ScheduleConfig converts the presale section into the engine configuration.
func (c *PresaleConfig) ScheduleConfig() (pricing.ScheduleConfig, error) {
	startPrice, err := parseAmount("start_price", c.Presale.StartPrice)
	if err != nil {
		return pricing.ScheduleConfig{}, err
	}
	endPrice, err := parseAmount("end_price", c.Presale.EndPrice)
	if err != nil {
		return pricing.ScheduleConfig{}, err
	}
	totalCap, err := parseAmount("total_cap", c.Presale.TotalCap)
	if err != nil {
		return pricing.ScheduleConfig{}, err
	}
	return pricing.ScheduleConfig{
		TierCount:    c.Presale.Tiers,
		StartPrice:   startPrice,
		EndPrice:     endPrice,
		TotalCap:     totalCap,
		PriceMeaning: c.Presale.PriceMeaning,
	}, nil
}

func (c *PresaleConfig) Currency() string {
	return c.Presale.Accepted[0]
}

// Validate checks the values the service cannot run without.
func (c *PresaleConfig) Validate() error {
	if c.Presale.Tiers < 1 {
		return fmt.Errorf("presale.tiers must be positive")
	}
	sc, err := c.ScheduleConfig()
	if err != nil {
		return err
	}
	if sc.TotalCap.IsNegative() {
		return fmt.Errorf("presale.total_cap must not be negative")
	}
	softCap, err := parseAmount("soft_cap", c.Presale.SoftCap)
	if err != nil {
		return err
	}
	if softCap.GreaterThan(sc.TotalCap) {
		return fmt.Errorf("presale.soft_cap %s exceeds presale.total_cap %s", softCap, sc.TotalCap)
	}
	initial, err := parseAmount("initial_raised", c.Presale.InitialRaised)
	if err != nil {
		return err
	}
	if initial.IsNegative() || initial.GreaterThan(sc.TotalCap) {
		return fmt.Errorf("presale.initial_raised %s must be within [0, %s]", initial, sc.TotalCap)
	}
	if sc.PriceMeaning == pricing.UnitsPerToken && (!sc.StartPrice.IsPositive() || !sc.EndPrice.IsPositive()) {
		return fmt.Errorf("prices must be positive when price_meaning is %s", sc.PriceMeaning)
	}
	if c.Presale.LiquidityPercent < 0 || c.Presale.LiquidityPercent > 100 {
		return fmt.Errorf("presale.liquidity_percent must be within [0, 100]")
	}
	return nil
}
