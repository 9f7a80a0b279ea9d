package types

import (
	"fmt"
	"math/big"
	"strings"
)

// TierConfig describes one stake tier and what it unlocks.
type TierConfig struct {
	Level               uint8    `yaml:"level" json:"level"`
	Name                string   `yaml:"name" json:"name"`
	MinStake            *big.Int `yaml:"-" json:"-"`                                         // Minimum stake in base units
	MinStakeString      string   `yaml:"min_stake" json:"min_stake"`                         // String representation for config
	DiscountBps         uint16   `yaml:"discount_bps" json:"discount_bps"`                   // Paymaster gas discount
	RewardMultiplierBps uint16   `yaml:"reward_multiplier_bps" json:"reward_multiplier_bps"` // Audit reward multiplier
	RequestsPerSecond   float64  `yaml:"requests_per_second" json:"requests_per_second"`     // API rate limit
	Burst               int      `yaml:"burst" json:"burst"`
}

// ParseMinStake parses the min stake string to big.Int
func (c *TierConfig) ParseMinStake() error {
	if c.MinStakeString == "" {
		c.MinStake = big.NewInt(0)
		return nil
	}
	v, err := ParseAmount(c.MinStakeString)
	if err != nil {
		return fmt.Errorf("invalid min_stake value: %s", c.MinStakeString)
	}
	c.MinStake = v
	return nil
}

// DefaultTiers returns the default tier table: open access at tier 0,
// 100 MODL for tier 1 and 1,000 MODL for tier 2.
func DefaultTiers() []*TierConfig {
	return []*TierConfig{
		{
			Level:               0,
			Name:                "basic",
			MinStakeString:      "0",
			DiscountBps:         0,
			RewardMultiplierBps: 10000,
			RequestsPerSecond:   5,
			Burst:               10,
		},
		{
			Level:               1,
			Name:                "silver",
			MinStakeString:      "100000000000000000000", // 100 MODL (18 decimals)
			DiscountBps:         0,
			RewardMultiplierBps: 11000,
			RequestsPerSecond:   20,
			Burst:               40,
		},
		{
			Level:               2,
			Name:                "gold",
			MinStakeString:      "1000000000000000000000", // 1,000 MODL
			DiscountBps:         1500,
			RewardMultiplierBps: 12500,
			RequestsPerSecond:   100,
			Burst:               200,
		},
	}
}

// Thresholds extracts the parsed minimum stakes ordered by level.
func Thresholds(tiers []*TierConfig) []*big.Int {
	out := make([]*big.Int, len(tiers))
	for i, t := range tiers {
		if t.MinStake == nil {
			out[i] = new(big.Int)
			continue
		}
		out[i] = new(big.Int).Set(t.MinStake)
	}
	return out
}

// ParseAmount parses a base-unit integer, or a decimal with a unit suffix
// such as "1.5 ether", "100 modl" (18 decimals) or "2 gwei".
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	fields := strings.Fields(s)
	if len(fields) == 1 {
		v, ok := new(big.Int).SetString(fields[0], 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		return v, nil
	}
	if len(fields) != 2 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	switch strings.ToLower(fields[1]) {
	case "ether", "eth", "modl", "token", "tokens":
	case "gwei":
		return scaleDecimal(fields[0], 9)
	case "wei":
		return scaleDecimal(fields[0], 0)
	default:
		return nil, fmt.Errorf("unknown unit %q", fields[1])
	}
	return scaleDecimal(fields[0], 18)
}

func scaleDecimal(s string, decimals int) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q has too many decimals", s)
	}
	return new(big.Int).Set(r.Num()), nil
}
