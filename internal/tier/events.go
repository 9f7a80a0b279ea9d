package tier

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type Staked struct {
	User   common.Address `json:"user"`
	Amount *big.Int       `json:"amount"`
	Total  *big.Int       `json:"total"`
}

func (Staked) EventName() string { return "Staked" }

type Unstaked struct {
	User   common.Address `json:"user"`
	Amount *big.Int       `json:"amount"`
	Total  *big.Int       `json:"total"`
}

func (Unstaked) EventName() string { return "Unstaked" }

type TierChanged struct {
	User    common.Address `json:"user"`
	OldTier uint8          `json:"oldTier"`
	NewTier uint8          `json:"newTier"`
}

func (TierChanged) EventName() string { return "TierChanged" }

type BadgeMinted struct {
	Owner   common.Address `json:"owner"`
	BadgeID uint64         `json:"badgeId"`
	Tier    uint8          `json:"tier"`
	URI     string         `json:"uri"`
}

func (BadgeMinted) EventName() string { return "BadgeMinted" }

type BadgeUpdated struct {
	Owner   common.Address `json:"owner"`
	BadgeID uint64         `json:"badgeId"`
	Tier    uint8          `json:"tier"`
	URI     string         `json:"uri"`
}

func (BadgeUpdated) EventName() string { return "BadgeUpdated" }

type ThresholdsUpdated struct {
	Version    uint64     `json:"version"`
	Thresholds []*big.Int `json:"thresholds"`
}

func (ThresholdsUpdated) EventName() string { return "ThresholdsUpdated" }
