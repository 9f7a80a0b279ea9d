package paymaster

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GasCharge is emitted when a relayed call is settled against a user's
// deposit.
type GasCharge struct {
	User    common.Address `json:"user"`
	Charge  *big.Int       `json:"charge"`
	Refund  *big.Int       `json:"refund"`
	Success bool           `json:"success"`
}

func (GasCharge) EventName() string { return "GasCharge" }

type TokensDeposited struct {
	User   common.Address `json:"user"`
	Amount *big.Int       `json:"amount"`
}

func (TokensDeposited) EventName() string { return "TokensDeposited" }

type TokensWithdrawn struct {
	User   common.Address `json:"user"`
	Amount *big.Int       `json:"amount"`
}

func (TokensWithdrawn) EventName() string { return "TokensWithdrawn" }

type TokensRecovered struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (TokensRecovered) EventName() string { return "TokensRecovered" }

type RevenueSwept struct {
	Amount *big.Int `json:"amount"`
}

func (RevenueSwept) EventName() string { return "RevenueSwept" }

type ParamsUpdated struct {
	Version uint64 `json:"version"`
	Field   string `json:"field"`
}

func (ParamsUpdated) EventName() string { return "PaymasterParamsUpdated" }
