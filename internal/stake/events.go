package stake

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type OwnerSet struct {
	Manager common.Address `json:"manager"`
	Owner   common.Address `json:"owner"`
}

func (OwnerSet) EventName() string { return "OwnerSet" }

type StakeAdded struct {
	Manager      common.Address `json:"manager"`
	Owner        common.Address `json:"owner"`
	Token        common.Address `json:"token"`
	Stake        *big.Int       `json:"stake"`
	UnstakeDelay time.Duration  `json:"unstakeDelay"`
}

func (StakeAdded) EventName() string { return "StakeAdded" }

type StakeUnlocked struct {
	Manager      common.Address `json:"manager"`
	Owner        common.Address `json:"owner"`
	WithdrawTime time.Time      `json:"withdrawTime"`
}

func (StakeUnlocked) EventName() string { return "StakeUnlocked" }

type StakeWithdrawn struct {
	Manager common.Address `json:"manager"`
	Owner   common.Address `json:"owner"`
	Token   common.Address `json:"token"`
	Amount  *big.Int       `json:"amount"`
}

func (StakeWithdrawn) EventName() string { return "StakeWithdrawn" }

type StakePenalized struct {
	Manager     common.Address `json:"manager"`
	Beneficiary common.Address `json:"beneficiary"`
	Reward      *big.Int       `json:"reward"`
	Burned      *big.Int       `json:"burned"`
}

func (StakePenalized) EventName() string { return "StakePenalized" }

type StakeSlashed struct {
	Manager     common.Address `json:"manager"`
	Beneficiary common.Address `json:"beneficiary"`
	Amount      *big.Int       `json:"amount"`
	Remaining   *big.Int       `json:"remaining"`
}

func (StakeSlashed) EventName() string { return "StakeSlashed" }

type StakeEscheated struct {
	Manager  common.Address `json:"manager"`
	Caller   common.Address `json:"caller"`
	Treasury common.Address `json:"treasury"`
	Amount   *big.Int       `json:"amount"`
}

func (StakeEscheated) EventName() string { return "StakeEscheated" }
