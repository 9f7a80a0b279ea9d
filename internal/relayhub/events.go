package relayhub

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Status is the outcome of a relayed call.
type Status uint8

const (
	StatusOK Status = iota
	StatusRelayedCallFailed
	StatusPostRelayedFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusRelayedCallFailed:
		return "RelayedCallFailed"
	case StatusPostRelayedFailed:
		return "PostRelayedFailed"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for _, v := range []Status{StatusOK, StatusRelayedCallFailed, StatusPostRelayedFailed} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown relay status %q", text)
}

type RelayWorkersAdded struct {
	Manager     common.Address   `json:"manager"`
	NewWorkers  []common.Address `json:"newWorkers"`
	WorkerCount int              `json:"workerCount"`
}

func (RelayWorkersAdded) EventName() string { return "RelayWorkersAdded" }

type Deposited struct {
	Paymaster common.Address `json:"paymaster"`
	From      common.Address `json:"from"`
	Amount    *big.Int       `json:"amount"`
}

func (Deposited) EventName() string { return "Deposited" }

type Withdrawn struct {
	Account common.Address `json:"account"`
	Dest    common.Address `json:"dest"`
	Amount  *big.Int       `json:"amount"`
}

func (Withdrawn) EventName() string { return "Withdrawn" }

type TransactionRelayed struct {
	RelayManager common.Address `json:"relayManager"`
	RelayWorker  common.Address `json:"relayWorker"`
	From         common.Address `json:"from"`
	To           common.Address `json:"to"`
	Paymaster    common.Address `json:"paymaster"`
	Selector     hexutil.Bytes  `json:"selector"`
	InnerGasUsed uint64         `json:"innerGasUsed"`
	GasUsed      uint64         `json:"gasUsed"`
	Charge       *big.Int       `json:"charge"`
	Status       Status         `json:"status"`
}

func (TransactionRelayed) EventName() string { return "TransactionRelayed" }

type TransactionResult struct {
	Status      Status        `json:"status"`
	ReturnValue hexutil.Bytes `json:"returnValue"`
	Reason      string        `json:"reason"`
}

func (TransactionResult) EventName() string { return "TransactionResult" }

type HubDeprecated struct {
	DeprecationTime time.Time `json:"deprecationTime"`
}

func (HubDeprecated) EventName() string { return "HubDeprecated" }

type ConfigUpdated struct {
	Version uint64 `json:"version"`
}

func (ConfigUpdated) EventName() string { return "ConfigUpdated" }

type MinimumStakeSet struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

func (MinimumStakeSet) EventName() string { return "MinimumStakeSet" }
