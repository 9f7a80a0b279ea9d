package relayhub

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/pkg/types"
)

// GasAndDataLimits are the limits a paymaster declares to relay workers.
type GasAndDataLimits struct {
	// AcceptanceBudget is the gas a worker risks before the paymaster
	// commits to paying.
	AcceptanceBudget        uint64 `json:"acceptanceBudget"`
	PreRelayedCallGasLimit  uint64 `json:"preRelayedCallGasLimit"`
	PostRelayedCallGasLimit uint64 `json:"postRelayedCallGasLimit"`
	CalldataSizeLimit       uint64 `json:"calldataSizeLimit"`
}

// Paymaster sponsors relayed calls. The hub only knows this interface.
type Paymaster interface {
	Address() common.Address
	TrustedForwarder() common.Address
	GasAndDataLimits() GasAndDataLimits

	// PreRelayedCall authorizes req and returns an opaque context handed
	// back to PostRelayedCall. An error rejects the whole relay.
	PreRelayedCall(tx *chain.Tx, req *types.RelayRequest, approvalData []byte, maxPossibleGas uint64) ([]byte, error)

	// PostRelayedCall settles the call. An error undoes the inner call
	// but the paymaster is still charged by the hub.
	PostRelayedCall(tx *chain.Tx, context []byte, success bool, gasUsed uint64, relayData *types.RelayData) error
}

// Forwarder verifies requests and executes them for their signer.
type Forwarder interface {
	Address() common.Address
	Verify(req *types.RelayRequest, sig []byte) error
	UseNonce(tx *chain.Tx, req *types.RelayRequest, sig []byte) error
	Call(tx *chain.Tx, req *types.RelayRequest) chain.CallResult
}
