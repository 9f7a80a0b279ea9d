package audit

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/chain"
)

const recipientABI = `[
	{"type":"function","name":"submitAudit","stateMutability":"nonpayable",
	 "inputs":[{"name":"templateId","type":"bytes32"},{"name":"subject","type":"address"},{"name":"reportUri","type":"string"},{"name":"auditorTier","type":"uint8"}],
	 "outputs":[{"name":"index","type":"uint256"}]},
	{"type":"function","name":"disputeAudit","stateMutability":"nonpayable",
	 "inputs":[{"name":"templateId","type":"bytes32"},{"name":"index","type":"uint256"},{"name":"reason","type":"string"}],
	 "outputs":[]}
]`

// Gas charged by the relayed entry points.
const (
	SubmitAuditGas  = 60000
	DisputeAuditGas = 40000
	gasPerByte      = 16
)

var (
	parsedABI abi.ABI

	// ErrUntrustedSender is returned when a relayed call does not come
	// through the trusted forwarder.
	ErrUntrustedSender = errors.New("audit: sender is not the trusted forwarder")
	// ErrUnknownMethod is returned for calldata with an unknown selector.
	ErrUnknownMethod = errors.New("audit: unknown method")
)

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(recipientABI))
	if err != nil {
		panic(fmt.Sprintf("audit: invalid recipient ABI: %v", err))
	}
}

// Recipient exposes submitAudit and disputeAudit to relayed calls. The
// signer recovered by the forwarder acts as the caller, so auditors can
// submit without holding native tokens.
type Recipient struct {
	registry  *Registry
	forwarder common.Address
}

var _ chain.Contract = (*Recipient)(nil)

// NewRecipient binds registry to calls arriving through forwarder.
func NewRecipient(registry *Registry, forwarder common.Address) *Recipient {
	return &Recipient{registry: registry, forwarder: forwarder}
}

// Call implements chain.Contract.
func (r *Recipient) Call(tx *chain.Tx, msg chain.Message) ([]byte, uint64, error) {
	if msg.Sender != r.forwarder {
		return nil, 0, ErrUntrustedSender
	}
	if len(msg.Data) < 4 {
		return nil, 0, ErrUnknownMethod
	}
	method, err := parsedABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, 0, ErrUnknownMethod
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, 0, fmt.Errorf("audit: failed to decode %s: %w", method.Name, err)
	}

	switch method.Name {
	case "submitAudit":
		uri, _ := args[2].(string)
		gas := uint64(SubmitAuditGas + gasPerByte*len(uri))
		if gas > msg.Gas {
			return nil, msg.Gas, chain.ErrOutOfGas
		}
		templateID, _ := args[0].([32]byte)
		subject, _ := args[1].(common.Address)
		tier, _ := args[3].(uint8)
		idx, err := r.registry.SubmitAudit(tx, msg.From, templateID, subject, uri, tier)
		if err != nil {
			return nil, gas, err
		}
		ret, err := method.Outputs.Pack(big.NewInt(int64(idx)))
		return ret, gas, err

	case "disputeAudit":
		reason, _ := args[2].(string)
		gas := uint64(DisputeAuditGas + gasPerByte*len(reason))
		if gas > msg.Gas {
			return nil, msg.Gas, chain.ErrOutOfGas
		}
		templateID, _ := args[0].([32]byte)
		index, _ := args[1].(*big.Int)
		if index == nil || !index.IsInt64() {
			return nil, gas, fmt.Errorf("audit: index out of range")
		}
		return nil, gas, r.registry.DisputeAudit(tx, msg.From, templateID, int(index.Int64()), reason)
	}
	return nil, 0, ErrUnknownMethod
}

// PackSubmitAudit encodes a relayed submitAudit call.
func PackSubmitAudit(templateID common.Hash, subject common.Address, reportURI string, auditorTier uint8) ([]byte, error) {
	return parsedABI.Pack("submitAudit", [32]byte(templateID), subject, reportURI, auditorTier)
}

// PackDisputeAudit encodes a relayed disputeAudit call.
func PackDisputeAudit(templateID common.Hash, index int, reason string) ([]byte, error) {
	return parsedABI.Pack("disputeAudit", [32]byte(templateID), big.NewInt(int64(index)), reason)
}
