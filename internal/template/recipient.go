package template

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/chain"
)

const recipientABI = `[
	{"type":"function","name":"registerTemplate","stateMutability":"nonpayable",
	 "inputs":[{"name":"implementation","type":"address"},{"name":"name","type":"string"},{"name":"version","type":"string"},{"name":"templateType","type":"uint8"}],
	 "outputs":[{"name":"templateId","type":"bytes32"}]}
]`

// RegisterTemplateGas is the base gas of a relayed registration.
const (
	RegisterTemplateGas = 50000
	gasPerByte          = 16
)

var (
	parsedABI abi.ABI

	ErrUntrustedSender = errors.New("template: sender is not the trusted forwarder")
	ErrUnknownMethod   = errors.New("template: unknown method")
)

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(recipientABI))
	if err != nil {
		panic(fmt.Sprintf("template: invalid recipient ABI: %v", err))
	}
}

// Recipient lets authors register templates through the relay.
type Recipient struct {
	registry  *Registry
	forwarder common.Address
}

var _ chain.Contract = (*Recipient)(nil)

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
	if err != nil || method.Name != "registerTemplate" {
		return nil, 0, ErrUnknownMethod
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, 0, fmt.Errorf("template: failed to decode %s: %w", method.Name, err)
	}

	impl, _ := args[0].(common.Address)
	name, _ := args[1].(string)
	version, _ := args[2].(string)
	kind, _ := args[3].(uint8)
	gas := uint64(RegisterTemplateGas + gasPerByte*(len(name)+len(version)))
	if gas > msg.Gas {
		return nil, msg.Gas, chain.ErrOutOfGas
	}
	id, err := r.registry.RegisterTemplate(tx, msg.From, impl, name, version, Kind(kind))
	if err != nil {
		return nil, gas, err
	}
	ret, err := method.Outputs.Pack([32]byte(id))
	return ret, gas, err
}

// PackRegisterTemplate encodes a relayed registerTemplate call.
func PackRegisterTemplate(implementation common.Address, name, version string, kind Kind) ([]byte, error) {
	return parsedABI.Pack("registerTemplate", implementation, name, version, uint8(kind))
}
