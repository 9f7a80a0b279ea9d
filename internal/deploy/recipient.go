package deploy

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
	{"type":"function","name":"createProject","stateMutability":"nonpayable",
	 "inputs":[{"name":"name","type":"string"}],
	 "outputs":[{"name":"projectId","type":"uint256"}]},
	{"type":"function","name":"deleteProject","stateMutability":"nonpayable",
	 "inputs":[{"name":"projectId","type":"uint256"}],
	 "outputs":[]},
	{"type":"function","name":"deployTemplateToProject","stateMutability":"nonpayable",
	 "inputs":[{"name":"projectId","type":"uint256"},{"name":"templateId","type":"bytes32"},{"name":"initData","type":"bytes"},{"name":"metadata","type":"string"}],
	 "outputs":[{"name":"instance","type":"address"}]},
	{"type":"function","name":"deployWithFee","stateMutability":"nonpayable",
	 "inputs":[{"name":"templateId","type":"bytes32"},{"name":"initData","type":"bytes"}],
	 "outputs":[{"name":"instance","type":"address"}]}
]`

// Gas charged by the relayed entry points, before per-byte costs.
const (
	CreateProjectGas = 45000
	DeleteProjectGas = 30000
	DeployGas        = 90000
	gasPerByte       = 16
)

var (
	parsedABI abi.ABI

	ErrUntrustedSender = errors.New("deploy: sender is not the trusted forwarder")
	ErrUnknownMethod   = errors.New("deploy: unknown method")
	errBadProjectID    = errors.New("deploy: project id out of range")
)

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(recipientABI))
	if err != nil {
		panic(fmt.Sprintf("deploy: invalid recipient ABI: %v", err))
	}
}

// Recipient exposes project and deployment calls to relayed requests, so
// users deploy without holding native tokens. The fee is still paid in
// MODL from the signer's allowance.
type Recipient struct {
	manager   *Manager
	forwarder common.Address
}

var _ chain.Contract = (*Recipient)(nil)

func NewRecipient(manager *Manager, forwarder common.Address) *Recipient {
	return &Recipient{manager: manager, forwarder: forwarder}
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
		return nil, 0, fmt.Errorf("deploy: failed to decode %s: %w", method.Name, err)
	}
	charge := func(base, size int) (uint64, error) {
		gas := uint64(base + gasPerByte*size)
		if gas > msg.Gas {
			return msg.Gas, chain.ErrOutOfGas
		}
		return gas, nil
	}

	switch method.Name {
	case "createProject":
		name, _ := args[0].(string)
		gas, err := charge(CreateProjectGas, len(name))
		if err != nil {
			return nil, gas, err
		}
		id, err := r.manager.CreateProject(tx, msg.From, name)
		if err != nil {
			return nil, gas, err
		}
		ret, err := method.Outputs.Pack(new(big.Int).SetUint64(id))
		return ret, gas, err

	case "deleteProject":
		gas, err := charge(DeleteProjectGas, 0)
		if err != nil {
			return nil, gas, err
		}
		id, err := projectID(args[0])
		if err != nil {
			return nil, gas, err
		}
		return nil, gas, r.manager.DeleteProject(tx, msg.From, id)

	case "deployTemplateToProject":
		initData, _ := args[2].([]byte)
		metadata, _ := args[3].(string)
		gas, err := charge(DeployGas, len(initData)+len(metadata))
		if err != nil {
			return nil, gas, err
		}
		id, err := projectID(args[0])
		if err != nil {
			return nil, gas, err
		}
		templateID, _ := args[1].([32]byte)
		mod, err := r.manager.DeployTemplateToProject(tx, msg.From, id, templateID, initData, metadata)
		if err != nil {
			return nil, gas, err
		}
		ret, err := method.Outputs.Pack(mod.Instance)
		return ret, gas, err

	case "deployWithFee":
		initData, _ := args[1].([]byte)
		gas, err := charge(DeployGas, len(initData))
		if err != nil {
			return nil, gas, err
		}
		templateID, _ := args[0].([32]byte)
		d, err := r.manager.DeployWithFee(tx, msg.From, templateID, initData)
		if err != nil {
			return nil, gas, err
		}
		ret, err := method.Outputs.Pack(d.Instance)
		return ret, gas, err
	}
	return nil, 0, ErrUnknownMethod
}

func projectID(arg any) (uint64, error) {
	v, _ := arg.(*big.Int)
	if v == nil || !v.IsUint64() {
		return 0, errBadProjectID
	}
	return v.Uint64(), nil
}

// PackCreateProject encodes a relayed createProject call.
func PackCreateProject(name string) ([]byte, error) {
	return parsedABI.Pack("createProject", name)
}

// PackDeleteProject encodes a relayed deleteProject call.
func PackDeleteProject(id uint64) ([]byte, error) {
	return parsedABI.Pack("deleteProject", new(big.Int).SetUint64(id))
}

// PackDeployTemplateToProject encodes a relayed deployTemplateToProject call.
func PackDeployTemplateToProject(id uint64, templateID common.Hash, initData []byte, metadata string) ([]byte, error) {
	return parsedABI.Pack("deployTemplateToProject", new(big.Int).SetUint64(id), [32]byte(templateID), initData, metadata)
}

// PackDeployWithFee encodes a relayed deployWithFee call.
func PackDeployWithFee(templateID common.Hash, initData []byte) ([]byte, error) {
	return parsedABI.Pack("deployWithFee", [32]byte(templateID), initData)
}
