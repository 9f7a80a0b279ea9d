package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrOutOfGas is returned when a contract reports more gas than it was given.
var ErrOutOfGas = errors.New("out of gas")

// Message is an inner call. Sender is the immediate caller (for relayed
// calls, the forwarder); From is the original signer.
type Message struct {
	Sender common.Address
	From   common.Address
	To     common.Address
	Value  *big.Int
	Data   []byte
	Gas    uint64
}

// Contract is executable code bound to an address. It reports the gas it
// consumed even when it fails.
type Contract interface {
	Call(tx *Tx, msg Message) (ret []byte, gasUsed uint64, err error)
}

// ContractFunc adapts a function to Contract.
type ContractFunc func(tx *Tx, msg Message) ([]byte, uint64, error)

// Call implements Contract.
func (f ContractFunc) Call(tx *Tx, msg Message) ([]byte, uint64, error) { return f(tx, msg) }

// CallResult is the outcome of an inner call.
type CallResult struct {
	Success    bool
	GasUsed    uint64
	ReturnData []byte
	Err        error
}

// Call executes msg in a nested checkpoint. A failing or panicking callee
// has its writes undone; the caller's transaction continues.
func (tx *Tx) Call(msg Message) CallResult {
	c, ok := tx.state.contracts[msg.To]
	if !ok {
		return CallResult{Success: true}
	}

	cp := tx.Checkpoint()
	ret, gasUsed, err := callGuarded(tx, c, msg)
	if err == nil && gasUsed > msg.Gas {
		err = ErrOutOfGas
	}
	if gasUsed > msg.Gas {
		gasUsed = msg.Gas
	}
	if err != nil {
		tx.RevertTo(cp)
		return CallResult{GasUsed: gasUsed, ReturnData: ret, Err: err}
	}
	return CallResult{Success: true, GasUsed: gasUsed, ReturnData: ret}
}

func callGuarded(tx *Tx, c Contract, msg Message) (ret []byte, gasUsed uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			ret, gasUsed, err = nil, msg.Gas, fmt.Errorf("call to %s panicked: %v", msg.To.Hex(), r)
		}
	}()
	return c.Call(tx, msg)
}
