package paymaster

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var contextArgs abi.Arguments

func init() {
	address, _ := abi.NewType("address", "", nil)
	uint256, _ := abi.NewType("uint256", "", nil)
	contextArgs = abi.Arguments{{Type: address}, {Type: uint256}, {Type: uint256}}
}

// callContext is what PreRelayedCall hands to PostRelayedCall through the
// hub.
type callContext struct {
	User      common.Address
	MaxCharge *big.Int
	MaxGas    uint64
}

func encodeContext(c callContext) ([]byte, error) {
	return contextArgs.Pack(c.User, c.MaxCharge, new(big.Int).SetUint64(c.MaxGas))
}

func decodeContext(data []byte) (callContext, error) {
	vals, err := contextArgs.Unpack(data)
	if err != nil {
		return callContext{}, fmt.Errorf("failed to decode paymaster context: %w", err)
	}
	user, ok1 := vals[0].(common.Address)
	maxCharge, ok2 := vals[1].(*big.Int)
	maxGas, ok3 := vals[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !maxGas.IsUint64() {
		return callContext{}, fmt.Errorf("malformed paymaster context")
	}
	return callContext{User: user, MaxCharge: maxCharge, MaxGas: maxGas.Uint64()}, nil
}
