package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ForwardRequest is the call a user signs. It is executed exactly once per
// (From, Nonce).
type ForwardRequest struct {
	From           common.Address `json:"from"`
	To             common.Address `json:"to"`
	Value          *big.Int       `json:"value"`
	Gas            uint64         `json:"gas"`
	Nonce          uint64         `json:"nonce"`
	Data           []byte         `json:"data"`
	ValidUntilTime int64          `json:"validUntilTime"` // unix seconds, 0 means no expiry
}

// RelayData is the relay-specific part of a request: who relays it, who
// pays for it and at what price.
type RelayData struct {
	MaxFeePerGas               *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas       *big.Int       `json:"maxPriorityFeePerGas"`
	BaseRelayFee               *big.Int       `json:"baseRelayFee"`
	PctRelayFee                uint64         `json:"pctRelayFee"`
	TransactionCalldataGasUsed uint64         `json:"transactionCalldataGasUsed"`
	RelayWorker                common.Address `json:"relayWorker"`
	Paymaster                  common.Address `json:"paymaster"`
	Forwarder                  common.Address `json:"forwarder"`
	PaymasterData              []byte         `json:"paymasterData"`
	ClientID                   *big.Int       `json:"clientId"`
}

// RelayRequest is a signed request plus its relay data.
type RelayRequest struct {
	Request   ForwardRequest `json:"request"`
	RelayData RelayData      `json:"relayData"`
}

// GasPrice is the effective gas price used to settle the relay.
func (d *RelayData) GasPrice() *big.Int {
	if d.MaxFeePerGas == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(d.MaxFeePerGas)
}

var (
	ForwardRequestTypeHash = crypto.Keccak256Hash([]byte(
		"ForwardRequest(address from,address to,uint256 value,uint256 gas,uint256 nonce,bytes data,uint256 validUntilTime)"))
	RelayDataTypeHash = crypto.Keccak256Hash([]byte(
		"RelayData(uint256 maxFeePerGas,uint256 maxPriorityFeePerGas,uint256 baseRelayFee,uint256 pctRelayFee,uint256 transactionCalldataGasUsed,address relayWorker,address paymaster,address forwarder,bytes paymasterData,uint256 clientId)"))
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
)

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)
)

func args(types ...abi.Type) abi.Arguments {
	out := make(abi.Arguments, len(types))
	for i, t := range types {
		out[i] = abi.Argument{Type: t}
	}
	return out
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func u256(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// Hash returns the struct hash of the forward request.
func (r *ForwardRequest) Hash() (common.Hash, error) {
	packed, err := args(bytes32T, addressT, addressT, uint256T, uint256T, uint256T, bytes32T, uint256T).Pack(
		ForwardRequestTypeHash,
		r.From,
		r.To,
		orZero(r.Value),
		u256(r.Gas),
		u256(r.Nonce),
		crypto.Keccak256Hash(r.Data),
		big.NewInt(r.ValidUntilTime),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode forward request: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// Hash returns the struct hash of the relay data.
func (d *RelayData) Hash() (common.Hash, error) {
	packed, err := args(bytes32T, uint256T, uint256T, uint256T, uint256T, uint256T, addressT, addressT, addressT, bytes32T, uint256T).Pack(
		RelayDataTypeHash,
		orZero(d.MaxFeePerGas),
		orZero(d.MaxPriorityFeePerGas),
		orZero(d.BaseRelayFee),
		u256(d.PctRelayFee),
		u256(d.TransactionCalldataGasUsed),
		d.RelayWorker,
		d.Paymaster,
		d.Forwarder,
		crypto.Keccak256Hash(d.PaymasterData),
		orZero(d.ClientID),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode relay data: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// DomainSeparator identifies the forwarder a signature is valid for.
func DomainSeparator(name, version string, chainID *big.Int, verifyingContract common.Address) common.Hash {
	packed, err := args(bytes32T, bytes32T, bytes32T, uint256T, addressT).Pack(
		domainTypeHash,
		crypto.Keccak256Hash([]byte(name)),
		crypto.Keccak256Hash([]byte(version)),
		orZero(chainID),
		verifyingContract,
	)
	if err != nil {
		// static types; packing can't fail
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}

// Digest is the hash a user signs: both struct hashes bound to a domain.
func (r *RelayRequest) Digest(domain common.Hash) (common.Hash, error) {
	reqHash, err := r.Request.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	dataHash, err := r.RelayData.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain.Bytes(), reqHash.Bytes(), dataHash.Bytes()), nil
}

// ErrBadSignature is returned for malformed signatures.
var ErrBadSignature = errors.New("malformed signature")

// SignRequest signs r for domain. The signature is 65 bytes with V in
// {27, 28}.
func SignRequest(key *ecdsa.PrivateKey, domain common.Hash, r *RelayRequest) ([]byte, error) {
	digest, err := r.Digest(domain)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign relay request: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over r.
func RecoverSigner(domain common.Hash, r *RelayRequest, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, ErrBadSignature
	}
	digest, err := r.Digest(domain)
	if err != nil {
		return common.Address{}, err
	}
	pubKey, err := crypto.Ecrecover(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return common.BytesToAddress(crypto.Keccak256(pubKey[1:])[12:]), nil
}
