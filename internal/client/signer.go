package client

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/modlnet/modl/internal/api"
	"github.com/modlnet/modl/internal/identity"
	"github.com/modlnet/modl/pkg/types"
)

// Signer holds the key a user signs relay requests with.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps an existing key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// SignerFromHex parses a hex private key, with or without 0x.
func SignerFromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSigner(key), nil
}

// SignerFromWallet unlocks w's key.
func SignerFromWallet(w *identity.Wallet, password string) (*Signer, error) {
	key, err := w.PrivateKey(password)
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// Address returns the signing account.
func (s *Signer) Address() common.Address {
	return s.address
}

// Call describes the inner call a user wants relayed.
type Call struct {
	To    common.Address
	Data  []byte
	Gas   uint64
	Value *big.Int
	// ValidUntilTime is a unix time after which the hub refuses the
	// request. Zero means no expiry.
	ValidUntilTime int64
}

// Build fills a relay request for call from the node's advertised
// configuration, priced at the lowest fee the node accepts.
func (s *Signer) Build(cfg *api.RelayConfigResponse, nonce uint64, call Call) *types.RelayRequest {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	rd := types.RelayData{
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(1),
		PctRelayFee:          cfg.HubConfig.PctRelayFee,
		RelayWorker:          cfg.Worker,
		Paymaster:            cfg.Paymaster,
		Forwarder:            cfg.Forwarder,
	}
	if cfg.HubConfig.BaseRelayFee != nil && cfg.HubConfig.BaseRelayFee.Sign() > 0 {
		rd.BaseRelayFee = new(big.Int).Set(cfg.HubConfig.BaseRelayFee)
	}
	return &types.RelayRequest{
		Request: types.ForwardRequest{
			From:           s.address,
			To:             call.To,
			Value:          value,
			Gas:            call.Gas,
			Nonce:          nonce,
			Data:           call.Data,
			ValidUntilTime: call.ValidUntilTime,
		},
		RelayData: rd,
	}
}

// Sign signs req under domain.
func (s *Signer) Sign(domain common.Hash, req *types.RelayRequest) ([]byte, error) {
	return types.SignRequest(s.key, domain, req)
}
