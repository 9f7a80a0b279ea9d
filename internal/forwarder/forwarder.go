// Package forwarder verifies signed relay requests and executes them on
// behalf of their signer, consuming one nonce per request.
package forwarder

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/token"
	"github.com/modlnet/modl/pkg/types"
)

const (
	DomainName    = "MODL Forwarder"
	DomainVersion = "1"
)

// Forwarder is the trusted forwarder.
type Forwarder struct {
	address common.Address
	domain  common.Hash
	native  *token.Ledger
	nonces  map[common.Address]uint64
}

// New creates a forwarder bound to chainID. native moves request values;
// it may be nil if requests never carry value.
func New(address common.Address, chainID *big.Int, native *token.Ledger) *Forwarder {
	return &Forwarder{
		address: address,
		domain:  types.DomainSeparator(DomainName, DomainVersion, chainID, address),
		native:  native,
		nonces:  make(map[common.Address]uint64),
	}
}

// Address returns the forwarder's address.
func (f *Forwarder) Address() common.Address { return f.address }

// DomainSeparator returns the domain requests must be signed for.
func (f *Forwarder) DomainSeparator() common.Hash { return f.domain }

// GetNonce returns the next nonce expected from from.
func (f *Forwarder) GetNonce(from common.Address) uint64 { return f.nonces[from] }

// Verify checks the nonce and signature without changing state.
func (f *Forwarder) Verify(req *types.RelayRequest, sig []byte) error {
	if req.RelayData.Forwarder != f.address {
		return reverts.Wrapf(reverts.ErrUntrustedForwarder, "request names %s", req.RelayData.Forwarder.Hex())
	}
	if want := f.nonces[req.Request.From]; req.Request.Nonce != want {
		return reverts.Wrapf(reverts.ErrInvalidNonce, "got %d, want %d", req.Request.Nonce, want)
	}
	signer, err := types.RecoverSigner(f.domain, req, sig)
	if err != nil {
		if errors.Is(err, types.ErrBadSignature) {
			return reverts.Wrapf(reverts.ErrInvalidSignature, "%v", err)
		}
		return err
	}
	if signer != req.Request.From {
		return reverts.Wrapf(reverts.ErrInvalidSignature, "signed by %s", signer.Hex())
	}
	return nil
}

// UseNonce verifies req and consumes its nonce.
func (f *Forwarder) UseNonce(tx *chain.Tx, req *types.RelayRequest, sig []byte) error {
	if err := f.Verify(req, sig); err != nil {
		return err
	}
	chain.Set(tx, f.nonces, req.Request.From, req.Request.Nonce+1)
	return nil
}

// Call runs an already verified request against its target with the signer
// as the original sender. A failing target has its effects, including any
// value transfer, undone and is reported in the CallResult.
func (f *Forwarder) Call(tx *chain.Tx, req *types.RelayRequest) chain.CallResult {
	r := req.Request
	cp := tx.Checkpoint()
	if r.Value != nil && r.Value.Sign() > 0 {
		if f.native == nil {
			tx.RevertTo(cp)
			return chain.CallResult{Err: errors.New("value transfer not supported")}
		}
		if err := f.native.Transfer(tx, r.From, r.To, r.Value); err != nil {
			tx.RevertTo(cp)
			return chain.CallResult{Err: err}
		}
	}
	res := tx.Call(chain.Message{
		Sender: f.address,
		From:   r.From,
		To:     r.To,
		Value:  r.Value,
		Data:   r.Data,
		Gas:    r.Gas,
	})
	if !res.Success {
		tx.RevertTo(cp)
	}
	return res
}

// Execute is UseNonce followed by Call. The nonce stays consumed when the
// target fails.
func (f *Forwarder) Execute(tx *chain.Tx, req *types.RelayRequest, sig []byte) (chain.CallResult, error) {
	if err := f.UseNonce(tx, req, sig); err != nil {
		return chain.CallResult{}, err
	}
	return f.Call(tx, req), nil
}
