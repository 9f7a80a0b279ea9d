// Package token implements ERC20-style balance ledgers on top of the chain
// journal.
package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/reverts"
)

// NativeAddress identifies the native currency ledger.
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Transfer is emitted on every balance move, including mint (From is zero)
// and burn (To is zero).
type Transfer struct {
	Token common.Address `json:"token"`
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
}

func (Transfer) EventName() string { return "Transfer" }

// Approval is emitted when an allowance is set.
type Approval struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *big.Int       `json:"value"`
}

func (Approval) EventName() string { return "Approval" }

type allowanceKey struct {
	owner, spender common.Address
}

// Ledger is a single fungible token. Stored *big.Int values are never
// mutated in place; every write stores a fresh value so the journal can
// restore the old one.
type Ledger struct {
	address  common.Address
	name     string
	symbol   string
	decimals uint8

	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	minted     *big.Int
	burned     *big.Int
}

// NewLedger creates an empty token ledger.
func NewLedger(address common.Address, name, symbol string, decimals uint8) *Ledger {
	return &Ledger{
		address:    address,
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		minted:     new(big.Int),
		burned:     new(big.Int),
	}
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Name() string            { return l.name }
func (l *Ledger) Symbol() string          { return l.symbol }
func (l *Ledger) Decimals() uint8         { return l.decimals }

// BalanceOf returns a copy of acct's balance.
func (l *Ledger) BalanceOf(acct common.Address) *big.Int {
	if b, ok := l.balances[acct]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns a copy of the amount spender may move from owner.
func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// TotalSupply is minted minus burned.
func (l *Ledger) TotalSupply() *big.Int {
	return new(big.Int).Sub(l.minted, l.burned)
}

// Minted returns the cumulative amount minted.
func (l *Ledger) Minted() *big.Int { return new(big.Int).Set(l.minted) }

// Burned returns the cumulative amount burned.
func (l *Ledger) Burned() *big.Int { return new(big.Int).Set(l.burned) }

// SumBalances adds up every balance. TotalSupply must always equal it.
func (l *Ledger) SumBalances() *big.Int {
	sum := new(big.Int)
	for _, b := range l.balances {
		sum.Add(sum, b)
	}
	return sum
}

// Holders returns every account with a non-zero balance.
func (l *Ledger) Holders() []common.Address {
	out := make([]common.Address, 0, len(l.balances))
	for a, b := range l.balances {
		if b.Sign() > 0 {
			out = append(out, a)
		}
	}
	return out
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(tx *chain.Tx, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return reverts.Wrapf(reverts.ErrZeroAmount, "negative transfer")
	}
	bal := l.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return reverts.Wrapf(reverts.ErrInsufficientBalance, "%s has %s %s, needs %s", from.Hex(), bal, l.symbol, amount)
	}
	if amount.Sign() > 0 && from != to {
		chain.Set(tx, l.balances, from, new(big.Int).Sub(bal, amount))
		chain.Set(tx, l.balances, to, new(big.Int).Add(l.BalanceOf(to), amount))
	}
	tx.Emit(Transfer{Token: l.address, From: from, To: to, Value: new(big.Int).Set(amount)})
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (l *Ledger) Approve(tx *chain.Tx, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return reverts.Wrapf(reverts.ErrZeroAmount, "negative allowance")
	}
	chain.Set(tx, l.allowances, allowanceKey{owner, spender}, new(big.Int).Set(amount))
	tx.Emit(Approval{Token: l.address, Owner: owner, Spender: spender, Value: new(big.Int).Set(amount)})
	return nil
}

// TransferFrom moves amount from from to to using spender's allowance.
func (l *Ledger) TransferFrom(tx *chain.Tx, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return reverts.Wrapf(reverts.ErrZeroAmount, "negative transfer")
	}
	allowed := l.Allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return reverts.Wrapf(reverts.ErrInsufficientAllowance, "%s allows %s %s, needs %s", from.Hex(), allowed, l.symbol, amount)
	}
	if err := l.Transfer(tx, from, to, amount); err != nil {
		return err
	}
	chain.Set(tx, l.allowances, allowanceKey{from, spender}, new(big.Int).Sub(allowed, amount))
	return nil
}

// Mint creates amount new tokens for to.
func (l *Ledger) Mint(tx *chain.Tx, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroAmount
	}
	chain.Set(tx, l.balances, to, new(big.Int).Add(l.BalanceOf(to), amount))
	chain.Assign(tx, &l.minted, new(big.Int).Add(l.minted, amount))
	tx.Emit(Transfer{Token: l.address, To: to, Value: new(big.Int).Set(amount)})
	return nil
}

// Burn destroys amount of from's tokens.
func (l *Ledger) Burn(tx *chain.Tx, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroAmount
	}
	bal := l.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return reverts.Wrapf(reverts.ErrInsufficientBalance, "burn %s from %s", amount, from.Hex())
	}
	chain.Set(tx, l.balances, from, new(big.Int).Sub(bal, amount))
	chain.Assign(tx, &l.burned, new(big.Int).Add(l.burned, amount))
	tx.Emit(Transfer{Token: l.address, From: from, Value: new(big.Int).Set(amount)})
	return nil
}
