package token

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/reverts"
)

var (
	alice   = common.HexToAddress("0xa11ce")
	bob     = common.HexToAddress("0xb0b")
	spender = common.HexToAddress("0x5e4d")
)

func setup(t *testing.T) (*chain.State, *Ledger) {
	t.Helper()
	s := chain.NewState(time.Unix(1_700_000_000, 0))
	l := NewLedger(common.HexToAddress("0x70c"), "Modl", "MODL", 18)
	if _, err := s.Exec(alice, func(tx *chain.Tx) error {
		return l.Mint(tx, alice, big.NewInt(1000))
	}); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	return s, l
}

func TestLedger_Transfer(t *testing.T) {
	s, l := setup(t)

	_, err := s.Exec(alice, func(tx *chain.Tx) error {
		return l.Transfer(tx, alice, bob, big.NewInt(300))
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if l.BalanceOf(alice).Int64() != 700 || l.BalanceOf(bob).Int64() != 300 {
		t.Errorf("unexpected balances: alice=%s bob=%s", l.BalanceOf(alice), l.BalanceOf(bob))
	}

	_, err = s.Exec(bob, func(tx *chain.Tx) error {
		return l.Transfer(tx, bob, alice, big.NewInt(301))
	})
	if !errors.Is(err, reverts.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestLedger_TransferFrom(t *testing.T) {
	s, l := setup(t)

	_, err := s.Exec(spender, func(tx *chain.Tx) error {
		return l.TransferFrom(tx, spender, alice, bob, big.NewInt(10))
	})
	if !errors.Is(err, reverts.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	_, err = s.Exec(alice, func(tx *chain.Tx) error {
		if err := l.Approve(tx, alice, spender, big.NewInt(100)); err != nil {
			return err
		}
		return l.TransferFrom(tx, spender, alice, bob, big.NewInt(60))
	})
	if err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}
	if got := l.Allowance(alice, spender).Int64(); got != 40 {
		t.Errorf("allowance = %d, want 40", got)
	}
	if got := l.BalanceOf(bob).Int64(); got != 60 {
		t.Errorf("bob = %d, want 60", got)
	}
}

func TestLedger_RevertRestoresBalances(t *testing.T) {
	s, l := setup(t)

	_, err := s.Exec(alice, func(tx *chain.Tx) error {
		if err := l.Transfer(tx, alice, bob, big.NewInt(500)); err != nil {
			return err
		}
		return l.Transfer(tx, bob, alice, big.NewInt(501))
	})
	if err == nil {
		t.Fatal("expected second transfer to fail")
	}
	if l.BalanceOf(alice).Int64() != 1000 || l.BalanceOf(bob).Sign() != 0 {
		t.Errorf("expected balances to be restored: alice=%s bob=%s", l.BalanceOf(alice), l.BalanceOf(bob))
	}
}

func TestLedger_SupplyConservation(t *testing.T) {
	s, l := setup(t)

	_, err := s.Exec(alice, func(tx *chain.Tx) error {
		if err := l.Transfer(tx, alice, bob, big.NewInt(250)); err != nil {
			return err
		}
		if err := l.Burn(tx, bob, big.NewInt(50)); err != nil {
			return err
		}
		return l.Mint(tx, spender, big.NewInt(5))
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	if l.TotalSupply().Cmp(l.SumBalances()) != 0 {
		t.Errorf("total supply %s != sum of balances %s", l.TotalSupply(), l.SumBalances())
	}
	if l.TotalSupply().Int64() != 955 {
		t.Errorf("total supply = %s, want 955", l.TotalSupply())
	}
	if l.Minted().Int64() != 1005 || l.Burned().Int64() != 50 {
		t.Errorf("minted=%s burned=%s", l.Minted(), l.Burned())
	}
}

func TestLedger_ZeroMintRejected(t *testing.T) {
	s, l := setup(t)
	_, err := s.Exec(alice, func(tx *chain.Tx) error {
		return l.Mint(tx, alice, big.NewInt(0))
	})
	if !errors.Is(err, reverts.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Native() == nil {
		t.Fatal("expected native ledger")
	}
	l := NewLedger(common.HexToAddress("0x70c"), "Modl", "MODL", 18)
	if err := r.Add(l); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(l); err == nil {
		t.Error("expected duplicate Add to fail")
	}
	if got, ok := r.Get(l.Address()); !ok || got != l {
		t.Error("expected Get to return registered ledger")
	}
	if len(r.All()) != 2 {
		t.Errorf("expected 2 ledgers, got %d", len(r.All()))
	}
}
