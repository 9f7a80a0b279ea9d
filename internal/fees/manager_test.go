package fees

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/token"
)

var (
	feesAddr = common.HexToAddress("0xfee")
	modlAddr = common.HexToAddress("0x70")
	admin    = common.HexToAddress("0xad")
	treasury = common.HexToAddress("0x7e")
	founders = common.HexToAddress("0xf0")
	payer    = common.HexToAddress("0x9a")
)

func setup(t *testing.T) (*chain.State, *token.Ledger, *Manager) {
	t.Helper()
	s := chain.NewState(time.Unix(1_700_000_000, 0))
	modl := token.NewLedger(modlAddr, "Modl", "MODL", 18)
	m, err := NewManager(feesAddr, admin, modl, treasury, founders, DefaultShares())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Exec(admin, func(tx *chain.Tx) error {
		return modl.Mint(tx, payer, big.NewInt(10_000))
	}); err != nil {
		t.Fatal(err)
	}
	return s, modl, m
}

func TestDistribute(t *testing.T) {
	s, modl, m := setup(t)

	if _, err := s.Exec(payer, func(tx *chain.Tx) error {
		return m.Distribute(tx, payer, big.NewInt(1001))
	}); err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}

	// 10% of 1001 = 100, 60% = 600, founders take the rest
	if got := modl.Burned(); got.Int64() != 100 {
		t.Errorf("burned %s, want 100", got)
	}
	if got := modl.BalanceOf(treasury); got.Int64() != 600 {
		t.Errorf("treasury %s, want 600", got)
	}
	if got := modl.BalanceOf(founders); got.Int64() != 301 {
		t.Errorf("founders %s, want 301", got)
	}
	if got := modl.BalanceOf(payer); got.Int64() != 10_000-1001 {
		t.Errorf("payer %s", got)
	}
	if m.TotalDistributed().Int64() != 1001 || m.TotalBurned().Int64() != 100 {
		t.Errorf("totals %s / %s", m.TotalDistributed(), m.TotalBurned())
	}
	if modl.TotalSupply().Cmp(modl.SumBalances()) != 0 {
		t.Error("supply and balances diverged")
	}
}

func TestDistribute_Rejects(t *testing.T) {
	s, _, m := setup(t)

	_, err := s.Exec(payer, func(tx *chain.Tx) error {
		return m.Distribute(tx, payer, big.NewInt(0))
	})
	if !errors.Is(err, reverts.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}
	_, err = s.Exec(payer, func(tx *chain.Tx) error {
		return m.Distribute(tx, payer, big.NewInt(20_000))
	})
	if !errors.Is(err, reverts.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSetShares(t *testing.T) {
	s, _, m := setup(t)

	bad := Shares{BurnBps: 5000, TreasuryBps: 5000, FoundersBps: 1}
	_, err := s.Exec(admin, func(tx *chain.Tx) error { return m.SetShares(tx, admin, bad) })
	if !errors.Is(err, reverts.ErrInvalidShares) {
		t.Errorf("expected ErrInvalidShares, got %v", err)
	}
	good := Shares{BurnBps: 0, TreasuryBps: 10000}
	_, err = s.Exec(payer, func(tx *chain.Tx) error { return m.SetShares(tx, payer, good) })
	if !errors.Is(err, reverts.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := s.Exec(admin, func(tx *chain.Tx) error { return m.SetShares(tx, admin, good) }); err != nil {
		t.Fatal(err)
	}
	if m.Shares() != good {
		t.Errorf("shares = %+v", m.Shares())
	}
}

func TestNewManager_Validates(t *testing.T) {
	modl := token.NewLedger(modlAddr, "Modl", "MODL", 18)
	if _, err := NewManager(feesAddr, admin, modl, treasury, founders, Shares{BurnBps: 1}); !errors.Is(err, reverts.ErrInvalidShares) {
		t.Errorf("expected ErrInvalidShares, got %v", err)
	}
	if _, err := NewManager(feesAddr, admin, modl, common.Address{}, founders, DefaultShares()); !errors.Is(err, reverts.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
