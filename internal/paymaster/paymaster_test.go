package paymaster

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/tier"
	"github.com/modlnet/modl/internal/token"
	"github.com/modlnet/modl/pkg/types"
)

var (
	pmAddr   = common.HexToAddress("0x9a")
	fwdAddr  = common.HexToAddress("0xf0")
	modlAddr = common.HexToAddress("0x70")
	usdAddr  = common.HexToAddress("0x71")
	admin    = common.HexToAddress("0xad")
	alice    = common.HexToAddress("0xa1")
	bob      = common.HexToAddress("0xb0")
	sink     = common.HexToAddress("0x5c")
)

type fixture struct {
	state *chain.State
	modl  *token.Ledger
	usd   *token.Ledger
	tiers tier.Fixed
	pm    *Paymaster
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	reg := token.NewRegistry()
	f := &fixture{
		state: chain.NewState(time.Unix(1_700_000_000, 0)),
		modl:  token.NewLedger(modlAddr, "Modl", "MODL", 18),
		usd:   token.NewLedger(usdAddr, "Dollar", "USD", 6),
		tiers: tier.Fixed{alice: 1, bob: 0},
	}
	if err := reg.Add(f.modl); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(f.usd); err != nil {
		t.Fatal(err)
	}
	var err error
	f.pm, err = New(pmAddr, admin, fwdAddr, nil, f.modl, reg, f.tiers, params)
	if err != nil {
		t.Fatal(err)
	}
	f.exec(t, admin, func(tx *chain.Tx) error {
		for _, u := range []common.Address{alice, bob} {
			if err := f.modl.Mint(tx, u, big.NewInt(1000)); err != nil {
				return err
			}
			if err := f.modl.Approve(tx, u, pmAddr, big.NewInt(1000)); err != nil {
				return err
			}
		}
		return nil
	})
	return f
}

func (f *fixture) exec(t *testing.T, origin common.Address, fn func(tx *chain.Tx) error) {
	t.Helper()
	if _, err := f.state.Exec(origin, fn); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
}

func (f *fixture) deposit(t *testing.T, user common.Address, amount int64) {
	t.Helper()
	f.exec(t, user, func(tx *chain.Tx) error {
		return f.pm.DepositTokens(tx, user, big.NewInt(amount))
	})
}

func request(from common.Address) *types.RelayRequest {
	return &types.RelayRequest{
		Request:   types.ForwardRequest{From: from, Gas: 100000},
		RelayData: types.RelayData{Paymaster: pmAddr, Forwarder: fwdAddr},
	}
}

// relay runs pre and post the way the hub does.
func (f *fixture) relay(user common.Address, maxGas, gasUsed uint64) (*GasCharge, error) {
	var charge *GasCharge
	_, err := f.state.Exec(user, func(tx *chain.Tx) error {
		req := request(user)
		ctx, err := f.pm.PreRelayedCall(tx, req, nil, maxGas)
		if err != nil {
			return err
		}
		if err := f.pm.PostRelayedCall(tx, ctx, true, gasUsed, &req.RelayData); err != nil {
			return err
		}
		for _, ev := range tx.Events() {
			if gc, ok := ev.(GasCharge); ok {
				charge = &gc
			}
		}
		return nil
	})
	return charge, err
}

func (f *fixture) checkConservation(t *testing.T) {
	t.Helper()
	if got, want := f.pm.Earmarked(), f.modl.BalanceOf(pmAddr); got.Cmp(want) != 0 {
		t.Errorf("earmarked %s != paymaster token balance %s", got, want)
	}
}

func TestScenarioC_ChargeAndRefund(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(t, alice, 200)

	gc, err := f.relay(alice, 200000, 150000)
	if err != nil {
		t.Fatalf("relay failed: %v", err)
	}
	if gc == nil {
		t.Fatal("expected GasCharge event")
	}
	if gc.User != alice || gc.Charge.Int64() != 150 || gc.Refund.Int64() != 50 {
		t.Errorf("GasCharge = user %s charge %s refund %s, want 150/50", gc.User.Hex(), gc.Charge, gc.Refund)
	}
	if got := f.pm.DepositOf(alice); got.Int64() != 50 {
		t.Errorf("deposit = %s, want 50", got)
	}
	if f.pm.HoldOf(alice).Sign() != 0 {
		t.Error("hold should be released")
	}
	if f.pm.Revenue().Int64() != 150 {
		t.Errorf("revenue = %s, want 150", f.pm.Revenue())
	}
	f.checkConservation(t)
}

func TestTierDiscountApplied(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.exec(t, admin, func(tx *chain.Tx) error {
		return f.pm.SetTierDiscount(tx, admin, 1, 1500)
	})
	f.deposit(t, alice, 200)

	gc, err := f.relay(alice, 200000, 200000)
	if err != nil {
		t.Fatal(err)
	}
	// 200 * (10000 - 1500) / 10000
	if gc.Charge.Int64() != 170 || gc.Refund.Int64() != 0 {
		t.Errorf("charge %s refund %s, want 170/0", gc.Charge, gc.Refund)
	}
}

func TestPreRelayedCall_Rejects(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.exec(t, admin, func(tx *chain.Tx) error { return f.pm.SetMinRequiredTier(tx, admin, 1) })

	if _, err := f.relay(bob, 200000, 100000); !errors.Is(err, reverts.ErrTierTooLow) {
		t.Errorf("expected ErrTierTooLow, got %v", err)
	}
	if _, err := f.relay(alice, 200000, 100000); !errors.Is(err, reverts.ErrInsufficientTokenDeposit) {
		t.Errorf("expected ErrInsufficientTokenDeposit, got %v", err)
	}
	if f.pm.HoldOf(alice).Sign() != 0 {
		t.Error("rejected pre must not leave a hold")
	}
}

func TestAbsorbPolicyCapsCharge(t *testing.T) {
	params := DefaultParams()
	params.Policy = PolicyAbsorb
	f := newFixture(t, params)
	f.deposit(t, alice, 80)

	gc, err := f.relay(alice, 200000, 150000)
	if err != nil {
		t.Fatalf("absorb policy should relay, got %v", err)
	}
	if gc.Charge.Int64() != 80 || gc.Refund.Int64() != 0 {
		t.Errorf("charge %s refund %s, want 80/0", gc.Charge, gc.Refund)
	}
	if f.pm.DepositOf(alice).Sign() != 0 {
		t.Errorf("deposit = %s, want 0", f.pm.DepositOf(alice))
	}
	f.checkConservation(t)
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t, DefaultParams())

	_, err := f.state.Exec(alice, func(tx *chain.Tx) error {
		return f.pm.DepositTokens(tx, alice, big.NewInt(0))
	})
	if !errors.Is(err, reverts.ErrZeroDeposit) {
		t.Errorf("expected ErrZeroDeposit, got %v", err)
	}
	_, err = f.state.Exec(alice, func(tx *chain.Tx) error {
		return f.pm.WithdrawTokens(tx, alice, big.NewInt(0))
	})
	if !errors.Is(err, reverts.ErrZeroWithdraw) {
		t.Errorf("expected ErrZeroWithdraw, got %v", err)
	}
	_, err = f.state.Exec(alice, func(tx *chain.Tx) error {
		return f.pm.DepositTokens(tx, alice, big.NewInt(5000))
	})
	if !errors.Is(err, reverts.ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}

	f.deposit(t, alice, 300)
	f.exec(t, alice, func(tx *chain.Tx) error {
		return f.pm.WithdrawTokens(tx, alice, big.NewInt(100))
	})
	if got := f.pm.DepositOf(alice); got.Int64() != 200 {
		t.Errorf("deposit = %s, want 200", got)
	}
	if got := f.modl.BalanceOf(alice); got.Int64() != 800 {
		t.Errorf("wallet = %s, want 800", got)
	}
	_, err = f.state.Exec(alice, func(tx *chain.Tx) error {
		return f.pm.WithdrawTokens(tx, alice, big.NewInt(201))
	})
	if !errors.Is(err, reverts.ErrInsufficientTokenDeposit) {
		t.Errorf("expected ErrInsufficientTokenDeposit, got %v", err)
	}
	f.checkConservation(t)
}

func TestHeldFundsCannotBeWithdrawn(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(t, alice, 250)

	_, err := f.state.Exec(alice, func(tx *chain.Tx) error {
		if _, err := f.pm.PreRelayedCall(tx, request(alice), nil, 200000); err != nil {
			return err
		}
		// a target calling back into the paymaster mid-relay
		return f.pm.WithdrawTokens(tx, alice, big.NewInt(100))
	})
	if !errors.Is(err, reverts.ErrInsufficientTokenDeposit) {
		t.Errorf("expected ErrInsufficientTokenDeposit, got %v", err)
	}
}

func TestAdminBounds(t *testing.T) {
	f := newFixture(t, DefaultParams())

	tests := []struct {
		name   string
		caller common.Address
		fn     func(tx *chain.Tx, caller common.Address) error
		want   error
	}{
		{"not admin", alice, func(tx *chain.Tx, c common.Address) error { return f.pm.SetMinRequiredTier(tx, c, 2) }, reverts.ErrUnauthorized},
		{"zero rate", admin, func(tx *chain.Tx, c common.Address) error { return f.pm.SetGasToModlRate(tx, c, big.NewInt(0)) }, reverts.ErrRateOutOfRange},
		{"rate above cap", admin, func(tx *chain.Tx, c common.Address) error {
			return f.pm.SetGasToModlRate(tx, c, new(big.Int).Add(DefaultParams().MaxGasToModlRate, big.NewInt(1)))
		}, reverts.ErrRateOutOfRange},
		{"discount above 100%", admin, func(tx *chain.Tx, c common.Address) error { return f.pm.SetTierDiscount(tx, c, 2, 10001) }, reverts.ErrDiscountOutOfRange},
		{"bad policy", admin, func(tx *chain.Tx, c common.Address) error { return f.pm.SetPolicy(tx, c, "pray") }, reverts.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.state.Exec(tt.caller, func(tx *chain.Tx) error { return tt.fn(tx, tt.caller) })
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if f.pm.Params().Version != 1 {
		t.Errorf("rejected updates changed the version to %d", f.pm.Params().Version)
	}

	f.exec(t, admin, func(tx *chain.Tx) error { return f.pm.SetGasToModlRate(tx, admin, big.NewInt(5)) })
	f.exec(t, admin, func(tx *chain.Tx) error { return f.pm.SetTierDiscount(tx, admin, 2, 10000) })
	p := f.pm.Params()
	if p.Version != 3 || p.GasToModlRate.Int64() != 5 || p.TierDiscountBps[2] != 10000 {
		t.Errorf("params = %+v", p)
	}
}

func TestParamsSnapshotIsolated(t *testing.T) {
	f := newFixture(t, DefaultParams())
	snap := f.pm.Params()
	f.exec(t, admin, func(tx *chain.Tx) error { return f.pm.SetTierDiscount(tx, admin, 1, 500) })
	if snap.TierDiscountBps[1] != 0 {
		t.Error("earlier snapshot changed after an update")
	}
	if f.pm.Params().TierDiscountBps[1] != 500 {
		t.Error("update not applied")
	}
}

func TestRecoverERC20(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(t, alice, 300)
	// accidental transfers
	f.exec(t, bob, func(tx *chain.Tx) error {
		if err := f.modl.Transfer(tx, bob, pmAddr, big.NewInt(40)); err != nil {
			return err
		}
		return f.usd.Mint(tx, pmAddr, big.NewInt(7))
	})

	_, err := f.state.Exec(admin, func(tx *chain.Tx) error {
		return f.pm.RecoverERC20(tx, admin, modlAddr, bob, big.NewInt(41))
	})
	if !errors.Is(err, reverts.ErrRecoverEarmarked) {
		t.Errorf("expected ErrRecoverEarmarked, got %v", err)
	}
	f.exec(t, admin, func(tx *chain.Tx) error {
		return f.pm.RecoverERC20(tx, admin, modlAddr, bob, big.NewInt(40))
	})
	f.exec(t, admin, func(tx *chain.Tx) error {
		return f.pm.RecoverERC20(tx, admin, usdAddr, bob, big.NewInt(7))
	})
	if f.usd.BalanceOf(bob).Int64() != 7 {
		t.Errorf("recovered usd = %s", f.usd.BalanceOf(bob))
	}
	f.checkConservation(t)

	_, err = f.state.Exec(alice, func(tx *chain.Tx) error {
		return f.pm.RecoverERC20(tx, alice, usdAddr, alice, big.NewInt(1))
	})
	if !errors.Is(err, reverts.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

type recordingSink struct {
	from   common.Address
	amount *big.Int
	ledger *token.Ledger
}

func (s *recordingSink) Distribute(tx *chain.Tx, from common.Address, amount *big.Int) error {
	s.from, s.amount = from, new(big.Int).Set(amount)
	return s.ledger.Transfer(tx, from, sink, amount)
}

func TestSweepRevenue(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(t, alice, 200)
	if _, err := f.relay(alice, 200000, 150000); err != nil {
		t.Fatal(err)
	}

	s := &recordingSink{ledger: f.modl}
	f.exec(t, admin, func(tx *chain.Tx) error { return f.pm.SweepRevenue(tx, admin, s) })
	if s.from != pmAddr || s.amount.Int64() != 150 {
		t.Errorf("sink got %s from %s", s.amount, s.from.Hex())
	}
	if f.pm.Revenue().Sign() != 0 {
		t.Error("revenue should be reset")
	}
	f.checkConservation(t)

	_, err := f.state.Exec(admin, func(tx *chain.Tx) error { return f.pm.SweepRevenue(tx, admin, s) })
	if !errors.Is(err, reverts.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount on empty sweep, got %v", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	in := callContext{User: alice, MaxCharge: big.NewInt(200), MaxGas: 200000}
	data, err := encodeContext(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeContext(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.User != in.User || out.MaxCharge.Cmp(in.MaxCharge) != 0 || out.MaxGas != in.MaxGas {
		t.Errorf("got %+v", out)
	}
	if _, err := decodeContext([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated context")
	}
}
