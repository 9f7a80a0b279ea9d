// Package paymaster sponsors relayed calls for users who prepay gas in the
// MODL fee token. The price per gas is discounted by the user's tier.
package paymaster

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/relayhub"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/tier"
	"github.com/modlnet/modl/internal/token"
	"github.com/modlnet/modl/pkg/types"
)

const (
	// RateUnit is the gas quantity GasToModlRate is priced per.
	RateUnit = 1000
	maxBps   = 10000
)

// Policy decides what happens when a user's deposit can't cover the worst
// case charge.
type Policy string

const (
	// PolicyRevert rejects the relay.
	PolicyRevert Policy = "revert"
	// PolicyAbsorb relays anyway and caps the charge at the deposit; the
	// paymaster's hub deposit covers the rest.
	PolicyAbsorb Policy = "absorb"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyRevert, PolicyAbsorb:
		return Policy(s), nil
	case "":
		return PolicyRevert, nil
	}
	return "", fmt.Errorf("unknown payment policy %q", s)
}

// Params is one immutable version of the paymaster settings.
type Params struct {
	Version         uint64
	MinRequiredTier uint8
	// GasToModlRate is fee-token base units per RateUnit gas.
	GasToModlRate    *big.Int
	MaxGasToModlRate *big.Int
	TierDiscountBps  map[uint8]uint64
	Limits           relayhub.GasAndDataLimits
	Policy           Policy
}

// DefaultParams returns a usable configuration with discounts taken from
// the default tier table.
func DefaultParams() Params {
	discounts := make(map[uint8]uint64)
	for _, t := range types.DefaultTiers() {
		discounts[t.Level] = uint64(t.DiscountBps)
	}
	return Params{
		Version:          1,
		GasToModlRate:    big.NewInt(1),
		MaxGasToModlRate: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		TierDiscountBps:  discounts,
		Limits: relayhub.GasAndDataLimits{
			AcceptanceBudget:        150000,
			PreRelayedCallGasLimit:  100000,
			PostRelayedCallGasLimit: 110000,
			CalldataSizeLimit:       10500,
		},
		Policy: PolicyRevert,
	}
}

// Validate checks bounds on every field.
func (p Params) Validate() error {
	if p.MaxGasToModlRate == nil || p.MaxGasToModlRate.Sign() <= 0 {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "max gas rate must be positive")
	}
	if err := checkRate(p.GasToModlRate, p.MaxGasToModlRate); err != nil {
		return err
	}
	for t, d := range p.TierDiscountBps {
		if d > maxBps {
			return reverts.Wrapf(reverts.ErrDiscountOutOfRange, "tier %d discount %d bps", t, d)
		}
	}
	if _, err := ParsePolicy(string(p.Policy)); err != nil {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "%v", err)
	}
	return nil
}

func checkRate(rate, limit *big.Int) error {
	if rate == nil || rate.Sign() <= 0 || rate.Cmp(limit) > 0 {
		return reverts.Wrapf(reverts.ErrRateOutOfRange, "rate %v not in (0, %s]", rate, limit)
	}
	return nil
}

func (p Params) clone() Params {
	out := p
	out.GasToModlRate = new(big.Int).Set(p.GasToModlRate)
	out.MaxGasToModlRate = new(big.Int).Set(p.MaxGasToModlRate)
	out.TierDiscountBps = make(map[uint8]uint64, len(p.TierDiscountBps))
	for k, v := range p.TierDiscountBps {
		out.TierDiscountBps[k] = v
	}
	return out
}

// MaxCharge is the fee-token price of gas at tier under these params.
func (p Params) MaxCharge(t uint8, gas uint64) *big.Int {
	c := new(big.Int).SetUint64(gas)
	c.Mul(c, p.GasToModlRate)
	c.Mul(c, new(big.Int).SetUint64(maxBps-p.TierDiscountBps[t]))
	return c.Div(c, big.NewInt(maxBps*RateUnit))
}

// HubAccount is the part of the relay hub the paymaster funds itself
// through.
type HubAccount interface {
	DepositFor(tx *chain.Tx, caller, target common.Address, amount *big.Int) error
	Withdraw(tx *chain.Tx, caller, dest common.Address, amount *big.Int) error
	BalanceOf(acct common.Address) *big.Int
}

// RevenueSink receives swept revenue.
type RevenueSink interface {
	Distribute(tx *chain.Tx, from common.Address, amount *big.Int) error
}

var _ relayhub.Paymaster = (*Paymaster)(nil)

// Paymaster is the tiered MODL paymaster.
type Paymaster struct {
	address   common.Address
	forwarder common.Address
	acl       *access.Control
	hub       HubAccount
	feeToken  *token.Ledger
	tokens    *token.Registry
	tiers     tier.Source
	params    *Params

	deposits map[common.Address]*big.Int
	holds    map[common.Address]*big.Int
	revenue  *big.Int
}

// New creates a paymaster. tokens is used by RecoverERC20 and may be nil if
// only the fee token can be recovered.
func New(address, admin, trustedForwarder common.Address, hub HubAccount, feeToken *token.Ledger, tokens *token.Registry, tiers tier.Source, params Params) (*Paymaster, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Policy == "" {
		params.Policy = PolicyRevert
	}
	p := params.clone()
	return &Paymaster{
		address:   address,
		forwarder: trustedForwarder,
		acl:       access.NewControl(address, admin),
		hub:       hub,
		feeToken:  feeToken,
		tokens:    tokens,
		tiers:     tiers,
		params:    &p,
		deposits:  make(map[common.Address]*big.Int),
		holds:     make(map[common.Address]*big.Int),
		revenue:   new(big.Int),
	}, nil
}

// Address is the paymaster's account, which holds user token deposits.
func (p *Paymaster) Address() common.Address { return p.address }

// TrustedForwarder is the only forwarder whose requests the paymaster
// sponsors.
func (p *Paymaster) TrustedForwarder() common.Address { return p.forwarder }

// Access returns the role table guarding the admin setters.
func (p *Paymaster) Access() *access.Control { return p.acl }

// GasAndDataLimits returns the limits of the current params.
func (p *Paymaster) GasAndDataLimits() relayhub.GasAndDataLimits { return p.params.Limits }

// Params returns a copy of the current params.
func (p *Paymaster) Params() Params { return p.params.clone() }

// DepositOf returns user's fee-token deposit, holds included.
func (p *Paymaster) DepositOf(user common.Address) *big.Int { return amountOf(p.deposits, user) }

// HoldOf returns the part of user's deposit reserved for a relay in flight.
func (p *Paymaster) HoldOf(user common.Address) *big.Int { return amountOf(p.holds, user) }

// Available is what user can withdraw or have held.
func (p *Paymaster) Available(user common.Address) *big.Int {
	return new(big.Int).Sub(p.DepositOf(user), p.HoldOf(user))
}

// Revenue returns collected charges not yet swept.
func (p *Paymaster) Revenue() *big.Int { return new(big.Int).Set(p.revenue) }

// Earmarked is the fee-token balance owed to users or to revenue.
func (p *Paymaster) Earmarked() *big.Int {
	sum := new(big.Int).Set(p.revenue)
	for _, d := range p.deposits {
		sum.Add(sum, d)
	}
	return sum
}

// HubBalance returns the paymaster's native deposit at the hub.
func (p *Paymaster) HubBalance() *big.Int {
	if p.hub == nil {
		return new(big.Int)
	}
	return p.hub.BalanceOf(p.address)
}

func amountOf(m map[common.Address]*big.Int, acct common.Address) *big.Int {
	if v, ok := m[acct]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// DepositTokens moves amount of the fee token from user into their deposit.
// The user must have approved the paymaster.
func (p *Paymaster) DepositTokens(tx *chain.Tx, user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroDeposit
	}
	if err := p.feeToken.TransferFrom(tx, p.address, user, p.address, amount); err != nil {
		return err
	}
	chain.Set(tx, p.deposits, user, new(big.Int).Add(p.DepositOf(user), amount))
	tx.Emit(TokensDeposited{User: user, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawTokens returns amount of user's deposit. Held funds can't be
// withdrawn.
func (p *Paymaster) WithdrawTokens(tx *chain.Tx, user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroWithdraw
	}
	if avail := p.Available(user); avail.Cmp(amount) < 0 {
		return reverts.Wrapf(reverts.ErrInsufficientTokenDeposit, "available %s, requested %s", avail, amount)
	}
	chain.Set(tx, p.deposits, user, new(big.Int).Sub(p.DepositOf(user), amount))
	if err := p.feeToken.Transfer(tx, p.address, user, amount); err != nil {
		return err
	}
	tx.Emit(TokensWithdrawn{User: user, Amount: new(big.Int).Set(amount)})
	return nil
}

// PreRelayedCall authorizes a relay for req.Request.From and holds the worst
// case charge on their deposit. Nothing is debited yet.
func (p *Paymaster) PreRelayedCall(tx *chain.Tx, req *types.RelayRequest, approvalData []byte, maxPossibleGas uint64) ([]byte, error) {
	params := p.params
	user := req.Request.From

	userTier := p.tiers.GetTier(user)
	if userTier < params.MinRequiredTier {
		return nil, reverts.Wrapf(reverts.ErrTierTooLow, "tier %d < required %d", userTier, params.MinRequiredTier)
	}

	maxCharge := params.MaxCharge(userTier, maxPossibleGas)
	hold := new(big.Int).Set(maxCharge)
	if avail := p.Available(user); avail.Cmp(maxCharge) < 0 {
		if params.Policy != PolicyAbsorb {
			return nil, reverts.Wrapf(reverts.ErrInsufficientTokenDeposit, "available %s, worst case %s", avail, maxCharge)
		}
		hold = avail
	}
	chain.Set(tx, p.holds, user, new(big.Int).Add(p.HoldOf(user), hold))

	return encodeContext(callContext{User: user, MaxCharge: maxCharge, MaxGas: maxPossibleGas})
}

// PostRelayedCall charges the user pro rata for the gas actually used and
// releases the rest of the hold.
func (p *Paymaster) PostRelayedCall(tx *chain.Tx, context []byte, success bool, gasUsed uint64, relayData *types.RelayData) error {
	c, err := decodeContext(context)
	if err != nil {
		return err
	}
	hold := p.HoldOf(c.User)

	charge := new(big.Int).Set(c.MaxCharge)
	if c.MaxGas > 0 && gasUsed < c.MaxGas {
		charge.Mul(charge, new(big.Int).SetUint64(gasUsed))
		charge.Div(charge, new(big.Int).SetUint64(c.MaxGas))
	}
	if charge.Cmp(hold) > 0 {
		charge.Set(hold)
	}
	refund := new(big.Int).Sub(hold, charge)

	chain.Delete(tx, p.holds, c.User)
	chain.Set(tx, p.deposits, c.User, new(big.Int).Sub(p.DepositOf(c.User), charge))
	chain.Assign(tx, &p.revenue, new(big.Int).Add(p.revenue, charge))

	tx.Emit(GasCharge{User: c.User, Charge: charge, Refund: refund, Success: success})
	tx.OnCommit(func() {
		logging.Debug("gas charged",
			"user", c.User.Hex(),
			"charge", charge.String(),
			"refund", refund.String(),
			"success", success,
			logging.Component("paymaster"))
	})
	return nil
}

// ─── Hub deposit ─────────────────────────────────────────────────────────────

// DepositToHub funds the paymaster's hub balance from its own native
// balance.
func (p *Paymaster) DepositToHub(tx *chain.Tx, caller common.Address, amount *big.Int) error {
	if err := p.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if p.hub == nil {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "no hub configured")
	}
	return p.hub.DepositFor(tx, p.address, p.address, amount)
}

// WithdrawFromHub pulls amount of the paymaster's hub balance to dest.
func (p *Paymaster) WithdrawFromHub(tx *chain.Tx, caller common.Address, amount *big.Int, dest common.Address) error {
	if err := p.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if p.hub == nil {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "no hub configured")
	}
	return p.hub.Withdraw(tx, p.address, dest, amount)
}

// SweepRevenue hands all collected charges to sink.
func (p *Paymaster) SweepRevenue(tx *chain.Tx, caller common.Address, sink RevenueSink) error {
	if err := p.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	amount := p.Revenue()
	if amount.Sign() == 0 {
		return reverts.ErrZeroAmount
	}
	chain.Assign(tx, &p.revenue, new(big.Int))
	if err := sink.Distribute(tx, p.address, amount); err != nil {
		return err
	}
	tx.Emit(RevenueSwept{Amount: amount})
	p.audit(tx, caller, "revenue_swept", amount.String())
	return nil
}

// RecoverERC20 sweeps tokens sent to the paymaster by mistake. User
// deposits and unswept revenue are earmarked and can't be recovered.
func (p *Paymaster) RecoverERC20(tx *chain.Tx, caller, tokenAddr, to common.Address, amount *big.Int) error {
	if err := p.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroAmount
	}
	ledger := p.feeToken
	if tokenAddr != p.feeToken.Address() {
		var ok bool
		if p.tokens != nil {
			ledger, ok = p.tokens.Get(tokenAddr)
		}
		if !ok {
			return reverts.Wrapf(reverts.ErrTokenNotAllowed, "unknown token %s", tokenAddr.Hex())
		}
	} else {
		free := new(big.Int).Sub(ledger.BalanceOf(p.address), p.Earmarked())
		if free.Cmp(amount) < 0 {
			return reverts.Wrapf(reverts.ErrRecoverEarmarked, "free %s, requested %s", free, amount)
		}
	}
	if err := ledger.Transfer(tx, p.address, to, amount); err != nil {
		return err
	}
	tx.Emit(TokensRecovered{Token: tokenAddr, To: to, Amount: new(big.Int).Set(amount)})
	p.audit(tx, caller, "tokens_recovered", fmt.Sprintf("token=%s amount=%s", tokenAddr.Hex(), amount))
	return nil
}

// ─── Admin Setters ───────────────────────────────────────────────────────────

// SetMinRequiredTier sets the lowest tier the paymaster sponsors.
func (p *Paymaster) SetMinRequiredTier(tx *chain.Tx, caller common.Address, t uint8) error {
	return p.update(tx, caller, "min_required_tier", func(next *Params) error {
		next.MinRequiredTier = t
		return nil
	})
}

// SetGasToModlRate sets the price per RateUnit gas, bounded by the
// configured maximum.
func (p *Paymaster) SetGasToModlRate(tx *chain.Tx, caller common.Address, rate *big.Int) error {
	return p.update(tx, caller, "gas_to_modl_rate", func(next *Params) error {
		if err := checkRate(rate, next.MaxGasToModlRate); err != nil {
			return err
		}
		next.GasToModlRate = new(big.Int).Set(rate)
		return nil
	})
}

// SetTierDiscount sets the discount for tier t.
func (p *Paymaster) SetTierDiscount(tx *chain.Tx, caller common.Address, t uint8, bps uint64) error {
	return p.update(tx, caller, "tier_discount", func(next *Params) error {
		if bps > maxBps {
			return reverts.Wrapf(reverts.ErrDiscountOutOfRange, "%d bps", bps)
		}
		next.TierDiscountBps[t] = bps
		return nil
	})
}

// SetPolicy sets the payment failure policy.
func (p *Paymaster) SetPolicy(tx *chain.Tx, caller common.Address, policy Policy) error {
	return p.update(tx, caller, "policy", func(next *Params) error {
		parsed, err := ParsePolicy(string(policy))
		if err != nil {
			return reverts.Wrapf(reverts.ErrInvalidConfig, "%v", err)
		}
		next.Policy = parsed
		return nil
	})
}

// update installs a new params version built by fn from a copy of the
// current one.
func (p *Paymaster) update(tx *chain.Tx, caller common.Address, field string, fn func(next *Params) error) error {
	if err := p.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	next := p.params.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.Version++
	chain.Assign(tx, &p.params, &next)
	tx.Emit(ParamsUpdated{Version: next.Version, Field: field})
	p.audit(tx, caller, "paymaster_"+field+"_updated", fmt.Sprintf("version=%d", next.Version))
	return nil
}

func (p *Paymaster) audit(tx *chain.Tx, caller common.Address, op, details string) {
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: op,
			Actor:     caller.Hex(),
			Target:    p.address.Hex(),
			Result:    "success",
			Details:   details,
		})
	})
}
