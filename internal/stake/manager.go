// Package stake is the collateral ledger for relay managers and auditors:
// delayed unstaking, penalization by authorized slashers, and escheatment
// of abandoned stakes.
package stake

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/token"
)

// DefaultBurnAddress receives the non-rewarded part of penalties.
var DefaultBurnAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// Params configures a Manager.
type Params struct {
	MaxUnstakeDelay  time.Duration
	AbandonmentDelay time.Duration
	EscheatmentDelay time.Duration
	BurnAddress      common.Address
	DevAddress       common.Address
	// PenaltyShareBps is the part of a full penalty paid to the beneficiary.
	PenaltyShareBps uint16
}

// DefaultParams returns the production delays.
func DefaultParams() Params {
	return Params{
		MaxUnstakeDelay:  7 * 24 * time.Hour,
		AbandonmentDelay: 14 * 24 * time.Hour,
		EscheatmentDelay: 30 * 24 * time.Hour,
		BurnAddress:      DefaultBurnAddress,
		PenaltyShareBps:  5000,
	}
}

// Info is the stake held for one manager. A zero WithdrawTime means the
// stake is locked.
type Info struct {
	Owner        common.Address `json:"owner"`
	Token        common.Address `json:"token"`
	Amount       *big.Int       `json:"amount"`
	UnstakeDelay time.Duration  `json:"unstakeDelay"`
	WithdrawTime time.Time      `json:"withdrawTime"`
}

// Unlocked reports whether the unstake timer is running.
func (i Info) Unlocked() bool { return !i.WithdrawTime.IsZero() }

func (i Info) copy() Info {
	c := i
	if i.Amount != nil {
		c.Amount = new(big.Int).Set(i.Amount)
	} else {
		c.Amount = new(big.Int)
	}
	return c
}

// Manager is the stake ledger.
type Manager struct {
	address common.Address
	tokens  *token.Registry
	acl     *access.Control
	params  Params
	stakes  map[common.Address]Info
}

// NewManager creates a stake ledger administered by owner.
func NewManager(address, owner common.Address, tokens *token.Registry, params Params) *Manager {
	if params.BurnAddress == (common.Address{}) {
		params.BurnAddress = DefaultBurnAddress
	}
	return &Manager{
		address: address,
		tokens:  tokens,
		acl:     access.NewControl(address, owner),
		params:  params,
		stakes:  make(map[common.Address]Info),
	}
}

// Address returns the ledger's account, which holds all staked tokens.
func (m *Manager) Address() common.Address { return m.address }

// Access returns the role table. PenalizerRole gates Penalize and Slash.
func (m *Manager) Access() *access.Control { return m.acl }

// Params returns the current parameters.
func (m *Manager) Params() Params { return m.params }

// GetStakeInfo returns a copy of manager's stake.
func (m *Manager) GetStakeInfo(manager common.Address) Info {
	return m.stakes[manager].copy()
}

// StakeAmount returns manager's staked amount.
func (m *Manager) StakeAmount(manager common.Address) *big.Int {
	return m.GetStakeInfo(manager).Amount
}

// SetManagerOwner is called by a manager to name the account allowed to
// stake for it. An owner can only be set once.
func (m *Manager) SetManagerOwner(tx *chain.Tx, manager, owner common.Address) error {
	if owner == (common.Address{}) {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "zero owner")
	}
	info := m.stakes[manager].copy()
	if info.Owner == owner {
		return nil
	}
	if info.Owner != (common.Address{}) {
		return reverts.Wrapf(reverts.ErrNotOwner, "manager %s already owned by %s", manager.Hex(), info.Owner.Hex())
	}
	info.Owner = owner
	chain.Set(tx, m.stakes, manager, info)
	tx.Emit(OwnerSet{Manager: manager, Owner: owner})
	return nil
}

// StakeForManager adds amount of tokenAddr to manager's stake and raises its
// unstake delay. The delay may never decrease.
func (m *Manager) StakeForManager(tx *chain.Tx, caller, tokenAddr, manager common.Address, unstakeDelay time.Duration, amount *big.Int) error {
	info := m.stakes[manager].copy()
	if info.Owner == (common.Address{}) || info.Owner != caller {
		return reverts.Wrapf(reverts.ErrNotOwner, "%s is not the owner of manager %s", caller.Hex(), manager.Hex())
	}
	if info.Unlocked() {
		return reverts.Wrapf(reverts.ErrAlreadyUnlocked, "cannot add stake while unlocked")
	}
	if amount == nil || amount.Sign() < 0 {
		return reverts.ErrZeroAmount
	}
	if unstakeDelay < info.UnstakeDelay {
		return reverts.Wrapf(reverts.ErrDelayTooShort, "%s < current %s", unstakeDelay, info.UnstakeDelay)
	}
	if unstakeDelay > m.params.MaxUnstakeDelay {
		return reverts.Wrapf(reverts.ErrDelayTooLong, "%s > max %s", unstakeDelay, m.params.MaxUnstakeDelay)
	}
	if info.Amount.Sign() > 0 && info.Token != tokenAddr {
		return reverts.Wrapf(reverts.ErrTokenMismatch, "stake is in %s", info.Token.Hex())
	}
	ledger, ok := m.tokens.Get(tokenAddr)
	if !ok {
		return reverts.Wrapf(reverts.ErrTokenNotAllowed, "unknown token %s", tokenAddr.Hex())
	}
	if amount.Sign() > 0 {
		if err := ledger.TransferFrom(tx, m.address, caller, m.address, amount); err != nil {
			return err
		}
	}

	info.Token = tokenAddr
	info.Amount = new(big.Int).Add(info.Amount, amount)
	info.UnstakeDelay = unstakeDelay
	chain.Set(tx, m.stakes, manager, info)

	tx.Emit(StakeAdded{
		Manager:      manager,
		Owner:        caller,
		Token:        tokenAddr,
		Stake:        new(big.Int).Set(info.Amount),
		UnstakeDelay: unstakeDelay,
	})
	tx.OnCommit(func() {
		logging.Info("stake added",
			"manager", manager.Hex(),
			"amount", amount.String(),
			"total", info.Amount.String(),
			"unstake_delay", unstakeDelay.String(),
			logging.Component("stake"))
	})
	return nil
}

// Unlock starts the unstake timer.
func (m *Manager) Unlock(tx *chain.Tx, caller, manager common.Address) error {
	info := m.stakes[manager].copy()
	if info.Owner != caller {
		return reverts.Wrapf(reverts.ErrNotOwner, "%s is not the owner of manager %s", caller.Hex(), manager.Hex())
	}
	if info.Amount.Sign() == 0 {
		return reverts.ErrNoStake
	}
	if info.Unlocked() {
		return reverts.ErrAlreadyUnlocked
	}
	info.WithdrawTime = tx.Now().Add(info.UnstakeDelay)
	chain.Set(tx, m.stakes, manager, info)
	tx.Emit(StakeUnlocked{Manager: manager, Owner: caller, WithdrawTime: info.WithdrawTime})
	return nil
}

// WithdrawStake returns the whole stake to its owner once the unstake delay
// has passed.
func (m *Manager) WithdrawStake(tx *chain.Tx, caller, manager common.Address) error {
	info := m.stakes[manager].copy()
	if info.Owner != caller {
		return reverts.Wrapf(reverts.ErrNotOwner, "%s is not the owner of manager %s", caller.Hex(), manager.Hex())
	}
	if info.Amount.Sign() == 0 {
		return reverts.ErrNoStake
	}
	if !info.Unlocked() {
		return reverts.ErrStakeNotUnlocked
	}
	if tx.Now().Before(info.WithdrawTime) {
		return reverts.TooEarly(reverts.ErrStakeLocked, info.WithdrawTime)
	}

	amount, err := m.release(tx, manager, info, info.Owner)
	if err != nil {
		return err
	}
	tx.Emit(StakeWithdrawn{Manager: manager, Owner: info.Owner, Token: info.Token, Amount: amount})
	return nil
}

// release zeroes manager's stake and sends it to dest.
func (m *Manager) release(tx *chain.Tx, manager common.Address, info Info, dest common.Address) (*big.Int, error) {
	amount := new(big.Int).Set(info.Amount)
	ledger, ok := m.tokens.Get(info.Token)
	if !ok {
		return nil, reverts.Wrapf(reverts.ErrTokenNotAllowed, "unknown token %s", info.Token.Hex())
	}
	if err := ledger.Transfer(tx, m.address, dest, amount); err != nil {
		return nil, err
	}
	chain.Set(tx, m.stakes, manager, Info{Owner: info.Owner, Amount: new(big.Int)})
	return amount, nil
}

// Penalize confiscates manager's entire stake. PenaltyShareBps of it goes to
// beneficiary and the rest to the burn address.
func (m *Manager) Penalize(tx *chain.Tx, caller, manager, beneficiary common.Address) error {
	if err := m.acl.Check(access.PenalizerRole, caller); err != nil {
		return err
	}
	info := m.stakes[manager].copy()
	if info.Amount.Sign() == 0 {
		return reverts.Wrapf(reverts.ErrNoStake, "manager %s", manager.Hex())
	}
	ledger, ok := m.tokens.Get(info.Token)
	if !ok {
		return reverts.Wrapf(reverts.ErrTokenNotAllowed, "unknown token %s", info.Token.Hex())
	}

	reward := new(big.Int).Mul(info.Amount, big.NewInt(int64(m.params.PenaltyShareBps)))
	reward.Div(reward, big.NewInt(10000))
	burned := new(big.Int).Sub(info.Amount, reward)

	if reward.Sign() > 0 {
		if err := ledger.Transfer(tx, m.address, beneficiary, reward); err != nil {
			return err
		}
	}
	if burned.Sign() > 0 {
		if err := ledger.Transfer(tx, m.address, m.params.BurnAddress, burned); err != nil {
			return err
		}
	}
	chain.Set(tx, m.stakes, manager, Info{Owner: info.Owner, Amount: new(big.Int)})

	tx.Emit(StakePenalized{Manager: manager, Beneficiary: beneficiary, Reward: reward, Burned: burned})
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: "stake_penalized",
			Actor:     caller.Hex(),
			Target:    manager.Hex(),
			Result:    "success",
			Details:   "reward=" + reward.String() + " burned=" + burned.String(),
		})
	})
	return nil
}

// Slash takes up to amount from manager's stake and sends it to beneficiary
// (or the burn address if beneficiary is zero). It returns what was taken.
func (m *Manager) Slash(tx *chain.Tx, caller, manager common.Address, amount *big.Int, beneficiary common.Address) (*big.Int, error) {
	if err := m.acl.Check(access.PenalizerRole, caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, reverts.ErrZeroAmount
	}
	info := m.stakes[manager].copy()
	if info.Amount.Sign() == 0 {
		return nil, reverts.Wrapf(reverts.ErrNoStake, "manager %s", manager.Hex())
	}
	if beneficiary == (common.Address{}) {
		beneficiary = m.params.BurnAddress
	}
	ledger, ok := m.tokens.Get(info.Token)
	if !ok {
		return nil, reverts.Wrapf(reverts.ErrTokenNotAllowed, "unknown token %s", info.Token.Hex())
	}

	taken := new(big.Int).Set(amount)
	if taken.Cmp(info.Amount) > 0 {
		taken.Set(info.Amount)
	}
	if err := ledger.Transfer(tx, m.address, beneficiary, taken); err != nil {
		return nil, err
	}
	info.Amount = new(big.Int).Sub(info.Amount, taken)
	if info.Amount.Sign() == 0 {
		info = Info{Owner: info.Owner, Amount: new(big.Int)}
	}
	chain.Set(tx, m.stakes, manager, info)

	tx.Emit(StakeSlashed{Manager: manager, Beneficiary: beneficiary, Amount: new(big.Int).Set(taken), Remaining: new(big.Int).Set(info.Amount)})
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: "stake_slashed",
			Actor:     caller.Hex(),
			Target:    manager.Hex(),
			Result:    "success",
			Details:   "amount=" + taken.String(),
		})
	})
	return taken, nil
}

// Escheat sends a stake that has been unlocked but left unclaimed for
// AbandonmentDelay+EscheatmentDelay to the dev address. Anyone may call it.
func (m *Manager) Escheat(tx *chain.Tx, caller, manager common.Address) error {
	info := m.stakes[manager].copy()
	if info.Amount.Sign() == 0 {
		return reverts.ErrNoStake
	}
	if !info.Unlocked() {
		return reverts.ErrStakeNotUnlocked
	}
	due := info.WithdrawTime.Add(m.params.AbandonmentDelay + m.params.EscheatmentDelay)
	if tx.Now().Before(due) {
		return reverts.TooEarly(reverts.ErrEscheatmentNotDue, due)
	}
	if m.params.DevAddress == (common.Address{}) {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "no escheatment address configured")
	}

	amount, err := m.release(tx, manager, info, m.params.DevAddress)
	if err != nil {
		return err
	}
	tx.Emit(StakeEscheated{Manager: manager, Caller: caller, Treasury: m.params.DevAddress, Amount: amount})
	return nil
}

// CheckStaked returns ErrRelayManagerNotStaked unless manager holds at least
// minAmount of tokenAddr, locked, with at least minDelay.
func (m *Manager) CheckStaked(manager, tokenAddr common.Address, minAmount *big.Int, minDelay time.Duration) error {
	info := m.stakes[manager].copy()
	switch {
	case info.Amount.Sign() == 0:
		return reverts.Wrapf(reverts.ErrRelayManagerNotStaked, "no stake")
	case info.Token != tokenAddr:
		return reverts.Wrapf(reverts.ErrRelayManagerNotStaked, "stake in wrong token")
	case minAmount != nil && info.Amount.Cmp(minAmount) < 0:
		return reverts.Wrapf(reverts.ErrRelayManagerNotStaked, "stake %s below minimum %s", info.Amount, minAmount)
	case info.UnstakeDelay < minDelay:
		return reverts.Wrapf(reverts.ErrRelayManagerNotStaked, "unstake delay %s below minimum %s", info.UnstakeDelay, minDelay)
	case info.Unlocked():
		return reverts.Wrapf(reverts.ErrRelayManagerNotStaked, "stake is unlocked")
	}
	return nil
}

// ─── Admin Setters ───────────────────────────────────────────────────────────

// SetPenaltyShare changes the beneficiary share of full penalties.
func (m *Manager) SetPenaltyShare(tx *chain.Tx, caller common.Address, bps uint16) error {
	if err := m.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if bps > 10000 {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "penalty share %d bps", bps)
	}
	chain.Assign(tx, &m.params.PenaltyShareBps, bps)
	return nil
}

// SetDevAddress changes the escheatment destination.
func (m *Manager) SetDevAddress(tx *chain.Tx, caller, dev common.Address) error {
	if err := m.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	chain.Assign(tx, &m.params.DevAddress, dev)
	return nil
}
