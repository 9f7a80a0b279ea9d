// Package fees splits collected fee-token revenue between burning, the
// treasury and the founders.
package fees

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/token"
)

const totalBps = 10000

// Shares are the distribution weights in basis points.
type Shares struct {
	BurnBps     uint64 `json:"burnBps" yaml:"burn_bps"`
	TreasuryBps uint64 `json:"treasuryBps" yaml:"treasury_bps"`
	FoundersBps uint64 `json:"foundersBps" yaml:"founders_bps"`
}

// DefaultShares burns 10%, sends 60% to the treasury and 30% to founders.
func DefaultShares() Shares {
	return Shares{BurnBps: 1000, TreasuryBps: 6000, FoundersBps: 3000}
}

// Validate checks the shares add up to 100%.
func (s Shares) Validate() error {
	if s.BurnBps+s.TreasuryBps+s.FoundersBps != totalBps {
		return reverts.Wrapf(reverts.ErrInvalidShares, "%d + %d + %d", s.BurnBps, s.TreasuryBps, s.FoundersBps)
	}
	return nil
}

// FeesDistributed is emitted for every distribution.
type FeesDistributed struct {
	From     common.Address `json:"from"`
	Burned   *big.Int       `json:"burned"`
	Treasury *big.Int       `json:"treasury"`
	Founders *big.Int       `json:"founders"`
}

func (FeesDistributed) EventName() string { return "FeesDistributed" }

type SharesUpdated struct {
	Shares Shares `json:"shares"`
}

func (SharesUpdated) EventName() string { return "SharesUpdated" }

// Manager distributes revenue.
type Manager struct {
	address  common.Address
	token    *token.Ledger
	acl      *access.Control
	shares   Shares
	treasury common.Address
	founders common.Address

	burned      *big.Int
	distributed *big.Int
}

// NewManager creates a fee manager for the given fee token.
func NewManager(address, admin common.Address, feeToken *token.Ledger, treasury, founders common.Address, shares Shares) (*Manager, error) {
	if err := shares.Validate(); err != nil {
		return nil, err
	}
	if treasury == (common.Address{}) || founders == (common.Address{}) {
		return nil, reverts.Wrapf(reverts.ErrInvalidConfig, "treasury and founders addresses are required")
	}
	return &Manager{
		address:     address,
		token:       feeToken,
		acl:         access.NewControl(address, admin),
		shares:      shares,
		treasury:    treasury,
		founders:    founders,
		burned:      new(big.Int),
		distributed: new(big.Int),
	}, nil
}

// Address returns the manager's ledger address.
func (m *Manager) Address() common.Address { return m.address }

// Access returns the admin role table.
func (m *Manager) Access() *access.Control { return m.acl }

// Shares returns the current split in basis points.
func (m *Manager) Shares() Shares { return m.shares }

// Treasury returns the recipient of the treasury share.
func (m *Manager) Treasury() common.Address { return m.treasury }

// Founders returns the recipient of the founders share.
func (m *Manager) Founders() common.Address { return m.founders }

// TotalBurned returns everything burned through this manager.
func (m *Manager) TotalBurned() *big.Int { return new(big.Int).Set(m.burned) }

// TotalDistributed returns everything passed through this manager.
func (m *Manager) TotalDistributed() *big.Int { return new(big.Int).Set(m.distributed) }

// Distribute splits amount held by from. Rounding dust goes to the
// founders share so nothing is left behind.
func (m *Manager) Distribute(tx *chain.Tx, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroAmount
	}
	s := m.shares
	burn := bps(amount, s.BurnBps)
	treasury := bps(amount, s.TreasuryBps)
	founders := new(big.Int).Sub(amount, burn)
	founders.Sub(founders, treasury)

	if burn.Sign() > 0 {
		if err := m.token.Burn(tx, from, burn); err != nil {
			return err
		}
	}
	if treasury.Sign() > 0 {
		if err := m.token.Transfer(tx, from, m.treasury, treasury); err != nil {
			return err
		}
	}
	if founders.Sign() > 0 {
		if err := m.token.Transfer(tx, from, m.founders, founders); err != nil {
			return err
		}
	}
	chain.Assign(tx, &m.burned, new(big.Int).Add(m.burned, burn))
	chain.Assign(tx, &m.distributed, new(big.Int).Add(m.distributed, amount))

	tx.Emit(FeesDistributed{From: from, Burned: burn, Treasury: treasury, Founders: founders})
	tx.OnCommit(func() {
		logging.Info("fees distributed",
			"from", from.Hex(),
			"amount", amount.String(),
			"burned", burn.String(),
			logging.Component("fees"))
	})
	return nil
}

// SetShares replaces the distribution weights.
func (m *Manager) SetShares(tx *chain.Tx, caller common.Address, shares Shares) error {
	if err := m.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if err := shares.Validate(); err != nil {
		return err
	}
	chain.Assign(tx, &m.shares, shares)
	tx.Emit(SharesUpdated{Shares: shares})
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: "fee_shares_updated",
			Actor:     caller.Hex(),
			Target:    m.address.Hex(),
			Result:    "success",
		})
	})
	return nil
}

func bps(amount *big.Int, b uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(b))
	return out.Div(out, big.NewInt(totalBps))
}
