// Package tier maps a user's stake in the platform token to a discrete tier
// and enforces a cooldown before freshly added stake can be withdrawn.
package tier

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

// DefaultCooldown is how long stake must sit before it can be unstaked.
const DefaultCooldown = 3 * 24 * time.Hour

// Source resolves a user's tier. GetTier never fails; unknown users are
// tier 0.
type Source interface {
	GetTier(user common.Address) uint8
}

// Fixed is a Source backed by a static table.
type Fixed map[common.Address]uint8

// GetTier implements Source.
func (f Fixed) GetTier(user common.Address) uint8 { return f[user] }

// Params is one immutable version of the tier configuration.
type Params struct {
	Version    uint64
	Thresholds []*big.Int // Thresholds[i] is the minimum stake for tier i
	Cooldown   time.Duration
}

// Record is a user's staking position.
type Record struct {
	User                common.Address `json:"user"`
	CurrentStake        *big.Int       `json:"currentStake"`
	Tier                uint8          `json:"tier"`
	LastStakeChangeTime time.Time      `json:"lastStakeChangeTime"`
	BadgeID             uint64         `json:"badgeId"`
}

type position struct {
	stake        *big.Int
	lastIncrease time.Time
}

// System is the tier oracle.
type System struct {
	address common.Address
	token   *token.Ledger
	acl     *access.Control
	params  *Params
	badges  *Badges

	positions map[common.Address]position
}

// NewSystem creates a tier oracle over the platform token. thresholds must
// start at zero and be strictly increasing.
func NewSystem(address, admin common.Address, platform *token.Ledger, thresholds []*big.Int, cooldown time.Duration, badgeBaseURI string) (*System, error) {
	if err := ValidateThresholds(thresholds); err != nil {
		return nil, err
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &System{
		address: address,
		token:   platform,
		acl:     access.NewControl(address, admin),
		params: &Params{
			Version:    1,
			Thresholds: copyAmounts(thresholds),
			Cooldown:   cooldown,
		},
		badges:    NewBadges(badgeBaseURI),
		positions: make(map[common.Address]position),
	}, nil
}

// Address returns the account that custodies staked tokens.
func (s *System) Address() common.Address { return s.address }

// Access returns the admin role table.
func (s *System) Access() *access.Control { return s.acl }

// Badges returns the badge registry.
func (s *System) Badges() *Badges { return s.badges }

// Params returns the current configuration snapshot.
func (s *System) Params() Params {
	p := *s.params
	p.Thresholds = copyAmounts(p.Thresholds)
	return p
}

// TierFor returns the tier a stake of amount earns under the current
// thresholds.
func (s *System) TierFor(amount *big.Int) uint8 {
	return tierFor(s.params.Thresholds, amount)
}

func tierFor(thresholds []*big.Int, amount *big.Int) uint8 {
	if amount == nil {
		return 0
	}
	for i := len(thresholds) - 1; i > 0; i-- {
		if amount.Cmp(thresholds[i]) >= 0 {
			return uint8(i)
		}
	}
	return 0
}

// GetTier returns user's current tier.
func (s *System) GetTier(user common.Address) uint8 {
	pos, ok := s.positions[user]
	if !ok {
		return 0
	}
	return s.TierFor(pos.stake)
}

// Record returns user's staking position.
func (s *System) Record(user common.Address) Record {
	pos, ok := s.positions[user]
	rec := Record{User: user, CurrentStake: new(big.Int)}
	if !ok {
		return rec
	}
	rec.CurrentStake.Set(pos.stake)
	rec.Tier = s.TierFor(pos.stake)
	rec.LastStakeChangeTime = pos.lastIncrease
	rec.BadgeID = s.badges.BadgeOf(user)
	return rec
}

// CooldownEnds returns when user's stake becomes withdrawable.
func (s *System) CooldownEnds(user common.Address) time.Time {
	pos, ok := s.positions[user]
	if !ok || pos.lastIncrease.IsZero() {
		return time.Time{}
	}
	return pos.lastIncrease.Add(s.params.Cooldown)
}

// Stake locks amount of the platform token for user and restarts the
// cooldown.
func (s *System) Stake(tx *chain.Tx, user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroAmount
	}
	if err := s.token.TransferFrom(tx, s.address, user, s.address, amount); err != nil {
		return err
	}

	pos := s.position(user)
	total := new(big.Int).Add(pos.stake, amount)
	s.update(tx, user, pos.stake, position{stake: total, lastIncrease: tx.Now()})

	tx.Emit(Staked{User: user, Amount: new(big.Int).Set(amount), Total: new(big.Int).Set(total)})
	tx.OnCommit(func() {
		logging.Info("tier stake added",
			"user", user.Hex(),
			"amount", amount.String(),
			"total", total.String(),
			logging.Component("tier"))
	})
	return nil
}

// Unstake returns amount to user. It fails with CooldownInEffect until the
// cooldown from the last stake increase has elapsed. Decreases do not
// restart the cooldown.
func (s *System) Unstake(tx *chain.Tx, user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroAmount
	}
	pos := s.position(user)
	if pos.stake.Cmp(amount) < 0 {
		return reverts.Wrapf(reverts.ErrInsufficientStake, "staked %s, requested %s", pos.stake, amount)
	}
	if ends := pos.lastIncrease.Add(s.params.Cooldown); tx.Now().Before(ends) {
		return reverts.TooEarly(reverts.ErrCooldownInEffect, ends)
	}
	if err := s.token.Transfer(tx, s.address, user, amount); err != nil {
		return err
	}

	total := new(big.Int).Sub(pos.stake, amount)
	s.update(tx, user, pos.stake, position{stake: total, lastIncrease: pos.lastIncrease})
	tx.Emit(Unstaked{User: user, Amount: new(big.Int).Set(amount), Total: new(big.Int).Set(total)})
	return nil
}

func (s *System) position(user common.Address) position {
	pos, ok := s.positions[user]
	if !ok {
		return position{stake: new(big.Int)}
	}
	return pos
}

// update stores pos and handles tier changes and the badge. Both tiers
// come from the current thresholds, so a threshold change between two
// stake changes is not reported as a tier move.
func (s *System) update(tx *chain.Tx, user common.Address, prevStake *big.Int, pos position) {
	oldTier := s.TierFor(prevStake)
	newTier := s.TierFor(pos.stake)
	chain.Set(tx, s.positions, user, pos)

	if newTier != oldTier {
		tx.Emit(TierChanged{User: user, OldTier: oldTier, NewTier: newTier})
	}
	if id := s.badges.BadgeOf(user); id != 0 {
		s.badges.Update(tx, id, newTier)
	} else if newTier > oldTier {
		s.badges.Mint(tx, user, newTier)
	}
}

// ─── Admin Setters ───────────────────────────────────────────────────────────

// SetThresholds replaces the threshold table. Tiers are recomputed on read.
func (s *System) SetThresholds(tx *chain.Tx, caller common.Address, thresholds []*big.Int) error {
	if err := s.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if err := ValidateThresholds(thresholds); err != nil {
		return err
	}
	next := s.Params()
	next.Version++
	next.Thresholds = copyAmounts(thresholds)
	chain.Assign(tx, &s.params, &next)
	tx.Emit(ThresholdsUpdated{Version: next.Version, Thresholds: copyAmounts(thresholds)})
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: "tier_thresholds_updated",
			Actor:     caller.Hex(),
			Target:    s.address.Hex(),
			Result:    "success",
		})
	})
	return nil
}

// ValidateThresholds checks that thresholds start at zero and strictly increase.
func ValidateThresholds(thresholds []*big.Int) error {
	if len(thresholds) == 0 || len(thresholds) > 256 {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "need between 1 and 256 thresholds")
	}
	if thresholds[0] == nil || thresholds[0].Sign() != 0 {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "tier 0 threshold must be zero")
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] == nil || thresholds[i].Cmp(thresholds[i-1]) <= 0 {
			return reverts.Wrapf(reverts.ErrInvalidConfig, "thresholds must be strictly increasing at tier %d", i)
		}
	}
	return nil
}

func copyAmounts(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).Set(v)
	}
	return out
}
