// Package audit records template audits and settles them: approved audits
// earn a reward from a funded pool, rejected ones cost the auditor stake.
package audit

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/tier"
	"github.com/modlnet/modl/internal/token"
	"github.com/modlnet/modl/pkg/types"
)

// Status is where an audit is in its lifecycle.
type Status uint8

const (
	StatusPending Status = iota
	StatusApproved
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusApproved:
		return "Approved"
	case StatusRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	for _, v := range []Status{StatusPending, StatusApproved, StatusRejected} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown audit status %q", text)
}

// Audit is one submitted report.
type Audit struct {
	Auditor       common.Address `json:"auditor"`
	Subject       common.Address `json:"subject"`
	ReportURI     string         `json:"reportUri"`
	AuditorTier   uint8          `json:"auditorTier"`
	Status        Status         `json:"status"`
	Disputed      bool           `json:"disputed"`
	DisputeReason string         `json:"disputeReason,omitempty"`
	SubmittedAt   time.Time      `json:"submittedAt"`
	VerifiedAt    time.Time      `json:"verifiedAt,omitempty"`
	Verifier      common.Address `json:"verifier,omitempty"`
	Reward        *big.Int       `json:"reward,omitempty"`
	Slashed       *big.Int       `json:"slashed,omitempty"`
}

// Slasher takes stake from an auditor.
type Slasher interface {
	Slash(tx *chain.Tx, caller, manager common.Address, amount *big.Int, beneficiary common.Address) (*big.Int, error)
}

// Catalog is the set of templates that may be audited. Approving an audit
// marks its template audited.
type Catalog interface {
	HasTemplate(id common.Hash) bool
	RecordAudit(tx *chain.Tx, id common.Hash, reportURI string) error
}

// Params is one immutable version of the reward and slash settings.
type Params struct {
	Version          uint64
	RewardAmount     *big.Int
	SlashAmount      *big.Int
	SlashBeneficiary common.Address
	// TierMultiplierBps scales RewardAmount by auditor tier. Missing tiers
	// pay the base amount.
	TierMultiplierBps map[uint8]uint64
}

// DefaultParams pays 10 MODL per approved audit and slashes 50 MODL per
// rejected one. Multipliers come from the default tier table.
func DefaultParams() Params {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	mult := make(map[uint8]uint64)
	for _, t := range types.DefaultTiers() {
		mult[t.Level] = uint64(t.RewardMultiplierBps)
	}
	return Params{
		Version:           1,
		RewardAmount:      new(big.Int).Mul(big.NewInt(10), unit),
		SlashAmount:       new(big.Int).Mul(big.NewInt(50), unit),
		TierMultiplierBps: mult,
	}
}

func (p Params) clone() Params {
	out := p
	out.RewardAmount = new(big.Int).Set(p.RewardAmount)
	out.SlashAmount = new(big.Int).Set(p.SlashAmount)
	out.TierMultiplierBps = make(map[uint8]uint64, len(p.TierMultiplierBps))
	for k, v := range p.TierMultiplierBps {
		out.TierMultiplierBps[k] = v
	}
	return out
}

// Validate rejects negative amounts.
func (p Params) Validate() error {
	if p.RewardAmount == nil || p.RewardAmount.Sign() < 0 {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "reward amount must not be negative")
	}
	if p.SlashAmount == nil || p.SlashAmount.Sign() < 0 {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "slash amount must not be negative")
	}
	return nil
}

// RewardFor is the reward for an approved audit at tier t.
func (p Params) RewardFor(t uint8) *big.Int {
	r := new(big.Int).Set(p.RewardAmount)
	if m, ok := p.TierMultiplierBps[t]; ok {
		r.Mul(r, new(big.Int).SetUint64(m))
		r.Div(r, big.NewInt(10000))
	}
	return r
}

// Registry is the audit registry.
type Registry struct {
	address   common.Address
	acl       *access.Control
	reward    *token.Ledger
	stakes    Slasher
	tiers     tier.Source
	templates Catalog
	params    *Params

	audits map[common.Hash][]Audit
	pool   *big.Int
}

// NewRegistry creates a registry paying rewards in rewardToken. tiers may
// be nil, in which case claimed auditor tiers are trusted. templates may be
// nil, in which case any template id is accepted.
func NewRegistry(address, admin common.Address, rewardToken *token.Ledger, stakes Slasher, tiers tier.Source, templates Catalog, params Params) (*Registry, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := params.clone()
	return &Registry{
		address:   address,
		acl:       access.NewControl(address, admin),
		reward:    rewardToken,
		stakes:    stakes,
		tiers:     tiers,
		templates: templates,
		params:    &p,
		audits:    make(map[common.Hash][]Audit),
		pool:      new(big.Int),
	}, nil
}

// Address is the registry's account. It pays rewards and must hold the
// penalizer role on the stake manager.
func (r *Registry) Address() common.Address { return r.address }

// Access returns the auditor, verifier and admin roles.
func (r *Registry) Access() *access.Control { return r.acl }

// Params returns a copy of the reward and slash parameters.
func (r *Registry) Params() Params { return r.params.clone() }

// RewardPool returns the unspent reward balance.
func (r *Registry) RewardPool() *big.Int { return new(big.Int).Set(r.pool) }

// AuditCount returns the number of audits for templateID.
func (r *Registry) AuditCount(templateID common.Hash) int { return len(r.audits[templateID]) }

// GetAudits returns every audit for templateID.
func (r *Registry) GetAudits(templateID common.Hash) []Audit {
	list := r.audits[templateID]
	out := make([]Audit, len(list))
	for i, a := range list {
		out[i] = a.copy()
	}
	return out
}

// GetAudit returns one audit.
func (r *Registry) GetAudit(templateID common.Hash, index int) (Audit, error) {
	list := r.audits[templateID]
	if index < 0 || index >= len(list) {
		return Audit{}, reverts.Wrapf(reverts.ErrAuditDoesNotExist, "template %s index %d", templateID.Hex(), index)
	}
	return list[index].copy(), nil
}

// TemplateIDs returns every template with at least one audit.
func (r *Registry) TemplateIDs() []common.Hash {
	ids := make([]common.Hash, 0, len(r.audits))
	for id := range r.audits {
		ids = append(ids, id)
	}
	return ids
}

func (a Audit) copy() Audit {
	if a.Reward != nil {
		a.Reward = new(big.Int).Set(a.Reward)
	}
	if a.Slashed != nil {
		a.Slashed = new(big.Int).Set(a.Slashed)
	}
	return a
}

// setAudit replaces one entry, copying the slice so reverts restore the
// old one intact.
func (r *Registry) setAudit(tx *chain.Tx, templateID common.Hash, index int, a Audit) {
	old := r.audits[templateID]
	next := make([]Audit, len(old))
	copy(next, old)
	next[index] = a
	chain.Set(tx, r.audits, templateID, next)
}

// SubmitAudit records a Pending audit. The caller must hold AuditorRole at
// the time of the call.
func (r *Registry) SubmitAudit(tx *chain.Tx, caller common.Address, templateID common.Hash, subject common.Address, reportURI string, auditorTier uint8) (int, error) {
	if err := r.acl.Check(access.AuditorRole, caller); err != nil {
		return 0, err
	}
	if reportURI == "" {
		return 0, reverts.ErrReportURIRequired
	}
	if r.templates != nil && !r.templates.HasTemplate(templateID) {
		return 0, reverts.Wrapf(reverts.ErrTemplateDoesNotExist, "%s", templateID.Hex())
	}
	if r.tiers != nil {
		if actual := r.tiers.GetTier(caller); auditorTier > actual {
			return 0, reverts.Wrapf(reverts.ErrAuditorTierMismatch, "claimed %d, actual %d", auditorTier, actual)
		}
	}

	old := r.audits[templateID]
	next := make([]Audit, len(old), len(old)+1)
	copy(next, old)
	next = append(next, Audit{
		Auditor:     caller,
		Subject:     subject,
		ReportURI:   reportURI,
		AuditorTier: auditorTier,
		Status:      StatusPending,
		SubmittedAt: tx.Now(),
	})
	chain.Set(tx, r.audits, templateID, next)
	index := len(next) - 1

	tx.Emit(AuditSubmitted{
		TemplateID:  templateID,
		Index:       index,
		Auditor:     caller,
		Subject:     subject,
		ReportURI:   reportURI,
		AuditorTier: auditorTier,
	})
	tx.OnCommit(func() {
		logging.Info("audit submitted",
			"template", templateID.Hex(),
			"index", index,
			"auditor", caller.Hex(),
			logging.Component("audit"))
	})
	return index, nil
}

// DisputeAudit flags a Pending audit. Anyone may dispute; the status is
// left for a verifier to decide. A verified audit cannot be disputed.
func (r *Registry) DisputeAudit(tx *chain.Tx, caller common.Address, templateID common.Hash, index int, reason string) error {
	if reason == "" {
		return reverts.ErrDisputeReasonRequired
	}
	a, err := r.GetAudit(templateID, index)
	if err != nil {
		return err
	}
	if a.Status != StatusPending {
		return reverts.Wrapf(reverts.ErrAuditAlreadyFinalized, "audit is %s", a.Status)
	}
	a.Disputed = true
	a.DisputeReason = reason
	r.setAudit(tx, templateID, index, a)
	tx.Emit(AuditDisputed{TemplateID: templateID, Index: index, Disputer: caller, Reason: reason})
	return nil
}

// VerifyAudit approves or rejects a Pending audit. Approval pays the tier
// scaled reward from the pool; rejection slashes the auditor's stake. An
// auditor with no stake is still rejected, with nothing slashed.
func (r *Registry) VerifyAudit(tx *chain.Tx, caller common.Address, templateID common.Hash, index int, approve bool) error {
	if err := r.acl.Check(access.VerifierRole, caller); err != nil {
		return err
	}
	a, err := r.GetAudit(templateID, index)
	if err != nil {
		return err
	}
	if a.Status != StatusPending {
		return reverts.Wrapf(reverts.ErrAuditAlreadyFinalized, "audit is %s", a.Status)
	}
	params := r.params

	a.Verifier = caller
	a.VerifiedAt = tx.Now()
	if approve {
		reward := params.RewardFor(a.AuditorTier)
		if reward.Cmp(r.pool) > 0 {
			return reverts.Wrapf(reverts.ErrRewardPoolDepleted, "pool %s, reward %s", r.pool, reward)
		}
		if reward.Sign() > 0 {
			if err := r.reward.Transfer(tx, r.address, a.Auditor, reward); err != nil {
				return err
			}
			chain.Assign(tx, &r.pool, new(big.Int).Sub(r.pool, reward))
		}
		if r.templates != nil {
			if err := r.templates.RecordAudit(tx, templateID, a.ReportURI); err != nil {
				return err
			}
		}
		a.Status = StatusApproved
		a.Reward = reward
		tx.Emit(RewardPaid{TemplateID: templateID, Index: index, Auditor: a.Auditor, Amount: new(big.Int).Set(reward)})
	} else {
		slashed := new(big.Int)
		if params.SlashAmount.Sign() > 0 && r.stakes != nil {
			taken, err := r.stakes.Slash(tx, r.address, a.Auditor, params.SlashAmount, params.SlashBeneficiary)
			switch {
			case errors.Is(err, reverts.ErrNoStake):
				auditor := a.Auditor
				tx.OnCommit(func() {
					logging.Warn("rejected auditor has no stake",
						"auditor", auditor.Hex(),
						logging.Component("audit"))
				})
			case err != nil:
				return err
			default:
				slashed = taken
			}
		}
		a.Status = StatusRejected
		a.Slashed = slashed
		tx.Emit(AuditorSlashed{
			TemplateID:  templateID,
			Index:       index,
			Auditor:     a.Auditor,
			Amount:      new(big.Int).Set(slashed),
			Beneficiary: params.SlashBeneficiary,
		})
	}
	r.setAudit(tx, templateID, index, a)
	tx.Emit(AuditVerified{TemplateID: templateID, Index: index, Verifier: caller, Status: a.Status})
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: "audit_verified",
			Actor:     caller.Hex(),
			Target:    a.Auditor.Hex(),
			Result:    a.Status.String(),
			Details:   fmt.Sprintf("template=%s index=%d", templateID.Hex(), index),
		})
	})
	return nil
}

// FundRewardPool moves amount of the reward token from caller into the
// pool. The caller must have approved the registry.
func (r *Registry) FundRewardPool(tx *chain.Tx, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return reverts.ErrZeroDeposit
	}
	if err := r.reward.TransferFrom(tx, r.address, caller, r.address, amount); err != nil {
		return err
	}
	chain.Assign(tx, &r.pool, new(big.Int).Add(r.pool, amount))
	tx.Emit(RewardPoolFunded{From: caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// ─── Admin Setters ───────────────────────────────────────────────────────────

func (r *Registry) SetRewardAmount(tx *chain.Tx, caller common.Address, amount *big.Int) error {
	return r.update(tx, caller, "reward_amount", func(next *Params) {
		next.RewardAmount = amount
	})
}

func (r *Registry) SetSlashAmount(tx *chain.Tx, caller common.Address, amount *big.Int) error {
	return r.update(tx, caller, "slash_amount", func(next *Params) {
		next.SlashAmount = amount
	})
}

func (r *Registry) SetSlashBeneficiary(tx *chain.Tx, caller, beneficiary common.Address) error {
	return r.update(tx, caller, "slash_beneficiary", func(next *Params) {
		next.SlashBeneficiary = beneficiary
	})
}

func (r *Registry) SetTierRewardMultiplier(tx *chain.Tx, caller common.Address, t uint8, bps uint64) error {
	return r.update(tx, caller, "tier_reward_multiplier", func(next *Params) {
		next.TierMultiplierBps[t] = bps
	})
}

func (r *Registry) update(tx *chain.Tx, caller common.Address, field string, fn func(next *Params)) error {
	if err := r.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	next := r.params.clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	next = next.clone()
	next.Version++
	chain.Assign(tx, &r.params, &next)
	tx.Emit(ParamsUpdated{Version: next.Version, Field: field})
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: "audit_" + field + "_updated",
			Actor:     caller.Hex(),
			Target:    r.address.Hex(),
			Result:    "success",
		})
	})
	return nil
}
