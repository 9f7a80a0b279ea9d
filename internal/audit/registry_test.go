package audit

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/stake"
	"github.com/modlnet/modl/internal/template"
	"github.com/modlnet/modl/internal/tier"
	"github.com/modlnet/modl/internal/token"
)

var (
	registryAddr = common.HexToAddress("0xa0")
	stakeAddr    = common.HexToAddress("0x5a")
	modlAddr     = common.HexToAddress("0x70")
	admin        = common.HexToAddress("0xad")
	auditor      = common.HexToAddress("0xa1")
	verifier     = common.HexToAddress("0xb1")
	stranger     = common.HexToAddress("0xc1")
	treasury     = common.HexToAddress("0x7e")
	subject      = common.HexToAddress("0x5b")

	templateID = crypto.Keccak256Hash([]byte("dummyTemplate"))
)

type fixture struct {
	state  *chain.State
	modl   *token.Ledger
	stakes *stake.Manager
	tiers  tier.Fixed
	reg    *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens := token.NewRegistry()
	modl := token.NewLedger(modlAddr, "Modl", "MODL", 18)
	if err := tokens.Add(modl); err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		state:  chain.NewState(time.Unix(1_700_000_000, 0)),
		modl:   modl,
		stakes: stake.NewManager(stakeAddr, admin, tokens, stake.DefaultParams()),
		tiers:  tier.Fixed{auditor: 2},
	}
	params := Params{
		RewardAmount:      big.NewInt(100),
		SlashAmount:       big.NewInt(50),
		SlashBeneficiary:  treasury,
		TierMultiplierBps: map[uint8]uint64{2: 12500},
	}
	var err error
	f.reg, err = NewRegistry(registryAddr, admin, modl, f.stakes, f.tiers, nil, params)
	if err != nil {
		t.Fatal(err)
	}

	f.exec(t, admin, func(tx *chain.Tx) error {
		if err := f.reg.Access().Grant(tx, admin, access.AuditorRole, auditor); err != nil {
			return err
		}
		if err := f.reg.Access().Grant(tx, admin, access.VerifierRole, verifier); err != nil {
			return err
		}
		if err := f.stakes.Access().Grant(tx, admin, access.PenalizerRole, registryAddr); err != nil {
			return err
		}
		if err := modl.Mint(tx, auditor, big.NewInt(500)); err != nil {
			return err
		}
		if err := modl.Mint(tx, admin, big.NewInt(1000)); err != nil {
			return err
		}
		if err := modl.Approve(tx, auditor, stakeAddr, big.NewInt(500)); err != nil {
			return err
		}
		if err := modl.Approve(tx, admin, registryAddr, big.NewInt(1000)); err != nil {
			return err
		}
		if err := f.stakes.SetManagerOwner(tx, auditor, auditor); err != nil {
			return err
		}
		return f.stakes.StakeForManager(tx, auditor, modlAddr, auditor, 24*time.Hour, big.NewInt(500))
	})
	return f
}

func (f *fixture) exec(t *testing.T, origin common.Address, fn func(tx *chain.Tx) error) {
	t.Helper()
	if _, err := f.state.Exec(origin, fn); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
}

func (f *fixture) submit(t *testing.T) int {
	t.Helper()
	var idx int
	f.exec(t, auditor, func(tx *chain.Tx) error {
		var err error
		idx, err = f.reg.SubmitAudit(tx, auditor, templateID, subject, "ipfs://report", 2)
		return err
	})
	return idx
}

func TestScenarioD_ReportURIRequired(t *testing.T) {
	f := newFixture(t)

	_, err := f.state.Exec(auditor, func(tx *chain.Tx) error {
		_, err := f.reg.SubmitAudit(tx, auditor, templateID, subject, "", 2)
		return err
	})
	if !errors.Is(err, reverts.ErrReportURIRequired) {
		t.Fatalf("expected ErrReportURIRequired, got %v", err)
	}
	if f.reg.AuditCount(templateID) != 0 {
		t.Fatal("rejected submission was recorded")
	}

	idx := f.submit(t)
	a, err := f.reg.GetAudit(templateID, idx)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusPending || a.Disputed {
		t.Errorf("audit = %+v, want Pending and undisputed", a)
	}
	if a.Auditor != auditor || a.Subject != subject || a.ReportURI != "ipfs://report" {
		t.Errorf("audit fields = %+v", a)
	}
}

func TestScenarioE_RejectSlashes(t *testing.T) {
	f := newFixture(t)
	idx := f.submit(t)

	f.exec(t, verifier, func(tx *chain.Tx) error {
		return f.reg.VerifyAudit(tx, verifier, templateID, idx, false)
	})

	if got := f.stakes.StakeAmount(auditor); got.Int64() != 450 {
		t.Errorf("auditor stake = %s, want 450", got)
	}
	if got := f.modl.BalanceOf(treasury); got.Int64() != 50 {
		t.Errorf("beneficiary got %s, want 50", got)
	}
	a, _ := f.reg.GetAudit(templateID, idx)
	if a.Status != StatusRejected || a.Slashed.Int64() != 50 || a.Verifier != verifier {
		t.Errorf("audit = %+v", a)
	}

	_, err := f.state.Exec(verifier, func(tx *chain.Tx) error {
		return f.reg.VerifyAudit(tx, verifier, templateID, idx, false)
	})
	if !errors.Is(err, reverts.ErrAuditAlreadyFinalized) {
		t.Errorf("expected ErrAuditAlreadyFinalized, got %v", err)
	}
	if got := f.stakes.StakeAmount(auditor); got.Int64() != 450 {
		t.Errorf("second verify slashed again: stake %s", got)
	}
}

func TestApprovePaysTierScaledReward(t *testing.T) {
	f := newFixture(t)
	idx := f.submit(t)

	_, err := f.state.Exec(verifier, func(tx *chain.Tx) error {
		return f.reg.VerifyAudit(tx, verifier, templateID, idx, true)
	})
	if !errors.Is(err, reverts.ErrRewardPoolDepleted) {
		t.Fatalf("expected ErrRewardPoolDepleted, got %v", err)
	}

	f.exec(t, admin, func(tx *chain.Tx) error {
		return f.reg.FundRewardPool(tx, admin, big.NewInt(1000))
	})
	f.exec(t, verifier, func(tx *chain.Tx) error {
		return f.reg.VerifyAudit(tx, verifier, templateID, idx, true)
	})

	// 100 * 12500 / 10000
	if got := f.modl.BalanceOf(auditor); got.Int64() != 125 {
		t.Errorf("auditor balance = %s, want 125", got)
	}
	if got := f.reg.RewardPool(); got.Int64() != 875 {
		t.Errorf("pool = %s, want 875", got)
	}
	a, _ := f.reg.GetAudit(templateID, idx)
	if a.Status != StatusApproved || a.Reward.Int64() != 125 {
		t.Errorf("audit = %+v", a)
	}
	if f.stakes.StakeAmount(auditor).Int64() != 500 {
		t.Error("approval must not touch the stake")
	}
}

func TestRejectWithoutStake(t *testing.T) {
	f := newFixture(t)
	f.exec(t, admin, func(tx *chain.Tx) error {
		return f.reg.Access().Grant(tx, admin, access.AuditorRole, stranger)
	})
	var idx int
	f.exec(t, stranger, func(tx *chain.Tx) error {
		var err error
		idx, err = f.reg.SubmitAudit(tx, stranger, templateID, subject, "ipfs://x", 0)
		return err
	})
	f.exec(t, verifier, func(tx *chain.Tx) error {
		return f.reg.VerifyAudit(tx, verifier, templateID, idx, false)
	})
	a, _ := f.reg.GetAudit(templateID, idx)
	if a.Status != StatusRejected || a.Slashed.Sign() != 0 {
		t.Errorf("audit = %+v, want Rejected with nothing slashed", a)
	}
}

func TestRevokedAuditorCannotSubmit(t *testing.T) {
	f := newFixture(t)
	f.submit(t)

	f.exec(t, admin, func(tx *chain.Tx) error {
		return f.reg.Access().Revoke(tx, admin, access.AuditorRole, auditor)
	})
	_, err := f.state.Exec(auditor, func(tx *chain.Tx) error {
		_, err := f.reg.SubmitAudit(tx, auditor, templateID, subject, "ipfs://again", 2)
		return err
	})
	if !errors.Is(err, reverts.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if reverts.KindOf(err) != reverts.KindUnauthorized {
		t.Errorf("kind = %s", reverts.KindOf(err))
	}
	if f.reg.AuditCount(templateID) != 1 {
		t.Errorf("count = %d, want 1", f.reg.AuditCount(templateID))
	}
}

func TestSubmitAudit_TierClaim(t *testing.T) {
	f := newFixture(t)
	_, err := f.state.Exec(auditor, func(tx *chain.Tx) error {
		_, err := f.reg.SubmitAudit(tx, auditor, templateID, subject, "ipfs://report", 3)
		return err
	})
	if !errors.Is(err, reverts.ErrAuditorTierMismatch) {
		t.Errorf("expected ErrAuditorTierMismatch, got %v", err)
	}
}

func TestDisputeAudit(t *testing.T) {
	f := newFixture(t)
	idx := f.submit(t)

	_, err := f.state.Exec(stranger, func(tx *chain.Tx) error {
		return f.reg.DisputeAudit(tx, stranger, templateID, idx, "")
	})
	if !errors.Is(err, reverts.ErrDisputeReasonRequired) {
		t.Errorf("expected ErrDisputeReasonRequired, got %v", err)
	}
	_, err = f.state.Exec(stranger, func(tx *chain.Tx) error {
		return f.reg.DisputeAudit(tx, stranger, templateID, idx+1, "copied report")
	})
	if !errors.Is(err, reverts.ErrAuditDoesNotExist) {
		t.Errorf("expected ErrAuditDoesNotExist, got %v", err)
	}

	f.exec(t, stranger, func(tx *chain.Tx) error {
		return f.reg.DisputeAudit(tx, stranger, templateID, idx, "copied report")
	})
	a, _ := f.reg.GetAudit(templateID, idx)
	if !a.Disputed || a.DisputeReason != "copied report" {
		t.Errorf("audit = %+v", a)
	}
	if a.Status != StatusPending {
		t.Errorf("dispute changed status to %s", a.Status)
	}
}

func TestDisputeAudit_AfterVerify(t *testing.T) {
	tests := []struct {
		name    string
		approve bool
		want    Status
	}{
		{name: "approved", approve: true, want: StatusApproved},
		{name: "rejected", approve: false, want: StatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			idx := f.submit(t)
			f.exec(t, verifier, func(tx *chain.Tx) error {
				return f.reg.VerifyAudit(tx, verifier, templateID, idx, tt.approve)
			})
			before := len(f.state.Events())

			_, err := f.state.Exec(stranger, func(tx *chain.Tx) error {
				return f.reg.DisputeAudit(tx, stranger, templateID, idx, "too late")
			})
			if !errors.Is(err, reverts.ErrAuditAlreadyFinalized) {
				t.Fatalf("expected ErrAuditAlreadyFinalized, got %v", err)
			}
			a, _ := f.reg.GetAudit(templateID, idx)
			if a.Disputed || a.DisputeReason != "" || a.Status != tt.want {
				t.Errorf("audit = %+v", a)
			}
			if got := len(f.state.Events()); got != before {
				t.Errorf("rejected dispute emitted %d events", got-before)
			}
		})
	}
}

func TestSubmitAudit_TemplateCatalog(t *testing.T) {
	f := newFixture(t)
	catalog := template.NewRegistry(common.HexToAddress("0x7a"), admin)
	var err error
	f.reg, err = NewRegistry(registryAddr, admin, f.modl, f.stakes, f.tiers, catalog, f.reg.Params())
	if err != nil {
		t.Fatal(err)
	}
	f.exec(t, admin, func(tx *chain.Tx) error {
		if err := f.reg.Access().Grant(tx, admin, access.AuditorRole, auditor); err != nil {
			return err
		}
		if err := f.reg.Access().Grant(tx, admin, access.VerifierRole, verifier); err != nil {
			return err
		}
		return f.reg.FundRewardPool(tx, admin, big.NewInt(1000))
	})

	_, err = f.state.Exec(auditor, func(tx *chain.Tx) error {
		_, err := f.reg.SubmitAudit(tx, auditor, templateID, subject, "ipfs://report", 2)
		return err
	})
	if !errors.Is(err, reverts.ErrTemplateDoesNotExist) {
		t.Fatalf("expected ErrTemplateDoesNotExist, got %v", err)
	}

	var id common.Hash
	f.exec(t, stranger, func(tx *chain.Tx) error {
		var err error
		id, err = catalog.RegisterTemplate(tx, stranger, subject, "Vault", "1.0.0", template.KindContract)
		return err
	})
	var idx int
	f.exec(t, auditor, func(tx *chain.Tx) error {
		var err error
		idx, err = f.reg.SubmitAudit(tx, auditor, id, subject, "ipfs://vault-report", 2)
		return err
	})
	if got, _ := catalog.GetTemplate(id); got.Audited {
		t.Fatal("template audited before approval")
	}

	f.exec(t, verifier, func(tx *chain.Tx) error {
		return f.reg.VerifyAudit(tx, verifier, id, idx, true)
	})
	got, _ := catalog.GetTemplate(id)
	if !got.Audited || got.AuditHash != "ipfs://vault-report" {
		t.Errorf("template after approval = %+v", got)
	}
}

func TestVerifyAudit_RequiresVerifier(t *testing.T) {
	f := newFixture(t)
	idx := f.submit(t)
	_, err := f.state.Exec(auditor, func(tx *chain.Tx) error {
		return f.reg.VerifyAudit(tx, auditor, templateID, idx, true)
	})
	if !errors.Is(err, reverts.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	_, err = f.state.Exec(verifier, func(tx *chain.Tx) error {
		return f.reg.VerifyAudit(tx, verifier, templateID, 9, true)
	})
	if !errors.Is(err, reverts.ErrAuditDoesNotExist) {
		t.Errorf("expected ErrAuditDoesNotExist, got %v", err)
	}
}

func TestAdminSetters(t *testing.T) {
	f := newFixture(t)

	_, err := f.state.Exec(stranger, func(tx *chain.Tx) error {
		return f.reg.SetRewardAmount(tx, stranger, big.NewInt(1))
	})
	if !errors.Is(err, reverts.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	_, err = f.state.Exec(admin, func(tx *chain.Tx) error {
		return f.reg.SetSlashAmount(tx, admin, big.NewInt(-1))
	})
	if !errors.Is(err, reverts.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	f.exec(t, admin, func(tx *chain.Tx) error {
		if err := f.reg.SetRewardAmount(tx, admin, big.NewInt(40)); err != nil {
			return err
		}
		if err := f.reg.SetSlashBeneficiary(tx, admin, stranger); err != nil {
			return err
		}
		return f.reg.SetTierRewardMultiplier(tx, admin, 2, 20000)
	})
	p := f.reg.Params()
	if p.Version != 4 || p.RewardAmount.Int64() != 40 || p.SlashBeneficiary != stranger || p.RewardFor(2).Int64() != 80 {
		t.Errorf("params = %+v", p)
	}
	if p.RewardFor(7).Int64() != 40 {
		t.Errorf("tier without multiplier should pay the base reward, got %s", p.RewardFor(7))
	}
}

func TestRevertedVerifyLeavesAuditPending(t *testing.T) {
	f := newFixture(t)
	idx := f.submit(t)

	_, err := f.state.Exec(verifier, func(tx *chain.Tx) error {
		if err := f.reg.VerifyAudit(tx, verifier, templateID, idx, false); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected abort")
	}
	a, _ := f.reg.GetAudit(templateID, idx)
	if a.Status != StatusPending {
		t.Errorf("status = %s after revert", a.Status)
	}
	if f.stakes.StakeAmount(auditor).Int64() != 500 {
		t.Error("slash survived the revert")
	}
}
