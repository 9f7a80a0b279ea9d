package daemon

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/audit"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/config"
	"github.com/modlnet/modl/internal/deploy"
	"github.com/modlnet/modl/internal/paymaster"
	"github.com/modlnet/modl/internal/relayhub"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/template"
	"github.com/modlnet/modl/internal/tier"
	"github.com/modlnet/modl/pkg/types"
)

// ScenarioResult is the outcome of one demo scenario.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Title  string   `json:"title"`
	Passed bool     `json:"passed"`
	Steps  []string `json:"steps"`
	Error  string   `json:"error,omitempty"`
}

type scenarioDef struct {
	title  string
	mutate func(cfg *config.Config)
	run    func(s *scenario) error
}

var scenarios = map[string]scenarioDef{
	"A": {title: "Staking moves a user up the tier table", run: runTierScenario},
	"B": {
		title:  "An unfunded paymaster rejects until it is funded",
		mutate: func(cfg *config.Config) { cfg.Paymaster.HubDeposit = "0" },
		run:    runFundingScenario,
	},
	"C": {title: "A relayed call is charged for the gas it used", run: runChargeScenario},
	"D": {title: "An auditor submits a report through the relay", run: runAuditSubmitScenario},
	"E": {title: "A rejected audit slashes the auditor's stake", run: runAuditRejectScenario},
	"F": {title: "A tier 1 user deploys a template without native tokens", run: runDeployScenario},
}

// ScenarioNames lists the demo scenarios in run order.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DemoConfig is the configuration every scenario starts from: defaults
// with a fixed genesis time, no API and quiet logs.
func DemoConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Genesis.Time = "2026-01-01T00:00:00Z"
	cfg.API.Enabled = false
	cfg.Logging.Level = "warn"
	return cfg
}

// RunScenarios runs the named scenarios, or all of them when names is
// empty, each against a fresh node. A failed scenario is reported in its
// result; the error is only for unknown names.
func RunScenarios(names ...string) ([]ScenarioResult, error) {
	if len(names) == 0 {
		names = ScenarioNames()
	}
	for _, name := range names {
		if _, ok := scenarios[name]; !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
	}

	results := make([]ScenarioResult, 0, len(names))
	for _, name := range names {
		results = append(results, runScenario(name, scenarios[name]))
	}
	return results, nil
}

func runScenario(name string, def scenarioDef) ScenarioResult {
	res := ScenarioResult{Name: name, Title: def.title}
	cfg := DemoConfig()
	if def.mutate != nil {
		def.mutate(cfg)
	}
	node, err := NewNode(cfg)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer node.Close()

	s := &scenario{node: node}
	if err := def.run(s); err != nil {
		res.Error = err.Error()
	} else {
		res.Passed = true
	}
	res.Steps = s.steps
	return res
}

// scenario carries a node and the log of what was done to it.
type scenario struct {
	node     *Node
	steps    []string
	template common.Hash
}

func (s *scenario) step(format string, args ...any) {
	s.steps = append(s.steps, fmt.Sprintf(format, args...))
}

func (s *scenario) exec(origin common.Address, fn func(tx *chain.Tx) error) error {
	_, err := s.node.State().Exec(origin, fn)
	return err
}

func (s *scenario) admin() common.Address { return s.node.Addresses().Admin }

// mint gives acct amount of MODL.
func (s *scenario) mint(acct common.Address, amount *big.Int) error {
	return s.exec(s.admin(), func(tx *chain.Tx) error {
		return s.node.Modl().Mint(tx, acct, amount)
	})
}

func (s *scenario) stakeTier(user common.Address, amount *big.Int) error {
	return s.exec(user, func(tx *chain.Tx) error {
		if err := s.node.Modl().Approve(tx, user, s.node.Addresses().Tiers, amount); err != nil {
			return err
		}
		return s.node.Tiers().Stake(tx, user, amount)
	})
}

func (s *scenario) deposit(user common.Address, amount *big.Int) error {
	return s.exec(user, func(tx *chain.Tx) error {
		if err := s.node.Modl().Approve(tx, user, s.node.Addresses().Paymaster, amount); err != nil {
			return err
		}
		return s.node.Paymaster().DepositTokens(tx, user, amount)
	})
}

func (s *scenario) tierOf(user common.Address) uint8 {
	var t uint8
	s.node.State().View(func() { t = s.node.Tiers().GetTier(user) })
	return t
}

// request builds and signs a relay request through the node's worker.
func (s *scenario) request(key *ecdsa.PrivateKey, to common.Address, data []byte) (*types.RelayRequest, []byte, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	var nonce uint64
	s.node.State().View(func() { nonce = s.node.Forwarder().GetNonce(from) })
	req := &types.RelayRequest{
		Request: types.ForwardRequest{
			From:  from,
			To:    to,
			Value: big.NewInt(0),
			Gas:   100000,
			Nonce: nonce,
			Data:  data,
		},
		RelayData: types.RelayData{
			MaxFeePerGas: big.NewInt(1),
			RelayWorker:  s.node.Worker(),
			Paymaster:    s.node.Paymaster().Address(),
			Forwarder:    s.node.Forwarder().Address(),
		},
	}
	sig, err := types.SignRequest(key, s.node.Forwarder().DomainSeparator(), req)
	if err != nil {
		return nil, nil, err
	}
	return req, sig, nil
}

// expect checks that err carries the revert code of want.
func expect(err, want error) error {
	if err == nil {
		return fmt.Errorf("expected %s, call succeeded", reverts.CodeOf(want))
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("expected %s, got: %w", reverts.CodeOf(want), err)
	}
	return nil
}

// demoKey returns a fixed key so scenario output is reproducible.
func demoKey(seed int64) *ecdsa.PrivateKey {
	key, err := crypto.ToECDSA(common.LeftPadBytes(big.NewInt(seed).Bytes(), 32))
	if err != nil {
		panic(fmt.Sprintf("daemon: invalid demo key seed %d: %v", seed, err))
	}
	return key
}

func modl(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), math.BigPow(10, 18))
}

func runTierScenario(s *scenario) error {
	user := crypto.PubkeyToAddress(demoKey(0xa1).PublicKey)
	if err := s.mint(user, modl(1000)); err != nil {
		return err
	}
	s.step("minted 1000 MODL to %s", user.Hex())

	if t := s.tierOf(user); t != 0 {
		return fmt.Errorf("tier before staking = %d, want 0", t)
	}
	if err := s.stakeTier(user, modl(500)); err != nil {
		return err
	}
	if t := s.tierOf(user); t != 1 {
		return fmt.Errorf("tier after 500 MODL = %d, want 1", t)
	}
	s.step("staked 500 MODL: tier 1")

	if err := s.stakeTier(user, modl(500)); err != nil {
		return err
	}
	if t := s.tierOf(user); t != 2 {
		return fmt.Errorf("tier after 1000 MODL = %d, want 2", t)
	}
	var badge tier.Badge
	var has bool
	s.node.State().View(func() {
		badges := s.node.Tiers().Badges()
		badge, has = badges.Get(badges.BadgeOf(user))
	})
	if !has || badge.Tier != 2 {
		return fmt.Errorf("badge = %+v (held %v), want tier 2", badge, has)
	}
	s.step("staked 500 MODL more: tier 2, badge #%d", badge.ID)
	return nil
}

func runFundingScenario(s *scenario) error {
	key := demoKey(0xb1)
	user := crypto.PubkeyToAddress(key.PublicKey)
	if err := s.mint(user, modl(10)); err != nil {
		return err
	}
	if err := s.deposit(user, modl(10)); err != nil {
		return err
	}
	s.step("user deposited 10 MODL with the paymaster")

	req, sig, err := s.request(key, common.HexToAddress("0xb0b"), nil)
	if err != nil {
		return err
	}
	_, err = s.node.Relay(req, sig, nil)
	if err := expect(err, reverts.ErrPaymasterBalanceLow); err != nil {
		return err
	}
	s.step("relay rejected: paymaster has no hub balance")

	funding := math.BigPow(10, 18)
	pm := s.node.Paymaster()
	if err := s.exec(s.admin(), func(tx *chain.Tx) error {
		if err := s.node.Native().Mint(tx, pm.Address(), funding); err != nil {
			return err
		}
		return pm.DepositToHub(tx, s.admin(), funding)
	}); err != nil {
		return err
	}
	s.step("admin deposited 1 ether for the paymaster at the hub")

	res, err := s.node.Relay(req, sig, nil)
	if err != nil {
		return fmt.Errorf("retry failed: %w", err)
	}
	if res.Status != relayhub.StatusOK {
		return fmt.Errorf("retry status = %s (%s)", res.Status, res.Reason)
	}
	s.step("identical request relayed: charge %s wei", res.Charge)
	return nil
}

func runChargeScenario(s *scenario) error {
	key := demoKey(0xc1)
	user := crypto.PubkeyToAddress(key.PublicKey)
	target := common.HexToAddress("0xc0ffee")
	s.node.State().Register(target, chain.ContractFunc(func(tx *chain.Tx, msg chain.Message) ([]byte, uint64, error) {
		return nil, 50000, nil
	}))
	s.step("registered a target that uses 50000 gas")

	if err := s.mint(user, new(big.Int).Add(modl(100), big.NewInt(200))); err != nil {
		return err
	}
	if err := s.stakeTier(user, modl(100)); err != nil {
		return err
	}
	if err := s.deposit(user, big.NewInt(200)); err != nil {
		return err
	}
	s.step("user at tier %d with a deposit of 200 base units", s.tierOf(user))

	req, sig, err := s.request(key, target, nil)
	if err != nil {
		return err
	}
	from := len(s.node.State().Events())
	res, err := s.node.Relay(req, sig, nil)
	if err != nil {
		return err
	}
	s.step("relayed with gas limit %d: %d gas used", req.Request.Gas, res.GasUsed)

	var charge *paymaster.GasCharge
	for _, ev := range s.node.State().EventsSince(from) {
		if gc, ok := ev.Data.(paymaster.GasCharge); ok {
			charge = &gc
		}
	}
	if charge == nil {
		return errors.New("no GasCharge event")
	}
	if charge.Charge.Int64() != 150 || charge.Refund.Int64() != 50 {
		return fmt.Errorf("charge %s refund %s, want 150 and 50", charge.Charge, charge.Refund)
	}
	var left *big.Int
	s.node.State().View(func() { left = s.node.Paymaster().DepositOf(user) })
	s.step("charged %s, refunded %s, deposit now %s", charge.Charge, charge.Refund, left)
	return nil
}

// registerTemplate has the admin publish the demo template and records
// its id for later steps.
func (s *scenario) registerTemplate() error {
	return s.exec(s.admin(), func(tx *chain.Tx) error {
		id, err := s.node.Templates().RegisterTemplate(tx, s.admin(), common.HexToAddress("0x5b"), "demo-template", "1.0.0", template.KindContract)
		s.template = id
		return err
	})
}

// enrollAuditor registers the demo template, grants AuditorRole and
// funds relayed submissions.
func (s *scenario) enrollAuditor(auditor common.Address) error {
	if err := s.registerTemplate(); err != nil {
		return err
	}
	if err := s.exec(s.admin(), func(tx *chain.Tx) error {
		return s.node.Audits().Access().Grant(tx, s.admin(), access.AuditorRole, auditor)
	}); err != nil {
		return err
	}
	if err := s.mint(auditor, modl(1)); err != nil {
		return err
	}
	return s.deposit(auditor, modl(1))
}

func (s *scenario) relaySubmit(key *ecdsa.PrivateKey, uri string) (int, error) {
	data, err := audit.PackSubmitAudit(s.template, common.HexToAddress("0x5b"), uri, 0)
	if err != nil {
		return 0, err
	}
	req, sig, err := s.request(key, s.node.Addresses().Audits, data)
	if err != nil {
		return 0, err
	}
	res, err := s.node.Relay(req, sig, nil)
	if err != nil {
		return 0, err
	}
	if res.Status != relayhub.StatusOK {
		return 0, fmt.Errorf("relayed submit status = %s (%s)", res.Status, res.Reason)
	}
	idx := new(big.Int).SetBytes(res.ReturnData)
	return int(idx.Int64()), nil
}

func runAuditSubmitScenario(s *scenario) error {
	key := demoKey(0xd1)
	auditor := crypto.PubkeyToAddress(key.PublicKey)
	if err := s.enrollAuditor(auditor); err != nil {
		return err
	}
	s.step("granted AuditorRole to %s", auditor.Hex())

	err := s.exec(auditor, func(tx *chain.Tx) error {
		_, err := s.node.Audits().SubmitAudit(tx, auditor, s.template, common.HexToAddress("0x5b"), "", 0)
		return err
	})
	if err := expect(err, reverts.ErrReportURIRequired); err != nil {
		return err
	}
	s.step("submission without a report URI rejected")

	idx, err := s.relaySubmit(key, "ipfs://demo-report")
	if err != nil {
		return err
	}
	var a audit.Audit
	s.node.State().View(func() { a, err = s.node.Audits().GetAudit(s.template, idx) })
	if err != nil {
		return err
	}
	if a.Status != audit.StatusPending || a.Disputed || a.Auditor != auditor {
		return fmt.Errorf("audit = %+v", a)
	}
	s.step("relayed submission stored at index %d: %s", idx, a.Status)
	return nil
}

func runAuditRejectScenario(s *scenario) error {
	key := demoKey(0xe1)
	auditor := crypto.PubkeyToAddress(key.PublicKey)
	verifier := crypto.PubkeyToAddress(demoKey(0xe2).PublicKey)
	stakes := s.node.Stakes()
	staked := modl(80)

	if err := s.enrollAuditor(auditor); err != nil {
		return err
	}
	if err := s.mint(auditor, staked); err != nil {
		return err
	}
	if err := s.exec(auditor, func(tx *chain.Tx) error {
		if err := stakes.SetManagerOwner(tx, auditor, auditor); err != nil {
			return err
		}
		if err := s.node.Modl().Approve(tx, auditor, stakes.Address(), staked); err != nil {
			return err
		}
		return stakes.StakeForManager(tx, auditor, s.node.Addresses().Modl, auditor, stakes.Params().MaxUnstakeDelay, staked)
	}); err != nil {
		return err
	}
	s.step("auditor staked 80 MODL with the stake manager")

	if err := s.exec(s.admin(), func(tx *chain.Tx) error {
		return s.node.Audits().Access().Grant(tx, s.admin(), access.VerifierRole, verifier)
	}); err != nil {
		return err
	}

	idx, err := s.relaySubmit(key, "ipfs://questionable-report")
	if err != nil {
		return err
	}
	s.step("audit %d submitted", idx)

	verify := func() error {
		return s.exec(verifier, func(tx *chain.Tx) error {
			return s.node.Audits().VerifyAudit(tx, verifier, s.template, idx, false)
		})
	}
	if err := verify(); err != nil {
		return err
	}

	var remaining, slash *big.Int
	var a audit.Audit
	s.node.State().View(func() {
		remaining = stakes.StakeAmount(auditor)
		slash = s.node.Audits().Params().SlashAmount
		a, err = s.node.Audits().GetAudit(s.template, idx)
	})
	if err != nil {
		return err
	}
	want := new(big.Int).Sub(staked, slash)
	if want.Sign() < 0 {
		want.SetInt64(0)
	}
	if a.Status != audit.StatusRejected || remaining.Cmp(want) != 0 {
		return fmt.Errorf("status %s, stake %s, want %s and %s", a.Status, remaining, audit.StatusRejected, want)
	}
	s.step("verifier rejected it: slashed %s, stake now %s", a.Slashed, remaining)

	if err := expect(verify(), reverts.ErrAuditAlreadyFinalized); err != nil {
		return err
	}
	s.step("second verification rejected: already finalized")
	return nil
}

func runDeployScenario(s *scenario) error {
	key := demoKey(0xf1)
	user := crypto.PubkeyToAddress(key.PublicKey)
	if err := s.registerTemplate(); err != nil {
		return err
	}
	s.step("admin registered template %s", s.template.Hex())

	fee := s.node.Deploy().Params().DeployFee
	if err := s.mint(user, new(big.Int).Add(modl(501), fee)); err != nil {
		return err
	}
	if err := s.deposit(user, modl(1)); err != nil {
		return err
	}
	if err := s.exec(user, func(tx *chain.Tx) error {
		return s.node.Modl().Approve(tx, user, s.node.Addresses().Deploy, fee)
	}); err != nil {
		return err
	}
	data, err := deploy.PackDeployWithFee(s.template, []byte("demo-init"))
	if err != nil {
		return err
	}

	req, sig, err := s.request(key, s.node.Addresses().Deploy, data)
	if err != nil {
		return err
	}
	res, err := s.node.Relay(req, sig, nil)
	if err != nil {
		return err
	}
	if res.Status != relayhub.StatusRelayedCallFailed {
		return fmt.Errorf("tier 0 deployment status = %s, want %s", res.Status, relayhub.StatusRelayedCallFailed)
	}
	s.step("tier 0 deployment relayed but reverted in the manager")

	if err := s.stakeTier(user, modl(500)); err != nil {
		return err
	}
	s.step("user staked 500 MODL: tier %d", s.tierOf(user))

	req, sig, err = s.request(key, s.node.Addresses().Deploy, data)
	if err != nil {
		return err
	}
	from := len(s.node.State().Events())
	if res, err = s.node.Relay(req, sig, nil); err != nil {
		return err
	}
	if res.Status != relayhub.StatusOK {
		return fmt.Errorf("deployment status = %s (%s)", res.Status, res.Reason)
	}

	var deployed *deploy.TemplateDeployed
	for _, ev := range s.node.State().EventsSince(from) {
		if d, ok := ev.Data.(deploy.TemplateDeployed); ok {
			deployed = &d
		}
	}
	if deployed == nil {
		return errors.New("no TemplateDeployed event")
	}
	if deployed.User != user || deployed.Fee.Cmp(fee) != 0 || common.BytesToAddress(res.ReturnData) != deployed.Instance {
		return fmt.Errorf("deployment = %+v, returned %x", deployed, res.ReturnData)
	}
	var count uint64
	s.node.State().View(func() { count = s.node.Deploy().DeploymentCount() })
	s.step("deployed %s for a fee of %s, %d deployment(s) so far", deployed.Instance.Hex(), fee, count)
	return nil
}
