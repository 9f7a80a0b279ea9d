package daemon

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/audit"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/config"
	"github.com/modlnet/modl/internal/deploy"
	"github.com/modlnet/modl/internal/fees"
	"github.com/modlnet/modl/internal/forwarder"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/paymaster"
	"github.com/modlnet/modl/internal/relayhub"
	"github.com/modlnet/modl/internal/stake"
	"github.com/modlnet/modl/internal/template"
	"github.com/modlnet/modl/internal/tier"
	"github.com/modlnet/modl/internal/token"
	"github.com/modlnet/modl/pkg/types"
)

// ErrNoRelayWorker is returned by Relay when the node has no worker to
// submit requests with.
var ErrNoRelayWorker = errors.New("node has no relay worker configured")

// Contract deployment order. Addresses are derived from the admin account
// the way CREATE derives them, so every node built from the same config
// agrees on them.
const (
	nonceModl uint64 = iota
	nonceStakes
	nonceHub
	nonceForwarder
	nonceTiers
	noncePaymaster
	nonceAudits
	nonceFees
	nonceTemplates
	nonceDeploy
)

// Addresses lists where each component lives.
type Addresses struct {
	Admin     common.Address `json:"admin"`
	Modl      common.Address `json:"modl"`
	Stakes    common.Address `json:"stakes"`
	Hub       common.Address `json:"hub"`
	Forwarder common.Address `json:"forwarder"`
	Tiers     common.Address `json:"tiers"`
	Paymaster common.Address `json:"paymaster"`
	Audits    common.Address `json:"audits"`
	Fees      common.Address `json:"fees"`
	Templates common.Address `json:"templates"`
	Deploy    common.Address `json:"deploy"`
}

// DeriveAddresses returns the component addresses for admin.
func DeriveAddresses(admin common.Address) Addresses {
	at := func(n uint64) common.Address { return crypto.CreateAddress(admin, n) }
	return Addresses{
		Admin:     admin,
		Modl:      at(nonceModl),
		Stakes:    at(nonceStakes),
		Hub:       at(nonceHub),
		Forwarder: at(nonceForwarder),
		Tiers:     at(nonceTiers),
		Paymaster: at(noncePaymaster),
		Audits:    at(nonceAudits),
		Fees:      at(nonceFees),
		Templates: at(nonceTemplates),
		Deploy:    at(nonceDeploy),
	}
}

// Node is one fully wired ledger world: the shared state plus every
// component bound to it.
type Node struct {
	state     *chain.State
	addrs     Addresses
	chainID   *big.Int
	tokens    *token.Registry
	modl      *token.Ledger
	stakes    *stake.Manager
	hub       *relayhub.Hub
	forwarder *forwarder.Forwarder
	tiers     *tier.System
	paymaster *paymaster.Paymaster
	audits    *audit.Registry
	fees      *fees.Manager
	templates *template.Registry
	deploy    *deploy.Manager
	manager   common.Address
	worker    common.Address
}

// NewNode builds every component from cfg and applies the genesis block.
func NewNode(cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	genesis, err := cfg.GenesisTime()
	if err != nil {
		return nil, err
	}

	n := &Node{
		state:   chain.NewState(genesis),
		addrs:   DeriveAddresses(config.Address(cfg.Genesis.Admin)),
		chainID: big.NewInt(cfg.Genesis.ChainID),
		tokens:  token.NewRegistry(),
	}
	if cfg.Genesis.RelayManager != "" {
		n.manager = config.Address(cfg.Genesis.RelayManager)
		if len(cfg.Genesis.RelayWorkers) > 0 {
			n.worker = config.Address(cfg.Genesis.RelayWorkers[0])
		}
	}
	if err := n.build(cfg); err != nil {
		n.state.Close()
		return nil, err
	}
	if err := n.applyGenesis(cfg); err != nil {
		n.state.Close()
		return nil, fmt.Errorf("failed to apply genesis: %w", err)
	}

	logging.Info("node built",
		"chain_id", n.chainID.String(),
		"hub", n.addrs.Hub.Hex(),
		"paymaster", n.addrs.Paymaster.Hex(),
		"worker", n.worker.Hex(),
		logging.Component("daemon"))
	return n, nil
}

func (n *Node) build(cfg *config.Config) error {
	a := n.addrs

	n.modl = token.NewLedger(a.Modl, "Modl", "MODL", 18)
	if err := n.tokens.Add(n.modl); err != nil {
		return err
	}

	stakeParams, err := cfg.StakeParams()
	if err != nil {
		return fmt.Errorf("stake: %w", err)
	}
	n.stakes = stake.NewManager(a.Stakes, a.Admin, n.tokens, stakeParams)

	hubParams, err := cfg.HubParams()
	if err != nil {
		return fmt.Errorf("hub: %w", err)
	}
	if n.hub, err = relayhub.New(a.Hub, a.Admin, n.stakes, n.tokens.Native(), hubParams); err != nil {
		return fmt.Errorf("failed to create relay hub: %w", err)
	}

	n.forwarder = forwarder.New(a.Forwarder, n.chainID, n.tokens.Native())
	n.hub.RegisterForwarder(n.forwarder)

	thresholds, err := cfg.TierThresholds()
	if err != nil {
		return fmt.Errorf("tier: %w", err)
	}
	if n.tiers, err = tier.NewSystem(a.Tiers, a.Admin, n.modl, thresholds, cfg.Tier.Cooldown, cfg.Tier.BadgeBaseURI); err != nil {
		return fmt.Errorf("failed to create tier system: %w", err)
	}

	pmParams, err := cfg.PaymasterParams()
	if err != nil {
		return fmt.Errorf("paymaster: %w", err)
	}
	if n.paymaster, err = paymaster.New(a.Paymaster, a.Admin, a.Forwarder, n.hub, n.modl, n.tokens, n.tiers, pmParams); err != nil {
		return fmt.Errorf("failed to create paymaster: %w", err)
	}
	n.hub.RegisterPaymaster(n.paymaster)

	n.templates = template.NewRegistry(a.Templates, a.Admin)
	n.state.Register(a.Templates, template.NewRecipient(n.templates, a.Forwarder))

	auditParams, err := cfg.AuditParams()
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if n.audits, err = audit.NewRegistry(a.Audits, a.Admin, n.modl, n.stakes, n.tiers, n.templates, auditParams); err != nil {
		return fmt.Errorf("failed to create audit registry: %w", err)
	}
	n.state.Register(a.Audits, audit.NewRecipient(n.audits, a.Forwarder))

	if n.fees, err = fees.NewManager(a.Fees, a.Admin, n.modl,
		config.Address(cfg.Fees.Treasury), config.Address(cfg.Fees.Founders), cfg.Fees.Shares); err != nil {
		return fmt.Errorf("failed to create fee manager: %w", err)
	}

	deployParams, err := cfg.DeployParams()
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	if n.deploy, err = deploy.NewManager(a.Deploy, a.Admin, n.templates, n.tiers, n.modl, n.fees, deployParams); err != nil {
		return fmt.Errorf("failed to create deployment manager: %w", err)
	}
	n.state.Register(a.Deploy, deploy.NewRecipient(n.deploy, a.Forwarder))
	return nil
}

// applyGenesis seeds balances, roles and the relay manager in one block.
func (n *Node) applyGenesis(cfg *config.Config) error {
	admin := n.addrs.Admin
	minStake, err := cfg.HubMinimumStake()
	if err != nil {
		return err
	}

	_, err = n.state.Exec(admin, func(tx *chain.Tx) error {
		native := n.tokens.Native()

		if err := n.stakes.Access().Grant(tx, admin, access.PenalizerRole, n.addrs.Hub); err != nil {
			return err
		}
		if err := n.stakes.Access().Grant(tx, admin, access.PenalizerRole, n.addrs.Audits); err != nil {
			return err
		}
		if err := n.hub.SetMinimumStakes(tx, admin, []common.Address{n.addrs.Modl}, []*big.Int{minStake}); err != nil {
			return err
		}

		for _, acct := range cfg.Genesis.Accounts {
			addr := config.Address(acct.Address)
			if v := config.Amount(acct.Native); v.Sign() > 0 {
				if err := native.Mint(tx, addr, v); err != nil {
					return err
				}
			}
			if v := config.Amount(acct.Modl); v.Sign() > 0 {
				if err := n.modl.Mint(tx, addr, v); err != nil {
					return err
				}
			}
		}

		if cfg.Genesis.RelayManager != "" {
			if err := n.stakeManager(tx, cfg); err != nil {
				return fmt.Errorf("relay manager: %w", err)
			}
		}

		if dep := cfg.PaymasterHubDeposit(); dep.Sign() > 0 {
			if err := native.Mint(tx, n.addrs.Paymaster, dep); err != nil {
				return err
			}
			if err := n.paymaster.DepositToHub(tx, admin, dep); err != nil {
				return err
			}
		}

		if pool := cfg.AuditRewardPool(); pool.Sign() > 0 {
			if err := n.modl.Mint(tx, admin, pool); err != nil {
				return err
			}
			if err := n.modl.Approve(tx, admin, n.addrs.Audits, pool); err != nil {
				return err
			}
			if err := n.audits.FundRewardPool(tx, admin, pool); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (n *Node) stakeManager(tx *chain.Tx, cfg *config.Config) error {
	manager := config.Address(cfg.Genesis.RelayManager)
	amount := config.Amount(cfg.Genesis.ManagerStake)

	if err := n.modl.Mint(tx, manager, amount); err != nil {
		return err
	}
	if err := n.modl.Approve(tx, manager, n.addrs.Stakes, amount); err != nil {
		return err
	}
	if err := n.stakes.SetManagerOwner(tx, manager, manager); err != nil {
		return err
	}
	if err := n.stakes.StakeForManager(tx, manager, n.addrs.Modl, manager, cfg.Genesis.ManagerUnstakeDelay, amount); err != nil {
		return err
	}
	if len(cfg.Genesis.RelayWorkers) == 0 {
		return nil
	}
	workers := make([]common.Address, len(cfg.Genesis.RelayWorkers))
	for i, w := range cfg.Genesis.RelayWorkers {
		workers[i] = config.Address(w)
	}
	return n.hub.AddRelayWorkers(tx, manager, workers)
}

func (n *Node) State() *chain.State             { return n.state }
func (n *Node) Addresses() Addresses            { return n.addrs }
func (n *Node) ChainID() *big.Int               { return new(big.Int).Set(n.chainID) }
func (n *Node) Tokens() *token.Registry         { return n.tokens }
func (n *Node) Modl() *token.Ledger             { return n.modl }
func (n *Node) Native() *token.Ledger           { return n.tokens.Native() }
func (n *Node) Stakes() *stake.Manager          { return n.stakes }
func (n *Node) Hub() *relayhub.Hub              { return n.hub }
func (n *Node) Forwarder() *forwarder.Forwarder { return n.forwarder }
func (n *Node) Tiers() *tier.System             { return n.tiers }
func (n *Node) Paymaster() *paymaster.Paymaster { return n.paymaster }
func (n *Node) Audits() *audit.Registry         { return n.audits }
func (n *Node) Fees() *fees.Manager             { return n.fees }
func (n *Node) Templates() *template.Registry   { return n.templates }
func (n *Node) Deploy() *deploy.Manager         { return n.deploy }
func (n *Node) Manager() common.Address         { return n.manager }
func (n *Node) Worker() common.Address          { return n.worker }

// Relay submits a signed request through the hub as the node's worker,
// offering the paymaster's full acceptance budget.
func (n *Node) Relay(req *types.RelayRequest, sig, approvalData []byte) (*relayhub.RelayResult, error) {
	if n.worker == (common.Address{}) {
		return nil, ErrNoRelayWorker
	}
	var res *relayhub.RelayResult
	_, err := n.state.Exec(n.worker, func(tx *chain.Tx) error {
		budget := n.paymaster.GasAndDataLimits().AcceptanceBudget
		var err error
		res, err = n.hub.RelayCall(tx, n.worker, budget, req, sig, approvalData)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SweepRevenue hands the paymaster's collected charges to the fee manager.
func (n *Node) SweepRevenue() (*big.Int, error) {
	var swept *big.Int
	_, err := n.state.Exec(n.addrs.Admin, func(tx *chain.Tx) error {
		swept = n.paymaster.Revenue()
		return n.paymaster.SweepRevenue(tx, n.addrs.Admin, n.fees)
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}

// AdvanceTime moves the block clock forward.
func (n *Node) AdvanceTime(d time.Duration) time.Time {
	now := n.state.AdvanceTime(d)
	logging.Debug("clock advanced", "by", d.String(), "now", now.Format(time.RFC3339), logging.Component("daemon"))
	return now
}

// Close ends every event subscription on the node's state.
func (n *Node) Close() {
	n.state.Close()
}
