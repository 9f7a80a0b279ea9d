// Package deploy instantiates catalog templates for users. Deployments are
// gated on the caller's tier and pay a MODL fee that the fee manager
// distributes. Users group deployed modules into projects.
package deploy

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/internal/template"
	"github.com/modlnet/modl/internal/tier"
	"github.com/modlnet/modl/internal/token"
)

// Catalog resolves template ids.
type Catalog interface {
	GetTemplate(id common.Hash) (template.Template, error)
}

// Distributor takes collected fees off the manager's hands.
type Distributor interface {
	Distribute(tx *chain.Tx, from common.Address, amount *big.Int) error
}

// Params is one immutable version of the deployment settings.
type Params struct {
	Version   uint64   `json:"version"`
	MinTier   uint8    `json:"minTier"`
	DeployFee *big.Int `json:"deployFee"`
}

// DefaultParams requires tier 1 and charges 5 MODL per deployment.
func DefaultParams() Params {
	fee := new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return Params{Version: 1, MinTier: 1, DeployFee: fee}
}

// Validate rejects a missing or negative fee.
func (p Params) Validate() error {
	if p.DeployFee == nil || p.DeployFee.Sign() < 0 {
		return reverts.Wrapf(reverts.ErrInvalidConfig, "deploy fee must not be negative")
	}
	return nil
}

func (p Params) clone() Params {
	p.DeployFee = new(big.Int).Set(p.DeployFee)
	return p
}

// Project groups the modules one owner deployed.
type Project struct {
	ID        uint64         `json:"projectId"`
	Owner     common.Address `json:"owner"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Module is a template instance inside a project.
type Module struct {
	ProjectID  uint64         `json:"projectId"`
	TemplateID common.Hash    `json:"templateId"`
	Instance   common.Address `json:"instance"`
	InitData   hexutil.Bytes  `json:"initData,omitempty"`
	Metadata   string         `json:"metadata"`
	Fee        *big.Int       `json:"fee"`
	DeployedAt time.Time      `json:"deployedAt"`
}

// Deployment is the outcome of one fee-paying deployment.
type Deployment struct {
	TemplateID common.Hash    `json:"templateId"`
	User       common.Address `json:"user"`
	Instance   common.Address `json:"instance"`
	Fee        *big.Int       `json:"fee"`
}

// Manager owns projects and deploys templates.
type Manager struct {
	address   common.Address
	acl       *access.Control
	templates Catalog
	tiers     tier.Source
	feeToken  *token.Ledger
	fees      Distributor
	params    *Params

	projects    map[uint64]Project
	owned       map[common.Address][]uint64
	modules     map[uint64][]Module
	nextProject uint64
	deployed    uint64
	collected   *big.Int
}

// NewManager creates a deployment manager. tiers may be nil, in which case
// every caller passes the tier gate. fees may be nil, in which case fees
// stay with the manager.
func NewManager(address, admin common.Address, templates Catalog, tiers tier.Source, feeToken *token.Ledger, fees Distributor, params Params) (*Manager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := params.clone()
	return &Manager{
		address:     address,
		acl:         access.NewControl(address, admin),
		templates:   templates,
		tiers:       tiers,
		feeToken:    feeToken,
		fees:        fees,
		params:      &p,
		projects:    make(map[uint64]Project),
		owned:       make(map[common.Address][]uint64),
		modules:     make(map[uint64][]Module),
		nextProject: 1,
		collected:   new(big.Int),
	}, nil
}

// Address returns the manager's ledger address. Fees are pulled here
// before distribution.
func (m *Manager) Address() common.Address { return m.address }

// Access returns the admin role table.
func (m *Manager) Access() *access.Control { return m.acl }

// Params returns a copy of the current deployment settings.
func (m *Manager) Params() Params { return m.params.clone() }

// DeploymentCount returns the number of template instances created.
func (m *Manager) DeploymentCount() uint64 { return m.deployed }

// FeesCollected returns every deployment fee taken so far.
func (m *Manager) FeesCollected() *big.Int { return new(big.Int).Set(m.collected) }

// GetProject returns one project.
func (m *Manager) GetProject(id uint64) (Project, error) {
	p, ok := m.projects[id]
	if !ok {
		return Project{}, reverts.Wrapf(reverts.ErrProjectDoesNotExist, "project %d", id)
	}
	return p, nil
}

// UserProjects returns owner's live projects in creation order.
func (m *Manager) UserProjects(owner common.Address) []Project {
	ids := m.owned[owner]
	out := make([]Project, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.projects[id])
	}
	return out
}

// ProjectModules returns the modules deployed into a project.
func (m *Manager) ProjectModules(id uint64) []Module {
	list := m.modules[id]
	out := make([]Module, len(list))
	for i, mod := range list {
		mod.Fee = new(big.Int).Set(mod.Fee)
		out[i] = mod
	}
	return out
}

// CreateProject opens an empty project owned by caller.
func (m *Manager) CreateProject(tx *chain.Tx, caller common.Address, name string) (uint64, error) {
	if name == "" {
		return 0, reverts.ErrProjectNameRequired
	}
	id := m.nextProject
	chain.Assign(tx, &m.nextProject, id+1)
	chain.Set(tx, m.projects, id, Project{ID: id, Owner: caller, Name: name, CreatedAt: tx.Now()})

	old := m.owned[caller]
	ids := make([]uint64, len(old), len(old)+1)
	copy(ids, old)
	chain.Set(tx, m.owned, caller, append(ids, id))

	tx.Emit(ProjectCreated{ProjectID: id, Owner: caller, Name: name})
	return id, nil
}

// DeleteProject removes a project and its module records. Deployed
// instances are not affected.
func (m *Manager) DeleteProject(tx *chain.Tx, caller common.Address, id uint64) error {
	if _, err := m.ownProject(caller, id); err != nil {
		return err
	}
	old := m.owned[caller]
	ids := make([]uint64, 0, len(old))
	for _, v := range old {
		if v != id {
			ids = append(ids, v)
		}
	}
	chain.Set(tx, m.owned, caller, ids)
	chain.Delete(tx, m.projects, id)
	chain.Delete(tx, m.modules, id)
	tx.Emit(ProjectDeleted{ProjectID: id, Owner: caller})
	return nil
}

// DeployWithFee instantiates a template for caller outside any project.
func (m *Manager) DeployWithFee(tx *chain.Tx, caller common.Address, templateID common.Hash, initData []byte) (Deployment, error) {
	instance, fee, err := m.deploy(tx, caller, templateID, initData)
	if err != nil {
		return Deployment{}, err
	}
	return Deployment{TemplateID: templateID, User: caller, Instance: instance, Fee: fee}, nil
}

// DeployTemplateToProject instantiates a template into one of caller's
// projects.
func (m *Manager) DeployTemplateToProject(tx *chain.Tx, caller common.Address, projectID uint64, templateID common.Hash, initData []byte, metadata string) (Module, error) {
	if _, err := m.ownProject(caller, projectID); err != nil {
		return Module{}, err
	}
	instance, fee, err := m.deploy(tx, caller, templateID, initData)
	if err != nil {
		return Module{}, err
	}
	mod := Module{
		ProjectID:  projectID,
		TemplateID: templateID,
		Instance:   instance,
		InitData:   common.CopyBytes(initData),
		Metadata:   metadata,
		Fee:        fee,
		DeployedAt: tx.Now(),
	}
	old := m.modules[projectID]
	list := make([]Module, len(old), len(old)+1)
	copy(list, old)
	chain.Set(tx, m.modules, projectID, append(list, mod))

	tx.Emit(ModuleDeployed{ProjectID: projectID, TemplateID: templateID, Instance: instance, Metadata: metadata})
	return mod, nil
}

func (m *Manager) ownProject(caller common.Address, id uint64) (Project, error) {
	p, err := m.GetProject(id)
	if err != nil {
		return Project{}, err
	}
	if p.Owner != caller {
		return Project{}, reverts.Wrapf(reverts.ErrNotProjectOwner, "project %d belongs to %s", id, p.Owner.Hex())
	}
	return p, nil
}

// deploy checks the tier gate and the template, takes the fee and derives
// the instance address from the deployment count.
func (m *Manager) deploy(tx *chain.Tx, caller common.Address, templateID common.Hash, initData []byte) (common.Address, *big.Int, error) {
	params := m.params
	if m.tiers != nil {
		if t := m.tiers.GetTier(caller); t < params.MinTier {
			return common.Address{}, nil, reverts.Wrapf(reverts.ErrTierTooLow, "tier %d, deployments need %d", t, params.MinTier)
		}
	}
	tmpl, err := m.templates.GetTemplate(templateID)
	if err != nil {
		return common.Address{}, nil, err
	}
	if !tmpl.Usable() {
		return common.Address{}, nil, reverts.Wrapf(reverts.ErrTemplateDeprecated, "%s %s", tmpl.Name, tmpl.Version)
	}

	fee := new(big.Int).Set(params.DeployFee)
	if fee.Sign() > 0 {
		if err := m.feeToken.TransferFrom(tx, m.address, caller, m.address, fee); err != nil {
			return common.Address{}, nil, err
		}
		if m.fees != nil {
			if err := m.fees.Distribute(tx, m.address, fee); err != nil {
				return common.Address{}, nil, err
			}
		}
		chain.Assign(tx, &m.collected, new(big.Int).Add(m.collected, fee))
	}

	instance := crypto.CreateAddress(m.address, m.deployed)
	chain.Assign(tx, &m.deployed, m.deployed+1)

	tx.Emit(TemplateDeployed{TemplateID: templateID, User: caller, Instance: instance, Fee: new(big.Int).Set(fee), InitData: common.CopyBytes(initData)})
	tx.OnCommit(func() {
		logging.Info("template deployed",
			"template", templateID.Hex(),
			"user", caller.Hex(),
			"instance", instance.Hex(),
			"fee", fee.String(),
			logging.Component("deploy"))
	})
	return instance, fee, nil
}

// SetParams replaces the tier gate and fee.
func (m *Manager) SetParams(tx *chain.Tx, caller common.Address, p Params) error {
	if err := m.acl.Check(access.DefaultAdmin, caller); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	next := p.clone()
	next.Version = m.params.Version + 1
	chain.Assign(tx, &m.params, &next)
	tx.Emit(ParamsUpdated{Version: next.Version, MinTier: next.MinTier, DeployFee: new(big.Int).Set(next.DeployFee)})
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: "deploy_params_updated",
			Actor:     caller.Hex(),
			Target:    m.address.Hex(),
			Result:    "success",
		})
	})
	return nil
}
