// Package template keeps the catalog of deployable templates. Anyone may
// register one; admins verify, update and deprecate them, and an approved
// audit marks a template audited.
package template

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/modlnet/modl/internal/access"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/reverts"
)

// Kind classifies what a template deploys.
type Kind uint8

const (
	KindContract Kind = iota
	KindToken
	KindDApp
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindContract:
		return "Contract"
	case KindToken:
		return "Token"
	case KindDApp:
		return "DApp"
	case KindModule:
		return "Module"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Template is one catalog entry.
type Template struct {
	ID             common.Hash    `json:"templateId"`
	Implementation common.Address `json:"implementation"`
	Name           string         `json:"name"`
	Version        string         `json:"version"`
	Author         common.Address `json:"author"`
	Kind           Kind           `json:"templateType"`
	Verified       bool           `json:"verified"`
	Deprecated     bool           `json:"deprecated"`
	Audited        bool           `json:"audited"`
	AuditHash      string         `json:"auditHash"`
	RegisteredAt   time.Time      `json:"registeredAt"`
}

// Usable reports whether new deployments may use t.
func (t Template) Usable() bool { return !t.Deprecated }

// TemplateID derives the id of author's name and version.
func TemplateID(author common.Address, name, version string) common.Hash {
	return crypto.Keccak256Hash(author.Bytes(), []byte(name), []byte{0}, []byte(version))
}

// Registry is the template catalog.
type Registry struct {
	address   common.Address
	acl       *access.Control
	templates map[common.Hash]Template
	order     []common.Hash
}

// NewRegistry creates an empty catalog administered by admin.
func NewRegistry(address, admin common.Address) *Registry {
	return &Registry{
		address:   address,
		acl:       access.NewControl(address, admin),
		templates: make(map[common.Hash]Template),
	}
}

// Address returns the registry's ledger address.
func (r *Registry) Address() common.Address { return r.address }

// Access returns the admin role table.
func (r *Registry) Access() *access.Control { return r.acl }

// Count returns the number of registered templates.
func (r *Registry) Count() int { return len(r.order) }

// HasTemplate reports whether id is registered.
func (r *Registry) HasTemplate(id common.Hash) bool {
	_, ok := r.templates[id]
	return ok
}

// GetTemplate returns the template with id.
func (r *Registry) GetTemplate(id common.Hash) (Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return Template{}, reverts.Wrapf(reverts.ErrTemplateDoesNotExist, "%s", id.Hex())
	}
	return t, nil
}

// Templates returns every template in registration order.
func (r *Registry) Templates() []Template {
	out := make([]Template, len(r.order))
	for i, id := range r.order {
		out[i] = r.templates[id]
	}
	return out
}

// RegisterTemplate adds an unverified template authored by caller and
// returns its id.
func (r *Registry) RegisterTemplate(tx *chain.Tx, caller, implementation common.Address, name, version string, kind Kind) (common.Hash, error) {
	if name == "" || version == "" {
		return common.Hash{}, reverts.ErrTemplateNameRequired
	}
	id := TemplateID(caller, name, version)
	if r.HasTemplate(id) {
		return common.Hash{}, reverts.Wrapf(reverts.ErrTemplateExists, "%s %s by %s", name, version, caller.Hex())
	}

	chain.Set(tx, r.templates, id, Template{
		ID:             id,
		Implementation: implementation,
		Name:           name,
		Version:        version,
		Author:         caller,
		Kind:           kind,
		RegisteredAt:   tx.Now(),
	})
	order := make([]common.Hash, len(r.order), len(r.order)+1)
	copy(order, r.order)
	chain.Assign(tx, &r.order, append(order, id))

	tx.Emit(TemplateRegistered{TemplateID: id, Author: caller, Implementation: implementation, Name: name, Version: version, Kind: kind})
	tx.OnCommit(func() {
		logging.Info("template registered",
			"template", id.Hex(),
			"name", name,
			"version", version,
			"author", caller.Hex(),
			logging.Component("template"))
	})
	return id, nil
}

// VerifyTemplate marks a template verified.
func (r *Registry) VerifyTemplate(tx *chain.Tx, caller common.Address, id common.Hash) error {
	t, err := r.admin(caller, id)
	if err != nil {
		return err
	}
	if t.Deprecated {
		return reverts.Wrapf(reverts.ErrTemplateDeprecated, "%s", id.Hex())
	}
	t.Verified = true
	chain.Set(tx, r.templates, id, t)
	tx.Emit(TemplateVerified{TemplateID: id, Verifier: caller})
	r.auditLog(tx, "template_verified", caller, id)
	return nil
}

// UpdateTemplate points a template at a new implementation and version
// and records the hash of its audit report.
func (r *Registry) UpdateTemplate(tx *chain.Tx, caller common.Address, id common.Hash, implementation common.Address, version, auditHash string) error {
	t, err := r.admin(caller, id)
	if err != nil {
		return err
	}
	if version == "" {
		return reverts.ErrTemplateNameRequired
	}
	t.Implementation = implementation
	t.Version = version
	t.AuditHash = auditHash
	chain.Set(tx, r.templates, id, t)
	tx.Emit(TemplateUpdated{TemplateID: id, Implementation: implementation, Version: version, AuditHash: auditHash})
	r.auditLog(tx, "template_updated", caller, id)
	return nil
}

// DeprecateTemplate withdraws a template from new deployments. It also
// loses its verification.
func (r *Registry) DeprecateTemplate(tx *chain.Tx, caller common.Address, id common.Hash) error {
	t, err := r.admin(caller, id)
	if err != nil {
		return err
	}
	t.Verified = false
	t.Deprecated = true
	chain.Set(tx, r.templates, id, t)
	tx.Emit(TemplateDeprecated{TemplateID: id})
	r.auditLog(tx, "template_deprecated", caller, id)
	return nil
}

// RecordAudit marks a template audited by the report at reportURI. The
// audit registry calls it when a verifier approves an audit.
func (r *Registry) RecordAudit(tx *chain.Tx, id common.Hash, reportURI string) error {
	t, err := r.GetTemplate(id)
	if err != nil {
		return err
	}
	t.Audited = true
	t.AuditHash = reportURI
	chain.Set(tx, r.templates, id, t)
	tx.Emit(TemplateAudited{TemplateID: id, AuditHash: reportURI})
	return nil
}

func (r *Registry) admin(caller common.Address, id common.Hash) (Template, error) {
	if err := r.acl.Check(access.DefaultAdmin, caller); err != nil {
		return Template{}, err
	}
	return r.GetTemplate(id)
}

func (r *Registry) auditLog(tx *chain.Tx, op string, caller common.Address, id common.Hash) {
	tx.OnCommit(func() {
		logging.Audit(logging.AuditEvent{
			Operation: op,
			Actor:     caller.Hex(),
			Target:    id.Hex(),
			Result:    "success",
		})
	})
}
