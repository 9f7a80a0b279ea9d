// Package access is a role table: one set of accounts per role, checked at
// the top of every privileged operation.
package access

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/reverts"
)

// Role identifies a capability. Roles are keccak256 hashes of their name,
// except DefaultAdmin which is the zero hash.
type Role common.Hash

// NewRole derives a role id from its name.
func NewRole(name string) Role {
	return Role(crypto.Keccak256Hash([]byte(name)))
}

// DefaultAdmin may grant and revoke every role.
var DefaultAdmin = Role{}

// Well-known roles.
var (
	AuditorRole   = NewRole("AUDITOR_ROLE")
	VerifierRole  = NewRole("VERIFIER_ROLE")
	PenalizerRole = NewRole("PENALIZER_ROLE")
)

var roleNames = map[Role]string{
	DefaultAdmin:  "DEFAULT_ADMIN_ROLE",
	AuditorRole:   "AUDITOR_ROLE",
	VerifierRole:  "VERIFIER_ROLE",
	PenalizerRole: "PENALIZER_ROLE",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return common.Hash(r).Hex()
}

// RoleGranted is emitted when an account receives a role.
type RoleGranted struct {
	Contract common.Address `json:"contract"`
	Role     string         `json:"role"`
	Account  common.Address `json:"account"`
	Sender   common.Address `json:"sender"`
}

func (RoleGranted) EventName() string { return "RoleGranted" }

// RoleRevoked is emitted when an account loses a role.
type RoleRevoked struct {
	Contract common.Address `json:"contract"`
	Role     string         `json:"role"`
	Account  common.Address `json:"account"`
	Sender   common.Address `json:"sender"`
}

func (RoleRevoked) EventName() string { return "RoleRevoked" }

type member struct {
	role Role
	acct common.Address
}

// Control is the role table of one contract.
type Control struct {
	contract common.Address
	members  map[member]bool
}

// NewControl creates a table where admin holds DefaultAdmin.
func NewControl(contract, admin common.Address) *Control {
	c := &Control{
		contract: contract,
		members:  make(map[member]bool),
	}
	c.members[member{DefaultAdmin, admin}] = true
	return c
}

// Has reports whether acct holds role.
func (c *Control) Has(role Role, acct common.Address) bool {
	return c.members[member{role, acct}]
}

// Check returns ErrUnauthorized unless acct holds role.
func (c *Control) Check(role Role, acct common.Address) error {
	if !c.Has(role, acct) {
		return reverts.Wrapf(reverts.ErrUnauthorized, "%s is missing role %s", acct.Hex(), role)
	}
	return nil
}

// Members lists the accounts holding role, sorted.
func (c *Control) Members(role Role) []common.Address {
	var out []common.Address
	for m, ok := range c.members {
		if ok && m.role == role {
			out = append(out, m.acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Grant gives acct the role. The caller must be an admin.
func (c *Control) Grant(tx *chain.Tx, caller common.Address, role Role, acct common.Address) error {
	if err := c.Check(DefaultAdmin, caller); err != nil {
		return err
	}
	if c.Has(role, acct) {
		return nil
	}
	chain.Set(tx, c.members, member{role, acct}, true)
	tx.Emit(RoleGranted{Contract: c.contract, Role: role.String(), Account: acct, Sender: caller})
	return nil
}

// Revoke removes the role from acct immediately. The caller must be an admin.
func (c *Control) Revoke(tx *chain.Tx, caller common.Address, role Role, acct common.Address) error {
	if err := c.Check(DefaultAdmin, caller); err != nil {
		return err
	}
	return c.revoke(tx, caller, role, acct)
}

// Renounce drops a role held by caller.
func (c *Control) Renounce(tx *chain.Tx, caller common.Address, role Role) error {
	return c.revoke(tx, caller, role, caller)
}

func (c *Control) revoke(tx *chain.Tx, caller common.Address, role Role, acct common.Address) error {
	if !c.Has(role, acct) {
		return nil
	}
	chain.Delete(tx, c.members, member{role, acct})
	tx.Emit(RoleRevoked{Contract: c.contract, Role: role.String(), Account: acct, Sender: caller})
	return nil
}
