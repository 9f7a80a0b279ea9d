package tier

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/chain"
)

// Badge is a non-transferable marker of a user's tier. Each user owns at
// most one; it is minted once and its metadata follows later tier changes.
type Badge struct {
	ID    uint64         `json:"id"`
	Owner common.Address `json:"owner"`
	Tier  uint8          `json:"tier"`
	URI   string         `json:"uri"`
}

// Badges is the badge registry.
type Badges struct {
	baseURI string
	nextID  uint64
	byID    map[uint64]Badge
	byOwner map[common.Address]uint64
}

// NewBadges creates an empty registry. Token ids start at 1.
func NewBadges(baseURI string) *Badges {
	return &Badges{
		baseURI: strings.TrimSuffix(baseURI, "/"),
		nextID:  1,
		byID:    make(map[uint64]Badge),
		byOwner: make(map[common.Address]uint64),
	}
}

// BadgeOf returns owner's badge id, or 0.
func (b *Badges) BadgeOf(owner common.Address) uint64 {
	return b.byOwner[owner]
}

// Get returns the badge with id.
func (b *Badges) Get(id uint64) (Badge, bool) {
	badge, ok := b.byID[id]
	return badge, ok
}

// Count returns the number of minted badges.
func (b *Badges) Count() int { return len(b.byID) }

// TokenURI renders the metadata location for a tier.
func (b *Badges) TokenURI(id uint64, tier uint8) string {
	if b.baseURI == "" {
		return ""
	}
	return fmt.Sprintf("%s/%d/tier-%d.json", b.baseURI, id, tier)
}

// Mint issues owner's badge. If owner already has one it is updated instead.
func (b *Badges) Mint(tx *chain.Tx, owner common.Address, tier uint8) uint64 {
	if id := b.byOwner[owner]; id != 0 {
		b.Update(tx, id, tier)
		return id
	}
	id := b.nextID
	chain.Assign(tx, &b.nextID, id+1)
	badge := Badge{ID: id, Owner: owner, Tier: tier, URI: b.TokenURI(id, tier)}
	chain.Set(tx, b.byID, id, badge)
	chain.Set(tx, b.byOwner, owner, id)
	tx.Emit(BadgeMinted{Owner: owner, BadgeID: id, Tier: tier, URI: badge.URI})
	return id
}

// Update rewrites badge id's tier and metadata.
func (b *Badges) Update(tx *chain.Tx, id uint64, tier uint8) {
	badge, ok := b.byID[id]
	if !ok || badge.Tier == tier {
		return
	}
	badge.Tier = tier
	badge.URI = b.TokenURI(id, tier)
	chain.Set(tx, b.byID, id, badge)
	tx.Emit(BadgeUpdated{Owner: badge.Owner, BadgeID: id, Tier: tier, URI: badge.URI})
}
