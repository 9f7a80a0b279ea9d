package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves token addresses to ledgers.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[common.Address]*Ledger
}

// NewRegistry creates a registry holding the native currency ledger.
func NewRegistry() *Registry {
	r := &Registry{ledgers: make(map[common.Address]*Ledger)}
	r.ledgers[NativeAddress] = NewLedger(NativeAddress, "Ether", "ETH", 18)
	return r
}

// Add registers a ledger. Adding the same address twice is an error.
func (r *Registry) Add(l *Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledgers[l.Address()]; ok {
		return fmt.Errorf("token %s already registered", l.Address().Hex())
	}
	r.ledgers[l.Address()] = l
	return nil
}

// Get returns the ledger at addr.
func (r *Registry) Get(addr common.Address) (*Ledger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[addr]
	return l, ok
}

// Native returns the native currency ledger.
func (r *Registry) Native() *Ledger {
	l, _ := r.Get(NativeAddress)
	return l
}

// All returns every registered ledger.
func (r *Registry) All() []*Ledger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Ledger, 0, len(r.ledgers))
	for _, l := range r.ledgers {
		out = append(out, l)
	}
	return out
}
