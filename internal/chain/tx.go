package chain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Tx is an open transaction. It is only valid inside the Exec callback.
type Tx struct {
	state  *State
	origin common.Address

	journal   []func()
	events    []Event
	onCommit  []func()
	revisions []revision
	locks     map[string]bool
}

type revision struct {
	journalLen int
	eventsLen  int
	commitLen  int
}

// Origin returns the account that submitted the transaction.
func (tx *Tx) Origin() common.Address { return tx.origin }

// Now returns the block time the transaction executes at.
func (tx *Tx) Now() time.Time { return tx.state.now }

// Block returns the number the block will have once committed.
func (tx *Tx) Block() uint64 { return tx.state.block + 1 }

// Emit buffers an event. It is only published if the transaction commits
// and survives any enclosing RevertTo.
func (tx *Tx) Emit(ev Event) {
	tx.events = append(tx.events, ev)
}

// Events returns the events emitted so far.
func (tx *Tx) Events() []Event {
	return tx.events
}

// OnCommit runs fn after the transaction commits. Hooks registered inside a
// reverted checkpoint are dropped.
func (tx *Tx) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// OnRevert records an undo step.
func (tx *Tx) OnRevert(undo func()) {
	tx.journal = append(tx.journal, undo)
}

// Checkpoint marks the current journal position and returns its id.
// Checkpoint 0 is always the start of the transaction.
func (tx *Tx) Checkpoint() int {
	if len(tx.revisions) == 0 {
		tx.revisions = append(tx.revisions, revision{})
	}
	tx.revisions = append(tx.revisions, revision{
		journalLen: len(tx.journal),
		eventsLen:  len(tx.events),
		commitLen:  len(tx.onCommit),
	})
	return len(tx.revisions) - 1
}

// RevertTo undoes every write and event recorded after checkpoint id and
// discards that checkpoint and all later ones.
func (tx *Tx) RevertTo(id int) {
	rev := revision{}
	if id > 0 && id < len(tx.revisions) {
		rev = tx.revisions[id]
	}
	for i := len(tx.journal) - 1; i >= rev.journalLen; i-- {
		tx.journal[i]()
	}
	tx.journal = tx.journal[:rev.journalLen]
	tx.events = tx.events[:rev.eventsLen]
	tx.onCommit = tx.onCommit[:rev.commitLen]
	if id < len(tx.revisions) {
		tx.revisions = tx.revisions[:id]
	}
}

// Lock acquires a named non-reentrant guard for the rest of the call.
// It returns false if the guard is already held.
func (tx *Tx) Lock(name string) (unlock func(), ok bool) {
	if tx.locks == nil {
		tx.locks = make(map[string]bool)
	}
	if tx.locks[name] {
		return func() {}, false
	}
	tx.locks[name] = true
	return func() { delete(tx.locks, name) }, true
}

// Set writes m[k] = v and journals the previous value.
func Set[K comparable, V any](tx *Tx, m map[K]V, k K, v V) {
	old, existed := m[k]
	tx.OnRevert(func() {
		if existed {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// Delete removes m[k] and journals the previous value.
func Delete[K comparable, V any](tx *Tx, m map[K]V, k K) {
	old, existed := m[k]
	if !existed {
		return
	}
	tx.OnRevert(func() { m[k] = old })
	delete(m, k)
}

// Assign writes *p = v and journals the previous value.
func Assign[T any](tx *Tx, p *T, v T) {
	old := *p
	tx.OnRevert(func() { *p = old })
	*p = v
}
