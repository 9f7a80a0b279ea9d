// Package chain is the execution context every ledger runs in: a block
// clock, all-or-nothing transactions backed by an undo journal, nested
// checkpoints, an event log and a registry of callable contracts.
//
// Writes happen only inside State.Exec. Read-only accessors on the ledgers
// do not lock; callers outside a transaction wrap them in State.View.
package chain

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/modlnet/modl/internal/logging"
)

// Event is anything a transaction emits.
type Event interface {
	EventName() string
}

// LoggedEvent is a committed event with its position in the log.
type LoggedEvent struct {
	Block uint64    `json:"block"`
	Time  time.Time `json:"time"`
	Index int       `json:"index"`
	Name  string    `json:"name"`
	Data  Event     `json:"data"`
}

// Receipt describes a committed transaction.
type Receipt struct {
	Block  uint64
	Time   time.Time
	Origin common.Address
	Events []Event
}

// State is the shared world state. A single mutex serializes transactions.
type State struct {
	mu sync.RWMutex

	block     uint64
	now       time.Time
	contracts map[common.Address]Contract
	log       []LoggedEvent

	feed  event.Feed
	scope event.SubscriptionScope
}

// NewState creates a state whose clock starts at genesis.
func NewState(genesis time.Time) *State {
	return &State{
		now:       genesis.UTC(),
		contracts: make(map[common.Address]Contract),
	}
}

// Exec runs fn as one transaction. If fn returns an error or panics, every
// journaled write and every emitted event is discarded.
func (s *State) Exec(origin common.Address, fn func(tx *Tx) error) (*Receipt, error) {
	receipt, logged, hooks, err := s.exec(origin, fn)
	if err != nil {
		return nil, err
	}
	for _, hook := range hooks {
		hook()
	}
	for _, ev := range logged {
		s.feed.Send(ev)
	}
	return receipt, nil
}

func (s *State) exec(origin common.Address, fn func(tx *Tx) error) (*Receipt, []LoggedEvent, []func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{state: s, origin: origin}
	if err := runGuarded(tx, fn); err != nil {
		tx.RevertTo(0)
		return nil, nil, nil, err
	}

	s.block++
	receipt := &Receipt{
		Block:  s.block,
		Time:   s.now,
		Origin: origin,
		Events: tx.events,
	}
	logged := make([]LoggedEvent, 0, len(tx.events))
	for _, ev := range tx.events {
		le := LoggedEvent{
			Block: s.block,
			Time:  s.now,
			Index: len(s.log),
			Name:  ev.EventName(),
			Data:  ev,
		}
		s.log = append(s.log, le)
		logged = append(logged, le)
	}
	return receipt, logged, tx.onCommit, nil
}

func runGuarded(tx *Tx, fn func(tx *Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("transaction panic recovered",
				"panic", r,
				"stack", string(debug.Stack()),
				logging.Component("chain"))
			err = fmt.Errorf("transaction panicked: %v", r)
		}
	}()
	return fn(tx)
}

// View runs fn with the state read-locked.
func (s *State) View(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

// Now returns the current block time.
func (s *State) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// BlockNumber returns the number of committed transactions.
func (s *State) BlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.block
}

// AdvanceTime moves the clock forward. Negative durations are ignored.
func (s *State) AdvanceTime(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.now = s.now.Add(d)
	}
	return s.now
}

// SetTime moves the clock to t if t is not in the past.
func (s *State) SetTime(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.now) {
		s.now = t.UTC()
	}
	return s.now
}

// Register binds a contract to an address. Addresses without a contract
// behave like externally owned accounts.
func (s *State) Register(addr common.Address, c Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[addr] = c
}

// Events returns a copy of the committed event log.
func (s *State) Events() []LoggedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LoggedEvent, len(s.log))
	copy(out, s.log)
	return out
}

// EventsSince returns committed events with Index >= from.
func (s *State) EventsSince(from int) []LoggedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= len(s.log) {
		return nil
	}
	out := make([]LoggedEvent, len(s.log)-from)
	copy(out, s.log[from:])
	return out
}

// SubscribeEvents delivers every committed event to ch. The channel should
// be buffered; Exec blocks until each subscriber has received the event.
func (s *State) SubscribeEvents(ch chan<- LoggedEvent) event.Subscription {
	return s.scope.Track(s.feed.Subscribe(ch))
}

// Close ends all event subscriptions.
func (s *State) Close() {
	s.scope.Close()
}
