package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type noteEvent struct{ Note string }

func (noteEvent) EventName() string { return "Note" }

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func newTestState() *State {
	return NewState(time.Unix(1_700_000_000, 0))
}

func TestExec_CommitsWritesAndEvents(t *testing.T) {
	s := newTestState()
	m := map[string]int{}

	receipt, err := s.Exec(alice, func(tx *Tx) error {
		Set(tx, m, "a", 1)
		tx.Emit(noteEvent{"hello"})
		return nil
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if m["a"] != 1 {
		t.Errorf("expected write to be committed, got %d", m["a"])
	}
	if receipt.Block != 1 || len(receipt.Events) != 1 {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if receipt.Origin != alice {
		t.Errorf("origin = %s, want %s", receipt.Origin.Hex(), alice.Hex())
	}
	logged := s.Events()
	if len(logged) != 1 || logged[0].Name != "Note" {
		t.Fatalf("unexpected log: %+v", logged)
	}
}

func TestExec_ErrorRevertsEverything(t *testing.T) {
	s := newTestState()
	m := map[string]int{"keep": 7}
	var counter int

	_, err := s.Exec(alice, func(tx *Tx) error {
		Set(tx, m, "keep", 8)
		Set(tx, m, "new", 1)
		Delete(tx, m, "keep")
		Assign(tx, &counter, 5)
		tx.Emit(noteEvent{"lost"})
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if m["keep"] != 7 {
		t.Errorf("keep = %d, want 7", m["keep"])
	}
	if _, ok := m["new"]; ok {
		t.Error("expected new key to be removed")
	}
	if counter != 0 {
		t.Errorf("counter = %d, want 0", counter)
	}
	if len(s.Events()) != 0 {
		t.Error("expected no committed events")
	}
	if s.BlockNumber() != 0 {
		t.Errorf("block = %d, want 0", s.BlockNumber())
	}
}

func TestExec_PanicIsReverted(t *testing.T) {
	s := newTestState()
	m := map[string]int{}

	_, err := s.Exec(alice, func(tx *Tx) error {
		Set(tx, m, "a", 1)
		panic("unexpected")
	})
	if err == nil {
		t.Fatal("expected error from panicking transaction")
	}
	if len(m) != 0 {
		t.Errorf("expected map to be empty, got %v", m)
	}
}

func TestCheckpoint_NestedRevert(t *testing.T) {
	s := newTestState()
	m := map[string]int{}

	_, err := s.Exec(alice, func(tx *Tx) error {
		Set(tx, m, "outer", 1)
		tx.Emit(noteEvent{"outer"})

		cp := tx.Checkpoint()
		Set(tx, m, "inner", 2)
		Set(tx, m, "outer", 3)
		tx.Emit(noteEvent{"inner"})
		tx.RevertTo(cp)

		Set(tx, m, "after", 4)
		return nil
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if m["outer"] != 1 || m["after"] != 4 {
		t.Errorf("unexpected map: %v", m)
	}
	if _, ok := m["inner"]; ok {
		t.Error("expected inner write to be reverted")
	}
	logged := s.Events()
	if len(logged) != 1 || logged[0].Data.(noteEvent).Note != "outer" {
		t.Errorf("unexpected events: %+v", logged)
	}
}

func TestCall_FailingContractIsIsolated(t *testing.T) {
	s := newTestState()
	target := common.HexToAddress("0xc0de")
	m := map[string]int{}

	s.Register(target, ContractFunc(func(tx *Tx, msg Message) ([]byte, uint64, error) {
		Set(tx, m, "callee", 1)
		return nil, 21000, errors.New("reverted")
	}))

	_, err := s.Exec(alice, func(tx *Tx) error {
		Set(tx, m, "caller", 1)
		res := tx.Call(Message{Sender: alice, From: alice, To: target, Gas: 50000})
		if res.Success {
			t.Error("expected call to fail")
		}
		if res.GasUsed != 21000 {
			t.Errorf("gasUsed = %d, want 21000", res.GasUsed)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if m["caller"] != 1 {
		t.Error("expected caller write to survive")
	}
	if _, ok := m["callee"]; ok {
		t.Error("expected callee write to be reverted")
	}
}

func TestCall_OutOfGasAndPanic(t *testing.T) {
	s := newTestState()
	greedy := common.HexToAddress("0x01")
	panicky := common.HexToAddress("0x02")
	s.Register(greedy, ContractFunc(func(tx *Tx, msg Message) ([]byte, uint64, error) {
		return nil, msg.Gas + 1, nil
	}))
	s.Register(panicky, ContractFunc(func(tx *Tx, msg Message) ([]byte, uint64, error) {
		panic("bad opcode")
	}))

	_, err := s.Exec(alice, func(tx *Tx) error {
		res := tx.Call(Message{To: greedy, Gas: 100})
		if res.Success || !errors.Is(res.Err, ErrOutOfGas) || res.GasUsed != 100 {
			t.Errorf("unexpected out-of-gas result: %+v", res)
		}
		res = tx.Call(Message{To: panicky, Gas: 100})
		if res.Success || res.GasUsed != 100 {
			t.Errorf("unexpected panic result: %+v", res)
		}
		res = tx.Call(Message{To: bob, Gas: 100})
		if !res.Success || res.GasUsed != 0 {
			t.Errorf("expected plain account call to succeed, got %+v", res)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
}

func TestTime(t *testing.T) {
	s := newTestState()
	start := s.Now()

	s.AdvanceTime(time.Hour)
	if got := s.Now().Sub(start); got != time.Hour {
		t.Errorf("advanced %v, want 1h", got)
	}
	s.AdvanceTime(-time.Hour)
	if got := s.Now().Sub(start); got != time.Hour {
		t.Errorf("negative advance moved clock to %v", got)
	}
	s.SetTime(start)
	if got := s.Now().Sub(start); got != time.Hour {
		t.Errorf("SetTime moved clock backwards to %v", got)
	}
}

func TestLock_Reentrancy(t *testing.T) {
	s := newTestState()
	_, _ = s.Exec(alice, func(tx *Tx) error {
		unlock, ok := tx.Lock("relay")
		if !ok {
			t.Fatal("expected first lock to succeed")
		}
		if _, ok := tx.Lock("relay"); ok {
			t.Error("expected second lock to fail")
		}
		unlock()
		if _, ok := tx.Lock("relay"); !ok {
			t.Error("expected lock after unlock to succeed")
		}
		return nil
	})
}

func TestSubscribeEvents(t *testing.T) {
	s := newTestState()
	ch := make(chan LoggedEvent, 4)
	sub := s.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	_, err := s.Exec(alice, func(tx *Tx) error {
		tx.Emit(noteEvent{"one"})
		return nil
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Name != "Note" || ev.Block != 1 {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	if got := s.EventsSince(1); got != nil {
		t.Errorf("expected no events since 1, got %v", got)
	}
}

func TestOnCommit_DroppedWithRevertedCheckpoint(t *testing.T) {
	s := newTestState()
	var ran []string

	_, err := s.Exec(alice, func(tx *Tx) error {
		tx.OnCommit(func() { ran = append(ran, "outer") })
		cp := tx.Checkpoint()
		tx.OnCommit(func() { ran = append(ran, "inner") })
		tx.RevertTo(cp)
		return nil
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if len(ran) != 1 || ran[0] != "outer" {
		t.Errorf("unexpected hooks: %v", ran)
	}

	ran = nil
	_, _ = s.Exec(alice, func(tx *Tx) error {
		tx.OnCommit(func() { ran = append(ran, "never") })
		return errors.New("abort")
	})
	if len(ran) != 0 {
		t.Errorf("expected no hooks after failed tx, got %v", ran)
	}
}
