package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modlnet/modl/internal/api"
	"github.com/modlnet/modl/internal/chain"
)

func TestStream(t *testing.T) {
	queries := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(api.StreamMessage{Type: api.StreamReadyType})
		for i := 0; i < 3; i++ {
			conn.WriteJSON(api.StreamMessage{
				Type:    api.StreamEventType,
				Channel: "Deposited",
				Data:    chain.LoggedEvent{Block: uint64(i + 1), Index: i, Name: "Deposited"},
			})
		}
		conn.ReadMessage()
	}))
	defer ts.Close()

	errDone := errors.New("done")
	var got []Event
	err := New(ts.URL).Stream(context.Background(), []string{"Deposited", "Withdrawn"}, func(ev Event) error {
		got = append(got, ev)
		if len(got) == 3 {
			return errDone
		}
		return nil
	})
	if !errors.Is(err, errDone) {
		t.Fatalf("Stream err = %v", err)
	}
	if q := <-queries; q != "events=Deposited%2CWithdrawn" {
		t.Errorf("query = %q", q)
	}
	for i, ev := range got {
		if ev.Name != "Deposited" || ev.Index != i || ev.Block != uint64(i+1) {
			t.Errorf("event %d = %+v", i, ev)
		}
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := New(ts.URL).Stream(ctx, nil, func(Event) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stream err = %v, want deadline exceeded", err)
	}
}

func TestStreamFromReplaysLog(t *testing.T) {
	node, c := newNodeServer(t)
	want := 0
	for _, ev := range node.State().Events() {
		if ev.Name == "Transfer" {
			want++
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errDone := errors.New("done")
	got := 0
	err := c.StreamFrom(ctx, 0, []string{"Transfer"}, func(ev Event) error {
		if ev.Name != "Transfer" {
			t.Errorf("got %q", ev.Name)
		}
		got++
		if got == want {
			return errDone
		}
		return nil
	})
	if !errors.Is(err, errDone) {
		t.Fatalf("StreamFrom err = %v after %d of %d events", err, got, want)
	}
}
