package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/metrics"
	"github.com/modlnet/modl/internal/util"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamReadLimit  = 4 * 1024
	streamQueueSize  = 256
	maxStreamReplay  = 1000

	// AllChannels subscribes a client to every event name.
	AllChannels = "*"

	// StreamEventType marks stream messages that carry a ledger event.
	StreamEventType = "event"
	// StreamReadyType is sent once replay is done; live events follow it.
	StreamReadyType = "ready"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the stream is read-only public data
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage is one message on /v1/events/ws. For ledger events Channel
// is the event name and Data the chain.LoggedEvent.
type StreamMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// StreamReady is the payload of the ready message.
type StreamReady struct {
	Channels  []string `json:"channels"`
	Replayed  int      `json:"replayed"`
	Truncated bool     `json:"truncated,omitempty"`
}

// streamControl is what a client may send: subscribe, unsubscribe or ping.
type streamControl struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
}

// eventStream fans committed ledger events out to websocket subscribers.
// A subscriber whose queue is full is disconnected rather than allowed to
// hold up the others.
type eventStream struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	closed  bool
	metrics *metrics.PrometheusCollector
}

func newEventStream(pc *metrics.PrometheusCollector) *eventStream {
	return &eventStream{subs: make(map[*subscriber]struct{}), metrics: pc}
}

// run publishes state's events until ctx is done, then disconnects every
// subscriber.
func (es *eventStream) run(ctx context.Context, state *chain.State) {
	ch := make(chan chain.LoggedEvent, streamQueueSize)
	sub := state.SubscribeEvents(ch)
	defer sub.Unsubscribe()
	defer es.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Err():
			return
		case ev := <-ch:
			es.publish(ev)
		}
	}
}

func (es *eventStream) publish(ev chain.LoggedEvent) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for s := range es.subs {
		if !s.wants(ev.Name) {
			continue
		}
		select {
		case s.events <- ev:
		default:
			logging.Warn("dropping slow event stream subscriber", "remote", s.remote, logging.Component("websocket"))
			es.removeLocked(s)
		}
	}
}

// add registers s. It returns false once the stream has shut down.
func (es *eventStream) add(s *subscriber) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		return false
	}
	es.subs[s] = struct{}{}
	if es.metrics != nil {
		es.metrics.StreamOpened()
	}
	logging.Debug("event stream subscriber connected", "remote", s.remote, "total", len(es.subs), logging.Component("websocket"))
	return true
}

func (es *eventStream) remove(s *subscriber) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.removeLocked(s)
}

// removeLocked closes s's queue, which ends its writer. es.mu must be held.
func (es *eventStream) removeLocked(s *subscriber) {
	if _, ok := es.subs[s]; !ok {
		return
	}
	delete(es.subs, s)
	close(s.events)
	if es.metrics != nil {
		es.metrics.StreamClosed()
	}
}

func (es *eventStream) closeAll() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.closed = true
	for s := range es.subs {
		es.removeLocked(s)
	}
}

func (es *eventStream) count() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.subs)
}

// subscriber is one websocket connection. Only writeLoop writes to conn
// once it has started; replies to control messages go through replies.
type subscriber struct {
	conn    *websocket.Conn
	remote  string
	events  chan chain.LoggedEvent
	replies chan StreamMessage

	mu    sync.RWMutex
	names map[string]bool
}

func newSubscriber(conn *websocket.Conn, remote string, names []string) *subscriber {
	s := &subscriber{
		conn:    conn,
		remote:  remote,
		events:  make(chan chain.LoggedEvent, streamQueueSize),
		replies: make(chan StreamMessage, 8),
		names:   make(map[string]bool, len(names)),
	}
	for _, n := range names {
		s.names[n] = true
	}
	return s
}

func (s *subscriber) wants(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names[AllChannels] || s.names[name]
}

func (s *subscriber) channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	return out
}

func (s *subscriber) write(msg StreamMessage) error {
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return s.conn.WriteJSON(msg)
}

// replay writes the wanted events of backlog, newest maxStreamReplay at
// most, then the ready message. It returns the highest log index covered
// so writeLoop can skip live events already sent.
func (s *subscriber) replay(backlog []chain.LoggedEvent) (int, error) {
	last := -1
	if n := len(backlog); n > 0 {
		last = backlog[n-1].Index
	}
	truncated := false
	if len(backlog) > maxStreamReplay {
		backlog = backlog[len(backlog)-maxStreamReplay:]
		truncated = true
	}
	sent := 0
	for _, ev := range backlog {
		if !s.wants(ev.Name) {
			continue
		}
		if err := s.write(StreamMessage{Type: StreamEventType, Channel: ev.Name, Data: ev}); err != nil {
			return last, err
		}
		sent++
	}
	ready := StreamReady{Channels: s.channels(), Replayed: sent, Truncated: truncated}
	return last, s.write(StreamMessage{Type: StreamReadyType, Data: ready})
}

// writeLoop sends queued events, control replies and keepalive pings
// until the queue is closed or a write fails. Events at or below after
// were already replayed.
func (s *subscriber) writeLoop(after int) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if ev.Index <= after {
				continue
			}
			if err := s.write(StreamMessage{Type: StreamEventType, Channel: ev.Name, Data: ev}); err != nil {
				return
			}
		case msg := <-s.replies:
			if err := s.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop handles control messages until the connection fails, then
// unregisters s.
func (s *subscriber) readLoop(es *eventStream) {
	defer func() {
		es.remove(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(streamReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		var msg streamControl
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug("event stream read failed", logging.Err(err), "remote", s.remote, logging.Component("websocket"))
			}
			return
		}
		s.control(msg)
	}
}

func (s *subscriber) control(msg streamControl) {
	var reply StreamMessage
	switch msg.Type {
	case "subscribe", "unsubscribe":
		s.mu.Lock()
		for _, n := range msg.Channels {
			if msg.Type == "subscribe" {
				s.names[n] = true
			} else {
				delete(s.names, n)
			}
		}
		s.mu.Unlock()
		reply = StreamMessage{Type: msg.Type + "d", Data: map[string][]string{"channels": s.channels()}}
	case "ping":
		reply = StreamMessage{Type: "pong"}
	default:
		return
	}
	select {
	case s.replies <- reply:
	default:
	}
}

// handleWebSocket upgrades to the event stream.
//
//	?events=A,B  only those event names (default: all)
//	?from=N      first replay the log from index N
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	names := []string{AllChannels}
	if q := r.URL.Query().Get("events"); q != "" {
		names = strings.Split(q, ",")
	}
	from, err := queryInt(r, "from", -1)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "from must be an integer")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("event stream upgrade failed", logging.Err(err), logging.Component("websocket"))
		return
	}

	sub := newSubscriber(conn, s.extractClientIP(r), names)
	if !s.stream.add(sub) {
		conn.Close()
		return
	}

	var backlog []chain.LoggedEvent
	if from >= 0 {
		backlog = s.backend.State().EventsSince(from)
	}
	after, err := sub.replay(backlog)
	if err != nil {
		s.stream.remove(sub)
		conn.Close()
		return
	}

	util.SafeGoWithName("event-stream-write", func() { sub.writeLoop(after) })
	util.SafeGoWithName("event-stream-read", func() { sub.readLoop(s.stream) })
}
