package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/reverts"
	"github.com/modlnet/modl/pkg/types"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remote     string
		headers    map[string]string
		want       string
	}{
		{"remote addr", false, "10.0.0.1:5555", nil, "10.0.0.1"},
		{"xff ignored without trust", false, "10.0.0.1:5555", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.0.0.1"},
		{"xff first hop", true, "10.0.0.1:5555", map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"}, "1.2.3.4"},
		{"real ip", true, "10.0.0.1:5555", map[string]string{"X-Real-IP": " 9.9.9.9 "}, "9.9.9.9"},
		{"no port", false, "10.0.0.2", nil, "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{config: &ServerConfig{TrustProxy: tt.trustProxy}}
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := s.extractClientIP(r); got != tt.want {
				t.Errorf("extractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{reverts.ErrInvalidNonce, http.StatusUnprocessableEntity},
		{reverts.ErrInsufficientTokenDeposit, http.StatusPaymentRequired},
		{reverts.ErrUnauthorized, http.StatusForbidden},
		{reverts.ErrCooldownInEffect, http.StatusTooEarly},
		{reverts.ErrAuditDoesNotExist, http.StatusNotFound},
		{reverts.ErrReportURIRequired, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if got := StatusForKind(reverts.KindOf(tt.err)); got != tt.want {
			t.Errorf("StatusForKind(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteFailureCarriesRetryAfter(t *testing.T) {
	s := &Server{config: DefaultServerConfig()}
	until := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rec := httptest.NewRecorder()
	s.writeFailure(rec, reverts.TooEarly(reverts.ErrStakeLocked, until))

	if rec.Code != http.StatusTooEarly {
		t.Fatalf("status code = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`"code":"StakeLocked"`, `"retryAfter":"2026-02-01T00:00:00Z"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}
}

func TestCleanupRateLimiters(t *testing.T) {
	s := &Server{config: DefaultServerConfig()}
	now := time.Now()
	s.rateLimiters.Store("old", &rateLimiterEntry{lastSeen: now.Add(-time.Hour)})
	s.rateLimiters.Store("fresh", &rateLimiterEntry{lastSeen: now})

	if n := s.cleanupRateLimiters(now.Add(-10 * time.Minute)); n != 1 {
		t.Fatalf("cleaned = %d, want 1", n)
	}
	if _, ok := s.rateLimiters.Load("old"); ok {
		t.Error("stale limiter survived")
	}
	if _, ok := s.rateLimiters.Load("fresh"); !ok {
		t.Error("fresh limiter removed")
	}
}

func TestLimitForClampsToHighestTier(t *testing.T) {
	s := &Server{config: DefaultServerConfig()}
	s.SetRateLimits([]*types.TierConfig{
		{Level: 0, RequestsPerSecond: 1, Burst: 1},
		{Level: 1, RequestsPerSecond: 2, Burst: 4},
	})
	l, ok := s.limitFor(7)
	if !ok || l.burst != 4 {
		t.Errorf("limitFor(7) = %+v, %v", l, ok)
	}

	s.SetRateLimits(nil)
	if _, ok := s.limitFor(0); ok {
		t.Error("expected no limit without tiers")
	}
}

func TestEventStreamDropsSlowSubscriber(t *testing.T) {
	es := newEventStream(nil)
	slow := newSubscriber(nil, "10.0.0.1", []string{"Transfer"})
	other := newSubscriber(nil, "10.0.0.2", []string{"Penalized"})
	if !es.add(slow) || !es.add(other) {
		t.Fatal("add failed on an open stream")
	}

	for i := 0; i <= streamQueueSize; i++ {
		es.publish(chain.LoggedEvent{Index: i, Name: "Transfer"})
	}
	if n := es.count(); n != 1 {
		t.Fatalf("count = %d, want 1 after dropping the slow subscriber", n)
	}
	drained := 0
	for range slow.events {
		drained++
	}
	if drained != streamQueueSize {
		t.Errorf("drained %d queued events, want %d", drained, streamQueueSize)
	}
	if len(other.events) != 0 {
		t.Error("unsubscribed name was delivered")
	}

	es.closeAll()
	if es.add(newSubscriber(nil, "10.0.0.3", nil)) {
		t.Error("add succeeded after close")
	}
	if _, ok := <-other.events; ok {
		t.Error("closeAll left a queue open")
	}
}

func TestSubscriberControl(t *testing.T) {
	s := newSubscriber(nil, "", []string{"Transfer"})
	s.control(streamControl{Type: "subscribe", Channels: []string{"Penalized"}})
	if !s.wants("Penalized") || !s.wants("Transfer") {
		t.Error("subscribe did not add the channel")
	}
	s.control(streamControl{Type: "unsubscribe", Channels: []string{"Transfer"}})
	if s.wants("Transfer") {
		t.Error("unsubscribe kept the channel")
	}
	s.control(streamControl{Type: "ping"})
	s.control(streamControl{Type: "bogus"})

	want := []string{"subscribed", "unsubscribed", "pong"}
	for _, typ := range want {
		select {
		case msg := <-s.replies:
			if msg.Type != typ {
				t.Errorf("reply = %q, want %q", msg.Type, typ)
			}
		default:
			t.Fatalf("missing %q reply", typ)
		}
	}
	if len(s.replies) != 0 {
		t.Error("unknown control type produced a reply")
	}
}
