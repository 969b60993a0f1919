package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"levelkit/core"
)

func awarded(c core.CommunityID, user core.UserID) core.Event {
	return core.NewScoreEvent(core.NewEntry(core.MemberKey{Community: c, User: user}, core.EntryAwarded, 10, nil), 10)
}

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1, "")

	h.Broadcast(context.Background(), awarded("g1", "bob"))

	received := <-ch
	if received.UserID != "bob" || received.Type != core.EventXPAwarded {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Len())
	}
}

func TestHubFiltersByCommunity(t *testing.T) {
	h := NewHub()
	_, g1 := h.Subscribe(4, "g1")
	_, all := h.Subscribe(4, "")

	h.Broadcast(context.Background(), awarded("g2", "carol"))
	h.Broadcast(context.Background(), awarded("g1", "alice"))

	if got := <-g1; got.UserID != "alice" {
		t.Fatalf("g1 subscriber got %+v", got)
	}
	if len(g1) != 0 {
		t.Fatalf("g1 subscriber received events from another community")
	}
	if len(all) != 2 {
		t.Fatalf("catch-all subscriber got %d events, want 2", len(all))
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	_, _ = h.Subscribe(1, "")
	h.Broadcast(context.Background(), awarded("g1", "a"))
	h.Broadcast(context.Background(), awarded("g1", "b"))
	if h.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", h.Dropped())
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewRewardEarned(core.MemberKey{Community: "g1", User: "alice"}, core.RewardThreshold{Role: "veteran", Level: 5})
	b := MarshalJSON(ev)
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Role != "veteran" || out.Level != 5 {
		t.Fatalf("unexpected event: %+v", out)
	}
}
