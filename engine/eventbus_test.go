package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"levelkit/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func awardEvent() core.Event {
	return core.NewScoreEvent(core.NewEntry(core.MemberKey{Community: "g", User: "u"}, core.EntryAwarded, 1, nil), 1)
}

func TestEventBusSync(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	bus.Subscribe(core.EventXPAwarded, func(ctx context.Context, e core.Event) { count++ })
	bus.Subscribe(core.EventLevelUp, func(ctx context.Context, e core.Event) { t.Fatal("wrong type dispatched") })
	bus.Publish(context.Background(), awardEvent())
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
}

func TestEventBusAsync(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.EventXPAwarded, func(ctx context.Context, e core.Event) { close(ch) })
	bus.Publish(context.Background(), awardEvent())
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestEventBusSubscribeAllAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	var all, typed atomic.Int32
	unsubAll := bus.SubscribeAll(func(ctx context.Context, e core.Event) { all.Add(1) })
	unsub := bus.Subscribe(core.EventXPAwarded, func(ctx context.Context, e core.Event) { typed.Add(1) })

	bus.Publish(context.Background(), awardEvent())
	bus.Publish(context.Background(), core.NewLevelChange(core.MemberKey{Community: "g", User: "u"}, 1, 2))
	unsub()
	unsubAll()
	bus.Publish(context.Background(), awardEvent())

	if all.Load() != 2 || typed.Load() != 1 {
		t.Fatalf("all=%d typed=%d", all.Load(), typed.Load())
	}
}

func TestEventBusCloseStopsWorkers(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	bus.Close()
	bus.Close()
	bus.Publish(context.Background(), awardEvent())
	if bus.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", bus.Dropped())
	}
}

func TestEventBusOrderedDelivery(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	var got []string
	bus.SubscribeAll(func(context.Context, core.Event) { got = append(got, "all") })
	bus.Subscribe(core.EventXPAwarded, func(context.Context, core.Event) { got = append(got, "first") })
	unsub := bus.Subscribe(core.EventXPAwarded, func(context.Context, core.Event) { got = append(got, "gone") })
	bus.Subscribe(core.EventXPAwarded, func(context.Context, core.Event) { got = append(got, "second") })
	unsub()
	unsub()

	bus.Publish(context.Background(), awardEvent())
	want := []string{"first", "second", "all"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestEventBusFullQueueDropsAndCloseDrains(t *testing.T) {
	bus := NewEventBus(DispatchAsync, WithQueueSize(1), WithWorkers(1))
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var delivered atomic.Int32
	bus.Subscribe(core.EventXPAwarded, func(context.Context, core.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		delivered.Add(1)
	})

	bus.Publish(context.Background(), awardEvent())
	<-started
	bus.Publish(context.Background(), awardEvent()) // queued
	bus.Publish(context.Background(), awardEvent()) // dropped
	if bus.Dropped() != 1 {
		t.Fatalf("want 1 drop, got %d", bus.Dropped())
	}

	close(release)
	bus.Close()
	if delivered.Load() != 2 {
		t.Fatalf("want 2 delivered, got %d", delivered.Load())
	}
}
