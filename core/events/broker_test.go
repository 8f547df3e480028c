package events

import "testing"

type stubEvent string

func (s stubEvent) EventType() string { return string(s) }

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(4)
	first, cancelFirst := b.Subscribe()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	b.Emit(stubEvent("market.listing.created"))

	if evt := <-first; evt.EventType() != "market.listing.created" {
		t.Fatalf("first subscriber got %q", evt.EventType())
	}
	if evt := <-second; evt.EventType() != "market.listing.created" {
		t.Fatalf("second subscriber got %q", evt.EventType())
	}

	cancelFirst()
	if _, ok := <-first; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	// Emitting after cancel must not panic or block.
	b.Emit(stubEvent("market.listing.settled"))
	if evt := <-second; evt.EventType() != "market.listing.settled" {
		t.Fatalf("second subscriber got %q", evt.EventType())
	}
}

func TestBrokerDropsWhenBufferFull(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Emit(stubEvent("a"))
	b.Emit(stubEvent("b")) // dropped, buffer holds one

	if evt := <-ch; evt.EventType() != "a" {
		t.Fatalf("got %q, want a", evt.EventType())
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected buffered event %q", evt.EventType())
	default:
	}
}

func TestBrokerCancelIdempotent(t *testing.T) {
	b := NewBroker(1)
	_, cancel := b.Subscribe()
	cancel()
	cancel()
}

func TestNoopEmitter(t *testing.T) {
	NoopEmitter{}.Emit(stubEvent("ignored"))
}
