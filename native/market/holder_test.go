package market

import (
	"errors"
	"testing"
)

func TestHolderExtractOnce(t *testing.T) {
	h := NewHolder(Item{ID: hash(1), Class: "collectible"})
	if !h.IsPresent() {
		t.Fatalf("expected holder to be occupied")
	}
	item, err := h.Extract()
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if item.ID != hash(1) {
		t.Fatalf("unexpected item %x", item.ID)
	}
	if h.IsPresent() {
		t.Fatalf("expected holder empty after extract")
	}
	if _, err := h.Extract(); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}
}

func TestHolderInsert(t *testing.T) {
	var h Holder[Item]
	if h.IsPresent() {
		t.Fatalf("zero holder must be empty")
	}
	if err := h.Insert(Item{ID: hash(1)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := h.Insert(Item{ID: hash(2)}); !errors.Is(err, ErrAlreadyOccupied) {
		t.Fatalf("expected ErrAlreadyOccupied, got %v", err)
	}
	if h.Value.ID != hash(1) {
		t.Fatalf("second insert must not overwrite the held value")
	}
}

func TestHolderNilReceiver(t *testing.T) {
	var h *Holder[Item]
	if h.IsPresent() {
		t.Fatalf("nil holder must report empty")
	}
	if _, err := h.Extract(); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}
	if err := h.Insert(Item{}); !errors.Is(err, ErrAlreadyOccupied) {
		t.Fatalf("expected ErrAlreadyOccupied, got %v", err)
	}
}
