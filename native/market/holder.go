package market

// Holder is a single-slot container guaranteeing that a value is held by
// exactly one place at a time. Extraction is destructive: once the slot has
// been emptied it stays empty for the remainder of the record's life, which is
// what makes a listing or escrow a single-use container.
type Holder[T any] struct {
	Present bool
	Value   T
}

// NewHolder returns a holder occupied by the supplied value.
func NewHolder[T any](value T) Holder[T] {
	return Holder[T]{Present: true, Value: value}
}

// IsPresent reports whether the slot currently holds a value.
func (h *Holder[T]) IsPresent() bool {
	return h != nil && h.Present
}

// Extract removes and returns the held value, leaving the slot empty. It
// fails with ErrAlreadyReleased when the slot was emptied before.
func (h *Holder[T]) Extract() (T, error) {
	var zero T
	if h == nil || !h.Present {
		return zero, ErrAlreadyReleased
	}
	value := h.Value
	h.Present = false
	h.Value = zero
	return value, nil
}

// Insert places a value into an empty slot. It fails with ErrAlreadyOccupied
// when a value is already held.
func (h *Holder[T]) Insert(value T) error {
	if h == nil {
		return ErrAlreadyOccupied
	}
	if h.Present {
		return ErrAlreadyOccupied
	}
	h.Present = true
	h.Value = value
	return nil
}
