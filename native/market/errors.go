package market

import "errors"

var (
	// ErrAlreadyReleased is returned when extracting from an empty holder.
	ErrAlreadyReleased = errors.New("market: item already released")
	// ErrAlreadyOccupied is returned when inserting into a non-empty holder.
	// The defined operations never insert twice; the error exists so a broken
	// caller fails loudly instead of silently duplicating an item.
	ErrAlreadyOccupied = errors.New("market: holder already occupied")

	// ErrNotOwner is returned when the caller lacks authority over the record.
	ErrNotOwner = errors.New("market: caller is not the record owner")
	// ErrAmountMismatch is returned when the supplied payment does not exactly
	// equal the required amount.
	ErrAmountMismatch = errors.New("market: payment amount mismatch")
	// ErrAlreadySettled is returned when the record's holder is already empty,
	// i.e. the listing or escrow was settled, delisted or cancelled.
	ErrAlreadySettled = errors.New("market: already exchanged or cancelled")
	// ErrNoMatchingOffer is returned when accept or withdraw finds no pending
	// offer for the requested party.
	ErrNoMatchingOffer = errors.New("market: no matching offer")

	ErrListingNotFound = errors.New("market: listing not found")
	ErrEscrowNotFound  = errors.New("market: escrow not found")
	ErrItemNotOwned    = errors.New("market: caller does not own item")

	// ErrRegistryCorrupted signals that the advisory registry index disagrees
	// with record storage. This is an invariant violation, never a user error.
	ErrRegistryCorrupted = errors.New("market: registry index corrupted")

	errNilState          = errors.New("market engine: state not configured")
	errMarketplaceAbsent = errors.New("market engine: marketplace not created")
)
