package market

import (
	"fmt"
	"math/big"
	"strings"
)

// ListingStatus represents the lifecycle states of a listing. A listing is a
// single-use container: once it leaves ListingActive it never re-enters it.
type ListingStatus uint8

const (
	ListingActive ListingStatus = iota
	ListingSettled
	ListingDelisted
)

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingSettled, ListingDelisted:
		return true
	default:
		return false
	}
}

// EscrowStatus represents the lifecycle states of a direct-swap escrow.
type EscrowStatus uint8

const (
	EscrowActive EscrowStatus = iota
	EscrowExchanged
	EscrowCancelled
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowActive, EscrowExchanged, EscrowCancelled:
		return true
	default:
		return false
	}
}

// Item is an opaque unique asset. The marketplace never interprets the class
// or metadata; custody is what matters.
type Item struct {
	ID       [32]byte
	Class    string
	MetaHash [32]byte
}

// Offer is a buyer's escrowed payment proposing to acquire a listing's item at
// a price the buyer names. The escrowed amount is exclusively owned by the
// listing until accepted or withdrawn.
type Offer struct {
	Offerer   [20]byte
	Token     string
	Amount    *big.Int
	CreatedAt int64
}

// Clone returns a deep copy of the offer.
func (o Offer) Clone() Offer {
	clone := o
	if o.Amount != nil {
		clone.Amount = new(big.Int).Set(o.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return clone
}

// Listing is an item offered for sale at a fixed ask price, plus any pending
// offers. Ask and Owner are immutable after creation; the item holder
// transitions present->empty exactly once over the record's life.
type Listing struct {
	ID        [32]byte
	Owner     [20]byte
	Token     string
	Ask       *big.Int
	Item      Holder[Item]
	Offers    []Offer
	CreatedAt int64
	Status    ListingStatus
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Ask != nil {
		clone.Ask = new(big.Int).Set(l.Ask)
	} else {
		clone.Ask = big.NewInt(0)
	}
	if len(l.Offers) > 0 {
		clone.Offers = make([]Offer, len(l.Offers))
		for i, offer := range l.Offers {
			clone.Offers[i] = offer.Clone()
		}
	} else {
		clone.Offers = nil
	}
	return &clone
}

// Escrow is a two-party holding record for a direct item-for-payment swap
// without a public ask price or offer ledger.
type Escrow struct {
	ID          [32]byte
	Creator     [20]byte
	Token       string
	ExchangeFor *big.Int
	Item        Holder[Item]
	CreatedAt   int64
	Status      EscrowStatus
}

// Clone returns a deep copy of the escrow.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.ExchangeFor != nil {
		clone.ExchangeFor = new(big.Int).Set(e.ExchangeFor)
	} else {
		clone.ExchangeFor = big.NewInt(0)
	}
	return &clone
}

// Marketplace is the shared advisory index of active listing and escrow
// identifiers. It is bookkeeping only: the authoritative custody signal is
// each record's own holder.
type Marketplace struct {
	Listings  [][32]byte
	Escrows   [][32]byte
	CreatedAt int64
}

// ContainsListing reports whether the listing identifier is indexed.
func (m *Marketplace) ContainsListing(id [32]byte) bool {
	if m == nil {
		return false
	}
	for _, existing := range m.Listings {
		if existing == id {
			return true
		}
	}
	return false
}

// ContainsEscrow reports whether the escrow identifier is indexed.
func (m *Marketplace) ContainsEscrow(id [32]byte) bool {
	if m == nil {
		return false
	}
	for _, existing := range m.Escrows {
		if existing == id {
			return true
		}
	}
	return false
}

// Size returns the number of indexed records.
func (m *Marketplace) Size() int {
	if m == nil {
		return 0
	}
	return len(m.Listings) + len(m.Escrows)
}

// Clone returns a deep copy of the registry index.
func (m *Marketplace) Clone() *Marketplace {
	if m == nil {
		return nil
	}
	clone := &Marketplace{CreatedAt: m.CreatedAt}
	if len(m.Listings) > 0 {
		clone.Listings = append([][32]byte(nil), m.Listings...)
	}
	if len(m.Escrows) > 0 {
		clone.Escrows = append([][32]byte(nil), m.Escrows...)
	}
	return clone
}

func (m *Marketplace) removeListing(id [32]byte) bool {
	for i, existing := range m.Listings {
		if existing == id {
			m.Listings = append(m.Listings[:i], m.Listings[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Marketplace) removeEscrow(id [32]byte) bool {
	for i, existing := range m.Escrows {
		if existing == id {
			m.Escrows = append(m.Escrows[:i], m.Escrows[i+1:]...)
			return true
		}
	}
	return false
}

// NormalizeToken ensures the provided token symbol matches a supported value
// ("MKT" or "USDM") and returns the canonical uppercase form.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "MKT", "USDM":
		return trimmed, nil
	default:
		return "", fmt.Errorf("unsupported market token: %s", symbol)
	}
}

// SanitizeListing validates and normalises the supplied listing, returning a
// cloned instance with canonical token casing and non-nil amounts. The
// function does not mutate the original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Ask == nil {
		clone.Ask = big.NewInt(0)
	}
	if clone.Ask.Sign() < 0 {
		return nil, fmt.Errorf("listing ask must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid listing status: %d", clone.Status)
	}
	if clone.Status == ListingActive && !clone.Item.IsPresent() {
		return nil, fmt.Errorf("active listing must hold its item")
	}
	if clone.Status != ListingActive && clone.Item.IsPresent() {
		return nil, fmt.Errorf("terminal listing must not hold an item")
	}
	for i := range clone.Offers {
		offerToken, err := NormalizeToken(clone.Offers[i].Token)
		if err != nil {
			return nil, err
		}
		clone.Offers[i].Token = offerToken
		if clone.Offers[i].Amount == nil {
			clone.Offers[i].Amount = big.NewInt(0)
		}
		if clone.Offers[i].Amount.Sign() < 0 {
			return nil, fmt.Errorf("offer amount must be non-negative")
		}
	}
	return clone, nil
}

// SanitizeEscrow validates and normalises the supplied escrow definition.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.ExchangeFor == nil {
		clone.ExchangeFor = big.NewInt(0)
	}
	if clone.ExchangeFor.Sign() < 0 {
		return nil, fmt.Errorf("escrow exchange amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if clone.Status == EscrowActive && !clone.Item.IsPresent() {
		return nil, fmt.Errorf("active escrow must hold its item")
	}
	if clone.Status != EscrowActive && clone.Item.IsPresent() {
		return nil, fmt.Errorf("terminal escrow must not hold an item")
	}
	return clone, nil
}
