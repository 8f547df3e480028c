package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"marketchain/core/types"
)

const (
	EventTypeMarketplaceCreated = "market.marketplace.created"
	EventTypeListingCreated     = "market.listing.created"
	EventTypeListingSettled     = "market.listing.settled"
	EventTypeListingDelisted    = "market.listing.delisted"
	EventTypeOfferMade          = "market.offer.made"
	EventTypeOfferAccepted      = "market.offer.accepted"
	EventTypeOfferWithdrawn     = "market.offer.withdrawn"
	EventTypeEscrowCreated      = "market.escrow.created"
	EventTypeEscrowExchanged    = "market.escrow.exchanged"
	EventTypeEscrowCancelled    = "market.escrow.cancelled"
)

// NewMarketplaceCreatedEvent returns the canonical payload for registry
// initialisation.
func NewMarketplaceCreatedEvent(m *Marketplace) *types.Event {
	attrs := make(map[string]string)
	if m != nil {
		attrs["createdAt"] = strconv.FormatInt(m.CreatedAt, 10)
	}
	return &types.Event{Type: EventTypeMarketplaceCreated, Attributes: attrs}
}

// NewListingCreatedEvent returns the canonical payload for a new listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingCreated, l, nil)
}

// NewListingSettledEvent returns the payload emitted when a listing is bought
// at the ask price.
func NewListingSettledEvent(l *Listing, buyer [20]byte, paid *big.Int) *types.Event {
	extra := map[string]string{
		"buyer": hex.EncodeToString(buyer[:]),
	}
	if paid != nil {
		extra["paid"] = paid.String()
	}
	return newListingEvent(EventTypeListingSettled, l, extra)
}

// NewListingDelistedEvent returns the payload emitted when the owner reclaims
// the listed item.
func NewListingDelistedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingDelisted, l, nil)
}

// NewOfferMadeEvent returns the payload emitted when a payment is escrowed
// against a listing.
func NewOfferMadeEvent(l *Listing, o Offer) *types.Event {
	return newListingEvent(EventTypeOfferMade, l, offerAttrs(o))
}

// NewOfferAcceptedEvent returns the payload emitted when the owner settles the
// listing against a pending offer.
func NewOfferAcceptedEvent(l *Listing, o Offer) *types.Event {
	return newListingEvent(EventTypeOfferAccepted, l, offerAttrs(o))
}

// NewOfferWithdrawnEvent returns the payload emitted when an offerer reclaims
// an escrowed payment.
func NewOfferWithdrawnEvent(l *Listing, o Offer) *types.Event {
	return newListingEvent(EventTypeOfferWithdrawn, l, offerAttrs(o))
}

// NewEscrowCreatedEvent returns the canonical payload for a new direct-swap
// escrow.
func NewEscrowCreatedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowCreated, e, nil)
}

// NewEscrowExchangedEvent returns the payload emitted when the counterparty
// pays the requested amount and receives the item.
func NewEscrowExchangedEvent(e *Escrow, counterparty [20]byte) *types.Event {
	return newEscrowEvent(EventTypeEscrowExchanged, e, map[string]string{
		"counterparty": hex.EncodeToString(counterparty[:]),
	})
}

// NewEscrowCancelledEvent returns the payload emitted when the creator
// reclaims the escrowed item.
func NewEscrowCancelledEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowCancelled, e, nil)
}

func offerAttrs(o Offer) map[string]string {
	attrs := map[string]string{
		"offerer":    hex.EncodeToString(o.Offerer[:]),
		"offerToken": o.Token,
	}
	if o.Amount != nil {
		attrs["offerAmount"] = o.Amount.String()
	}
	return attrs
}

func newListingEvent(eventType string, l *Listing, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["owner"] = hex.EncodeToString(sanitized.Owner[:])
	attrs["token"] = sanitized.Token
	attrs["ask"] = sanitized.Ask.String()
	attrs["status"] = strconv.FormatUint(uint64(sanitized.Status), 10)
	attrs["offers"] = strconv.Itoa(len(sanitized.Offers))
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newEscrowEvent(eventType string, e *Escrow, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["creator"] = hex.EncodeToString(sanitized.Creator[:])
	attrs["token"] = sanitized.Token
	attrs["exchangeFor"] = sanitized.ExchangeFor.String()
	attrs["status"] = strconv.FormatUint(uint64(sanitized.Status), 10)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
