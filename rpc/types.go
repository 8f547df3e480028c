package rpc

import (
	"encoding/hex"

	"marketchain/crypto"
	"marketchain/native/market"
)

type offerJSON struct {
	Offerer   string `json:"offerer"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	CreatedAt int64  `json:"createdAt"`
}

type listingJSON struct {
	ID        string      `json:"id"`
	Owner     string      `json:"owner"`
	Token     string      `json:"token"`
	Ask       string      `json:"ask"`
	Status    string      `json:"status"`
	Item      *itemJSON   `json:"item,omitempty"`
	Offers    []offerJSON `json:"offers"`
	CreatedAt int64       `json:"createdAt"`
}

type itemJSON struct {
	ID       string `json:"id"`
	Class    string `json:"class,omitempty"`
	MetaHash string `json:"metaHash,omitempty"`
}

type escrowJSON struct {
	ID          string    `json:"id"`
	Creator     string    `json:"creator"`
	Token       string    `json:"token"`
	ExchangeFor string    `json:"exchangeFor"`
	Status      string    `json:"status"`
	Item        *itemJSON `json:"item,omitempty"`
	CreatedAt   int64     `json:"createdAt"`
}

type marketplaceJSON struct {
	Listings  []string `json:"listings"`
	Escrows   []string `json:"escrows"`
	Size      int      `json:"size"`
	CreatedAt int64    `json:"createdAt"`
}

func listingStatusString(status market.ListingStatus) string {
	switch status {
	case market.ListingActive:
		return "active"
	case market.ListingSettled:
		return "settled"
	case market.ListingDelisted:
		return "delisted"
	default:
		return "unknown"
	}
}

func escrowStatusString(status market.EscrowStatus) string {
	switch status {
	case market.EscrowActive:
		return "active"
	case market.EscrowExchanged:
		return "exchanged"
	case market.EscrowCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.MarketPrefix, addr[:]).String()
}

func itemToJSON(item market.Item) *itemJSON {
	return &itemJSON{
		ID:       hex.EncodeToString(item.ID[:]),
		Class:    item.Class,
		MetaHash: hex.EncodeToString(item.MetaHash[:]),
	}
}

func listingToJSON(l *market.Listing) *listingJSON {
	if l == nil {
		return nil
	}
	out := &listingJSON{
		ID:        hex.EncodeToString(l.ID[:]),
		Owner:     encodeAddress(l.Owner),
		Token:     l.Token,
		Ask:       l.Ask.String(),
		Status:    listingStatusString(l.Status),
		Offers:    make([]offerJSON, 0, len(l.Offers)),
		CreatedAt: l.CreatedAt,
	}
	if l.Item.IsPresent() {
		out.Item = itemToJSON(l.Item.Value)
	}
	for _, offer := range l.Offers {
		out.Offers = append(out.Offers, offerJSON{
			Offerer:   encodeAddress(offer.Offerer),
			Token:     offer.Token,
			Amount:    offer.Amount.String(),
			CreatedAt: offer.CreatedAt,
		})
	}
	return out
}

func escrowToJSON(e *market.Escrow) *escrowJSON {
	if e == nil {
		return nil
	}
	out := &escrowJSON{
		ID:          hex.EncodeToString(e.ID[:]),
		Creator:     encodeAddress(e.Creator),
		Token:       e.Token,
		ExchangeFor: e.ExchangeFor.String(),
		Status:      escrowStatusString(e.Status),
		CreatedAt:   e.CreatedAt,
	}
	if e.Item.IsPresent() {
		out.Item = itemToJSON(e.Item.Value)
	}
	return out
}

func marketplaceToJSON(m *market.Marketplace) *marketplaceJSON {
	if m == nil {
		return nil
	}
	out := &marketplaceJSON{
		Listings:  make([]string, 0, len(m.Listings)),
		Escrows:   make([]string, 0, len(m.Escrows)),
		Size:      m.Size(),
		CreatedAt: m.CreatedAt,
	}
	for _, id := range m.Listings {
		out.Listings = append(out.Listings, hex.EncodeToString(id[:]))
	}
	for _, id := range m.Escrows {
		out.Escrows = append(out.Escrows, hex.EncodeToString(id[:]))
	}
	return out
}
