package market

import (
	"math/big"
	"testing"
)

func TestNormalizeToken(t *testing.T) {
	for _, in := range []string{"mkt", " MKT ", "Mkt"} {
		got, err := NormalizeToken(in)
		if err != nil || got != "MKT" {
			t.Fatalf("NormalizeToken(%q) = %q, %v", in, got, err)
		}
	}
	if got, err := NormalizeToken("usdm"); err != nil || got != "USDM" {
		t.Fatalf("NormalizeToken(usdm) = %q, %v", got, err)
	}
	if _, err := NormalizeToken("BTC"); err == nil {
		t.Fatalf("expected unsupported token to fail")
	}
}

func TestSanitizeListingEnforcesHolderCoupling(t *testing.T) {
	active := &Listing{
		ID:     hash(1),
		Owner:  addr(1),
		Token:  "mkt",
		Ask:    big.NewInt(100),
		Item:   NewHolder(Item{ID: hash(1)}),
		Status: ListingActive,
	}
	sanitized, err := SanitizeListing(active)
	if err != nil {
		t.Fatalf("sanitize active: %v", err)
	}
	if sanitized.Token != "MKT" {
		t.Fatalf("expected normalised token, got %q", sanitized.Token)
	}

	emptyActive := active.Clone()
	emptyActive.Item = Holder[Item]{}
	if _, err := SanitizeListing(emptyActive); err == nil {
		t.Fatalf("active listing without item must fail")
	}

	settledWithItem := active.Clone()
	settledWithItem.Status = ListingSettled
	if _, err := SanitizeListing(settledWithItem); err == nil {
		t.Fatalf("settled listing holding item must fail")
	}

	settled := active.Clone()
	settled.Status = ListingSettled
	settled.Item = Holder[Item]{}
	if _, err := SanitizeListing(settled); err != nil {
		t.Fatalf("sanitize settled: %v", err)
	}
}

func TestSanitizeListingDoesNotMutateInput(t *testing.T) {
	listing := &Listing{
		ID:     hash(1),
		Owner:  addr(1),
		Token:  "mkt",
		Ask:    big.NewInt(100),
		Item:   NewHolder(Item{ID: hash(1)}),
		Offers: []Offer{{Offerer: addr(2), Token: "usdm", Amount: big.NewInt(5)}},
		Status: ListingActive,
	}
	if _, err := SanitizeListing(listing); err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if listing.Token != "mkt" || listing.Offers[0].Token != "usdm" {
		t.Fatalf("sanitize mutated its input")
	}
}

func TestSanitizeEscrowEnforcesHolderCoupling(t *testing.T) {
	active := &Escrow{
		ID:          hash(1),
		Creator:     addr(1),
		Token:       "usdm",
		ExchangeFor: big.NewInt(250),
		Item:        NewHolder(Item{ID: hash(1)}),
		Status:      EscrowActive,
	}
	sanitized, err := SanitizeEscrow(active)
	if err != nil {
		t.Fatalf("sanitize active: %v", err)
	}
	if sanitized.Token != "USDM" {
		t.Fatalf("expected normalised token, got %q", sanitized.Token)
	}

	emptyActive := active.Clone()
	emptyActive.Item = Holder[Item]{}
	if _, err := SanitizeEscrow(emptyActive); err == nil {
		t.Fatalf("active escrow without item must fail")
	}

	cancelled := active.Clone()
	cancelled.Status = EscrowCancelled
	cancelled.Item = Holder[Item]{}
	if _, err := SanitizeEscrow(cancelled); err != nil {
		t.Fatalf("sanitize cancelled: %v", err)
	}
}

func TestMarketplaceMembership(t *testing.T) {
	mp := &Marketplace{}
	mp.Listings = append(mp.Listings, hash(1), hash(2))
	mp.Escrows = append(mp.Escrows, hash(3))

	if !mp.ContainsListing(hash(1)) || mp.ContainsListing(hash(3)) {
		t.Fatalf("listing membership broken")
	}
	if !mp.ContainsEscrow(hash(3)) || mp.ContainsEscrow(hash(1)) {
		t.Fatalf("escrow membership broken")
	}
	if mp.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", mp.Size())
	}
	if !mp.removeListing(hash(1)) || mp.removeListing(hash(1)) {
		t.Fatalf("removeListing must succeed once")
	}
	if !mp.removeEscrow(hash(3)) || mp.removeEscrow(hash(3)) {
		t.Fatalf("removeEscrow must succeed once")
	}
	if mp.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", mp.Size())
	}
}

func TestListingCloneIsDeep(t *testing.T) {
	listing := &Listing{
		ID:     hash(1),
		Owner:  addr(1),
		Token:  "MKT",
		Ask:    big.NewInt(100),
		Item:   NewHolder(Item{ID: hash(1)}),
		Offers: []Offer{{Offerer: addr(2), Token: "MKT", Amount: big.NewInt(5)}},
		Status: ListingActive,
	}
	clone := listing.Clone()
	clone.Ask.SetInt64(999)
	clone.Offers[0].Amount.SetInt64(999)
	if listing.Ask.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("clone shares ask pointer")
	}
	if listing.Offers[0].Amount.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("clone shares offer amount pointer")
	}
}
