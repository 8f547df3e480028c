package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"marketchain/core/types"
	nativecommon "marketchain/native/common"
	"marketchain/native/market"
	"marketchain/storage"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func testHash(b byte) [32]byte {
	var h [32]byte
	h[31] = b
	return h
}

func TestAccountRoundTrip(t *testing.T) {
	m := testManager(t)
	addr := testAddr(1)

	acc, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, uint64(0), acc.Nonce)
	require.Zero(t, acc.BalanceMKT.Sign())

	acc.Nonce = 7
	acc.BalanceMKT = big.NewInt(1000)
	acc.BalanceUSDM = big.NewInt(25)
	require.NoError(t, m.PutAccount(addr[:], acc))

	loaded, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, uint64(7), loaded.Nonce)
	require.Zero(t, loaded.BalanceMKT.Cmp(big.NewInt(1000)))
	require.Zero(t, loaded.BalanceUSDM.Cmp(big.NewInt(25)))

	// Mutating the loaded copy must not leak into storage.
	loaded.BalanceMKT.SetInt64(1)
	again, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, again.BalanceMKT.Cmp(big.NewInt(1000)))
}

func TestPutAccountRejectsNil(t *testing.T) {
	m := testManager(t)
	addr := testAddr(1)
	require.Error(t, m.PutAccount(addr[:], nil))
}

func TestItemRoundTrip(t *testing.T) {
	m := testManager(t)
	itemID := testHash(1)
	owner := testAddr(1)

	_, _, ok, err := m.ItemGet(itemID)
	require.NoError(t, err)
	require.False(t, ok)

	item := &market.Item{ID: itemID, Class: "collectible", MetaHash: testHash(9)}
	require.NoError(t, m.ItemPut(item, owner))

	loaded, custodian, ok, err := m.ItemGet(itemID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, item.Class, loaded.Class)
	require.Equal(t, item.MetaHash, loaded.MetaHash)
	require.Equal(t, owner, custodian)

	// Moving custody overwrites the record.
	next := testAddr(2)
	require.NoError(t, m.ItemPut(item, next))
	_, custodian, _, err = m.ItemGet(itemID)
	require.NoError(t, err)
	require.Equal(t, next, custodian)
}

func TestListingRoundTrip(t *testing.T) {
	m := testManager(t)
	listing := &market.Listing{
		ID:    testHash(1),
		Owner: testAddr(1),
		Token: "mkt",
		Ask:   big.NewInt(100),
		Item:  market.NewHolder(market.Item{ID: testHash(1), Class: "collectible"}),
		Offers: []market.Offer{
			{Offerer: testAddr(2), Token: "usdm", Amount: big.NewInt(10), CreatedAt: 40},
		},
		CreatedAt: 42,
		Status:    market.ListingActive,
	}
	require.NoError(t, m.ListingPut(listing))

	loaded, ok := m.ListingGet(listing.ID)
	require.True(t, ok)
	require.Equal(t, "MKT", loaded.Token)
	require.Zero(t, loaded.Ask.Cmp(big.NewInt(100)))
	require.True(t, loaded.Item.IsPresent())
	require.Equal(t, listing.Item.Value.ID, loaded.Item.Value.ID)
	require.Len(t, loaded.Offers, 1)
	require.Equal(t, "USDM", loaded.Offers[0].Token)
	require.Equal(t, int64(42), loaded.CreatedAt)
	require.Equal(t, market.ListingActive, loaded.Status)
}

func TestListingPutRejectsInvalid(t *testing.T) {
	m := testManager(t)
	// Active listing without its item violates the custody coupling.
	listing := &market.Listing{
		ID:     testHash(1),
		Owner:  testAddr(1),
		Token:  "MKT",
		Ask:    big.NewInt(100),
		Status: market.ListingActive,
	}
	require.Error(t, m.ListingPut(listing))
	_, ok := m.ListingGet(listing.ID)
	require.False(t, ok)
}

func TestEscrowRoundTrip(t *testing.T) {
	m := testManager(t)
	esc := &market.Escrow{
		ID:          testHash(1),
		Creator:     testAddr(1),
		Token:       "usdm",
		ExchangeFor: big.NewInt(250),
		Item:        market.NewHolder(market.Item{ID: testHash(1)}),
		CreatedAt:   42,
		Status:      market.EscrowActive,
	}
	require.NoError(t, m.EscrowPut(esc))

	loaded, ok := m.EscrowGet(esc.ID)
	require.True(t, ok)
	require.Equal(t, "USDM", loaded.Token)
	require.Zero(t, loaded.ExchangeFor.Cmp(big.NewInt(250)))
	require.True(t, loaded.Item.IsPresent())
	require.Equal(t, market.EscrowActive, loaded.Status)

	// Terminal state drops the item.
	extracted, err := loaded.Item.Extract()
	require.NoError(t, err)
	require.Equal(t, esc.Item.Value.ID, extracted.ID)
	loaded.Status = market.EscrowExchanged
	require.NoError(t, m.EscrowPut(loaded))

	final, ok := m.EscrowGet(esc.ID)
	require.True(t, ok)
	require.False(t, final.Item.IsPresent())
	require.Equal(t, market.EscrowExchanged, final.Status)
}

func TestMarketplaceRoundTrip(t *testing.T) {
	m := testManager(t)

	_, ok, err := m.MarketplaceGet()
	require.NoError(t, err)
	require.False(t, ok)

	mp := &market.Marketplace{CreatedAt: 42}
	mp.Listings = append(mp.Listings, testHash(1))
	mp.Escrows = append(mp.Escrows, testHash(2))
	require.NoError(t, m.MarketplacePut(mp))

	loaded, ok, err := m.MarketplaceGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, loaded.ContainsListing(testHash(1)))
	require.True(t, loaded.ContainsEscrow(testHash(2)))
	require.Equal(t, int64(42), loaded.CreatedAt)
}

func TestVaultAddressesDeterministic(t *testing.T) {
	m := testManager(t)

	mkt1, err := m.MarketVaultAddress("MKT")
	require.NoError(t, err)
	mkt2, err := m.MarketVaultAddress("mkt")
	require.NoError(t, err)
	require.Equal(t, mkt1, mkt2)

	usdm, err := m.MarketVaultAddress("USDM")
	require.NoError(t, err)
	require.NotEqual(t, mkt1, usdm)

	_, err = m.MarketVaultAddress("BTC")
	require.Error(t, err)

	items, err := m.ItemVaultAddress()
	require.NoError(t, err)
	require.NotEqual(t, mkt1, items)
	require.NotEqual(t, usdm, items)
}

func TestOfferQuotaRoundTrip(t *testing.T) {
	m := testManager(t)
	addr := testAddr(1)

	now, err := m.OfferQuotaGet(addr)
	require.NoError(t, err)
	require.Equal(t, nativecommon.QuotaNow{}, now)

	require.NoError(t, m.OfferQuotaPut(addr, nativecommon.QuotaNow{Count: 3, EpochID: 7}))
	loaded, err := m.OfferQuotaGet(addr)
	require.NoError(t, err)
	require.Equal(t, uint32(3), loaded.Count)
	require.Equal(t, uint64(7), loaded.EpochID)
}

func TestGenesisMarker(t *testing.T) {
	m := testManager(t)

	applied, err := m.GenesisApplied()
	require.NoError(t, err)
	require.False(t, applied)

	require.NoError(t, m.SetGenesisApplied())
	applied, err = m.GenesisApplied()
	require.NoError(t, err)
	require.True(t, applied)
}

func TestEngineOverManagerEndToEnd(t *testing.T) {
	m := testManager(t)
	engine := market.NewEngine()
	engine.SetState(m)
	engine.SetNowFunc(func() int64 { return 42 })

	_, err := engine.CreateMarketplace()
	require.NoError(t, err)

	owner := testAddr(1)
	buyer := testAddr(2)
	itemID := testHash(1)
	require.NoError(t, m.ItemPut(&market.Item{ID: itemID, Class: "collectible"}, owner))

	buyerAcc := types.NewAccount()
	buyerAcc.BalanceMKT = big.NewInt(500)
	require.NoError(t, m.PutAccount(buyer[:], buyerAcc))

	listing, err := engine.List(owner, itemID, "MKT", big.NewInt(100), 1)
	require.NoError(t, err)
	require.NoError(t, engine.Buy(listing.ID, buyer, "MKT", big.NewInt(100)))

	_, custodian, ok, err := m.ItemGet(itemID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, buyer, custodian)

	ownerAcc, err := m.GetAccount(owner[:])
	require.NoError(t, err)
	require.Zero(t, ownerAcc.BalanceMKT.Cmp(big.NewInt(100)))
}
