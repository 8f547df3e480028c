package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"marketchain/core/types"
	nativecommon "marketchain/native/common"
	"marketchain/native/market"
	"marketchain/storage"
)

// Manager reads and writes marketplace state records over a key-value store.
// Records are RLP encoded under keccak256-hashed keys, so every listing,
// escrow, account and item is an independently addressable durable record.
//
// The manager performs no locking: the host applies operations sequentially,
// which is the linearization discipline the engines are written against.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func prefixedKey(prefix, raw []byte) []byte {
	buf := make([]byte, len(prefix)+len(raw))
	copy(buf, prefix)
	copy(buf[len(prefix):], raw)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	ok, err := m.db.Has(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	data, err := m.db.Get(key)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// --- Accounts ---

type storedAccount struct {
	Nonce       uint64
	BalanceMKT  *big.Int
	BalanceUSDM *big.Int
}

// GetAccount loads the account for the supplied address. Unknown addresses
// yield a zeroed account rather than an error.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	key := prefixedKey(accountPrefix, addr)
	stored := new(storedAccount)
	ok, err := m.get(key, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	acc := &types.Account{
		Nonce:       stored.Nonce,
		BalanceMKT:  stored.BalanceMKT,
		BalanceUSDM: stored.BalanceUSDM,
	}
	return acc.Clone(), nil
}

// PutAccount persists the account for the supplied address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	clone := account.Clone()
	stored := &storedAccount{
		Nonce:       clone.Nonce,
		BalanceMKT:  clone.BalanceMKT,
		BalanceUSDM: clone.BalanceUSDM,
	}
	return m.put(prefixedKey(accountPrefix, addr), stored)
}

// --- Items ---

type storedItem struct {
	ID        [32]byte
	Class     string
	MetaHash  [32]byte
	Custodian [20]byte
}

// ItemGet loads the unique asset together with its current custodian.
func (m *Manager) ItemGet(id [32]byte) (*market.Item, [20]byte, bool, error) {
	stored := new(storedItem)
	ok, err := m.get(prefixedKey(itemPrefix, id[:]), stored)
	if err != nil || !ok {
		return nil, [20]byte{}, false, err
	}
	item := &market.Item{ID: stored.ID, Class: stored.Class, MetaHash: stored.MetaHash}
	return item, stored.Custodian, true, nil
}

// ItemPut persists the unique asset under the supplied custodian. The item
// record is the account-side reflection of holder custody: the custodian is
// either a participant address or the marketplace item vault.
func (m *Manager) ItemPut(item *market.Item, custodian [20]byte) error {
	if item == nil {
		return fmt.Errorf("state: nil item")
	}
	stored := &storedItem{ID: item.ID, Class: item.Class, MetaHash: item.MetaHash, Custodian: custodian}
	return m.put(prefixedKey(itemPrefix, item.ID[:]), stored)
}

// --- Listings ---

type storedOffer struct {
	Offerer   [20]byte
	Token     string
	Amount    *big.Int
	CreatedAt uint64
}

type storedListing struct {
	ID           [32]byte
	Owner        [20]byte
	Token        string
	Ask          *big.Int
	ItemPresent  bool
	ItemID       [32]byte
	ItemClass    string
	ItemMetaHash [32]byte
	Offers       []storedOffer
	CreatedAt    uint64
	Status       uint8
}

// ListingGet loads a listing record.
func (m *Manager) ListingGet(id [32]byte) (*market.Listing, bool) {
	stored := new(storedListing)
	ok, err := m.get(prefixedKey(listingPrefix, id[:]), stored)
	if err != nil || !ok {
		return nil, false
	}
	listing := &market.Listing{
		ID:        stored.ID,
		Owner:     stored.Owner,
		Token:     stored.Token,
		Ask:       stored.Ask,
		CreatedAt: int64(stored.CreatedAt),
		Status:    market.ListingStatus(stored.Status),
	}
	if stored.ItemPresent {
		listing.Item = market.NewHolder(market.Item{
			ID:       stored.ItemID,
			Class:    stored.ItemClass,
			MetaHash: stored.ItemMetaHash,
		})
	}
	for _, offer := range stored.Offers {
		listing.Offers = append(listing.Offers, market.Offer{
			Offerer:   offer.Offerer,
			Token:     offer.Token,
			Amount:    offer.Amount,
			CreatedAt: int64(offer.CreatedAt),
		})
	}
	return listing, true
}

// ListingPut validates and persists a listing record.
func (m *Manager) ListingPut(listing *market.Listing) error {
	sanitized, err := market.SanitizeListing(listing)
	if err != nil {
		return err
	}
	stored := &storedListing{
		ID:        sanitized.ID,
		Owner:     sanitized.Owner,
		Token:     sanitized.Token,
		Ask:       sanitized.Ask,
		CreatedAt: uint64(sanitized.CreatedAt),
		Status:    uint8(sanitized.Status),
	}
	if sanitized.Item.IsPresent() {
		stored.ItemPresent = true
		stored.ItemID = sanitized.Item.Value.ID
		stored.ItemClass = sanitized.Item.Value.Class
		stored.ItemMetaHash = sanitized.Item.Value.MetaHash
	}
	for _, offer := range sanitized.Offers {
		stored.Offers = append(stored.Offers, storedOffer{
			Offerer:   offer.Offerer,
			Token:     offer.Token,
			Amount:    offer.Amount,
			CreatedAt: uint64(offer.CreatedAt),
		})
	}
	return m.put(prefixedKey(listingPrefix, sanitized.ID[:]), stored)
}

// --- Escrows ---

type storedEscrow struct {
	ID           [32]byte
	Creator      [20]byte
	Token        string
	ExchangeFor  *big.Int
	ItemPresent  bool
	ItemID       [32]byte
	ItemClass    string
	ItemMetaHash [32]byte
	CreatedAt    uint64
	Status       uint8
}

// EscrowGet loads an escrow record.
func (m *Manager) EscrowGet(id [32]byte) (*market.Escrow, bool) {
	stored := new(storedEscrow)
	ok, err := m.get(prefixedKey(escrowPrefix, id[:]), stored)
	if err != nil || !ok {
		return nil, false
	}
	esc := &market.Escrow{
		ID:          stored.ID,
		Creator:     stored.Creator,
		Token:       stored.Token,
		ExchangeFor: stored.ExchangeFor,
		CreatedAt:   int64(stored.CreatedAt),
		Status:      market.EscrowStatus(stored.Status),
	}
	if stored.ItemPresent {
		esc.Item = market.NewHolder(market.Item{
			ID:       stored.ItemID,
			Class:    stored.ItemClass,
			MetaHash: stored.ItemMetaHash,
		})
	}
	return esc, true
}

// EscrowPut validates and persists an escrow record.
func (m *Manager) EscrowPut(esc *market.Escrow) error {
	sanitized, err := market.SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	stored := &storedEscrow{
		ID:          sanitized.ID,
		Creator:     sanitized.Creator,
		Token:       sanitized.Token,
		ExchangeFor: sanitized.ExchangeFor,
		CreatedAt:   uint64(sanitized.CreatedAt),
		Status:      uint8(sanitized.Status),
	}
	if sanitized.Item.IsPresent() {
		stored.ItemPresent = true
		stored.ItemID = sanitized.Item.Value.ID
		stored.ItemClass = sanitized.Item.Value.Class
		stored.ItemMetaHash = sanitized.Item.Value.MetaHash
	}
	return m.put(prefixedKey(escrowPrefix, sanitized.ID[:]), stored)
}

// --- Marketplace registry ---

type storedMarketplace struct {
	Listings  [][32]byte
	Escrows   [][32]byte
	CreatedAt uint64
}

// MarketplaceGet loads the shared registry index.
func (m *Manager) MarketplaceGet() (*market.Marketplace, bool, error) {
	stored := new(storedMarketplace)
	ok, err := m.get(ethcrypto.Keccak256(registryRawKey), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	mp := &market.Marketplace{
		Listings:  stored.Listings,
		Escrows:   stored.Escrows,
		CreatedAt: int64(stored.CreatedAt),
	}
	return mp, true, nil
}

// MarketplacePut persists the shared registry index.
func (m *Manager) MarketplacePut(mp *market.Marketplace) error {
	if mp == nil {
		return fmt.Errorf("state: nil marketplace")
	}
	clone := mp.Clone()
	stored := &storedMarketplace{
		Listings:  clone.Listings,
		Escrows:   clone.Escrows,
		CreatedAt: uint64(clone.CreatedAt),
	}
	return m.put(ethcrypto.Keccak256(registryRawKey), stored)
}

// --- Vault addresses ---

// MarketVaultAddress derives the module account that escrows payments for the
// supplied token.
func (m *Manager) MarketVaultAddress(token string) ([20]byte, error) {
	normalized, err := market.NormalizeToken(token)
	if err != nil {
		return [20]byte{}, err
	}
	seed := make([]byte, len(paymentVaultDomain)+len(normalized))
	copy(seed, paymentVaultDomain)
	copy(seed[len(paymentVaultDomain):], normalized)
	hash := ethcrypto.Keccak256(seed)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr, nil
}

// ItemVaultAddress derives the module account that takes custody of listed and
// escrowed items.
func (m *Manager) ItemVaultAddress() ([20]byte, error) {
	hash := ethcrypto.Keccak256(itemVaultRawKey)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr, nil
}

// --- Genesis marker ---

// GenesisApplied reports whether the genesis document was already imported.
func (m *Manager) GenesisApplied() (bool, error) {
	return m.db.Has(ethcrypto.Keccak256(genesisAppliedRawKey))
}

// SetGenesisApplied marks the genesis document as imported.
func (m *Manager) SetGenesisApplied() error {
	return m.db.Put(ethcrypto.Keccak256(genesisAppliedRawKey), []byte{1})
}

// --- Offer quota counters ---

type storedQuota struct {
	Count   uint32
	EpochID uint64
}

// OfferQuotaGet loads the per-address offer quota counters.
func (m *Manager) OfferQuotaGet(addr [20]byte) (nativecommon.QuotaNow, error) {
	stored := new(storedQuota)
	ok, err := m.get(prefixedKey(offerQuotaPrefix, addr[:]), stored)
	if err != nil || !ok {
		return nativecommon.QuotaNow{}, err
	}
	return nativecommon.QuotaNow{Count: stored.Count, EpochID: stored.EpochID}, nil
}

// OfferQuotaPut persists the per-address offer quota counters.
func (m *Manager) OfferQuotaPut(addr [20]byte, now nativecommon.QuotaNow) error {
	return m.put(prefixedKey(offerQuotaPrefix, addr[:]), &storedQuota{Count: now.Count, EpochID: now.EpochID})
}
