package market

import (
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"marketchain/core/events"
	"marketchain/core/types"
	nativecommon "marketchain/native/common"
)

const moduleName = "market"

var listingIDDomain = []byte("market/listing")

type engineState interface {
	MarketplaceGet() (*Marketplace, bool, error)
	MarketplacePut(*Marketplace) error
	ListingPut(*Listing) error
	ListingGet(id [32]byte) (*Listing, bool)
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	ItemGet(id [32]byte) (*Item, [20]byte, bool, error)
	ItemPut(item *Item, custodian [20]byte) error
	MarketVaultAddress(token string) ([20]byte, error)
	ItemVaultAddress() ([20]byte, error)
	OfferQuotaGet(addr [20]byte) (nativecommon.QuotaNow, error)
	OfferQuotaPut(addr [20]byte, now nativecommon.QuotaNow) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine wires the listing business logic with external state and event
// emitters. Every operation is one atomic unit; the host applies operations
// sequentially per record, so the engine carries no locks of its own.
type Engine struct {
	state      engineState
	emitter    events.Emitter
	nowFn      func() int64
	pauses     nativecommon.PauseView
	offerQuota nativecommon.Quota
}

// NewEngine creates a market engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPauses configures the administrative pause view consulted before every
// mutating operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetOfferQuota caps the number of offers an address may place per epoch. The
// zero value disables the check.
func (e *Engine) SetOfferQuota(q nativecommon.Quota) { e.offerQuota = q }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.BalanceMKT == nil {
		acc.BalanceMKT = big.NewInt(0)
	}
	if acc.BalanceUSDM == nil {
		acc.BalanceUSDM = big.NewInt(0)
	}
	return acc
}

func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("market: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	switch normalized {
	case "MKT":
		if fromAcc.BalanceMKT.Cmp(amt) < 0 {
			return fmt.Errorf("market: insufficient balance")
		}
		fromAcc.BalanceMKT = new(big.Int).Sub(fromAcc.BalanceMKT, amt)
		toAcc.BalanceMKT = new(big.Int).Add(toAcc.BalanceMKT, amt)
	case "USDM":
		if fromAcc.BalanceUSDM.Cmp(amt) < 0 {
			return fmt.Errorf("market: insufficient balance")
		}
		fromAcc.BalanceUSDM = new(big.Int).Sub(fromAcc.BalanceUSDM, amt)
		toAcc.BalanceUSDM = new(big.Int).Add(toAcc.BalanceUSDM, amt)
	default:
		return fmt.Errorf("market: unsupported token %s", token)
	}
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	return nil
}

func (e *Engine) loadMarketplace() (*Marketplace, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	mp, ok, err := e.state.MarketplaceGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errMarketplaceAbsent
	}
	return mp, nil
}

func (e *Engine) loadListing(id [32]byte) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok := e.state.ListingGet(id)
	if !ok {
		return nil, ErrListingNotFound
	}
	return SanitizeListing(listing)
}

func (e *Engine) registerListing(id [32]byte) error {
	mp, err := e.loadMarketplace()
	if err != nil {
		return err
	}
	if mp.ContainsListing(id) {
		return nil
	}
	mp.Listings = append(mp.Listings, id)
	return e.state.MarketplacePut(mp)
}

// deregisterListing drops the identifier from the advisory index. A missing
// entry means the index and record storage disagree, which aborts the whole
// operation as an invariant violation.
func (e *Engine) deregisterListing(id [32]byte) error {
	mp, err := e.loadMarketplace()
	if err != nil {
		return err
	}
	if !mp.removeListing(id) {
		return fmt.Errorf("%w: listing %x missing from index", ErrRegistryCorrupted, id)
	}
	return e.state.MarketplacePut(mp)
}

// CreateMarketplace initialises the shared registry. The operation is
// idempotent: a second invocation returns the existing registry unchanged.
func (e *Engine) CreateMarketplace() (*Marketplace, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	existing, ok, err := e.state.MarketplaceGet()
	if err != nil {
		return nil, err
	}
	if ok {
		return existing.Clone(), nil
	}
	mp := &Marketplace{CreatedAt: e.now()}
	if err := e.state.MarketplacePut(mp); err != nil {
		return nil, err
	}
	e.emit(NewMarketplaceCreatedEvent(mp))
	return mp.Clone(), nil
}

// Marketplace returns a copy of the shared registry index.
func (e *Engine) Marketplace() (*Marketplace, error) {
	mp, err := e.loadMarketplace()
	if err != nil {
		return nil, err
	}
	return mp.Clone(), nil
}

// GetListing returns a copy of the stored listing.
func (e *Engine) GetListing(id [32]byte) (*Listing, error) {
	return e.loadListing(id)
}

// ListingID derives the deterministic identifier for a listing definition.
func ListingID(owner [20]byte, itemID [32]byte, nonce uint64) [32]byte {
	var nonceBuf [8]byte
	for i := 0; i < 8; i++ {
		nonceBuf[7-i] = byte(nonce >> (8 * i))
	}
	return ethcrypto.Keccak256Hash(listingIDDomain, owner[:], itemID[:], nonceBuf[:])
}

// List places the caller's item into marketplace custody and persists a new
// active listing at the supplied ask price.
func (e *Engine) List(owner [20]byte, itemID [32]byte, token string, ask *big.Int, nonce uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if _, err := e.loadMarketplace(); err != nil {
		return nil, err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(ask)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("market: ask must be positive")
	}
	item, custodian, ok, err := e.state.ItemGet(itemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("market: item %x not found", itemID)
	}
	if custodian != owner {
		return nil, fmt.Errorf("%w: item %x", ErrItemNotOwned, itemID)
	}
	id := ListingID(owner, itemID, nonce)
	if existing, ok := e.state.ListingGet(id); ok {
		// Ensure idempotent behaviour: definitions must match.
		sanitized, err := SanitizeListing(existing)
		if err != nil {
			return nil, err
		}
		if sanitized.Owner != owner || sanitized.Token != normalized || sanitized.Ask.Cmp(amt) != 0 || !sanitized.Item.IsPresent() || sanitized.Item.Value.ID != itemID {
			return nil, fmt.Errorf("market: identifier already exists with different definition")
		}
		return sanitized, nil
	}
	vault, err := e.state.ItemVaultAddress()
	if err != nil {
		return nil, err
	}
	listing := &Listing{
		ID:        id,
		Owner:     owner,
		Token:     normalized,
		Ask:       amt,
		Item:      NewHolder(*item),
		CreatedAt: e.now(),
		Status:    ListingActive,
	}
	if err := e.state.ItemPut(item, vault); err != nil {
		return nil, err
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	if err := e.registerListing(id); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return listing.Clone(), nil
}

// Delist returns the listed item to its owner and closes the listing. Only the
// recorded owner may delist, regardless of holder state.
func (e *Engine) Delist(id [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if caller != listing.Owner {
		return ErrNotOwner
	}
	if !listing.Item.IsPresent() {
		return ErrAlreadySettled
	}
	item, err := listing.Item.Extract()
	if err != nil {
		return err
	}
	if err := e.state.ItemPut(&item, listing.Owner); err != nil {
		return err
	}
	listing.Status = ListingDelisted
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if err := e.deregisterListing(id); err != nil {
		return err
	}
	e.emit(NewListingDelistedEvent(listing))
	return nil
}

// Buy settles the listing at the exact ask price: the item moves to the buyer
// and the payment to the owner. No partial payment, no change-making.
func (e *Engine) Buy(id [32]byte, buyer [20]byte, token string, payment *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(payment)
	if normalized != listing.Token || amt.Cmp(listing.Ask) != 0 {
		return fmt.Errorf("%w: ask %s %s", ErrAmountMismatch, listing.Ask, listing.Token)
	}
	if !listing.Item.IsPresent() {
		return ErrAlreadySettled
	}
	if err := e.transferToken(buyer, listing.Owner, listing.Token, amt); err != nil {
		return err
	}
	item, err := listing.Item.Extract()
	if err != nil {
		return err
	}
	if err := e.state.ItemPut(&item, buyer); err != nil {
		return err
	}
	listing.Status = ListingSettled
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if err := e.deregisterListing(id); err != nil {
		return err
	}
	e.emit(NewListingSettledEvent(listing, buyer, amt))
	return nil
}

// MakeOffer escrows the offered payment with the marketplace and appends the
// offer to the listing's ledger. The listing state is deliberately not
// consulted: an offer against a settled listing stays withdrawable.
func (e *Engine) MakeOffer(id [32]byte, offerer [20]byte, token string, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("market: offer amount must be positive")
	}
	// Validate the quota first, but persist the updated counter only once the
	// transfer has succeeded: a rejected offer must not consume quota.
	var quotaNext *nativecommon.QuotaNow
	if e.offerQuota.Enabled() {
		prev, err := e.state.OfferQuotaGet(offerer)
		if err != nil {
			return err
		}
		next, err := nativecommon.CheckQuota(e.offerQuota, e.offerQuota.Epoch(e.now()), prev, 1)
		if err != nil {
			return err
		}
		quotaNext = &next
	}
	vault, err := e.state.MarketVaultAddress(normalized)
	if err != nil {
		return err
	}
	if err := e.transferToken(offerer, vault, normalized, amt); err != nil {
		return err
	}
	if quotaNext != nil {
		if err := e.state.OfferQuotaPut(offerer, *quotaNext); err != nil {
			return err
		}
	}
	offer := Offer{Offerer: offerer, Token: normalized, Amount: amt, CreatedAt: e.now()}
	listing.Offers = append(listing.Offers, offer)
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewOfferMadeEvent(listing, offer))
	return nil
}

// AcceptOffer settles the listing against the first pending offer from the
// supplied offerer: the item moves to the offerer and the escrowed payment to
// the owner. Scanning stops at the first match; the remaining offers stay
// escrowed until withdrawn.
func (e *Engine) AcceptOffer(id [32]byte, caller [20]byte, offerer [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if caller != listing.Owner {
		return ErrNotOwner
	}
	if !listing.Item.IsPresent() {
		return ErrAlreadySettled
	}
	match := -1
	for i := range listing.Offers {
		if listing.Offers[i].Offerer == offerer {
			match = i
			break
		}
	}
	if match < 0 {
		return fmt.Errorf("%w: offerer %x", ErrNoMatchingOffer, offerer)
	}
	offer := listing.Offers[match].Clone()
	vault, err := e.state.MarketVaultAddress(offer.Token)
	if err != nil {
		return err
	}
	if err := e.transferToken(vault, listing.Owner, offer.Token, offer.Amount); err != nil {
		return err
	}
	item, err := listing.Item.Extract()
	if err != nil {
		return err
	}
	if err := e.state.ItemPut(&item, offer.Offerer); err != nil {
		return err
	}
	listing.Offers = append(listing.Offers[:match], listing.Offers[match+1:]...)
	listing.Status = ListingSettled
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if err := e.deregisterListing(id); err != nil {
		return err
	}
	e.emit(NewOfferAcceptedEvent(listing, offer))
	return nil
}

// WithdrawOffer refunds the caller's earliest pending offer. Withdrawal is
// permitted in any listing state so escrowed funds are always recoverable.
func (e *Engine) WithdrawOffer(id [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	match := -1
	for i := range listing.Offers {
		if listing.Offers[i].Offerer == caller {
			match = i
			break
		}
	}
	if match < 0 {
		return fmt.Errorf("%w: offerer %x", ErrNoMatchingOffer, caller)
	}
	offer := listing.Offers[match].Clone()
	vault, err := e.state.MarketVaultAddress(offer.Token)
	if err != nil {
		return err
	}
	if err := e.transferToken(vault, offer.Offerer, offer.Token, offer.Amount); err != nil {
		return err
	}
	listing.Offers = append(listing.Offers[:match], listing.Offers[match+1:]...)
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewOfferWithdrawnEvent(listing, offer))
	return nil
}
