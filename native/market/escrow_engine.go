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

const escrowModuleName = "market.escrow"

var escrowIDDomain = []byte("market/escrow")

// EscrowEngine coordinates direct item-for-payment swaps. It is the two-party
// analogue of the listing engine without an offer ledger and shares the
// listing engine's transfer and registry plumbing.
type EscrowEngine struct {
	market  *Engine
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	pauses  nativecommon.PauseView
}

// NewEscrowEngine constructs an escrow engine bound to the supplied market
// engine.
func NewEscrowEngine(market *Engine) *EscrowEngine {
	return &EscrowEngine{
		market:  market,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend.
func (e *EscrowEngine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *EscrowEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *EscrowEngine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPauses configures the administrative pause view.
func (e *EscrowEngine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *EscrowEngine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *EscrowEngine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *EscrowEngine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return SanitizeEscrow(esc)
}

func (e *EscrowEngine) registerEscrow(id [32]byte) error {
	if e == nil || e.market == nil {
		return errNilState
	}
	mp, err := e.market.loadMarketplace()
	if err != nil {
		return err
	}
	if mp.ContainsEscrow(id) {
		return nil
	}
	mp.Escrows = append(mp.Escrows, id)
	return e.state.MarketplacePut(mp)
}

func (e *EscrowEngine) deregisterEscrow(id [32]byte) error {
	if e == nil || e.market == nil {
		return errNilState
	}
	mp, err := e.market.loadMarketplace()
	if err != nil {
		return err
	}
	if !mp.removeEscrow(id) {
		return fmt.Errorf("%w: escrow %x missing from index", ErrRegistryCorrupted, id)
	}
	return e.state.MarketplacePut(mp)
}

// EscrowID derives the deterministic identifier for an escrow definition.
func EscrowID(creator [20]byte, itemID [32]byte, nonce uint64) [32]byte {
	var nonceBuf [8]byte
	for i := 0; i < 8; i++ {
		nonceBuf[7-i] = byte(nonce >> (8 * i))
	}
	return ethcrypto.Keccak256Hash(escrowIDDomain, creator[:], itemID[:], nonceBuf[:])
}

// GetEscrow returns a copy of the stored escrow.
func (e *EscrowEngine) GetEscrow(id [32]byte) (*Escrow, error) {
	return e.loadEscrow(id)
}

// Create places the creator's item into marketplace custody and persists a new
// active escrow awaiting the exact counter-payment.
func (e *EscrowEngine) Create(creator [20]byte, itemID [32]byte, token string, exchangeFor *big.Int, nonce uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.market == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, escrowModuleName); err != nil {
		return nil, err
	}
	if _, err := e.market.loadMarketplace(); err != nil {
		return nil, err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(exchangeFor)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("market: exchange amount must be positive")
	}
	item, custodian, ok, err := e.state.ItemGet(itemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("market: item %x not found", itemID)
	}
	if custodian != creator {
		return nil, fmt.Errorf("%w: item %x", ErrItemNotOwned, itemID)
	}
	id := EscrowID(creator, itemID, nonce)
	if existing, ok := e.state.EscrowGet(id); ok {
		// Ensure idempotent behaviour: definitions must match.
		sanitized, err := SanitizeEscrow(existing)
		if err != nil {
			return nil, err
		}
		if sanitized.Creator != creator || sanitized.Token != normalized || sanitized.ExchangeFor.Cmp(amt) != 0 || !sanitized.Item.IsPresent() || sanitized.Item.Value.ID != itemID {
			return nil, fmt.Errorf("market: identifier already exists with different definition")
		}
		return sanitized, nil
	}
	vault, err := e.state.ItemVaultAddress()
	if err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:          id,
		Creator:     creator,
		Token:       normalized,
		ExchangeFor: amt,
		Item:        NewHolder(*item),
		CreatedAt:   e.now(),
		Status:      EscrowActive,
	}
	if err := e.state.ItemPut(item, vault); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if err := e.registerEscrow(id); err != nil {
		return nil, err
	}
	e.emit(NewEscrowCreatedEvent(esc))
	return esc.Clone(), nil
}

// Exchange settles the escrow: any caller paying exactly the requested amount
// receives the item while the payment moves to the creator.
func (e *EscrowEngine) Exchange(id [32]byte, caller [20]byte, token string, payment *big.Int) error {
	if e == nil || e.market == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, escrowModuleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if !esc.Item.IsPresent() {
		return ErrAlreadySettled
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt := cloneBigInt(payment)
	if normalized != esc.Token || amt.Cmp(esc.ExchangeFor) != 0 {
		return fmt.Errorf("%w: expected %s %s", ErrAmountMismatch, esc.ExchangeFor, esc.Token)
	}
	if err := e.market.transferToken(caller, esc.Creator, esc.Token, amt); err != nil {
		return err
	}
	item, err := esc.Item.Extract()
	if err != nil {
		return err
	}
	if err := e.state.ItemPut(&item, caller); err != nil {
		return err
	}
	esc.Status = EscrowExchanged
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.deregisterEscrow(id); err != nil {
		return err
	}
	e.emit(NewEscrowExchangedEvent(esc, caller))
	return nil
}

// Cancel returns the escrowed item to its creator. Only the creator may
// cancel, regardless of holder state.
func (e *EscrowEngine) Cancel(id [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, escrowModuleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Creator {
		return ErrNotOwner
	}
	if !esc.Item.IsPresent() {
		return ErrAlreadySettled
	}
	item, err := esc.Item.Extract()
	if err != nil {
		return err
	}
	if err := e.state.ItemPut(&item, esc.Creator); err != nil {
		return err
	}
	esc.Status = EscrowCancelled
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.deregisterEscrow(id); err != nil {
		return err
	}
	e.emit(NewEscrowCancelledEvent(esc))
	return nil
}
