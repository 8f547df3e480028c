package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"marketchain/crypto"
	nativecommon "marketchain/native/common"
	"marketchain/native/market"
)

type listParams struct {
	Owner  string `json:"owner"`
	ItemID string `json:"itemId"`
	Token  string `json:"token"`
	Ask    string `json:"ask"`
	Nonce  uint64 `json:"nonce"`
}

type listingActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type buyParams struct {
	ID     string `json:"id"`
	Buyer  string `json:"buyer"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type makeOfferParams struct {
	ID      string `json:"id"`
	Offerer string `json:"offerer"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type acceptOfferParams struct {
	ID      string `json:"id"`
	Caller  string `json:"caller"`
	Offerer string `json:"offerer"`
}

type idParams struct {
	ID string `json:"id"`
}

type escrowCreateParams struct {
	Creator     string `json:"creator"`
	ItemID      string `json:"itemId"`
	Token       string `json:"token"`
	ExchangeFor string `json:"exchangeFor"`
	Nonce       uint64 `json:"nonce"`
}

type escrowExchangeParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

func parseHash32(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid identifier: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("identifier must be 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

// marketErrorCode maps engine errors onto JSON-RPC error codes so clients can
// distinguish user mistakes from state conflicts.
func marketErrorCode(err error) (int, int, string) {
	switch {
	case errors.Is(err, market.ErrListingNotFound), errors.Is(err, market.ErrEscrowNotFound):
		return http.StatusNotFound, codeNotFound, "not_found"
	case errors.Is(err, market.ErrNotOwner), errors.Is(err, market.ErrItemNotOwned):
		return http.StatusForbidden, codeForbidden, "forbidden"
	case errors.Is(err, market.ErrAlreadySettled),
		errors.Is(err, market.ErrAmountMismatch),
		errors.Is(err, market.ErrNoMatchingOffer),
		errors.Is(err, nativecommon.ErrQuotaCountExceeded):
		return http.StatusConflict, codeConflict, "conflict"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, codeServerError, "module_paused"
	default:
		return http.StatusInternalServerError, codeServerError, "internal_error"
	}
}

func (s *Server) writeMarketError(w http.ResponseWriter, id json.RawMessage, err error) {
	status, code, message := marketErrorCode(err)
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleCreateMarketplace(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	s.opMu.Lock()
	mp, err := s.market.CreateMarketplace()
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, marketplaceToJSON(mp))
	return nil
}

func (s *Server) handleGetMarketplace(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	mp, err := s.market.Marketplace()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, marketplaceToJSON(mp))
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params listParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	itemID, err := parseHash32(params.ItemID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	ask, err := parsePositiveBigInt(params.Ask)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	s.opMu.Lock()
	listing, err := s.market.List(owner, itemID, params.Token, ask, params.Nonce)
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, listingToJSON(listing))
	return nil
}

func (s *Server) handleDelist(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params listingActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	s.opMu.Lock()
	err = s.market.Delist(id, caller)
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]string{"status": "delisted"})
	return nil
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params buyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	s.opMu.Lock()
	err = s.market.Buy(id, buyer, params.Token, amount)
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]string{"status": "settled"})
	return nil
}

func (s *Server) handleMakeOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params makeOfferParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	offerer, err := parseAddress(params.Offerer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	s.opMu.Lock()
	err = s.market.MakeOffer(id, offerer, params.Token, amount)
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]string{"status": "offered"})
	return nil
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params acceptOfferParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	offerer, err := parseAddress(params.Offerer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	s.opMu.Lock()
	err = s.market.AcceptOffer(id, caller, offerer)
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]string{"status": "settled"})
	return nil
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params listingActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	s.opMu.Lock()
	err = s.market.WithdrawOffer(id, caller)
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]string{"status": "withdrawn"})
	return nil
}

func (s *Server) handleGetListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params idParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	listing, err := s.market.GetListing(id)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, listingToJSON(listing))
	return nil
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	creator, err := parseAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	itemID, err := parseHash32(params.ItemID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	exchangeFor, err := parsePositiveBigInt(params.ExchangeFor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	s.opMu.Lock()
	esc, err := s.escrow.Create(creator, itemID, params.Token, exchangeFor, params.Nonce)
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, escrowToJSON(esc))
	return nil
}

func (s *Server) handleEscrowExchange(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params escrowExchangeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	s.opMu.Lock()
	err = s.escrow.Exchange(id, caller, params.Token, amount)
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]string{"status": "exchanged"})
	return nil
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params listingActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	s.opMu.Lock()
	err = s.escrow.Cancel(id, caller)
	s.opMu.Unlock()
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]string{"status": "cancelled"})
	return nil
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) error {
	var params idParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	esc, err := s.escrow.GetEscrow(id)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, escrowToJSON(esc))
	return nil
}
