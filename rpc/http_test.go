package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"marketchain/core/state"
	"marketchain/core/types"
	"marketchain/crypto"
	"marketchain/native/market"
	"marketchain/storage"
)

type testEnv struct {
	server  *Server
	router  http.Handler
	manager *state.Manager
}

func newTestEnv(t *testing.T, secret []byte) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetNowFunc(func() int64 { return 42 })
	escrow := market.NewEscrowEngine(engine)
	escrow.SetState(manager)
	escrow.SetNowFunc(func() int64 { return 42 })
	_, err := engine.CreateMarketplace()
	require.NoError(t, err)

	server := NewServer(Options{Market: engine, Escrow: escrow, JWTSecret: secret})
	return &testEnv{server: server, router: server.Router(), manager: manager}
}

func (e *testEnv) call(t *testing.T, method string, params interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httpReq)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) rpcResponse {
	t.Helper()
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func testBech32(b byte) string {
	var addr [20]byte
	addr[19] = b
	return crypto.NewAddress(crypto.MarketPrefix, addr[:]).String()
}

func testArray(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func seedTestItem(t *testing.T, env *testEnv, id byte, owner byte) string {
	t.Helper()
	var itemID [32]byte
	itemID[31] = id
	require.NoError(t, env.manager.ItemPut(&market.Item{ID: itemID, Class: "collectible"}, testArray(owner)))
	return hex.EncodeToString(itemID[:])
}

func fundTest(t *testing.T, env *testEnv, addr byte, amount int64) {
	t.Helper()
	acc := types.NewAccount()
	acc.BalanceMKT = big.NewInt(amount)
	target := testArray(addr)
	require.NoError(t, env.manager.PutAccount(target[:], acc))
}

func TestListAndBuyOverRPC(t *testing.T) {
	env := newTestEnv(t, nil)
	itemID := seedTestItem(t, env, 1, 1)
	fundTest(t, env, 2, 500)

	rec := env.call(t, "market_list", listParams{
		Owner:  testBech32(1),
		ItemID: itemID,
		Token:  "MKT",
		Ask:    "100",
		Nonce:  1,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	var listing listingJSON
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &listing))
	require.Equal(t, "active", listing.Status)
	require.NotNil(t, listing.Item)

	rec = env.call(t, "market_buy", buyParams{
		ID:     listing.ID,
		Buyer:  testBech32(2),
		Token:  "MKT",
		Amount: "100",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, decodeResponse(t, rec).Error)

	rec = env.call(t, "market_getListing", idParams{ID: listing.ID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeResponse(t, rec)
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &listing))
	require.Equal(t, "settled", listing.Status)
	require.Nil(t, listing.Item)
}

func TestBuyWrongAmountReturnsConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	itemID := seedTestItem(t, env, 1, 1)
	fundTest(t, env, 2, 500)

	rec := env.call(t, "market_list", listParams{
		Owner:  testBech32(1),
		ItemID: itemID,
		Token:  "MKT",
		Ask:    "100",
		Nonce:  1,
	}, nil)
	var listing listingJSON
	raw, err := json.Marshal(decodeResponse(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &listing))

	rec = env.call(t, "market_buy", buyParams{
		ID:     listing.ID,
		Buyer:  testBech32(2),
		Token:  "MKT",
		Amount: "10",
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeConflict, resp.Error.Code)
}

func TestDelistByStrangerReturnsForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	itemID := seedTestItem(t, env, 1, 1)

	rec := env.call(t, "market_list", listParams{
		Owner:  testBech32(1),
		ItemID: itemID,
		Token:  "MKT",
		Ask:    "100",
		Nonce:  1,
	}, nil)
	var listing listingJSON
	raw, err := json.Marshal(decodeResponse(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &listing))

	rec = env.call(t, "market_delist", listingActorParams{ID: listing.ID, Caller: testBech32(9)}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeForbidden, resp.Error.Code)
}

func TestGetListingUnknownReturnsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.call(t, "market_getListing", idParams{ID: fmt.Sprintf("%064d", 1)}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeNotFound, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.call(t, "market_unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestInvalidParamsRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.call(t, "market_list", listParams{
		Owner:  "not-an-address",
		ItemID: fmt.Sprintf("%064d", 1),
		Token:  "MKT",
		Ask:    "100",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestEscrowLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, nil)
	itemID := seedTestItem(t, env, 1, 1)
	fundTest(t, env, 2, 500)

	rec := env.call(t, "market_escrowCreate", escrowCreateParams{
		Creator:     testBech32(1),
		ItemID:      itemID,
		Token:       "MKT",
		ExchangeFor: "250",
		Nonce:       1,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var esc escrowJSON
	raw, err := json.Marshal(decodeResponse(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &esc))
	require.Equal(t, "active", esc.Status)

	rec = env.call(t, "market_escrowExchange", escrowExchangeParams{
		ID:     esc.ID,
		Caller: testBech32(2),
		Token:  "MKT",
		Amount: "250",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, decodeResponse(t, rec).Error)

	// A second settlement attempt conflicts.
	rec = env.call(t, "market_escrowCancel", listingActorParams{ID: esc.ID, Caller: testBech32(1)}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuthRequiredForMutations(t *testing.T) {
	secret := []byte("test-secret")
	env := newTestEnv(t, secret)
	itemID := seedTestItem(t, env, 1, 1)

	params := listParams{
		Owner:  testBech32(1),
		ItemID: itemID,
		Token:  "MKT",
		Ask:    "100",
		Nonce:  1,
	}

	rec := env.call(t, "market_list", params, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.call(t, "market_list", params, map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	rec = env.call(t, "market_list", params, map[string]string{"Authorization": "Bearer " + signed})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, decodeResponse(t, rec).Error)

	// Reads stay open.
	rec = env.call(t, "market_getMarketplace", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestParseHelpers(t *testing.T) {
	if _, err := parseHash32("0x" + fmt.Sprintf("%064d", 1)); err != nil {
		t.Fatalf("parseHash32: %v", err)
	}
	if _, err := parseHash32("abcd"); err == nil {
		t.Fatalf("expected short identifier to fail")
	}
	if _, err := parsePositiveBigInt("0"); err == nil {
		t.Fatalf("expected zero amount to fail")
	}
	if _, err := parsePositiveBigInt("-5"); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
	amount, err := parsePositiveBigInt(" 42 ")
	require.NoError(t, err)
	require.Zero(t, amount.Cmp(big.NewInt(42)))
}
