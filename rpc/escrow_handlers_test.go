package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"escrowchain/core"
	"escrowchain/crypto"
	"escrowchain/storage"
)

const testAuthToken = "unit-test-token"

func newTestServer(t testing.TB) (*Server, *core.Node) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	node := core.NewNode(db, nil)
	return NewServer(node, testAuthToken), node
}

func testPartyAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func encodeParty(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.EscrowPrefix, addr[:]).String()
}

func rpcDo(t testing.TB, srv *Server, token, method string, params ...interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal param: %v", err)
		}
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:55000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, req)

	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, recorder.Body.String())
	}
	return recorder, resp
}

func mintFor(t testing.TB, srv *Server, addr [20]byte, amount string) {
	t.Helper()
	recorder, resp := rpcDo(t, srv, testAuthToken, "bank_mint", map[string]interface{}{
		"address": encodeParty(addr),
		"amount":  amount,
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("mint failed: status=%d error=%+v", recorder.Code, resp.Error)
	}
}

func createEscrowFor(t testing.TB, srv *Server, client [20]byte) uint64 {
	t.Helper()
	recorder, resp := rpcDo(t, srv, testAuthToken, "escrow_create", map[string]interface{}{
		"client":      encodeParty(client),
		"title":       "site build",
		"description": "marketing site",
		"milestones": []map[string]interface{}{
			{"description": "design", "amount": "100"},
			{"description": "launch", "amount": "250", "deadline": int64(1_760_000_000)},
		},
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("create failed: status=%d error=%+v", recorder.Code, resp.Error)
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var created escrowCreateResult
	if err := json.Unmarshal(payload, &created); err != nil {
		t.Fatalf("decode create result: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected non-zero escrow id")
	}
	return created.ID
}

func TestMutatingMethodsRequireBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	client := testPartyAddress(0x01)

	recorder, resp := rpcDo(t, srv, "", "bank_mint", map[string]interface{}{
		"address": encodeParty(client),
		"amount":  "100",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}

	recorder, resp = rpcDo(t, srv, "wrong-token", "bank_mint", map[string]interface{}{
		"address": encodeParty(client),
		"amount":  "100",
	})
	if recorder.Code != http.StatusUnauthorized || resp.Error == nil {
		t.Fatalf("expected rejection of bad token: status=%d error=%+v", recorder.Code, resp.Error)
	}
}

func TestQueryMethodsSkipAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	recorder, resp := rpcDo(t, srv, "", "escrow_listOpen")
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("open list query should not need auth: status=%d error=%+v", recorder.Code, resp.Error)
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	recorder, resp := rpcDo(t, srv, "", "escrow_doesNotExist")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestHandleRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	req.RemoteAddr = "127.0.0.1:55000"
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestDecodeSingleParamRejectsMultipleObjects(t *testing.T) {
	srv, _ := newTestServer(t)

	recorder, resp := rpcDo(t, srv, "", "escrow_get",
		map[string]interface{}{"id": 1},
		map[string]interface{}{"id": 2},
	)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestEscrowLifecycleOverRPC(t *testing.T) {
	srv, node := newTestServer(t)
	client := testPartyAddress(0x01)
	freelancer := testPartyAddress(0x02)

	mintFor(t, srv, client, "1000")
	id := createEscrowFor(t, srv, client)

	recorder, resp := rpcDo(t, srv, testAuthToken, "escrow_accept", map[string]interface{}{
		"id":         id,
		"freelancer": encodeParty(freelancer),
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("accept failed: status=%d error=%+v", recorder.Code, resp.Error)
	}

	for index := 0; index < 2; index++ {
		recorder, resp = rpcDo(t, srv, testAuthToken, "escrow_completeMilestone", map[string]interface{}{
			"id":     id,
			"index":  index,
			"caller": encodeParty(client),
		})
		if recorder.Code != http.StatusOK || resp.Error != nil {
			t.Fatalf("complete milestone %d: status=%d error=%+v", index, recorder.Code, resp.Error)
		}
	}

	recorder, resp = rpcDo(t, srv, "", "escrow_get", map[string]interface{}{"id": id})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("get failed: status=%d error=%+v", recorder.Code, resp.Error)
	}
	payload, _ := json.Marshal(resp.Result)
	var result EscrowResult
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode escrow result: %v", err)
	}
	if result.StatusLabel != "completed" {
		t.Fatalf("expected completed escrow, got %q", result.StatusLabel)
	}
	if result.PaidAmount != "350" || result.LockedAmount != "0" {
		t.Fatalf("unexpected amounts: paid=%s locked=%s", result.PaidAmount, result.LockedAmount)
	}

	balance, err := node.Balance(freelancer[:])
	if err != nil {
		t.Fatalf("freelancer balance: %v", err)
	}
	if balance.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("freelancer balance %s, expected 350", balance)
	}
}

func TestEscrowGetMissingMapsToNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	recorder, resp := rpcDo(t, srv, "", "escrow_get", map[string]interface{}{"id": 99})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowNotFound {
		t.Fatalf("expected not-found error, got %+v", resp.Error)
	}
}

func TestCompleteMilestoneByStrangerMapsToForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	client := testPartyAddress(0x01)
	freelancer := testPartyAddress(0x02)
	stranger := testPartyAddress(0x03)

	mintFor(t, srv, client, "1000")
	id := createEscrowFor(t, srv, client)
	if recorder, resp := rpcDo(t, srv, testAuthToken, "escrow_accept", map[string]interface{}{
		"id":         id,
		"freelancer": encodeParty(freelancer),
	}); recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("accept failed: status=%d error=%+v", recorder.Code, resp.Error)
	}

	recorder, resp := rpcDo(t, srv, testAuthToken, "escrow_completeMilestone", map[string]interface{}{
		"id":     id,
		"index":  0,
		"caller": encodeParty(stranger),
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowForbidden {
		t.Fatalf("expected forbidden error, got %+v", resp.Error)
	}
}

func TestCompleteMilestoneBeforeAcceptMapsToConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	client := testPartyAddress(0x01)

	mintFor(t, srv, client, "1000")
	id := createEscrowFor(t, srv, client)

	recorder, resp := rpcDo(t, srv, testAuthToken, "escrow_completeMilestone", map[string]interface{}{
		"id":     id,
		"index":  0,
		"caller": encodeParty(client),
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowConflict {
		t.Fatalf("expected conflict error, got %+v", resp.Error)
	}
}

func TestCreateWithUnderfundedClientMapsToInsufficientFunds(t *testing.T) {
	srv, _ := newTestServer(t)
	client := testPartyAddress(0x01)

	mintFor(t, srv, client, "10")
	recorder, resp := rpcDo(t, srv, testAuthToken, "escrow_create", map[string]interface{}{
		"client": encodeParty(client),
		"title":  "site build",
		"milestones": []map[string]interface{}{
			{"description": "design", "amount": "100"},
		},
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowUnderfund {
		t.Fatalf("expected insufficient-funds error, got %+v", resp.Error)
	}
}

func TestCreateWithBadMilestoneAmountMapsToInvalidParams(t *testing.T) {
	srv, _ := newTestServer(t)
	client := testPartyAddress(0x01)

	mintFor(t, srv, client, "1000")
	recorder, resp := rpcDo(t, srv, testAuthToken, "escrow_create", map[string]interface{}{
		"client": encodeParty(client),
		"title":  "site build",
		"milestones": []map[string]interface{}{
			{"description": "design", "amount": "1.5"},
		},
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestMilestoneIndexOutOfRangeMapsToInvalidParams(t *testing.T) {
	srv, _ := newTestServer(t)
	client := testPartyAddress(0x01)

	mintFor(t, srv, client, "1000")
	id := createEscrowFor(t, srv, client)

	recorder, resp := rpcDo(t, srv, "", "escrow_getMilestone", map[string]interface{}{
		"id":    id,
		"index": 9,
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestListByClientReturnsIDs(t *testing.T) {
	srv, _ := newTestServer(t)
	client := testPartyAddress(0x01)

	mintFor(t, srv, client, "1000")
	first := createEscrowFor(t, srv, client)
	second := createEscrowFor(t, srv, client)

	recorder, resp := rpcDo(t, srv, "", "escrow_listByClient", map[string]interface{}{
		"address": encodeParty(client),
	})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("list failed: status=%d error=%+v", recorder.Code, resp.Error)
	}
	payload, _ := json.Marshal(resp.Result)
	var result struct {
		IDs []uint64 `json:"ids"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode list result: %v", err)
	}
	if len(result.IDs) != 2 || result.IDs[0] != first || result.IDs[1] != second {
		t.Fatalf("unexpected ids: %v", result.IDs)
	}
}

func TestOpenIndexDropsAcceptedEscrow(t *testing.T) {
	srv, _ := newTestServer(t)
	client := testPartyAddress(0x01)
	freelancer := testPartyAddress(0x02)

	mintFor(t, srv, client, "1000")
	id := createEscrowFor(t, srv, client)

	_, resp := rpcDo(t, srv, "", "escrow_listOpen")
	payload, _ := json.Marshal(resp.Result)
	var open struct {
		IDs []uint64 `json:"ids"`
	}
	if err := json.Unmarshal(payload, &open); err != nil {
		t.Fatalf("decode open list: %v", err)
	}
	if len(open.IDs) != 1 || open.IDs[0] != id {
		t.Fatalf("expected open escrow %d, got %v", id, open.IDs)
	}

	if recorder, resp := rpcDo(t, srv, testAuthToken, "escrow_accept", map[string]interface{}{
		"id":         id,
		"freelancer": encodeParty(freelancer),
	}); recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("accept failed: status=%d error=%+v", recorder.Code, resp.Error)
	}

	_, resp = rpcDo(t, srv, "", "escrow_listOpen")
	payload, _ = json.Marshal(resp.Result)
	open.IDs = nil
	if err := json.Unmarshal(payload, &open); err != nil {
		t.Fatalf("decode open list: %v", err)
	}
	if len(open.IDs) != 0 {
		t.Fatalf("accepted escrow still listed open: %v", open.IDs)
	}
}

func TestEscrowEventsReturnsSequencedLog(t *testing.T) {
	srv, _ := newTestServer(t)
	client := testPartyAddress(0x01)

	mintFor(t, srv, client, "1000")
	createEscrowFor(t, srv, client)

	recorder, resp := rpcDo(t, srv, "", "escrow_events", map[string]interface{}{"after": 0})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("events failed: status=%d error=%+v", recorder.Code, resp.Error)
	}
	payload, _ := json.Marshal(resp.Result)
	var events []core.SequencedEvent
	if err := json.Unmarshal(payload, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	for i, evt := range events {
		if evt.Sequence != int64(i)+1 {
			t.Fatalf("event %d has sequence %d", i, evt.Sequence)
		}
	}
}

func TestRateLimitAppliesToMutatingMethods(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }
	client := testPartyAddress(0x01)

	var last *httptest.ResponseRecorder
	var lastResp RPCResponse
	for i := 0; i < maxTxPerWindow+1; i++ {
		last, lastResp = rpcDo(t, srv, testAuthToken, "bank_mint", map[string]interface{}{
			"address": encodeParty(client),
			"amount":  fmt.Sprintf("%d", i+1),
		})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after window exhausted, got %d", last.Code)
	}
	if lastResp.Error == nil || lastResp.Error.Code != codeRateLimited {
		t.Fatalf("expected rate-limit error, got %+v", lastResp.Error)
	}
}
