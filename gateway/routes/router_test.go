package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"escrowchain/gateway"
)

type stubNodeClient struct {
	escrow    *gateway.EscrowState
	openIDs   []uint64
	lastErr   error
	created   *gateway.EscrowCreateRequest
	accepted  map[uint64]string
	completed map[uint64]int
}

func newStubNodeClient() *stubNodeClient {
	return &stubNodeClient{
		accepted:  make(map[uint64]string),
		completed: make(map[uint64]int),
	}
}

func (s *stubNodeClient) EscrowCreate(_ context.Context, req gateway.EscrowCreateRequest) (*gateway.EscrowCreateResponse, error) {
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	s.created = &req
	return &gateway.EscrowCreateResponse{ID: 1}, nil
}

func (s *stubNodeClient) EscrowGet(context.Context, uint64) (*gateway.EscrowState, error) {
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	return s.escrow, nil
}

func (s *stubNodeClient) EscrowAccept(_ context.Context, id uint64, freelancer string) error {
	if s.lastErr != nil {
		return s.lastErr
	}
	s.accepted[id] = freelancer
	return nil
}

func (s *stubNodeClient) EscrowCompleteMilestone(_ context.Context, id uint64, index int, _ string) error {
	if s.lastErr != nil {
		return s.lastErr
	}
	s.completed[id] = index
	return nil
}

func (s *stubNodeClient) EscrowCancel(context.Context, uint64, string, string) error {
	return s.lastErr
}

func (s *stubNodeClient) EscrowDispute(context.Context, uint64, string, string) error {
	return s.lastErr
}

func (s *stubNodeClient) EscrowMilestone(context.Context, uint64, int) (*gateway.MilestoneState, error) {
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	return &gateway.MilestoneState{Index: 0, Amount: "100"}, nil
}

func (s *stubNodeClient) EscrowsByClient(context.Context, string) ([]uint64, error) {
	return s.openIDs, s.lastErr
}

func (s *stubNodeClient) EscrowsByFreelancer(context.Context, string) ([]uint64, error) {
	return s.openIDs, s.lastErr
}

func (s *stubNodeClient) OpenEscrows(context.Context) ([]uint64, error) {
	return s.openIDs, s.lastErr
}

func (s *stubNodeClient) FetchEvents(context.Context, int64, int) ([]gateway.NodeEvent, error) {
	return nil, s.lastErr
}

func newTestRouter(node gateway.NodeClient) http.Handler {
	return New(Config{Node: node})
}

func TestCreateEscrowForwardsPayload(t *testing.T) {
	stub := newStubNodeClient()
	router := newTestRouter(stub)

	body := `{"client":"esc1qqqq","title":"site build","milestones":[{"description":"design","amount":"100"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/escrows", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if stub.created == nil || stub.created.Title != "site build" {
		t.Fatalf("create payload not forwarded: %+v", stub.created)
	}
	var result gateway.EscrowCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.ID != 1 {
		t.Fatalf("unexpected id %d", result.ID)
	}
}

func TestGetEscrowMapsNodeErrors(t *testing.T) {
	stub := newStubNodeClient()
	stub.lastErr = &gateway.NodeError{Code: nodeCodeNotFound, Message: "not_found"}
	router := newTestRouter(stub)

	req := httptest.NewRequest(http.MethodGet, "/v1/escrows/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestAcceptEscrow(t *testing.T) {
	stub := newStubNodeClient()
	router := newTestRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/v1/escrows/7/accept", strings.NewReader(`{"freelancer":"esc1xyz"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if stub.accepted[7] != "esc1xyz" {
		t.Fatalf("accept not forwarded: %+v", stub.accepted)
	}
}

func TestCompleteMilestoneRejectsBadIndex(t *testing.T) {
	stub := newStubNodeClient()
	router := newTestRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/v1/escrows/7/milestones/-1/complete", strings.NewReader(`{"caller":"esc1abc"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestConflictMapsTo409(t *testing.T) {
	stub := newStubNodeClient()
	stub.lastErr = &gateway.NodeError{Code: nodeCodeConflict, Message: "conflict"}
	router := newTestRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/v1/escrows/7/cancel", strings.NewReader(`{"caller":"esc1abc"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestListOpenEscrows(t *testing.T) {
	stub := newStubNodeClient()
	stub.openIDs = []uint64{3, 5}
	router := newTestRouter(stub)

	req := httptest.NewRequest(http.MethodGet, "/v1/escrows/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var result map[string][]uint64
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result["ids"]) != 2 || result["ids"][0] != 3 {
		t.Fatalf("unexpected ids: %v", result)
	}
}
