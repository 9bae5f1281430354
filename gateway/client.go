// Package gateway hosts the REST facade that fronts the ledger's JSON-RPC
// server for partner integrations.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// NodeClient is a thin JSON-RPC client used by the gateway.
type NodeClient interface {
	EscrowCreate(ctx context.Context, req EscrowCreateRequest) (*EscrowCreateResponse, error)
	EscrowGet(ctx context.Context, id uint64) (*EscrowState, error)
	EscrowAccept(ctx context.Context, id uint64, freelancer string) error
	EscrowCompleteMilestone(ctx context.Context, id uint64, index int, caller string) error
	EscrowCancel(ctx context.Context, id uint64, caller, reason string) error
	EscrowDispute(ctx context.Context, id uint64, caller, reason string) error
	EscrowMilestone(ctx context.Context, id uint64, index int) (*MilestoneState, error)
	EscrowsByClient(ctx context.Context, address string) ([]uint64, error)
	EscrowsByFreelancer(ctx context.Context, address string) ([]uint64, error)
	OpenEscrows(ctx context.Context) ([]uint64, error)
	FetchEvents(ctx context.Context, afterSeq int64, limit int) ([]NodeEvent, error)
}

// NodeError carries the JSON-RPC error code returned by the ledger so the
// REST layer can map it onto an HTTP status.
type NodeError struct {
	Code    int
	Message string
	Data    string
}

func (e *NodeError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("node rpc error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// RPCNodeClient implements NodeClient against the escrow JSON-RPC server.
type RPCNodeClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCNodeClient(baseURL, authToken string) *RPCNodeClient {
	return &RPCNodeClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *RPCNodeClient) EscrowCreate(ctx context.Context, req EscrowCreateRequest) (*EscrowCreateResponse, error) {
	payload := map[string]interface{}{
		"client":      req.Client,
		"title":       req.Title,
		"description": req.Description,
		"milestones":  req.Milestones,
	}
	var result EscrowCreateResponse
	if err := c.call(ctx, "escrow_create", []interface{}{payload}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) EscrowGet(ctx context.Context, id uint64) (*EscrowState, error) {
	var result EscrowState
	if err := c.call(ctx, "escrow_get", []interface{}{map[string]uint64{"id": id}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) EscrowAccept(ctx context.Context, id uint64, freelancer string) error {
	params := map[string]interface{}{"id": id, "freelancer": freelancer}
	return c.call(ctx, "escrow_accept", []interface{}{params}, nil)
}

func (c *RPCNodeClient) EscrowCompleteMilestone(ctx context.Context, id uint64, index int, caller string) error {
	params := map[string]interface{}{"id": id, "index": index, "caller": caller}
	return c.call(ctx, "escrow_completeMilestone", []interface{}{params}, nil)
}

func (c *RPCNodeClient) EscrowCancel(ctx context.Context, id uint64, caller, reason string) error {
	params := map[string]interface{}{"id": id, "caller": caller}
	if strings.TrimSpace(reason) != "" {
		params["reason"] = reason
	}
	return c.call(ctx, "escrow_cancel", []interface{}{params}, nil)
}

func (c *RPCNodeClient) EscrowDispute(ctx context.Context, id uint64, caller, reason string) error {
	params := map[string]interface{}{"id": id, "caller": caller}
	if strings.TrimSpace(reason) != "" {
		params["reason"] = reason
	}
	return c.call(ctx, "escrow_dispute", []interface{}{params}, nil)
}

func (c *RPCNodeClient) EscrowMilestone(ctx context.Context, id uint64, index int) (*MilestoneState, error) {
	params := map[string]interface{}{"id": id, "index": index}
	var result MilestoneState
	if err := c.call(ctx, "escrow_getMilestone", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) EscrowsByClient(ctx context.Context, address string) ([]uint64, error) {
	return c.listIDs(ctx, "escrow_listByClient", []interface{}{map[string]string{"address": address}})
}

func (c *RPCNodeClient) EscrowsByFreelancer(ctx context.Context, address string) ([]uint64, error) {
	return c.listIDs(ctx, "escrow_listByFreelancer", []interface{}{map[string]string{"address": address}})
}

func (c *RPCNodeClient) OpenEscrows(ctx context.Context) ([]uint64, error) {
	return c.listIDs(ctx, "escrow_listOpen", nil)
}

func (c *RPCNodeClient) listIDs(ctx context.Context, method string, params []interface{}) ([]uint64, error) {
	var result struct {
		IDs []uint64 `json:"ids"`
	}
	if err := c.call(ctx, method, params, &result); err != nil {
		return nil, err
	}
	return result.IDs, nil
}

func (c *RPCNodeClient) FetchEvents(ctx context.Context, afterSeq int64, limit int) ([]NodeEvent, error) {
	params := map[string]interface{}{"after": afterSeq}
	if limit > 0 {
		params["limit"] = limit
	}
	var result []NodeEvent
	if err := c.call(ctx, "escrow_events", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return fmt.Errorf("node rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(payload))
	}
	if rpcResp.Error != nil {
		nodeErr := &NodeError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
		if len(rpcResp.Error.Data) > 0 {
			var data string
			if err := json.Unmarshal(rpcResp.Error.Data, &data); err == nil {
				nodeErr.Data = data
			} else {
				nodeErr.Data = string(rpcResp.Error.Data)
			}
		}
		return nodeErr
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// MilestoneInput is the milestone payload accepted by the gateway on create.
type MilestoneInput struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Deadline    int64  `json:"deadline,omitempty"`
}

// EscrowCreateRequest is the request payload accepted by the gateway.
type EscrowCreateRequest struct {
	Client      string           `json:"client"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Milestones  []MilestoneInput `json:"milestones"`
}

// EscrowCreateResponse mirrors the node RPC result.
type EscrowCreateResponse struct {
	ID uint64 `json:"id"`
}

// EscrowState mirrors the JSON returned by the node for escrow_get.
type EscrowState struct {
	ID             uint64 `json:"id"`
	Client         string `json:"client"`
	Freelancer     string `json:"freelancer,omitempty"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	TotalAmount    string `json:"totalAmount"`
	PaidAmount     string `json:"paidAmount"`
	LockedAmount   string `json:"lockedAmount"`
	Status         int    `json:"status"`
	StatusLabel    string `json:"statusLabel"`
	CreatedAt      int64  `json:"createdAt"`
	CompletedAt    int64  `json:"completedAt,omitempty"`
	CancelReason   string `json:"cancelReason,omitempty"`
	DisputeReason  string `json:"disputeReason,omitempty"`
	MilestoneCount int    `json:"milestoneCount"`
}

// MilestoneState mirrors the JSON returned by the node for escrow_getMilestone.
type MilestoneState struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Deadline    int64  `json:"deadline,omitempty"`
	Status      int    `json:"status"`
	StatusLabel string `json:"statusLabel"`
	PaidAt      int64  `json:"paidAt,omitempty"`
}

// NodeEvent represents an emitted escrow event returned by the node.
type NodeEvent struct {
	Sequence int64 `json:"sequence"`
	Event    struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	} `json:"event"`
}
