package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"escrowchain/gateway"
)

type escrowRoutes struct {
	node gateway.NodeClient
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// JSON-RPC error codes surfaced by the ledger node.
const (
	nodeCodeInvalidParams = -32602
	nodeCodeNotFound      = -32040
	nodeCodeForbidden     = -32041
	nodeCodeConflict      = -32042
	nodeCodeUnderfund     = -32043
)

func writeNodeError(w http.ResponseWriter, err error) {
	var nodeErr *gateway.NodeError
	if !errors.As(err, &nodeErr) {
		writeErrorJSON(w, http.StatusBadGateway, err.Error())
		return
	}
	status := http.StatusBadGateway
	switch nodeErr.Code {
	case nodeCodeInvalidParams:
		status = http.StatusBadRequest
	case nodeCodeNotFound:
		status = http.StatusNotFound
	case nodeCodeForbidden:
		status = http.StatusForbidden
	case nodeCodeConflict, nodeCodeUnderfund:
		status = http.StatusConflict
	}
	message := nodeErr.Message
	if nodeErr.Data != "" {
		message = nodeErr.Data
	}
	writeErrorJSON(w, status, message)
}

func parseID(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	return strconv.ParseUint(raw, 10, 64)
}

func parseIndex(r *http.Request) (int, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "index"))
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, errors.New("milestone index must be a non-negative integer")
	}
	return index, nil
}

func (h *escrowRoutes) create(w http.ResponseWriter, r *http.Request) {
	var req gateway.EscrowCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	result, err := h.node.EscrowCreate(r.Context(), req)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *escrowRoutes) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	state, err := h.node.EscrowGet(r.Context(), id)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *escrowRoutes) getMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	index, err := parseIndex(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.node.EscrowMilestone(r.Context(), id, index)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type acceptRequest struct {
	Freelancer string `json:"freelancer"`
}

func (h *escrowRoutes) accept(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.node.EscrowAccept(r.Context(), id, req.Freelancer); err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type completeRequest struct {
	Caller string `json:"caller"`
}

func (h *escrowRoutes) completeMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	index, err := parseIndex(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.node.EscrowCompleteMilestone(r.Context(), id, index, req.Caller); err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

type reasonRequest struct {
	Caller string `json:"caller"`
	Reason string `json:"reason,omitempty"`
}

func (h *escrowRoutes) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.node.EscrowCancel(r.Context(), id, req.Caller, req.Reason); err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *escrowRoutes) dispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.node.EscrowDispute(r.Context(), id, req.Caller, req.Reason); err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disputed"})
}

func (h *escrowRoutes) listOpen(w http.ResponseWriter, r *http.Request) {
	ids, err := h.node.OpenEscrows(r.Context())
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

func (h *escrowRoutes) listByClient(w http.ResponseWriter, r *http.Request) {
	h.listByParty(w, r, h.node.EscrowsByClient)
}

func (h *escrowRoutes) listByFreelancer(w http.ResponseWriter, r *http.Request) {
	h.listByParty(w, r, h.node.EscrowsByFreelancer)
}

func (h *escrowRoutes) listByParty(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, address string) ([]uint64, error)) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		writeErrorJSON(w, http.StatusBadRequest, "address required")
		return
	}
	ids, err := list(r.Context(), address)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

func (h *escrowRoutes) events(w http.ResponseWriter, r *http.Request) {
	after := int64(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeErrorJSON(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeErrorJSON(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	events, err := h.node.FetchEvents(r.Context(), after, limit)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
