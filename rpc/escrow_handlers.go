package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"escrowchain/native/escrow"
)

type milestoneParam struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Deadline    int64  `json:"deadline,omitempty"`
}

type escrowCreateParams struct {
	Client      string           `json:"client"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Milestones  []milestoneParam `json:"milestones"`
}

type escrowCreateResult struct {
	ID uint64 `json:"id"`
}

type escrowAcceptParams struct {
	ID         uint64 `json:"id"`
	Freelancer string `json:"freelancer"`
}

type escrowCompleteParams struct {
	ID     uint64 `json:"id"`
	Index  int    `json:"index"`
	Caller string `json:"caller"`
}

type escrowReasonParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Reason string `json:"reason,omitempty"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowMilestoneParams struct {
	ID    uint64 `json:"id"`
	Index int    `json:"index"`
}

type addressParams struct {
	Address string `json:"address"`
}

type eventsParams struct {
	After int64 `json:"after,omitempty"`
	Limit int   `json:"limit,omitempty"`
}

type mintParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	client, err := parsePartyAddress(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	milestones := make([]*escrow.Milestone, 0, len(params.Milestones))
	for _, ms := range params.Milestones {
		amount, err := escrow.ParseAmount(ms.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		milestones = append(milestones, &escrow.Milestone{
			Description: strings.TrimSpace(ms.Description),
			Amount:      amount,
			Deadline:    ms.Deadline,
		})
	}
	created, err := s.node.EscrowCreate(client, params.Title, params.Description, milestones)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowCreateResult{ID: created.ID})
}

func (s *Server) handleEscrowAccept(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowAcceptParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	freelancer, err := parsePartyAddress(params.Freelancer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowAccept(params.ID, freelancer); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "accepted"})
}

func (s *Server) handleEscrowCompleteMilestone(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowCompleteParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parsePartyAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowCompleteMilestone(params.ID, params.Index, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "paid"})
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowReasonParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parsePartyAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowCancel(params.ID, caller, params.Reason); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "cancelled"})
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowReasonParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parsePartyAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowDispute(params.ID, caller, params.Reason); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "disputed"})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.node.EscrowGet(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	locked, err := s.node.EscrowLocked(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowResult(esc, locked))
}

func (s *Server) handleEscrowGetMilestone(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowMilestoneParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	ms, err := s.node.EscrowMilestone(params.ID, params.Index)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatMilestoneResult(params.Index, ms))
}

func (s *Server) handleEscrowMilestoneCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	count, err := s.node.EscrowMilestoneCount(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]int{"count": count})
}

func (s *Server) handleEscrowListByClient(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleEscrowList(w, req, s.node.EscrowsByClient)
}

func (s *Server) handleEscrowListByFreelancer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleEscrowList(w, req, s.node.EscrowsByFreelancer)
}

func (s *Server) handleEscrowList(w http.ResponseWriter, req *RPCRequest, list func([20]byte) ([]uint64, error)) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parsePartyAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	ids, err := list(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string][]uint64{"ids": ids})
}

func (s *Server) handleEscrowListOpen(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "no parameters expected")
		return
	}
	ids, err := s.node.OpenEscrows()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string][]uint64{"ids": ids})
}

func (s *Server) handleEscrowEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params eventsParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	writeResult(w, req.ID, s.node.EventsAfter(params.After, params.Limit))
}

func (s *Server) handleBankBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parsePartyAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.Balance(addr[:])
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleBankMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params mintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parsePartyAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := escrow.ParseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Mint(addr[:], amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "minted"})
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status, code, message = http.StatusNotFound, codeEscrowNotFound, "not_found"
	case errors.Is(err, escrow.ErrNotAuthorized):
		status, code, message = http.StatusForbidden, codeEscrowForbidden, "forbidden"
	case errors.Is(err, escrow.ErrInvalidState), errors.Is(err, escrow.ErrAlreadyFinalized):
		status, code, message = http.StatusConflict, codeEscrowConflict, "conflict"
	case errors.Is(err, escrow.ErrInsufficientFunds):
		status, code, message = http.StatusConflict, codeEscrowUnderfund, "insufficient_funds"
	case errors.Is(err, escrow.ErrInvalidMilestoneSet), errors.Is(err, escrow.ErrMilestoneIndexOutOfRange):
		status, code, message = http.StatusBadRequest, codeInvalidParams, "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}
