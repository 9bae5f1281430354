package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"escrowchain/core"
)

const wsWriteTimeout = 10 * time.Second

// handleEventsWS streams the escrow event log over a websocket. The optional
// after query parameter resumes from a sequence cursor.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	after := int64(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		after = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after int64) error {
	backlog, updates, cancel := s.node.SubscribeEventsAfter(after, 0)
	defer cancel()

	sequence := after
	for _, record := range backlog {
		sequence = record.Sequence
		if err := writeSequencedEvent(ctx, conn, record); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			sequence++
			record := core.SequencedEvent{Sequence: sequence, Event: evt}
			if err := writeSequencedEvent(ctx, conn, record); err != nil {
				return err
			}
		}
	}
}

func writeSequencedEvent(ctx context.Context, conn *websocket.Conn, record core.SequencedEvent) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
