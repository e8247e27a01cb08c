package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/store"
	"go.uber.org/zap"
)

// StreamMessage is one frame of the batch progress stream. Every outcome
// is sent as it is known, followed by a single summary or error frame.
type StreamMessage struct {
	Type    string          `json:"type"`
	Outcome *domain.Outcome `json:"outcome,omitempty"`
	Summary *domain.Summary `json:"summary,omitempty"`
	Message string          `json:"message,omitempty"`
}

const (
	frameOutcome = "outcome"
	frameSummary = "summary"
	frameError   = "error"
)

func (s *Server) testMultipleStream(w http.ResponseWriter, r *http.Request, ownerID int64) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := s.log.With(zap.Int64("owner_id", ownerID), zap.String("request_id", RequestID(r.Context())))

	report, err := s.tracker.TestProxies(ctx, ownerID, ids, func(o domain.Outcome) {
		if werr := wsjson.Write(ctx, conn, StreamMessage{Type: frameOutcome, Outcome: &o}); werr != nil {
			log.Debug("stream write failed", zap.Int64("proxy_id", o.ID), zap.Error(werr))
		}
	})
	if err != nil {
		msg := "Internal server error"
		switch {
		case errors.Is(err, store.ErrNotFound):
			msg = "Proxy not found"
		case errors.Is(err, context.Canceled):
			log.Debug("stream canceled")
			return
		default:
			log.Error("stream batch failed", zap.Error(err))
		}
		_ = wsjson.Write(ctx, conn, StreamMessage{Type: frameError, Message: msg})
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	if err := wsjson.Write(ctx, conn, StreamMessage{Type: frameSummary, Summary: &report.Summary}); err != nil {
		log.Debug("stream write failed", zap.Error(err))
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// parseIDs reads a comma separated id list such as "1,2,3".
func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.New("invalid proxy id " + strconv.Quote(part))
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("ids are required")
	}
	return ids, nil
}
