package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openregs/regassist/internal/agent"
	"github.com/openregs/regassist/internal/orchestrator"
	"github.com/openregs/regassist/internal/tools"
)

const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewConversationWSHandler opens the duplex channel spec.md §6 describes:
// one conversation id, one agent selector, one visitor fingerprint, a
// bearer token, all carried as query parameters since a WebSocket
// handshake can't reliably carry a custom Authorization header from every
// client. Auth and selection failures close the connection with 4001
// rather than refusing the HTTP upgrade, matching the close-code contract.
func NewConversationWSHandler(orch *orchestrator.Orchestrator, agents *agent.Registry, memo *tools.MemoStore, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Default().Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		q := r.URL.Query()
		if !checkToken(q.Get("token"), token) {
			closeWith(conn, 4001, "invalid or missing token")
			return
		}

		conversationID := q.Get("conversation_id")
		fingerprint := q.Get("fingerprint")
		ag, ok := agents.Get(q.Get("agent"))
		if conversationID == "" || fingerprint == "" || !ok {
			closeWith(conn, 4001, "conversation_id, agent, and fingerprint are required and agent must be configured")
			return
		}

		runConversation(r.Context(), conn, orch, ag, memo, conversationID, fingerprint)
	}
}

// runConversation drives one WebSocket connection's turn loop. The memo's
// entries for this conversation are evicted when the connection ends,
// since a reconnect to the same conversation id starts with a clean memo.
func runConversation(parentCtx context.Context, conn *websocket.Conn, orch *orchestrator.Orchestrator, ag *agent.Agent, memo *tools.MemoStore, conversationID, fingerprint string) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	defer memo.EvictConversation(conversationID)

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := writeJSON(map[string]string{"type": "ping"}); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	defer func() { <-pingDone }()

	var turnCancel context.CancelFunc
	defer func() {
		if turnCancel != nil {
			turnCancel()
		}
	}()

	for {
		var inbound wsInbound
		if err := conn.ReadJSON(&inbound); err != nil {
			cancel()
			return
		}

		if inbound.Type == "cancel" {
			if turnCancel != nil {
				turnCancel()
			}
			continue
		}

		var turnCtx context.Context
		turnCtx, turnCancel = context.WithCancel(ctx)

		events := orch.HandleTurn(turnCtx, conversationID, inbound.Message, ag, fingerprint)
		closeCode := 0
		for ev := range events {
			if err := writeJSON(toWireEvent(ev)); err != nil {
				turnCancel()
				cancel()
				return
			}
			if ev.Type == orchestrator.EventError {
				closeCode = closeCodeFor(ev.ErrorKind)
			}
		}
		turnCancel()

		if closeCode != 0 {
			closeWith(conn, closeCode, "")
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
