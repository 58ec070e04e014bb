package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openregs/regassist/internal/agent"
	"github.com/openregs/regassist/internal/orchestrator"
	"github.com/openregs/regassist/internal/personaldocs"
	"github.com/openregs/regassist/internal/storage"
	"github.com/openregs/regassist/internal/tools"
)

// AppDeps bundles everything the top-level HTTP handler needs to mount its
// routes. Mirrors the teacher's AppDeps/NewAppHandler shape, extended with
// the conversation orchestrator and agent registry this domain adds.
type AppDeps struct {
	Storage      *storage.Store
	Orchestrator *orchestrator.Orchestrator
	Agents       *agent.Registry
	PersonalDocs *personaldocs.Service
	Memo         *tools.MemoStore
	Token        string
}

// NewAppHandler mounts the conversation WebSocket, personal-document
// upload endpoints, and a health check. Every route except the WebSocket
// upgrade and /health requires the shared bearer token; the WebSocket
// path authenticates itself post-upgrade (see ws.go) because not every
// client can set a custom header on the handshake request.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/v1/conversations/ws", NewConversationWSHandler(deps.Orchestrator, deps.Agents, deps.Memo, deps.Token))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Mount("/v1/documents", personaldocs.NewHandler(deps.PersonalDocs))
		r.Get("/v1/conversations/{id}/turns", handleConversationHistory(deps.Storage))
		r.Get("/v1/agents", handleListAgents(deps.Agents))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleConversationHistory lets a client that reconnects after a dropped
// WebSocket rebuild its transcript; the server itself keeps no session
// state between connections beyond what's already persisted per turn.
func handleConversationHistory(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		turns, err := store.LoadTurns(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading conversation history: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(turns)
	}
}

func handleListAgents(agents *agent.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"agents": agents.Names()})
	}
}
