package ws

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nautlabs/skiff/internal/dispatch"
	"github.com/nautlabs/skiff/internal/domain"
)

// Hub serves WebSocket connections backed by dispatcher subscriptions. Each
// connection holds its own subscription, so slow clients never back-pressure
// the publisher or each other.
type Hub struct {
	dispatcher *dispatch.Dispatcher
}

// NewHub creates a new WebSocket hub.
func NewHub(dispatcher *dispatch.Dispatcher) *Hub {
	return &Hub{dispatcher: dispatcher}
}

// ServeEvents handles WebSocket connections for the global event stream.
// Every event published by the dispatcher is forwarded as a JSON text frame.
func (h *Hub) ServeEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	h.stream(r, conn, func(domain.Event) bool { return true })
}

// ServeSession handles WebSocket connections scoped to a single session.
// Only events carrying that session's ID are forwarded.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionIDStr := chi.URLParam(r, "sessionID")
	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	h.stream(r, conn, func(evt domain.Event) bool { return evt.SessionID == sessionID })
}

func (h *Hub) stream(r *http.Request, conn *websocket.Conn, keep func(domain.Event) bool) {
	ctx := r.Context()

	sub := h.dispatcher.Subscribe()
	defer sub.Close()

	// Reads are discarded; a read error means the peer went away and unblocks
	// the loop below through the context.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case evt, ok := <-sub.C:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			if !keep(evt) {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				log.Error().Err(err).Str("event", string(evt.Type)).Msg("websocket marshal")
				continue
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, payload); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
