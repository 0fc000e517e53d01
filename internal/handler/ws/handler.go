package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yichenzhou/coderoom/backend/internal/service/broadcast"
	execservice "github.com/yichenzhou/coderoom/backend/internal/service/exec"
	roomservice "github.com/yichenzhou/coderoom/backend/internal/service/room"
)

// Handler owns the WebSocket hub: it upgrades connections, assigns
// connection ids, and dispatches inbound session events.
type Handler struct {
	rooms    *roomservice.Service
	engine   *execservice.Engine
	bcast    *broadcast.Broadcaster
	upgrader websocket.Upgrader
}

// New creates the hub handler.
func New(rooms *roomservice.Service, engine *execservice.Engine, bcast *broadcast.Broadcaster) *Handler {
	return &Handler{
		rooms:  rooms,
		engine: engine,
		bcast:  bcast,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the hub endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connWriter serializes all writes to one websocket connection; the
// broadcaster, the request path, and the ping loop all go through it.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) send(event string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(outgoingMessage{
		Type:      event,
		Data:      payload,
		Timestamp: time.Now().Unix(),
	})
}

func (w *connWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

type connState struct {
	connID    string
	name      string
	sessionID string // session currently joined, if any
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	writer := &connWriter{conn: conn}
	state := &connState{connID: uuid.NewString()}

	h.bcast.Register(state.connID, writer.send)
	defer h.disconnect(state)

	log.Printf("[ws] connection %s opened", state.connID)

	ctx := r.Context()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go pingLoop(writer, stop)

	_ = writer.send("connected", map[string]string{"connId": state.connID})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[ws] read error on %s: %v", state.connID, err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			h.handleMessage(writer, state, &msg)
		}
	}
}

// disconnect tears down transport registration first so the departing
// connection never receives its own leave broadcast.
func (h *Handler) disconnect(state *connState) {
	h.bcast.Unregister(state.connID)
	if state.sessionID != "" {
		h.rooms.Leave(state.sessionID, state.connID)
	}
	log.Printf("[ws] connection %s closed", state.connID)
}

func (h *Handler) handleMessage(writer *connWriter, state *connState, msg *inboundMessage) {
	switch msg.Type {
	case "join":
		h.handleJoin(writer, state, msg.Data)
	case "edit":
		h.handleEdit(writer, state, msg.Data)
	case "grant_write":
		h.handleGrantWrite(writer, state, msg.Data)
	case "revoke_write":
		h.handleRevokeWrite(writer, state, msg.Data)
	case "chat":
		h.handleChat(writer, state, msg.Data)
	case "run":
		h.handleRun(writer, state, msg.Data)
	case "input":
		h.handleInput(writer, state, msg.Data)
	case "signal":
		h.handleSignal(state, msg.Data)
	default:
		h.sendError(writer, "unsupported_event", "unsupported event type: "+msg.Type)
	}
}

func (h *Handler) handleJoin(writer *connWriter, state *connState, raw json.RawMessage) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		return
	}
	if payload.Name == "" {
		payload.Name = "anonymous"
	}

	// Re-joining elsewhere leaves the previous room first.
	if state.sessionID != "" && state.sessionID != payload.SessionID {
		h.bcast.LeaveRoom(state.sessionID, state.connID)
		h.rooms.Leave(state.sessionID, state.connID)
		state.sessionID = ""
	}

	// Room membership is recorded before the join so the roles broadcast
	// reaches the joiner too.
	h.bcast.JoinRoom(payload.SessionID, state.connID)
	joined, err := h.rooms.Join(payload.SessionID, state.connID, payload.Name)
	if err != nil {
		h.bcast.LeaveRoom(payload.SessionID, state.connID)
		h.sendServiceError(writer, err)
		return
	}
	state.sessionID = payload.SessionID
	state.name = payload.Name

	h.bcast.SendTo(state.connID, "buffer_snapshot", map[string]string{"content": joined.Content})
	h.bcast.SendTo(state.connID, "chat_snapshot", map[string]any{"messages": joined.Messages})
}

func (h *Handler) handleEdit(writer *connWriter, state *connState, raw json.RawMessage) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		return
	}
	if err := h.rooms.Edit(payload.SessionID, state.connID, payload.Content); err != nil {
		h.sendServiceError(writer, err)
	}
}

func (h *Handler) handleGrantWrite(writer *connWriter, state *connState, raw json.RawMessage) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Target    string `json:"target"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" || payload.Target == "" {
		return
	}
	if err := h.rooms.GrantWrite(payload.SessionID, state.connID, payload.Target); err != nil {
		h.sendServiceError(writer, err)
	}
}

func (h *Handler) handleRevokeWrite(writer *connWriter, state *connState, raw json.RawMessage) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		return
	}
	if err := h.rooms.RevokeWrite(payload.SessionID, state.connID); err != nil {
		h.sendServiceError(writer, err)
	}
}

func (h *Handler) handleChat(writer *connWriter, state *connState, raw json.RawMessage) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		return
	}
	if err := h.rooms.PostChat(payload.SessionID, state.connID, state.name, payload.Text); err != nil {
		h.sendServiceError(writer, err)
	}
}

func (h *Handler) handleRun(writer *connWriter, state *connState, raw json.RawMessage) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Source    string `json:"source"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		return
	}
	if _, err := h.engine.Run(payload.SessionID, payload.Source); err != nil {
		h.sendServiceError(writer, err)
	}
}

func (h *Handler) handleInput(writer *connWriter, state *connState, raw json.RawMessage) {
	var payload struct {
		SessionID string `json:"sessionId"`
		JobID     string `json:"jobId"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		return
	}
	if err := h.engine.Input(payload.SessionID, payload.JobID, payload.Text); err != nil {
		h.sendServiceError(writer, err)
	}
}

// handleSignal forwards an opaque negotiation payload to one connection.
// The hub never inspects the payload; an unknown target is a no-op.
func (h *Handler) handleSignal(state *connState, raw json.RawMessage) {
	var payload struct {
		Kind    string          `json:"kind"`
		Target  string          `json:"target"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Target == "" {
		return
	}
	h.bcast.SendTo(payload.Target, "signal", map[string]any{
		"kind":    payload.Kind,
		"from":    state.connID,
		"payload": payload.Payload,
	})
}

// sendServiceError maps a service error to a wire error event delivered to
// the requester only; other participants never see a rejected action.
func (h *Handler) sendServiceError(writer *connWriter, err error) {
	h.sendError(writer, errorKind(err), err.Error())
}

func (h *Handler) sendError(writer *connWriter, kind, message string) {
	if err := writer.send("error", map[string]string{"kind": kind, "message": message}); err != nil {
		log.Printf("[ws] write error failed: %v", err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, roomservice.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, roomservice.ErrNotWriter):
		return "not_writer"
	case errors.Is(err, roomservice.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, roomservice.ErrExecutionRunning):
		return "execution_running"
	case errors.Is(err, roomservice.ErrAlreadyRunning):
		return "execution_already_running"
	case errors.Is(err, execservice.ErrNoActiveProcess):
		return "no_active_process"
	default:
		return "execution_failure"
	}
}

func pingLoop(writer *connWriter, stop <-chan struct{}) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := writer.ping(); err != nil {
				return
			}
		}
	}
}
