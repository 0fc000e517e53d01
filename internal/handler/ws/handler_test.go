package ws

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/yichenzhou/coderoom/backend/internal/service/broadcast"
	execservice "github.com/yichenzhou/coderoom/backend/internal/service/exec"
	roomservice "github.com/yichenzhou/coderoom/backend/internal/service/room"
)

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{roomservice.ErrSessionNotFound, "session_not_found"},
		{roomservice.ErrNotWriter, "not_writer"},
		{roomservice.ErrNotAuthorized, "not_authorized"},
		{roomservice.ErrExecutionRunning, "execution_running"},
		{roomservice.ErrAlreadyRunning, "execution_already_running"},
		{execservice.ErrNoActiveProcess, "no_active_process"},
		{errors.New("boom"), "execution_failure"},
	}
	for _, c := range cases {
		if got := errorKind(c.err); got != c.kind {
			t.Fatalf("errorKind(%v) = %q, want %q", c.err, got, c.kind)
		}
	}
}

type testHub struct {
	srv   *httptest.Server
	rooms *roomservice.Service
}

func newTestHub(t *testing.T, execCfg execservice.Config) *testHub {
	t.Helper()

	bcast := broadcast.New()
	rooms := roomservice.NewService(bcast, 150)
	engine := execservice.NewEngine(execCfg, rooms, bcast)

	r := chi.NewRouter()
	New(rooms, engine, bcast).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { engine.Shutdown(2 * time.Second) })

	return &testHub{srv: srv, rooms: rooms}
}

func (h *testHub) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev wsEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event err: %v", err)
	}
	return ev
}

func expectEvent(t *testing.T, conn *websocket.Conn, eventType string) wsEvent {
	t.Helper()
	ev := readEvent(t, conn)
	if ev.Type != eventType {
		t.Fatalf("expected %s event, got %s (%s)", eventType, ev.Type, string(ev.Data))
	}
	return ev
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": eventType, "data": json.RawMessage(raw)}); err != nil {
		t.Fatalf("write event err: %v", err)
	}
}

func connID(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ev := expectEvent(t, conn, "connected")
	var data struct {
		ConnID string `json:"connId"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil || data.ConnID == "" {
		t.Fatalf("bad connected payload: %s", string(ev.Data))
	}
	return data.ConnID
}

type rolesPayload struct {
	Participants []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"participants"`
	HostID   string `json:"hostId"`
	WriterID string `json:"writerId"`
}

func decodeRoles(t *testing.T, ev wsEvent) rolesPayload {
	t.Helper()
	var roles rolesPayload
	if err := json.Unmarshal(ev.Data, &roles); err != nil {
		t.Fatalf("bad roles payload: %v", err)
	}
	return roles
}

func TestCollaborationScenario(t *testing.T) {
	hub := newTestHub(t, execservice.Config{Command: "cat", Timeout: 10 * time.Second})

	sessionID, err := hub.rooms.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	alice := hub.dial(t)
	aliceID := connID(t, alice)

	sendEvent(t, alice, "join", map[string]string{"sessionId": sessionID, "name": "Alice"})
	roles := decodeRoles(t, expectEvent(t, alice, "roles_update"))
	if roles.HostID != aliceID || roles.WriterID != aliceID {
		t.Fatalf("first joiner should be host and writer, got %+v", roles)
	}
	expectEvent(t, alice, "buffer_snapshot")
	expectEvent(t, alice, "chat_snapshot")

	bob := hub.dial(t)
	bobID := connID(t, bob)

	sendEvent(t, bob, "join", map[string]string{"sessionId": sessionID, "name": "Bob"})
	roles = decodeRoles(t, expectEvent(t, bob, "roles_update"))
	if len(roles.Participants) != 2 || roles.HostID != aliceID || roles.WriterID != aliceID {
		t.Fatalf("unexpected roles after second join: %+v", roles)
	}
	expectEvent(t, bob, "buffer_snapshot")
	expectEvent(t, bob, "chat_snapshot")

	// Alice sees Bob arrive.
	roles = decodeRoles(t, expectEvent(t, alice, "roles_update"))
	if len(roles.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %+v", roles)
	}

	// Bob is not the writer yet; his edit is rejected to him alone.
	sendEvent(t, bob, "edit", map[string]string{"sessionId": sessionID, "content": "sneaky"})
	errEv := expectEvent(t, bob, "error")
	var wireErr struct {
		Kind string `json:"kind"`
	}
	_ = json.Unmarshal(errEv.Data, &wireErr)
	if wireErr.Kind != "not_writer" {
		t.Fatalf("expected not_writer error, got %s", string(errEv.Data))
	}

	// Host hands the pen to Bob.
	sendEvent(t, alice, "grant_write", map[string]string{"sessionId": sessionID, "target": bobID})
	roles = decodeRoles(t, expectEvent(t, alice, "roles_update"))
	if roles.WriterID != bobID {
		t.Fatalf("expected writer %s, got %+v", bobID, roles)
	}
	expectEvent(t, bob, "roles_update")

	// Bob's edit reaches Alice only.
	sendEvent(t, bob, "edit", map[string]string{"sessionId": sessionID, "content": "print(1)"})
	update := expectEvent(t, alice, "buffer_update")
	var buf struct {
		Content string `json:"content"`
	}
	_ = json.Unmarshal(update.Data, &buf)
	if buf.Content != "print(1)" {
		t.Fatalf("unexpected buffer_update: %s", string(update.Data))
	}

	// Chat fans out to everyone, sender included. Receiving chat_message as
	// Bob's next event also proves his own edit was not echoed back.
	sendEvent(t, bob, "chat", map[string]string{"sessionId": sessionID, "text": "done"})
	expectEvent(t, bob, "chat_message")
	expectEvent(t, alice, "chat_message")

	// Signaling relay: opaque payload, targeted delivery.
	sendEvent(t, bob, "signal", map[string]any{
		"kind":    "offer",
		"target":  aliceID,
		"payload": map[string]string{"sdp": "blob"},
	})
	sig := expectEvent(t, alice, "signal")
	var relay struct {
		Kind string `json:"kind"`
		From string `json:"from"`
	}
	_ = json.Unmarshal(sig.Data, &relay)
	if relay.Kind != "offer" || relay.From != bobID {
		t.Fatalf("unexpected signal relay: %s", string(sig.Data))
	}

	// Host disconnect: Bob inherits host and writer.
	alice.Close()
	roles = decodeRoles(t, expectEvent(t, bob, "roles_update"))
	if roles.HostID != bobID || roles.WriterID != bobID {
		t.Fatalf("expected Bob to inherit host+writer, got %+v", roles)
	}
}

func TestRunOverWebSocket(t *testing.T) {
	hub := newTestHub(t, execservice.Config{Command: "cat", Timeout: 10 * time.Second})

	sessionID, err := hub.rooms.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	conn := hub.dial(t)
	connID(t, conn)

	sendEvent(t, conn, "join", map[string]string{"sessionId": sessionID, "name": "Alice"})
	expectEvent(t, conn, "roles_update")
	expectEvent(t, conn, "buffer_snapshot")
	expectEvent(t, conn, "chat_snapshot")

	sendEvent(t, conn, "run", map[string]string{"sessionId": sessionID, "source": "print('hi')"})

	status := expectEvent(t, conn, "run_status")
	var st struct {
		Running bool   `json:"running"`
		JobID   string `json:"jobId"`
	}
	_ = json.Unmarshal(status.Data, &st)
	if !st.Running || st.JobID == "" {
		t.Fatalf("expected running status with job id, got %s", string(status.Data))
	}

	output := expectEvent(t, conn, "run_output")
	var line struct {
		Line string `json:"line"`
	}
	_ = json.Unmarshal(output.Data, &line)
	if line.Line != "print('hi')" {
		t.Fatalf("unexpected run output: %s", string(output.Data))
	}

	status = expectEvent(t, conn, "run_status")
	var final struct {
		Running bool `json:"running"`
	}
	_ = json.Unmarshal(status.Data, &final)
	if final.Running {
		t.Fatalf("expected terminal run_status, got %s", string(status.Data))
	}

	// Input after the process exited reports to the requester only.
	sendEvent(t, conn, "input", map[string]string{"sessionId": sessionID, "text": "late"})
	errEv := expectEvent(t, conn, "error")
	var wireErr struct {
		Kind string `json:"kind"`
	}
	_ = json.Unmarshal(errEv.Data, &wireErr)
	if wireErr.Kind != "no_active_process" {
		t.Fatalf("expected no_active_process, got %s", string(errEv.Data))
	}
}

func TestJoinUnknownSessionReportsError(t *testing.T) {
	hub := newTestHub(t, execservice.Config{Command: "cat"})

	conn := hub.dial(t)
	connID(t, conn)

	sendEvent(t, conn, "join", map[string]string{"sessionId": "nope", "name": "Alice"})
	errEv := expectEvent(t, conn, "error")
	var wireErr struct {
		Kind string `json:"kind"`
	}
	_ = json.Unmarshal(errEv.Data, &wireErr)
	if wireErr.Kind != "session_not_found" {
		t.Fatalf("expected session_not_found, got %s", string(errEv.Data))
	}
}

func TestMalformedPayloadIsIgnored(t *testing.T) {
	hub := newTestHub(t, execservice.Config{Command: "cat"})

	conn := hub.dial(t)
	connID(t, conn)

	// Missing sessionId degrades to a silent no-op, not a close.
	sendEvent(t, conn, "edit", map[string]string{"content": "x"})
	sendEvent(t, conn, "chat", map[string]string{"text": "x"})

	// The connection is still healthy afterwards.
	sendEvent(t, conn, "signal", map[string]any{"kind": "ping", "target": "ghost"})
	sendEvent(t, conn, "bogus", nil)
	ev := expectEvent(t, conn, "error")
	if !strings.Contains(string(ev.Data), "unsupported") {
		t.Fatalf("expected unsupported event error, got %s", string(ev.Data))
	}
}
