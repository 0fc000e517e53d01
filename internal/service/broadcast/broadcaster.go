package broadcast

import (
	"log"
	"sync"
)

// Sender delivers one event to a single connection. The websocket layer
// supplies one per connection; the broadcaster never imports the transport.
type Sender func(event string, payload any) error

type connection struct {
	mu   sync.Mutex // serializes writes so one actor's events keep their order
	send Sender
}

// Broadcaster tracks live connections and their room membership, and fans
// events out to rooms. Delivery is best-effort: a failed or missing recipient
// is logged and skipped, state is reconciled on the next join via snapshot.
type Broadcaster struct {
	mu    sync.RWMutex
	conns map[string]*connection
	rooms map[string]map[string]struct{}
}

func New() *Broadcaster {
	return &Broadcaster{
		conns: make(map[string]*connection),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register adds a live connection. Overwrites any stale entry for the id.
func (b *Broadcaster) Register(connID string, send Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[connID] = &connection{send: send}
}

// Unregister drops a connection and removes it from every room.
func (b *Broadcaster) Unregister(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, connID)
	for sessionID, members := range b.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(b.rooms, sessionID)
		}
	}
}

// JoinRoom records the connection as a recipient for the session's events.
func (b *Broadcaster) JoinRoom(sessionID, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[sessionID]
	if !ok {
		members = make(map[string]struct{})
		b.rooms[sessionID] = members
	}
	members[connID] = struct{}{}
}

// LeaveRoom removes the connection from one room only.
func (b *Broadcaster) LeaveRoom(sessionID, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if members, ok := b.rooms[sessionID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(b.rooms, sessionID)
		}
	}
}

// Publish sends event/payload to every member of the session's room except
// exclude, when given.
func (b *Broadcaster) Publish(sessionID, event string, payload any, exclude string) {
	b.mu.RLock()
	targets := make([]*connection, 0, len(b.rooms[sessionID]))
	for connID := range b.rooms[sessionID] {
		if connID == exclude {
			continue
		}
		if conn, ok := b.conns[connID]; ok {
			targets = append(targets, conn)
		}
	}
	b.mu.RUnlock()

	for _, conn := range targets {
		conn.deliver(event, payload)
	}
}

// SendTo delivers an event to a single connection. Unknown ids are a no-op.
func (b *Broadcaster) SendTo(connID, event string, payload any) {
	b.mu.RLock()
	conn, ok := b.conns[connID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	conn.deliver(event, payload)
}

func (c *connection) deliver(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(event, payload); err != nil {
		log.Printf("[broadcast] send %s failed: %v", event, err)
	}
}
