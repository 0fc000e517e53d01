package room

import (
	"time"

	"github.com/yichenzhou/coderoom/backend/internal/model/room"
)

// JoinState is everything a fresh joiner needs to render the session.
type JoinState struct {
	Content  string
	Messages []room.ChatMessage
	Roles    room.Roles
}

// Join registers a connection as a participant. The first joiner of an empty
// session becomes host and writer in the same critical section, so there is
// no window where two connections can both win the role.
func (s *Service) Join(sessionID, connID, name string) (JoinState, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return JoinState{}, err
	}

	st.mu.Lock()
	if len(st.participants) == 0 {
		st.hostID = connID
		st.writerID = connID
	}
	st.participants[connID] = room.Participant{
		ConnID:   connID,
		Name:     name,
		JoinedAt: time.Now().UTC(),
	}
	joined := JoinState{
		Content:  st.content,
		Messages: append([]room.ChatMessage(nil), st.chat...),
		Roles:    st.rolesLocked(),
	}
	st.mu.Unlock()

	s.pub.Publish(sessionID, "roles_update", joined.Roles, "")
	return joined, nil
}

// Leave removes a participant and reassigns roles. A departing host hands
// host+writer to the earliest still-joined participant; a departing writer
// falls back to the host. Unknown connections are a no-op.
func (s *Service) Leave(sessionID, connID string) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return
	}

	st.mu.Lock()
	if _, ok := st.participants[connID]; !ok {
		st.mu.Unlock()
		return
	}
	delete(st.participants, connID)

	switch {
	case st.hostID == connID:
		remaining := st.participantsLocked()
		if len(remaining) > 0 {
			st.hostID = remaining[0].ConnID
			st.writerID = remaining[0].ConnID
		} else {
			st.hostID = ""
			st.writerID = ""
		}
	case st.writerID == connID:
		st.writerID = st.hostID
	}
	roles := st.rolesLocked()
	st.mu.Unlock()

	s.pub.Publish(sessionID, "roles_update", roles, "")
}

// GrantWrite hands the writer role to another participant. Host only.
func (s *Service) GrantWrite(sessionID, grantor, target string) error {
	st, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.hostID != grantor {
		st.mu.Unlock()
		return ErrNotAuthorized
	}
	if _, ok := st.participants[target]; !ok {
		st.mu.Unlock()
		return ErrNotAuthorized
	}
	st.writerID = target
	roles := st.rolesLocked()
	st.mu.Unlock()

	s.pub.Publish(sessionID, "roles_update", roles, "")
	return nil
}

// RevokeWrite returns the writer role to the host. Host only.
func (s *Service) RevokeWrite(sessionID, grantor string) error {
	st, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.hostID != grantor {
		st.mu.Unlock()
		return ErrNotAuthorized
	}
	st.writerID = st.hostID
	roles := st.rolesLocked()
	st.mu.Unlock()

	s.pub.Publish(sessionID, "roles_update", roles, "")
	return nil
}

// Edit replaces the shared buffer. Only the current writer may edit, and
// never while a run is in flight.
func (s *Service) Edit(sessionID, connID, content string) error {
	st, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.writerID != connID {
		st.mu.Unlock()
		return ErrNotWriter
	}
	if st.running {
		st.mu.Unlock()
		return ErrExecutionRunning
	}
	st.content = content
	st.mu.Unlock()

	s.pub.Publish(sessionID, "buffer_update", map[string]string{"content": content}, connID)
	return nil
}
