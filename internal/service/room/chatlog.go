package room

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yichenzhou/coderoom/backend/internal/model/room"
)

// PostChat appends a message to the session's chat log and broadcasts it to
// the whole room, sender included. Blank text is dropped silently.
func (s *Service) PostChat(sessionID, connID, name, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	st, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	msg := room.ChatMessage{
		ID:          uuid.NewString(),
		SenderID:    connID,
		SenderName:  name,
		Text:        text,
		CreatedAt:   now,
		DisplayTime: now.Format("15:04"),
	}

	st.mu.Lock()
	st.chat = append(st.chat, msg)
	if overflow := len(st.chat) - s.historyLimit; overflow > 0 {
		st.chat = append(st.chat[:0:0], st.chat[overflow:]...)
	}
	st.mu.Unlock()

	s.pub.Publish(sessionID, "chat_message", msg, "")
	return nil
}

// History returns up to limit of the most recent messages in chronological
// order, for backfilling a fresh joiner.
func (s *Service) History(sessionID string, limit int) ([]room.ChatMessage, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	msgs := st.chat
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]room.ChatMessage(nil), msgs...), nil
}
