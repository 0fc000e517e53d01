package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yichenzhou/coderoom/backend/internal/model/room"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrIDCollision      = errors.New("session id collision")
	ErrNotWriter        = errors.New("not the current writer")
	ErrNotAuthorized    = errors.New("host privileges required")
	ErrExecutionRunning = errors.New("execution in progress")
	ErrAlreadyRunning   = errors.New("a run is already active")
)

// Publisher fans an event out to every participant of a session. The room
// service never talks to the transport directly.
type Publisher interface {
	Publish(sessionID, event string, payload any, exclude string)
}

// JobHandle is the session's reference to its live execution job.
type JobHandle interface {
	ID() string
	Stop()
}

// sessionIDLength matches the short tokens the service hands out in URLs.
const sessionIDLength = 6

// state is the live, lock-guarded form of a session. All mutation goes
// through Service methods holding state.mu; snapshots are copied out.
type state struct {
	mu           sync.Mutex
	id           string
	content      string
	participants map[string]room.Participant
	hostID       string
	writerID     string
	chat         []room.ChatMessage
	running      bool
	job          JobHandle
	createdAt    time.Time
}

// Service owns every session and serializes all per-session mutation.
type Service struct {
	mu           sync.RWMutex
	sessions     map[string]*state
	pub          Publisher
	historyLimit int
}

// NewService bootstraps the in-memory session registry.
func NewService(pub Publisher, historyLimit int) *Service {
	if historyLimit < 1 {
		historyLimit = 1
	}
	return &Service{
		sessions:     make(map[string]*state),
		pub:          pub,
		historyLimit: historyLimit,
	}
}

// CreateSession provisions an empty session and returns its short token.
// A token collision is an integrity violation, never an overwrite.
func (s *Service) CreateSession() (string, error) {
	id := uuid.NewString()[:sessionIDLength]

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return "", ErrIDCollision
	}

	s.sessions[id] = &state{
		id:           id,
		participants: make(map[string]room.Participant),
		chat:         make([]room.ChatMessage, 0, 16),
		createdAt:    time.Now().UTC(),
	}
	return id, nil
}

// Snapshot returns a copied read-only view of a session.
func (s *Service) Snapshot(sessionID string) (room.Session, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return room.Session{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	snap := room.Session{
		ID:           st.id,
		Content:      st.content,
		Participants: st.participantsLocked(),
		HostID:       st.hostID,
		WriterID:     st.writerID,
		Running:      st.running,
		CreatedAt:    st.createdAt,
	}
	if st.job != nil {
		snap.JobID = st.job.ID()
	}
	return snap, nil
}

// Close removes a session and tears down its live job, if any. Intended for
// an operator layer; nothing in the core deletes sessions implicitly.
func (s *Service) Close(sessionID string) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	st.mu.Lock()
	job := st.job
	st.job = nil
	st.running = false
	st.mu.Unlock()

	if job != nil {
		job.Stop()
	}
	return nil
}

func (s *Service) lookup(sessionID string) (*state, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st, nil
}

// participantsLocked returns participants ordered by join time, connection id
// breaking ties. Callers must hold st.mu.
func (st *state) participantsLocked() []room.Participant {
	list := make([]room.Participant, 0, len(st.participants))
	for _, p := range st.participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].ConnID < list[j].ConnID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

func (st *state) rolesLocked() room.Roles {
	return room.Roles{
		Participants: st.participantsLocked(),
		HostID:       st.hostID,
		WriterID:     st.writerID,
	}
}
