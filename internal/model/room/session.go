package room

import "time"

// Session is the read-only view of a collaboration room handed to callers.
// Live state is owned by the room service; this snapshot carries no locks.
type Session struct {
	ID           string        `json:"id"`
	Content      string        `json:"content"`
	Participants []Participant `json:"participants"`
	HostID       string        `json:"hostId,omitempty"`
	WriterID     string        `json:"writerId,omitempty"`
	Running      bool          `json:"running"`
	JobID        string        `json:"jobId,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Participant is one live connection inside a session.
type Participant struct {
	ConnID   string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Roles is the membership/role snapshot broadcast after every change.
type Roles struct {
	Participants []Participant `json:"participants"`
	HostID       string        `json:"hostId,omitempty"`
	WriterID     string        `json:"writerId,omitempty"`
}
