package room

import "time"

// ChatMessage is one immutable entry in a session's chat log.
type ChatMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	SenderName  string    `json:"senderName"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	DisplayTime string    `json:"displayTime"`
}
