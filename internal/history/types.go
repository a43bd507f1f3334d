package history

import "time"

// Message is one stored chat message. Role is only set on conversation reads,
// relative to the first user passed to FetchConversation.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sent_at"`
	Role        string    `json:"role,omitempty"`
}

const (
	RoleSelf  = "self"
	RoleOther = "other"
)

// AutoResponse is one entry of the interaction log written when a reply was sent on a responder's behalf.
type AutoResponse struct {
	ID           string    `json:"id"`
	ResponderID  string    `json:"responder_id"`
	RequesterID  string    `json:"requester_id"`
	Reason       string    `json:"reason"`
	Confidence   float64   `json:"confidence"`
	ResponseText string    `json:"response_text"`
	CreatedAt    time.Time `json:"created_at"`
}
