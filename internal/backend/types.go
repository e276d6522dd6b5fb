package backend

// Heartbeat statuses reported to CrateHQ.
const (
	StatusOK                = "ok"
	StatusError             = "error"
	StatusSessionExpired    = "session_expired"
	StatusChallengeRequired = "challenge_required"
)

// InboundMessage is the webhook payload for one forwarded DM. MediaURL is a
// pointer so "no media" serializes as an explicit null.
type InboundMessage struct {
	AccountID      string  `json:"ig_account_id"`
	ThreadID       string  `json:"thread_id"`
	SenderUsername string  `json:"sender_username"`
	SenderFullName string  `json:"sender_full_name"`
	MessageText    string  `json:"message_text"`
	MessageID      string  `json:"message_id"`
	Timestamp      string  `json:"timestamp"`
	ItemType       string  `json:"item_type"`
	MediaURL       *string `json:"media_url"`
}

type PendingReply struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	MessageText string `json:"message_text"`
}

type Heartbeat struct {
	AccountID     string `json:"ig_account_id"`
	Status        string `json:"status"`
	MessagesFound int    `json:"messages_found"`
	MessagesSent  int    `json:"messages_sent"`
	ErrorDetail   string `json:"error_detail,omitempty"`
}
