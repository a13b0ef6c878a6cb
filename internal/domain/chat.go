package domain

import "time"

type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

const (
	SenderSystem = "system"

	KindUser   = "user"
	KindSystem = "system"
)

type ChatMessage struct {
	Sender     string     `json:"from"`
	Kind       string     `json:"kind"`
	Body       string     `json:"msg"`
	Visibility Visibility `json:"access"`
	Recipient  string     `json:"to,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// VisibleTo reports whether user may see the message. Private lines are
// only shown to their recipient (and to their author when a user wrote them).
func (m ChatMessage) VisibleTo(user string) bool {
	if m.Visibility != Private {
		return true
	}
	if m.Recipient == user {
		return true
	}
	return m.Kind == KindUser && m.Sender == user
}

// FilterVisible keeps the messages user may see, in order.
func FilterVisible(history []ChatMessage, user string) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		if m.VisibleTo(user) {
			out = append(out, m)
		}
	}
	return out
}

// ThreadMeta is the bookkeeping kept next to a chat thread for retention.
type ThreadMeta struct {
	ID           string
	Scope        string
	Participants []string
	LastActivity time.Time
}
