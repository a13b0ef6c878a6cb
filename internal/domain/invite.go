package domain

import "time"

type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteAccepted  InviteStatus = "accepted"
	InviteDeclined  InviteStatus = "declined"
	InviteCancelled InviteStatus = "cancelled"
	InviteExpired   InviteStatus = "expired"
)

type Invite struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	Status    InviteStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// ParseInviteResponse maps the wire status onto accept (true) or decline.
func ParseInviteResponse(status string) (bool, error) {
	switch status {
	case "accepted", "accept":
		return true, nil
	case "declined", "decline":
		return false, nil
	}
	return false, ErrInvalidResponse
}

// InviteState is the invite picture pushed to one lobby user.
type InviteState struct {
	Incoming []string `json:"incoming"`
	Outgoing []string `json:"outgoing"`
	Declined []string `json:"declined"`
}
