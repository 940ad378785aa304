package domain

import "time"

// Member is a connection's participation meta inside one room.
type Member struct {
	ConnID   ConnID
	Username string
	JoinedAt time.Time
}

func NewMember(id ConnID, username string, at time.Time) Member {
	return Member{ConnID: id, Username: username, JoinedAt: at}
}
