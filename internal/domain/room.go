package domain

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"
)

const (
	RoomIDLen      = 6
	roomIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var ErrInvalidRoomID = errors.New("invalid room id")

// RoomID is a short case-insensitive room code, always stored uppercase.
type RoomID string

// CanonicalRoomID trims and uppercases a user supplied code.
func CanonicalRoomID(raw string) (RoomID, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" {
		return "", ErrInvalidRoomID
	}
	return RoomID(id), nil
}

// NewRoomID draws RoomIDLen base-36 characters from crypto/rand.
func NewRoomID() (RoomID, error) {
	var b strings.Builder
	b.Grow(RoomIDLen)
	max := big.NewInt(int64(len(roomIDAlphabet)))
	for range RoomIDLen {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(roomIDAlphabet[n.Int64()])
	}
	return RoomID(b.String()), nil
}

// PlaybackState is the last host snapshot stored on a room.
type PlaybackState struct {
	Playing         bool      `json:"playing"`
	Position        float64   `json:"currentTime"`
	Duration        float64   `json:"duration"`
	ServerTimestamp time.Time `json:"-"`
}

// Host is either empty or the id of the broadcasting connection.
type Host struct {
	id ConnID
	ok bool
}

func NoHost() Host { return Host{} }

func HostOf(id ConnID) Host { return Host{id: id, ok: true} }

func (h Host) Get() (ConnID, bool) { return h.id, h.ok }

func (h Host) Is(id ConnID) bool { return h.ok && h.id == id }

func (h Host) String() string {
	if !h.ok {
		return ""
	}
	return string(h.id)
}
