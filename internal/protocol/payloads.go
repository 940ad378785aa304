package protocol

import (
	"errors"
	"math"
	"strings"

	"github.com/goccy/go-json"
)

const MaxChatRunes = 1000

// RoomRef accepts either a bare JSON string or an object with roomId.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

func (r *RoomRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		r.RoomID = s
		return nil
	}
	type plain RoomRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = RoomRef(p)
	return nil
}

func (r *RoomRef) Validate() error {
	if strings.TrimSpace(r.RoomID) == "" {
		return errors.New("roomId required")
	}
	return nil
}

type Connected struct {
	ID string `json:"id"`
}

type RoomCreated struct {
	RoomID string `json:"roomId"`
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

func (j *JoinRoom) Validate() error {
	if strings.TrimSpace(j.RoomID) == "" {
		return errors.New("roomId required")
	}
	return nil
}

type PlayState struct {
	Playing     bool    `json:"playing"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
}

type StreamStatus struct {
	IsStreaming bool       `json:"isStreaming"`
	StreamerID  string     `json:"streamerId,omitempty"`
	PlayState   *PlayState `json:"playState,omitempty"`
}

type UserEvent struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type UserEntry struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	IsStreamer bool   `json:"isStreamer"`
}

type SendMessage struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
	User    string `json:"user"`
}

func (m *SendMessage) Validate() error {
	if strings.TrimSpace(m.RoomID) == "" {
		return errors.New("roomId required")
	}
	m.Message = strings.TrimSpace(m.Message)
	if m.Message == "" {
		return errors.New("empty message")
	}
	if r := []rune(m.Message); len(r) > MaxChatRunes {
		m.Message = string(r[:MaxChatRunes])
	}
	return nil
}

type ChatMessage struct {
	Message string `json:"message"`
	User    string `json:"user"`
	TS      int64  `json:"ts"`
}

type StreamStarted struct {
	StreamerID string `json:"streamerId"`
}

// From carries the originating connection for relayed requests.
type From struct {
	From string `json:"from"`
}

// Signal is an inbound negotiation message addressed to one peer. SDP and ICE
// bodies stay opaque.
type Signal struct {
	To        string          `json:"to"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (s *Signal) Validate() error {
	if s.To == "" {
		return errors.New("to required")
	}
	if len(s.Offer) == 0 && len(s.Answer) == 0 && len(s.Candidate) == 0 {
		return errors.New("empty signal")
	}
	return nil
}

// RelayedSignal is what the addressed peer receives.
type RelayedSignal struct {
	From      string          `json:"from"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type SyncHeartbeat struct {
	RoomID      string  `json:"roomId"`
	Playing     bool    `json:"playing"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
}

func (h *SyncHeartbeat) Validate() error {
	if strings.TrimSpace(h.RoomID) == "" {
		return errors.New("roomId required")
	}
	return validTime(h.CurrentTime, h.Duration)
}

// SyncState is a heartbeat or sync response as seen by viewers; ServerTime is
// milliseconds since the Unix epoch on the relay's clock.
type SyncState struct {
	From        string  `json:"from,omitempty"`
	Playing     bool    `json:"playing"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	ServerTime  int64   `json:"serverTime"`
}

type SyncResponse struct {
	To          string  `json:"to"`
	Playing     bool    `json:"playing"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
}

func (s *SyncResponse) Validate() error {
	if s.To == "" {
		return errors.New("to required")
	}
	return validTime(s.CurrentTime, s.Duration)
}

type SeekVideo struct {
	RoomID string  `json:"roomId"`
	Time   float64 `json:"time"`
}

func (s *SeekVideo) Validate() error {
	if strings.TrimSpace(s.RoomID) == "" {
		return errors.New("roomId required")
	}
	return validTime(s.Time, 0)
}

type VolumeChange struct {
	RoomID string  `json:"roomId"`
	Muted  bool    `json:"muted"`
	Volume float64 `json:"volume"`
}

func (v *VolumeChange) Validate() error {
	if strings.TrimSpace(v.RoomID) == "" {
		return errors.New("roomId required")
	}
	if v.Volume < 0 || v.Volume > 1 || math.IsNaN(v.Volume) {
		return errors.New("volume out of range")
	}
	return nil
}

type Error struct {
	Error string `json:"error"`
}

// RoomInfo is a row of the room listing.
type RoomInfo struct {
	ID        string `json:"id"`
	Members   int    `json:"members"`
	Streaming bool   `json:"streaming"`
}

func validTime(pos, dur float64) error {
	if math.IsNaN(pos) || math.IsInf(pos, 0) || pos < 0 {
		return errors.New("bad time")
	}
	if math.IsNaN(dur) || math.IsInf(dur, 0) || dur < 0 {
		return errors.New("bad duration")
	}
	return nil
}

// SeekTo and VolumeState are the relayed forms of seek-video and volume-change.
type SeekTo struct {
	Time float64 `json:"time"`
}

type VolumeState struct {
	Muted  bool    `json:"muted"`
	Volume float64 `json:"volume"`
}
