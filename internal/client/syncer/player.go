package syncer

// Player is the local media element. Implementations report state changes
// through PlayerEvents delivered asynchronously, never from inside a call.
type Player interface {
	Position() float64
	Duration() float64
	Paused() bool
	Play()
	Pause()
	Seek(position float64)
	Rate() float64
	SetRate(rate float64)
	SetVolume(muted bool, volume float64)
}

type PlayerEventKind int

const (
	PlayerPlay PlayerEventKind = iota
	PlayerPause
	PlayerSeek
	PlayerVolume
)

func (k PlayerEventKind) String() string {
	return [...]string{"play", "pause", "seek", "volume"}[k]
}

// PlayerEvent is a change observed on the local player.
type PlayerEvent struct {
	Kind     PlayerEventKind
	Position float64
	Muted    bool
	Volume   float64
}
