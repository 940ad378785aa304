package signaling

//go:generate mockgen -source=emitter.go -destination=mocks/mock_emitter.go -package=mocks

// Emitter sends one named event to the relay.
type Emitter interface {
	Emit(event string, payload any) error
}
