// Package protocol wraps the game-server wire protocol behind a small
// session interface. The supervisor only ever sees Session and Factory;
// the frame format underneath is an implementation detail.
package protocol

import (
	"context"

	"github.com/minedeck/minedeck/internal/domain"
)

// Identity is what the bot presents to the server when joining.
type Identity struct {
	Username    string
	GameVersion string
	Behavior    domain.BotBehavior
}

// Address is the remote game server endpoint.
type Address struct {
	Host string
	Port int
}

// Event is a session lifecycle or telemetry notification. A session
// emits zero or more telemetry events and exactly one terminal event
// (Joined counts as non-terminal; Ended or Failed closes the stream).
type Event interface {
	event()
}

// Joined is emitted once when the server accepts the bot.
type Joined struct{}

// Ended is emitted when the session finishes without a protocol error,
// either because the remote closed cleanly or because Close was called.
type Ended struct {
	Reason string
}

// Failed is emitted when the handshake is rejected or the session dies
// from a network or protocol error.
type Failed struct {
	Err error
}

// Chat is a chat line observed while connected.
type Chat struct {
	Message string
}

// Telemetry is a steady-state world update.
type Telemetry struct {
	PlayerCount int
	Position    *domain.Position
	Players     []string
}

func (Joined) event()    {}
func (Ended) event()     {}
func (Failed) event()    {}
func (Chat) event()      {}
func (Telemetry) event() {}

// Session is one live connection to a game server.
//
// Events delivers lifecycle and telemetry events in order and is closed
// after the terminal event. The getters return the latest telemetry and
// are safe to call from any goroutine; Close is idempotent.
type Session interface {
	Events() <-chan Event
	PlayerCount() int
	Position() *domain.Position
	Players() []string
	Close() error
}

// Factory opens a session. A synchronous error means the transport
// could not be established at all; handshake failures after that arrive
// as a Failed event instead.
type Factory func(ctx context.Context, addr Address, id Identity) (Session, error)
