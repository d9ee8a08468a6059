package core

import "errors"

//go:generate mockgen -destination=mocks/handle_mock.go -package=mocks github.com/dkeye/jamroom/internal/core Handle

// Frame is one encoded envelope ready for the wire.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Handle wraps one participant's live connection.
// Owned by the adapter that created it; the adapter must Close() it.
// Send must never block: a full queue returns ErrBackpressure, a closed
// connection returns ErrClosed.
type Handle interface {
	Send(Frame) error
	IsOpen() bool
	Close()
}
