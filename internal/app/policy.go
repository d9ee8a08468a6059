package app

import (
	"github.com/dkeye/jamroom/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	// KickMember closes the slow connection; its transport then runs the normal disconnect.
	KickMember
	// DropFrame loses the frame for that recipient only.
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

// Policy decides what happens to a recipient whose send queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, pid domain.ParticipantID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, domain.ParticipantID) BackpressureAction {
	return KickMember
}

// PolicyFunc adapts a plain function.
type PolicyFunc func(domain.RoomID, domain.ParticipantID) BackpressureAction

func (f PolicyFunc) OnBackPressure(room domain.RoomID, pid domain.ParticipantID) BackpressureAction {
	return f(room, pid)
}
