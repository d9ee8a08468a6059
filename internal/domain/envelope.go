package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type MessageType string

const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeChat         MessageType = "chat"
	TypeSync         MessageType = "sync"
	TypeControl      MessageType = "control"
	TypeBroadcast    MessageType = "broadcast"
	TypePresence     MessageType = "presence"
)

// Class groups message types by how they are delivered.
type Class int

const (
	ClassUnknown Class = iota
	// ClassSignaling is relayed to exactly one target participant.
	ClassSignaling
	// ClassFanout is delivered to the room.
	ClassFanout
	// ClassPresence is synthesized by the server only.
	ClassPresence
)

func (t MessageType) Class() Class {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return ClassSignaling
	case TypeChat, TypeSync, TypeControl, TypeBroadcast:
		return ClassFanout
	case TypePresence:
		return ClassPresence
	}
	return ClassUnknown
}

// IncludesSender reports whether a fan-out of t is echoed to the sender too.
// Status messages (sync, control) are; conversational ones (chat, broadcast) are not.
func (t MessageType) IncludesSender() bool {
	return t == TypeSync || t == TypeControl
}

type PresenceKind string

const (
	PresenceJoined PresenceKind = "joined"
	PresenceLeft   PresenceKind = "left"
	// PresenceState is the direct welcome snapshot sent to a joiner.
	PresenceState PresenceKind = "state"
)

var (
	ErrMalformed     = errors.New("malformed envelope")
	ErrMissingType   = errors.New("missing type")
	ErrUnknownType   = errors.New("unknown type")
	ErrMissingRoom   = errors.New("missing roomId")
	ErrMissingSender = errors.New("missing senderId")
	ErrMissingTarget = errors.New("missing targetId")
	ErrBadPayload    = errors.New("payload must be a JSON object")
)

// Envelope is the unit of message exchange. TargetID set means direct relay.
// Kind, Participant and Snapshot are only used by presence envelopes.
type Envelope struct {
	Type        MessageType     `json:"type" validate:"required"`
	RoomID      RoomID          `json:"roomId" validate:"required,max=64"`
	SenderID    ParticipantID   `json:"senderId" validate:"required,max=64"`
	TargetID    ParticipantID   `json:"targetId,omitempty" validate:"omitempty,max=64"`
	Kind        PresenceKind    `json:"kind,omitempty"`
	Participant *Participant    `json:"participant,omitempty"`
	Snapshot    []Participant   `json:"snapshot,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   int64           `json:"timestamp,omitempty"`
}

var emptyPayload = json.RawMessage(`{}`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(envelopeRules, Envelope{})
	return v
}

func envelopeRules(sl validator.StructLevel) {
	e := sl.Current().Interface().(Envelope)
	switch e.Type.Class() {
	case ClassSignaling:
		if e.TargetID == "" {
			sl.ReportError(e.TargetID, "targetId", "TargetID", "required_for_signaling", string(e.Type))
		}
	case ClassUnknown:
		if e.Type != "" {
			sl.ReportError(e.Type, "type", "Type", "known_type", string(e.Type))
		}
	case ClassFanout, ClassPresence:
	}
}

// Decode parses raw bytes into an Envelope. It does not validate identity fields,
// the caller fills those from the bound session first.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p := bytes.TrimSpace(e.Payload)
	switch {
	case len(p) == 0 || bytes.Equal(p, []byte("null")):
		e.Payload = emptyPayload
	case p[0] != '{':
		return Envelope{}, ErrBadPayload
	}
	return e, nil
}

// Validate maps validator failures onto the package sentinel errors.
func (e Envelope) Validate() error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	fe := verrs[0]
	switch fe.StructField() {
	case "Type":
		if fe.Tag() == "required" {
			return ErrMissingType
		}
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	case "RoomID":
		if fe.Tag() == "required" {
			return ErrMissingRoom
		}
		return fmt.Errorf("roomId: %w", ErrIDTooLong)
	case "SenderID":
		if fe.Tag() == "required" {
			return ErrMissingSender
		}
		return fmt.Errorf("senderId: %w", ErrIDTooLong)
	case "TargetID":
		if fe.Tag() == "max" {
			return fmt.Errorf("targetId: %w", ErrIDTooLong)
		}
		return ErrMissingTarget
	}
	return fmt.Errorf("%w: %s", ErrMalformed, fe.Error())
}

// Stamp sets the timestamp when the client left it out.
func (e *Envelope) Stamp(now time.Time) {
	if e.Timestamp == 0 {
		e.Timestamp = now.UnixMilli()
	}
}

func (e Envelope) Encode() ([]byte, error) {
	if len(e.Payload) == 0 {
		e.Payload = emptyPayload
	}
	return json.Marshal(e)
}

// NewPresence builds a server-side presence envelope about subject.
func NewPresence(room RoomID, kind PresenceKind, subject Participant, snapshot []Participant, now time.Time) Envelope {
	return Envelope{
		Type:        TypePresence,
		RoomID:      room,
		SenderID:    subject.ID,
		Kind:        kind,
		Participant: &subject,
		Snapshot:    snapshot,
		Payload:     emptyPayload,
		Timestamp:   now.UnixMilli(),
	}
}
