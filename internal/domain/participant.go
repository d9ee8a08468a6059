// Package domain contains entities and the message vocabulary, no transport logic.
package domain

import (
	"errors"
	"strings"
)

const (
	MaxIDLen   = 64
	MaxNameLen = 36
	MaxMetaLen = 36
)

var (
	ErrMissingParticipant = errors.New("participant id empty")
	ErrIDTooLong          = errors.New("id too long")
	ErrNameTooLong        = errors.New("name too long")
	ErrMetaTooLong        = errors.New("metadata too long")
)

// Participant is one connected identity within a room.
// Mute and similar flags travel in payloads; they are not part of this record.
type Participant struct {
	ID         ParticipantID `json:"id"`
	UserID     UserID        `json:"userId,omitempty"`
	Name       string        `json:"name"`
	Instrument string        `json:"instrument,omitempty"`
	Role       string        `json:"role,omitempty"`
}

// NewParticipant trims and checks handshake values. An empty name falls back to the id.
func NewParticipant(id ParticipantID, name string) (Participant, error) {
	id = ParticipantID(strings.TrimSpace(string(id)))
	if id == "" {
		return Participant{}, ErrMissingParticipant
	}
	if len(id) > MaxIDLen {
		return Participant{}, ErrIDTooLong
	}
	p := Participant{ID: id}
	if err := p.SetName(name); err != nil {
		return Participant{}, err
	}
	return p, nil
}

func (p *Participant) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = string(p.ID)
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	p.Name = name
	return nil
}

// WithMeta returns a copy carrying instrument and role.
func (p Participant) WithMeta(instrument, role string) (Participant, error) {
	instrument, role = strings.TrimSpace(instrument), strings.TrimSpace(role)
	if len(instrument) > MaxMetaLen || len(role) > MaxMetaLen {
		return Participant{}, ErrMetaTooLong
	}
	p.Instrument = instrument
	p.Role = role
	return p, nil
}
