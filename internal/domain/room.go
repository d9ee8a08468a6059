package domain

type (
	RoomID        string
	ParticipantID string
	UserID        string
)
