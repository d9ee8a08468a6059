package app

import (
	"time"

	"github.com/dkeye/jamroom/internal/core"
	"github.com/dkeye/jamroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Presence emits synthetic join/leave envelopes carrying the current snapshot,
// so clients reconcile without a separate round trip.
type Presence struct {
	reg    *core.Registry
	router *Router
	now    func() time.Time
}

func NewPresence(reg *core.Registry, router *Router) *Presence {
	return &Presence{reg: reg, router: router, now: router.now}
}

// Snapshot is the join-ordered participant list of room.
func (p *Presence) Snapshot(room domain.RoomID) []domain.Participant {
	return p.reg.Snapshot(room)
}

// NotifyJoined tells everyone but the joiner.
func (p *Presence) NotifyJoined(room domain.RoomID, who domain.Participant) PublishResult {
	return p.notify(room, domain.PresenceJoined, who)
}

// NotifyLeft expects who to be deregistered already, so the snapshot excludes them.
func (p *Presence) NotifyLeft(room domain.RoomID, who domain.Participant) PublishResult {
	return p.notify(room, domain.PresenceLeft, who)
}

// Welcome sends the joiner its own view of the room.
func (p *Presence) Welcome(room domain.RoomID, who domain.Participant) bool {
	env := domain.NewPresence(room, domain.PresenceState, who, p.Snapshot(room), p.now())
	return p.router.SendTo(room, who.ID, env)
}

func (p *Presence) notify(room domain.RoomID, kind domain.PresenceKind, who domain.Participant) PublishResult {
	env := domain.NewPresence(room, kind, who, p.Snapshot(room), p.now())
	res := p.router.Route(env)
	log.Info().Str("module", "app.presence").Str("room", string(room)).Str("participant", string(who.ID)).
		Str("kind", string(kind)).Int("sent_to", res.SentTo).Msg("presence")
	return res
}
