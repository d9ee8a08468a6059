package app

import (
	"errors"
	"time"

	"github.com/dkeye/jamroom/internal/core"
	"github.com/dkeye/jamroom/internal/domain"
	"github.com/dkeye/jamroom/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

// PublishResult reports delivery stats for one routed envelope.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ParticipantID
}

type RouterOption func(*Router)

func WithPolicy(p Policy) RouterOption {
	return func(r *Router) { r.policy = p }
}

func WithMetrics(m *metrics.Relay) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router delivers envelopes: signaling types and anything carrying a targetId go to one
// target, everything else to the room.
// Sends go through Handle.Send, which never blocks, so one stuck peer cannot hold up the rest.
type Router struct {
	reg     *core.Registry
	policy  Policy
	metrics *metrics.Relay
	now     func() time.Time
}

func NewRouter(reg *core.Registry, opts ...RouterOption) *Router {
	r := &Router{
		reg:     reg,
		policy:  SimplePolicy{},
		metrics: metrics.New(nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route validates env and dispatches it. Malformed or undeliverable envelopes are
// logged and dropped, never returned as errors.
func (r *Router) Route(env domain.Envelope) PublishResult {
	if err := env.Validate(); err != nil {
		reason := metrics.ReasonMalformed
		if errors.Is(err, domain.ErrUnknownType) {
			reason = metrics.ReasonUnknownType
		}
		r.metrics.Drop(reason)
		log.Warn().Err(err).Str("module", "app.router").Str("room", string(env.RoomID)).Str("sender", string(env.SenderID)).Str("type", string(env.Type)).Msg("dropping envelope")
		return PublishResult{}
	}
	env.Stamp(r.now())

	switch env.Type.Class() {
	case domain.ClassSignaling:
		r.metrics.Route(string(env.Type))
		return r.relay(env)
	case domain.ClassFanout:
		r.metrics.Route(string(env.Type))
		if env.TargetID != "" {
			// a targeted room message is a direct message
			return r.relay(env)
		}
		return r.fanout(env, env.Type.IncludesSender())
	case domain.ClassPresence:
		r.metrics.Route(string(env.Type))
		return r.fanout(env, false)
	case domain.ClassUnknown:
	}
	// Validate rejects unknown types; kept for the exhaustive switch.
	r.metrics.Drop(metrics.ReasonUnknownType)
	return PublishResult{}
}

// SendTo delivers env to a single participant without target checks; used for
// server-originated direct messages such as the welcome snapshot.
func (r *Router) SendTo(room domain.RoomID, pid domain.ParticipantID, env domain.Envelope) bool {
	h, ok := r.reg.Find(room, pid)
	if !ok {
		return false
	}
	env.Stamp(r.now())
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode envelope")
		return false
	}
	return r.deliver(room, pid, h, frame)
}

func (r *Router) relay(env domain.Envelope) PublishResult {
	logger := log.With().Str("module", "app.router").Str("room", string(env.RoomID)).
		Str("sender", string(env.SenderID)).Str("target", string(env.TargetID)).Str("type", string(env.Type)).Logger()

	h, ok := r.reg.Find(env.RoomID, env.TargetID)
	if !ok {
		r.metrics.Drop(metrics.ReasonUnknownTarget)
		logger.Debug().Msg("signaling target not in room, dropped")
		return PublishResult{}
	}
	if !h.IsOpen() {
		r.metrics.Drop(metrics.ReasonClosedTarget)
		logger.Debug().Msg("signaling target closed, dropped")
		return PublishResult{Dropped: []domain.ParticipantID{env.TargetID}}
	}
	frame, err := env.Encode()
	if err != nil {
		logger.Error().Err(err).Msg("encode envelope")
		return PublishResult{}
	}
	if !r.deliver(env.RoomID, env.TargetID, h, frame) {
		return PublishResult{Dropped: []domain.ParticipantID{env.TargetID}}
	}
	return PublishResult{SentTo: 1}
}

// fanout encodes once and sends to every member, skipping the sender unless withSender.
// Unknown rooms are an empty fan-out.
func (r *Router) fanout(env domain.Envelope, withSender bool) PublishResult {
	res := PublishResult{}
	members := r.reg.Members(env.RoomID)
	if len(members) == 0 {
		return res
	}
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode envelope")
		return res
	}
	for _, m := range members {
		pid := m.Participant.ID
		if pid == env.SenderID && !withSender {
			continue
		}
		if r.deliver(env.RoomID, pid, m.Handle, frame) {
			res.SentTo++
			continue
		}
		res.Dropped = append(res.Dropped, pid)
	}
	log.Debug().Str("module", "app.router").Str("room", string(env.RoomID)).Str("from", string(env.SenderID)).
		Str("type", string(env.Type)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// deliver isolates one recipient: errors and panics stay here.
func (r *Router) deliver(room domain.RoomID, pid domain.ParticipantID, h core.Handle, frame core.Frame) bool {
	var err error
	if rec := panics.Try(func() { err = h.Send(frame) }); rec != nil {
		err = rec.AsError()
	}
	if err == nil {
		r.metrics.Deliver(metrics.OutcomeSent)
		return true
	}

	logger := log.With().Str("module", "app.router").Str("room", string(room)).Str("participant", string(pid)).Logger()
	switch {
	case errors.Is(err, core.ErrBackpressure):
		r.metrics.Deliver(metrics.OutcomeBackpressure)
		action := NoAction
		if r.policy != nil {
			action = r.policy.OnBackPressure(room, pid)
		}
		logger.Warn().Str("action", action.String()).Msg("recipient queue full")
		if action == KickMember {
			h.Close()
		}
	case errors.Is(err, core.ErrClosed):
		r.metrics.Deliver(metrics.OutcomeClosed)
		logger.Debug().Msg("recipient already closed")
	default:
		r.metrics.Deliver(metrics.OutcomeError)
		logger.Error().Err(err).Msg("send failed")
	}
	return false
}
