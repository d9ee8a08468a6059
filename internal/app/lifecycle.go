package app

import (
	"errors"
	"sync"

	"github.com/dkeye/jamroom/internal/core"
	"github.com/dkeye/jamroom/internal/domain"
	"github.com/dkeye/jamroom/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

var ErrInvalidSession = errors.New("invalid session")

// Session is one registered connection. It is created by OnConnect and ended
// exactly once by OnDisconnect.
type Session struct {
	Room        domain.RoomID
	Participant domain.Participant
	Handle      core.Handle

	once sync.Once
}

type LifecycleOption func(*Lifecycle)

// WithWelcome makes OnConnect send the joiner a presence "state" snapshot.
func WithWelcome(on bool) LifecycleOption {
	return func(l *Lifecycle) { l.welcome = on }
}

// Lifecycle is what the transport adapter calls: connect, each inbound message, disconnect.
// Nothing here returns a transport-fatal error; failures are logged where they happen.
type Lifecycle struct {
	reg      *core.Registry
	router   *Router
	presence *Presence
	metrics  *metrics.Relay
	welcome  bool
}

func NewLifecycle(reg *core.Registry, router *Router, presence *Presence, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		reg:      reg,
		router:   router,
		presence: presence,
		metrics:  router.metrics,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnConnect registers the participant and announces it. A previous connection of
// the same participant id is closed and replaced; that is not a new join.
func (l *Lifecycle) OnConnect(room domain.RoomID, p domain.Participant, h core.Handle) (*Session, error) {
	if room == "" || p.ID == "" || h == nil {
		return nil, ErrInvalidSession
	}
	logger := log.With().Str("module", "app.lifecycle").Str("room", string(room)).Str("participant", string(p.ID)).Logger()

	prev, replaced := l.reg.Register(room, p, h)
	if replaced && prev != nil && prev != h {
		logger.Info().Msg("replacing previous connection")
		prev.Close()
	}
	s := &Session{Room: room, Participant: p, Handle: h}

	if !replaced {
		l.guard(logger, "notify joined", func() { l.presence.NotifyJoined(room, p) })
	}
	if l.welcome {
		l.guard(logger, "welcome", func() { l.presence.Welcome(room, p) })
	}
	logger.Info().Bool("replaced", replaced).Msg("connected")
	return s, nil
}

// OnMessage decodes raw and routes it. Bad input is dropped and the connection stays open.
func (l *Lifecycle) OnMessage(s *Session, raw []byte) {
	if s == nil {
		return
	}
	rec := panics.Try(func() { l.handleMessage(s, raw) })
	if rec != nil {
		l.metrics.Drop(metrics.ReasonPanic)
		log.Error().Err(rec.AsError()).Str("module", "app.lifecycle").Str("room", string(s.Room)).
			Str("participant", string(s.Participant.ID)).Msg("message handler panicked")
	}
}

func (l *Lifecycle) handleMessage(s *Session, raw []byte) {
	logger := log.With().Str("module", "app.lifecycle").Str("room", string(s.Room)).Str("participant", string(s.Participant.ID)).Logger()

	env, err := domain.Decode(raw)
	if err != nil {
		l.metrics.Drop(metrics.ReasonMalformed)
		logger.Warn().Err(err).Msg("bad envelope")
		return
	}
	if env.RoomID == "" {
		env.RoomID = s.Room
	}
	if env.SenderID == "" {
		env.SenderID = s.Participant.ID
	}
	if env.RoomID != s.Room || env.SenderID != s.Participant.ID || env.Type == domain.TypePresence {
		l.metrics.Drop(metrics.ReasonSpoofed)
		logger.Warn().Str("type", string(env.Type)).Str("claimed_room", string(env.RoomID)).
			Str("claimed_sender", string(env.SenderID)).Msg("envelope does not match session")
		return
	}
	l.router.Route(env)
}

// OnDisconnect deregisters the session and announces the departure. Safe to call
// any number of times and from any goroutine; only the first call acts.
func (l *Lifecycle) OnDisconnect(s *Session) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		logger := log.With().Str("module", "app.lifecycle").Str("room", string(s.Room)).Str("participant", string(s.Participant.ID)).Logger()

		_, removed := l.reg.Release(s.Room, s.Participant.ID, s.Handle)
		s.Handle.Close()
		if !removed {
			// replaced by a newer connection or kicked already
			logger.Debug().Msg("session no longer registered")
			return
		}
		l.guard(logger, "notify left", func() { l.presence.NotifyLeft(s.Room, s.Participant) })
		logger.Info().Msg("disconnected")
	})
}

// Kick removes a participant on the server's initiative. The transport's own
// disconnect that follows finds nothing to release.
func (l *Lifecycle) Kick(room domain.RoomID, pid domain.ParticipantID) bool {
	m, ok := l.reg.Deregister(room, pid)
	if !ok {
		return false
	}
	m.Handle.Close()
	logger := log.With().Str("module", "app.lifecycle").Str("room", string(room)).Str("participant", string(pid)).Logger()
	l.guard(logger, "notify left", func() { l.presence.NotifyLeft(room, m.Participant) })
	logger.Info().Msg("kicked")
	return true
}

// Snapshot is the read-only participant view for dashboards.
func (l *Lifecycle) Snapshot(room domain.RoomID) []domain.Participant {
	return l.presence.Snapshot(room)
}

// guard keeps a failing notification from skipping the rest of a connect or disconnect.
func (l *Lifecycle) guard(logger zerolog.Logger, step string, f func()) {
	if rec := panics.Try(f); rec != nil {
		logger.Error().Err(rec.AsError()).Str("step", step).Msg("recovered")
	}
}
