package core

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/jamroom/internal/domain"
	"github.com/go4org/hashtriemap"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Member pairs a participant record with its live connection.
type Member struct {
	Participant domain.Participant
	Handle      Handle
}

type RoomInfo struct {
	ID               domain.RoomID `json:"id"`
	ParticipantCount int           `json:"participant_count"`
}

// Observer is told about membership changes, after the room lock is released.
type Observer interface {
	RoomOpened()
	RoomClosed()
	ParticipantAdded()
	ParticipantRemoved()
}

type nopObserver struct{}

func (nopObserver) RoomOpened()         {}
func (nopObserver) RoomClosed()         {}
func (nopObserver) ParticipantAdded()   {}
func (nopObserver) ParticipantRemoved() {}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.obs = o
		}
	}
}

// Registry is the single source of truth for who is in which room.
// The room index is a concurrent hash-trie; each room carries its own lock,
// so unrelated rooms never contend.
type Registry struct {
	rooms hashtriemap.HashTrieMap[domain.RoomID, *room]
	obs   Observer
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{obs: nopObserver{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// room keeps members in join order. A closed room has been unlinked from the
// index and must not accept members; callers retry against a fresh room.
type room struct {
	mu      sync.RWMutex
	id      domain.RoomID
	members map[domain.ParticipantID]*Member
	order   []domain.ParticipantID
	closed  bool
}

func newRoom(id domain.RoomID, p domain.Participant, h Handle) *room {
	return &room{
		id:      id,
		members: map[domain.ParticipantID]*Member{p.ID: {Participant: p, Handle: h}},
		order:   []domain.ParticipantID{p.ID},
	}
}

// Register adds or replaces the member. A replaced handle is returned so the
// caller can close it; the participant keeps its original join position.
func (reg *Registry) Register(id domain.RoomID, p domain.Participant, h Handle) (prev Handle, replaced bool) {
	for {
		if r, ok := reg.rooms.Load(id); ok {
			prev, replaced, ok := r.add(p, h)
			if !ok {
				continue
			}
			if !replaced {
				reg.obs.ParticipantAdded()
			}
			log.Info().Str("module", "core.registry").Str("room", string(id)).Str("participant", string(p.ID)).Bool("replaced", replaced).Msg("registered")
			return prev, replaced
		}
		fresh := newRoom(id, p, h)
		if _, loaded := reg.rooms.LoadOrStore(id, fresh); !loaded {
			reg.obs.RoomOpened()
			reg.obs.ParticipantAdded()
			log.Info().Str("module", "core.registry").Str("room", string(id)).Str("participant", string(p.ID)).Msg("room opened")
			return nil, false
		}
	}
}

// Deregister removes the member whatever handle it holds. Unknown pairs are a no-op.
func (reg *Registry) Deregister(id domain.RoomID, pid domain.ParticipantID) (Member, bool) {
	return reg.remove(id, pid, nil)
}

// Release removes the member only while it is still bound to h, so a connection
// that was replaced cannot evict its successor.
func (reg *Registry) Release(id domain.RoomID, pid domain.ParticipantID, h Handle) (Member, bool) {
	if h == nil {
		return Member{}, false
	}
	return reg.remove(id, pid, h)
}

func (reg *Registry) remove(id domain.RoomID, pid domain.ParticipantID, match Handle) (Member, bool) {
	r, ok := reg.rooms.Load(id)
	if !ok {
		return Member{}, false
	}
	r.mu.Lock()
	m, ok := r.members[pid]
	if !ok || (match != nil && m.Handle != match) {
		r.mu.Unlock()
		return Member{}, false
	}
	delete(r.members, pid)
	r.order = slices.DeleteFunc(r.order, func(x domain.ParticipantID) bool { return x == pid })
	emptied := len(r.members) == 0
	if emptied {
		// Unlink while still holding the room lock: a concurrent Register either
		// got in before us or sees closed and starts a new room.
		r.closed = true
		reg.rooms.CompareAndDelete(id, r)
	}
	r.mu.Unlock()

	reg.obs.ParticipantRemoved()
	if emptied {
		reg.obs.RoomClosed()
		log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room closed")
	}
	log.Info().Str("module", "core.registry").Str("room", string(id)).Str("participant", string(pid)).Msg("deregistered")
	return *m, true
}

func (reg *Registry) Find(id domain.RoomID, pid domain.ParticipantID) (Handle, bool) {
	r, ok := reg.rooms.Load(id)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[pid]
	if !ok {
		return nil, false
	}
	return m.Handle, true
}

func (reg *Registry) RoomExists(id domain.RoomID) bool {
	r, ok := reg.rooms.Load(id)
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.closed && len(r.members) > 0
}

// Members returns a join-ordered copy of the room. Unknown rooms yield nil.
func (reg *Registry) Members(id domain.RoomID) []Member {
	r, ok := reg.rooms.Load(id)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(pid domain.ParticipantID, _ int) Member { return *r.members[pid] })
}

func (reg *Registry) ListParticipants(id domain.RoomID) []domain.ParticipantID {
	return lo.Map(reg.Members(id), func(m Member, _ int) domain.ParticipantID { return m.Participant.ID })
}

func (reg *Registry) Snapshot(id domain.RoomID) []domain.Participant {
	return lo.Map(reg.Members(id), func(m Member, _ int) domain.Participant { return m.Participant })
}

// Rooms lists live rooms sorted by id.
func (reg *Registry) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0)
	reg.rooms.Range(func(id domain.RoomID, r *room) bool {
		r.mu.RLock()
		n := len(r.members)
		r.mu.RUnlock()
		if n > 0 {
			out = append(out, RoomInfo{ID: id, ParticipantCount: n})
		}
		return true
	})
	slices.SortFunc(out, func(a, b RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

func (r *room) add(p domain.Participant, h Handle) (prev Handle, replaced bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, false
	}
	if m, exists := r.members[p.ID]; exists {
		prev = m.Handle
		r.members[p.ID] = &Member{Participant: p, Handle: h}
		return prev, true, true
	}
	r.members[p.ID] = &Member{Participant: p, Handle: h}
	r.order = append(r.order, p.ID)
	return nil, false, true
}
