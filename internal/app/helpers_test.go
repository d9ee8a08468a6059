package app

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/jamroom/internal/core"
	"github.com/dkeye/jamroom/internal/domain"
	"github.com/dkeye/jamroom/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// recHandle records every frame it is sent.
type recHandle struct {
	mu     sync.Mutex
	frames []core.Frame
	closed int
	err    error
}

func (h *recHandle) Send(f core.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed > 0 {
		return core.ErrClosed
	}
	if h.err != nil {
		return h.err
	}
	h.frames = append(h.frames, f)
	return nil
}

func (h *recHandle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed == 0
}

func (h *recHandle) Close() {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
}

func (h *recHandle) envelopes(t *testing.T) []domain.Envelope {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Envelope, 0, len(h.frames))
	for _, f := range h.frames {
		var e domain.Envelope
		require.NoError(t, json.Unmarshal(f, &e))
		out = append(out, e)
	}
	return out
}

func (h *recHandle) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func (h *recHandle) closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

var fixedNow = time.UnixMilli(1_700_000_000_000)

type fixture struct {
	reg      *core.Registry
	metrics  *metrics.Relay
	router   *Router
	presence *Presence
	life     *Lifecycle
}

func newFixture(opts ...RouterOption) *fixture {
	m := metrics.New(prometheus.NewRegistry())
	reg := core.NewRegistry(core.WithObserver(m))
	opts = append([]RouterOption{WithMetrics(m), WithClock(func() time.Time { return fixedNow })}, opts...)
	router := NewRouter(reg, opts...)
	presence := NewPresence(reg, router)
	return &fixture{
		reg:      reg,
		metrics:  m,
		router:   router,
		presence: presence,
		life:     NewLifecycle(reg, router, presence),
	}
}

func (f *fixture) connect(t *testing.T, room domain.RoomID, id string) (*Session, *recHandle) {
	t.Helper()
	h := &recHandle{}
	s, err := f.life.OnConnect(room, domain.Participant{ID: domain.ParticipantID(id), Name: id}, h)
	require.NoError(t, err)
	return s, h
}

func ids(ps []domain.Participant) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
