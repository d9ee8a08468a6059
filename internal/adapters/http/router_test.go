package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/jamroom/internal/adapters/signal"
	"github.com/dkeye/jamroom/internal/app"
	"github.com/dkeye/jamroom/internal/config"
	"github.com/dkeye/jamroom/internal/core"
	"github.com/dkeye/jamroom/internal/domain"
	"github.com/dkeye/jamroom/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type nopHandle struct {
	mu     sync.Mutex
	closed bool
}

func (h *nopHandle) Send(core.Frame) error { return nil }

func (h *nopHandle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *nopHandle) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

type env struct {
	reg    *core.Registry
	life   *app.Lifecycle
	engine *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>jam</html>"), 0o600))

	cfg := &config.Config{
		Mode:        "test",
		Secret:      "test-secret",
		StaticPath:  static,
		MetricsPath: "/metrics",
		ICEServers:  []config.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	reg := core.NewRegistry(core.WithObserver(m))
	router := app.NewRouter(reg, app.WithMetrics(m))
	life := app.NewLifecycle(reg, router, app.NewPresence(reg, router))
	ctl := signal.NewSignalWSController(life, signal.DefaultOptions(), m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine := SetupRouter(ctx, Deps{Config: cfg, Registry: reg, Life: life, Signal: ctl, Gatherer: promReg})
	return &env{reg: reg, life: life, engine: engine}
}

func (e *env) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, path, nil)
	e.engine.ServeHTTP(w, r)
	return w
}

func (e *env) join(t *testing.T, room domain.RoomID, id string, instrument string) *nopHandle {
	t.Helper()
	h := &nopHandle{}
	_, err := e.life.OnConnect(room, domain.Participant{ID: domain.ParticipantID(id), Name: id, Instrument: instrument}, h)
	require.NoError(t, err)
	return h
}

func TestRooms_ListAndSnapshot(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/rooms")
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"rooms":[]}`, w.Body.String())

	e.join(t, "jam-1", "A", "drums")
	e.join(t, "jam-1", "B", "")
	e.join(t, "jam-2", "C", "")

	w = e.do(http.MethodGet, "/api/rooms")
	req.JSONEq(`{"rooms":[{"id":"jam-1","participant_count":2},{"id":"jam-2","participant_count":1}]}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/rooms/jam-1/participants")
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"room":"jam-1","participants":[{"id":"A","name":"A","instrument":"drums"},{"id":"B","name":"B"}]}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/rooms/nowhere/participants")
	req.Equal(http.StatusNotFound, w.Code)
}

func TestRooms_Kick(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)

	h := e.join(t, "jam-1", "A", "")
	e.join(t, "jam-1", "B", "")

	w := e.do(http.MethodDelete, "/api/rooms/jam-1/participants/A")
	req.Equal(http.StatusNoContent, w.Code)
	req.False(h.IsOpen())
	req.Equal([]domain.ParticipantID{"B"}, e.reg.ListParticipants("jam-1"))

	w = e.do(http.MethodDelete, "/api/rooms/jam-1/participants/A")
	req.Equal(http.StatusNotFound, w.Code)
}

func TestICEServers(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/ice-servers")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "stun:stun.example.org:3478")
}

func TestMetricsAndStatic(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	e.join(t, "jam-1", "A", "")

	w := e.do(http.MethodGet, "/metrics")
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), "jamroom_rooms_active 1")

	w = e.do(http.MethodGet, "/")
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), "jam")
}

func TestClientTokenCookie(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/rooms")
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, "JamSessions", cookies[0].Name)
}

func TestSignalEndpointCarriesClientToken(t *testing.T) {
	req := require.New(t)
	e := newEnv(t)
	srv := httptest.NewServer(e.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal?room=jam-1&participant=A"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })

	req.Eventually(func() bool { return len(e.reg.Snapshot("jam-1")) == 1 }, 2*time.Second, 10*time.Millisecond)
	req.NotEmpty(e.reg.Snapshot("jam-1")[0].UserID)
}
