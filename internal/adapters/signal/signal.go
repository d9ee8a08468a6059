package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/jamroom/internal/app"
	"github.com/dkeye/jamroom/internal/core"
	"github.com/dkeye/jamroom/internal/domain"
	"github.com/dkeye/jamroom/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Options tune the websocket transport.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
	RatePerSec float64
	RateBurst  int
	JoinLimit  int
	JoinWindow time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  5 * time.Second,
		SendBuffer: 64,
		RatePerSec: 20,
		RateBurst:  40,
		JoinLimit:  10,
		JoinWindow: time.Minute,
	}
}

type SignalWSController struct {
	Life    *app.Lifecycle
	Opts    Options
	Metrics *metrics.Relay
	Joins   *JoinLimiter
}

func NewSignalWSController(life *app.Lifecycle, opts Options, m *metrics.Relay) *SignalWSController {
	if m == nil {
		m = metrics.New(nil)
	}
	return &SignalWSController{
		Life:    life,
		Opts:    opts,
		Metrics: m,
		Joins:   NewJoinLimiter(opts.JoinLimit, opts.JoinWindow),
	}
}

// WsSignalConn is the core.Handle over one websocket. Frames queue in a bounded
// channel drained by writePump, the only writer on the socket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
		done: make(chan struct{}),
	}
}

func (c *WsSignalConn) Send(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Close is idempotent. Closing the socket unblocks the read and write pumps.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades GET /api/ws/signal?room=&participant=&name=&instrument=&role=.
// A missing participant id gets a fresh one, so every tab is its own participant.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	room := domain.RoomID(c.Query("room"))
	if room == "" || len(room) > domain.MaxIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room"})
		return
	}
	pid := c.Query("participant")
	if pid == "" {
		pid = uuid.NewString()
	}
	p, err := domain.NewParticipant(domain.ParticipantID(pid), c.Query("name"))
	if err == nil {
		p, err = p.WithMeta(c.Query("instrument"), c.Query("role"))
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.UserID = domain.UserID(c.GetString("client_token"))
	if !ctl.Joins.Allow(p.UserID) {
		ctl.Metrics.Drop(metrics.ReasonRateLimited)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connects"})
		return
	}

	logger := log.With().Str("module", "signal").Str("room", string(room)).Str("participant", string(p.ID)).Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ctl.Joins.Refund(p.UserID)
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	conn := newWsSignalConn(ws, ctl.Opts.SendBuffer)

	sess, err := ctl.Life.OnConnect(room, p, conn)
	if err != nil {
		logger.Error().Err(err).Msg("connect rejected")
		ctl.closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}
	logger.Info().Msg("new WS connection")

	go func() {
		select {
		case <-ctx.Done():
			ctl.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		case <-conn.done:
		}
	}()
	go ctl.writePump(conn)
	go ctl.readPump(sess, conn)
}

// closeWith sends a close frame on a best-effort basis, then closes.
func (ctl *SignalWSController) closeWith(c *WsSignalConn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.Opts.WriteWait))
	c.Close()
}

func newLimiter(opts Options) *rate.Limiter {
	if opts.RatePerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RateBurst)
}
