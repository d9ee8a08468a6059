package signal

import (
	"time"

	"github.com/dkeye/jamroom/internal/app"
	"github.com/dkeye/jamroom/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump owns the disconnect: whatever ends the loop, OnDisconnect runs once.
func (ctl *SignalWSController) readPump(sess *app.Session, c *WsSignalConn) {
	logger := log.With().Str("module", "signal").Str("room", string(sess.Room)).Str("participant", string(sess.Participant.ID)).Logger()
	defer func() {
		logger.Info().Msg("readPump closing")
		ctl.Life.OnDisconnect(sess)
	}()

	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	})
	lim := newLimiter(ctl.Opts)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		if !lim.Allow() {
			ctl.Metrics.Drop(metrics.ReasonRateLimited)
			logger.Warn().Msg("rate limit hit, closing")
			ctl.closeWith(c, websocket.ClosePolicyViolation, "rate limit")
			return
		}
		ctl.Life.OnMessage(sess, data)
	}
}
