package http

import (
	"context"
	"net/http"

	"github.com/dkeye/jamroom/internal/adapters/signal"
	"github.com/dkeye/jamroom/internal/app"
	"github.com/dkeye/jamroom/internal/config"
	"github.com/dkeye/jamroom/internal/core"
	"github.com/dkeye/jamroom/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// ClientTokenMiddleware pins a stable client token in the session cookie.
// It becomes the participant's userId.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

type Deps struct {
	Config   *config.Config
	Registry *core.Registry
	Life     *app.Lifecycle
	Signal   *signal.SignalWSController
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, d Deps) *gin.Engine {
	cfg := d.Config
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("JamSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	if d.Gatherer != nil && cfg.MetricsPath != "" {
		r.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c)
	})

	rtc := cfg.WebRTC()
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, rtc)
	})

	rooms := api.Group("/rooms")
	rooms.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": d.Registry.Rooms()})
	})
	rooms.GET("/:room/participants", func(c *gin.Context) {
		room := domain.RoomID(c.Param("room"))
		if !d.Registry.RoomExists(room) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": room, "participants": d.Life.Snapshot(room)})
	})
	rooms.DELETE("/:room/participants/:participant", func(c *gin.Context) {
		room := domain.RoomID(c.Param("room"))
		pid := domain.ParticipantID(c.Param("participant"))
		if !d.Life.Kick(room, pid) {
			c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("room", string(room)).Str("participant", string(pid)).Msg("kick via api")
		c.Status(http.StatusNoContent)
	})

	return r
}
