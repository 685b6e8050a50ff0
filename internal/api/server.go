// Package api is the HTTP surface of the dashboard: account and bot
// CRUD, the connect/disconnect command facade, and the websocket
// observer endpoint. Authorization happens here; the supervisor trusts
// every bot id it receives.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/minedeck/minedeck/internal/broadcast"
	"github.com/minedeck/minedeck/internal/mail"
	"github.com/minedeck/minedeck/internal/store"
	"github.com/minedeck/minedeck/internal/supervisor"
	"github.com/minedeck/minedeck/pkg/cache"
	"github.com/minedeck/minedeck/pkg/logger"
)

const sessionTTL = 24 * time.Hour

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	store    store.Store
	sup      *supervisor.Supervisor
	bc       *broadcast.Broadcaster
	mailer   mail.Mailer
	sessions *cache.InMemoryCache[string, string] // token -> user id
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func New(st store.Store, sup *supervisor.Supervisor, bc *broadcast.Broadcaster, mailer mail.Mailer) *Server {
	return &Server{
		store:    st,
		sup:      sup,
		bc:       bc,
		mailer:   mailer,
		sessions: cache.NewInMemoryCache[string, string](sessionTTL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-origin policy is enforced by the reverse proxy in
			// front of the dashboard.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.WithField("component", "api"),
	}
}

// Router builds the gin handler tree.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.POST("/register", s.handleRegister)
	api.POST("/login", s.handleLogin)
	api.POST("/logout", s.handleLogout)
	api.GET("/verify-email", s.handleVerifyEmail)

	authed := api.Group("")
	authed.Use(s.requireAuth)
	authed.GET("/user", s.handleCurrentUser)

	bots := authed.Group("/bots")
	bots.GET("", s.handleBotsList)
	bots.POST("", s.handleBotsCreate)
	bots.GET("/:id", s.handleBotGet)
	bots.PUT("/:id", s.handleBotUpdate)
	bots.DELETE("/:id", s.handleBotDelete)
	bots.POST("/:id/connect", s.handleBotConnect)
	bots.POST("/:id/disconnect", s.handleBotDisconnect)
	bots.GET("/:id/status", s.handleBotStatus)
	bots.GET("/:id/players", s.handleBotPlayers)

	r.GET("/ws", s.requireAuth, s.handleObserverWS)

	return r
}

func writeError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"message": message})
}
