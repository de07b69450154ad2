package http

import (
	stdhttp "net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/auth"
	"github.com/vovakirdan/roomfeed/internal/chat"
	"github.com/vovakirdan/roomfeed/internal/config"
	"github.com/vovakirdan/roomfeed/internal/feed"
	"github.com/vovakirdan/roomfeed/internal/gif"
	"github.com/vovakirdan/roomfeed/internal/push"
)

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Auth   *auth.Service
	Chat   *chat.Service
	Push   *push.Dispatcher
	GIFs   gif.Searcher
	Stream feed.ChangeStream
}

// NewServer builds an HTTP server with the REST API, the feed socket and media files.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	handler, stop := NewRouter(deps, cfg, logger)
	srv := &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	srv.RegisterOnShutdown(stop)
	return srv
}

// NewRouter builds the gin engine. stop releases background work started for it.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) (*gin.Engine, func()) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	r.GET("/health", healthHandler)
	if cfg.MediaDir != "" {
		r.Static("/media", cfg.MediaDir)
	}

	authHandlers := NewAPIHandlers(deps.Auth, logger)
	userHandlers := NewUserHandlers(deps.Chat, logger)
	roomHandlers := NewRoomHandlers(deps.Chat, logger)
	messageHandlers := NewMessageHandlers(deps.Chat, logger)
	miscHandlers := NewMiscHandlers(deps.GIFs, deps.Push, logger)

	limiter := newRateLimiter(cfg.RateLimitPerMinute)
	stopCh := make(chan struct{})
	limiter.startReset(stopCh)

	api := r.Group("/api")
	api.POST("/signup", authHandlers.SignUp)
	api.POST("/signin", authHandlers.SignIn)

	authed := api.Group("")
	authed.Use(AuthMiddleware(deps.Auth, logger))

	authed.GET("/me", userHandlers.Me)
	authed.PUT("/me", userHandlers.UpdateMe)
	authed.POST("/me/avatar", userHandlers.UploadAvatar)
	authed.GET("/users", userHandlers.ListUsers)
	authed.GET("/users/:uid", userHandlers.GetUser)

	authed.GET("/blocks", userHandlers.ListBlocks)
	authed.POST("/blocks/:uid", userHandlers.Block)
	authed.DELETE("/blocks/:uid", userHandlers.Unblock)

	authed.GET("/groups", roomHandlers.ListGroups)
	authed.POST("/groups", roomHandlers.CreateGroup)
	authed.GET("/groups/:id", roomHandlers.GetGroup)
	authed.POST("/groups/:id/members", roomHandlers.AddMembers)
	authed.DELETE("/rooms/:room/messages", roomHandlers.ClearRoom)

	writes := authed.Group("")
	writes.Use(RateLimitMiddleware(limiter))
	writes.POST("/messages", messageHandlers.Send)
	writes.POST("/messages/image", messageHandlers.SendImage)
	authed.DELETE("/messages/:id", messageHandlers.Delete)

	authed.GET("/gifs", miscHandlers.SearchGIFs)
	authed.POST("/devices", miscHandlers.RegisterDevice)
	authed.DELETE("/devices/:token", miscHandlers.UnregisterDevice)

	r.GET("/ws", gin.WrapH(NewWSHandler(deps.Stream, deps.Auth, logger)))

	var once sync.Once
	return r, func() { once.Do(func() { close(stopCh) }) }
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
