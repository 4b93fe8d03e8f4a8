package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"iorelay/internal/auth"
	"iorelay/internal/chat"
	"iorelay/internal/config"
	"iorelay/internal/engineio"
	"iorelay/internal/handler"
	"iorelay/internal/messaging"
	"iorelay/internal/middleware"
	"iorelay/internal/store"
)

type Deps struct {
	Store       *store.Store
	TokenConfig auth.TokenConfig
	RealtimeCfg config.Config
	Logger      logrus.FieldLogger
	// Registry is where engineio/messaging metrics register themselves;
	// nil is fine in tests that build routers repeatedly (metrics are
	// still usable, just invisible to scraping).
	Registry prometheus.Registerer
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Welcome to Happy Server!")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	authRequestLimiter := middleware.NewRateLimiter(10, time.Minute)
	authHandler := &handler.AuthHandler{Store: deps.Store, TokenConfig: deps.TokenConfig, AuthRequestLimiter: authRequestLimiter}

	r.POST("/v1/auth", authHandler.Auth)
	r.POST("/v1/auth/request", authHandler.Request)
	r.POST("/v1/auth/account/request", authHandler.Request)
	r.GET("/v1/auth/request/status", authHandler.RequestStatus)

	versionHandler := &handler.VersionHandler{}
	r.POST("/v1/version", versionHandler.Check)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))
	protected.POST("/auth/response", authHandler.Response)
	protected.POST("/auth/account/response", authHandler.Response)

	accountHandler := &handler.AccountHandler{Store: deps.Store}
	protected.GET("/account/profile", accountHandler.Profile)
	protected.GET("/account/settings", accountHandler.Settings)
	protected.POST("/account/settings", accountHandler.UpdateSettings)

	sessionHandler := &handler.SessionHandler{Store: deps.Store}
	protected.GET("/sessions", sessionHandler.List)
	protected.POST("/sessions", sessionHandler.GetOrCreate)
	protected.DELETE("/sessions/:id", sessionHandler.Delete)
	protected.GET("/sessions/:id/messages", sessionHandler.Messages)

	machineHandler := &handler.MachineHandler{Store: deps.Store}
	protected.GET("/machines", machineHandler.List)
	protected.POST("/machines", machineHandler.Upsert)

	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	realtimeCfg := deps.RealtimeCfg
	engineCfg := engineio.DefaultServerConfig()
	if realtimeCfg.Resource != "" {
		engineCfg.Resource = realtimeCfg.Resource
	}
	if len(realtimeCfg.Transports) > 0 {
		engineCfg.Transports = realtimeCfg.TransportSet()
	}
	if realtimeCfg.PingInterval > 0 {
		engineCfg.PingInterval = realtimeCfg.PingInterval
	}
	if realtimeCfg.PingTimeout > 0 {
		engineCfg.PingTimeout = realtimeCfg.PingTimeout
	}
	if realtimeCfg.UpgradeTimeout > 0 {
		engineCfg.UpgradeTimeout = realtimeCfg.UpgradeTimeout
	}

	engineMetrics := engineio.NewMetrics(deps.Registry)
	msgMetrics := messaging.NewMetrics(deps.Registry)

	msgServer := messaging.NewServer(logger, msgMetrics)
	chat.Register(msgServer, chat.Deps{Store: deps.Store, Logger: logger})

	engineServer := engineio.NewServer(engineCfg, logger, engineMetrics, msgServer.OnEngineOpen)
	engineServer.SetHandshakeHook(func(req *http.Request) (map[string]any, error) {
		tokenString := req.URL.Query().Get("token")
		if tokenString == "" {
			return nil, errMissingToken
		}
		claims, err := auth.VerifyToken(tokenString, deps.TokenConfig)
		if err != nil {
			return nil, err
		}
		return map[string]any{"userID": claims.UserID}, nil
	})

	resource := "/" + engineCfg.Resource
	r.Any(resource, gin.WrapH(engineServer))
	r.Any(resource+"/*any", gin.WrapH(engineServer))

	return r
}

var errMissingToken = errors.New("missing token")
