package server

import (
	"net/http"
	"time"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/auth"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/config"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/metrics"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/mw"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/realtime"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 realtime 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *realtime.Hub, broker realtime.Broker) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(
		service.NewUserService(db, cfg),
		service.NewMessageService(db, broker),
		service.NewNotificationService(db, broker),
		hub,
	)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))
	authed.GET("/me", h.Me)
	authed.POST("/messages", h.SendMessage)
	authed.GET("/messages", h.ListMessages)
	authed.POST("/messages/read", h.MarkConversationRead)
	authed.GET("/messages/unread_count", h.UnreadMessages)
	authed.GET("/notifications", h.ListNotifications)
	authed.POST("/notifications", h.CreateNotification)
	authed.POST("/notifications/read", h.MarkNotificationsRead)
	authed.GET("/notifications/unread_count", h.UnreadNotifications)
	authed.GET("/presence/:topic", h.Presence)

	r.GET("/realtime", realtime.Serve(hub, Authenticator(cfg, db)))
	return r
}

// Authenticator 用与 REST 相同的 JWT 校验 websocket 连接。
func Authenticator(cfg config.Config, db *gorm.DB) realtime.Authenticator {
	return func(token string) (realtime.Identity, error) {
		user, err := auth.Identify(db, cfg.JWTSecret, token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{UserID: user.ID, Username: user.Username, Avatar: user.Avatar}, nil
	}
}
