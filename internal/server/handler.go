package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/auth"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/realtime"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc  *service.UserService
	msgSvc   *service.MessageService
	notifSvc *service.NotificationService
	hub      *realtime.Hub
}

func NewHandler(userSvc *service.UserService, msgSvc *service.MessageService, notifSvc *service.NotificationService, hub *realtime.Hub) *Handler {
	return &Handler{userSvc: userSvc, msgSvc: msgSvc, notifSvc: notifSvc, hub: hub}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	user, err := h.userSvc.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.userSvc.Get(auth.GetUserID(c))
	if err != nil {
		h.fail(c, err, "me")
		return
	}
	c.JSON(http.StatusOK, user)
}

// SendMessage 保存私信，correlation_id 原样回传。
func (h *Handler) SendMessage(c *gin.Context) {
	var req protocol.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.msgSvc.Send(c.Request.Context(), auth.GetUserID(c), req)
	if err != nil {
		h.fail(c, err, "send message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages 分页查询与 peer_id 的会话。
func (h *Handler) ListMessages(c *gin.Context) {
	peerID, ok := parseID(c.Query("peer_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	beforeID, _ := parseID(c.Query("before_id"))

	msgs, err := h.msgSvc.List(auth.GetUserID(c), peerID, limit, beforeID)
	if err != nil {
		h.fail(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) MarkConversationRead(c *gin.Context) {
	var req struct {
		PeerID uint `json:"peer_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PeerID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	n, err := h.msgSvc.MarkConversationRead(c.Request.Context(), auth.GetUserID(c), req.PeerID)
	if err != nil {
		h.fail(c, err, "mark conversation read")
		return
	}
	c.JSON(http.StatusOK, protocol.CountResponse{Count: n})
}

func (h *Handler) UnreadMessages(c *gin.Context) {
	n, err := h.msgSvc.UnreadCount(auth.GetUserID(c))
	if err != nil {
		h.fail(c, err, "unread messages")
		return
	}
	c.JSON(http.StatusOK, protocol.CountResponse{Count: n})
}

func (h *Handler) ListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := h.notifSvc.List(auth.GetUserID(c), limit)
	if err != nil {
		h.fail(c, err, "list notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": rows})
}

// CreateNotification 由当前用户向 user_id 发送一条通知（点赞、关注等）。
func (h *Handler) CreateNotification(c *gin.Context) {
	var req struct {
		UserID uint   `json:"user_id"`
		Kind   string `json:"kind"`
		Body   string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if _, err := h.userSvc.Get(req.UserID); err != nil {
		h.fail(c, err, "create notification")
		return
	}
	n, err := h.notifSvc.Create(c.Request.Context(), req.UserID, auth.GetUserID(c), req.Kind, req.Body)
	if err != nil {
		h.fail(c, err, "create notification")
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *Handler) MarkNotificationsRead(c *gin.Context) {
	n, err := h.notifSvc.MarkAllRead(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		h.fail(c, err, "mark notifications read")
		return
	}
	c.JSON(http.StatusOK, protocol.CountResponse{Count: n})
}

func (h *Handler) UnreadNotifications(c *gin.Context) {
	n, err := h.notifSvc.UnreadCount(auth.GetUserID(c))
	if err != nil {
		h.fail(c, err, "unread notifications")
		return
	}
	c.JSON(http.StatusOK, protocol.CountResponse{Count: n})
}

// Presence 返回 topic 当前已 track 的连接数。
func (h *Handler) Presence(c *gin.Context) {
	topic := c.Param("topic")
	c.JSON(http.StatusOK, gin.H{"topic": topic, "online": h.hub.Online(topic)})
}

// fail 把业务错误映射为 HTTP 状态码，未知错误记录日志后返回 500。
func (h *Handler) fail(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg(op)
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

func parseID(s string) (uint, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
