package service

import (
	"errors"
	"fmt"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/auth"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/config"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/models"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"

	"gorm.io/gorm"
)

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

// Register 注册新用户。
func (s *UserService) Register(username, password string) (*protocol.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := models.User{Username: username, PasswordHash: hash}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return toUser(user), nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken string         `json:"access_token"`
	User        *protocol.User `json:"user"`
}

// Login 校验用户名密码并签发 access token。
func (s *UserService) Login(username, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &LoginResult{AccessToken: at, User: toUser(user)}, nil
}

// Get 按 id 查询用户公开资料。
func (s *UserService) Get(id uint) (*protocol.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toUser(user), nil
}

func toUser(u models.User) *protocol.User {
	return &protocol.User{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}
