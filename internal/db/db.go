package db

import (
	"time"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	return connect(dsn, 10)
}

func connect(dsn string, attempts int) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < attempts; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// ConnectOnce 只尝试一次，测试用来快速判断数据库是否可用。
func ConnectOnce(dsn string) (*gorm.DB, error) {
	return connect(dsn, 1)
}

// Migrate 自动迁移用户、私信与通知表。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Message{}, &models.Notification{})
}
