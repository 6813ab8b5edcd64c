package setup

import (
	"fmt"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MigrateDB 执行所有数据库迁移。房间数据在 Redis 中，MySQL 只保存用户。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := migrateUsersTable(db); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}

// migrateUsersTable 表不存在时用显式 SQL 创建（控制索引列长度），已存在时交给 AutoMigrate 补齐新列
func migrateUsersTable(db *gorm.DB) error {
	if !db.Migrator().HasTable(&domain.User{}) {
		return createUsersTable(db)
	}
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		return fmt.Errorf("failed to auto-migrate users table: %w", err)
	}
	logrus.Info("Users table schema checked/updated successfully")
	return nil
}

func createUsersTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(191) NOT NULL,
		password TEXT NOT NULL,
		email VARCHAR(191),
		display_name VARCHAR(191),
		photo_url TEXT,
		role VARCHAR(32) NOT NULL DEFAULT 'member',
		created_at DATETIME(3),
		updated_at DATETIME(3),
		UNIQUE INDEX idx_username (username),
		UNIQUE INDEX idx_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;
	`
	if err := db.Exec(sql).Error; err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	logrus.Info("Users table created successfully")
	return nil
}
