// Package storage 按配置创建运行日志存储（内部使用）
package storage

import (
	"fmt"

	"github.com/LENAX/sim-runner/pkg/storage"
	"github.com/LENAX/sim-runner/pkg/storage/mysql"
	"github.com/LENAX/sim-runner/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/sim-runner/pkg/storage/sqlite"
)

// NewJournalRepo 创建运行日志Repository（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres），为空时返回nil表示不记录
// dsn: 数据库连接字符串
func NewJournalRepo(dbType, dsn string) (storage.JournalRepository, error) {
	switch dbType {
	case "":
		return nil, nil
	case "sqlite":
		repo, err := pkgsqlite.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("create sqlite repository failed: %w", err)
		}
		return repo, nil
	case "mysql":
		repo, err := mysql.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("create mysql repository failed: %w", err)
		}
		return repo, nil
	case "postgres", "postgresql":
		repo, err := postgres.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("create postgres repository failed: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
