// Package mysql 提供MySQL方言
package mysql

import (
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/LENAX/sim-runner/pkg/storage"
)

// MySQLDialect MySQL方言实现（对外导出）
type MySQLDialect struct{}

// NewMySQLDialect 创建MySQL方言实例
func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

// Name 返回方言名称
func (d *MySQLDialect) Name() string {
	return "mysql"
}

func (d *MySQLDialect) DriverName() string {
	return "mysql"
}

// NormalizeDSN 确保DSN包含parseTime=true
func (d *MySQLDialect) NormalizeDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime=true") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

// CreateTableSQL MySQL建表追加引擎与字符集
func (d *MySQLDialect) CreateTableSQL(schema string) string {
	return strings.TrimSpace(schema) + " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
}

// CreateIndexSQL MySQL不支持CREATE INDEX IF NOT EXISTS，不创建索引
func (d *MySQLDialect) CreateIndexSQL(name, table string, columns ...string) string {
	return ""
}

// ConfigureDB 返回MySQL配置SQL
func (d *MySQLDialect) ConfigureDB() []string {
	return []string{
		"SET time_zone = '+00:00';",
	}
}

// AutoIncrementKeyword 返回MySQL自增关键字
func (d *MySQLDialect) AutoIncrementKeyword() string {
	return "BIGINT PRIMARY KEY AUTO_INCREMENT"
}

// TextType 返回MySQL文本类型
func (d *MySQLDialect) TextType() string {
	return "TEXT"
}

// Open 打开MySQL运行日志
func Open(dsn string) (*storage.SQLJournalRepo, error) {
	return storage.OpenJournalRepo(NewMySQLDialect(), dsn)
}

// 确保实现接口
var _ storage.Dialect = (*MySQLDialect)(nil)
