package storage

// Dialect SQL方言接口（对外导出）
// 封装不同数据库的SQL语法差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// DriverName database/sql驱动名
	DriverName() string

	// NormalizeDSN 补全驱动需要的DSN参数
	NormalizeDSN(dsn string) string

	// CreateTableSQL 将通用DDL转换为当前数据库可执行的DDL
	CreateTableSQL(schema string) string

	// CreateIndexSQL 返回建索引语句，不支持IF NOT EXISTS的数据库返回空字符串
	CreateIndexSQL(name, table string, columns ...string) string

	// ConfigureDB 打开连接后需要执行的配置语句（如SQLite的PRAGMA）
	ConfigureDB() []string

	// AutoIncrementKeyword 自增主键
	// SQLite: INTEGER PRIMARY KEY AUTOINCREMENT
	// MySQL: BIGINT PRIMARY KEY AUTO_INCREMENT
	// PostgreSQL: BIGSERIAL PRIMARY KEY
	AutoIncrementKeyword() string

	// TextType 长文本类型
	TextType() string
}
