package config

import (
	"time"
)

const (
	// DefaultLang 未指定lang的模块所属的分区（由本进程的worker池执行）
	DefaultLang = "native"
	// DefaultStage 未指定stages时模块运行的阶段
	DefaultStage = "intraday"
)

// RunConfig 已解析的运行配置（对外导出）
// 由上游配置DSL生成，本项目只负责读取
type RunConfig struct {
	General struct {
		LogLevel  string `yaml:"log_level,omitempty"`
		LogFormat string `yaml:"log_format,omitempty"`
	} `yaml:"general,omitempty"`

	Cache     string `yaml:"cache,omitempty"`      // 单一缓存目录（sys模式）
	SysCache  string `yaml:"sys_cache,omitempty"`  // 系统缓存目录
	UserCache string `yaml:"user_cache,omitempty"` // 用户缓存目录（存在时进入user模式）

	SimStartDate int `yaml:"sim_start_date,omitempty"` // YYYYMMDD
	SimEndDate   int `yaml:"sim_end_date,omitempty"`   // YYYYMMDD

	Modules          []ModuleConfig `yaml:"modules"`
	AlwaysRunModules []string       `yaml:"always_run_modules,omitempty"`
	SkipModules      []string       `yaml:"skip_modules,omitempty"`

	Execution  ExecutionConfig            `yaml:"execution,omitempty"`
	Partitions map[string]PartitionConfig `yaml:"partitions,omitempty"`
	Storage    StorageConfig              `yaml:"storage,omitempty"`
	Notify     NotifyConfig               `yaml:"notify,omitempty"`
}

// ModuleConfig 模块描述（任务描述符）
type ModuleConfig struct {
	Name         string         `yaml:"name"`
	Class        string         `yaml:"class"`
	Lang         string         `yaml:"lang,omitempty"`
	Deps         []string       `yaml:"deps,omitempty"`
	Stages       []string       `yaml:"stages,omitempty"`
	Sys          bool           `yaml:"sys,omitempty"`
	Post         bool           `yaml:"post,omitempty"`
	AlwaysRun    bool           `yaml:"always_run,omitempty"`
	ValidateDeps *bool          `yaml:"validate_deps,omitempty"`
	Params       map[string]any `yaml:"params,omitempty"`
}

// ExecutionConfig 执行相关配置
type ExecutionConfig struct {
	Workers           int           `yaml:"workers,omitempty"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
	LivenessTimeout   time.Duration `yaml:"liveness_timeout,omitempty"`
	CheckInterval     time.Duration `yaml:"check_interval,omitempty"`
	StopTimeout       time.Duration `yaml:"stop_timeout,omitempty"`
}

// PartitionConfig 非native分区的外部执行器配置
// Command中的"{batch}"会被替换为批次文件路径
type PartitionConfig struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Journal struct {
		Type string `yaml:"type,omitempty"` // sqlite/mysql/postgres，为空时不记录
		DSN  string `yaml:"dsn,omitempty"`
	} `yaml:"journal,omitempty"`
}

// NotifyConfig 运行通知配置
type NotifyConfig struct {
	Plugins []PluginConfig `yaml:"plugins,omitempty"`
}

// PluginConfig 一个通知插件及其绑定的事件
type PluginConfig struct {
	Name       string            `yaml:"name"`
	Params     map[string]string `yaml:"params,omitempty"`
	Events     []string          `yaml:"events"`
	OnlyFailed bool              `yaml:"only_failed,omitempty"`
}

// GetStages 返回模块适用的阶段，未配置时为intraday
func (m *ModuleConfig) GetStages() []string {
	if len(m.Stages) == 0 {
		return []string{DefaultStage}
	}
	return m.Stages
}

// ShouldValidateDeps 是否需要校验依赖（默认true）
func (m *ModuleConfig) ShouldValidateDeps() bool {
	return m.ValidateDeps == nil || *m.ValidateDeps
}

// Partition 返回模块所属分区
func (m *ModuleConfig) Partition() string {
	if m.Lang == "" {
		return DefaultLang
	}
	return m.Lang
}

// FindModule 按名称查找模块配置
func (c *RunConfig) FindModule(name string) (*ModuleConfig, bool) {
	for i := range c.Modules {
		if c.Modules[i].Name == name {
			return &c.Modules[i], true
		}
	}
	return nil, false
}

// ModuleDeps 返回 模块名 -> 依赖列表
func (c *RunConfig) ModuleDeps() map[string][]string {
	deps := make(map[string][]string, len(c.Modules))
	for _, m := range c.Modules {
		deps[m.Name] = append([]string(nil), m.Deps...)
	}
	return deps
}

// UserMode 是否为user模式（user_cache与sys_cache同时存在）
func (c *RunConfig) UserMode() bool {
	return c.UserCache != ""
}

// GetWorkers 获取Worker数量
func (c *RunConfig) GetWorkers() int {
	if c.Execution.Workers <= 0 {
		return 1
	}
	return c.Execution.Workers
}

// ApplyDefaults 应用默认值
func (c *RunConfig) ApplyDefaults() {
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.LogFormat == "" {
		c.General.LogFormat = "text"
	}

	if c.Execution.Workers <= 0 {
		c.Execution.Workers = 1
	}
	if c.Execution.HeartbeatInterval <= 0 {
		c.Execution.HeartbeatInterval = 1 * time.Second
	}
	if c.Execution.LivenessTimeout <= 0 {
		c.Execution.LivenessTimeout = 30 * time.Second
	}
	if c.Execution.CheckInterval <= 0 {
		c.Execution.CheckInterval = 100 * time.Millisecond
	}
	if c.Execution.StopTimeout <= 0 {
		c.Execution.StopTimeout = 5 * time.Second
	}

	if c.Storage.Journal.Type == "sqlite" && c.Storage.Journal.DSN == "" {
		c.Storage.Journal.DSN = "sim_journal.db"
	}
}
