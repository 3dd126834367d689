package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load 加载一个或多个配置文件（对外导出）
// 后加载的文件覆盖前面的标量配置，modules按name合并
func Load(paths ...string) (*RunConfig, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("至少需要一个配置文件")
	}

	merged := &RunConfig{}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %s: %w", p, err)
		}

		var cfg RunConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %s: %w", p, err)
		}
		merged.Merge(&cfg)
	}

	merged.ApplyDefaults()
	return merged, nil
}

// Parse 从YAML内容解析配置
func Parse(data []byte) (*RunConfig, error) {
	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Dump 将配置写入文件
func Dump(cfg *RunConfig, file string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	return os.WriteFile(file, data, 0o644)
}

// Merge 将other合并到c
func (c *RunConfig) Merge(other *RunConfig) {
	if other.General.LogLevel != "" {
		c.General.LogLevel = other.General.LogLevel
	}
	if other.General.LogFormat != "" {
		c.General.LogFormat = other.General.LogFormat
	}
	if other.Cache != "" {
		c.Cache = other.Cache
	}
	if other.SysCache != "" {
		c.SysCache = other.SysCache
	}
	if other.UserCache != "" {
		c.UserCache = other.UserCache
	}
	if other.SimStartDate != 0 {
		c.SimStartDate = other.SimStartDate
	}
	if other.SimEndDate != 0 {
		c.SimEndDate = other.SimEndDate
	}

	for _, m := range other.Modules {
		if existing, ok := c.FindModule(m.Name); ok {
			*existing = m
			continue
		}
		c.Modules = append(c.Modules, m)
	}
	c.AlwaysRunModules = appendUnique(c.AlwaysRunModules, other.AlwaysRunModules...)
	c.SkipModules = appendUnique(c.SkipModules, other.SkipModules...)

	if other.Execution.Workers > 0 {
		c.Execution.Workers = other.Execution.Workers
	}
	if other.Execution.HeartbeatInterval > 0 {
		c.Execution.HeartbeatInterval = other.Execution.HeartbeatInterval
	}
	if other.Execution.LivenessTimeout > 0 {
		c.Execution.LivenessTimeout = other.Execution.LivenessTimeout
	}
	if other.Execution.CheckInterval > 0 {
		c.Execution.CheckInterval = other.Execution.CheckInterval
	}
	if other.Execution.StopTimeout > 0 {
		c.Execution.StopTimeout = other.Execution.StopTimeout
	}

	for lang, p := range other.Partitions {
		if c.Partitions == nil {
			c.Partitions = make(map[string]PartitionConfig)
		}
		c.Partitions[lang] = p
	}
	if other.Storage.Journal.Type != "" {
		c.Storage.Journal = other.Storage.Journal
	}
	if len(other.Notify.Plugins) > 0 {
		c.Notify = other.Notify
	}
}

// ExpandAlwaysRun 将--always-run参数合并到always_run_modules
// 含"*"的参数按glob匹配模块名，其余按名称原样加入
func (c *RunConfig) ExpandAlwaysRun(patterns []string) error {
	var names []string
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") {
			names = append(names, pattern)
			continue
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("非法的always-run模式 %q: %w", pattern, err)
		}
		for _, m := range c.Modules {
			if ok, _ := path.Match(pattern, m.Name); ok {
				names = append(names, m.Name)
			}
		}
	}
	c.AlwaysRunModules = appendUnique(c.AlwaysRunModules, names...)
	sort.Strings(c.AlwaysRunModules)
	return nil
}

// IsAlwaysRun 模块是否强制运行（绕过rerun缓存）
func (c *RunConfig) IsAlwaysRun(name string) bool {
	if m, ok := c.FindModule(name); ok && m.AlwaysRun {
		return true
	}
	for _, n := range c.AlwaysRunModules {
		if n == name {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
