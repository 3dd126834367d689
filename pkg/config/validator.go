package config

import (
	"fmt"
)

var validStages = map[string]bool{
	"prepare":  true,
	"open":     true,
	"intraday": true,
	"eod":      true,
}

var validJournalTypes = map[string]bool{
	"sqlite":     true,
	"mysql":      true,
	"postgres":   true,
	"postgresql": true,
}

// ValidateRunConfig 校验运行配置合法性
// 只做结构校验，依赖是否可解析由scheduler在运行前校验
func ValidateRunConfig(cfg *RunConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}

	if cfg.General.LogLevel != "" {
		validLevels := map[string]bool{
			"trace": true,
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[cfg.General.LogLevel] {
			return fmt.Errorf("log_level必须是trace/debug/info/warn/error之一")
		}
	}

	if cfg.UserCache != "" && cfg.SysCache == "" {
		return fmt.Errorf("配置了user_cache时sys_cache不能为空")
	}
	if cfg.Cache == "" && cfg.SysCache == "" && cfg.UserCache == "" {
		return fmt.Errorf("缺少cache配置: cache/sys_cache/user_cache至少设置一个")
	}

	if cfg.SimStartDate != 0 && cfg.SimEndDate != 0 && cfg.SimStartDate > cfg.SimEndDate {
		return fmt.Errorf("sim_start_date(%d)不能晚于sim_end_date(%d)", cfg.SimStartDate, cfg.SimEndDate)
	}

	names := make(map[string]bool, len(cfg.Modules))
	for i, m := range cfg.Modules {
		if m.Name == "" {
			return fmt.Errorf("modules[%d].name不能为空", i)
		}
		if names[m.Name] {
			return fmt.Errorf("modules中存在重复的name: %s", m.Name)
		}
		names[m.Name] = true

		if m.Class == "" {
			return fmt.Errorf("modules[%d](%s).class不能为空", i, m.Name)
		}
		for _, s := range m.Stages {
			if !validStages[s] {
				return fmt.Errorf("modules[%d](%s).stages包含非法阶段: %s", i, m.Name, s)
			}
		}
		for _, dep := range m.Deps {
			if dep == m.Name {
				return fmt.Errorf("modules[%d](%s) 不能依赖自己", i, m.Name)
			}
		}
		if lang := m.Partition(); lang != DefaultLang {
			if _, ok := cfg.Partitions[lang]; !ok {
				return fmt.Errorf("modules[%d](%s) 的lang %s 未配置partitions执行器", i, m.Name, lang)
			}
		}
	}

	for lang, p := range cfg.Partitions {
		if len(p.Command) == 0 {
			return fmt.Errorf("partitions.%s.command不能为空", lang)
		}
	}

	if cfg.Execution.Workers < 0 {
		return fmt.Errorf("execution.workers不能为负数")
	}
	if cfg.Execution.HeartbeatInterval > 0 && cfg.Execution.LivenessTimeout > 0 &&
		cfg.Execution.LivenessTimeout <= cfg.Execution.HeartbeatInterval {
		return fmt.Errorf("execution.liveness_timeout必须大于heartbeat_interval")
	}

	if t := cfg.Storage.Journal.Type; t != "" {
		if !validJournalTypes[t] {
			return fmt.Errorf("storage.journal.type必须是sqlite/postgres/mysql之一")
		}
		if cfg.Storage.Journal.DSN == "" {
			return fmt.Errorf("storage.journal.dsn不能为空")
		}
	}

	for i, p := range cfg.Notify.Plugins {
		if p.Name == "" {
			return fmt.Errorf("notify.plugins[%d].name不能为空", i)
		}
		if len(p.Events) == 0 {
			return fmt.Errorf("notify.plugins[%d](%s).events不能为空", i, p.Name)
		}
	}

	return nil
}
