package module

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/LENAX/sim-runner/pkg/config"
)

// RerunDirName 每个缓存根目录下存放rerun记录的子目录
const RerunDirName = "_rerun"

// Env 模块共享的运行环境（对外导出）
type Env struct {
	Dir       *DataDirectory
	UserMode  bool
	Live      bool
	Prod      bool
	StartDate int
	EndDate   int
}

// NewEnv 根据运行配置创建Env
// user_cache存在时为user模式：读优先user目录，写入user目录，系统模块在该模式下跳过
func NewEnv(cfg *config.RunConfig) (*Env, error) {
	env := &Env{StartDate: cfg.SimStartDate, EndDate: cfg.SimEndDate}

	var err error
	switch {
	case cfg.UserCache != "":
		if cfg.SysCache == "" {
			return nil, fmt.Errorf("sys_cache missing")
		}
		env.Dir, err = NewDataDirectory(cfg.UserCache, cfg.SysCache)
		env.UserMode = true
	case cfg.Cache != "":
		env.Dir, err = NewDataDirectory(cfg.Cache, "")
	case cfg.SysCache != "":
		env.Dir, err = NewDataDirectory(cfg.SysCache, "")
	default:
		return nil, fmt.Errorf("cache config missing")
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

// RerunDir 本次运行rerun记录所在目录
func (e *Env) RerunDir() string {
	if e.UserMode {
		return filepath.Join(e.Dir.UserDir, RerunDirName)
	}
	return filepath.Join(e.Dir.SysDir, RerunDirName)
}

// DataDirectory 缓存目录的读写路径解析
// 读：user目录存在则用user，否则回落到sys；写：总是user目录
type DataDirectory struct {
	UserDir string
	SysDir  string
}

// NewDataDirectory 创建DataDirectory，sysDir为空时与userDir相同
func NewDataDirectory(userDir, sysDir string) (*DataDirectory, error) {
	if sysDir == "" {
		sysDir = userDir
	}
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}
	return &DataDirectory{UserDir: userDir, SysDir: sysDir}, nil
}

// ReadPath 返回模块数据的读取路径
func (d *DataDirectory) ReadPath(mod, data string) string {
	userPath := joinData(d.UserDir, mod, data)
	if exists(userPath) {
		return userPath
	}
	sysPath := joinData(d.SysDir, mod, data)
	if exists(sysPath) || exists(sysPath+".meta") || exists(sysPath+".id") {
		return sysPath
	}
	return userPath
}

// WritePath 返回模块数据的写入路径
func (d *DataDirectory) WritePath(mod, data string) string {
	return joinData(d.UserDir, mod, data)
}

func joinData(root, mod, data string) string {
	if data == "" {
		return filepath.Join(root, mod)
	}
	return filepath.Join(root, mod, data)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
