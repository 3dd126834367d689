package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/module"
	"github.com/LENAX/sim-runner/pkg/logger"
)

func newSpec(t *testing.T, modules ...config.ModuleConfig) *Spec {
	t.Helper()
	cfg := &config.RunConfig{
		Cache:        t.TempDir(),
		SimStartDate: 20200101,
		SimEndDate:   20200630,
		Modules:      modules,
	}
	cfg.ApplyDefaults()
	return &Spec{Config: cfg, Options: RunOptions{Stages: module.AllStages}}
}

func newRunner(t *testing.T, spec *Spec) *ModuleRunner {
	t.Helper()
	r, err := NewModuleRunner(spec, module.Default, logger.Discard())
	require.NoError(t, err)
	return r
}

func TestModuleRunner_RunsThenSkips(t *testing.T) {
	spec := newSpec(t, config.ModuleConfig{Name: "a", Class: "demo"})
	r := newRunner(t, spec)

	skipped, err := r.Run(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, skipped)

	rec := r.Cache.Get("a")
	assert.Equal(t, 20200101, rec.StartDate)
	assert.Equal(t, 20200630, rec.EndDate)
	assert.NotZero(t, rec.Timestamp)

	skipped, err = r.Run(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, skipped, "窗口未变化应跳过")

	// 新的进程读取同一目录
	r2 := newRunner(t, spec)
	skipped, err = r2.Run(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, skipped)
}

func TestModuleRunner_AlwaysRunAndPost(t *testing.T) {
	spec := newSpec(t,
		config.ModuleConfig{Name: "a", Class: "demo"},
		config.ModuleConfig{Name: "p", Class: "demo", Post: true},
	)
	spec.Config.AlwaysRunModules = []string{"a"}
	r := newRunner(t, spec)

	for i := 0; i < 2; i++ {
		skipped, err := r.Run(context.Background(), "a")
		require.NoError(t, err)
		assert.False(t, skipped, "always_run模块不跳过")
	}

	spec.Options.Post = true
	rp := newRunner(t, spec)
	skipped, err := rp.Run(context.Background(), "p")
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.False(t, rp.Cache.Store().Exists("p"), "post运行不写rerun记录")
}

func TestModuleRunner_StageMismatchSkips(t *testing.T) {
	spec := newSpec(t, config.ModuleConfig{Name: "a", Class: "demo", Stages: []string{"eod"}})
	spec.Options.Stages = []module.Stage{module.StageOpen}
	r := newRunner(t, spec)

	skipped, err := r.Run(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.False(t, r.Cache.Store().Exists("a"))
}

func TestModuleRunner_UserModeSkipsSysModules(t *testing.T) {
	sys := t.TempDir()
	user := t.TempDir()
	cfg := &config.RunConfig{
		SysCache:  sys,
		UserCache: user,
		Modules: []config.ModuleConfig{
			{Name: "prices", Class: "demo", Sys: true},
			{Name: "signal", Class: "demo", Deps: []string{"prices"}},
		},
	}
	cfg.ApplyDefaults()
	r := newRunner(t, &Spec{Config: cfg, Options: RunOptions{Stages: module.AllStages}})

	skipped, err := r.Run(context.Background(), "prices")
	require.NoError(t, err)
	assert.True(t, skipped)

	skipped, err = r.Run(context.Background(), "signal")
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.FileExists(t, filepath.Join(user, module.RerunDirName, "signal.yml"))
}

func TestModuleRunner_FailureLeavesNoRecord(t *testing.T) {
	spec := newSpec(t, config.ModuleConfig{Name: "a", Class: "demo"})
	r := newRunner(t, spec)
	_, err := r.Run(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, r.Cache.Store().Exists("a"))

	// 窗口延后并让模块失败：旧记录在运行前被删除
	spec.Config.SimEndDate = 20201231
	spec.Config.Modules[0].Params = map[string]any{"fail": true}
	r2 := newRunner(t, spec)
	_, err = r2.Run(context.Background(), "a")
	require.Error(t, err)
	assert.False(t, r2.Cache.Store().Exists("a"))
}

func TestModuleRunner_UnknownModuleAndClass(t *testing.T) {
	spec := newSpec(t, config.ModuleConfig{Name: "a", Class: "nope"})
	r := newRunner(t, spec)

	_, err := r.Run(context.Background(), "missing")
	assert.Error(t, err)
	_, err = r.Run(context.Background(), "a")
	assert.Error(t, err)
}

func TestSpec_WriteRead(t *testing.T) {
	spec := newSpec(t, config.ModuleConfig{Name: "a", Class: "demo", Deps: []string{"x"}})
	spec.Options.Live = true
	path := filepath.Join(t.TempDir(), "run", "worker.yml")

	require.NoError(t, WriteSpec(path, spec))
	got, err := ReadSpec(path)
	require.NoError(t, err)
	assert.Equal(t, spec.Options, got.Options)
	assert.Equal(t, spec.Config.Modules, got.Config.Modules)
	assert.Equal(t, spec.Config.Execution, got.Config.Execution)

}
