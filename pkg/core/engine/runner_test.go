package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/module"
	"github.com/LENAX/sim-runner/pkg/logger"
	"github.com/LENAX/sim-runner/pkg/storage"
	"github.com/LENAX/sim-runner/pkg/storage/sqlite"
)

func newRunConfig(t *testing.T, modules ...config.ModuleConfig) *config.RunConfig {
	t.Helper()
	cfg := &config.RunConfig{
		Cache:        t.TempDir(),
		SimStartDate: 20200101,
		SimEndDate:   20200131,
		Modules:      modules,
	}
	cfg.Execution.Workers = 2
	cfg.Execution.HeartbeatInterval = 20 * time.Millisecond
	cfg.Execution.LivenessTimeout = 2 * time.Second
	cfg.Execution.CheckInterval = 20 * time.Millisecond
	cfg.ApplyDefaults()
	return cfg
}

func newTestRunner(journal storage.JournalRepository) *Runner {
	return &Runner{
		Registry: module.Default,
		Journal:  journal,
		Logger:   logger.Discard(),
	}
}

func TestRunner_IncrementalRerun(t *testing.T) {
	cfg := newRunConfig(t,
		config.ModuleConfig{Name: "a", Class: "demo"},
		config.ModuleConfig{Name: "b", Class: "demo", Deps: []string{"a"}},
		config.ModuleConfig{Name: "p", Class: "demo", Deps: []string{"b"}, Post: true},
	)
	base := t.TempDir()
	r := newTestRunner(nil)

	summary, err := r.Run(context.Background(), &RunRequest{Config: cfg, BaseDir: base, InProcess: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, summary.Main)
	assert.Equal(t, []string{"p"}, summary.Post)
	assert.Equal(t, 3, summary.Progress.Completed)
	assert.Equal(t, 0, summary.Progress.Skipped)

	rerunDir := filepath.Join(cfg.Cache, module.RerunDirName)
	assert.FileExists(t, filepath.Join(rerunDir, "a.yml"))
	assert.FileExists(t, filepath.Join(rerunDir, "b.yml"))
	assert.NoFileExists(t, filepath.Join(rerunDir, "p.yml"), "post模块不写rerun记录")

	for _, f := range []string{"cfg.yml", "spec.yml", "spec.post.yml"} {
		assert.FileExists(t, filepath.Join(summary.RunDir, f))
	}
	target, err := os.Readlink(filepath.Join(base, CurrentLink))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(summary.RunDir), target)

	summary, err = r.Run(context.Background(), &RunRequest{Config: cfg, BaseDir: base, InProcess: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Progress.Skipped, "第二次运行主模块全部跳过")
	assert.Equal(t, 3, summary.Progress.Completed)
}

func TestRunner_ModuleFilterAndPostOnly(t *testing.T) {
	cfg := newRunConfig(t,
		config.ModuleConfig{Name: "a", Class: "demo"},
		config.ModuleConfig{Name: "b", Class: "demo"},
		config.ModuleConfig{Name: "p", Class: "demo", Post: true},
	)
	cfg.SkipModules = []string{"b"}
	r := newTestRunner(nil)

	summary, err := r.Run(context.Background(), &RunRequest{Config: cfg, BaseDir: t.TempDir(), InProcess: true, PostOnly: true})
	require.NoError(t, err)
	assert.Empty(t, summary.Main)
	assert.Equal(t, []string{"p"}, summary.Post)

	summary, err = r.Run(context.Background(), &RunRequest{Config: cfg, BaseDir: t.TempDir(), InProcess: true, Modules: []string{"b"}})
	require.NoError(t, err)
	assert.Empty(t, summary.Main, "skip_modules优先于-m")
	assert.Empty(t, summary.Post)
}

func TestRunner_DepsNotFound(t *testing.T) {
	cfg := newRunConfig(t,
		config.ModuleConfig{Name: "a", Class: "demo", Deps: []string{"missing"}},
	)
	r := newTestRunner(nil)
	_, err := r.Run(context.Background(), &RunRequest{Config: cfg, BaseDir: t.TempDir(), InProcess: true})
	assert.ErrorIs(t, err, ErrDepsNotFound)
}

func TestRunner_FailureRecordedInJournal(t *testing.T) {
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer repo.Close()

	cfg := newRunConfig(t,
		config.ModuleConfig{Name: "ok", Class: "demo"},
		config.ModuleConfig{Name: "bad", Class: "demo", Params: map[string]any{"fail": true}},
		config.ModuleConfig{Name: "after", Class: "demo", Deps: []string{"bad"}},
	)
	r := newTestRunner(repo)

	summary, err := r.Run(context.Background(), &RunRequest{Config: cfg, BaseDir: t.TempDir(), InProcess: true})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, []string{"bad"}, runErr.Failed)

	run, err := repo.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusFailed, run.Status)
	assert.Equal(t, []string{"bad"}, run.Failed)

	events, err := repo.ListEvents(context.Background(), summary.RunID)
	require.NoError(t, err)
	types := make(map[string]int)
	for _, ev := range events {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[string(EventRunStarted)])
	assert.Equal(t, 1, types[string(EventRunFinished)])
	assert.Equal(t, 1, types[string(EventModuleFailed)])
	assert.Equal(t, 1, types[string(EventModuleDone)])
}

func TestSelectModules(t *testing.T) {
	cfg := &config.RunConfig{
		Modules: []config.ModuleConfig{
			{Name: "a"}, {Name: "b"}, {Name: "p", Post: true}, {Name: "q", Post: true},
		},
		SkipModules: []string{"q"},
	}
	mainMods, postMods := SelectModules(cfg, nil)
	assert.Equal(t, []string{"a", "b"}, mainMods)
	assert.Equal(t, []string{"p"}, postMods)

	mainMods, postMods = SelectModules(cfg, []string{"b", "p"})
	assert.Equal(t, []string{"b"}, mainMods)
	assert.Equal(t, []string{"p"}, postMods)
}

func TestValidateOptionsFor_UserMode(t *testing.T) {
	sys := t.TempDir()
	user := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sys, module.RerunDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sys, module.RerunDirName, "base.yml"), []byte("timestamp: 1\n"), 0o644))

	cfg := &config.RunConfig{
		SysCache:  sys,
		UserCache: user,
		Modules: []config.ModuleConfig{
			{Name: "mine", Deps: []string{"base"}},
			{Name: "report", Post: true, Deps: []string{"mine"}},
		},
	}
	opts, err := ValidateOptionsFor(cfg, false)
	require.NoError(t, err)
	assert.True(t, opts.CheckSysConflict)
	assert.True(t, opts.SysModules["base"])
	assert.False(t, opts.Known["mine"])

	opts, err = ValidateOptionsFor(cfg, true)
	require.NoError(t, err)
	assert.True(t, opts.Known["mine"], "post阶段主模块视为已完成")
}

func TestPrepareRunDir(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2024, 3, 5, 9, 8, 7, 0, time.Local)

	dir, err := PrepareRunDir(base, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "run.20240305_090807"), dir)

	dir2, err := PrepareRunDir(base, now.Add(time.Hour))
	require.NoError(t, err)
	target, err := os.Readlink(filepath.Join(base, CurrentLink))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir2), target)
}
