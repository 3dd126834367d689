package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/sim-runner/pkg/cli/output"
	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/engine"
	"github.com/LENAX/sim-runner/pkg/core/module"
)

const testConfig = `
cache: %CACHE%
sim_start_date: 20200101
sim_end_date: 20200131
execution:
  workers: 2
  heartbeat_interval: 20ms
  liveness_timeout: 2s
  check_interval: 20ms
modules:
  - name: prices
    class: demo
  - name: alpha
    class: demo
    deps: [prices]
  - name: beta
    class: demo
    deps: [prices]
  - name: combo
    class: demo
    deps: [alpha, beta]
  - name: report
    class: demo
    deps: [combo]
    post: true
`

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache")
	content := bytes.ReplaceAll([]byte(testConfig), []byte("%CACHE%"), []byte(cache))
	file := filepath.Join(dir, "cfg.yml")
	require.NoError(t, os.WriteFile(file, content, 0o644))
	return file, cache
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	color.NoColor = true
	buf := &bytes.Buffer{}
	old := output.Out
	output.Out = buf
	t.Cleanup(func() { output.Out = old })
	return buf
}

func loadTestConfig(t *testing.T) *config.RunConfig {
	t.Helper()
	file, _ := writeConfig(t)
	cfg, err := (&configFlags{files: []string{file}}).load()
	require.NoError(t, err)
	return cfg
}

func TestConfigFlags_Overrides(t *testing.T) {
	file, _ := writeConfig(t)
	cfg, err := (&configFlags{files: []string{file}, startDate: 20200105, endDate: 20200110}).load()
	require.NoError(t, err)
	assert.Equal(t, 20200105, cfg.SimStartDate)
	assert.Equal(t, 20200110, cfg.SimEndDate)

	_, err = (&configFlags{files: []string{file}, startDate: 20200201}).load()
	assert.Error(t, err, "开始日期晚于结束日期")
}

func TestBuildPlan(t *testing.T) {
	cfg := loadTestConfig(t)

	items, err := BuildPlan(cfg, nil, false)
	require.NoError(t, err)
	require.Len(t, items, 4)
	levels := map[string]int{}
	for _, it := range items {
		levels[it.Module] = it.Level
		assert.False(t, it.UpToDate)
		assert.Equal(t, config.DefaultLang, it.Lang)
	}
	assert.Equal(t, map[string]int{"prices": 0, "alpha": 1, "beta": 1, "combo": 2}, levels)

	items, err = BuildPlan(cfg, []string{"alpha", "combo"}, false)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "alpha", items[0].Module)
	assert.Equal(t, []string{"prices"}, items[0].External)
	assert.Equal(t, []string{"alpha"}, items[1].Deps)
	assert.Equal(t, []string{"beta"}, items[1].External)

	items, err = BuildPlan(cfg, nil, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "report", items[0].Module)
}

func TestCacheHelpers(t *testing.T) {
	cfg := loadTestConfig(t)
	cache, err := openCache(cfg)
	require.NoError(t, err)

	for _, n := range []string{"prices", "alpha", "beta", "combo"} {
		_, err := cache.RecordRun(n)
		require.NoError(t, err)
	}
	assert.FileExists(t, filepath.Join(cfg.Cache, module.RerunDirName, "alpha.yml"))

	entries, err := ListCache(cache.Store())
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "alpha", entries[0].Module)
	assert.Equal(t, 20200101, entries[0].StartDate)

	items, err := BuildPlan(cfg, nil, false)
	require.NoError(t, err)
	for _, it := range items {
		assert.True(t, it.UpToDate, it.Module)
	}

	names, err := WithDownstream(cfg, []string{"alpha"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "combo", "report"}, names)

	_, err = WithDownstream(cfg, []string{"missing"})
	assert.Error(t, err)

	require.NoError(t, ClearCache(cache, names))
	entries, err = ListCache(cache.Store())
	require.NoError(t, err)
	got := []string{}
	for _, e := range entries {
		got = append(got, e.Module)
	}
	assert.Equal(t, []string{"beta", "prices"}, got)
}

func TestOpenLogFile(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "run.20200101_000000")
	require.NoError(t, os.MkdirAll(runDir, 0o755))

	f, err := openLogFile("no", runDir)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = openLogFile("", runDir)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.FileExists(t, filepath.Join(runDir, LogFileName))

	logDir := filepath.Join(t.TempDir(), "logs")
	f, err = openLogFile(logDir, runDir)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.FileExists(t, filepath.Join(logDir, "run.20200101_000000.log"))
}

func TestRunCommand_InProcess(t *testing.T) {
	file, cache := writeConfig(t)
	runDir := t.TempDir()
	buf := captureOutput(t)

	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"run", "--cfg", file, "--in-process", "--run-dir", runDir, "--json"})
	defer func() {
		outputJSON = false
		rootCmd.SetArgs(nil)
	}()
	require.NoError(t, rootCmd.Execute(), stderr.String())

	var res struct {
		RunDir   string          `json:"run_dir"`
		Main     []string        `json:"main"`
		Post     []string        `json:"post"`
		Progress engine.Progress `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, []string{"prices", "alpha", "beta", "combo"}, res.Main)
	assert.Equal(t, []string{"report"}, res.Post)
	assert.Equal(t, 5, res.Progress.Completed)
	assert.Equal(t, 0, res.Progress.Failed)

	assert.FileExists(t, filepath.Join(res.RunDir, LogFileName))
	assert.FileExists(t, filepath.Join(cache, module.RerunDirName, "combo.yml"))
	assert.NotEmpty(t, stderr.String(), "日志同时写入stderr")
}

func TestVersionCommand(t *testing.T) {
	buf := captureOutput(t)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), Version)
}
