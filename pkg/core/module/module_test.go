package module

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/sim-runner/pkg/config"
)

type recordingModule struct {
	Base
	calls  []string
	runErr error
}

func (m *recordingModule) BeforeRun(ctx context.Context) error {
	m.calls = append(m.calls, "before:"+string(m.Stage))
	return nil
}

func (m *recordingModule) RunImpl(ctx context.Context) error {
	m.calls = append(m.calls, "run:"+string(m.Stage))
	return m.runErr
}

func (m *recordingModule) AfterRun(ctx context.Context) error {
	m.calls = append(m.calls, "after:"+string(m.Stage))
	return nil
}

func TestRun_HookOrder(t *testing.T) {
	m := &recordingModule{Base: NewBase("a", &config.ModuleConfig{Name: "a"}, nil)}
	m.SetStage(StageEOD)

	require.NoError(t, Run(context.Background(), m))
	assert.Equal(t, []string{"before:eod", "run:eod", "after:eod"}, m.calls)
}

func TestRun_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	m := &recordingModule{Base: NewBase("a", nil, nil), runErr: boom}

	err := Run(context.Background(), m)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"before:intraday", "run:intraday"}, m.calls)
}

func TestStageParsing(t *testing.T) {
	st, err := ParseStage(" EOD ")
	require.NoError(t, err)
	assert.Equal(t, StageEOD, st)

	_, err = ParseStage("close")
	assert.Error(t, err)

	all, err := ParseStageOption("all")
	require.NoError(t, err)
	assert.Equal(t, AllStages, all)

	one, err := ParseStageOption("open")
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageOpen}, one)
}

func TestIntersectStages(t *testing.T) {
	got := IntersectStages([]string{"eod", "prepare", "bogus"}, AllStages)
	assert.Equal(t, []Stage{StageEOD, StagePrepare}, got)

	assert.Empty(t, IntersectStages([]string{"intraday"}, []Stage{StageOpen}))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("demo", NewDemoModule))
	assert.Error(t, r.Register("demo", NewDemoModule), "重复注册应报错")
	assert.Error(t, r.Register("", NewDemoModule))

	m, err := r.New(&config.ModuleConfig{Name: "x", Class: "demo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", m.Name())

	_, err = r.New(&config.ModuleConfig{Name: "y", Class: "missing"}, nil)
	assert.Error(t, err)

	assert.Equal(t, []string{"demo", "exec"}, Default.Classes())
}

func TestDemoModule_FailAndParams(t *testing.T) {
	cfg := &config.ModuleConfig{Name: "d", Class: "demo", Params: map[string]any{"fail": true}}
	m, err := NewDemoModule("d", cfg, nil)
	require.NoError(t, err)
	assert.Error(t, Run(context.Background(), m))

	_, err = NewDemoModule("d", &config.ModuleConfig{Params: map[string]any{"sleep": "abc"}}, nil)
	assert.Error(t, err)
}

func TestExecModule_Environ(t *testing.T) {
	dir := t.TempDir()
	dd, err := NewDataDirectory(dir, "")
	require.NoError(t, err)
	env := &Env{Dir: dd, StartDate: 20200101, EndDate: 20200131}

	cfg := &config.ModuleConfig{Name: "e", Class: "exec", Params: map[string]any{"command": []any{"true"}}}
	m, err := NewExecModule("e", cfg, env)
	require.NoError(t, err)
	em := m.(*ExecModule)
	em.SetStage(StageOpen)

	vars := em.Environ()
	assert.Contains(t, vars, "SIM_MODULE=e")
	assert.Contains(t, vars, "SIM_STAGE=open")
	assert.Contains(t, vars, "SIM_START_DATE=20200101")
	assert.Contains(t, vars, "SIM_SYS_CACHE="+dir)

	_, err = NewExecModule("e", &config.ModuleConfig{Name: "e"}, env)
	assert.Error(t, err)
}

func TestDataDirectory_ReadFallsBackToSys(t *testing.T) {
	user := filepath.Join(t.TempDir(), "user")
	sys := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sys, "prices"), 0o755))

	dd, err := NewDataDirectory(user, sys)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(sys, "prices"), dd.ReadPath("prices", ""))
	assert.Equal(t, filepath.Join(user, "signals", "x"), dd.ReadPath("signals", "x"))
	assert.Equal(t, filepath.Join(user, "prices", "close"), dd.WritePath("prices", "close"))

	require.NoError(t, os.MkdirAll(filepath.Join(user, "prices"), 0o755))
	assert.Equal(t, filepath.Join(user, "prices"), dd.ReadPath("prices", ""))
}

func TestNewEnv_Modes(t *testing.T) {
	sys := t.TempDir()
	user := t.TempDir()

	env, err := NewEnv(&config.RunConfig{SysCache: sys, UserCache: user})
	require.NoError(t, err)
	assert.True(t, env.UserMode)
	assert.Equal(t, filepath.Join(user, RerunDirName), env.RerunDir())

	env, err = NewEnv(&config.RunConfig{Cache: sys})
	require.NoError(t, err)
	assert.False(t, env.UserMode)
	assert.Equal(t, filepath.Join(sys, RerunDirName), env.RerunDir())

	_, err = NewEnv(&config.RunConfig{UserCache: user})
	assert.Error(t, err)
	_, err = NewEnv(&config.RunConfig{})
	assert.Error(t, err)
}
