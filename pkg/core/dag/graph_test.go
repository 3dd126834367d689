package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/sim-runner/pkg/config"
)

func mods(spec ...[]string) []config.ModuleConfig {
	out := make([]config.ModuleConfig, 0, len(spec))
	for _, s := range spec {
		out = append(out, config.ModuleConfig{Name: s[0], Class: "demo", Deps: s[1:]})
	}
	return out
}

func TestBuild_LevelsAndQueries(t *testing.T) {
	g, err := Build(mods(
		[]string{"a"},
		[]string{"b", "a"},
		[]string{"c", "a"},
		[]string{"d", "b", "c", "b"},
		[]string{"e", "sys_prices"},
	))
	require.NoError(t, err)
	assert.Equal(t, 5, g.Len())

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "e"}, {"b", "c"}, {"d"}}, order.Levels)

	parents, err := g.Parents("d")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, parents)

	children, err := g.Children("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, children)

	down, err := g.Downstream("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, down)

	assert.Equal(t, []string{"a", "e"}, g.Roots())
	assert.Equal(t, map[string][]string{"e": {"sys_prices"}}, g.External())

	m, ok := g.Module("d")
	require.True(t, ok)
	assert.Equal(t, "demo", m.Class)
}

func TestBuild_DetectsCycle(t *testing.T) {
	_, err := Build(mods(
		[]string{"x", "z"},
		[]string{"y", "x"},
		[]string{"z", "y"},
		[]string{"w"},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), "x")
}

func TestBuild_DuplicateName(t *testing.T) {
	_, err := Build(mods([]string{"a"}, []string{"a"}))
	assert.Error(t, err)
}

func TestDownstream_Unknown(t *testing.T) {
	g, err := Build(mods([]string{"a"}))
	require.NoError(t, err)
	_, err = g.Downstream("nope")
	assert.Error(t, err)
}
