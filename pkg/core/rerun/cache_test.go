package rerun

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestCanSkip_DependencyNewer(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("m", Record{Timestamp: 1000, StartDate: 20200101, EndDate: 20200630}))
	require.NoError(t, store.Save("d", Record{Timestamp: 2000, StartDate: 20200101, EndDate: 20200630}))

	c := NewCache(store)
	c.SetDates(20200101, 20200630)
	assert.False(t, c.CanSkip("m", []string{"d"}), "依赖比自身新时必须重跑")
}

func TestCanSkip_SubsetRange(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("m", Record{Timestamp: 2000, StartDate: 20200101, EndDate: 20200630}))
	require.NoError(t, store.Save("d", Record{Timestamp: 1000, StartDate: 20200101, EndDate: 20200630}))

	c := NewCache(store)
	c.SetDates(20200101, 20200331)
	assert.True(t, c.CanSkip("m", []string{"d"}))
}

func TestCanSkipRange_Rules(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("m", Record{Timestamp: 2000, StartDate: 20200101, EndDate: 20200630}))
	c := NewCache(store)

	tests := []struct {
		name       string
		start, end int
		want       bool
	}{
		{"相同窗口", 20200101, 20200630, true},
		{"结束日期更早", 20200101, 20200301, true},
		{"结束日期延后", 20200101, 20200701, false},
		{"开始日期不同", 20200102, 20200301, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.CanSkipRange("m", nil, tt.start, tt.end))
		})
	}

	assert.False(t, c.CanSkipRange("unknown", nil, 20200101, 20200630), "没有记录不能跳过")
	assert.True(t, c.CanSkipRange("m", []string{"never_ran"}, 20200101, 20200630), "依赖没有记录视为时间戳0")
}

func TestRecordBeforeRun_DisablesSkip(t *testing.T) {
	store := NewMemoryStore()
	c := NewCache(store, WithClock(fixedClock(5000)))
	c.SetDates(20200101, 20200630)

	rec, err := c.RecordRun("m")
	require.NoError(t, err)
	assert.Equal(t, Record{Timestamp: 5000, StartDate: 20200101, EndDate: 20200630}, rec)
	assert.True(t, c.CanSkip("m", nil))

	require.NoError(t, c.RecordBeforeRun("m"))
	assert.False(t, c.CanSkip("m", nil))
	assert.False(t, store.Exists("m"))
	assert.True(t, c.Get("m").IsZero())
}

func TestCanSkip_SeesRecordsWrittenElsewhere(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewFileStore(dir)
	require.NoError(t, err)
	s2, err := NewFileStore(dir)
	require.NoError(t, err)

	c1 := NewCache(s1, WithClock(fixedClock(1000)))
	c1.SetDates(20200101, 20200630)
	_, err = c1.RecordRun("m")
	require.NoError(t, err)
	_, err = c1.RecordRun("d")
	require.NoError(t, err)
	assert.True(t, c1.CanSkip("m", []string{"d"}))

	// 另一个worker重跑了d
	c2 := NewCache(s2, WithClock(fixedClock(3000)))
	c2.SetDates(20200101, 20200630)
	_, err = c2.RecordRun("d")
	require.NoError(t, err)

	assert.False(t, c1.CanSkip("m", []string{"d"}))
}

func TestGet_Memoized(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("m", Record{Timestamp: 1}))
	c := NewCache(store)

	assert.Equal(t, int64(1), c.Get("m").Timestamp)
	require.NoError(t, store.Save("m", Record{Timestamp: 2}))
	assert.Equal(t, int64(1), c.Get("m").Timestamp)

	c.Forget("m")
	assert.Equal(t, int64(2), c.Get("m").Timestamp)
}

func TestFallbackStore(t *testing.T) {
	user := NewMemoryStore()
	sys := NewMemoryStore()
	require.NoError(t, sys.Save("prices", Record{Timestamp: 9000}))
	require.NoError(t, user.Save("signal", Record{Timestamp: 5000, StartDate: 1, EndDate: 2}))

	c := NewCache(user, WithFallback(sys))
	assert.Equal(t, int64(9000), c.Get("prices").Timestamp)
	assert.False(t, c.CanSkipRange("signal", []string{"prices"}, 1, 2))
}

func TestFileStore_RoundTripAndList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "_rerun")
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, ok, err := s.Load("a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save("b", Record{Timestamp: 2, StartDate: 20200101, EndDate: 20200131}))
	require.NoError(t, s.Save("a", Record{Timestamp: 1}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	rec, ok, err := s.Load("b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20200131, rec.EndDate)

	data, err := os.ReadFile(s.Path("b"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "start_date: 20200101")

	require.NoError(t, s.Delete("b"))
	require.NoError(t, s.Delete("b"))
	assert.False(t, s.Exists("b"))
}

func TestFileStore_CorruptRecordTreatedAsMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("m"), []byte("timestamp: [oops"), 0o644))

	_, _, err = s.Load("m")
	assert.Error(t, err)

	c := NewCache(s)
	assert.True(t, c.Get("m").IsZero())
}
