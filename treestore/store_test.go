package treestore

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kjk/treewalk/u"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.t
	c.t = c.t.Add(c.step)
	return res
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{
		t:    time.UnixMilli(1700000000000).UTC(),
		step: step,
	}
}

func newTestStore(t *testing.T) *Store {
	s := &Store{
		DataDir: t.TempDir(),
	}
	err := OpenStore(s)
	require.NoError(t, err)
	return s
}

func TestLazyCreate(t *testing.T) {
	s := newTestStore(t)
	require.False(t, u.FileExists(s.Path()))

	// first read creates the file with just the header
	rows, err := s.ReadAll()
	require.NoError(t, err)
	require.NotNil(t, rows)
	require.Equal(t, 0, len(rows))
	require.True(t, u.FileExists(s.Path()))

	d, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.Equal(t, "id,lat,lon,species,notes,timestamp\n", string(d))
}

func TestAppendAndReadAll(t *testing.T) {
	s := newTestStore(t)
	s.Now = newFakeClock(time.Second).Now

	id, err := s.Append(52.2297, 21.0122, "oak", "planted 1920")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), id)

	id2, err := s.Append(-33.8688, 151.2093, "gum", "")
	require.NoError(t, err)
	require.Equal(t, int64(1700000001000), id2)

	rows, err := s.ReadAll()
	require.NoError(t, err)
	require.Equal(t, 2, len(rows))
	require.Equal(t, Row{
		ID:        "1700000000000",
		Lat:       "52.2297",
		Lon:       "21.0122",
		Species:   "oak",
		Notes:     "planted 1920",
		Timestamp: "1700000000",
	}, rows[0])
	require.Equal(t, "gum", rows[1].Species)
	require.Equal(t, "1700000001", rows[1].Timestamp)
}

func TestQuoting(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		species string
		notes   string
	}{
		{
			species: "gum tree, river red",
			notes:   `near "old" bridge`,
		},
		{
			species: "",
			notes:   "line1\nline2",
		},
		{
			species: "dąb szypułkowy",
			notes:   "Białowieża",
		},
	}
	for _, test := range tests {
		_, err := s.Append(1.5, -2.5, test.species, test.notes)
		require.NoError(t, err)
	}
	rows, err := s.ReadAll()
	require.NoError(t, err)
	require.Equal(t, len(tests), len(rows))
	for i, test := range tests {
		require.Equal(t, test.species, rows[i].Species)
		require.Equal(t, test.notes, rows[i].Notes)
	}
}

func TestMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	// frozen clock, every append lands on the same millisecond
	s.Now = newFakeClock(0).Now
	var prev int64
	for i := 0; i < 5; i++ {
		id, err := s.Append(1, 2, "oak", "")
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}

	// clock going backwards doesn't repeat ids either
	s.Now = func() time.Time {
		return time.UnixMilli(1600000000000)
	}
	id, err := s.Append(1, 2, "oak", "")
	require.NoError(t, err)
	require.Greater(t, id, prev)
}

func TestConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	nAppends := 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[int64]bool{}
	errs := make(chan error, nAppends)
	for i := 0; i < nAppends; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := s.Append(float64(n), -float64(n), "oak", "")
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, nAppends, len(ids))
	rows, err := s.ReadAll()
	require.NoError(t, err)
	require.Equal(t, nAppends, len(rows))
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	s := &Store{
		DataDir: dir,
		Now:     newFakeClock(0).Now,
	}
	err := OpenStore(s)
	require.NoError(t, err)
	id, err := s.Append(1, 2, "oak", "")
	require.NoError(t, err)

	// a new store over the same dir picks up the last id,
	// even with a clock stuck in the past
	s2 := &Store{
		DataDir: dir,
		Now:     newFakeClock(0).Now,
	}
	err = OpenStore(s2)
	require.NoError(t, err)
	id2, err := s2.Append(3, 4, "elm", "")
	require.NoError(t, err)
	require.Greater(t, id2, id)

	rows, err := s2.ReadAll()
	require.NoError(t, err)
	require.Equal(t, 2, len(rows))
}

func TestMalformedFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(1, 2, "oak", "")
	require.NoError(t, err)

	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not,enough,fields\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.ReadAll()
	require.Error(t, err)

	s2 := &Store{DataDir: s.DataDir}
	require.Error(t, OpenStore(s2))
}

func TestGoldenFile(t *testing.T) {
	s := newTestStore(t)
	s.Now = newFakeClock(time.Second).Now
	_, err := s.Append(52.2297, 21.0122, "oak", "")
	require.NoError(t, err)
	_, err = s.Append(-33.8688, 151.2093, "gum tree, river red", `near "old" bridge`)
	require.NoError(t, err)
	_, err = s.Append(0, -0.5, "", "line1\nline2")
	require.NoError(t, err)

	d, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "trees_csv", d)
}
