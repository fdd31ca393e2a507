package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type WatcherSuite struct {
	suite.Suite
	dir     string
	target  string
	changes chan Change
	w       *Watcher
}

func TestWatcherSuite(t *testing.T) {
	suite.Run(t, new(WatcherSuite))
}

func (s *WatcherSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.target = filepath.Join(s.dir, "settings.json")
	s.changes = make(chan Change, 16)

	w, err := New(s.target, func(c Change) { s.changes <- c })
	s.Require().NoError(err)
	w.SetDebounce(20 * time.Millisecond)
	s.Require().NoError(w.Start())
	s.w = w
}

func (s *WatcherSuite) TearDownTest() {
	s.NoError(s.w.Stop())
}

func (s *WatcherSuite) next() Change {
	select {
	case c := <-s.changes:
		return c
	case <-time.After(2 * time.Second):
		s.FailNow("no change reported")
		return Change{}
	}
}

func (s *WatcherSuite) TestCreateAndWrite() {
	s.Require().NoError(os.WriteFile(s.target, []byte(`{}`), 0o600))
	c := s.next()
	s.Equal(s.target, c.Path)
	s.False(c.Removed)
}

func (s *WatcherSuite) TestRemove() {
	s.Require().NoError(os.WriteFile(s.target, []byte(`{}`), 0o600))
	s.next()

	s.Require().NoError(os.Remove(s.target))
	s.True(s.next().Removed)
}

func (s *WatcherSuite) TestBurstIsCoalesced() {
	for i := range 5 {
		s.Require().NoError(os.WriteFile(s.target, []byte{byte('0' + i)}, 0o600))
	}
	s.next()

	select {
	case c := <-s.changes:
		s.Failf("unexpected second change", "%+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *WatcherSuite) TestOtherFilesIgnored() {
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "other.json"), []byte(`{}`), 0o600))
	select {
	case c := <-s.changes:
		s.Failf("unexpected change", "%+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "x.yaml"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
