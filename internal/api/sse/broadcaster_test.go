package sse

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// mockResponseWriter implements http.ResponseWriter and http.Flusher for testing.
type mockResponseWriter struct {
	header http.Header
	err    error
	body   []byte
	mu     sync.Mutex
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{header: make(http.Header)}
}

func (m *mockResponseWriter) Header() http.Header { return m.header }

func (m *mockResponseWriter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.body = append(m.body, data...)
	return len(data), nil
}

func (m *mockResponseWriter) WriteHeader(int) {}

func (m *mockResponseWriter) Flush() {}

func (m *mockResponseWriter) Body() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

// noFlushWriter lacks http.Flusher.
type noFlushWriter struct{ http.ResponseWriter }

type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster(nil)
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

func (s *BroadcasterSuite) TestAddAndRemoveClient() {
	w := newMockResponseWriter()
	client, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)
	s.NotEmpty(client.ID)
	s.Equal(1, s.broadcaster.ClientCount())

	s.broadcaster.RemoveClient(client)
	s.Equal(0, s.broadcaster.ClientCount())
	select {
	case <-client.Done:
	default:
		s.Fail("Done channel should be closed")
	}

	// removing twice is harmless
	s.broadcaster.RemoveClient(client)
}

func (s *BroadcasterSuite) TestAddClientRequiresFlusher() {
	_, err := s.broadcaster.AddClient(noFlushWriter{httptest.NewRecorder()})
	s.Error(err)
	s.Equal(0, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestBroadcastNamedEvent() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	s.broadcaster.Broadcast(Event{Type: "directory", Data: map[string]int{"rows": 2}})

	s.Equal("event: directory\ndata: {\"rows\":2}\n\n", w.Body())
}

func (s *BroadcasterSuite) TestBroadcastMultipleClients() {
	writers := make([]*mockResponseWriter, 3)
	for i := range writers {
		writers[i] = newMockResponseWriter()
		_, err := s.broadcaster.AddClient(writers[i])
		s.Require().NoError(err)
	}

	s.broadcaster.Broadcast(Event{Type: "session", Data: "LM1234"})

	for i, w := range writers {
		s.Contains(w.Body(), "data: \"LM1234\"", "client %d", i)
	}
}

func (s *BroadcasterSuite) TestFailingClientIsDropped() {
	good := newMockResponseWriter()
	bad := newMockResponseWriter()
	bad.err = errors.New("broken pipe")
	_, err := s.broadcaster.AddClient(good)
	s.Require().NoError(err)
	badClient, err := s.broadcaster.AddClient(bad)
	s.Require().NoError(err)

	s.broadcaster.Broadcast(Event{Type: "ping", Data: 1})

	s.Equal(1, s.broadcaster.ClientCount())
	select {
	case <-badClient.Done:
	default:
		s.Fail("dropped client should be closed")
	}
}

func (s *BroadcasterSuite) TestBroadcastNoClients() {
	s.broadcaster.Broadcast(Event{Type: "noop"})
}

func TestEncodeWithoutType(t *testing.T) {
	frame, err := encode(Event{Data: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, "data: [\"a\"]\n\n", string(frame))
}

func TestClientUniqueIDs(t *testing.T) {
	b := NewBroadcaster(nil)
	ids := make(map[string]bool)
	for range 100 {
		client, err := b.AddClient(newMockResponseWriter())
		require.NoError(t, err)
		assert.False(t, ids[client.ID], "ID %s should be unique", client.ID)
		ids[client.ID] = true
	}
}

func TestConcurrentBroadcast(t *testing.T) {
	b := NewBroadcaster(nil)
	for range 10 {
		_, err := b.AddClient(newMockResponseWriter())
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Broadcast(Event{Type: "n", Data: i})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, b.ClientCount())
}

func TestHandleSSE(t *testing.T) {
	b := NewBroadcaster(func() []Event {
		return []Event{{Type: "directory", Data: map[string]int{"rows": 0}}}
	})
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if line == "\n" {
				return strings.Join(lines, "")
			}
			lines = append(lines, line)
		}
	}

	assert.Contains(t, readEvent(), "event: connected")
	assert.Equal(t, "event: directory\ndata: {\"rows\":0}\n", readEvent())

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	b.Broadcast(Event{Type: "session", Data: map[string]string{"id": "s-1"}})
	assert.Equal(t, "event: session\ndata: {\"id\":\"s-1\"}\n", readEvent())

	cancel()
	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
