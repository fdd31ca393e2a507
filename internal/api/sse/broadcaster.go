// Package sse streams directory and session events to staff consoles.
package sse

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout bounds a write to one client.
	WriteTimeout = 2 * time.Second
	// KeepAlive is the comment ping period that keeps proxies from closing idle streams.
	KeepAlive = 15 * time.Second
)

// Event is one named server-sent event.
type Event struct {
	Data any
	Type string
}

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
	writeMu sync.Mutex
	once    sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.Done) })
}

// Broadcaster manages SSE client connections and message broadcasting.
type Broadcaster struct {
	clients   map[string]*Client
	onConnect func() []Event
	nextID    int
	mu        sync.RWMutex
}

// NewBroadcaster creates a broadcaster. onConnect, if set, supplies events
// replayed to each new client, such as the current directory.
func NewBroadcaster(onConnect func() []Event) *Broadcaster {
	return &Broadcaster{
		clients:   make(map[string]*Client),
		onConnect: onConnect,
	}
}

// AddClient registers a streaming response writer.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("console-%d", b.nextID)
	client := &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[id] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", id).Int("totalClients", count).Msg("SSE client connected")
	return client, nil
}

// RemoveClient unregisters a client and closes its Done channel.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	client.close()
	log.Debug().Str("clientId", client.ID).Int("totalClients", count).Msg("SSE client disconnected")
}

// Broadcast sends ev to every client. Clients that fail or time out are dropped.
func (b *Broadcaster) Broadcast(ev Event) {
	frame, err := encode(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal SSE event")
		return
	}

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	dead := make(chan *Client, len(clients))
	var wg sync.WaitGroup
	for _, c := range clients {
		select {
		case <-c.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if !b.write(c, frame) {
				dead <- c
			}
		}(c)
	}
	wg.Wait()
	close(dead)

	for c := range dead {
		b.RemoveClient(c)
	}
}

// write delivers one frame. It reports false when the client should be dropped.
func (b *Broadcaster) write(c *Client, frame []byte) bool {
	done := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if _, err := c.Writer.Write(frame); err != nil {
			done <- err
			return
		}
		c.Flusher.Flush()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Debug().Err(err).Str("clientId", c.ID).Msg("Failed to write to SSE client")
			return false
		}
		return true
	case <-time.After(WriteTimeout):
		log.Warn().Str("clientId", c.ID).Dur("timeout", WriteTimeout).Msg("SSE write timed out")
		return false
	case <-c.Done:
		return true
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves one event stream until the request is cancelled.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	initial := []Event{{Type: "connected", Data: map[string]string{"clientId": client.ID}}}
	if b.onConnect != nil {
		initial = append(initial, b.onConnect()...)
	}
	for _, ev := range initial {
		frame, err := encode(ev)
		if err != nil {
			continue
		}
		if !b.write(client, frame) {
			return
		}
	}

	ping := time.NewTicker(KeepAlive)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-ping.C:
			if !b.write(client, []byte(": ping\n\n")) {
				return
			}
		}
	}
}

func encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if ev.Type != "" {
		buf.WriteString("event: ")
		buf.WriteString(ev.Type)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
