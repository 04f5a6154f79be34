// Package ws streams session snapshots to websocket clients, with per-topic replay buffers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/pkg/metrics"
)

// ErrConnectionLimitExceeded is returned when the hub is full.
var ErrConnectionLimitExceeded = errors.New("websocket connection limit exceeded")

// Message wraps a payload with its topic sequence number for replay.
type Message struct {
	Topic string `json:"topic"`
	Seq   uint64 `json:"seq"`
	Data  []byte `json:"data"`
}

// Config tunes the hub.
type Config struct {
	Shards            int
	ReplaySize        int
	MaxConnections    int
	MessageBufferSize int
	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	AllowedOrigins    []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Shards:            16,
		ReplaySize:        64,
		MaxConnections:    10000,
		MessageBufferSize: 256,
		HeartbeatInterval: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// ringBuffer holds the last N messages for a topic.
type ringBuffer struct {
	buf   []Message
	size  int
	start int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]Message, size), size: size}
}

// add appends a message, overwriting old entries when full.
func (r *ringBuffer) add(msg Message) {
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

// since returns messages with Seq > seq, oldest first.
func (r *ringBuffer) since(seq uint64) []Message {
	var out []Message
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%r.size]
		if msg.Seq > seq {
			out = append(out, msg)
		}
	}
	return out
}

// Client is one websocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	mu            sync.Mutex
	send          chan Message
	closed        bool
	subscriptions map[string]struct{}
}

// enqueue delivers msg without blocking. Messages for slow or closed clients are dropped.
func (c *Client) enqueue(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.subscriptions[msg.Topic]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		metrics.WSDropped.Inc()
	}
}

func (c *Client) subscribe(topics ...string) {
	c.mu.Lock()
	for _, t := range topics {
		c.subscriptions[t] = struct{}{}
	}
	c.mu.Unlock()
	for _, t := range topics {
		for _, m := range c.hub.Replay(t, 0) {
			c.enqueue(m)
		}
	}
}

func (c *Client) unsubscribe(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subscriptions, t)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans messages out to clients, sharded by client id.
type Hub struct {
	cfg    Config
	shards []*hubShard
	log    *zap.Logger

	bufMu   sync.Mutex
	buffers map[string]*ringBuffer
	seq     atomic.Uint64
	active  atomic.Int64

	upgrader websocket.Upgrader
}

type hubShard struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub.
func NewHub(cfg Config, log *zap.Logger) *Hub {
	def := DefaultConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = def.ReplaySize
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = def.MessageBufferSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	h := &Hub{
		cfg:     cfg,
		shards:  make([]*hubShard, cfg.Shards),
		log:     log,
		buffers: make(map[string]*ringBuffer),
	}
	for i := range h.shards {
		h.shards[i] = &hubShard{clients: make(map[*Client]struct{})}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (h *Hub) shardFor(key string) *hubShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return h.shards[hasher.Sum32()%uint32(len(h.shards))]
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.active.Load())
}

// ServeWS upgrades the request and subscribes the new client to topics. Buffered messages of
// those topics are replayed first. It returns once the connection is set up; the pumps run until
// the client disconnects or ctx ends.
func (h *Hub) ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request, clientID string, topics ...string) error {
	if h.active.Load() >= int64(h.cfg.MaxConnections) {
		http.Error(w, ErrConnectionLimitExceeded.Error(), http.StatusServiceUnavailable)
		return ErrConnectionLimitExceeded
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{
		id:            clientID,
		conn:          conn,
		hub:           h,
		send:          make(chan Message, h.cfg.MessageBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	h.register(c)
	c.subscribe(topics...)

	go c.writePump(ctx)
	go c.readPump()
	return nil
}

func (h *Hub) register(c *Client) {
	sh := h.shardFor(c.id)
	sh.mu.Lock()
	sh.clients[c] = struct{}{}
	sh.mu.Unlock()
	h.active.Add(1)
	metrics.WSClients.Inc()
	h.log.Debug("Websocket client registered", zap.String("client_id", c.id))
}

func (h *Hub) unregister(c *Client) {
	sh := h.shardFor(c.id)
	sh.mu.Lock()
	_, ok := sh.clients[c]
	delete(sh.clients, c)
	sh.mu.Unlock()
	c.close()
	if ok {
		h.active.Add(-1)
		metrics.WSClients.Dec()
		h.log.Debug("Websocket client unregistered", zap.String("client_id", c.id))
	}
}

// Broadcast publishes data on topic to every subscribed client and records it for replay.
func (h *Hub) Broadcast(topic string, data []byte) {
	msg := Message{Topic: topic, Seq: h.seq.Add(1), Data: data}

	h.bufMu.Lock()
	buf, ok := h.buffers[topic]
	if !ok {
		buf = newRingBuffer(h.cfg.ReplaySize)
		h.buffers[topic] = buf
	}
	buf.add(msg)
	h.bufMu.Unlock()

	for _, sh := range h.shards {
		sh.mu.RLock()
		for c := range sh.clients {
			c.enqueue(msg)
		}
		sh.mu.RUnlock()
	}
}

// Replay returns buffered messages for topic since the given sequence.
func (h *Hub) Replay(topic string, since uint64) []Message {
	h.bufMu.Lock()
	defer h.bufMu.Unlock()
	if buf, ok := h.buffers[topic]; ok {
		return buf.since(since)
	}
	return nil
}

// Forget drops the replay buffer of topic.
func (h *Hub) Forget(topic string) {
	h.bufMu.Lock()
	delete(h.buffers, topic)
	h.bufMu.Unlock()
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, sh := range h.shards {
		sh.mu.RLock()
		clients := make([]*Client, 0, len(sh.clients))
		for c := range sh.clients {
			clients = append(clients, c)
		}
		sh.mu.RUnlock()
		for _, c := range clients {
			h.unregister(c)
		}
	}
}

// readPump handles control frames and subscription requests of the form
// {"subscribe":["topic"]} or {"unsubscribe":["topic"]}.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.ReadTimeout))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string][]string
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		if subs, ok := req["subscribe"]; ok {
			c.subscribe(subs...)
		}
		if unsubs, ok := req["unsubscribe"]; ok {
			c.unsubscribe(unsubs...)
		}
	}
}

// writePump sends messages and heartbeats to the client.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
