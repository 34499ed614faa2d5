package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket log stream — logsSubscribe over a persistent connection
// ---------------------------------------------------------------------------

// ClientConfig configures the WebSocket log stream client.
type ClientConfig struct {
	WSEndpoint       string `yaml:"ws_endpoint"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
	MaxReconnects    int    `yaml:"max_reconnects"`
	BufferSize       int    `yaml:"buffer_size"`
}

// DefaultClientConfig returns defaults for mainnet streaming.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WSEndpoint:       "wss://api.mainnet-beta.solana.com",
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
		MaxReconnects:    0, // 0 = unlimited reconnects
		BufferSize:       4096,
	}
}

// Client maintains a Solana WebSocket connection with one logsSubscribe per
// watched key. A key is either a DEX program ID (venue-wide discovery) or a
// token mint (everything touching that token, on any venue). Subscriptions
// survive reconnects: the watch set is replayed on every new connection.
type Client struct {
	config ClientConfig

	mu      sync.RWMutex
	conn    *websocket.Conn
	watch   map[string]bool  // keys to keep subscribed
	pending map[int64]string // request ID -> key, awaiting confirmation
	subs    map[int]string   // server subscription ID -> key
	subIDs  map[string]int   // key -> server subscription ID

	out    chan LogEvent
	closed atomic.Bool // tracks if out is closed

	nextReqID atomic.Int64
	seq       atomic.Uint64 // connection-scoped event counter

	// Stats.
	messagesRecv atomic.Int64
	eventsOut    atomic.Int64
	dropped      atomic.Int64
	reconnects   atomic.Int64
	connected    atomic.Bool
}

// NewClient creates a stream client. Keys passed here are watched from the
// first connection; more can be added later with Watch.
func NewClient(config ClientConfig, keys ...string) *Client {
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}
	c := &Client{
		config:  config,
		watch:   make(map[string]bool),
		pending: make(map[int64]string),
		subs:    make(map[int]string),
		subIDs:  make(map[string]int),
		out:     make(chan LogEvent, config.BufferSize),
	}
	for _, k := range keys {
		c.watch[k] = true
	}
	return c
}

// Start connects and begins streaming. Returns the event channel immediately;
// the connection loop runs until ctx is cancelled, after which the channel is
// closed.
func (c *Client) Start(ctx context.Context) (<-chan LogEvent, error) {
	go c.runLoop(ctx)
	return c.out, nil
}

// Watch subscribes a new key. Safe to call before Start and while connected.
func (c *Client) Watch(key string) {
	c.mu.Lock()
	if c.watch[key] {
		c.mu.Unlock()
		return
	}
	c.watch[key] = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.subscribeKey(key); err != nil {
			log.Warn().Err(err).Str("key", shortKey(key)).Msg("stream: subscribe failed, will retry on reconnect")
		}
	}
}

// Unwatch drops a key's subscription. Notifications already in flight may
// still be delivered.
func (c *Client) Unwatch(key string) {
	c.mu.Lock()
	delete(c.watch, key)
	subID, ok := c.subIDs[key]
	if ok {
		delete(c.subIDs, key)
		delete(c.subs, subID)
	}
	conn := c.conn
	c.mu.Unlock()

	if !ok || conn == nil {
		return
	}
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextReqID.Add(1),
		"method":  "logsUnsubscribe",
		"params":  []any{subID},
	}
	c.mu.Lock()
	err := conn.WriteJSON(req)
	c.mu.Unlock()
	if err != nil {
		log.Debug().Err(err).Str("key", shortKey(key)).Msg("stream: unsubscribe write failed")
	}
}

// Watched reports whether a key currently has a standing subscription request.
func (c *Client) Watched(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watch[key]
}

func (c *Client) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("stream: runLoop panic recovered")
		}
		// Acquire write lock to synchronize with handleMessage's channel send.
		c.mu.Lock()
		if c.closed.CompareAndSwap(false, true) {
			close(c.out)
		}
		c.mu.Unlock()
	}()

	reconnectDelay := time.Duration(c.config.ReconnectDelayMs) * time.Millisecond
	reconnectCount := 0

	for {
		select {
		case <-ctx.Done():
			c.disconnect()
			return
		default:
		}

		// Unlimited reconnects when MaxReconnects == 0.
		if c.config.MaxReconnects > 0 && reconnectCount >= c.config.MaxReconnects {
			log.Error().Int("max", c.config.MaxReconnects).Msg("stream: max reconnects reached, restarting counter after cooldown")
			select {
			case <-time.After(60 * time.Second):
				reconnectCount = 0
				continue
			case <-ctx.Done():
				c.disconnect()
				return
			}
		}

		if err := c.connect(ctx); err != nil {
			log.Warn().Err(err).Int("attempt", reconnectCount).Msg("stream: connection failed")
			reconnectCount++
			c.reconnects.Add(1)

			maxDelay := 30 * time.Second
			if reconnectDelay > maxDelay {
				reconnectDelay = maxDelay
			}
			select {
			case <-time.After(reconnectDelay):
				reconnectDelay = reconnectDelay * 2
				if reconnectDelay > maxDelay {
					reconnectDelay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		reconnectCount = 0
		reconnectDelay = time.Duration(c.config.ReconnectDelayMs) * time.Millisecond

		// Replay the watch set on the fresh connection.
		c.mu.RLock()
		keys := make([]string, 0, len(c.watch))
		for k := range c.watch {
			keys = append(keys, k)
		}
		c.mu.RUnlock()
		for _, key := range keys {
			if err := c.subscribeKey(key); err != nil {
				log.Warn().Err(err).Str("key", shortKey(key)).Msg("stream: subscribe failed")
			}
		}

		// Read messages until disconnect.
		c.readLoop(ctx)
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.config.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("stream: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[int64]string)
	c.subs = make(map[int]string)
	c.subIDs = make(map[string]int)
	c.mu.Unlock()
	c.connected.Store(true)

	log.Info().Str("endpoint", c.config.WSEndpoint).Msg("stream: connected")
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

// subscribeKey sends a logsSubscribe request for one key. The server's
// subscription ID arrives asynchronously and is matched up in handleMessage.
func (c *Client) subscribeKey(key string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("stream: not connected")
	}

	reqID := c.nextReqID.Add(1)

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{
				"mentions": []string{key},
			},
			map[string]any{
				"commitment": "confirmed",
			},
		},
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("stream: not connected")
	}
	c.pending[reqID] = key
	err := c.conn.WriteJSON(req)
	if err != nil {
		delete(c.pending, reqID)
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stream: write subscribe: %w", err)
	}

	log.Info().Str("key", shortKey(key)).Msg("stream: subscribed to logs")
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	pingInterval := time.Duration(c.config.PingIntervalS) * time.Second
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("stream: ping failed")
					return
				}
			}
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("stream: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("stream: read error, reconnecting")
			}
			c.connected.Store(false)
			return
		}

		c.messagesRecv.Add(1)
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("stream: handleMessage panic recovered")
		}
	}()

	var notification struct {
		ID     *int64 `json:"id,omitempty"`
		Result *int   `json:"result,omitempty"`
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Signature string          `json:"signature"`
					Logs      []string        `json:"logs"`
					Err       json.RawMessage `json:"err"`
				} `json:"value"`
				Context struct {
					Slot uint64 `json:"slot"`
				} `json:"context"`
			} `json:"result"`
			Subscription int `json:"subscription"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &notification); err != nil {
		return
	}

	if notification.Method != "logsNotification" {
		// Subscription confirmation: bind the server's subscription ID to
		// the key the request was for.
		if notification.ID != nil && notification.Result != nil {
			c.mu.Lock()
			key, ok := c.pending[*notification.ID]
			if ok {
				delete(c.pending, *notification.ID)
				c.subs[*notification.Result] = key
				c.subIDs[key] = *notification.Result
			}
			c.mu.Unlock()
			if ok {
				log.Debug().Int("sub_id", *notification.Result).Str("key", shortKey(key)).Msg("stream: subscription confirmed")
			}
		}
		return
	}

	c.mu.RLock()
	key := c.subs[notification.Params.Subscription]
	c.mu.RUnlock()

	ev := LogEvent{
		Seq:        c.seq.Add(1),
		Key:        key,
		Signature:  notification.Params.Result.Value.Signature,
		Slot:       notification.Params.Result.Context.Slot,
		Logs:       notification.Params.Result.Value.Logs,
		Failed:     failedErr(notification.Params.Result.Value.Err),
		ReceivedAt: time.Now(),
	}

	// Synchronize channel send with close using the mutex to prevent
	// send-on-closed-channel panic (atomic check alone is racy).
	c.mu.RLock()
	if !c.closed.Load() {
		select {
		case c.out <- ev:
			c.eventsOut.Add(1)
		default:
			c.dropped.Add(1)
		}
	}
	c.mu.RUnlock()
}

// failedErr reports whether the notification's err field carries a
// transaction error. The field is JSON null on success.
func failedErr(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// ClientStats reports stream client counters.
type ClientStats struct {
	Connected    bool  `json:"connected"`
	MessagesRecv int64 `json:"messages_recv"`
	EventsOut    int64 `json:"events_out"`
	Dropped      int64 `json:"dropped"`
	Reconnects   int64 `json:"reconnects"`
	Watched      int   `json:"watched"`
}

func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	watched := len(c.watch)
	c.mu.RUnlock()
	return ClientStats{
		Connected:    c.connected.Load(),
		MessagesRecv: c.messagesRecv.Load(),
		EventsOut:    c.eventsOut.Load(),
		Dropped:      c.dropped.Load(),
		Reconnects:   c.reconnects.Load(),
		Watched:      watched,
	}
}
