package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned by operations on a closed WSClientImpl.
var ErrClientClosed = errors.New("client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// Commitment is sent with every logsSubscribe request.
	Commitment string
	// BufferSize is the capacity of each notification channel.
	BufferSize int
	// Logger receives connection diagnostics. Defaults to log.Default().
	Logger *log.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Commitment:        DefaultCommitment,
		BufferSize:        10000,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *log.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription ID to its channel and filter
	subs   map[int64]*wsSubscription
	subsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
	reconnects   atomic.Uint64
}

type wsSubscription struct {
	ch     chan LogNotification
	filter LogsFilter
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultWSConfig().BufferSize
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultWSConfig().SubscribeTimeout
	}
	if cfg.Commitment == "" {
		cfg.Commitment = DefaultCommitment
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger,
		subs:        make(map[int64]*wsSubscription),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

var _ WSClient = (*WSClientImpl)(nil)

// Reconnects returns how many times the connection was re-established.
func (c *WSClientImpl) Reconnects() uint64 {
	return c.reconnects.Load()
}

func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	return nil
}

// SubscribeLogs subscribes to program logs matching the filter.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	subID, err := c.subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	// Buffer absorbs bursts; dispatch blocks rather than dropping.
	ch := make(chan LogNotification, c.config.BufferSize)
	c.subsMu.Lock()
	c.subs[subID] = &wsSubscription{ch: ch, filter: filter}
	c.subsMu.Unlock()

	return ch, nil
}

// subscribe sends logsSubscribe and waits for the subscription ID.
func (c *WSClientImpl) subscribe(ctx context.Context, filter LogsFilter) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			filter.params(),
			map[string]string{"commitment": c.config.Commitment},
		},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	forget := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	if err := c.writeJSON(req); err != nil {
		forget()
		return 0, err
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, ErrClientClosed
		}
		return subID, nil
	case <-timer.C:
		forget()
		return 0, fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClientClosed
	case <-ctx.Done():
		forget()
		return 0, ctx.Err()
	}
}

func (c *WSClientImpl) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the WebSocket connection and every subscription channel.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Wait for readers so no dispatch races the channel close below.
	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.sleep(100 * time.Millisecond) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnecting.Swap(true) {
				c.logger.Printf("[ws] read error, reconnecting in %s: %v", reconnectDelay, err)
				c.wg.Add(1)
				go c.reconnect(reconnectDelay)
				reconnectDelay *= 2
				if reconnectDelay > c.config.MaxReconnectDelay {
					reconnectDelay = c.config.MaxReconnectDelay
				}
			}
			if !c.sleep(100 * time.Millisecond) {
				return
			}
			continue
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// sleep waits for d or shutdown; it returns false on shutdown.
func (c *WSClientImpl) sleep(d time.Duration) bool {
	select {
	case <-c.done:
		return false
	case <-time.After(d):
		return true
	}
}

// reconnect re-dials and resubscribes every active filter.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	if !c.sleep(delay) {
		return
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Printf("[ws] reconnect failed: %v", err)
		return
	}
	c.reconnects.Add(1)

	// readLoop must be reading again for confirmations to arrive.
	go c.resubscribeAll()
}

func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	old := make(map[int64]*wsSubscription, len(c.subs))
	for id, sub := range c.subs {
		old[id] = sub
	}
	c.subsMu.RUnlock()

	for oldID, sub := range old {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newID, err := c.subscribe(ctx, sub.filter)
		cancel()
		if err != nil {
			c.logger.Printf("[ws] resubscribe %d failed: %v", oldID, err)
			continue
		}

		c.subsMu.Lock()
		if _, ok := c.subs[oldID]; ok {
			delete(c.subs, oldID)
			c.subs[newID] = sub
		}
		c.subsMu.Unlock()
	}
}

func (c *WSClientImpl) handleMessage(message []byte) {
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.handleSubscribeResponse(&resp)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "logsNotification" {
		c.handleLogsNotification(&notif)
		return
	}

	var errResp wsErrorResponse
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		// The pending subscribe will time out.
		c.logger.Printf("[ws] error response id=%d: code=%d msg=%s",
			errResp.ID, errResp.Error.Code, errResp.Error.Message)
	}
}

func (c *WSClientImpl) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

func (c *WSClientImpl) handleLogsNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	value := notif.Params.Result.Value
	logNotif := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}
	if notif.Params.Result.Context != nil {
		logNotif.Slot = notif.Params.Result.Context.Slot
	}

	c.subsMu.RLock()
	sub, ok := c.subs[notif.Params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	select {
	case sub.ch <- logNotif:
	case <-c.done:
	}
}

func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces as a read error.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsErrorResponse struct {
	ID    uint64 `json:"id"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
