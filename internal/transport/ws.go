package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConfig configures WebSocket transport behavior.
type WSConfig struct {
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
	// NotificationBuffer is the per-subscription channel capacity.
	NotificationBuffer int
	// Logger receives connection lifecycle events. Default: no-op.
	Logger *zap.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:     1 * time.Second,
		MaxReconnectDelay:  30 * time.Second,
		PingInterval:       30 * time.Second,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		NotificationBuffer: 10000,
	}
}

type pendingCall struct {
	ch  chan message
	sub *wsSubscription // set for subscribe requests
}

// WSTransport implements Transport over a single gorilla/websocket connection.
// Subscriptions survive reconnects: they are re-established on the new
// connection and keep delivering on the same channel.
type WSTransport struct {
	endpoint string
	config   WSConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// pending maps request ID to the caller waiting for the response
	pending   map[uint64]*pendingCall
	pendingMu sync.Mutex

	// subs maps the node's current subscription ID to the subscription
	subs   map[string]*wsSubscription
	subsMu sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewWSTransport connects to endpoint and starts the read and ping loops.
func NewWSTransport(ctx context.Context, endpoint string, config *WSConfig) (*WSTransport, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.NotificationBuffer <= 0 {
		cfg.NotificationBuffer = DefaultWSConfig().NotificationBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &WSTransport{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.Named("ws"),
		pending:  make(map[uint64]*pendingCall),
		subs:     make(map[string]*wsSubscription),
		done:     make(chan struct{}),
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	t.wg.Add(2)
	go t.readLoop()
	go t.pingLoop()

	return t, nil
}

func (t *WSTransport) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, t.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
	})

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	return nil
}

// Call sends a request and waits for its response.
func (t *WSTransport) Call(ctx context.Context, result any, method string, params ...any) error {
	resp, err := t.roundTrip(ctx, method, params, nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return decodeResult(resp.Result, result)
}

func (t *WSTransport) roundTrip(ctx context.Context, method string, params []any, sub *wsSubscription) (message, error) {
	if t.closed.Load() {
		return message{}, ErrClosed
	}

	id := t.requestID.Add(1)
	p := &pendingCall{ch: make(chan message, 1), sub: sub}

	t.pendingMu.Lock()
	t.pending[id] = p
	t.pendingMu.Unlock()

	if err := t.write(newRequest(id, method, params)); err != nil {
		t.dropPending(id)
		return message{}, err
	}

	select {
	case resp, ok := <-p.ch:
		if !ok {
			if t.closed.Load() {
				return message{}, ErrClosed
			}
			return message{}, fmt.Errorf("%s: %w", method, ErrConnectionLost)
		}
		return resp, nil
	case <-t.done:
		return message{}, ErrClosed
	case <-ctx.Done():
		t.dropPending(id)
		return message{}, ctx.Err()
	}
}

func (t *WSTransport) write(v any) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return fmt.Errorf("not connected: %w", ErrConnectionLost)
	}
	t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	if err := t.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (t *WSTransport) dropPending(id uint64) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

// failPending closes every waiting call's channel.
func (t *WSTransport) failPending() {
	t.pendingMu.Lock()
	for id, p := range t.pending {
		close(p.ch)
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
}

// Subscribe issues <namespace>_subscribe and returns the live subscription.
func (t *WSTransport) Subscribe(ctx context.Context, namespace string, params ...any) (Subscription, error) {
	sub := &wsSubscription{
		t:         t,
		namespace: namespace,
		params:    params,
		ch:        make(chan json.RawMessage, t.config.NotificationBuffer),
		errCh:     make(chan error, 1),
		quit:      make(chan struct{}),
	}
	if err := t.subscribe(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// subscribe registers sub under the ID the node assigns. Registration happens
// on the read loop so no notification can arrive before the mapping exists.
func (t *WSTransport) subscribe(ctx context.Context, sub *wsSubscription) error {
	resp, err := t.roundTrip(ctx, sub.namespace+"_subscribe", sub.params, sub)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// Close closes the connection, fails in-flight calls and ends every subscription.
func (t *WSTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.done)

	t.connMu.Lock()
	if t.conn != nil {
		t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.conn.Close()
	}
	t.connMu.Unlock()

	t.failPending()

	t.subsMu.Lock()
	for id, sub := range t.subs {
		sub.fail(ErrClosed)
		delete(t.subs, id)
	}
	t.subsMu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *WSTransport) readLoop() {
	defer t.wg.Done()

	reconnectDelay := t.config.ReconnectDelay

	for !t.closed.Load() {
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()

		if conn == nil {
			if !t.reconnecting.Swap(true) {
				t.wg.Add(1)
				go t.reconnect(reconnectDelay)
				reconnectDelay = t.nextDelay(reconnectDelay)
			}
			select {
			case <-t.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.logger.Warn("connection lost", zap.Error(err))

			t.connMu.Lock()
			if t.conn == conn {
				t.conn.Close()
				t.conn = nil
			}
			t.connMu.Unlock()
			t.failPending()
			continue
		}

		reconnectDelay = t.config.ReconnectDelay
		t.handleMessage(data)
	}
}

func (t *WSTransport) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > t.config.MaxReconnectDelay {
		d = t.config.MaxReconnectDelay
	}
	return d
}

// reconnect dials a new connection and re-establishes subscriptions.
func (t *WSTransport) reconnect(delay time.Duration) {
	defer t.wg.Done()
	defer t.reconnecting.Store(false)

	select {
	case <-t.done:
		return
	case <-time.After(delay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := t.connect(ctx); err != nil {
		// The read loop schedules another attempt.
		t.logger.Warn("reconnect failed", zap.Error(err), zap.Duration("delay", delay))
		return
	}
	t.logger.Info("reconnected", zap.String("endpoint", t.endpoint))

	// The read loop is the only reader; resubscribe concurrently so it can
	// deliver the confirmations.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.resubscribeAll()
	}()
}

func (t *WSTransport) resubscribeAll() {
	t.subsMu.RLock()
	subs := make(map[string]*wsSubscription, len(t.subs))
	for id, sub := range t.subs {
		subs[id] = sub
	}
	t.subsMu.RUnlock()

	for oldID, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := t.subscribe(ctx, sub)
		cancel()

		if err != nil {
			// Keep the old mapping; the next reconnect retries.
			t.logger.Warn("resubscribe failed",
				zap.String("namespace", sub.namespace), zap.String("id", oldID), zap.Error(err))
			continue
		}

		t.subsMu.Lock()
		if cur, ok := t.subs[oldID]; ok && cur == sub && sub.currentID() != oldID {
			delete(t.subs, oldID)
		}
		t.subsMu.Unlock()
	}
}

func (t *WSTransport) handleMessage(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Debug("unparseable frame", zap.Error(err))
		return
	}

	switch {
	case msg.ID != nil:
		t.handleResponse(*msg.ID, msg)
	case strings.HasSuffix(msg.Method, "_subscription"):
		t.handleNotification(msg)
	}
}

func (t *WSTransport) handleResponse(id uint64, msg message) {
	t.pendingMu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()

	if !ok {
		return
	}

	if p.sub != nil && msg.Error == nil {
		var subID string
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			msg.Error = &RPCError{Code: -32603, Message: "invalid subscription id: " + string(msg.Result)}
		} else {
			p.sub.setID(subID)
			t.subsMu.Lock()
			t.subs[subID] = p.sub
			t.subsMu.Unlock()
		}
	}

	p.ch <- msg
}

// handleNotification delivers a notification, blocking until the subscriber
// takes it. Events are never dropped.
func (t *WSTransport) handleNotification(msg message) {
	var params notificationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return
	}

	t.subsMu.RLock()
	sub, ok := t.subs[params.Subscription]
	t.subsMu.RUnlock()
	if !ok {
		return
	}

	select {
	case sub.ch <- params.Result:
	case <-sub.quit:
	case <-t.done:
	}
}

func (t *WSTransport) pingLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.connMu.Lock()
			if t.conn != nil {
				t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
				// A dead connection surfaces on the read side.
				_ = t.conn.WriteMessage(websocket.PingMessage, nil)
			}
			t.connMu.Unlock()
		}
	}
}

type wsSubscription struct {
	t         *WSTransport
	namespace string
	params    []any

	mu sync.Mutex
	id string

	ch    chan json.RawMessage
	errCh chan error
	quit  chan struct{}
	once  sync.Once
}

func (s *wsSubscription) Notifications() <-chan json.RawMessage { return s.ch }

func (s *wsSubscription) Err() <-chan error { return s.errCh }

func (s *wsSubscription) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *wsSubscription) currentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *wsSubscription) fail(err error) {
	s.once.Do(func() {
		close(s.quit)
		s.errCh <- err
		close(s.errCh)
	})
}

// Unsubscribe stops delivery and tells the node, best effort.
func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		close(s.errCh)

		id := s.currentID()
		s.t.subsMu.Lock()
		if s.t.subs[id] == s {
			delete(s.t.subs, id)
		}
		s.t.subsMu.Unlock()

		if s.t.closed.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.t.config.WriteTimeout)
		defer cancel()
		var ok bool
		if err := s.t.Call(ctx, &ok, s.namespace+"_unsubscribe", id); err != nil {
			s.t.logger.Debug("unsubscribe", zap.String("id", id), zap.Error(err))
		}
	})
}
