// Package wsconn implements the WS transport layer for the three
// cooperative tasks SPEC_FULL.md §5 maps onto native Go concurrency:
// Connection.readLoop, Connection.pingLoop, and the driver's synchronous
// watchdog (invoked per-frame, not a goroutine). Grounded on the teacher's
// exchanges/stream/websocket_connection.go (Dial/SendJSONMessage/
// SetupPingHandler/ReadMessage/parseBinaryResponse) and on
// original_source/mm_recorder/ws_stream.py for the reconnect backoff
// formula.
package wsconn

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaindrift/mdrecorder/internal/gclog"
)

// EventKind classifies a ConnEvent sent on Connection.Events, the single
// channel the read loop and ping loop use to report failures to the driver.
type EventKind string

const (
	EventDisconnected EventKind = "disconnected"
	EventPingFailed   EventKind = "ping_failed"
	EventReadError    EventKind = "read_error"
)

// ConnEvent is a lifecycle failure reported by readLoop or pingLoop.
type ConnEvent struct {
	Kind EventKind
	Err  error
}

// Connection wraps a single gorilla/websocket client connection with a
// read loop and ping loop, mirroring the teacher's WebsocketConnection.
type Connection struct {
	ExchangeName string
	URL          string
	ProxyURL     string
	Verbose      bool
	PingInterval time.Duration
	// PingTimeout bounds how long the connection may go without a pong
	// reply before readLoop's blocking read is forced to fail. Zero
	// disables the deadline.
	PingTimeout time.Duration

	connected atomic.Bool
	conn      *websocket.Conn
	writeMu   sync.Mutex

	Messages chan []byte
	Events   chan ConnEvent
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Connection ready to Dial. Messages/Events are buffered
// to absorb bursts without blocking the read loop.
func New(exchangeName, url string) *Connection {
	return &Connection{
		ExchangeName: exchangeName,
		URL:          url,
		PingInterval: 20 * time.Second,
		Messages:     make(chan []byte, 256),
		Events:       make(chan ConnEvent, 8),
		shutdown:     make(chan struct{}),
	}
}

// Dial connects and starts the read loop and ping loop goroutines.
func (c *Connection) Dial(dialer *websocket.Dialer, headers http.Header) error {
	if c.ProxyURL != "" {
		proxy, err := url.Parse(c.ProxyURL)
		if err != nil {
			return err
		}
		dialer.Proxy = http.ProxyURL(proxy)
	}

	conn, resp, err := dialer.Dial(c.URL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%s %d: %w", c.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("%s: %w", c.URL, err)
	}
	c.conn = conn
	c.connected.Store(true)
	if c.Verbose {
		gclog.Infof(gclog.WebsocketMgr, "%s websocket connected to %s", c.ExchangeName, c.URL)
	}

	if c.PingTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.PingTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(c.PingTimeout))
			return nil
		})
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return nil
}

// IsConnected reports the connection's last known liveness.
func (c *Connection) IsConnected() bool { return c.connected.Load() }

// SendJSONMessage JSON-encodes and writes data, serialized against
// concurrent writers (gorilla/websocket forbids concurrent writes).
func (c *Connection) SendJSONMessage(data interface{}) error {
	if !c.IsConnected() {
		return fmt.Errorf("%s: cannot send on a disconnected websocket", c.ExchangeName)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.Verbose {
		gclog.Debugf(gclog.WebsocketMgr, "%s sending message %+v", c.ExchangeName, data)
	}
	return c.conn.WriteJSON(data)
}

func (c *Connection) sendRaw(messageType int, message []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("%s: cannot send on a disconnected websocket", c.ExchangeName)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, message)
}

// readLoop blocks on Connection.ReadMessage, decompressing binary frames,
// and forwards text payloads to Messages until an error or Shutdown.
func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.shutdown:
			return
		default:
		}

		mType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.connected.Store(false)
			c.emit(ConnEvent{Kind: EventDisconnected, Err: err})
			return
		}

		var payload []byte
		switch mType {
		case websocket.TextMessage:
			payload = raw
		case websocket.BinaryMessage:
			payload, err = decompress(raw)
			if err != nil {
				c.emit(ConnEvent{Kind: EventReadError, Err: err})
				continue
			}
		default:
			continue
		}

		select {
		case c.Messages <- payload:
		case <-c.shutdown:
			return
		}
	}
}

// pingLoop sends a ping control frame every PingInterval; a write failure
// is reported and ends the loop (the driver then reconnects).
func (c *Connection) pingLoop() {
	defer c.wg.Done()
	if c.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			if err := c.sendRaw(websocket.PingMessage, nil); err != nil {
				gclog.Warnf(gclog.WebsocketMgr, "%s ping failed: %v", c.ExchangeName, err)
				c.emit(ConnEvent{Kind: EventPingFailed, Err: err})
				return
			}
		}
	}
}

func (c *Connection) emit(ev ConnEvent) {
	select {
	case c.Events <- ev:
	default: // driver slow to drain; drop rather than block the loop
	}
}

// Shutdown closes the underlying connection and stops both loops.
func (c *Connection) Shutdown() error {
	close(c.shutdown)
	c.connected.Store(false)
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.wg.Wait()
	return err
}

func decompress(resp []byte) ([]byte, error) {
	if len(resp) >= 2 && resp[0] == 0x1f && resp[1] == 0x8b {
		r, err := gzip.NewReader(bytes.NewReader(resp))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	r := flate.NewReader(bytes.NewReader(resp))
	defer r.Close()
	return io.ReadAll(r)
}

// Backoff computes the exchange's reconnect-wait as exponential-with-jitter,
// grounded on ws_stream.py's `_run_async` reconnect formula:
// min(cap, base*2^(attempt-1)) * (0.7 + 0.6*rand()).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Wait returns the delay to sleep before reconnect attempt number attempt
// (1-indexed: attempt 1 is the first retry after an initial failure).
func (b Backoff) Wait(attempt int) time.Duration {
	if b.Base <= 0 || b.Max <= 0 {
		return 0
	}
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	mult := 1 << uint(minInt(exp, 30))
	d := b.Base * time.Duration(mult)
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	jitter := 0.7 + 0.6*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
