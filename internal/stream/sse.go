package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

const maxFrameSize = 1 << 20

// ErrStreamEnded is reported when the server closes the stream cleanly.
var ErrStreamEnded = errors.New("event stream ended")

// SSEChannel is a Channel over a text/event-stream HTTP response.
type SSEChannel struct {
	client *http.Client
	cb     Callbacks
	log    *zap.Logger

	mu      sync.Mutex
	state   State
	session uint64
	cancel  context.CancelFunc
}

func NewSSEChannel(client *http.Client, cb Callbacks, log *zap.Logger) *SSEChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &SSEChannel{client: client, cb: cb, log: log}
}

// NewSSEDialer returns a Dialer producing SSE channels that share client.
func NewSSEDialer(client *http.Client, log *zap.Logger) Dialer {
	return func(cb Callbacks) Channel {
		return NewSSEChannel(client, cb, log)
	}
}

func (c *SSEChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *SSEChannel) Open(ctx context.Context, url string) {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.session++
	session := c.session
	c.state = StateConnecting
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, session, url)
}

func (c *SSEChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	// a new session number silences callbacks still in flight
	c.session++
	c.state = StateClosed
}

func (c *SSEChannel) run(ctx context.Context, session uint64, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.fail(session, fmt.Errorf("create request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		c.fail(session, fmt.Errorf("connect: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.fail(session, fmt.Errorf("event stream returned %d", resp.StatusCode))
		return
	}

	if !c.transition(session, StateConnecting, StateOpen) {
		return
	}
	c.log.Debug("event stream open", zap.String("url", url))
	c.cb.OnOpen()

	err = c.read(session, resp.Body)
	if err == nil {
		err = ErrStreamEnded
	}
	c.fail(session, err)
}

// read delivers one OnMessage per complete frame until the body ends.
func (c *SSEChannel) read(session uint64, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var data bytes.Buffer
	hasData := false
	for scanner.Scan() {
		line := bytes.TrimSuffix(scanner.Bytes(), []byte("\r"))

		if len(line) == 0 {
			if hasData {
				if !c.current(session) {
					return nil
				}
				c.cb.OnMessage(append([]byte(nil), data.Bytes()...))
			}
			data.Reset()
			hasData = false
			continue
		}

		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		if string(field) != "data" {
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.Write(value)
		hasData = true
	}
	return scanner.Err()
}

func (c *SSEChannel) current(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == session
}

func (c *SSEChannel) transition(session uint64, from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session || c.state != from {
		return false
	}
	c.state = to
	return true
}

// fail ends the session and reports err once, unless Close got there first.
func (c *SSEChannel) fail(session uint64, err error) {
	c.mu.Lock()
	if c.session != session || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.log.Debug("event stream failed", zap.Error(err))
	c.cb.OnError(err)
}
