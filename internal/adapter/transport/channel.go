package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"llama-chat/internal/domain"
)

// Channel is a WebSocket transport bound to one conversation. It is created
// in Connecting by Dialer.Open and never reconnects on its own.
type Channel struct {
	conversationID string
	url            string
	sink           domain.FrameSink
	logger         *slog.Logger
	writeTimeout   time.Duration

	sendCh    chan domain.Command // buffered outbound queue
	ready     chan struct{}       // closed once the dial settles
	done      chan struct{}
	closeOnce sync.Once
	solicited atomic.Bool
	cancel    context.CancelFunc

	mu      sync.Mutex
	state   domain.TransportState
	conn    *websocket.Conn
	dialErr error
}

// ConversationID implements domain.Transport.
func (c *Channel) ConversationID() string { return c.conversationID }

// URL returns the endpoint this channel dials.
func (c *Channel) URL() string { return c.url }

// State implements domain.Transport.
func (c *Channel) State() domain.TransportState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send implements domain.Transport. Commands are queued and written by the
// write loop; there is no acknowledgement.
func (c *Channel) Send(cmd domain.Command) error {
	const op = "Transport.Send"
	if st := c.State(); st != domain.TransportOpen {
		return domain.NewDomainError(op, domain.ErrTransportNotReady, "state "+st.String())
	}
	select {
	case <-c.done:
		return domain.NewDomainError(op, domain.ErrTransportNotReady, "closed")
	default:
	}
	select {
	case c.sendCh <- cmd:
		return nil
	default:
		return domain.NewDomainError(op, domain.ErrTransportNotReady, "send queue full")
	}
}

// WaitOpen implements domain.Transport.
func (c *Channel) WaitOpen(ctx context.Context) error {
	const op = "Transport.WaitOpen"
	select {
	case <-c.ready:
	case <-ctx.Done():
		return domain.NewDomainError(op, domain.ErrTransportNotReady, ctx.Err().Error())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.TransportOpen {
		return nil
	}
	detail := "closed"
	if c.dialErr != nil {
		detail = c.dialErr.Error()
	}
	return domain.NewDomainError(op, domain.ErrTransportNotReady, detail)
}

// Close implements domain.Transport. It returns without waiting for the
// close handshake; frames read afterwards are discarded and the sink is not
// notified.
func (c *Channel) Close() error {
	if c.solicited.Swap(true) {
		return nil
	}
	c.mu.Lock()
	c.state = domain.TransportClosed
	conn := c.conn
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })

	if conn == nil {
		c.cancel()
		return nil
	}
	go func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	}()
	return nil
}

func (c *Channel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// run dials and then serves the connection until it ends.
func (c *Channel) run(ctx context.Context, connectTimeout time.Duration, readLimit int64) {
	dctx, cancel := context.WithTimeout(ctx, connectTimeout)
	conn, _, err := websocket.Dial(dctx, c.url, nil)
	cancel()
	if err != nil {
		c.mu.Lock()
		c.state = domain.TransportClosed
		c.dialErr = fmt.Errorf("dial %s: %w", c.url, err)
		c.mu.Unlock()
		close(c.ready)
		c.finish(c.dialErr)
		return
	}

	c.mu.Lock()
	if c.solicited.Load() {
		c.mu.Unlock()
		close(c.ready)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	c.conn = conn
	c.state = domain.TransportOpen
	c.mu.Unlock()
	close(c.ready)

	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	c.logger.Debug("transport open", "url", c.url)

	go c.writeLoop(ctx, conn)
	c.readLoop(ctx, conn)
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.finish(err)
			return
		}
		if c.closed() {
			return
		}
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring non-text frame", "bytes", len(data))
			continue
		}
		c.sink.OnFrame(c, string(data))
	}
}

func (c *Channel) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.sendCh:
			wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := wsjson.Write(wctx, conn, cmd)
			cancel()
			if err != nil {
				if !c.closed() {
					c.logger.Warn("transport write failed", "action", cmd.Action, "error", err)
					_ = conn.Close(websocket.StatusInternalError, "write failed")
				}
				return
			}
		}
	}
}

// finish marks the channel closed and notifies the sink unless the close
// was requested locally.
func (c *Channel) finish(err error) {
	c.mu.Lock()
	c.state = domain.TransportClosed
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	c.cancel()

	if c.solicited.Load() {
		return
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		c.logger.Info("transport closed by backend", "url", c.url)
		err = fmt.Errorf("closed by backend: %w", domain.ErrTransportFailure)
	default:
		c.logger.Warn("transport failed", "url", c.url, "error", err)
	}
	c.sink.OnClosed(c, err)
}

var _ domain.Transport = (*Channel)(nil)
