package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/fcp-performance/fcp-performance/cdp/domains"
	"github.com/fcp-performance/fcp-performance/log"
)

var _ cdp.Executor = &Client{}

// ErrClientClosed is returned by Execute once the client is closed.
var ErrClientClosed = errors.New("CDP client closed")

// Client manages CDP communication with the browser.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger

	Browser domains.Browser
	Page    domains.Page
	Runtime domains.Runtime
	Target  domains.Target

	conn      *connection
	msgID     int64
	sendCh    chan *cdproto.Message
	msgSubsMu sync.Mutex
	msgSubs   map[int64]chan *cdproto.Message

	done      chan struct{}
	closeOnce sync.Once
	err       error // set before done is closed

	wsURL string
}

// NewClient returns a new Client that is unusable until a CDP connection is
// established with Connect().
func NewClient(ctx context.Context, logger *log.Logger) *Client {
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		sendCh:  make(chan *cdproto.Message, 32), // Buffered to avoid blocking in Execute
		msgSubs: make(map[int64]chan *cdproto.Message),
		done:    make(chan struct{}),
	}

	c.Browser = domains.NewBrowser(c)
	c.Page = domains.NewPage(c)
	c.Runtime = domains.NewRuntime(c)
	c.Target = domains.NewTarget(c)

	return c
}

// Connect to the browser that exposes a CDP API at wsURL.
func (c *Client) Connect(wsURL string) (err error) {
	if c.wsURL != "" {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}

	if c.conn, err = newConnection(c.ctx, wsURL, c.logger); err != nil {
		return err
	}
	c.logger.Debugf("cdp", "established CDP connection to %q", wsURL)
	c.wsURL = wsURL

	go c.recvLoop()
	go c.sendLoop()

	return nil
}

// Close stops the send and receive loops and closes the connection.
// Pending and future Execute calls return ErrClientClosed.
func (c *Client) Close() error {
	c.shutdown(ErrClientClosed)
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		c.cancel()
	})
}

// Done returns a channel closed when the client stops, either because it
// was closed or because the connection was lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the client stopped, or nil while it's running.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive.
//
// When ctx is done before the reply arrives, the reply subscription is
// removed and the late reply is discarded by the receive loop.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.logger.Debugf("Client:Execute", "wsURL:%q method:%q", c.wsURL, method)

	var buf []byte
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshalling %s params: %w", method, err)
		}
	}

	id := atomic.AddInt64(&c.msgID, 1)
	recvCh := make(chan *cdproto.Message, 1)
	c.msgSubsMu.Lock()
	c.msgSubs[id] = recvCh
	c.msgSubsMu.Unlock()
	defer func() {
		c.msgSubsMu.Lock()
		delete(c.msgSubs, id)
		c.msgSubsMu.Unlock()
	}()

	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}
	// We use different sessions to send messages to "targets"
	// (browser, page, frame etc.) in CDP.
	//
	// If we don't specify a session (a session ID in the JSON message),
	// it will be a message for the browser target.
	if sid := GetSessionID(ctx); sid != "" {
		msg.SessionID = target.SessionID(sid)
	}

	select {
	case c.sendCh <- msg:
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return fmt.Errorf("sending %s: %w", method, ctx.Err())
	}

	// Block waiting for response.
	select {
	case reply := <-recvCh:
		switch {
		case reply.Error != nil:
			return fmt.Errorf("%s: %w", method, reply.Error)
		case res != nil:
			return easyjson.Unmarshal(reply.Result, res)
		}
		return nil
	case <-c.done:
		return c.err
	case <-ctx.Done():
		c.logger.Debugf("Client:Execute:<-ctx.Done()", "wsURL:%q id:%d method:%q err:%v", c.wsURL, id, method, ctx.Err())
		return fmt.Errorf("waiting for %s reply: %w", method, ctx.Err())
	}
}

func (c *Client) recvLoop() {
	for {
		msg, err := c.conn.readMessage()
		if err != nil {
			select {
			case <-c.done:
				// We closed the connection ourselves.
			default:
				if !isClosedErr(err) {
					c.logger.Errorf("Client:recvLoop", "wsURL:%q ioErr:%v", c.wsURL, err)
				}
				c.shutdown(fmt.Errorf("lost CDP connection: %w", err))
			}
			return
		}

		switch {
		case msg.Method != "":
			// Events are enabled by Page.enable but nothing subscribes
			// to them.
			c.logger.Tracef("Client:recvLoop", "sid:%v event:%q", msg.SessionID, msg.Method)
		case msg.ID > 0:
			c.msgSubsMu.Lock()
			ch, ok := c.msgSubs[msg.ID]
			delete(c.msgSubs, msg.ID)
			c.msgSubsMu.Unlock()
			if !ok {
				c.logger.Debugf("Client:recvLoop", "discarding reply to message %d, no longer awaited", msg.ID)
				continue
			}
			// ch has room for exactly one reply.
			ch <- msg
		default:
			c.logger.Errorf("cdp", "ignoring malformed incoming CDP message (missing id or method): %#v", msg)
		}
	}
}

func (c *Client) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.writeMessage(msg); err != nil {
				c.logger.Errorf("Client:sendLoop", "wsURL:%q id:%d err:%v", c.wsURL, msg.ID, err)
				c.shutdown(err)
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			c.logger.Debugf("Client:sendLoop:<-c.done", "wsURL:%q", c.wsURL)
			return
		}
	}
}
