package cdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"

	"github.com/fcp-performance/fcp-performance/log"
)

const handshakeTimeout = 10 * time.Second

// connection is a websocket connection speaking CDP. Only one goroutine
// may read and only one may write at a time.
type connection struct {
	ws     *websocket.Conn
	wsURL  string
	logger *log.Logger

	closeOnce sync.Once
	closeErr  error
}

func newConnection(ctx context.Context, wsURL string, logger *log.Logger) (*connection, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		// CDP replies such as large evaluate results easily exceed the
		// default 4KB buffers.
		ReadBufferSize:  1 << 20,
		WriteBufferSize: 1 << 20,
		Proxy:           http.ProxyFromEnvironment,
	}
	ws, _, err := wd.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", wsURL, err)
	}

	return &connection{
		ws:     ws,
		wsURL:  wsURL,
		logger: logger,
	}, nil
}

func (c *connection) readMessage() (*cdproto.Message, error) {
	_, buf, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading from %q: %w", c.wsURL, err)
	}

	var msg cdproto.Message
	if err := easyjson.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("unmarshalling CDP message: %w", err)
	}
	c.logger.Tracef("connection:readMessage", "<- %s", buf)

	return &msg, nil
}

func (c *connection) writeMessage(msg *cdproto.Message) error {
	var encoder jwriter.Writer
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		return fmt.Errorf("marshalling CDP message: %w", err)
	}

	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("connection.writeMessage:NextWriter: %w", err)
	}
	if _, err := encoder.DumpTo(w); err != nil {
		return fmt.Errorf("connection.writeMessage:DumpTo: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("connection.writeMessage:Close: %w", err)
	}
	c.logger.Tracef("connection:writeMessage", "-> id:%d method:%q sid:%q", msg.ID, msg.Method, msg.SessionID)

	return nil
}

// Close sends a close frame and closes the underlying network connection.
// Only the first call has an effect.
func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		err := c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
			c.logger.Debugf("connection:Close", "wsURL:%q sending close frame: %v", c.wsURL, err)
		}
		if err := c.ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = fmt.Errorf("closing websocket %q: %w", c.wsURL, err)
		}
	})

	return c.closeErr
}

// isClosedErr reports whether err is the result of a closed connection,
// either closed by us or by the browser.
func isClosedErr(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
