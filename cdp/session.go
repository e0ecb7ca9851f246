package cdp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"

	"github.com/fcp-performance/fcp-performance/log"
)

const blankPage = "about:blank"

// ConnectionError is returned when a session with the browser couldn't be
// established. It's fatal for a run.
type ConnectionError struct {
	Host string
	Port int
	// URL is the websocket URL connected to, when it was known upfront.
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	addr := e.URL
	if addr == "" {
		addr = net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	}
	return fmt.Sprintf("connecting to browser at %s: %v", addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// BrowserInfo identifies the connected browser.
type BrowserInfo struct {
	// Product is the full product string, e.g. "HeadlessChrome/120.0.6099.71".
	Product   string
	Version   string
	UserAgent string
}

// Session is a CDP connection to the browser with a single page attached.
// Page and Runtime commands issued through it go to that page.
//
// A Session isn't safe for concurrent use.
type Session struct {
	client *Client
	logger *log.Logger

	host      string
	port      int
	targetID  string
	sessionID string

	closeOnce sync.Once
	closeErr  error
}

// Open connects to the browser listening for CDP clients on host:port and
// attaches to one of its pages, creating a blank one if there's none.
// The returned error, if any, is a *ConnectionError.
func Open(ctx context.Context, host string, port int, logger *log.Logger) (*Session, error) {
	wrap := func(err error) error {
		return &ConnectionError{Host: host, Port: port, Err: err}
	}

	wsURL, err := discoverWebSocketURL(ctx, host, port)
	if err != nil {
		return nil, wrap(err)
	}
	s, err := open(ctx, wsURL, logger)
	if err != nil {
		return nil, wrap(err)
	}
	s.host, s.port = host, port

	return s, nil
}

// OpenURL is like Open for a browser whose websocket URL is already known,
// such as one launched by this process.
func OpenURL(ctx context.Context, wsURL string, logger *log.Logger) (*Session, error) {
	s, err := open(ctx, wsURL, logger)
	if err != nil {
		return nil, &ConnectionError{URL: wsURL, Err: err}
	}

	return s, nil
}

func open(ctx context.Context, wsURL string, logger *log.Logger) (*Session, error) {
	c := NewClient(context.Background(), logger)
	if err := c.Connect(wsURL); err != nil {
		return nil, err
	}

	s := &Session{
		client: c,
		logger: logger,
	}
	if err := s.attach(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	logger.Debugf("Session:Open", "attached to target %s with session %s", s.targetID, s.sessionID)

	return s, nil
}

func (s *Session) attach(ctx context.Context) error {
	infos, err := s.client.Target.GetTargets(ctx)
	if err != nil {
		return err
	}
	for _, ti := range infos {
		if ti.Type == "page" {
			s.targetID = string(ti.TargetID)
			break
		}
	}
	if s.targetID == "" {
		if s.targetID, err = s.client.Target.CreateTarget(ctx, blankPage); err != nil {
			return err
		}
	}

	s.sessionID, err = s.client.Target.AttachToTarget(ctx, s.targetID)

	return err
}

func (s *Session) pageCtx(ctx context.Context) context.Context {
	return WithSessionID(ctx, s.sessionID)
}

// BrowserInfo returns the product and version of the connected browser.
func (s *Session) BrowserInfo(ctx context.Context) (BrowserInfo, error) {
	_, product, _, ua, _, err := s.client.Browser.GetVersion(ctx)
	if err != nil {
		return BrowserInfo{}, fmt.Errorf("getting browser version: %w", err)
	}

	info := BrowserInfo{Product: product, Version: product, UserAgent: ua}
	if i := strings.Index(product, "/"); i != -1 {
		info.Version = product[i+1:]
	}

	return info, nil
}

// EnablePage enables Page domain events for the attached page.
func (s *Session) EnablePage(ctx context.Context) error {
	return s.client.Page.Enable(s.pageCtx(ctx))
}

// Navigate navigates the attached page to url. See domains.Page.Navigate.
func (s *Session) Navigate(ctx context.Context, url string) (errorText string, err error) {
	return s.client.Page.Navigate(s.pageCtx(ctx), url)
}

// Evaluate evaluates expression in the attached page's current document,
// awaiting the promise it returns.
func (s *Session) Evaluate(ctx context.Context, expression string) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	return s.client.Runtime.Evaluate(s.pageCtx(ctx), expression, true)
}

// CloseBrowser asks the browser to close gracefully.
func (s *Session) CloseBrowser(ctx context.Context) error {
	return s.client.Browser.Close(ctx)
}

// Close closes the connection to the browser. Only the first call has an
// effect; later calls return the first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Debugf("Session:Close", "closing CDP session %s", s.sessionID)
		s.closeErr = s.client.Close()
	})

	return s.closeErr
}

// discoverWebSocketURL asks the browser's HTTP endpoint for the websocket
// URL of its browser target.
func discoverWebSocketURL(ctx context.Context, host string, port int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	u := fmt.Sprintf("http://%s/json/version", net.JoinHostPort(host, strconv.Itoa(port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %q: %w", u, err)
	}
	client := &http.Client{Timeout: handshakeTimeout + time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting %q: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("requesting %q: unexpected status %s", u, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading %q: %w", u, err)
	}
	wsURL := gjson.GetBytes(body, "webSocketDebuggerUrl").String()
	if wsURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl in response from %q", u)
	}

	return wsURL, nil
}
