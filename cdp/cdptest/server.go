// Package cdptest provides a fake CDP browser for tests.
package cdptest

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
)

// Default values the fake browser replies with.
const (
	Product   = "HeadlessChrome/120.0.6099.71"
	UserAgent = "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0.6099.71"
	TargetID  = "E3A1C0F5B5D34F3D8F7A0D1D2B3C4D5E"
	SessionID = "0479DCBFC35D9B062F09FD1EAEE2639D"
)

// Handler replies to a CDP command. It returns the raw JSON result, or a
// protocol error. Handlers run on their own goroutine, so a slow handler
// doesn't hold back replies to other commands.
type Handler func(msg *cdproto.Message) (easyjson.RawMessage, *cdproto.Error)

// Server is a fake browser speaking just enough CDP for a measurement run.
type Server struct {
	*httptest.Server

	t testing.TB

	mu       sync.Mutex
	handlers map[cdproto.MethodType]Handler
	received []*cdproto.Message
	conns    []*websocket.Conn
}

// NewServer starts a fake browser. It is closed when the test finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		t:        t,
		handlers: defaultHandlers(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", s.handleVersion)
	mux.HandleFunc("/devtools/browser/", s.handleWebSocket)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// Handle replaces the handler for method.
func (s *Server) Handle(method cdproto.MethodType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HostPort returns the host and port the fake browser listens on.
func (s *Server) HostPort() (string, int) {
	host, port, err := net.SplitHostPort(s.Listener.Addr().String())
	if err != nil {
		s.t.Fatalf("splitting listener address: %v", err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		s.t.Fatalf("parsing listener port: %v", err)
	}
	return host, p
}

// Received returns the commands received so far, in order.
func (s *Server) Received() []*cdproto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*cdproto.Message(nil), s.received...)
}

// Methods returns the methods of the commands received so far, in order.
func (s *Server) Methods() []cdproto.MethodType {
	msgs := s.Received()
	methods := make([]cdproto.MethodType, 0, len(msgs))
	for _, m := range msgs {
		methods = append(methods, m.Method)
	}
	return methods
}

// DropConnections closes all websocket connections from the browser side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

// WebSocketURL returns the URL of the fake browser's CDP endpoint.
func (s *Server) WebSocketURL() string {
	return "ws://" + s.Listener.Addr().String() + "/devtools/browser/fake"
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"Browser":%q,"Protocol-Version":"1.3","User-Agent":%q,"webSocketDebuggerUrl":%q}`,
		Product, UserAgent, s.WebSocketURL())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var upgrader websocket.Upgrader
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrading websocket connection: %v", err)
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	defer func() { _ = conn.Close() }()

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg cdproto.Message
		if err := easyjson.Unmarshal(buf, &msg); err != nil {
			s.t.Errorf("unmarshalling CDP message %s: %v", buf, err)
			return
		}

		s.mu.Lock()
		s.received = append(s.received, &msg)
		h, ok := s.handlers[msg.Method]
		s.mu.Unlock()
		if !ok {
			h = func(*cdproto.Message) (easyjson.RawMessage, *cdproto.Error) {
				return nil, &cdproto.Error{Code: -32601, Message: fmt.Sprintf("'%s' wasn't found", msg.Method)}
			}
		}

		wg.Add(1)
		go func(msg *cdproto.Message) {
			defer wg.Done()

			result, perr := h(msg)
			reply := &cdproto.Message{ID: msg.ID, SessionID: msg.SessionID, Error: perr}
			if perr == nil {
				if result == nil {
					result = easyjson.RawMessage("{}")
				}
				reply.Result = result
			}
			out, err := easyjson.Marshal(reply)
			if err != nil {
				s.t.Errorf("marshalling reply: %v", err)
				return
			}

			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.WriteMessage(websocket.TextMessage, out)
		}(&msg)
	}
}

func defaultHandlers() map[cdproto.MethodType]Handler {
	return map[cdproto.MethodType]Handler{
		cdproto.CommandBrowserGetVersion: Reply(fmt.Sprintf(
			`{"protocolVersion":"1.3","product":%q,"revision":"@1","userAgent":%q,"jsVersion":"12.0"}`,
			Product, UserAgent)),
		cdproto.CommandBrowserClose: Reply(`{}`),
		cdproto.CommandTargetGetTargets: Reply(fmt.Sprintf(
			`{"targetInfos":[{"targetId":%q,"type":"page","title":"about:blank","url":"about:blank","attached":false,"canAccessOpener":false}]}`,
			TargetID)),
		cdproto.CommandTargetCreateTarget:   Reply(fmt.Sprintf(`{"targetId":%q}`, TargetID)),
		cdproto.CommandTargetAttachToTarget: Reply(fmt.Sprintf(`{"sessionId":%q}`, SessionID)),
		cdproto.CommandPageEnable:           Reply(`{}`),
		cdproto.CommandPageNavigate:         Reply(`{"frameId":"F1","loaderId":"L1"}`),
		cdproto.CommandRuntimeEvaluate:      Reply(`{"result":{"type":"number","value":842.3,"description":"842.3"}}`),
	}
}

// Reply returns a handler always replying with result.
func Reply(result string) Handler {
	return func(*cdproto.Message) (easyjson.RawMessage, *cdproto.Error) {
		return easyjson.RawMessage(result), nil
	}
}
