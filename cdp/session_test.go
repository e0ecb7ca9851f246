package cdp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/fcp-performance/fcp-performance/cdp/cdptest"
	"github.com/fcp-performance/fcp-performance/log"
)

func newTestSession(t *testing.T, srv *cdptest.Server) *Session {
	t.Helper()

	host, port := srv.HostPort()
	s, err := Open(context.Background(), host, port, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestSessionOpen(t *testing.T) {
	t.Parallel()

	t.Run("attaches_to_existing_page", func(t *testing.T) {
		t.Parallel()

		srv := cdptest.NewServer(t)
		s := newTestSession(t, srv)

		assert.Equal(t, cdptest.TargetID, s.targetID)
		assert.Equal(t, cdptest.SessionID, s.sessionID)
		assert.Equal(t, []cdproto.MethodType{
			cdproto.CommandTargetGetTargets,
			cdproto.CommandTargetAttachToTarget,
		}, srv.Methods())
	})

	t.Run("creates_page_when_none", func(t *testing.T) {
		t.Parallel()

		srv := cdptest.NewServer(t)
		srv.Handle(cdproto.CommandTargetGetTargets, cdptest.Reply(`{"targetInfos":[]}`))
		s := newTestSession(t, srv)

		assert.Equal(t, cdptest.TargetID, s.targetID)
		assert.Equal(t, []cdproto.MethodType{
			cdproto.CommandTargetGetTargets,
			cdproto.CommandTargetCreateTarget,
			cdproto.CommandTargetAttachToTarget,
		}, srv.Methods())
		assert.Equal(t, "about:blank", gjson.GetBytes(srv.Received()[1].Params, "url").String())
	})

	t.Run("err/nothing_listening", func(t *testing.T) {
		t.Parallel()

		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())

		_, err = Open(context.Background(), "127.0.0.1", port, log.NewNullLogger())
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, port, connErr.Port)
		assert.Equal(t, "127.0.0.1", connErr.Host)
	})

	t.Run("err/attach_fails", func(t *testing.T) {
		t.Parallel()

		srv := cdptest.NewServer(t)
		srv.Handle(cdproto.CommandTargetAttachToTarget, func(*cdproto.Message) (easyjson.RawMessage, *cdproto.Error) {
			return nil, &cdproto.Error{Code: -32000, Message: "No target with given id found"}
		})
		host, port := srv.HostPort()
		_, err := Open(context.Background(), host, port, log.NewNullLogger())

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.ErrorContains(t, err, "No target with given id found")
	})
}

func TestSessionOpenURL(t *testing.T) {
	t.Parallel()

	t.Run("skips_discovery", func(t *testing.T) {
		t.Parallel()

		srv := cdptest.NewServer(t)
		s, err := OpenURL(context.Background(), srv.WebSocketURL(), log.NewNullLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		assert.Equal(t, cdptest.SessionID, s.sessionID)
		info, err := s.BrowserInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, cdptest.Product, info.Product)
	})

	t.Run("err/nothing_listening", func(t *testing.T) {
		t.Parallel()

		srv := cdptest.NewServer(t)
		wsURL := srv.WebSocketURL()
		srv.Close()

		_, err := OpenURL(context.Background(), wsURL, log.NewNullLogger())
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, wsURL, connErr.URL)
		assert.ErrorContains(t, err, "connecting to browser at "+wsURL)
	})
}

func TestSessionCommands(t *testing.T) {
	t.Parallel()

	srv := cdptest.NewServer(t)
	s := newTestSession(t, srv)
	ctx := context.Background()

	info, err := s.BrowserInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, cdptest.Product, info.Product)
	assert.Equal(t, "120.0.6099.71", info.Version)
	assert.Equal(t, cdptest.UserAgent, info.UserAgent)

	require.NoError(t, s.EnablePage(ctx))

	errorText, err := s.Navigate(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, errorText)

	res, exc, err := s.Evaluate(ctx, "1+1")
	require.NoError(t, err)
	assert.Nil(t, exc)
	assert.Equal(t, "842.3", string(res.Value))

	msgs := srv.Received()
	require.Len(t, msgs, 6)

	// Browser commands go to the browser target, page commands to the
	// attached page.
	assert.Empty(t, msgs[2].SessionID)
	for _, m := range msgs[3:] {
		assert.Equal(t, cdptest.SessionID, string(m.SessionID), m.Method)
	}
	assert.Equal(t, "https://example.com", gjson.GetBytes(msgs[4].Params, "url").String())
	assert.True(t, gjson.GetBytes(msgs[5].Params, "awaitPromise").Bool())
	assert.True(t, gjson.GetBytes(msgs[5].Params, "returnByValue").Bool())
}

func TestSessionNavigateErrorText(t *testing.T) {
	t.Parallel()

	srv := cdptest.NewServer(t)
	srv.Handle(cdproto.CommandPageNavigate,
		cdptest.Reply(`{"frameId":"F1","loaderId":"L1","errorText":"net::ERR_NAME_NOT_RESOLVED"}`))
	s := newTestSession(t, srv)

	errorText, err := s.Navigate(context.Background(), "https://nope.invalid")
	require.NoError(t, err)
	assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", errorText)
}

func TestSessionProtocolError(t *testing.T) {
	t.Parallel()

	srv := cdptest.NewServer(t)
	srv.Handle(cdproto.CommandPageNavigate, func(*cdproto.Message) (easyjson.RawMessage, *cdproto.Error) {
		return nil, &cdproto.Error{Code: -32000, Message: "Cannot navigate to invalid URL"}
	})
	s := newTestSession(t, srv)

	_, err := s.Navigate(context.Background(), "https:///")
	var perr *cdproto.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Cannot navigate to invalid URL", perr.Message)
}

func TestSessionLateReplyIsDiscarded(t *testing.T) {
	t.Parallel()

	srv := cdptest.NewServer(t)
	release := make(chan struct{})
	srv.Handle(cdproto.CommandRuntimeEvaluate, func(msg *cdproto.Message) (easyjson.RawMessage, *cdproto.Error) {
		if gjson.GetBytes(msg.Params, "expression").String() == "slow" {
			<-release
		}
		return easyjson.RawMessage(`{"result":{"type":"number","value":1}}`), nil
	})
	s := newTestSession(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := s.Evaluate(ctx, "slow")
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	// The slow reply arrives after nobody waits for it anymore; it must
	// not be mistaken for the reply to the next command.
	close(release)
	res, _, err := s.Evaluate(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, "1", string(res.Value))
}

func TestSessionClose(t *testing.T) {
	t.Parallel()

	srv := cdptest.NewServer(t)
	s := newTestSession(t, srv)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Navigate(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestSessionLostConnection(t *testing.T) {
	t.Parallel()

	srv := cdptest.NewServer(t)
	s := newTestSession(t, srv)

	srv.DropConnections()
	select {
	case <-s.client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client didn't notice the lost connection")
	}

	_, err := s.Navigate(context.Background(), "https://example.com")
	assert.ErrorContains(t, err, "lost CDP connection")
}
