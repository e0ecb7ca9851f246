package browserprocess

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcp-performance/fcp-performance/log"
)

func TestParseDevToolsURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name               string
		stderr             []string
		readErr            error
		prematureCtxCancel bool
		prematureCmdDone   bool
		assert             func(t *testing.T, wsURL string, err error)
	}{
		{
			name: "ok/no_error",
			stderr: []string{
				`DevTools listening on ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7`,
			},
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.NoError(t, err)
				assert.Equal(t, "ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7", wsURL)
			},
		},
		{
			name: "ok/non-fatal_error",
			stderr: []string{
				`[23400:23418:1028/115455.877614:ERROR:bus.cc(399)] Failed to ` +
					`connect to the bus: Could not parse server address: ` +
					`Unknown address type (examples of valid types are "tcp" ` +
					`and on UNIX "unix")`,
				"",
				`DevTools listening on ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7`,
			},
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.NoError(t, err)
				assert.Equal(t, "ws://127.0.0.1:41315/devtools/browser/d1d3f8eb-b362-4f12-9370-bd25778d0da7", wsURL)
			},
		},
		{
			name: "err/fatal-eof",
			stderr: []string{
				`[6497:6497:1013/103521.932979:ERROR:ozone_platform_x11` +
					`.cc(247)] Missing X server or $DISPLAY`,
			},
			readErr: io.ErrUnexpectedEOF,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "Missing X server or $DISPLAY")
			},
		},
		{
			name:    "err/fatal-eof-no_stderr",
			readErr: io.ErrUnexpectedEOF,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "unexpected EOF")
			},
		},
		{
			name:    "err/clean-eof",
			readErr: io.EOF,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.ErrorContains(t, err, "before it started listening")
			},
		},
		{
			name:             "err/fatal-premature_cmd_done",
			stderr:           []string{""},
			prematureCmdDone: true,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "browser process ended unexpectedly")
			},
		},
		{
			name:               "err/fatal-premature_ctx_cancel",
			stderr:             []string{""},
			prematureCtxCancel: true,
			assert: func(t *testing.T, wsURL string, err error) {
				t.Helper()
				require.Empty(t, wsURL)
				assert.EqualError(t, err, "context canceled")
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// The pipe stays open, like a live browser's stderr, unless
			// the test case ends it with readErr.
			pr, pw := io.Pipe()
			t.Cleanup(func() { _ = pw.Close() })
			go func() {
				for _, l := range tc.stderr {
					if _, err := io.WriteString(pw, l+"\n"); err != nil {
						return
					}
				}
				if tc.readErr != nil {
					_ = pw.CloseWithError(tc.readErr)
				}
			}()

			cmdDone := make(chan struct{})
			cmd := command{done: cmdDone, stderr: pr}

			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)

			timeout := time.Second
			timer := time.NewTimer(timeout)
			t.Cleanup(func() { _ = timer.Stop() })

			var (
				done  = make(chan struct{})
				wsURL string
				err   error
			)

			go func() {
				wsURL, err = parseDevToolsURL(ctx, cmd, log.NewNullLogger())
				close(done)
			}()

			if tc.prematureCmdDone {
				time.Sleep(200 * time.Millisecond)
				close(cmdDone)
			}

			if tc.prematureCtxCancel {
				time.Sleep(200 * time.Millisecond)
				cancel()
			}

			select {
			case <-done:
				tc.assert(t, wsURL, err)
			case <-timer.C:
				t.Errorf("test timed out after %s", timeout)
			}
		})
	}
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		args := BuildArgs([]string{"--disable-gpu", "--no-sandbox", "--headless", ""}, 9222, "/tmp/data")
		assert.Equal(t, []string{
			"--disable-gpu",
			"--no-sandbox",
			"--headless",
			"--remote-debugging-port=9222",
			"--user-data-dir=/tmp/data",
			"--no-first-run",
			"--no-default-browser-check",
			"about:blank",
		}, args)
	})

	t.Run("user_overrides", func(t *testing.T) {
		t.Parallel()

		args := BuildArgs([]string{"--remote-debugging-port=9333", "--user-data-dir=/profile"}, 9222, "/tmp/data")
		assert.Equal(t, []string{
			"--remote-debugging-port=9333",
			"--user-data-dir=/profile",
			"--no-first-run",
			"--no-default-browser-check",
			"about:blank",
		}, args)
	})
}

// writeFakeBrowser writes a shell script behaving like a browser that
// runs script after being started.
func writeFakeBrowser(t *testing.T, script string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake browser is a shell script")
	}
	path := filepath.Join(t.TempDir(), "fake-chrome")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o700)) //nolint:gosec
	return path
}

func TestLaunch(t *testing.T) {
	t.Parallel()

	const wsURL = "ws://127.0.0.1:9222/devtools/browser/fake"
	path := writeFakeBrowser(t, fmt.Sprintf(`echo "DevTools listening on %s" >&2
exec sleep 60`, wsURL))

	p, err := Launch(context.Background(), LaunchOptions{
		ExecutablePath: path,
		Args:           []string{"--headless"},
		Port:           9222,
	}, log.NewNullLogger())
	require.NoError(t, err)

	assert.Equal(t, wsURL, p.WsURL())
	assert.Positive(t, p.Pid())
	assert.DirExists(t, p.UserDataDir())
	assert.True(t, strings.HasPrefix(filepath.Base(p.UserDataDir()), "fcp-performance-chromium-"))

	p.Terminate()
	p.Terminate()

	select {
	case <-p.Done():
	default:
		t.Fatal("Terminate returned before the process exited")
	}
	assert.NoDirExists(t, p.UserDataDir())
}

func TestLaunchEnv(t *testing.T) {
	t.Parallel()

	// The fake browser only starts listening when it sees the variable.
	path := writeFakeBrowser(t, `[ "$FCP_FAKE_PORT" = "4242" ] || exit 1
echo "DevTools listening on ws://127.0.0.1:$FCP_FAKE_PORT/devtools/browser/fake" >&2
exec sleep 60`)

	p, err := Launch(context.Background(), LaunchOptions{
		ExecutablePath: path,
		Env:            []string{"FCP_FAKE_PORT=4242"},
		StartTimeout:   5 * time.Second,
	}, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(p.Terminate)

	assert.Equal(t, "ws://127.0.0.1:4242/devtools/browser/fake", p.WsURL())
}

func TestLaunchBrowserFails(t *testing.T) {
	t.Parallel()

	path := writeFakeBrowser(t, `echo "[1:1:1013/103521.932979:ERROR:ozone_platform_x11.cc(247)] Missing X server or \$DISPLAY" >&2
exit 1`)

	_, err := Launch(context.Background(), LaunchOptions{
		ExecutablePath: path,
		StartTimeout:   5 * time.Second,
	}, log.NewNullLogger())
	assert.ErrorContains(t, err, "getting DevTools URL")
}

func TestLaunchMissingExecutable(t *testing.T) {
	t.Parallel()

	_, err := Launch(context.Background(), LaunchOptions{
		ExecutablePath: filepath.Join(t.TempDir(), "no-such-browser"),
	}, log.NewNullLogger())
	assert.Error(t, err)
}
