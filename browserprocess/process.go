/*
 *
 * fcp-performance - First Contentful Paint measurement over CDP
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package browserprocess launches a local Chromium process and manages its
// lifetime.
package browserprocess

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/fcp-performance/fcp-performance/log"
	"github.com/fcp-performance/fcp-performance/osext"
	"github.com/fcp-performance/fcp-performance/storage"
)

// DefaultStartTimeout bounds how long the browser may take to start
// listening for CDP clients.
const DefaultStartTimeout = 30 * time.Second

// ErrExecutableNotFound is returned by Launch when no browser executable
// was given and none could be found.
var ErrExecutableNotFound = errors.New("couldn't find a Chrome or Chromium executable")

// LaunchOptions configures a browser process.
type LaunchOptions struct {
	// ExecutablePath is the browser executable. When empty, common
	// Chrome and Chromium names are looked up.
	ExecutablePath string
	// Args are passed to the browser as is, before the arguments Launch
	// adds itself.
	Args []string
	// Port is the remote debugging port the browser listens on.
	Port int
	// Env holds KEY=VALUE pairs added to the inherited environment.
	Env []string
	// StartTimeout defaults to DefaultStartTimeout.
	StartTimeout time.Duration
}

// Process is a browser process running locally. It must be terminated
// with Terminate.
type Process struct {
	cmd    command
	cancel context.CancelFunc

	// Browser's WebSocket URL to speak CDP
	wsURL string

	// The directory where user data for the browser is stored.
	userDataDir *storage.Dir

	logger *log.Logger

	terminateOnce sync.Once
}

// Launch starts the browser and waits until it listens for CDP clients.
// The process is killed when ctx is done.
func Launch(ctx context.Context, opts LaunchOptions, logger *log.Logger) (_ *Process, rerr error) {
	path := opts.ExecutablePath
	if path == "" {
		if path = ExecutablePath(); path == "" {
			return nil, ErrExecutableNotFound
		}
	}
	startTimeout := opts.StartTimeout
	if startTimeout == 0 {
		startTimeout = DefaultStartTimeout
	}

	// The browser writes to the real filesystem, so must its data dir.
	dataDir, err := storage.MakeDir(afero.NewOsFs(), "fcp-performance-chromium-")
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(ctx)
	defer func() {
		if rerr != nil {
			cancel()
		}
	}()

	args := BuildArgs(opts.Args, opts.Port, dataDir.Dir)
	logger.Debugf("Process:Launch", "executing %q %q", path, args)
	cmd, err := execute(procCtx, path, args, opts.Env, dataDir, logger)
	if err != nil {
		_ = dataDir.Cleanup()
		return nil, err
	}
	osext.Register(logger, cmd.Process.Pid)

	p := &Process{
		cmd:         cmd,
		cancel:      cancel,
		userDataDir: dataDir,
		logger:      logger,
	}

	parseCtx, parseCancel := context.WithTimeout(ctx, startTimeout)
	defer parseCancel()
	if p.wsURL, err = parseDevToolsURL(parseCtx, cmd, logger); err != nil {
		p.Terminate()
		return nil, fmt.Errorf("getting DevTools URL: %w", err)
	}
	logger.Debugf("Process:Launch", "pid:%d wsURL:%q", p.Pid(), p.wsURL)

	return p, nil
}

// Terminate kills the browser process, waits for it to exit and removes
// its user data directory. Only the first call has an effect.
func (p *Process) Terminate() {
	p.terminateOnce.Do(func() {
		p.logger.Debugf("Process:Terminate", "pid:%d", p.Pid())
		p.cancel()
		<-p.cmd.done
		osext.Unregister(p.Pid())
	})
}

// Done returns a channel closed once the process has exited and its user
// data directory has been removed.
func (p *Process) Done() <-chan struct{} {
	return p.cmd.done
}

// WsURL returns the Websocket URL that the browser is listening on for CDP clients.
func (p *Process) WsURL() string {
	return p.wsURL
}

// Pid returns the browser process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// UserDataDir returns the temporary user data directory of the browser.
func (p *Process) UserDataDir() string {
	return p.userDataDir.Dir
}

// BuildArgs returns the command line of a browser launched with userArgs,
// listening for CDP clients on port and storing its profile in dataDir.
func BuildArgs(userArgs []string, port int, dataDir string) []string {
	args := make([]string, 0, len(userArgs)+5)
	for _, a := range userArgs {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}

	has := func(flag string) bool {
		for _, a := range args {
			if a == flag || strings.HasPrefix(a, flag+"=") {
				return true
			}
		}
		return false
	}
	if !has("--remote-debugging-port") {
		args = append(args, fmt.Sprintf("--remote-debugging-port=%d", port))
	}
	if !has("--user-data-dir") {
		args = append(args, "--user-data-dir="+dataDir)
	}
	args = append(args, "--no-first-run", "--no-default-browser-check")

	// Force the first page to be blank, instead of the welcome page;
	// --no-first-run doesn't enforce that.
	return append(args, "about:blank")
}

type command struct {
	*exec.Cmd
	done   chan struct{}
	stderr io.Reader
}

func execute(
	ctx context.Context, path string, args, env []string,
	dataDir *storage.Dir, logger *log.Logger,
) (command, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	osext.KillAfterParent(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return command{}, fmt.Errorf("%w", err)
	}

	// Set up environment variable for process
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	// We must start the cmd before calling cmd.Wait, as otherwise the two
	// can run into a data race.
	err = cmd.Start()
	if os.IsNotExist(err) {
		return command{}, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return command{}, fmt.Errorf("%w", err)
	}
	if ctx.Err() != nil {
		return command{}, fmt.Errorf("%w", ctx.Err())
	}

	done := make(chan struct{})
	go func() {
		defer func() {
			if err := dataDir.Cleanup(); err != nil {
				logger.Errorf("browser", "cleaning up the user data directory: %v", err)
			}
			close(done)
		}()

		err := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			logger.Debugf("browser", "process with PID %d terminated", cmd.Process.Pid)
		case err != nil:
			logger.Errorf("browser",
				"process with PID %d unexpectedly ended: %v",
				cmd.Process.Pid, err)
		}
	}()

	return command{cmd, done, stderr}, nil
}

// parseDevToolsURL grabs the WebSocket address from Chrome's output and returns
// it. If the process ends abruptly, it will return the first error from stderr.
// Once the address is found, the rest of the output is logged at trace level.
func parseDevToolsURL(ctx context.Context, cmd command, logger *log.Logger) (string, error) {
	parser := &devToolsURLParser{
		sc: bufio.NewScanner(cmd.stderr),
	}
	parsed := make(chan struct{})
	go func() {
		for parser.scan() {
		}
		close(parsed)

		// The browser blocks once the pipe is full, so keep reading.
		for parser.sc.Scan() {
			logger.Tracef("browser", "stderr: %s", parser.sc.Text())
		}
	}()

	select {
	case <-parsed:
		return parser.result()
	case <-ctx.Done():
		return "", ctx.Err()
	case <-cmd.done:
		return "", errors.New("browser process ended unexpectedly")
	}
}

type devToolsURLParser struct {
	sc *bufio.Scanner

	errs []error
	url  string
}

func (p *devToolsURLParser) scan() bool {
	if !p.sc.Scan() {
		return false
	}

	const urlPrefix = "DevTools listening on "

	line := p.sc.Text()
	if strings.HasPrefix(line, urlPrefix) {
		p.url = strings.TrimPrefix(strings.TrimSpace(line), urlPrefix)
	}
	if strings.Contains(line, ":ERROR:") {
		if i := strings.Index(line, "] "); i > 0 {
			p.errs = append(p.errs, errors.New(line[i+2:]))
		}
	}

	return p.url == ""
}

func (p *devToolsURLParser) result() (string, error) {
	if p.url != "" {
		return p.url, nil
	}
	if len(p.errs) > 0 {
		return "", p.errs[0]
	}

	err := p.sc.Err()
	if errors.Is(err, fs.ErrClosed) {
		return "", fmt.Errorf("browser process shutdown unexpectedly before establishing a connection: %w", err)
	}
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return "", errors.New("browser output ended before it started listening for CDP clients")
}
