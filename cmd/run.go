package cmd

import (
	"context"
	"fmt"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/spf13/cobra"

	"github.com/fcp-performance/fcp-performance/browserprocess"
	"github.com/fcp-performance/fcp-performance/cdp"
	"github.com/fcp-performance/fcp-performance/fcp"
	"github.com/fcp-performance/fcp-performance/input"
	"github.com/fcp-performance/fcp-performance/log"
	"github.com/fcp-performance/fcp-performance/record"
	"github.com/fcp-performance/fcp-performance/storage"
	"github.com/fcp-performance/fcp-performance/trace"
)

// closeBrowserTimeout bounds asking a launched browser to close before
// killing it.
const closeBrowserTimeout = 2 * time.Second

func (c *rootCommand) run(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = c.ctx
	}

	conf, err := consolidateConfig(c.fs, cmd.Flags(), c.configFilePath, c.configRequired())
	if err != nil {
		return err
	}
	logger, err := c.setupLogger(conf)
	if err != nil {
		return err
	}

	runID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("generating run ID: %w", err)
	}
	logger.Debugf("cmd", "run:%s config:%+v", runID, conf)

	tracer, shutdown, err := newTracer(ctx, conf, logger, runID.String())
	if err != nil {
		return err
	}
	defer shutdown()

	// Read the input first so that a bad input doesn't cost a browser.
	urls, err := input.ReadURLs(c.fs, conf.Input.String, logger)
	if err != nil {
		return err
	}
	logger.Infof("cmd", "measuring %d urls from %q", len(urls), conf.Input.String)

	browserArgs := conf.BrowserArgList()
	launched := conf.LaunchChrome.Bool
	var sess *cdp.Session
	if launched {
		proc, err := c.launchBrowser(ctx, browserprocess.LaunchOptions{
			ExecutablePath: conf.ChromePath.String,
			Args:           browserArgs,
			Port:           int(conf.Port.Int64),
			Env:            conf.BrowserEnvList(),
		}, logger)
		if err != nil {
			return fmt.Errorf("launching browser: %w", err)
		}
		logger.Debugf("cmd", "launched browser with pid %d listening on %q", proc.Pid(), proc.WsURL())
		defer proc.Terminate()

		// The browser may listen elsewhere than --port if the browser
		// arguments pick the debugging port.
		sess, err = cdp.OpenURL(ctx, proc.WsURL(), logger)
		if err != nil {
			return err
		}
	} else {
		sess, err = cdp.Open(ctx, conf.Host.String, int(conf.Port.Int64), logger)
		if err != nil {
			return err
		}
	}
	defer func() { _ = sess.Close() }()
	if launched {
		defer closeBrowser(sess, logger)
	}

	info, err := sess.BrowserInfo(ctx)
	if err != nil {
		return err
	}
	logger.Infof("cmd", "connected to %s", info.Product)
	if err := sess.EnablePage(ctx); err != nil {
		return fmt.Errorf("enabling page events: %w", err)
	}

	start := c.now()
	runner := fcp.NewRunner(sess, logger,
		fcp.WithNavigationTimeout(conf.NavigationTimeout.Duration),
		fcp.WithObservationTimeout(conf.ObservationTimeout.Duration),
		fcp.WithTracer(tracer),
		fcp.WithClock(c.now),
	)
	ms := runner.RunBatch(ctx, urls)

	rec := record.Build(info, ms, start, c.collectOSInfo(), browserArgs)
	// An interrupted run still keeps what it measured.
	persister := storage.NewLocalFilePersister(c.fs)
	if err := record.Persist(context.WithoutCancel(ctx), persister, rec, conf.Output.String); err != nil {
		return err
	}
	logger.Infof("cmd", "wrote %d measurements to %q", len(rec.Measurements), conf.Output.String)
	printSummary(c.stdout, rec, conf.Output.String, conf.NoColor.Bool)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	return nil
}

// closeBrowser asks the browser to close before its process is killed.
func closeBrowser(sess *cdp.Session, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeBrowserTimeout)
	defer cancel()
	if err := sess.CloseBrowser(ctx); err != nil {
		logger.Debugf("cmd", "closing browser: %v", err)
	}
}

func newTracer(ctx context.Context, conf Config, logger *log.Logger, runID string) (*trace.Tracer, func(), error) {
	if conf.OTLPEndpoint.String == "" {
		return trace.NewNoopTracer(), func() {}, nil
	}

	tp, err := trace.NewTraceProvider(ctx, "http", conf.OTLPEndpoint.String, true)
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace provider: %w", err)
	}
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warnf("cmd", "shutting down trace provider: %v", err)
		}
	}

	return trace.NewTracer(logger, tp, map[string]string{"fcp.run_id": runID}), shutdown, nil
}
