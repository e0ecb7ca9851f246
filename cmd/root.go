// Package cmd implements the fcp-performance command line.
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fcp-performance/fcp-performance/browserprocess"
	"github.com/fcp-performance/fcp-performance/log"
	"github.com/fcp-performance/fcp-performance/osext"
	"github.com/fcp-performance/fcp-performance/sysinfo"
)

const defaultConfigFilePath = "fcp-performance.yaml"

// browserProcess is a browser launched for the duration of a run.
type browserProcess interface {
	Pid() int
	WsURL() string
	Terminate()
}

// This is to keep all fields needed for the root command
type rootCommand struct {
	ctx    context.Context
	logger *logrus.Logger
	cmd    *cobra.Command

	stdout, stderr *consoleWriter
	fs             afero.Fs

	configFilePath string

	// Sources of a run that tests replace.
	now           func() time.Time
	collectOSInfo func() sysinfo.OSInfo
	launchBrowser func(context.Context, browserprocess.LaunchOptions, *log.Logger) (browserProcess, error)
}

func newRootCommand(ctx context.Context, logger *logrus.Logger, stdout, stderr *consoleWriter, fs afero.Fs) *rootCommand {
	c := &rootCommand{
		ctx:           ctx,
		logger:        logger,
		stdout:        stdout,
		stderr:        stderr,
		fs:            fs,
		now:           time.Now,
		collectOSInfo: sysinfo.NewCollector().Collect,
		launchBrowser: func(ctx context.Context, opts browserprocess.LaunchOptions, l *log.Logger) (browserProcess, error) {
			return browserprocess.Launch(ctx, opts, l)
		},
	}
	c.cmd = &cobra.Command{
		Use:   "fcp-performance",
		Short: "Measure First Contentful Paint of a list of URLs",
		Long: "A tool to measure First Contentful Paint performance of a list of URLs.\n\n" +
			"Every URL is loaded in turn in a Chrome instance driven over the DevTools\n" +
			"protocol. URLs whose paint couldn't be measured are recorded with a null fcp.",
		Version:       fullVersion(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.run,
	}

	flags := c.cmd.Flags()
	// -h is --host, so help only gets the long form.
	flags.Bool("help", false, "help for fcp-performance")
	flags.AddFlagSet(configFlagSet())
	envConfigPath := os.Getenv("FCP_CONFIG")
	if envConfigPath == "" {
		envConfigPath = defaultConfigFilePath
	}
	flags.StringVarP(&c.configFilePath, "config", "c", envConfigPath, "YAML config file")
	flags.Lookup("config").DefValue = defaultConfigFilePath
	must(cobra.MarkFlagFilename(flags, "config", "yaml", "yml"))
	must(cobra.MarkFlagFilename(flags, "input", "csv"))

	return c
}

// configRequired tells whether the config file was asked for, so that it
// not being there is an error.
func (c *rootCommand) configRequired() bool {
	_, fromEnv := os.LookupEnv("FCP_CONFIG")
	return fromEnv || c.cmd.Flags().Changed("config")
}

// setupLogger configures the logger from conf and returns the category
// logger the run logs to.
func (c *rootCommand) setupLogger(conf Config) (*log.Logger, error) {
	if conf.NoColor.Bool {
		c.stdout.disableColors()
		c.stderr.disableColors()
	}
	c.logger.SetOutput(c.stderr)
	c.logger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   c.stderr.IsTTY,
		DisableColors: conf.NoColor.Bool,
	})

	logger := log.New(c.logger, nil)
	if err := logger.SetLevel(conf.LogLevel.String); err != nil {
		return nil, err
	}
	if err := logger.SetCategoryFilter(conf.LogCategoryFilter.String); err != nil {
		return nil, err
	}
	logger.Debugf("cmd", "fcp-performance version: v%s", fullVersion())

	return logger, nil
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	outMutex := &sync.Mutex{}
	stdout := newConsoleWriter(os.Stdout, outMutex)
	stderr := newConsoleWriter(os.Stderr, outMutex)
	logger := &logrus.Logger{
		Out:       stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	// Don't leave a browser behind when we're dying.
	defer func() {
		if r := recover(); r != nil {
			osext.ForceProcessShutdown()
			panic(r)
		}
	}()

	c := newRootCommand(ctx, logger, stdout, stderr, afero.NewOsFs())
	if err := c.cmd.ExecuteContext(ctx); err != nil {
		fields := logrus.Fields{}
		if errors.Is(err, context.Canceled) {
			fields["hint"] = "the run was interrupted"
		}
		logger.WithFields(fields).Error(err)
		cancel()
		os.Exit(1) //nolint:gocritic
	}
}
