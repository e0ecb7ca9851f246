package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/fcp-performance/fcp-performance/fcp"
)

const envPrefix = "fcp"

// NullDuration is a time.Duration that may be unset.
type NullDuration struct {
	Duration time.Duration
	Valid    bool
}

// NewNullDuration returns a NullDuration.
func NewNullDuration(d time.Duration, valid bool) NullDuration {
	return NullDuration{Duration: d, Valid: valid}
}

// UnmarshalText parses durations like "10s" or "1500ms". Empty text unsets
// the duration.
func (d *NullDuration) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = NullDuration{}
		return nil
	}
	v, err := time.ParseDuration(string(data))
	if err != nil {
		return err //nolint:wrapcheck
	}
	*d = NullDuration{Duration: v, Valid: true}

	return nil
}

// Config is the consolidated configuration of a run.
type Config struct {
	Input              null.String  `yaml:"input" envconfig:"input"`
	Output             null.String  `yaml:"output" envconfig:"output"`
	BrowserArgs        null.String  `yaml:"browserArgs" envconfig:"browser_args"`
	BrowserEnv         null.String  `yaml:"browserEnv" envconfig:"browser_env"`
	LaunchChrome       null.Bool    `yaml:"launchChrome" envconfig:"launch_chrome"`
	ChromePath         null.String  `yaml:"chromePath" envconfig:"chrome_path"`
	Host               null.String  `yaml:"host" envconfig:"host"`
	Port               null.Int     `yaml:"port" envconfig:"port"`
	NavigationTimeout  NullDuration `yaml:"navigationTimeout" envconfig:"navigation_timeout"`
	ObservationTimeout NullDuration `yaml:"observationTimeout" envconfig:"observation_timeout"`

	LogLevel          null.String `yaml:"logLevel" envconfig:"log_level"`
	LogCategoryFilter null.String `yaml:"logCategoryFilter" envconfig:"log_category_filter"`
	OTLPEndpoint      null.String `yaml:"otlpEndpoint" envconfig:"otlp_endpoint"`
	NoColor           null.Bool   `yaml:"noColor" envconfig:"no_color"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Input:              null.NewString("moz.com_top500.csv", false),
		Output:             null.NewString("fcp-performance.json", false),
		BrowserArgs:        null.NewString("--disable-gpu --no-sandbox --headless", false),
		LaunchChrome:       null.NewBool(true, false),
		Host:               null.NewString("localhost", false),
		Port:               null.NewInt(9222, false),
		NavigationTimeout:  NewNullDuration(fcp.DefaultNavigationTimeout, false),
		ObservationTimeout: NewNullDuration(fcp.DefaultObservationTimeout, false),
		LogLevel:           null.NewString("info", false),
	}
}

// Apply returns c with every value set in cfg overriding its own.
func (c Config) Apply(cfg Config) Config {
	if cfg.Input.Valid {
		c.Input = cfg.Input
	}
	if cfg.Output.Valid {
		c.Output = cfg.Output
	}
	if cfg.BrowserArgs.Valid {
		c.BrowserArgs = cfg.BrowserArgs
	}
	if cfg.BrowserEnv.Valid {
		c.BrowserEnv = cfg.BrowserEnv
	}
	if cfg.LaunchChrome.Valid {
		c.LaunchChrome = cfg.LaunchChrome
	}
	if cfg.ChromePath.Valid {
		c.ChromePath = cfg.ChromePath
	}
	if cfg.Host.Valid {
		c.Host = cfg.Host
	}
	if cfg.Port.Valid {
		c.Port = cfg.Port
	}
	if cfg.NavigationTimeout.Valid {
		c.NavigationTimeout = cfg.NavigationTimeout
	}
	if cfg.ObservationTimeout.Valid {
		c.ObservationTimeout = cfg.ObservationTimeout
	}
	if cfg.LogLevel.Valid {
		c.LogLevel = cfg.LogLevel
	}
	if cfg.LogCategoryFilter.Valid {
		c.LogCategoryFilter = cfg.LogCategoryFilter
	}
	if cfg.OTLPEndpoint.Valid {
		c.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.NoColor.Valid {
		c.NoColor = cfg.NoColor
	}
	return c
}

// BrowserArgList splits the browser arguments on whitespace.
func (c Config) BrowserArgList() []string {
	return strings.Fields(c.BrowserArgs.String)
}

// BrowserEnvList splits the browser environment into KEY=VALUE pairs.
func (c Config) BrowserEnvList() []string {
	return strings.Fields(c.BrowserEnv.String)
}

// Validate checks the consolidated configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Input.String == "" {
		errs = append(errs, errors.New("an input file is required"))
	}
	if c.Output.String == "" {
		errs = append(errs, errors.New("an output file is required"))
	}
	for _, kv := range c.BrowserEnvList() {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("invalid browser environment variable %q, want KEY=VALUE", kv))
		}
	}
	if p := c.Port.Int64; p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", p))
	}
	if c.NavigationTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("invalid navigation timeout %s", c.NavigationTimeout.Duration))
	}
	if c.ObservationTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("invalid observation timeout %s", c.ObservationTimeout.Duration))
	}

	return errors.Join(errs...)
}

func configFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringP("input", "i", "moz.com_top500.csv",
		`CSV file listing the domains to measure in a column named "domain"`)
	flags.StringP("output", "o", "fcp-performance.json",
		"JSON file to write the results to, gzip compressed if it ends in .gz")
	flags.StringP("browser-args", "b", "--disable-gpu --no-sandbox --headless",
		"arguments to launch the browser with")
	flags.String("browser-env", "", "KEY=VALUE pairs added to the environment of the launched browser")
	flags.BoolP("launch-chrome", "l", true, "launch Chrome in a separate process")
	flags.String("chrome-path", "", "browser executable to launch, looked up in PATH when empty")
	flags.StringP("host", "h", "localhost", "host the browser listens on for DevTools clients")
	flags.IntP("port", "p", 9222, "port the browser listens on for DevTools clients")
	flags.Duration("navigation-timeout", fcp.DefaultNavigationTimeout, "how long a page may take to start loading")
	flags.Duration("observation-timeout", fcp.DefaultObservationTimeout,
		"how long to wait for the first contentful paint of a page")
	flags.String("log-level", "info", "log level, one of trace, debug, info, warning, error")
	flags.String("log-category-filter", "", "only log categories matching this regular expression")
	flags.String("otlp-endpoint", "", "OTLP/HTTP endpoint to export traces of the run to, e.g. localhost:4318")
	flags.Bool("no-color", false, "disable colored output")

	return flags
}

// Gets configuration from CLI flags.
func getConfig(flags *pflag.FlagSet) Config {
	return Config{
		Input:              getNullString(flags, "input"),
		Output:             getNullString(flags, "output"),
		BrowserArgs:        getNullString(flags, "browser-args"),
		BrowserEnv:         getNullString(flags, "browser-env"),
		LaunchChrome:       getNullBool(flags, "launch-chrome"),
		ChromePath:         getNullString(flags, "chrome-path"),
		Host:               getNullString(flags, "host"),
		Port:               getNullInt(flags, "port"),
		NavigationTimeout:  getNullDuration(flags, "navigation-timeout"),
		ObservationTimeout: getNullDuration(flags, "observation-timeout"),
		LogLevel:           getNullString(flags, "log-level"),
		LogCategoryFilter:  getNullString(flags, "log-category-filter"),
		OTLPEndpoint:       getNullString(flags, "otlp-endpoint"),
		NoColor:            getNullBool(flags, "no-color"),
	}
}

// Reads configuration variables from the environment.
func readEnvConfig() (conf Config, err error) {
	err = envconfig.Process(envPrefix, &conf)
	return conf, err //nolint:wrapcheck
}

// Reads a YAML configuration file. A missing file is fine unless it was
// asked for explicitly.
func readFileConfig(afs afero.Fs, path string, required bool) (Config, error) {
	var conf Config
	data, err := afero.ReadFile(afs, path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return conf, nil
	}
	if err != nil {
		return conf, fmt.Errorf("reading config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	return conf, nil
}

// consolidateConfig layers the configuration: defaults, then the config
// file, then the environment, then the flags.
func consolidateConfig(afs afero.Fs, flags *pflag.FlagSet, configPath string, configRequired bool) (Config, error) {
	fileConf, err := readFileConfig(afs, configPath, configRequired)
	if err != nil {
		return Config{}, err
	}
	envConf, err := readEnvConfig()
	if err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	conf := DefaultConfig().Apply(fileConf).Apply(envConf).Apply(getConfig(flags))

	return conf, conf.Validate()
}
