package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/ChrisB0-2/radarr-prune/internal/config"
	"github.com/ChrisB0-2/radarr-prune/internal/logger"
)

// version is set via ldflags at build time.
var version = "dev"

// Exit statuses.
const (
	exitRuntime = 1
	exitConfig  = 2
)

// globals holds the root flags and the state Before prepares for subcommands.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
	envFile    string

	cfgPath  string // resolved config file, empty when running on defaults
	cfg      *config.Config
	log      logger.Logger
	closeLog func() error
}

func main() {
	app := newApp(os.Stdout, os.Stderr)

	if err := app.Run(context.Background(), os.Args); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, "error:", msg)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error returned by the app to a process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return exitRuntime
}

// configError marks err as a configuration problem.
func configError(err error) error {
	return cli.Exit(err.Error(), exitConfig)
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	g := &globals{}

	app := &cli.Command{
		Name:      "radarr-prune",
		Usage:     "Remove watched-out movies from Radarr on a retention schedule",
		UsageText: "radarr-prune [global options] command [command options]",
		Description: `radarr-prune removes movies whose retention window has passed while
storage is under pressure, warns ahead of removal, and reports by mail,
Pushover and webhooks.

Run 'radarr-prune plan' to preview decisions without side effects.`,
		Version:        version,
		Writer:         stdout,
		ErrWriter:      stderr,
		DefaultCommand: "run",
		// main decides the exit status; never let the library call os.Exit.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to YAML config file (searched in standard locations when empty)",
				Sources:     cli.EnvVars("RADARR_PRUNE_CONFIG"),
				Destination: &g.configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "override logging.level (debug, info, warn, error)",
				Sources:     cli.EnvVars("RADARR_PRUNE_LOG_LEVEL"),
				Destination: &g.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "override logging.format (json, text)",
				Sources:     cli.EnvVars("RADARR_PRUNE_LOG_FORMAT"),
				Destination: &g.logFormat,
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "dotenv file with secret overrides",
				Value:       ".env",
				Destination: &g.envFile,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, g.setup()
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if g.closeLog != nil {
				return g.closeLog()
			}
			return nil
		},
	}

	app.Commands = []*cli.Command{
		runCommand(g),
		planCommand(g),
		daemonCommand(g),
		auditCommand(g),
		configCommand(g),
	}

	return app
}

// setup loads the config and opens the logger. Validation is left to the
// commands so "config validate" can report every problem.
func (g *globals) setup() error {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return configError(err)
	}

	path := g.configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return configError(err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return configError(err)
	}

	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}

	log, closeLog, err := logger.Open(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return configError(fmt.Errorf("logging: %w", err))
	}

	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		g.cfgPath = path
	}
	g.cfg = cfg
	g.log = log
	g.closeLog = closeLog
	return nil
}

// validated returns the loaded config or a config error listing every problem.
func (g *globals) validated() (*config.Config, error) {
	if err := config.Validate(g.cfg); err != nil {
		return nil, configError(err)
	}
	return g.cfg, nil
}
