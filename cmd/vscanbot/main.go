// Command vscanbot runs the Telegram scanning bot.
//
// Usage:
//
//	vscanbot [--config config.yaml] <serve|set-webhook|delete-webhook>
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vscanbot/internal/config"
	"github.com/bryanwahyu/vscanbot/internal/logging"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "vscanbot",
		Usage:   "Telegram bot that checks files and links with VirusTotal",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file (optional)",
				Value:   "config.yaml",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "KEY=value file loaded before the environment is read",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			setWebhookCommand(),
			deleteWebhookCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "vscanbot:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by all commands.
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	if err := config.LoadEnvFile(c.String("env-file")); err != nil {
		return nil, nil, fmt.Errorf("env file: %w", err)
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
