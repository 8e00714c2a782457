package main

import (
	"errors"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vscanbot/internal/infra/telegram"
)

func setWebhookCommand() *cli.Command {
	return &cli.Command{
		Name:  "set-webhook",
		Usage: "Register TELEGRAM_WEBHOOK_URL with Telegram",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "drop-pending", Usage: "discard updates queued while no webhook was set"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Telegram.Token == "" || cfg.Telegram.WebhookURL == "" {
				return errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_WEBHOOK_URL are required")
			}
			tg := telegram.NewClient(telegram.Options{Token: cfg.Telegram.Token, BaseURL: cfg.Telegram.BaseURL, Logger: logger})
			if err := tg.SetWebhook(c.Context, cfg.Telegram.WebhookURL, cfg.Telegram.SecretToken, c.Bool("drop-pending")); err != nil {
				return err
			}
			logger.Info("webhook registered",
				zap.String("url", cfg.Telegram.WebhookURL),
				zap.Bool("secret_token", cfg.Telegram.SecretToken != ""),
			)
			return nil
		},
	}
}

func deleteWebhookCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-webhook",
		Usage: "Remove the registered webhook",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "drop-pending", Usage: "discard queued updates"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Telegram.Token == "" {
				return errors.New("TELEGRAM_BOT_TOKEN is required")
			}
			tg := telegram.NewClient(telegram.Options{Token: cfg.Telegram.Token, BaseURL: cfg.Telegram.BaseURL, Logger: logger})
			if err := tg.DeleteWebhook(c.Context, c.Bool("drop-pending")); err != nil {
				return err
			}
			logger.Info("webhook deleted")
			return nil
		},
	}
}
