package cmd

import (
	"context"
	"fmt"

	"trendscan/internal/annotator"
	"trendscan/internal/annotator/gemini"
	"trendscan/internal/faults"
	"trendscan/internal/pipeline"
	"trendscan/internal/screener"
	"trendscan/internal/secrets"
	"trendscan/internal/store"
	"trendscan/internal/telegram"

	"go.uber.org/zap"
)

// validateConfig checks every required credential and handle before any
// outbound call is attempted.
func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is required: %w", faults.ErrConfiguration)
	}
	if config.Screener == nil || config.Screener.Market == "" {
		return fmt.Errorf("screener market is required: %w", faults.ErrConfiguration)
	}
	if config.Store == nil || config.Store.Path == "" {
		return fmt.Errorf("store path is required (set TRENDSCAN_DB or store.path): %w", faults.ErrConfiguration)
	}
	if config.Telegram == nil || config.Telegram.ChatID == "" {
		return fmt.Errorf("telegram chat id is required (set TG_CHAT_ID or telegram.chat-id): %w", faults.ErrConfiguration)
	}
	return nil
}

// buildPipeline wires every component from the config. The notifier is
// injected so the interactive run command can wrap it with a confirmation
// prompt.
func buildPipeline(ctx context.Context, config *Config, notifier pipeline.Notifier, logger *zap.Logger) (*pipeline.Pipeline, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: config.Annotator.APIKey,
		File:  config.Annotator.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faults.ErrConfiguration, err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, config.Annotator.Model, config.Annotator.MaxRetries,
		logger.With(zap.String("provider", "gemini"), zap.String("model", config.Annotator.Model)),
	)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(config.Store.Path, logger)
	if err != nil {
		return nil, err
	}

	return pipeline.New(
		screener.New(logger),
		annotator.New(generator, logger, config.Annotator.MaxLogLength),
		st,
		notifier,
		&pipeline.Config{
			Filter:    config.Screener,
			BatchSize: config.Pipeline.BatchSize,
			PaceDelay: config.Pipeline.PaceDelay,
		},
		logger,
	), nil
}

// buildNotifier resolves the Telegram credentials and returns the sink.
func buildNotifier(config *Config, logger *zap.Logger) (*telegram.Client, error) {
	token, err := secrets.Load(secrets.Source{
		Name:  "telegram bot token",
		Value: config.Telegram.Token,
		File:  config.Telegram.TokenFile,
		Env:   "TG_BOT_TOKEN",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faults.ErrConfiguration, err)
	}

	return telegram.New(token, config.Telegram.ChatID, logger), nil
}
