package cmd

import (
	"context"
	"log"

	"trendscan/internal/logger"
	"trendscan/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP trigger and the daily timer",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides serve.addr)")
	serveCmd.Flags().String("daily-at", "", "daily run time HH:MM, empty disables the timer (overrides serve.daily-at)")

	viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("serve.daily-at", serveCmd.Flags().Lookup("daily-at"))
}

func serve() {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting trendscan server", zap.String("version", version))

	if err := validateConfig(config); err != nil {
		logger.Fatal("validating config", zap.Error(err))
	}

	notifier, err := buildNotifier(config, logger)
	if err != nil {
		logger.Fatal("building telegram notifier", zap.Error(err))
	}

	p, err := buildPipeline(ctx, config, notifier, logger)
	if err != nil {
		logger.Fatal("building pipeline", zap.Error(err))
	}

	if at := config.Serve.DailyAt; at != "" {
		go func() {
			if err := server.RunDaily(ctx, p, at, logger); err != nil && ctx.Err() == nil {
				logger.Fatal("daily timer stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("daily timer disabled", zap.String("hint", "set serve.daily-at to enable"))
	}

	srv := server.New(p, logger, viper.GetBool("debug"))
	if err := srv.ListenAndServe(config.Serve.Addr); err != nil {
		logger.Fatal("http server stopped", zap.Error(err))
	}
}
