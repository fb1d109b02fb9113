package cmd

import (
	"errors"
	"log"
	"time"

	"trendscan/internal/screener"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "trendscan"
)

type Config struct {
	Screener  *screener.Filter `mapstructure:"screener"`
	Annotator *AnnotatorConfig `mapstructure:"annotator"`
	Telegram  *TelegramConfig  `mapstructure:"telegram"`
	Store     *StoreConfig     `mapstructure:"store"`
	Pipeline  *PipelineConfig  `mapstructure:"pipeline"`
	Serve     *ServeConfig     `mapstructure:"serve"`
}

type AnnotatorConfig struct {
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type TelegramConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token-file"`
	ChatID    string `mapstructure:"chat-id"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type PipelineConfig struct {
	BatchSize int           `mapstructure:"batch-size"`
	PaceDelay time.Duration `mapstructure:"pace-delay"`
}

type ServeConfig struct {
	Addr    string `mapstructure:"addr"`
	DailyAt string `mapstructure:"daily-at"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "trendscan screens US momentum stocks, annotates them with Gemini and pushes a digest to Telegram",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Secrets and handles come from the environment, not from flags.
	envBindings := map[string]string{
		"annotator.api-key": "GEMINI_API_KEY",
		"telegram.token":    "TG_BOT_TOKEN",
		"telegram.chat-id":  "TG_CHAT_ID",
		"store.path":        "TRENDSCAN_DB",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is trendscan.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// A .env file is a convenience for local runs; missing is fine.
	_ = godotenv.Load()

	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// The config file is optional: defaults plus environment variables are
	// enough for a full run. A present but unparseable file is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func setDefaults() {
	viper.SetDefault("screener.market", "america")
	viper.SetDefault("screener.min-price", 10.0)
	viper.SetDefault("screener.min-monthly-perf", 20.0)
	viper.SetDefault("screener.min-market-cap", 5_000_000_000.0)
	viper.SetDefault("screener.min-avg-volume", 1_500_000.0)
	viper.SetDefault("screener.limit", 20)
	viper.SetDefault("annotator.model", "gemini-2.5-flash")
	viper.SetDefault("annotator.max-retries", 2)
	viper.SetDefault("annotator.max-log-length", 200)
	viper.SetDefault("store.path", "trendscan.db")
	viper.SetDefault("pipeline.batch-size", 20)
	viper.SetDefault("pipeline.pace-delay", "2s")
	viper.SetDefault("serve.addr", ":8080")
	viper.SetDefault("serve.daily-at", "")
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
