package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"trendscan/internal/logger"
	"trendscan/internal/pipeline"
	"trendscan/internal/utils"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full scan, annotate and deliver cycle",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation before sending to Telegram")
	runCmd.Flags().String("date", "", "scan date to process (YYYY-MM-DD, default today)")
}

// run is the one-shot pipeline command.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting trendscan", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if err := validateConfig(config); err != nil {
		logger.Fatal("validating config", zap.Error(err))
	}

	scanDate := cmd.Flag("date").Value.String()
	if scanDate == "" {
		scanDate = time.Now().Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, scanDate); err != nil {
		logger.Fatal("invalid --date value", zap.String("date", scanDate), zap.Error(err))
	}

	sink, err := buildNotifier(config, logger)
	if err != nil {
		logger.Fatal("building telegram notifier", zap.Error(err))
	}

	notifier := pipelineNotifier(cmd, sink, logger)

	p, err := buildPipeline(ctx, config, notifier, logger)
	if err != nil {
		logger.Fatal("building pipeline", zap.Error(err))
	}

	summary, err := p.Run(ctx, scanDate)
	if err != nil {
		logger.Fatal("pipeline run failed", zap.Any("summary", summary), zap.Error(err))
	}

	logger.Info("pipeline run completed",
		zap.String("outcome", summary.Outcome),
		zap.Int("found", summary.Found),
		zap.Int("annotated", summary.Annotated),
		zap.Int("failed", summary.Failed),
		zap.Int("delivered", summary.Delivered),
	)
}

func pipelineNotifier(cmd *cobra.Command, sink pipeline.Notifier, logger *zap.Logger) *confirmingNotifier {
	autoApprove := cmd.Flag("yes").Value.String() == "true"

	return &confirmingNotifier{
		sink:        sink,
		autoApprove: autoApprove,
		logger:      logger,
	}
}

// confirmingNotifier asks once before the first outbound Telegram message.
// Declining skips delivery; annotations stay in the store for a later
// attempt.
type confirmingNotifier struct {
	sink        pipeline.Notifier
	autoApprove bool
	approved    bool
	logger      *zap.Logger
}

var errDeliverySkipped = errors.New("delivery skipped by operator")

func (n *confirmingNotifier) SendMessage(ctx context.Context, text string) error {
	if !n.autoApprove && !n.approved {
		fmt.Printf("\n%s\n\n", utils.TruncateForLog(text, 1000))

		prompt := promptui.Select{
			Label: "Send this message to Telegram?",
			Items: []string{PromptYes, PromptNo},
		}

		_, action, err := prompt.Run()
		if err != nil {
			return err
		}
		if action != PromptYes {
			n.logger.Info("skipping delivery", zap.String("reason", "got no from prompt"))
			return errDeliverySkipped
		}

		n.approved = true
	}

	return n.sink.SendMessage(ctx, text)
}
