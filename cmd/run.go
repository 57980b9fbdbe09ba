package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/network-scout/internal/batch"
	"github.com/spigell/network-scout/internal/httpapi"
	"github.com/spigell/network-scout/internal/metrics"
	"github.com/spigell/network-scout/internal/twitter"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot: Telegram and X polling, batch passes and the job API",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("no-api", false, "do not start the job submission API")
	runCmd.Flags().Bool("no-batch", false, "do not run the periodic batch passes")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// run is the main command for the bot.
func run(cmd *cobra.Command) {
	ctx, stop := signalContext()
	defer stop()

	config, logger := bootstrap()
	defer logger.Sync()

	logger.Info("starting the network-scout", zap.String("version", version))

	st, err := openStorage(ctx, config.Storage, logger)
	if err != nil {
		logger.Fatal("opening storage", zap.Error(err))
	}
	defer st.Close(context.Background(), logger)

	gw, err := newGateway(ctx, config, logger)
	if err != nil {
		logger.Fatal("creating the llm gateway", zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY or the 'llm.gemini.api-key-file' key in the configuration file"),
		)
	}

	out, err := newSenders(config, st.backend, logger)
	if err != nil {
		logger.Fatal("creating platform adapters", zap.Error(err),
			zap.String("hint", "set TELEGRAM_BOT_TOKEN or the 'telegram.token-file' key in the configuration file"),
		)
	}
	logger.Info("telegram bot authorized", zap.String("username", out.telegram.Username()))

	parts, err := newComponents(ctx, config, st, gw, out, logger)
	if err != nil {
		logger.Fatal("wiring the bot", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return out.telegram.Poll(gctx, parts.engine)
	})

	if out.x != nil {
		poller := twitter.NewPoller(out.x, st.backend, config.X, logger.Named("x"))
		g.Go(func() error {
			return poller.Run(gctx, parts.engine)
		})
	}

	if noBatch, _ := cmd.Flags().GetBool("no-batch"); !noBatch {
		g.Go(func() error {
			return batch.Every(gctx, parts.runner.Interval(), "batch", logger.Named("scheduler"), parts.runner.Tick)
		})
	}

	if noAPI, _ := cmd.Flags().GetBool("no-api"); !noAPI {
		api := httpapi.New(st.store, config.HTTP, metrics.Recorder{}, logger.Named("http"))
		g.Go(func() error {
			return api.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("stopped with error", zap.Error(err))
		return
	}
	logger.Info("stopped")
}
