package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/batch"
)

var batchCmd = &cobra.Command{
	Use:       "batch <seed|gather|testing>",
	Short:     "Run a single batch pass and exit",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: batch.Passes,
	Run: func(_ *cobra.Command, args []string) {
		runBatch(args[0])
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
}

func runBatch(pass string) {
	ctx, stop := signalContext()
	defer stop()

	config, logger := bootstrap()
	defer logger.Sync()

	st, err := openStorage(ctx, config.Storage, logger)
	if err != nil {
		logger.Fatal("opening storage", zap.Error(err))
	}
	defer st.Close(ctx, logger)

	gw, err := newGateway(ctx, config, logger)
	if err != nil {
		logger.Fatal("creating the llm gateway", zap.Error(err))
	}

	out, err := newSenders(config, st.backend, logger)
	if err != nil {
		logger.Fatal("creating platform adapters", zap.Error(err))
	}

	parts, err := newComponents(ctx, config, st, gw, out, logger)
	if err != nil {
		logger.Fatal("wiring the bot", zap.Error(err))
	}

	report, err := parts.runner.Run(ctx, pass)
	if err != nil {
		logger.Fatal("batch pass failed", zap.String("pass", pass), zap.Error(err))
	}
	fmt.Printf("%s: scanned %d, advanced %d, skipped %d, failed %d\n",
		report.Pass, report.Scanned, report.Advanced, report.Skipped, report.Failed)
}
