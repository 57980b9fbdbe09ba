package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/httpapi"
	"github.com/spigell/network-scout/internal/metrics"
)

var serveAPICmd = &cobra.Command{
	Use:   "serve-api",
	Short: "Serve only the job submission API",
	Run: func(_ *cobra.Command, _ []string) {
		ctx, stop := signalContext()
		defer stop()

		config, logger := bootstrap()
		defer logger.Sync()

		st, err := openStorage(ctx, config.Storage, logger)
		if err != nil {
			logger.Fatal("opening storage", zap.Error(err))
		}
		defer st.Close(ctx, logger)

		api := httpapi.New(st.store, config.HTTP, metrics.Recorder{}, logger.Named("http"))
		if err := api.Run(ctx); err != nil {
			logger.Error("http api stopped with error", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveAPICmd)
}
