package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/store"
)

const PromptDone = "done"

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator tools",
}

var readmitCmd = &cobra.Command{
	Use:   "readmit",
	Short: "Move stalled candidates back to gathering",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, stop := signalContext()
		defer stop()

		config, logger := bootstrap()
		defer logger.Sync()

		st, err := openStorage(ctx, config.Storage, logger)
		if err != nil {
			logger.Fatal("opening storage", zap.Error(err))
		}
		defer st.Close(ctx, logger)

		if id, _ := cmd.Flags().GetString("id"); id != "" {
			if err := readmit(ctx, st.store, id, logger); err != nil {
				logger.Fatal("readmitting candidate", zap.Error(err))
			}
			return
		}

		if err := interactiveReadmit(ctx, st.store, logger); err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
	},
}

func init() {
	readmitCmd.Flags().String("id", "", "platform id to readmit without prompting")
	adminCmd.AddCommand(readmitCmd)
	rootCmd.AddCommand(adminCmd)
}

func readmit(ctx context.Context, candidates store.Candidates, platformID string, logger *zap.Logger) error {
	if err := candidates.Readmit(ctx, platformID); err != nil {
		return fmt.Errorf("readmit %s: %w", platformID, err)
	}
	logger.Info("candidate readmitted", zap.String("platform_id", platformID))
	return nil
}

func stalledLabel(c *domain.Candidate) string {
	name := c.Handle
	if name == "" {
		name = c.DisplayName
	}
	return fmt.Sprintf("%s @%s / missing: %s", c.PlatformID, name, strings.Join(c.Extracted.Missing(domain.DefaultReadySkillCount), ", "))
}

func interactiveReadmit(ctx context.Context, candidates store.Candidates, logger *zap.Logger) error {
	for {
		stalled, err := candidates.ListByState(ctx, domain.StateStalled)
		if err != nil {
			return err
		}
		if len(stalled) == 0 {
			logger.Info("exiting", zap.String("reason", "no stalled candidates"))
			return nil
		}

		items := make([]string, 0, len(stalled)+1)
		for _, c := range stalled {
			items = append(items, stalledLabel(c))
		}

		candidatePrompt := promptui.Select{
			Label: "Choose a candidate to readmit and press ENTER",
			Items: append(items, PromptDone),
			Size:  10,
		}

		idx, selected, err := candidatePrompt.Run()
		if err != nil {
			return err
		}
		if selected == PromptDone {
			return nil
		}

		if err := readmit(ctx, candidates, stalled[idx].PlatformID, logger); err != nil {
			return err
		}
	}
}
