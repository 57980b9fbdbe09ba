package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/referral"
	"github.com/spigell/network-scout/internal/store"
)

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Manage referral codes",
}

var codesGenerateCmd = &cobra.Command{
	Use:   "generate <owner>",
	Short: "Generate referral codes for a member (platform id like telegram:42, or a handle)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		config, logger := bootstrap()
		defer logger.Sync()

		st, err := openStorage(ctx, config.Storage, logger)
		if err != nil {
			logger.Fatal("opening storage", zap.Error(err))
		}
		defer st.Close(ctx, logger)

		count, _ := cmd.Flags().GetInt("count")
		gate := referral.New(st.store, config.Referral, logger.Named("referral"))

		codes, err := generateCodes(ctx, st.store, gate, args[0], count)
		if err != nil {
			logger.Fatal("generating referral codes", zap.Error(err))
		}
		for _, c := range codes {
			fmt.Println(c)
		}
	},
}

func init() {
	codesGenerateCmd.Flags().IntP("count", "n", 0, "how many codes to generate (default is referral.codes-per-member)")
	codesCmd.AddCommand(codesGenerateCmd)
	rootCmd.AddCommand(codesCmd)
}

type codeGenerator interface {
	GenerateCodes(ctx context.Context, ownerID string, n int) ([]string, error)
}

// resolveOwner accepts a platform id or a handle and returns the member's platform id.
func resolveOwner(ctx context.Context, candidates store.Candidates, owner string) (*domain.Candidate, error) {
	owner = strings.TrimSpace(owner)
	if strings.Contains(owner, ":") {
		return candidates.GetCandidate(ctx, owner)
	}
	return candidates.FindByHandle(ctx, owner)
}

func generateCodes(ctx context.Context, candidates store.Candidates, gen codeGenerator, owner string, n int) ([]string, error) {
	member, err := resolveOwner(ctx, candidates, owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no member %q", owner)
	}
	if err != nil {
		return nil, err
	}
	if member.State == domain.StatePreReferral {
		return nil, fmt.Errorf("%s has not been admitted yet", member.PlatformID)
	}
	return gen.GenerateCodes(ctx, member.PlatformID, n)
}
