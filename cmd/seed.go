package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/extract"
	"github.com/spigell/network-scout/internal/store"
)

// seedEntry is one record of a seed file.
type seedEntry struct {
	XUsername      string `json:"x_username"`
	GithubUsername string `json:"github_username"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Manage the X seed list",
}

var seedImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Create seed candidates from a JSON list of X handles",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		config, logger := bootstrap()
		defer logger.Sync()

		entries, err := readSeedFile(args[0])
		if err != nil {
			logger.Fatal("reading seed file", zap.Error(err))
		}

		st, err := openStorage(ctx, config.Storage, logger)
		if err != nil {
			logger.Fatal("opening storage", zap.Error(err))
		}
		defer st.Close(ctx, logger)

		created, skipped, err := importSeeds(ctx, st.store, entries, logger)
		if err != nil {
			logger.Error("seed import stopped", zap.Error(err))
		}
		logger.Info("seed import finished", zap.Int("created", created), zap.Int("skipped", skipped))
	},
}

func init() {
	seedCmd.AddCommand(seedImportCmd)
	rootCmd.AddCommand(seedCmd)
}

// readSeedFile accepts a list of objects or a plain list of handles.
func readSeedFile(path string) ([]seedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []seedEntry
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}

	var handles []string
	if err := json.Unmarshal(data, &handles); err != nil {
		return nil, fmt.Errorf("parse %s: expected a list of handles or {x_username, github_username} objects", path)
	}
	for _, h := range handles {
		entries = append(entries, seedEntry{XUsername: h})
	}
	return entries, nil
}

// importSeeds creates a seed candidate per entry. Existing candidates and blank handles are skipped.
func importSeeds(ctx context.Context, candidates store.Candidates, entries []seedEntry, logger *zap.Logger) (int, int, error) {
	var created, skipped int
	for _, e := range entries {
		handle := domain.NormalizeHandle(e.XUsername)
		if handle == "" {
			skipped++
			continue
		}

		c := &domain.Candidate{
			PlatformID: domain.PlatformID(domain.PlatformX, handle),
			Platform:   domain.PlatformX,
			Handle:     handle,
			State:      domain.StateSeed,
		}
		if gh, ok := extract.NormalizeGithub(strings.TrimSpace(e.GithubUsername)); ok {
			c.Extracted.GithubUsername = gh
		}

		err := candidates.CreateCandidate(ctx, c)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			logger.Debug("seed already known", zap.String("handle", handle))
			skipped++
		case err != nil:
			return created, skipped, fmt.Errorf("create seed %s: %w", handle, err)
		default:
			logger.Info("seeded", zap.String("handle", handle))
			created++
		}
	}
	return created, skipped, nil
}
