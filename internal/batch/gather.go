package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/extract"
	"github.com/spigell/network-scout/internal/logger"
	"github.com/spigell/network-scout/internal/prompts"
)

// Gather re-reads the full archive of every gathering candidate. Candidates that are ready move on,
// quiet ones get a nudge, and those quiet for too many passes are stalled.
func (r *Runner) Gather(ctx context.Context) (Report, error) {
	report := Report{Pass: PassGather}

	candidates, err := r.Store.ListByState(ctx, domain.StateGathering)
	if err != nil {
		return report, fmt.Errorf("list gathering candidates: %w", err)
	}

	now := r.now().UTC()
	for _, c := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		if c.Issue != "" || (c.LastGatherPassAt != nil && now.Sub(*c.LastGatherPassAt) < r.cfg.GatherInterval) {
			report.Skipped++
			continue
		}

		advanced, err := r.gatherOne(ctx, c)
		switch {
		case err != nil:
			logger.WithCandidate(r.Logger, c.PlatformID, string(c.State)).Warn("gather pass failed", zap.Error(err))
			report.Failed++
		case advanced:
			report.Advanced++
		}
	}
	return report, nil
}

func (r *Runner) gatherOne(ctx context.Context, c *domain.Candidate) (bool, error) {
	log := logger.WithCandidate(r.Logger, c.PlatformID, string(c.State))

	history, err := r.Archive.All(ctx, c.PlatformID)
	if err != nil {
		return false, fmt.Errorf("load archive: %w", err)
	}
	userMessages := domain.UserMessagesSince(history, nil)

	found := c.Extracted
	for _, m := range userMessages {
		found, _ = extract.Merge(found, r.Extractor.Deterministic(found, m.Text))
	}

	if len(userMessages) > 0 {
		var proposal extract.Proposal
		err := r.Gateway.Structured(ctx, prompts.ExtractInfo, map[string]string{
			"Extracted": prompts.Extracted(found),
			"Messages":  prompts.UserMessages(userMessages),
		}, &proposal)
		if err != nil {
			log.Warn("model extraction failed, keeping deterministic results", zap.Error(err))
		} else {
			found, _ = extract.Merge(found, r.Extractor.FromProposal(&proposal))
		}
	}

	merged, changed, err := r.Store.MergeExtracted(ctx, c.PlatformID, found)
	if err != nil {
		return false, fmt.Errorf("merge extracted: %w", err)
	}
	c.Extracted = merged

	progressed := changed || len(domain.UserMessagesSince(history, c.LastGatherPassAt)) > 0
	attempts, err := r.Store.RecordGatherPass(ctx, c.PlatformID, progressed, r.now().UTC())
	if err != nil {
		return false, fmt.Errorf("record gather pass: %w", err)
	}

	if next, ok := domain.NextGatheringState(c, r.cfg.MinSkills); ok {
		return true, r.transition(ctx, c, next)
	}
	if progressed {
		log.Debug("gathering progressed", zap.Bool("fields_changed", changed))
		return false, nil
	}

	if attempts >= r.cfg.MaxGatherAttempts {
		log.Info("gathering stalled", zap.Int("attempts", attempts))
		return true, r.transition(ctx, c, domain.StateStalled)
	}

	recent := history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	var reply messageReply
	if err := r.Gateway.Structured(ctx, prompts.GatherFollowup, map[string]string{
		"Missing": prompts.Missing(merged.Missing(r.cfg.MinSkills)),
		"History": prompts.History(recent),
	}, &reply); err != nil {
		return false, fmt.Errorf("write nudge: %w", err)
	}
	if err := r.deliver(ctx, c, reply.Message); err != nil {
		if permissionDenied(err) {
			r.markIssue(ctx, c, err)
		}
		return false, err
	}
	log.Info("gathering nudge sent", zap.Int("attempts", attempts))
	return false, nil
}
