package batch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/logger"
	"github.com/spigell/network-scout/internal/prompts"
	"github.com/spigell/network-scout/internal/twitter"
)

// Seed opens a conversation with every seeded X handle. Failures are recorded on the candidate
// and never retried automatically.
func (r *Runner) Seed(ctx context.Context) (Report, error) {
	report := Report{Pass: PassSeed}

	candidates, err := r.Store.ListByState(ctx, domain.StateSeed)
	if err != nil {
		return report, fmt.Errorf("list seed candidates: %w", err)
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		if c.Issue != "" || r.Profiles == nil {
			report.Skipped++
			continue
		}

		log := logger.WithCandidate(r.Logger, c.PlatformID, string(c.State))
		if err := r.seedOne(ctx, c); err != nil {
			log.Warn("seeding failed", zap.Error(err))
			r.markIssue(ctx, c, err)
			report.Failed++
			continue
		}
		report.Advanced++
	}
	return report, nil
}

func (r *Runner) seedOne(ctx context.Context, c *domain.Candidate) error {
	profile, err := r.Profiles.Profile(ctx, c.Handle)
	if err != nil {
		return fmt.Errorf("load x profile: %w", err)
	}

	var reply messageReply
	if err := r.Gateway.Structured(ctx, prompts.Seed, map[string]string{
		"Handle": "@" + c.Handle,
		"Bio":    profile.User.Description,
		"Posts":  formatPosts(profile.Posts),
	}, &reply); err != nil {
		return fmt.Errorf("write opener: %w", err)
	}

	if err := r.deliver(ctx, c, reply.Message); err != nil {
		return err
	}
	return r.transition(ctx, c, domain.StateReferred)
}

func formatPosts(posts []twitter.Post) string {
	if len(posts) == 0 {
		return "(no recent posts)"
	}
	lines := make([]string, 0, len(posts))
	for _, p := range posts {
		lines = append(lines, "- "+strings.ReplaceAll(strings.TrimSpace(p.Text), "\n", " "))
	}
	return strings.Join(lines, "\n")
}
