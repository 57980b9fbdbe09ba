package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/github"
	"github.com/spigell/network-scout/internal/logger"
	"github.com/spigell/network-scout/internal/prompts"
)

type fitReply struct {
	FitScore int    `json:"fit_score"`
	Comments string `json:"comments"`
}

// Testing scores testing candidates and unscored ready candidates against their GitHub work.
func (r *Runner) Testing(ctx context.Context) (Report, error) {
	report := Report{Pass: PassTesting}

	candidates, err := r.Store.ListByState(ctx, domain.StateTesting, domain.StateReady)
	if err != nil {
		return report, fmt.Errorf("list candidates to evaluate: %w", err)
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		if r.Repositories == nil || c.FitScore != nil || c.Extracted.GithubUsername == "" {
			report.Skipped++
			continue
		}

		log := logger.WithCandidate(r.Logger, c.PlatformID, string(c.State))
		if err := r.evaluate(ctx, c); err != nil {
			log.Warn("evaluation failed", zap.Error(err))
			report.Failed++
			continue
		}
		report.Advanced++
	}
	return report, nil
}

func (r *Runner) evaluate(ctx context.Context, c *domain.Candidate) error {
	log := logger.WithCandidate(r.Logger, c.PlatformID, string(c.State))

	repos, err := r.Repositories.Portfolio(ctx, c.Extracted.GithubUsername)
	if err != nil {
		if errors.Is(err, github.ErrNotFound) {
			r.markIssue(ctx, c, err)
		}
		return fmt.Errorf("load github portfolio: %w", err)
	}

	skills := append(append([]string(nil), c.Extracted.HardSkills...), c.Extracted.SoftSkills...)
	var reply fitReply
	if err := r.Gateway.Structured(ctx, prompts.FitScore, map[string]string{
		"Github": c.Extracted.GithubUsername,
		"Skills": strings.Join(skills, ", "),
		"Repos":  github.Summarize(repos),
	}, &reply); err != nil {
		return fmt.Errorf("score github work: %w", err)
	}

	score := domain.ClampFitScore(reply.FitScore)
	if err := r.Store.SetEvaluation(ctx, c.PlatformID, score, strings.TrimSpace(reply.Comments)); err != nil {
		return fmt.Errorf("store evaluation: %w", err)
	}
	c.FitScore = &score

	to := domain.EvaluationState(score)
	if err := r.transition(ctx, c, to); err != nil {
		return err
	}
	log.Info("candidate evaluated", zap.Int("fit_score", score), zap.Int("repos", len(repos)))

	if to == domain.StateAccepted && c.Platform == domain.PlatformTelegram && r.Codes != nil {
		r.issueCodes(ctx, c)
	}
	return nil
}

// issueCodes hands a newly accepted member their referral codes. Failures only cost the member
// the codes, so they are logged.
func (r *Runner) issueCodes(ctx context.Context, c *domain.Candidate) {
	log := logger.WithCandidate(r.Logger, c.PlatformID, string(c.State))

	codes, err := r.Codes.GenerateCodes(ctx, c.PlatformID, 0)
	if err != nil {
		log.Error("failed to generate referral codes", zap.Error(err))
		return
	}

	text := r.Gateway.Prompts().Reply(prompts.ReplyCodes, map[string]string{
		"Count": strconv.Itoa(len(codes)),
		"Codes": strings.Join(codes, ", "),
	})
	if err := r.deliver(ctx, c, text); err != nil {
		if permissionDenied(err) {
			r.markIssue(ctx, c, err)
		}
		log.Warn("failed to deliver referral codes", zap.Error(err))
	}
}
