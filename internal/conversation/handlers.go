package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/extract"
	"github.com/spigell/network-scout/internal/matching"
	"github.com/spigell/network-scout/internal/prompts"
	"github.com/spigell/network-scout/internal/referral"
	"github.com/spigell/network-scout/internal/store"
)

func (e *Engine) archiveInbound(ctx context.Context, t *turn) error {
	if _, err := e.Archive.Append(ctx, t.candidate.PlatformID, domain.Message{
		ID:     t.in.MessageID,
		Author: domain.AuthorUser,
		Text:   t.in.Text,
	}); err != nil {
		return fmt.Errorf("archive inbound: %w", err)
	}
	return nil
}

// history returns recent archived messages without the inbound message being handled.
func (e *Engine) history(ctx context.Context, t *turn) ([]domain.Message, error) {
	msgs, err := e.Archive.Recent(ctx, t.candidate.PlatformID, e.cfg.HistoryLimit+1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if n := len(msgs); n > 0 && msgs[n-1].Author == domain.AuthorUser && msgs[n-1].Text == t.in.Text {
		msgs = msgs[:n-1]
	}
	if len(msgs) > e.cfg.HistoryLimit {
		msgs = msgs[len(msgs)-e.cfg.HistoryLimit:]
	}
	return msgs, nil
}

func (e *Engine) handleStart(ctx context.Context, t *turn) error {
	c, err := e.Store.GetCandidate(ctx, t.outcome.PlatformID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load candidate: %w", err)
	}

	if c == nil {
		c = e.transient(t.in)
		c.DisplayName = t.in.DisplayName
		c.State = domain.StatePreReferral

		err := e.Store.CreateCandidate(ctx, c)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			if c, err = e.Store.GetCandidate(ctx, t.outcome.PlatformID); err != nil {
				return fmt.Errorf("reload candidate: %w", err)
			}
		case err != nil:
			return fmt.Errorf("create candidate: %w", err)
		default:
			t.log.Info("candidate registered")
		}
	}

	t.candidate = c
	if err := e.archiveInbound(ctx, t); err != nil {
		return err
	}
	if c.State != domain.StatePreReferral {
		return e.replyStatic(ctx, t, c, prompts.ReplyAlreadyAdmitted, nil)
	}
	return e.replyStatic(ctx, t, c, prompts.ReplyWelcome, nil)
}

func (e *Engine) handleRefer(ctx context.Context, t *turn, args []string) error {
	c, err := e.Store.GetCandidate(ctx, t.outcome.PlatformID)
	if errors.Is(err, store.ErrNotFound) {
		t.outcome.Unknown = true
		return e.replyStatic(ctx, t, e.transient(t.in), prompts.ReplyUnknownUser, nil)
	}
	if err != nil {
		return fmt.Errorf("load candidate: %w", err)
	}

	t.candidate = c
	if err := e.archiveInbound(ctx, t); err != nil {
		return err
	}

	if c.State != domain.StatePreReferral {
		return e.replyStatic(ctx, t, c, prompts.ReplyAlreadyAdmitted, nil)
	}
	if len(args) < 2 {
		return e.replyStatic(ctx, t, c, prompts.ReplyReferUsage, nil)
	}

	identity, code := args[0], args[1]
	if c.Handle != "" && domain.NormalizeHandle(identity) == c.Handle {
		t.log.Info("self referral rejected")
		return e.replyStatic(ctx, t, c, prompts.ReplyInvalidReferral, nil)
	}

	ref, err := e.Gate.Verify(ctx, identity, code)
	if errors.Is(err, referral.ErrInvalidReferral) {
		return e.replyStatic(ctx, t, c, prompts.ReplyInvalidReferral, nil)
	}
	if err != nil {
		return err
	}

	if err := e.Store.SetReferral(ctx, c.PlatformID, ref.ID, code); err != nil {
		return fmt.Errorf("store referral: %w", err)
	}
	c.ReferrerID, c.ReferralCode = ref.ID, code

	if err := e.transition(ctx, t, domain.StateReferred); err != nil {
		return err
	}
	if !e.cfg.SkipInquiry {
		return e.inquireOpener(ctx, t, ref)
	}
	if err := e.transition(ctx, t, domain.StateGathering); err != nil {
		return err
	}
	return e.welcome(ctx, t, ref)
}

// welcome greets a freshly admitted candidate. The static fallback keeps the referral from
// going unanswered when the model is down.
func (e *Engine) welcome(ctx context.Context, t *turn, ref *referral.Referrer) error {
	referrer := "@" + ref.Handle

	var reply messageReply
	err := e.Gateway.Structured(ctx, prompts.WelcomeGathering, map[string]string{
		"Referrer": referrer,
		"Name":     displayName(t.candidate),
	}, &reply)
	if err != nil {
		t.log.Warn("welcome generation failed, using fallback", zap.Error(err))
		reply.Message = e.Gateway.Prompts().Reply(prompts.ReplyWelcomeFallback, map[string]string{"Referrer": referrer})
	}
	return e.send(ctx, t, t.candidate, reply.Message)
}

func (e *Engine) inquireOpener(ctx context.Context, t *turn, ref *referral.Referrer) error {
	var reply inquireReply
	err := e.Gateway.Structured(ctx, prompts.Inquire, map[string]string{
		"History": prompts.History(nil),
		"Message": t.in.Text,
	}, &reply)
	if err != nil {
		t.log.Warn("inquire opener failed, using fallback", zap.Error(err))
		reply.Message = e.Gateway.Prompts().Reply(prompts.ReplyWelcomeFallback, map[string]string{"Referrer": "@" + ref.Handle})
	}
	return e.send(ctx, t, t.candidate, reply.Message)
}

func displayName(c *domain.Candidate) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if c.Handle != "" {
		return c.Handle
	}
	return "there"
}

type inquireReply struct {
	Message string `json:"message"`
	Action  string `json:"action"`
}

func (e *Engine) handleInquire(ctx context.Context, t *turn) error {
	history, err := e.history(ctx, t)
	if err != nil {
		return err
	}

	var reply inquireReply
	if err := e.Gateway.Structured(ctx, prompts.Inquire, map[string]string{
		"History": prompts.History(history),
		"Message": t.in.Text,
	}, &reply); err != nil {
		return err
	}

	pass := strings.EqualFold(strings.TrimSpace(reply.Action), "pass")
	if pass && t.candidate.InquireTurns < 1 {
		t.log.Info("pass before any follow-up downgraded to stay")
		pass = false
	}

	if err := e.send(ctx, t, t.candidate, reply.Message); err != nil {
		return err
	}

	turns, err := e.Store.IncInquireTurns(ctx, t.candidate.PlatformID)
	if err != nil {
		return fmt.Errorf("count inquire turn: %w", err)
	}
	t.candidate.InquireTurns = turns

	if pass {
		return e.transition(ctx, t, domain.StateGathering)
	}
	return nil
}

type gatheringReply struct {
	Message   string            `json:"message"`
	Extracted *extract.Proposal `json:"extracted"`
}

func (e *Engine) handleGathering(ctx context.Context, t *turn) error {
	c := t.candidate
	history, err := e.history(ctx, t)
	if err != nil {
		return err
	}

	known, _ := extract.Merge(c.Extracted, e.Extractor.Deterministic(c.Extracted, t.in.Text))

	var reply gatheringReply
	if err := e.Gateway.Structured(ctx, prompts.Gathering, map[string]string{
		"Missing":   prompts.Missing(known.Missing(e.cfg.MinSkills)),
		"Extracted": prompts.Extracted(known),
		"History":   prompts.History(history),
		"Message":   t.in.Text,
	}, &reply); err != nil {
		return err
	}

	incoming := e.Extractor.Combine(c.Extracted, t.in.Text, reply.Extracted)
	if err := e.send(ctx, t, c, reply.Message); err != nil {
		return err
	}

	merged, changed, err := e.Store.MergeExtracted(ctx, c.PlatformID, incoming)
	if err != nil {
		return fmt.Errorf("merge extracted: %w", err)
	}
	c.Extracted = merged
	if changed {
		t.log.Info("profile updated",
			zap.Bool("has_github", merged.GithubUsername != ""),
			zap.Bool("has_email", merged.Email != ""),
			zap.Int("skills", merged.SkillCount()),
		)
	}

	if next, ok := domain.NextGatheringState(c, e.cfg.MinSkills); ok {
		return e.transition(ctx, t, next)
	}
	return nil
}

func (e *Engine) handleMatching(ctx context.Context, t *turn) error {
	c := t.candidate
	history, err := e.history(ctx, t)
	if err != nil {
		return err
	}

	if c.HasActiveMatch() {
		job, err := e.Matcher.Job(ctx, c.CurrentJobMatch.JobID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			t.log.Warn("matched job disappeared", zap.String("job_id", c.CurrentJobMatch.JobID))
			if err := e.Store.ClearJobMatch(ctx, c.PlatformID); err != nil {
				return fmt.Errorf("clear job match: %w", err)
			}
			c.CurrentJobMatch = nil
		case err != nil:
			return fmt.Errorf("load matched job: %w", err)
		case c.CurrentJobMatch.PendingLink && !c.CurrentJobMatch.Disclosed:
			return e.followUpPitch(ctx, t, job, history)
		default:
			return e.stayWarm(ctx, t, history)
		}
	}

	match, err := e.Matcher.FindMatch(ctx, c, history)
	if err != nil {
		return err
	}
	if match == nil {
		return e.stayWarm(ctx, t, history)
	}

	pitch, record, err := e.Matcher.Present(ctx, c, match)
	if err != nil {
		return err
	}
	t.log.Info("job presented", zap.String("job_id", match.Job.ID), zap.Bool("provide_link", pitch.ProvideLink))

	if !pitch.ProvideLink {
		if err := e.send(ctx, t, c, pitch.Message); err != nil {
			return err
		}
		if err := e.Store.SetJobMatch(ctx, c.PlatformID, record); err != nil {
			return fmt.Errorf("store job match: %w", err)
		}
		c.CurrentJobMatch = record
		return nil
	}

	if err := e.disclose(ctx, t, match.Job, pitch.Message); err != nil {
		if errors.Is(err, matching.ErrJobTaken) {
			t.log.Info("job claimed before disclosure", zap.String("job_id", match.Job.ID))
			return e.stayWarm(ctx, t, history)
		}
		return err
	}
	record.Disclosed = true
	return e.storeDisclosed(ctx, t, record)
}

// followUpPitch handles the reply to a pitch whose link was held back.
func (e *Engine) followUpPitch(ctx context.Context, t *turn, job *domain.JobPosting, history []domain.Message) error {
	c := t.candidate

	interested, message, err := e.Matcher.Interested(ctx, job, history, t.in.Text)
	if err != nil {
		return err
	}
	if !interested {
		return e.send(ctx, t, c, message)
	}

	if err := e.disclose(ctx, t, job, message); err != nil {
		if !errors.Is(err, matching.ErrJobTaken) {
			return err
		}
		if err := e.replyStatic(ctx, t, c, prompts.ReplyJobUnavailable, map[string]string{"Company": job.CompanyName}); err != nil {
			return err
		}
		if err := e.Store.ClearJobMatch(ctx, c.PlatformID); err != nil {
			return fmt.Errorf("clear job match: %w", err)
		}
		c.CurrentJobMatch = nil
		return nil
	}

	record := *c.CurrentJobMatch
	record.PendingLink = false
	record.Disclosed = true
	return e.storeDisclosed(ctx, t, &record)
}

// disclose claims the job and sends the message followed by the link. When either send fails
// the claim is released and the candidate's match is left as it was.
func (e *Engine) disclose(ctx context.Context, t *turn, job *domain.JobPosting, message string) error {
	return e.Matcher.Disclose(ctx, t.candidate, job, func() error {
		if err := e.send(ctx, t, t.candidate, message); err != nil {
			return err
		}
		return e.replyStatic(ctx, t, t.candidate, prompts.ReplyLink, map[string]string{
			"Company": job.CompanyName,
			"Link":    job.ContactLink,
		})
	})
}

func (e *Engine) storeDisclosed(ctx context.Context, t *turn, record *domain.JobMatch) error {
	if err := e.Store.SetJobMatch(ctx, t.candidate.PlatformID, record); err != nil {
		return fmt.Errorf("store job match: %w", err)
	}
	t.candidate.CurrentJobMatch = record
	return nil
}
