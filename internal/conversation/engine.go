// Package conversation turns inbound chat messages into replies and state transitions.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/archive"
	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/extract"
	"github.com/spigell/network-scout/internal/logger"
	"github.com/spigell/network-scout/internal/matching"
	"github.com/spigell/network-scout/internal/platform"
	"github.com/spigell/network-scout/internal/prompts"
	"github.com/spigell/network-scout/internal/referral"
	"github.com/spigell/network-scout/internal/store"
)

const (
	defaultHistoryLimit = 20
	defaultDedupWindow  = 24 * time.Hour
)

type Config struct {
	HistoryLimit int           `mapstructure:"history-limit"`
	DedupWindow  time.Duration `mapstructure:"dedup-window"`
	MinSkills    int           `mapstructure:"min-skills"`
	SkipInquiry  bool          `mapstructure:"skip-inquiry"`
}

type Gateway interface {
	Structured(ctx context.Context, name string, vars map[string]string, out any) error
	Prompts() *prompts.Set
}

type Gate interface {
	Verify(ctx context.Context, referrerIdentity, code string) (*referral.Referrer, error)
}

type Matcher interface {
	FindMatch(ctx context.Context, c *domain.Candidate, history []domain.Message) (*matching.Match, error)
	Present(ctx context.Context, c *domain.Candidate, match *matching.Match) (*matching.Presentation, *domain.JobMatch, error)
	Interested(ctx context.Context, job *domain.JobPosting, history []domain.Message, text string) (bool, string, error)
	Disclose(ctx context.Context, c *domain.Candidate, job *domain.JobPosting, deliver func() error) error
	Job(ctx context.Context, id string) (*domain.JobPosting, error)
}

// Observer receives per-turn and per-transition events. Metrics implement it.
type Observer interface {
	ObserveTurn(platform, state, outcome string)
	ObserveTransition(from, to string)
}

type nopObserver struct{}

func (nopObserver) ObserveTurn(string, string, string) {}
func (nopObserver) ObserveTransition(string, string)   {}

// Deps groups the collaborators of the Engine.
type Deps struct {
	Store     store.Candidates
	Archive   archive.Archive
	Dedup     archive.Dedup
	Gateway   Gateway
	Gate      Gate
	Matcher   Matcher
	Extractor *extract.Engine
	Sender    platform.Sender
	Observer  Observer
	Logger    *zap.Logger
}

type Engine struct {
	Deps
	cfg Config
}

// Outcome summarizes what handling one inbound message did.
type Outcome struct {
	PlatformID  string
	State       domain.State
	Replies     []string
	Transitions []domain.State
	Duplicate   bool
	Unknown     bool
}

func New(deps Deps, cfg Config) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	if cfg.MinSkills <= 0 {
		cfg.MinSkills = domain.DefaultReadySkillCount
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New(0, deps.Logger)
	}
	return &Engine{Deps: deps, cfg: cfg}
}

// turn carries the state of one HandleMessage call.
type turn struct {
	in        platform.Inbound
	candidate *domain.Candidate
	outcome   *Outcome
	log       *zap.Logger
}

// HandleMessage processes one inbound message end to end. On any model failure nothing is sent
// and the candidate state is left untouched so the next message retries. Replies go out before
// state, profile and match changes are stored, so a failed send leaves them untouched as well.
func (e *Engine) HandleMessage(ctx context.Context, in platform.Inbound) (*Outcome, error) {
	in.Text = strings.TrimSpace(in.Text)
	t := &turn{
		in:      in,
		outcome: &Outcome{PlatformID: in.PlatformID()},
		log:     e.Logger.With(zap.String(logger.FieldPlatform, in.Platform), zap.String(logger.FieldPlatformID, in.PlatformID())),
	}

	if in.MessageID != "" {
		seen, err := e.Dedup.Seen(ctx, in.DedupKey(), e.cfg.DedupWindow)
		if err != nil {
			return nil, fmt.Errorf("dedup: %w", err)
		}
		if seen {
			t.log.Debug("duplicate message skipped", zap.String("message_id", in.MessageID))
			t.outcome.Duplicate = true
			e.Observer.ObserveTurn(in.Platform, "", "duplicate")
			return t.outcome, nil
		}
	}

	command, args := parseCommand(in.Text)
	switch command {
	case "/start":
		return e.finish(t, e.handleStart(ctx, t))
	case "/refer":
		return e.finish(t, e.handleRefer(ctx, t, args))
	}

	c, err := e.Store.GetCandidate(ctx, t.outcome.PlatformID)
	if errors.Is(err, store.ErrNotFound) {
		t.outcome.Unknown = true
		return e.finish(t, e.replyStatic(ctx, t, e.transient(in), prompts.ReplyUnknownUser, nil))
	}
	if err != nil {
		return nil, fmt.Errorf("load candidate: %w", err)
	}
	t.candidate = c
	t.log = t.log.With(zap.String(logger.FieldState, string(c.State)))

	if err := e.archiveInbound(ctx, t); err != nil {
		return nil, err
	}

	return e.finish(t, e.dispatch(ctx, t))
}

func (e *Engine) finish(t *turn, err error) (*Outcome, error) {
	state := ""
	if t.candidate != nil {
		t.outcome.State = t.candidate.State
		state = string(t.candidate.State)
	}

	switch {
	case err != nil:
		e.Observer.ObserveTurn(t.in.Platform, state, "error")
		t.log.Error("failed to handle message", zap.Error(err))
		return t.outcome, err
	case t.outcome.Unknown:
		e.Observer.ObserveTurn(t.in.Platform, state, "unknown")
	default:
		e.Observer.ObserveTurn(t.in.Platform, state, "ok")
	}
	return t.outcome, nil
}

func (e *Engine) dispatch(ctx context.Context, t *turn) error {
	switch t.candidate.State {
	case domain.StatePreReferral:
		return e.replyStatic(ctx, t, t.candidate, prompts.ReplyReferReminder, nil)
	case domain.StateReferred:
		return e.handleInquire(ctx, t)
	case domain.StateGathering:
		return e.handleGathering(ctx, t)
	case domain.StateReady, domain.StateAccepted:
		return e.handleMatching(ctx, t)
	case domain.StateStalled, domain.StateRejected:
		return e.replyStatic(ctx, t, t.candidate, prompts.ReplyClosing, nil)
	default:
		history, err := e.history(ctx, t)
		if err != nil {
			return err
		}
		return e.stayWarm(ctx, t, history)
	}
}

// parseCommand splits "/cmd@bot a b" into "/cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:]
}

// transient is a throwaway candidate used to answer people the bot has no record of.
func (e *Engine) transient(in platform.Inbound) *domain.Candidate {
	return &domain.Candidate{
		PlatformID: in.PlatformID(),
		Platform:   in.Platform,
		Handle:     domain.NormalizeHandle(in.Handle),
		ChatID:     in.ChatID,
	}
}

func (e *Engine) transition(ctx context.Context, t *turn, to domain.State) error {
	from := t.candidate.State
	if err := e.Store.Transition(ctx, t.candidate.PlatformID, from, to); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	t.candidate.State = to
	t.outcome.Transitions = append(t.outcome.Transitions, to)
	e.Observer.ObserveTransition(string(from), string(to))
	t.log.Info("candidate transitioned", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// send delivers text and archives it. Permission errors are recorded on the candidate.
func (e *Engine) send(ctx context.Context, t *turn, c *domain.Candidate, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if err := e.Sender.Send(ctx, c, text); err != nil {
		if errors.Is(err, platform.ErrPermission) && t.candidate != nil {
			if issueErr := e.Store.SetIssue(ctx, c.PlatformID, err.Error()); issueErr != nil {
				t.log.Warn("failed to record delivery issue", zap.Error(issueErr))
			}
		}
		return fmt.Errorf("send reply: %w", err)
	}
	t.outcome.Replies = append(t.outcome.Replies, text)

	if t.candidate == nil {
		return nil
	}
	if _, err := e.Archive.Append(ctx, c.PlatformID, domain.Message{Author: domain.AuthorAgent, Text: text}); err != nil {
		return fmt.Errorf("archive reply: %w", err)
	}
	return nil
}

func (e *Engine) replyStatic(ctx context.Context, t *turn, c *domain.Candidate, name string, vars map[string]string) error {
	return e.send(ctx, t, c, e.Gateway.Prompts().Reply(name, vars))
}

type messageReply struct {
	Message string `json:"message"`
}

func (e *Engine) stayWarm(ctx context.Context, t *turn, history []domain.Message) error {
	var reply messageReply
	if err := e.Gateway.Structured(ctx, prompts.StayWarm, map[string]string{
		"History": prompts.History(history),
		"Message": t.in.Text,
	}, &reply); err != nil {
		return err
	}
	return e.send(ctx, t, t.candidate, reply.Message)
}
