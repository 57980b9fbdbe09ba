// Package batch runs the periodic passes that move candidates without waiting for them to write:
// seeding X handles, nudging and closing out gathering, and scoring GitHub work.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/archive"
	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/extract"
	"github.com/spigell/network-scout/internal/github"
	"github.com/spigell/network-scout/internal/logger"
	"github.com/spigell/network-scout/internal/platform"
	"github.com/spigell/network-scout/internal/prompts"
	"github.com/spigell/network-scout/internal/store"
	"github.com/spigell/network-scout/internal/twitter"
	"github.com/spigell/network-scout/internal/utils"
)

const (
	PassSeed    = "seed"
	PassGather  = "gather"
	PassTesting = "testing"

	DefaultMaxGatherAttempts = 3

	defaultInterval       = 10 * time.Minute
	defaultGatherInterval = 24 * time.Hour
)

// Passes lists every pass in the order a tick runs them.
var Passes = []string{PassSeed, PassGather, PassTesting}

type Config struct {
	Interval          time.Duration `mapstructure:"interval"`
	MaxGatherAttempts int           `mapstructure:"max-gather-attempts"`
	// GatherInterval is the minimum time between two gather passes over the same candidate.
	GatherInterval time.Duration `mapstructure:"gather-interval"`
	MinSkills      int           `mapstructure:"min-skills"`
}

type Gateway interface {
	Structured(ctx context.Context, name string, vars map[string]string, out any) error
	Prompts() *prompts.Set
}

type Profiles interface {
	Profile(ctx context.Context, handle string) (*twitter.Profile, error)
}

type Repositories interface {
	Portfolio(ctx context.Context, user string) ([]*github.Repository, error)
}

type CodeIssuer interface {
	GenerateCodes(ctx context.Context, ownerID string, n int) ([]string, error)
}

type Observer interface {
	ObserveBatch(pass string, scanned, advanced, skipped, failed int)
	ObserveTransition(from, to string)
}

type nopObserver struct{}

func (nopObserver) ObserveBatch(string, int, int, int, int) {}
func (nopObserver) ObserveTransition(string, string)        {}

// Deps groups the collaborators of the Runner. Profiles and Repositories may be nil when the
// matching integration is disabled; their passes then skip every candidate.
type Deps struct {
	Store        store.Candidates
	Archive      archive.Archive
	Gateway      Gateway
	Extractor    *extract.Engine
	Sender       platform.Sender
	Profiles     Profiles
	Repositories Repositories
	Codes        CodeIssuer
	Observer     Observer
	Logger       *zap.Logger
}

type Runner struct {
	Deps
	cfg Config
	now func() time.Time
}

// Report summarizes one pass.
type Report struct {
	Pass     string
	Scanned  int
	Advanced int
	Skipped  int
	Failed   int
}

func (r Report) fields() []zap.Field {
	return []zap.Field{
		zap.String("pass", r.Pass),
		zap.Int("scanned", r.Scanned),
		zap.Int("advanced", r.Advanced),
		zap.Int("skipped", r.Skipped),
		zap.Int("failed", r.Failed),
	}
}

func New(deps Deps, cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxGatherAttempts <= 0 {
		cfg.MaxGatherAttempts = DefaultMaxGatherAttempts
	}
	if cfg.GatherInterval <= 0 {
		cfg.GatherInterval = defaultGatherInterval
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
	return &Runner{Deps: deps, cfg: cfg, now: time.Now}
}

// Interval is the configured tick length.
func (r *Runner) Interval() time.Duration {
	return r.cfg.Interval
}

// Run executes a single named pass.
func (r *Runner) Run(ctx context.Context, pass string) (Report, error) {
	var (
		report Report
		err    error
	)
	switch pass {
	case PassSeed:
		report, err = r.Seed(ctx)
	case PassGather:
		report, err = r.Gather(ctx)
	case PassTesting:
		report, err = r.Testing(ctx)
	default:
		return Report{Pass: pass}, fmt.Errorf("unknown pass %q", pass)
	}

	r.Observer.ObserveBatch(report.Pass, report.Scanned, report.Advanced, report.Skipped, report.Failed)
	if err != nil {
		r.Logger.Error("batch pass failed", append(report.fields(), zap.Error(err))...)
		return report, err
	}
	r.Logger.Info("batch pass finished", report.fields()...)
	return report, nil
}

// Tick runs every pass in order. A failing pass does not stop the ones after it.
func (r *Runner) Tick(ctx context.Context) error {
	var firstErr error
	for _, pass := range Passes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.Run(ctx, pass); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Every runs task immediately and then once per interval until ctx is cancelled.
func Every(ctx context.Context, interval time.Duration, name string, logger *zap.Logger, task func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("scheduler started", zap.String("task", name), zap.Duration("interval", interval))
	for {
		if err := task(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduled task failed", zap.String("task", name), zap.Error(err))
		}
		if err := utils.WaitFor(ctx, interval); err != nil {
			logger.Info("scheduler stopped", zap.String("task", name))
			return nil
		}
	}
}

func (r *Runner) transition(ctx context.Context, c *domain.Candidate, to domain.State) error {
	from := c.State
	if err := r.Store.Transition(ctx, c.PlatformID, from, to); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	c.State = to
	r.Observer.ObserveTransition(string(from), string(to))
	r.Logger.Info("candidate transitioned",
		zap.String(logger.FieldPlatformID, c.PlatformID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// deliver sends an outbound message and archives it.
func (r *Runner) deliver(ctx context.Context, c *domain.Candidate, text string) error {
	if err := r.Sender.Send(ctx, c, text); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if _, err := r.Archive.Append(ctx, c.PlatformID, domain.Message{Author: domain.AuthorAgent, Text: text}); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

func (r *Runner) markIssue(ctx context.Context, c *domain.Candidate, err error) {
	if setErr := r.Store.SetIssue(ctx, c.PlatformID, err.Error()); setErr != nil {
		r.Logger.Warn("failed to record candidate issue", zap.String(logger.FieldPlatformID, c.PlatformID), zap.Error(setErr))
	}
}

type messageReply struct {
	Message string `json:"message"`
}

func permissionDenied(err error) bool {
	return errors.Is(err, platform.ErrPermission)
}
