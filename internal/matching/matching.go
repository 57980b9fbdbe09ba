// Package matching pairs ready candidates with open job postings and handles the link hand-off.
package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/llm"
	"github.com/spigell/network-scout/internal/prompts"
)

const DefaultHistoryLimit = 10

type Gateway interface {
	Structured(ctx context.Context, name string, vars map[string]string, out any) error
}

type JobStore interface {
	ListOpenJobs(ctx context.Context) ([]*domain.JobPosting, error)
	GetJob(ctx context.Context, id string) (*domain.JobPosting, error)
	ClaimJob(ctx context.Context, id string) (bool, error)
	ReleaseJob(ctx context.Context, id string) error
}

// Notifier is told when a candidate receives a job's booking link.
type Notifier interface {
	CandidateIntroduced(ctx context.Context, job *domain.JobPosting, c *domain.Candidate) error
}

type Matcher struct {
	gateway      Gateway
	jobs         JobStore
	notifier     Notifier
	historyLimit int
	logger       *zap.Logger
	now          func() time.Time
}

type Option func(*Matcher)

func WithNotifier(n Notifier) Option {
	return func(m *Matcher) { m.notifier = n }
}

func WithHistoryLimit(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.historyLimit = n
		}
	}
}

func New(gw Gateway, jobs JobStore, logger *zap.Logger, opts ...Option) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Matcher{
		gateway:      gw,
		jobs:         jobs,
		historyLimit: DefaultHistoryLimit,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match is a job the model picked for a candidate.
type Match struct {
	Job    *domain.JobPosting
	Reason string
}

type matchReply struct {
	MatchFound  bool   `json:"match_found"`
	JobID       string `json:"job_id"`
	MatchReason string `json:"match_reason"`
}

type jobSummary struct {
	ID                 string `json:"id"`
	CompanyName        string `json:"company_name"`
	CompanyDescription string `json:"company_description"`
	JobDescription     string `json:"job_description"`
}

// FindMatch asks the model for at most one open job. It returns nil when nothing fits.
func (m *Matcher) FindMatch(ctx context.Context, c *domain.Candidate, history []domain.Message) (*Match, error) {
	jobs, err := m.jobs.ListOpenJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	byID := make(map[string]*domain.JobPosting, len(jobs))
	summaries := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
		summaries = append(summaries, jobSummary{
			ID:                 job.ID,
			CompanyName:        job.CompanyName,
			CompanyDescription: job.CompanyDescription,
			JobDescription:     job.JobDescription,
		})
	}
	jobsJSON, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal jobs: %w", err)
	}

	if len(history) > m.historyLimit {
		history = history[len(history)-m.historyLimit:]
	}

	var reply matchReply
	if err := m.gateway.Structured(ctx, prompts.MatchJobs, map[string]string{
		"Profile": prompts.Profile(c),
		"History": prompts.History(history),
		"Jobs":    string(jobsJSON),
	}, &reply); err != nil {
		return nil, err
	}

	if !reply.MatchFound || llm.IsNull(reply.JobID) {
		return nil, nil
	}

	job, ok := byID[strings.TrimSpace(reply.JobID)]
	if !ok {
		m.logger.Warn("model picked a job outside the open set", zap.String("job_id", reply.JobID))
		return nil, nil
	}

	return &Match{Job: job, Reason: strings.TrimSpace(reply.MatchReason)}, nil
}

// Presentation is the pitch for a matched job.
type Presentation struct {
	Message     string `json:"message"`
	ProvideLink bool   `json:"provide_link"`
}

// Present writes the pitch and decides whether the link goes out now or after the candidate confirms interest.
func (m *Matcher) Present(ctx context.Context, c *domain.Candidate, match *Match) (*Presentation, *domain.JobMatch, error) {
	var p Presentation
	if err := m.gateway.Structured(ctx, prompts.PresentJob, map[string]string{
		"Profile":            prompts.Profile(c),
		"Company":            match.Job.CompanyName,
		"CompanyDescription": match.Job.CompanyDescription,
		"JobDescription":     match.Job.JobDescription,
		"Reason":             match.Reason,
	}, &p); err != nil {
		return nil, nil, err
	}

	record := &domain.JobMatch{
		JobID:       match.Job.ID,
		PresentedAt: m.now().UTC(),
		MatchReason: match.Reason,
		PendingLink: !p.ProvideLink,
	}
	return &p, record, nil
}

type interestReply struct {
	Interested bool   `json:"interested"`
	Message    string `json:"message"`
}

// Interested classifies the candidate's latest reply to a pending pitch.
func (m *Matcher) Interested(ctx context.Context, job *domain.JobPosting, history []domain.Message, text string) (bool, string, error) {
	if len(history) > m.historyLimit {
		history = history[len(history)-m.historyLimit:]
	}

	var reply interestReply
	if err := m.gateway.Structured(ctx, prompts.Interest, map[string]string{
		"Company":        job.CompanyName,
		"JobDescription": job.JobDescription,
		"History":        prompts.History(history),
		"Message":        text,
	}, &reply); err != nil {
		return false, "", err
	}
	return reply.Interested, strings.TrimSpace(reply.Message), nil
}

// ErrJobTaken means another candidate claimed the job first.
var ErrJobTaken = errors.New("job already claimed")

// Disclose claims the job, runs deliver and notifies the job contact once the link is out.
// It returns ErrJobTaken when the job is no longer open. A failed deliver releases the claim.
func (m *Matcher) Disclose(ctx context.Context, c *domain.Candidate, job *domain.JobPosting, deliver func() error) error {
	claimed, err := m.jobs.ClaimJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !claimed {
		return ErrJobTaken
	}

	if err := deliver(); err != nil {
		if relErr := m.jobs.ReleaseJob(ctx, job.ID); relErr != nil {
			m.logger.Error("failed to release job after undelivered link", zap.String("job_id", job.ID), zap.Error(relErr))
		}
		return err
	}

	if m.notifier != nil {
		if err := m.notifier.CandidateIntroduced(ctx, job, c); err != nil {
			m.logger.Warn("failed to notify job contact", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}

// Job loads the job behind a candidate's current match.
func (m *Matcher) Job(ctx context.Context, id string) (*domain.JobPosting, error) {
	return m.jobs.GetJob(ctx, id)
}
