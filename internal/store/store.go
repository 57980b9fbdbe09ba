// Package store persists candidates, job postings and referral codes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/network-scout/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state changed concurrently")
	ErrAlreadyExists = errors.New("already exists")
)

// Candidates is the profile store.
type Candidates interface {
	CreateCandidate(ctx context.Context, c *domain.Candidate) error
	GetCandidate(ctx context.Context, platformID string) (*domain.Candidate, error)
	// FindByHandle looks a candidate up by normalized handle on any platform.
	FindByHandle(ctx context.Context, handle string) (*domain.Candidate, error)
	ListByState(ctx context.Context, states ...domain.State) ([]*domain.Candidate, error)

	// Transition moves the candidate from -> to only if it is still in from.
	Transition(ctx context.Context, platformID string, from, to domain.State) error
	// Readmit moves a stalled candidate back to gathering and resets its attempt counter.
	Readmit(ctx context.Context, platformID string) error

	// MergeExtracted applies first-writer-wins for scalars and set union for skills.
	// It returns the stored result and whether anything changed.
	MergeExtracted(ctx context.Context, platformID string, incoming domain.Extracted) (domain.Extracted, bool, error)
	SetReferral(ctx context.Context, platformID, referrerID, code string) error
	IncInquireTurns(ctx context.Context, platformID string) (int, error)
	// RecordGatherPass stamps the pass time; without progress it increments gather_attempts,
	// with progress it resets them. It returns the resulting attempt count.
	RecordGatherPass(ctx context.Context, platformID string, progressed bool, at time.Time) (int, error)
	SetJobMatch(ctx context.Context, platformID string, match *domain.JobMatch) error
	ClearJobMatch(ctx context.Context, platformID string) error
	SetEvaluation(ctx context.Context, platformID string, score int, comments string) error
	SetIssue(ctx context.Context, platformID, issue string) error
}

// Jobs stores job postings.
type Jobs interface {
	CreateJob(ctx context.Context, job *domain.JobPosting) error
	GetJob(ctx context.Context, id string) (*domain.JobPosting, error)
	ListOpenJobs(ctx context.Context) ([]*domain.JobPosting, error)
	// ClaimJob flips not_started -> in_progress. It reports false when another candidate got there first.
	ClaimJob(ctx context.Context, id string) (bool, error)
	// ReleaseJob flips in_progress back to not_started after a claim whose link never reached the candidate.
	ReleaseJob(ctx context.Context, id string) error
}

// Referrals stores referral codes.
type Referrals interface {
	InsertCode(ctx context.Context, code domain.ReferralCode) error
	// ConsumeCode marks an unused code as used. Permanent codes are accepted and never consumed.
	// When the stored code has an owner it must equal ownerID.
	ConsumeCode(ctx context.Context, code, ownerID string, at time.Time) error
	CodesByOwner(ctx context.Context, ownerID string) ([]domain.ReferralCode, error)
}

type Store interface {
	Candidates
	Jobs
	Referrals
	Close(ctx context.Context) error
}

func candidateMatchesState(c *domain.Candidate, states []domain.State) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if c.State == s {
			return true
		}
	}
	return false
}

// mergeScalars returns the first-writer-wins merge for github and email.
func mergeScalars(current, incoming domain.Extracted) (domain.Extracted, bool) {
	changed := false
	if current.GithubUsername == "" && incoming.GithubUsername != "" {
		current.GithubUsername = incoming.GithubUsername
		changed = true
	}
	if current.Email == "" && incoming.Email != "" {
		current.Email = incoming.Email
		changed = true
	}
	return current, changed
}

// newSkills returns the entries of incoming not already present (case-insensitively) in existing.
func newSkills(existing, incoming []string) []string {
	merged := domain.UnionSkills(existing, incoming...)
	return merged[len(domain.UnionSkills(existing)):]
}
