package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/network-scout/internal/domain"
)

func seedCandidate(t *testing.T, s *Memory, id string, state domain.State) {
	t.Helper()
	require.NoError(t, s.CreateCandidate(context.Background(), &domain.Candidate{
		PlatformID: id,
		Platform:   domain.PlatformTelegram,
		Handle:     "@" + id,
		State:      state,
	}))
}

func TestCreateCandidateIsUnique(t *testing.T) {
	s := NewMemory()
	seedCandidate(t, s, "telegram:1", domain.StatePreReferral)

	err := s.CreateCandidate(context.Background(), &domain.Candidate{PlatformID: "telegram:1"})
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	_, err = s.GetCandidate(context.Background(), "telegram:2")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindByHandleNormalizes(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.CreateCandidate(context.Background(), &domain.Candidate{
		PlatformID: "telegram:7", Handle: "Alice", State: domain.StateGathering,
	}))

	c, err := s.FindByHandle(context.Background(), "@ALICE")
	require.NoError(t, err)
	assert.Equal(t, "telegram:7", c.PlatformID)
	assert.Equal(t, "alice", c.Handle)

	_, err = s.FindByHandle(context.Background(), "bob")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedCandidate(t, s, "telegram:1", domain.StateGathering)

	require.NoError(t, s.Transition(ctx, "telegram:1", domain.StateGathering, domain.StateReady))

	err := s.Transition(ctx, "telegram:1", domain.StateGathering, domain.StateStalled)
	assert.True(t, errors.Is(err, ErrStateConflict))

	var invalid *domain.ErrInvalidTransition
	err = s.Transition(ctx, "telegram:1", domain.StateReady, domain.StateGathering)
	assert.True(t, errors.As(err, &invalid))

	c, err := s.GetCandidate(ctx, "telegram:1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, c.State)

	err = s.Transition(ctx, "telegram:404", domain.StateGathering, domain.StateReady)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConcurrentTransitionHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedCandidate(t, s, "telegram:1", domain.StateGathering)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, to := range []domain.State{domain.StateReady, domain.StateStalled, domain.StateTesting} {
		wg.Add(1)
		go func(to domain.State) {
			defer wg.Done()
			if s.Transition(ctx, "telegram:1", domain.StateGathering, to) == nil {
				wins.Add(1)
			}
		}(to)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestReadmitOnlyFromStalled(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedCandidate(t, s, "telegram:1", domain.StateGathering)

	assert.True(t, errors.Is(s.Readmit(ctx, "telegram:1"), ErrStateConflict))

	_, err := s.RecordGatherPass(ctx, "telegram:1", false, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, "telegram:1", domain.StateGathering, domain.StateStalled))
	require.NoError(t, s.Readmit(ctx, "telegram:1"))

	c, err := s.GetCandidate(ctx, "telegram:1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateGathering, c.State)
	assert.Zero(t, c.GatherAttempts)
}

func TestMergeExtractedFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedCandidate(t, s, "telegram:1", domain.StateGathering)

	got, changed, err := s.MergeExtracted(ctx, "telegram:1", domain.Extracted{
		GithubUsername: "janedoe99",
		HardSkills:     []string{"Go", "rust"},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "janedoe99", got.GithubUsername)

	got, changed, err = s.MergeExtracted(ctx, "telegram:1", domain.Extracted{
		GithubUsername: "other",
		Email:          "jane@example.com",
		HardSkills:     []string{"go", "SQL"},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "janedoe99", got.GithubUsername)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, []string{"Go", "rust", "SQL"}, got.HardSkills)

	_, changed, err = s.MergeExtracted(ctx, "telegram:1", domain.Extracted{GithubUsername: "third", HardSkills: []string{"RUST"}})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRecordGatherPass(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedCandidate(t, s, "telegram:1", domain.StateGathering)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for want := 1; want <= 2; want++ {
		n, err := s.RecordGatherPass(ctx, "telegram:1", false, at)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := s.RecordGatherPass(ctx, "telegram:1", true, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	c, err := s.GetCandidate(ctx, "telegram:1")
	require.NoError(t, err)
	require.NotNil(t, c.LastGatherPassAt)
	assert.True(t, c.LastGatherPassAt.Equal(at.Add(time.Hour)))
}

func TestIncInquireTurns(t *testing.T) {
	s := NewMemory()
	seedCandidate(t, s, "telegram:1", domain.StateReferred)

	n, err := s.IncInquireTurns(context.Background(), "telegram:1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClaimJobOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	job := &domain.JobPosting{CompanyName: "Acme", ContactLink: "https://cal.com/acme"}
	require.NoError(t, s.CreateJob(ctx, job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobNotStarted, job.Status)

	open, err := s.ListOpenJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	claimed, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	open, err = s.ListOpenJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = s.ClaimJob(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReleaseJobReopensClaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	job := &domain.JobPosting{CompanyName: "Acme", ContactLink: "https://cal.com/acme"}
	require.NoError(t, s.CreateJob(ctx, job))

	claimed, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.ReleaseJob(ctx, job.ID))
	open, err := s.ListOpenJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	claimed, err = s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.True(t, errors.Is(s.ReleaseJob(ctx, "missing"), ErrNotFound))
}

func TestConsumeCode(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now()

	require.NoError(t, s.InsertCode(ctx, domain.ReferralCode{Code: "CODE123", OwnerID: "telegram:1"}))
	require.NoError(t, s.InsertCode(ctx, domain.ReferralCode{Code: "joinTheNetwork", Permanent: true}))
	assert.True(t, errors.Is(s.InsertCode(ctx, domain.ReferralCode{Code: "CODE123"}), ErrAlreadyExists))

	assert.True(t, errors.Is(s.ConsumeCode(ctx, "CODE123", "telegram:2", now), ErrNotFound), "owner mismatch")
	require.NoError(t, s.ConsumeCode(ctx, "CODE123", "telegram:1", now))
	assert.True(t, errors.Is(s.ConsumeCode(ctx, "CODE123", "telegram:1", now), ErrNotFound), "already used")

	require.NoError(t, s.ConsumeCode(ctx, "joinTheNetwork", "telegram:1", now))
	require.NoError(t, s.ConsumeCode(ctx, "joinTheNetwork", "telegram:9", now))

	codes, err := s.CodesByOwner(ctx, "telegram:1")
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.True(t, codes[0].Used)
	assert.NotNil(t, codes[0].UsedAt)
}

func TestNewSkills(t *testing.T) {
	assert.Equal(t, []string{"sql"}, newSkills([]string{"Go", "go"}, []string{"GO", "sql"}))
	assert.Empty(t, newSkills([]string{"go"}, nil))
}
