package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spigell/network-scout/internal/domain"
)

// Memory is an in-process Store with the same conditional-update semantics as the Mongo one.
type Memory struct {
	mu         sync.Mutex
	candidates map[string]*domain.Candidate
	jobs       map[string]*domain.JobPosting
	codes      map[string]*domain.ReferralCode
	nextJobID  int
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		candidates: make(map[string]*domain.Candidate),
		jobs:       make(map[string]*domain.JobPosting),
		codes:      make(map[string]*domain.ReferralCode),
		now:        time.Now,
	}
}

func (m *Memory) Close(context.Context) error { return nil }

func copyCandidate(c *domain.Candidate) *domain.Candidate {
	out := *c
	out.Extracted.SoftSkills = append([]string(nil), c.Extracted.SoftSkills...)
	out.Extracted.HardSkills = append([]string(nil), c.Extracted.HardSkills...)
	if c.FitScore != nil {
		score := *c.FitScore
		out.FitScore = &score
	}
	if c.LastGatherPassAt != nil {
		at := *c.LastGatherPassAt
		out.LastGatherPassAt = &at
	}
	if c.CurrentJobMatch != nil {
		match := *c.CurrentJobMatch
		out.CurrentJobMatch = &match
	}
	return &out
}

func (m *Memory) CreateCandidate(_ context.Context, c *domain.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.candidates[c.PlatformID]; ok {
		return fmt.Errorf("candidate %s: %w", c.PlatformID, ErrAlreadyExists)
	}

	now := m.now()
	stored := copyCandidate(c)
	stored.Handle = domain.NormalizeHandle(stored.Handle)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.candidates[c.PlatformID] = stored
	return nil
}

func (m *Memory) GetCandidate(_ context.Context, platformID string) (*domain.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.candidates[platformID]
	if !ok {
		return nil, fmt.Errorf("candidate %s: %w", platformID, ErrNotFound)
	}
	return copyCandidate(c), nil
}

func (m *Memory) FindByHandle(_ context.Context, handle string) (*domain.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle = domain.NormalizeHandle(handle)
	var found *domain.Candidate
	for _, c := range m.candidates {
		if handle == "" || c.Handle != handle {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("handle %q: %w", handle, ErrNotFound)
	}
	return copyCandidate(found), nil
}

func (m *Memory) ListByState(_ context.Context, states ...domain.State) ([]*domain.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Candidate
	for _, c := range m.candidates {
		if candidateMatchesState(c, states) {
			out = append(out, copyCandidate(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PlatformID < out[j].PlatformID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// update runs fn on the stored candidate under the lock.
func (m *Memory) update(platformID string, fn func(c *domain.Candidate) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.candidates[platformID]
	if !ok {
		return fmt.Errorf("candidate %s: %w", platformID, ErrNotFound)
	}
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Transition(_ context.Context, platformID string, from, to domain.State) error {
	if _, err := domain.Transition(from, to); err != nil {
		return err
	}
	return m.update(platformID, func(c *domain.Candidate) error {
		if c.State != from {
			return fmt.Errorf("candidate %s is %s, not %s: %w", platformID, c.State, from, ErrStateConflict)
		}
		c.State = to
		return nil
	})
}

func (m *Memory) Readmit(_ context.Context, platformID string) error {
	return m.update(platformID, func(c *domain.Candidate) error {
		if c.State != domain.StateStalled {
			return fmt.Errorf("candidate %s is %s, not %s: %w", platformID, c.State, domain.StateStalled, ErrStateConflict)
		}
		now := m.now()
		c.State = domain.StateGathering
		c.GatherAttempts = 0
		c.LastGatherPassAt = &now
		return nil
	})
}

func (m *Memory) MergeExtracted(_ context.Context, platformID string, incoming domain.Extracted) (domain.Extracted, bool, error) {
	var result domain.Extracted
	var changed bool
	err := m.update(platformID, func(c *domain.Candidate) error {
		merged, scalarChanged := mergeScalars(c.Extracted, incoming)
		soft := newSkills(merged.SoftSkills, incoming.SoftSkills)
		hard := newSkills(merged.HardSkills, incoming.HardSkills)
		merged.SoftSkills = append(merged.SoftSkills, soft...)
		merged.HardSkills = append(merged.HardSkills, hard...)

		changed = scalarChanged || len(soft) > 0 || len(hard) > 0
		c.Extracted = merged
		result = copyCandidate(c).Extracted
		return nil
	})
	return result, changed, err
}

func (m *Memory) SetReferral(_ context.Context, platformID, referrerID, code string) error {
	return m.update(platformID, func(c *domain.Candidate) error {
		c.ReferrerID = referrerID
		c.ReferralCode = code
		return nil
	})
}

func (m *Memory) IncInquireTurns(_ context.Context, platformID string) (int, error) {
	var turns int
	err := m.update(platformID, func(c *domain.Candidate) error {
		c.InquireTurns++
		turns = c.InquireTurns
		return nil
	})
	return turns, err
}

func (m *Memory) RecordGatherPass(_ context.Context, platformID string, progressed bool, at time.Time) (int, error) {
	var attempts int
	err := m.update(platformID, func(c *domain.Candidate) error {
		if progressed {
			c.GatherAttempts = 0
		} else {
			c.GatherAttempts++
		}
		c.LastGatherPassAt = &at
		attempts = c.GatherAttempts
		return nil
	})
	return attempts, err
}

func (m *Memory) SetJobMatch(_ context.Context, platformID string, match *domain.JobMatch) error {
	return m.update(platformID, func(c *domain.Candidate) error {
		if match == nil {
			c.CurrentJobMatch = nil
			return nil
		}
		copied := *match
		c.CurrentJobMatch = &copied
		return nil
	})
}

func (m *Memory) ClearJobMatch(_ context.Context, platformID string) error {
	return m.update(platformID, func(c *domain.Candidate) error {
		c.CurrentJobMatch = nil
		return nil
	})
}

func (m *Memory) SetEvaluation(_ context.Context, platformID string, score int, comments string) error {
	return m.update(platformID, func(c *domain.Candidate) error {
		c.FitScore = &score
		c.EvaluationComments = comments
		return nil
	})
}

func (m *Memory) SetIssue(_ context.Context, platformID, issue string) error {
	return m.update(platformID, func(c *domain.Candidate) error {
		c.Issue = issue
		return nil
	})
}

func (m *Memory) CreateJob(_ context.Context, job *domain.JobPosting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextJobID++
	job.ID = strconv.Itoa(m.nextJobID)
	if job.Status == "" {
		job.Status = domain.JobNotStarted
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*domain.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	out := *job
	return &out, nil
}

func (m *Memory) ListOpenJobs(context.Context) ([]*domain.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.JobPosting
	for _, job := range m.jobs {
		if job.Status == domain.JobNotStarted {
			copied := *job
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ClaimJob(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if job.Status != domain.JobNotStarted {
		return false, nil
	}
	job.Status = domain.JobInProgress
	return true, nil
}

func (m *Memory) ReleaseJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if job.Status == domain.JobInProgress {
		job.Status = domain.JobNotStarted
	}
	return nil
}

func (m *Memory) InsertCode(_ context.Context, code domain.ReferralCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.codes[code.Code]; ok {
		return fmt.Errorf("referral code: %w", ErrAlreadyExists)
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = m.now()
	}
	m.codes[code.Code] = &code
	return nil
}

func (m *Memory) ConsumeCode(_ context.Context, code, ownerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.codes[code]
	if !ok {
		return fmt.Errorf("referral code: %w", ErrNotFound)
	}
	if stored.Permanent {
		return nil
	}
	if stored.Used || (stored.OwnerID != "" && stored.OwnerID != ownerID) {
		return fmt.Errorf("referral code: %w", ErrNotFound)
	}
	stored.Used = true
	stored.UsedAt = &at
	return nil
}

func (m *Memory) CodesByOwner(_ context.Context, ownerID string) ([]domain.ReferralCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.ReferralCode
	for _, code := range m.codes {
		if code.OwnerID == ownerID {
			out = append(out, *code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
