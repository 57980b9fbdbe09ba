package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	PlatformTelegram = "telegram"
	PlatformX        = "x"

	// AcceptThreshold is the minimum fit score that moves a tested candidate to accepted.
	AcceptThreshold = 65
	MinFitScore     = 1
	MaxFitScore     = 100

	DefaultReadySkillCount = 7
)

// Candidate is the canonical record of a person moving through the funnel.
type Candidate struct {
	PlatformID  string `bson:"platform_id" json:"platform_id"`
	Platform    string `bson:"platform" json:"platform"`
	Handle      string `bson:"handle,omitempty" json:"handle,omitempty"`
	DisplayName string `bson:"display_name,omitempty" json:"display_name,omitempty"`
	ChatID      int64  `bson:"chat_id,omitempty" json:"chat_id,omitempty"`
	State       State  `bson:"state" json:"state"`

	ReferrerID   string `bson:"referrer_id,omitempty" json:"referrer_id,omitempty"`
	ReferralCode string `bson:"referral_code,omitempty" json:"referral_code,omitempty"`

	Extracted Extracted `bson:"extracted" json:"extracted"`

	GatherAttempts   int        `bson:"gather_attempts" json:"gather_attempts"`
	InquireTurns     int        `bson:"inquire_turns" json:"inquire_turns"`
	LastGatherPassAt *time.Time `bson:"last_gather_pass_at,omitempty" json:"last_gather_pass_at,omitempty"`

	FitScore           *int   `bson:"fit_score,omitempty" json:"fit_score,omitempty"`
	EvaluationComments string `bson:"evaluation_comments,omitempty" json:"evaluation_comments,omitempty"`

	CurrentJobMatch *JobMatch `bson:"current_job_match,omitempty" json:"current_job_match,omitempty"`

	Issue string `bson:"issue,omitempty" json:"issue,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Extracted holds profile fields derived from conversation.
type Extracted struct {
	GithubUsername string   `bson:"github_username,omitempty" json:"github_username,omitempty"`
	Email          string   `bson:"email,omitempty" json:"email,omitempty"`
	SoftSkills     []string `bson:"soft_skills,omitempty" json:"soft_skills,omitempty"`
	HardSkills     []string `bson:"hard_skills,omitempty" json:"hard_skills,omitempty"`
}

// JobMatch tracks the job currently offered to a candidate.
type JobMatch struct {
	JobID       string    `bson:"job_id" json:"job_id"`
	PresentedAt time.Time `bson:"presented_at" json:"presented_at"`
	MatchReason string    `bson:"match_reason,omitempty" json:"match_reason,omitempty"`
	PendingLink bool      `bson:"pending_link" json:"pending_link"`
	Disclosed   bool      `bson:"disclosed" json:"disclosed"`
}

// PlatformID builds the unique identity key for a platform user.
func PlatformID(platform, id string) string {
	return fmt.Sprintf("%s:%s", platform, strings.ToLower(strings.TrimSpace(id)))
}

// NormalizeHandle strips a leading @ and lower-cases a user handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// Legacy reports whether the candidate came from the seeded X flow.
func (c *Candidate) Legacy() bool {
	return c.Platform == PlatformX
}

// HasActiveMatch reports whether a job has been presented and not cleared.
func (c *Candidate) HasActiveMatch() bool {
	return c.CurrentJobMatch != nil && c.CurrentJobMatch.JobID != ""
}

// SkillCount returns the number of distinct skills across both lists.
func (e Extracted) SkillCount() int {
	return len(e.SoftSkills) + len(e.HardSkills)
}

// HasContact reports whether both the GitHub handle and the email are known.
func (e Extracted) HasContact() bool {
	return strings.TrimSpace(e.GithubUsername) != "" && strings.TrimSpace(e.Email) != ""
}

// ReadyForMatching applies the gathering exit rule.
func (e Extracted) ReadyForMatching(minSkills int) bool {
	if minSkills <= 0 {
		minSkills = DefaultReadySkillCount
	}
	return e.HasContact() && e.SkillCount() >= minSkills
}

// Missing lists the fields still needed, in prompt-friendly names.
func (e Extracted) Missing(minSkills int) []string {
	var missing []string
	if strings.TrimSpace(e.GithubUsername) == "" {
		missing = append(missing, "github_username")
	}
	if strings.TrimSpace(e.Email) == "" {
		missing = append(missing, "email")
	}
	if e.SkillCount() < minSkills {
		missing = append(missing, fmt.Sprintf("skills (%d of %d)", e.SkillCount(), minSkills))
	}
	return missing
}

// NextGatheringState returns the state a gathering candidate should move to, if any.
func NextGatheringState(c *Candidate, minSkills int) (State, bool) {
	if c.State != StateGathering {
		return c.State, false
	}
	if c.Legacy() {
		if c.Extracted.HasContact() {
			return StateTesting, true
		}
		return c.State, false
	}
	if c.Extracted.ReadyForMatching(minSkills) {
		return StateReady, true
	}
	return c.State, false
}

// EvaluationState maps a fit score onto the terminal state.
func EvaluationState(score int) State {
	if score >= AcceptThreshold {
		return StateAccepted
	}
	return StateRejected
}

// ClampFitScore keeps a model-provided score on the 1..100 scale.
func ClampFitScore(score int) int {
	if score < MinFitScore {
		return MinFitScore
	}
	if score > MaxFitScore {
		return MaxFitScore
	}
	return score
}

// UnionSkills merges skill lists case-insensitively, keeping the first spelling seen.
func UnionSkills(existing []string, incoming ...string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			key := strings.ToLower(s)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// SortedSkills returns a sorted copy, used for stable prompts and comparisons.
func SortedSkills(skills []string) []string {
	out := append([]string(nil), skills...)
	sort.Strings(out)
	return out
}
