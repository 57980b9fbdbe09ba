// Package extract derives profile fields (GitHub handle, email, skills) from conversation text.
package extract

import (
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/llm"
)

// Proposal is the extraction block returned by the model.
type Proposal struct {
	GithubUsername string   `json:"github_username"`
	Email          string   `json:"email"`
	Confidence     *float64 `json:"confidence"`
	Soft           []string `json:"soft"`
	Hard           []string `json:"hard"`
}

// Engine runs the deterministic strategies and filters model proposals.
type Engine struct {
	email         []Strategy
	github        []Strategy
	minConfidence float64
	logger        *zap.Logger
}

func New(minConfidence float64, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		email:         EmailStrategies(),
		github:        GithubStrategies(),
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Deterministic extracts the scalar fields still unset in current from text.
func (e *Engine) Deterministic(current domain.Extracted, text string) domain.Extracted {
	var found domain.Extracted
	if strings.TrimSpace(text) == "" {
		return found
	}

	if current.Email == "" {
		if v, name, ok := firstMatch(e.email, text); ok {
			e.logger.Debug("email extracted", zap.String("strategy", name))
			found.Email = v
		}
	}
	if current.GithubUsername == "" {
		if v, name, ok := firstMatch(e.github, text); ok {
			e.logger.Debug("github extracted", zap.String("strategy", name))
			found.GithubUsername = v
		}
	}
	return found
}

// FromProposal converts a model proposal into fields, dropping null-like values,
// invalid handles or addresses, and proposals under the confidence floor.
func (e *Engine) FromProposal(p *Proposal) domain.Extracted {
	var out domain.Extracted
	if p == nil {
		return out
	}
	if p.Confidence != nil && *p.Confidence < e.minConfidence {
		e.logger.Debug("ignoring low-confidence extraction",
			zap.Float64("confidence", *p.Confidence),
			zap.Float64("min_confidence", e.minConfidence),
		)
		return out
	}

	if !llm.IsNull(p.GithubUsername) {
		if v, ok := NormalizeGithub(p.GithubUsername); ok {
			out.GithubUsername = v
		}
	}
	if !llm.IsNull(p.Email) {
		if v, ok := NormalizeEmail(p.Email); ok {
			out.Email = v
		}
	}
	out.SoftSkills = cleanSkills(p.Soft)
	out.HardSkills = cleanSkills(p.Hard)
	return out
}

// Combine layers the deterministic result over the model proposal for one piece of text.
func (e *Engine) Combine(current domain.Extracted, text string, p *Proposal) domain.Extracted {
	det := e.Deterministic(current, text)
	fromModel := e.FromProposal(p)

	combined, _ := Merge(det, fromModel)
	return combined
}

// Merge applies first-writer-wins to scalars and case-insensitive union to skills.
func Merge(current, incoming domain.Extracted) (domain.Extracted, bool) {
	out := current
	changed := false

	if out.GithubUsername == "" && incoming.GithubUsername != "" {
		out.GithubUsername = incoming.GithubUsername
		changed = true
	}
	if out.Email == "" && incoming.Email != "" {
		out.Email = incoming.Email
		changed = true
	}

	soft := domain.UnionSkills(current.SoftSkills, incoming.SoftSkills...)
	hard := domain.UnionSkills(current.HardSkills, incoming.HardSkills...)
	if len(soft) != len(domain.UnionSkills(current.SoftSkills)) || len(hard) != len(domain.UnionSkills(current.HardSkills)) {
		changed = true
	}
	out.SoftSkills = soft
	out.HardSkills = hard

	return out, changed
}

func cleanSkills(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if llm.IsNull(s) {
			continue
		}
		out = append(out, s)
	}
	return domain.UnionSkills(nil, out...)
}
