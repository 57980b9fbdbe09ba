package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spigell/network-scout/internal/domain"
)

// History renders messages as "author: text" lines for prompt input.
func History(history []domain.Message) string {
	if len(history) == 0 {
		return "(no messages yet)"
	}
	var b strings.Builder
	for i, m := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		author := "them"
		if m.Author == domain.AuthorAgent {
			author = "you"
		}
		fmt.Fprintf(&b, "%s: %s", author, strings.TrimSpace(m.Text))
	}
	return b.String()
}

// UserMessages renders only the candidate's own messages, one per line.
func UserMessages(history []domain.Message) string {
	var lines []string
	for _, m := range history {
		if m.Author == domain.AuthorUser {
			lines = append(lines, "- "+strings.TrimSpace(m.Text))
		}
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

// Extracted renders the known profile fields as compact JSON.
func Extracted(e domain.Extracted) string {
	payload := map[string]any{
		"github_username": orNull(e.GithubUsername),
		"email":           orNull(e.Email),
		"soft":            nonNil(e.SoftSkills),
		"hard":            nonNil(e.HardSkills),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Profile renders what the bot knows about a candidate for matching and pitching.
func Profile(c *domain.Candidate) string {
	if c == nil {
		return "{}"
	}
	payload := map[string]any{
		"name":        c.DisplayName,
		"handle":      c.Handle,
		"github":      orNull(c.Extracted.GithubUsername),
		"soft_skills": nonNil(c.Extracted.SoftSkills),
		"hard_skills": nonNil(c.Extracted.HardSkills),
	}
	if c.FitScore != nil {
		payload["fit_score"] = *c.FitScore
	}
	if c.EvaluationComments != "" {
		payload["evaluation"] = c.EvaluationComments
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Missing renders the missing-field list as prose.
func Missing(fields []string) string {
	if len(fields) == 0 {
		return "nothing, just keep the conversation going"
	}
	return strings.Join(fields, ", ")
}

func orNull(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
