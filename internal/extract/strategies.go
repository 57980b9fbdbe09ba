package extract

import (
	"regexp"
	"strings"
)

// Strategy pulls a single field out of free text.
type Strategy interface {
	Name() string
	Extract(text string) (string, bool)
}

type regexStrategy struct {
	name    string
	pattern *regexp.Regexp
	accept  func(string) (string, bool)
	// rejectNext lists characters that invalidate a capture when they immediately follow it.
	rejectNext string
}

func (s regexStrategy) Name() string { return s.name }

func (s regexStrategy) Extract(text string) (string, bool) {
	for _, idx := range s.pattern.FindAllStringSubmatchIndex(text, -1) {
		if len(idx) < 4 || idx[2] < 0 {
			continue
		}
		if end := idx[3]; end < len(text) && s.rejectNext != "" && strings.IndexByte(s.rejectNext, text[end]) >= 0 {
			continue
		}
		if v, ok := s.accept(text[idx[2]:idx[3]]); ok {
			return v, true
		}
	}
	return "", false
}

const minHandleRunes = 3

const trailingGarbage = ".,;:!?)(\"'`-"

var (
	emailPattern    = regexp.MustCompile(`([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)
	emailExact      = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	githubURL       = regexp.MustCompile(`(?i)github\.com/@?([A-Za-z0-9\-]+)`)
	githubMine      = regexp.MustCompile(`(?i)\bmy\s+github(?:\s+(?:username|handle|user|account|profile|name))?\s*(?:is|:|=|-)?\s*@?([A-Za-z0-9\-]+)`)
	githubIs        = regexp.MustCompile(`(?i)\bgithub\b[^.!?\n]{0,40}?\bis\s+@?([A-Za-z0-9\-]+)`)
	githubLabel     = regexp.MustCompile(`(?i)\b(?:github|gh)\s*[:=]\s*@?([A-Za-z0-9\-]+)`)
	githubUserExact = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9\-]{0,38})$`)
)

// stopWords are tokens the phrasing patterns commonly capture that are never real handles.
var stopWords = map[string]struct{}{
	"is": {}, "the": {}, "and": {}, "my": {}, "a": {}, "an": {}, "not": {}, "on": {}, "at": {},
	"com": {}, "github": {}, "username": {}, "handle": {}, "profile": {}, "account": {},
	"here": {}, "there": {}, "this": {}, "that": {}, "it": {}, "same": {}, "private": {}, "empty": {},
}

// EmailStrategies returns the email strategies in priority order.
func EmailStrategies() []Strategy {
	return []Strategy{
		regexStrategy{name: "email_regex", pattern: emailPattern, accept: acceptEmail},
	}
}

// GithubStrategies returns the GitHub strategies in priority order.
func GithubStrategies() []Strategy {
	return []Strategy{
		regexStrategy{name: "github_url", pattern: githubURL, accept: acceptHandle},
		regexStrategy{name: "github_mine", pattern: githubMine, accept: acceptHandle, rejectNext: "@"},
		regexStrategy{name: "github_is", pattern: githubIs, accept: acceptHandle, rejectNext: "@"},
		regexStrategy{name: "github_label", pattern: githubLabel, accept: acceptHandle, rejectNext: "@"},
	}
}

func acceptEmail(raw string) (string, bool) {
	v := strings.TrimRight(strings.TrimSpace(raw), trailingGarbage)
	if !emailExact.MatchString(v) {
		return "", false
	}
	return v, true
}

func acceptHandle(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(v, "@")
	v = strings.Trim(v, trailingGarbage)
	if len([]rune(v)) < minHandleRunes {
		return "", false
	}
	if _, stop := stopWords[strings.ToLower(v)]; stop {
		return "", false
	}
	if !githubUserExact.MatchString(v) {
		return "", false
	}
	return v, true
}

// NormalizeGithub cleans an externally proposed GitHub handle or profile URL.
func NormalizeGithub(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if m := githubURL.FindStringSubmatch(v); len(m) == 2 {
		v = m[1]
	}
	return acceptHandle(v)
}

// NormalizeEmail cleans an externally proposed email address.
func NormalizeEmail(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(v), "mailto:") {
		v = v[len("mailto:"):]
	}
	return acceptEmail(v)
}

func firstMatch(strategies []Strategy, text string) (string, string, bool) {
	for _, s := range strategies {
		if v, ok := s.Extract(text); ok {
			return v, s.Name(), true
		}
	}
	return "", "", false
}
